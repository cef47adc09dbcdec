// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package media

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

var (
	// ErrSubscriberOverflow is a fatal operator condition: a subscriber
	// stopped draining and sample loss under backpressure is not
	// permitted. The supervisor restarts the channel.
	ErrSubscriberOverflow = errors.New("media: subscriber channel overflow")
)

// StreamConfig parameterizes one per-SSRC assembler.
type StreamConfig struct {
	SSRC       uint32
	GroupAddr  string
	Interface  string
	SampleRate uint32
	Format     PayloadFormat

	ResequenceCapacity int
	CatastrophicGap    time.Duration
	Holdover           time.Duration

	// SubscriberMinutes bounds each subscriber channel in minutes of
	// samples (default 8).
	SubscriberMinutes int

	// RetryCeiling bounds transient network-error retries.
	RetryCeiling time.Duration
}

func (c *StreamConfig) withDefaults() StreamConfig {
	out := *c
	if out.SampleRate == 0 {
		out.SampleRate = 20000
	}
	if out.ResequenceCapacity == 0 {
		out.ResequenceCapacity = DefaultResequenceCapacity
	}
	if out.CatastrophicGap == 0 {
		out.CatastrophicGap = 20 * time.Second
	}
	if out.Holdover == 0 {
		out.Holdover = DefaultHoldover
	}
	if out.SubscriberMinutes == 0 {
		out.SubscriberMinutes = 8
	}
	if out.RetryCeiling == 0 {
		out.RetryCeiling = 5 * time.Minute
	}
	return out
}

// Segment is the unit delivered to subscribers: one in-order batch plus
// the accounting context it arrived with. Fill segments carry zeros and
// their GapEvent. Zero-length segments exist only to carry gap markers
// (stream_start, stream_interruption).
type Segment struct {
	Batch
	// Epoch identifies the time-base generation the batch belongs to.
	Epoch int
	// UTC of the first sample in the batch, in the time-base frame.
	UTC float64
	// Quality is the cumulative stream accounting after this batch.
	Quality StreamQuality
	// Gap is set on fill segments and gap markers.
	Gap *GapEvent
}

type subscriber struct {
	name string
	ch   chan Segment
}

// Assembler binds one multicast SSRC, drives the resequencer and
// time-base, and fans out ordered segments to subscribers. Every
// subscriber sees every sample exactly once, in order.
type Assembler struct {
	cfg  StreamConfig
	sess *Session
	rs   *Resequencer
	tb   *TimeBase

	// anchorPos is the stream position at the current epoch's anchor.
	anchorPos uint64

	subs []subscriber

	log zerolog.Logger
}

func NewAssembler(cfg StreamConfig) *Assembler {
	c := cfg.withDefaults()
	rs := NewResequencer(c.SampleRate)
	rs.Capacity = c.ResequenceCapacity
	rs.Holdover = c.Holdover
	rs.CatastrophicSamples = uint32(c.CatastrophicGap.Seconds() * float64(c.SampleRate))

	return &Assembler{
		cfg: c,
		rs:  rs,
		tb:  NewTimeBase(c.SampleRate),
		log: defaultLog.With().Uint32("ssrc", c.SSRC).Logger(),
	}
}

// TimeBase exposes the segmentation time-base (read-only use).
func (a *Assembler) TimeBase() *TimeBase { return a.tb }

// Quality returns the cumulative stream accounting.
func (a *Assembler) Quality() StreamQuality { return a.rs.Quality() }

// LastSenderReport surfaces the daemon's RTCP wall clock, if any.
func (a *Assembler) LastSenderReport() SenderReportInfo {
	if a.sess == nil {
		return SenderReportInfo{}
	}
	return a.sess.LastSenderReport()
}

// Subscribe registers a named subscriber before Run. The channel is
// bounded to SubscriberMinutes of samples; overflow is fatal for the
// channel's stream.
func (a *Assembler) Subscribe(name string) <-chan Segment {
	depth := a.cfg.SubscriberMinutes * 60 * int(a.cfg.SampleRate) / DefaultSamplesPerPacket
	ch := make(chan Segment, depth)
	a.subs = append(a.subs, subscriber{name: name, ch: ch})
	return ch
}

// Run joins the group and receives until ctx is done or a fatal error.
// Transient network errors are retried with exponential backoff up to
// the configured ceiling; configuration errors (bad group, join
// refusal) are returned immediately.
func (a *Assembler) Run(ctx context.Context) error {
	defer a.closeSubs()

	if err := a.connect(); err != nil {
		return err
	}
	defer a.sess.Close()

	a.log.Info().Str("group", a.cfg.GroupAddr).Msg("Stream assembler started")

	buf := make([]byte, RTPBufSize)
	rtcpBuf := make([]byte, RTPBufSize)
	pkt := IQPacket{}

	readTimeout := a.cfg.Holdover / 2
	if readTimeout <= 0 {
		readTimeout = 50 * time.Millisecond
	}

	for {
		if err := ctx.Err(); err != nil {
			a.flushOnStop()
			return nil
		}

		err := a.sess.ReadRTPDeadline(buf, &pkt, time.Now().Add(readTimeout))
		now := time.Now()
		switch {
		case err == nil:
		case errors.Is(err, os.ErrDeadlineExceeded):
			if err := a.publish(a.rs.Tick(now), now); err != nil {
				return err
			}
			a.sess.PollRTCP(rtcpBuf, now.Add(time.Millisecond))
			continue
		case errors.Is(err, net.ErrClosed):
			a.flushOnStop()
			return nil
		case errors.Is(err, errNotIQStream):
			// Stray traffic on the group; not a transport failure.
			a.log.Debug().Err(err).Msg("Undecodable datagram skipped")
			continue
		default:
			a.log.Warn().Err(err).Msg("RTP read failed, reconnecting")
			if err := a.reconnect(ctx); err != nil {
				return err
			}
			continue
		}

		if pkt.SSRC != a.cfg.SSRC {
			continue
		}

		empty := len(pkt.Payload) == 0 || PayloadIsSilent(pkt.Payload)
		var samples []complex64
		if !empty {
			samples, err = DecodeIQ(nil, pkt.Payload, a.cfg.Format)
			if err != nil {
				a.log.Warn().Err(err).Uint16("seq", pkt.Sequence).Msg("Undecodable payload treated as empty")
				samples, empty = nil, true
			}
		}

		res := a.rs.Submit(pkt.Timestamp, samples, empty, now)
		if err := a.publish(res, now); err != nil {
			return err
		}
	}
}

func (a *Assembler) connect() error {
	sess, err := NewSession(a.cfg.GroupAddr, a.cfg.Interface)
	if err != nil {
		return err
	}
	a.sess = sess
	return nil
}

func (a *Assembler) reconnect(ctx context.Context) error {
	a.sess.Close()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = a.cfg.RetryCeiling
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		return a.connect()
	}, backoff.WithContext(bo, ctx))
}

// publish converts a resequencer result into ordered segments and fans
// them out. It owns time-base bootstrap and epoch bookkeeping.
func (a *Assembler) publish(res SubmitResult, now time.Time) error {
	gi := 0
	nextGap := func() *GapEvent {
		if gi >= len(res.Gaps) {
			return nil
		}
		g := res.Gaps[gi]
		gi++
		return &g
	}

	for i := range res.Batches {
		b := res.Batches[i]

		if res.Interrupted && i == res.ResumeBatchIndex {
			// The interruption marker precedes this batch; everything
			// buffered before it has already been paired and emitted.
			if g := nextGap(); g != nil {
				g.TimestampUTC = a.positionUTC(g.PositionSamples)
				if err := a.send(Segment{Epoch: a.tb.Epoch(), UTC: g.TimestampUTC, Quality: a.rs.Quality(), Gap: g}); err != nil {
					return err
				}
			}
			a.tb.Reset()
		}

		if !a.tb.Valid() {
			a.tb.Bootstrap(b.RTPTimestamp, float64(now.UnixNano())/1e9)
			a.anchorPos = b.Position
			start := &GapEvent{
				Source:          GapStreamStart,
				PositionSamples: b.Position,
				TimestampUTC:    a.tb.AnchorUTC(),
			}
			if err := a.send(Segment{Epoch: a.tb.Epoch(), UTC: start.TimestampUTC, Quality: a.rs.Quality(), Gap: start}); err != nil {
				return err
			}
			a.log.Info().Int("epoch", a.tb.Epoch()).Float64("utc", a.tb.AnchorUTC()).Msg("Time-base bootstrapped")
		}

		seg := Segment{
			Batch:   b,
			Epoch:   a.tb.Epoch(),
			UTC:     a.positionUTC(b.Position),
			Quality: a.rs.Quality(),
		}
		if b.Fill {
			g := nextGap()
			if g != nil {
				g.TimestampUTC = seg.UTC
				seg.Gap = g
			}
		}
		if err := a.send(seg); err != nil {
			return err
		}
	}

	// Trailing gaps with no batch (interruption with unknown span).
	for g := nextGap(); g != nil; g = nextGap() {
		g.TimestampUTC = a.positionUTC(g.PositionSamples)
		if err := a.send(Segment{Epoch: a.tb.Epoch(), UTC: g.TimestampUTC, Quality: a.rs.Quality(), Gap: g}); err != nil {
			return err
		}
		if g.Source == GapStreamInterruption {
			a.tb.Reset()
		}
	}
	return nil
}

func (a *Assembler) positionUTC(pos uint64) float64 {
	if !a.tb.Valid() {
		return 0
	}
	return a.tb.AnchorUTC() + float64(int64(pos)-int64(a.anchorPos))/float64(a.cfg.SampleRate)
}

func (a *Assembler) send(seg Segment) error {
	for _, s := range a.subs {
		select {
		case s.ch <- seg:
		default:
			a.log.Error().Str("subscriber", s.name).Msg("Subscriber overflow, channel must restart")
			return fmt.Errorf("%w: %s", ErrSubscriberOverflow, s.name)
		}
	}
	return nil
}

func (a *Assembler) flushOnStop() {
	now := time.Now()
	res := a.rs.Flush()
	if err := a.publish(res, now); err != nil {
		a.log.Warn().Err(err).Msg("Flush publish failed")
	}
	a.closeSubs()
}

func (a *Assembler) closeSubs() {
	for _, s := range a.subs {
		if s.ch != nil {
			close(s.ch)
		}
	}
	a.subs = nil
}
