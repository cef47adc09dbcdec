// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mijahauan/signal-recorder-sub006/archive"
	"github.com/mijahauan/signal-recorder-sub006/media"
	"github.com/mijahauan/signal-recorder-sub006/store"
	"github.com/mijahauan/signal-recorder-sub006/timing"
)

// fusionHub aggregates per-broadcast measurements across channels and
// fuses each minute once. A minute's bucket is closed when a later
// minute shows up, or by the stale sweep when the stream stops.
type fusionHub struct {
	mu sync.Mutex

	fusor *timing.Fusor
	snap  *timing.TimeSnap
	sink  *store.Sink
	root  string

	pending map[int64][]timing.Measurement
	opened  map[int64]time.Time
	fusedTo int64

	log zerolog.Logger
}

func newFusionHub(root string, fusor *timing.Fusor, snap *timing.TimeSnap, log zerolog.Logger) *fusionHub {
	return &fusionHub{
		fusor:   fusor,
		snap:    snap,
		sink:    store.NewSink(root, "SYSTEM"),
		root:    root,
		pending: make(map[int64][]timing.Measurement),
		opened:  make(map[int64]time.Time),
		log:     log.With().Str("caller", "fusion-hub").Logger(),
	}
}

// Submit adds one channel's measurements for a minute and fuses every
// bucket that can no longer grow.
func (h *fusionHub) Submit(minute int64, ms []timing.Measurement) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if minute <= h.fusedTo && h.fusedTo != 0 {
		// Straggler behind the fusion frontier; its minute is gone.
		h.log.Debug().Int64("minute", minute).Msg("Measurement after fusion frontier dropped")
		return
	}
	h.pending[minute] = append(h.pending[minute], ms...)
	if _, ok := h.opened[minute]; !ok {
		h.opened[minute] = time.Now()
	}

	for m := range h.pending {
		if m < minute {
			h.fuseLocked(m)
		}
	}
}

// Sweep fuses buckets older than maxAge regardless of progress, so a
// single-channel deployment still emits.
func (h *fusionHub) Sweep(maxAge time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for m, at := range h.opened {
		if now.Sub(at) >= maxAge {
			h.fuseLocked(m)
		}
	}
}

func (h *fusionHub) Close() {
	h.mu.Lock()
	for m := range h.pending {
		h.fuseLocked(m)
	}
	h.mu.Unlock()
	h.sink.Close()
}

func (h *fusionHub) fuseLocked(minute int64) {
	ms := h.pending[minute]
	delete(h.pending, minute)
	delete(h.opened, minute)
	if minute > h.fusedTo {
		h.fusedTo = minute
	}

	fc := h.fusor.FuseMinute(float64(minute), ms)
	if fc == nil {
		return
	}

	h.sink.WriteFusedClock(fc)
	h.snap.Offer(fc)

	now := float64(time.Now().UnixNano()) / 1e9
	if err := store.WriteGPSDOStatus(h.root, &store.GPSDOStatus{
		UpdatedUTC:    now,
		State:         fc.State,
		DClockFusedMS: fc.DClockFusedMS,
		UncertaintyMS: fc.UncertaintyMS,
		NBroadcasts:   fc.NBroadcasts,
	}); err != nil {
		h.log.Warn().Err(err).Msg("GPSDO status write failed")
	}
	if err := store.WriteTimingStatus(h.root, &store.TimingStatus{
		UpdatedUTC:   now,
		State:        fc.State,
		Calibrations: h.fusor.Snapshot(),
		LastFused:    fc,
	}); err != nil {
		h.log.Warn().Err(err).Msg("Timing status write failed")
	}
}

// analytics is the CPU-bound half of one channel pipeline: it rebuilds
// minutes from the subscriber stream, runs detection, discrimination
// and the clock solver, and persists every outcome.
type analytics struct {
	ch   Channel
	root string

	detector *timing.Detector
	disc     *timing.Discriminator
	solver   *timing.Solver
	hub      *fusionHub
	snap     *timing.TimeSnap

	sink   *store.Sink
	cutter *archive.Cutter

	state     store.AnalyticsState
	asm       *media.Assembler
	lastError string

	log zerolog.Logger
}

func newAnalytics(ch Channel, root string, detCfg timing.DetectorConfig, solver *timing.Solver, hub *fusionHub, snap *timing.TimeSnap, log zerolog.Logger) (*analytics, error) {
	st, err := store.LoadAnalyticsState(root, ch.Key())
	if err != nil {
		return nil, err
	}
	if len(st.Calibrations) > 0 {
		hub.fusor.Restore(st.Calibrations)
	}

	a := &analytics{
		ch:       ch,
		root:     root,
		detector: timing.NewDetector(ch.Family, detCfg),
		solver:   solver,
		hub:      hub,
		snap:     snap,
		sink:     store.NewSink(root, ch.DirName()),
		cutter: archive.NewCutter(archive.CutterConfig{
			SSRC:        ch.SSRC,
			FrequencyHz: ch.FrequencyHz,
			SampleRate:  ch.SampleRate,
		}),
		state: st,
		log:   log.With().Str("caller", "analytics").Str("channel", ch.Key()).Logger(),
	}
	if ch.Family == timing.FamilyWWVShared {
		a.disc = timing.NewDiscriminator()
	}
	return a, nil
}

// run consumes the subscriber stream until it closes or ctx is done.
func (a *analytics) run(ctx context.Context, in <-chan media.Segment, asm *media.Assembler) error {
	a.asm = asm
	defer a.sink.Close()

	for {
		select {
		case <-ctx.Done():
			if m := a.cutter.Flush(); m != nil {
				a.processMinute(m)
			}
			return nil
		case seg, ok := <-in:
			if !ok {
				if m := a.cutter.Flush(); m != nil {
					a.processMinute(m)
				}
				return nil
			}
			if seg.Gap != nil {
				a.sink.WriteGapEvent(*seg.Gap)
			}
			for _, m := range a.cutter.Push(seg) {
				a.processMinute(m)
			}
		}
	}
}

func (a *analytics) processMinute(m *archive.Minute) {
	if m.BoundaryUTC <= a.state.LastMinuteUTC {
		// Already covered before a restart.
		return
	}

	a.sink.WriteMinuteQuality(m)

	audio := a.detector.PrepareAudio(m)
	dets := a.detector.DetectAudio(m, audio)
	for _, d := range dets {
		a.sink.WriteToneDetection(m.BoundaryUTC, d)
	}

	discConf := 1.0
	if a.disc != nil {
		res := a.disc.Analyze(m, audio, a.detector.Rate(), dets)
		a.sink.WriteDiscrimination(res)
		discConf = discriminationWeight(res.Confidence)
	}

	var measurements []timing.Measurement
	var latest *timing.ToneDetection
	for i, d := range dets {
		latest = &dets[i]
		if !d.UseForTimeSnap || a.solver == nil {
			continue
		}
		meas, ok := a.solver.Solve(d, a.ch.FrequencyHz, discConf)
		if !ok {
			continue
		}
		a.sink.WriteClockOffset(meas)
		measurements = append(measurements, meas)
	}

	a.hub.Submit(m.BoundaryUTC, measurements)

	a.state.LastMinuteUTC = m.BoundaryUTC
	a.persistState()
	a.writeStatus(m, latest)
}

func discriminationWeight(c timing.ConfidenceLevel) float64 {
	switch c {
	case timing.ConfidenceHigh:
		return 1.0
	case timing.ConfidenceMedium:
		return 0.7
	}
	return 0.4
}

func (a *analytics) persistState() {
	a.state.Calibrations = a.hub.fusor.Snapshot()
	a.state.TimeSnapMS, _, a.state.TimeSnapValid = a.snap.Current()
	if err := store.SaveAnalyticsState(a.root, &a.state); err != nil {
		a.log.Warn().Err(err).Msg("Analytics state save failed")
	}
}

func (a *analytics) writeStatus(m *archive.Minute, latest *timing.ToneDetection) {
	st := &store.ChannelStatus{
		UpdatedUTC:      float64(time.Now().UnixNano()) / 1e9,
		SSRC:            a.ch.SSRC,
		FrequencyHz:     a.ch.FrequencyHz,
		CompletenessPct: m.CompletenessPct(),
		PacketLossPct:   m.Quality.PacketLossPct(),
		LastMinuteUTC:   m.BoundaryUTC,
		LastError:       a.lastError,
	}
	if a.asm != nil {
		tb := a.asm.TimeBase()
		if tb.Valid() {
			st.TimeBaseAnchorUTC = tb.AnchorUTC()
			st.TimeBaseEpoch = tb.Epoch()
		}
		st.SenderReportNTP = a.asm.LastSenderReport().NTPTime
	}
	if latest != nil {
		st.LatestSNRdB = latest.SNRdB
		st.LatestStation = string(latest.Station)
	}
	st.TimeSnapMS, _, st.TimeSnapValid = a.snap.Current()

	if err := store.WriteChannelStatus(a.root, a.ch.DirName(), st); err != nil {
		a.log.Warn().Err(err).Msg("Channel status write failed")
	}
}
