// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package recorder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mijahauan/signal-recorder-sub006/archive"
	"github.com/mijahauan/signal-recorder-sub006/config"
	"github.com/mijahauan/signal-recorder-sub006/media"
	"github.com/mijahauan/signal-recorder-sub006/timing"
)

// ErrChannelFailed reports a channel that died after all retries.
var ErrChannelFailed = errors.New("recorder: channel failed")

// Recorder supervises one pipeline per enabled channel plus the shared
// fusion state. Per-channel state is owned here; analytics hold
// read-only handles.
type Recorder struct {
	cfg config.Config

	fusor *timing.Fusor
	snap  *timing.TimeSnap
	hub   *fusionHub

	solver *timing.Solver

	log zerolog.Logger
}

func New(cfg config.Config) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fusorCfg := timing.DefaultFusorConfig()
	if cfg.Timing.FusionAlpha > 0 {
		fusorCfg.Alpha = cfg.Timing.FusionAlpha
	}
	fusor := timing.NewFusor(fusorCfg)
	snap := timing.NewTimeSnap(cfg.Timing.TimeSnapErrorMS)

	r := &Recorder{
		cfg:   cfg,
		fusor: fusor,
		snap:  snap,
		log:   log.With().Str("caller", "recorder").Logger(),
	}
	r.hub = newFusionHub(cfg.DataRoot, fusor, snap, r.log)

	if cfg.Station.Grid != "" {
		solver, err := timing.NewSolver(cfg.Station.Grid)
		if err != nil {
			return nil, err
		}
		r.solver = solver
	} else {
		r.log.Warn().Msg("No station grid configured, clock solving disabled")
	}

	return r, nil
}

// Run starts every enabled channel and blocks until ctx is done or a
// channel exhausts its retries.
func (r *Recorder) Run(ctx context.Context) error {
	defer r.hub.Close()

	g, ctx := errgroup.WithContext(ctx)

	for _, cc := range r.cfg.EnabledChannels() {
		ch := NewChannel(cc)
		g.Go(func() error {
			return r.superviseChannel(ctx, ch)
		})
	}

	// Stale fusion buckets are swept so single-channel deployments
	// still emit fused values.
	g.Go(func() error {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				r.hub.Sweep(90 * time.Second)
			}
		}
	})

	return g.Wait()
}

// superviseChannel runs one channel pipeline, restarting it on
// recoverable failures (subscriber overflow, stream errors) with
// exponential backoff. Configuration errors are fatal immediately.
func (r *Recorder) superviseChannel(ctx context.Context, ch Channel) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // the retry counter below bounds us
	retries := 0

	for {
		err := r.runChannelOnce(ctx, ch)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		if isConfigError(err) {
			r.log.Error().Err(err).Str("channel", ch.Key()).Msg("Channel failed on configuration, not retrying")
			return fmt.Errorf("%w: %s: %v", ErrChannelFailed, ch.Key(), err)
		}

		retries++
		if retries > 10 {
			r.log.Error().Err(err).Str("channel", ch.Key()).Msg("Channel retries exhausted")
			return fmt.Errorf("%w: %s: %v", ErrChannelFailed, ch.Key(), err)
		}

		wait := bo.NextBackOff()
		r.log.Warn().Err(err).Str("channel", ch.Key()).Dur("backoff", wait).Msg("Channel restarting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (r *Recorder) runChannelOnce(ctx context.Context, ch Channel) error {
	capture := r.cfg.Capture

	format := media.PayloadInt16
	if ch.Float32 {
		format = media.PayloadFloat32
	}
	asm := media.NewAssembler(media.StreamConfig{
		SSRC:               ch.SSRC,
		GroupAddr:          r.cfg.DataAddr,
		Interface:          capture.Interface,
		SampleRate:         ch.SampleRate,
		Format:             format,
		ResequenceCapacity: capture.ResequenceBuffer,
		CatastrophicGap:    time.Duration(capture.CatastrophicGapSec * float64(time.Second)),
		Holdover:           time.Duration(capture.HoldoverMS) * time.Millisecond,
		SubscriberMinutes:  capture.SubscriberMinutes,
	})

	archSub := asm.Subscribe("archiver")
	anaSub := asm.Subscribe("analytics")

	arch := archive.NewArchiver(archive.ArchiverConfig{
		Root:       r.cfg.DataRoot,
		ChannelDir: ch.DirName(),
		Cutter: archive.CutterConfig{
			SSRC:        ch.SSRC,
			FrequencyHz: ch.FrequencyHz,
			SampleRate:  ch.SampleRate,
		},
		Format: archiveFormat(ch),
	})

	detCfg := timing.DefaultDetectorConfig()
	if r.cfg.Timing.TemplateSeconds > 0 {
		detCfg.TemplateSeconds = r.cfg.Timing.TemplateSeconds
	}
	ana, err := newAnalytics(ch, r.cfg.DataRoot, detCfg, r.solver, r.hub, r.snap, r.log)
	if err != nil {
		return err
	}

	if err := r.requestChannel(ch); err != nil {
		r.log.Warn().Err(err).Str("channel", ch.Key()).Msg("Channel create command failed")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return asm.Run(gctx) })
	g.Go(func() error { return arch.Run(gctx, archSub) })
	g.Go(func() error { return ana.run(gctx, anaSub, asm) })
	g.Go(func() error { return r.confirmChannel(gctx, ch, asm) })

	return g.Wait()
}

func archiveFormat(ch Channel) archive.IQFormat {
	if ch.Float32 {
		return archive.IQFloat32
	}
	return archive.IQInt16
}

// requestChannel fires the daemon control command for this SSRC.
// Fire-and-forget; confirmation is the SSRC appearing in the stream.
func (r *Recorder) requestChannel(ch Channel) error {
	if r.cfg.StatusAddr == "" || ch.Preset == "" {
		return nil
	}
	raddr, err := net.ResolveUDPAddr("udp4", r.cfg.StatusAddr)
	if err != nil {
		return err
	}
	return media.SendControl(raddr, &media.ControlCommand{
		SSRC:        ch.SSRC,
		FrequencyHz: ch.FrequencyHz,
		Preset:      ch.Preset,
		SampleRate:  ch.SampleRate,
	})
}

// confirmChannel reports channel-create failure when no packet for our
// SSRC shows up within the timeout. Reporting only; the receive loop
// keeps waiting.
func (r *Recorder) confirmChannel(ctx context.Context, ch Channel, asm *media.Assembler) error {
	if r.cfg.StatusAddr == "" || ch.Preset == "" {
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(30 * time.Second):
	}
	if asm.Quality().PacketsReceived == 0 {
		r.log.Error().Str("channel", ch.Key()).Uint32("ssrc", ch.SSRC).
			Msg("Channel create not confirmed, no packets for SSRC")
	}
	return nil
}

func isConfigError(err error) bool {
	if errors.Is(err, config.ErrInvalidConfig) {
		return true
	}
	// Multicast join refusals and address errors surface as net ops.
	var opErr *net.OpError
	if errors.As(err, &opErr) && (opErr.Op == "listen" || opErr.Op == "joingroup") {
		return true
	}
	var addrErr *net.AddrError
	return errors.As(err, &addrErr)
}
