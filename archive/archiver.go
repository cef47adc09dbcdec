// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mijahauan/signal-recorder-sub006/media"
)

// Sidecar is the metadata record written alongside each minute file.
type Sidecar struct {
	BoundaryUTC      int64   `json:"minute_boundary_utc"`
	SSRC             uint32  `json:"ssrc"`
	FrequencyHz      float64 `json:"frequency_hz"`
	SampleRate       uint32  `json:"sample_rate"`
	StartPosition    uint64  `json:"start_position"`
	Epoch            int     `json:"epoch"`
	CompletenessPct  float64 `json:"completeness_pct"`
	GapCount         uint64  `json:"gaps_count"`
	GapSamples       uint64  `json:"gap_samples"`
	PacketsLost      uint64  `json:"packets_lost"`
	PacketLossPct    float64 `json:"packet_loss_pct"`
	CadenceFillStart uint32  `json:"cadence_fill_start"`
	CadenceFillEnd   uint32  `json:"cadence_fill_end"`
	LateStartDelayMS float64 `json:"late_start_delay_ms"`
}

// ArchiverConfig parameterizes one channel's minute archiver.
type ArchiverConfig struct {
	Root       string
	ChannelDir string
	Cutter     CutterConfig
	Format     IQFormat

	// FlushInterval defaults to 60 s. Run does not read it: each
	// record is committed when it is written (temp file plus rename)
	// and no periodic fsync is issued.
	FlushInterval time.Duration
	// WatchdogInterval is how long without a successful write before
	// the watchdog trips (default 120 s); see checkWatchdog.
	WatchdogInterval time.Duration
}

// Archiver consumes one subscriber stream and persists minute records.
// Records are written whole through a temp file and renamed into place,
// so a record either exists completely or not at all.
type Archiver struct {
	cfg    ArchiverConfig
	cutter *Cutter

	lastWrite  time.Time
	writeFails int
	// sawSamples marks stream activity since the last successful
	// write; it decides whether a watchdog trip means a broken writer
	// or just a silent stream.
	sawSamples bool

	// OnMinute, when set, observes every persisted minute. Used by the
	// quality sink.
	OnMinute func(*Minute)

	log zerolog.Logger
}

func NewArchiver(cfg ArchiverConfig) *Archiver {
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 60 * time.Second
	}
	if cfg.WatchdogInterval == 0 {
		cfg.WatchdogInterval = 120 * time.Second
	}
	return &Archiver{
		cfg:    cfg,
		cutter: NewCutter(cfg.Cutter),
		log:    log.With().Str("caller", "archive").Str("channel", cfg.ChannelDir).Logger(),
	}
}

// Run consumes segments until the channel closes or ctx is done. On
// shutdown the current partial minute is flushed as a padded record.
func (ar *Archiver) Run(ctx context.Context, in <-chan media.Segment) error {
	watchdog := time.NewTicker(ar.cfg.WatchdogInterval)
	defer watchdog.Stop()
	ar.lastWrite = time.Now()

	for {
		select {
		case <-ctx.Done():
			ar.finish()
			return nil

		case <-watchdog.C:
			if err := ar.checkWatchdog(); err != nil {
				ar.finish()
				return err
			}

		case seg, ok := <-in:
			if !ok {
				ar.finish()
				return nil
			}
			if len(seg.Samples) > 0 {
				ar.sawSamples = true
			}
			for _, m := range ar.cutter.Push(seg) {
				ar.persist(m)
			}
		}
	}
}

func (ar *Archiver) finish() {
	if m := ar.cutter.Flush(); m != nil {
		ar.persist(m)
	}
}

// checkWatchdog fires whenever no record has been persisted for a
// whole interval, and it always logs the condition. When samples were
// flowing (or writes failed outright) the writer is broken and the
// archiver errors out so the supervisor recreates the channel, which
// rebootstraps the time-base at the next packet. A stream that simply
// went silent only logs; there was nothing to write.
func (ar *Archiver) checkWatchdog() error {
	if time.Since(ar.lastWrite) < ar.cfg.WatchdogInterval {
		return nil
	}
	if ar.writeFails > 0 || ar.sawSamples {
		ar.log.Error().Int("failures", ar.writeFails).Msg("No successful archive write in watchdog interval, recreating channel")
		return fmt.Errorf("archive: no successful write in %s (%d failures)", ar.cfg.WatchdogInterval, ar.writeFails)
	}
	ar.log.Warn().Msg("No archive write in watchdog interval, stream is silent")
	ar.lastWrite = time.Now()
	return nil
}

func (ar *Archiver) persist(m *Minute) {
	if err := ar.writeMinute(m); err != nil {
		ar.writeFails++
		ar.log.Error().Err(err).Int64("minute", m.BoundaryUTC).Msg("Minute record write failed")
		return
	}
	ar.lastWrite = time.Now()
	ar.writeFails = 0
	ar.sawSamples = false
	if ar.OnMinute != nil {
		ar.OnMinute(m)
	}
}

func (ar *Archiver) writeMinute(m *Minute) error {
	if len(m.Samples) != m.SampleCount() {
		return fmt.Errorf("archive: minute %d has %d samples, want %d", m.BoundaryUTC, len(m.Samples), m.SampleCount())
	}

	path := MinutePath(ar.cfg.Root, ar.cfg.ChannelDir, m)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	ww := NewIQWavWriter(f, int(m.SampleRate), ar.cfg.Format)
	if _, err := ww.WriteSamples(m.Samples); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := ww.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := ar.writeSidecar(m, path); err != nil {
		return err
	}

	ar.log.Debug().
		Int64("minute", m.BoundaryUTC).
		Float64("completeness", m.CompletenessPct()).
		Uint64("gaps", m.Quality.GapCount).
		Msg("Minute record persisted")
	return nil
}

func (ar *Archiver) writeSidecar(m *Minute, wavPath string) error {
	sc := Sidecar{
		BoundaryUTC:      m.BoundaryUTC,
		SSRC:             m.SSRC,
		FrequencyHz:      m.FrequencyHz,
		SampleRate:       m.SampleRate,
		StartPosition:    m.StartPosition,
		Epoch:            m.Epoch,
		CompletenessPct:  m.CompletenessPct(),
		GapCount:         m.Quality.GapCount,
		GapSamples:       m.Quality.GapSamples,
		PacketsLost:      m.Quality.PacketsLost,
		PacketLossPct:    m.Quality.PacketLossPct(),
		CadenceFillStart: m.CadenceFillStart,
		CadenceFillEnd:   m.CadenceFillEnd,
		LateStartDelayMS: m.LateStartDelayMS,
	}

	data, err := json.MarshalIndent(&sc, "", "  ")
	if err != nil {
		return err
	}

	tmp := SidecarPath(wavPath) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, SidecarPath(wavPath))
}
