// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mijahauan/signal-recorder-sub006/media"
)

func TestArchiverWritesMinuteRecords(t *testing.T) {
	root := t.TempDir()
	rate := uint32(2000)

	ar := NewArchiver(ArchiverConfig{
		Root:       root,
		ChannelDir: "WWV_10_MHz",
		Cutter:     CutterConfig{SSRC: 9, FrequencyHz: 10e6, SampleRate: rate},
		Format:     IQInt16,
	})

	var persisted []*Minute
	ar.OnMinute = func(m *Minute) { persisted = append(persisted, m) }

	in := make(chan media.Segment, 4096)
	base := 1700000040.0
	var q media.StreamQuality
	pos := uint64(0)
	// One full minute plus a bit of the next, then shutdown.
	for pos < uint64(rate)*70 {
		n := 320
		q.SamplesDelivered += uint64(n)
		q.SamplesExpected += uint64(n)
		in <- media.Segment{
			Batch:   media.Batch{Position: pos, Samples: filled(n, 0.25)},
			Epoch:   1,
			UTC:     base + float64(pos)/float64(rate),
			Quality: q,
		}
		pos += uint64(n)
	}
	close(in)

	require.NoError(t, ar.Run(context.Background(), in))

	// The completed minute plus the flushed partial.
	require.Len(t, persisted, 2)
	assert.Equal(t, int64(1700000040), persisted[0].BoundaryUTC)
	assert.Equal(t, int64(1700000100), persisted[1].BoundaryUTC)
	assert.NotZero(t, persisted[1].CadenceFillEnd)

	wavPath := MinutePath(root, "WWV_10_MHz", persisted[0])
	samples, gotRate, err := ReadIQFile(wavPath)
	require.NoError(t, err)
	assert.Equal(t, rate, gotRate)
	assert.Equal(t, int(rate)*60, len(samples))

	var sc Sidecar
	data, err := os.ReadFile(SidecarPath(wavPath))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &sc))
	assert.Equal(t, int64(1700000040), sc.BoundaryUTC)
	assert.Equal(t, 100.0, sc.CompletenessPct)
	assert.Equal(t, uint32(9), sc.SSRC)

	// Layout: raw_archive/{CH}/{YYYYMMDD}/{YYYY-MM-DDTHH}/
	rel, err := filepath.Rel(root, wavPath)
	require.NoError(t, err)
	assert.Contains(t, rel, filepath.Join("raw_archive", "WWV_10_MHz", "20231114"))
}

func TestArchiverWatchdogTripsOnFailingWriter(t *testing.T) {
	dir := t.TempDir()
	// The data root is a plain file, so every record write fails.
	root := filepath.Join(dir, "root")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))

	rate := uint32(2000)
	ar := NewArchiver(ArchiverConfig{
		Root:             root,
		ChannelDir:       "WWV_10_MHz",
		Cutter:           CutterConfig{SSRC: 1, FrequencyHz: 10e6, SampleRate: rate},
		Format:           IQInt16,
		WatchdogInterval: 50 * time.Millisecond,
	})

	in := make(chan media.Segment, 8)
	in <- media.Segment{
		Batch:   media.Batch{Position: 0, Samples: filled(int(rate)*60, 1)},
		Epoch:   1,
		UTC:     1700000040.0,
		Quality: media.StreamQuality{SamplesDelivered: uint64(rate) * 60, SamplesExpected: uint64(rate) * 60},
	}
	// One sample into the next minute completes and persists (fails).
	in <- media.Segment{
		Batch: media.Batch{Position: uint64(rate) * 60, Samples: filled(320, 1)},
		Epoch: 1,
		UTC:   1700000100.0,
	}

	done := make(chan error, 1)
	go func() { done <- ar.Run(context.Background(), in) }()

	select {
	case err := <-done:
		require.Error(t, err, "a stalled writer must recreate the channel")
	case <-time.After(5 * time.Second):
		t.Fatal("watchdog never fired")
	}
}

func TestArchiverWatchdogToleratesSilentStream(t *testing.T) {
	ar := NewArchiver(ArchiverConfig{
		Root:             t.TempDir(),
		ChannelDir:       "WWV_10_MHz",
		Cutter:           CutterConfig{SSRC: 1, FrequencyHz: 10e6, SampleRate: 2000},
		Format:           IQInt16,
		WatchdogInterval: 30 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan media.Segment)
	done := make(chan error, 1)
	go func() { done <- ar.Run(ctx, in) }()

	// Several watchdog intervals with no data must not kill the run.
	time.Sleep(150 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("archiver exited on a silent stream: %v", err)
	default:
	}
	cancel()
	require.NoError(t, <-done)
}

func TestArchiverShutdownFlushesPartial(t *testing.T) {
	root := t.TempDir()
	rate := uint32(2000)

	ar := NewArchiver(ArchiverConfig{
		Root:       root,
		ChannelDir: "CHU_7_MHz",
		Cutter:     CutterConfig{SSRC: 3, FrequencyHz: 7.85e6, SampleRate: rate},
		Format:     IQFloat32,
	})

	var persisted []*Minute
	ar.OnMinute = func(m *Minute) { persisted = append(persisted, m) }

	in := make(chan media.Segment, 16)
	in <- media.Segment{
		Batch:   media.Batch{Position: 0, Samples: filled(int(rate)*10, 0.001)},
		Epoch:   1,
		UTC:     1700000040.0,
		Quality: media.StreamQuality{SamplesDelivered: uint64(rate) * 10, SamplesExpected: uint64(rate) * 10},
	}
	close(in)

	require.NoError(t, ar.Run(context.Background(), in))

	require.Len(t, persisted, 1)
	assert.Equal(t, uint32(rate)*50, persisted[0].CadenceFillEnd)

	samples, _, err := ReadIQFile(MinutePath(root, "CHU_7_MHz", persisted[0]))
	require.NoError(t, err)
	assert.Equal(t, complex64(complex(0.001, 0)), samples[0])
}