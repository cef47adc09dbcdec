// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIQWavWriterInt16(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec.wav")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	require.NoError(t, err)

	samples := []complex64{
		complex(0.5, -0.5),
		complex(1.0, 0),
		complex(0, -1.0),
	}
	w := NewIQWavWriter(f, 20000, IQInt16)
	_, err = w.WriteSamples(samples)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	// The container must parse as a plain stereo PCM WAV.
	rf, err := os.Open(path)
	require.NoError(t, err)
	defer rf.Close()

	p := riff.New(rf)
	require.NoError(t, p.ParseHeaders())
	for {
		chunk, err := p.NextChunk()
		require.NoError(t, err)
		if chunk.ID != riff.FmtID {
			chunk.Drain()
			continue
		}
		require.NoError(t, chunk.DecodeWavHeader(p))
		break
	}
	assert.Equal(t, uint32(20000), p.SampleRate)
	assert.Equal(t, uint16(2), p.NumChannels)
	assert.Equal(t, uint16(16), p.BitsPerSample)

	rf2, err := os.Open(path)
	require.NoError(t, err)
	defer rf2.Close()
	dec := wav.NewDecoder(rf2)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	require.Equal(t, 6, len(buf.Data))
	assert.Equal(t, 16384, buf.Data[0]) // I of 0.5
	assert.Equal(t, -16384, buf.Data[1])

	// And through our own reader.
	got, rate, err := ReadIQFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(20000), rate)
	require.Len(t, got, 3)
	assert.InDelta(t, 0.5, float64(real(got[0])), 0.001)
	assert.InDelta(t, -1.0, float64(imag(got[2])), 0.001)
}

func TestIQWavWriterFloat32RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec32.wav")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	require.NoError(t, err)

	// Typical float32 stream levels, ~30 dB below int16 full scale.
	samples := []complex64{
		complex(0.001, -0.0005),
		complex(-0.0322, 0.0217),
	}
	w := NewIQWavWriter(f, 20000, IQFloat32)
	_, err = w.WriteSamples(samples)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	got, rate, err := ReadIQFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(20000), rate)
	assert.Equal(t, samples, got)
}

func TestReadIQFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav at all, clearly not even close to 44 bytes of header"), 0o644))
	_, _, err := ReadIQFile(path)
	assert.Error(t, err)
}
