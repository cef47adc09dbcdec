// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestTimeBaseConversion(t *testing.T) {
	tb := NewTimeBase(20000)
	tb.Bootstrap(1000, 1700000000.0)

	assert.Equal(t, 1700000000.0, tb.ToUTC(1000))
	assert.Equal(t, 1700000001.0, tb.ToUTC(1000+20000))
	var zero uint32
	assert.Equal(t, 1699999999.0, tb.ToUTC(zero+1000-20000))

	assert.Equal(t, int64(20000), tb.SampleIndexForUTC(1700000001.0))
	assert.Equal(t, int64(-20000), tb.SampleIndexForUTC(1699999999.0))
}

func TestTimeBaseWrap(t *testing.T) {
	tb := NewTimeBase(20000)

	// Anchor 1000 packets of 320 samples before the 32-bit wrap.
	var zero uint32
	anchor := zero - 1000*320
	tb.Bootstrap(anchor, 1700000000.0)

	prev := tb.ToUTC(anchor)
	ts := anchor
	for i := 0; i < 5000; i++ {
		ts += 320
		utc := tb.ToUTC(ts)
		require.Greater(t, utc, prev, "ToUTC must be strictly increasing across the wrap")
		prev = utc
	}

	// Exactly one minute after the anchor, the wrap notwithstanding.
	assert.InDelta(t, 1700000060.0, tb.ToUTC(anchor+60*20000), 1e-9)
}

func TestTimeBaseEpoch(t *testing.T) {
	tb := NewTimeBase(20000)
	require.False(t, tb.Valid())

	tb.Bootstrap(0, 100.0)
	assert.Equal(t, 1, tb.Epoch())
	assert.True(t, tb.Valid())

	tb.Reset()
	assert.False(t, tb.Valid())

	tb.Bootstrap(500, 200.0)
	assert.Equal(t, 2, tb.Epoch())
	assert.Equal(t, 200.0, tb.ToUTC(500))
}

// For any two timestamps within one epoch the UTC difference equals the
// signed 32-bit timestamp difference over the sample rate. Both are
// drawn within 2^30 samples of the anchor, so their distance fits a
// signed 32-bit difference; the anchor is arbitrary, so the counter
// may wrap between them.
func TestTimeBaseWrapSafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rate := uint32(20000)
		tb := NewTimeBase(rate)
		anchor := rapid.Uint32().Draw(t, "anchor")
		tb.Bootstrap(anchor, 1700000000.0)

		t1 := anchor + uint32(rapid.Int32Range(-1<<30, 1<<30-1).Draw(t, "t1 offset"))
		t2 := anchor + uint32(rapid.Int32Range(-1<<30, 1<<30-1).Draw(t, "t2 offset"))

		want := float64(int32(t2-t1)) / float64(rate)
		got := tb.ToUTC(t2) - tb.ToUTC(t1)
		require.InDelta(t, want, got, 1e-6)
	})
}
