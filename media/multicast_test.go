// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package media

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeTLVs(t *testing.T, buf []byte) map[byte][]byte {
	t.Helper()
	require.NotEmpty(t, buf)
	require.Equal(t, cmdPacketType, buf[0])

	out := map[byte][]byte{}
	rest := buf[1:]
	for len(rest) >= 2 {
		tag, length := rest[0], int(rest[1])
		rest = rest[2:]
		if tag == tagEOL {
			return out
		}
		require.GreaterOrEqual(t, len(rest), length, "tag %d truncated", tag)
		out[tag] = rest[:length]
		rest = rest[length:]
	}
	t.Fatal("command packet missing EOL")
	return nil
}

func TestControlCommandEncode(t *testing.T) {
	cmd := ControlCommand{
		SSRC:        10000000,
		FrequencyHz: 10e6,
		Preset:      "iq",
		SampleRate:  20000,
	}
	tlvs := decodeTLVs(t, cmd.Encode())

	require.Contains(t, tlvs, tagOutputSSRC)
	assert.Equal(t, uint32(10000000), binary.BigEndian.Uint32(tlvs[tagOutputSSRC]))

	require.Contains(t, tlvs, tagRadioFrequency)
	assert.Equal(t, 10e6, math.Float64frombits(binary.BigEndian.Uint64(tlvs[tagRadioFrequency])))

	require.Contains(t, tlvs, tagPreset)
	assert.Equal(t, "iq", string(tlvs[tagPreset]))

	require.Contains(t, tlvs, tagOutputSampleRate)
	assert.Equal(t, uint32(20000), binary.BigEndian.Uint32(tlvs[tagOutputSampleRate]))

	// Command tags differ between encodes so the daemon can drop
	// retransmits.
	a := decodeTLVs(t, cmd.Encode())
	b := decodeTLVs(t, cmd.Encode())
	assert.NotEqual(t, a[tagCommandTag], b[tagCommandTag])
}
