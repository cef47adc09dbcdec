// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/pion/rtp"
)

var (
	ErrPayloadOddLength = errors.New("rtp: payload is not a whole number of IQ pairs")

	errNotIQStream = errors.New("rtp: datagram is not an IQ stream packet")
)

// IQPacket is one radiod stream packet: the fixed RTP fields this
// system keys on plus the raw IQ payload. radiod emits plain 12-byte
// headers; CSRCs, extensions and padding are tolerated on parse but
// carry nothing here. Payload is always an owned copy, never a view
// into the receive buffer.
type IQPacket struct {
	Sequence  uint16
	Timestamp uint32
	SSRC      uint32
	Payload   []byte
}

// ParseIQPacket decodes one datagram into p, reusing p.Payload's
// backing store across calls. The header fields are parsed with
// pion/rtp; the payload is copied out so buf can be reused by the
// next read.
func ParseIQPacket(buf []byte, p *IQPacket) error {
	var h rtp.Header
	n, err := h.Unmarshal(buf)
	if err != nil {
		return err
	}
	if h.Version != 2 {
		return fmt.Errorf("%w: version %d", errNotIQStream, h.Version)
	}

	end := len(buf)
	if h.Padding {
		pad := int(buf[end-1])
		if pad == 0 || n+pad > end {
			return fmt.Errorf("%w: bad padding", errNotIQStream)
		}
		end -= pad
	}

	p.Sequence = h.SequenceNumber
	p.Timestamp = h.Timestamp
	p.SSRC = h.SSRC
	p.Payload = append(p.Payload[:0], buf[n:end]...)
	return nil
}

// PayloadFormat is the IQ encoding radiod puts on the wire.
type PayloadFormat int

const (
	// PayloadInt16 is interleaved big endian int16 I/Q pairs.
	PayloadInt16 PayloadFormat = iota
	// PayloadFloat32 is interleaved big endian float32 I/Q pairs.
	// Amplitude is ~30 dB below the int16 encoding. That is expected
	// and must not be renormalized; thresholds downstream are relative.
	PayloadFloat32
)

func (f PayloadFormat) String() string {
	switch f {
	case PayloadInt16:
		return "int16"
	case PayloadFloat32:
		return "float32"
	}
	return "unknown"
}

// BytesPerSample returns the wire size of one complex sample.
func (f PayloadFormat) BytesPerSample() int {
	if f == PayloadFloat32 {
		return 8
	}
	return 4
}

// SampleCount returns the number of complex samples in payload.
func (f PayloadFormat) SampleCount(payload []byte) int {
	return len(payload) / f.BytesPerSample()
}

const int16Scale = 1.0 / 32768.0

// DecodeIQ decodes an RTP payload into complex samples appended to dst.
// int16 samples are scaled by 1/32768; float32 samples are used as is.
func DecodeIQ(dst []complex64, payload []byte, f PayloadFormat) ([]complex64, error) {
	bps := f.BytesPerSample()
	if len(payload)%bps != 0 {
		return dst, ErrPayloadOddLength
	}

	switch f {
	case PayloadFloat32:
		for off := 0; off+8 <= len(payload); off += 8 {
			i := math.Float32frombits(binary.BigEndian.Uint32(payload[off:]))
			q := math.Float32frombits(binary.BigEndian.Uint32(payload[off+4:]))
			dst = append(dst, complex(i, q))
		}
	default:
		for off := 0; off+4 <= len(payload); off += 4 {
			i := int16(binary.BigEndian.Uint16(payload[off:]))
			q := int16(binary.BigEndian.Uint16(payload[off+2:]))
			dst = append(dst, complex(float32(i)*int16Scale, float32(q)*int16Scale))
		}
	}
	return dst, nil
}

// PayloadIsSilent reports whether every byte of payload is zero.
// radiod emits all-zero payloads when the frontend drops out.
func PayloadIsSilent(payload []byte) bool {
	for _, b := range payload {
		if b != 0 {
			return false
		}
	}
	return true
}
