// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

// Package archive persists the reconstructed sample stream as
// immutable per-minute IQ records with quality metadata.
package archive

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// IQFormat selects the on-disk sample encoding of a minute record.
type IQFormat int

const (
	// IQInt16 stores PCM16 pairs; samples are scaled by 32767 on write.
	IQInt16 IQFormat = iota
	// IQFloat32 stores IEEE float32 pairs verbatim.
	IQFloat32
)

func (f IQFormat) String() string {
	if f == IQFloat32 {
		return "float32"
	}
	return "int16"
}

func (f IQFormat) bitDepth() int {
	if f == IQFloat32 {
		return 32
	}
	return 16
}

func (f IQFormat) wavFormat() int {
	if f == IQFloat32 {
		return 3 // IEEE float
	}
	return 1 // PCM
}

// IQWavWriter writes complex samples as a 2-channel WAV (I left,
// Q right). The header is rewritten with the final sizes on Close.
type IQWavWriter struct {
	SampleRate int
	Format     IQFormat

	W              io.WriteSeeker
	headersWritten bool
	dataSize       int64
}

func NewIQWavWriter(w io.WriteSeeker, sampleRate int, format IQFormat) *IQWavWriter {
	return &IQWavWriter{
		SampleRate: sampleRate,
		Format:     format,
		W:          w,
	}
}

// WriteSamples appends samples. Returns bytes written.
func (ww *IQWavWriter) WriteSamples(samples []complex64) (int, error) {
	if !ww.headersWritten {
		if _, err := ww.writeHeader(); err != nil {
			return 0, err
		}
		ww.headersWritten = true
	}

	var buf []byte
	switch ww.Format {
	case IQFloat32:
		buf = make([]byte, 8*len(samples))
		for i, s := range samples {
			binary.LittleEndian.PutUint32(buf[8*i:], math.Float32bits(real(s)))
			binary.LittleEndian.PutUint32(buf[8*i+4:], math.Float32bits(imag(s)))
		}
	default:
		buf = make([]byte, 4*len(samples))
		for i, s := range samples {
			binary.LittleEndian.PutUint16(buf[4*i:], uint16(clampInt16(real(s))))
			binary.LittleEndian.PutUint16(buf[4*i+2:], uint16(clampInt16(imag(s))))
		}
	}

	n, err := ww.W.Write(buf)
	ww.dataSize += int64(n)
	return n, err
}

func clampInt16(v float32) int16 {
	scaled := float64(v) * 32767.0
	if scaled > 32767 {
		return 32767
	}
	if scaled < -32768 {
		return -32768
	}
	return int16(math.Round(scaled))
}

func (ww *IQWavWriter) writeHeader() (int, error) {
	const (
		headerSize   = 44
		fmtChunkSize = 16
	)

	numChannels := 2
	bitsPerSample := ww.Format.bitDepth()
	sampleRate := ww.SampleRate
	fileSize := ww.dataSize + headerSize - 8

	header := make([]byte, headerSize)
	copy(header[0:4], []byte("RIFF"))
	binary.LittleEndian.PutUint32(header[4:8], uint32(fileSize))
	copy(header[8:12], []byte("WAVE"))

	copy(header[12:16], []byte("fmt "))
	binary.LittleEndian.PutUint32(header[16:20], fmtChunkSize)
	binary.LittleEndian.PutUint16(header[20:22], uint16(ww.Format.wavFormat()))
	binary.LittleEndian.PutUint16(header[22:24], uint16(numChannels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*bitsPerSample*numChannels/8))
	binary.LittleEndian.PutUint16(header[32:34], uint16(bitsPerSample*numChannels/8))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample))

	copy(header[36:40], []byte("data"))
	binary.LittleEndian.PutUint32(header[40:44], uint32(ww.dataSize))

	return ww.W.Write(header)
}

// Close finalizes the header with the accumulated data size.
func (ww *IQWavWriter) Close() error {
	if _, err := ww.W.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := ww.writeHeader()
	return err
}

// ReadIQFile loads a minute record back into complex samples.
func ReadIQFile(path string) ([]complex64, uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("archive: %s is not a WAV record", path)
	}

	format := int(binary.LittleEndian.Uint16(data[20:22]))
	numChans := int(binary.LittleEndian.Uint16(data[22:24]))
	sampleRate := binary.LittleEndian.Uint32(data[24:28])
	bits := int(binary.LittleEndian.Uint16(data[34:36]))
	dataSize := int(binary.LittleEndian.Uint32(data[40:44]))

	if numChans != 2 {
		return nil, 0, fmt.Errorf("archive: %s has %d channels, want 2", path, numChans)
	}

	body := data[44:]
	if dataSize < len(body) {
		body = body[:dataSize]
	}

	switch {
	case format == 3 && bits == 32:
		n := len(body) / 8
		out := make([]complex64, n)
		for i := 0; i < n; i++ {
			re := math.Float32frombits(binary.LittleEndian.Uint32(body[8*i:]))
			im := math.Float32frombits(binary.LittleEndian.Uint32(body[8*i+4:]))
			out[i] = complex(re, im)
		}
		return out, sampleRate, nil
	case format == 1 && bits == 16:
		n := len(body) / 4
		out := make([]complex64, n)
		for i := 0; i < n; i++ {
			re := float32(int16(binary.LittleEndian.Uint16(body[4*i:]))) / 32767.0
			im := float32(int16(binary.LittleEndian.Uint16(body[4*i+2:]))) / 32767.0
			out[i] = complex(re, im)
		}
		return out, sampleRate, nil
	}
	return nil, 0, fmt.Errorf("archive: %s has unsupported encoding format=%d bits=%d", path, format, bits)
}
