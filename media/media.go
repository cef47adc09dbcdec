// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

// Package media implements the RTP data plane: multicast receive,
// packet resequencing, gap accounting and the RTP to UTC time-base.
package media

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// RTPBufSize is the receive buffer size. Keep at least MTU.
	RTPBufSize = 1500

	// RTPDebug dumps every received RTP header. Very verbose.
	RTPDebug  = false
	RTCPDebug = false
)

var defaultLog = log.With().Str("caller", "media").Logger()

// SetLogger replaces the package logger.
func SetLogger(l zerolog.Logger) {
	defaultLog = l
}
