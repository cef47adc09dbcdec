// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package media

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/rtcp"
	"github.com/rs/zerolog"
)

// SenderReportInfo is the most recent RTCP sender report seen on the
// group. radiod stamps its wall clock into SRs; we keep it purely as a
// diagnostic cross-check of the time-base and never feed it into
// segmentation.
type SenderReportInfo struct {
	NTPTime  uint64
	RTPTime  uint32
	Packets  uint32
	Octets   uint32
	Received time.Time
}

// Session owns the sockets of one multicast group: RTP on the group
// port, RTCP on port+1. Reads are deadline-bounded so receive loops can
// observe cancellation.
type Session struct {
	Group *net.UDPAddr

	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn

	lastSR SenderReportInfo

	log zerolog.Logger
}

// NewSession joins the group for both RTP and RTCP. A failed RTCP join
// is not fatal: radiod does not always emit reports.
func NewSession(groupAddr string, ifname string) (*Session, error) {
	group, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve group %q: %w", groupAddr, err)
	}

	ifi, err := ResolveInterface(ifname)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", ifname, err)
	}

	s := &Session{
		Group: group,
		log:   defaultLog.With().Str("group", groupAddr).Logger(),
	}

	s.rtpConn, err = ListenMulticast(group, ifi)
	if err != nil {
		return nil, err
	}

	rtcpAddr := &net.UDPAddr{IP: group.IP, Port: group.Port + 1}
	s.rtcpConn, err = ListenMulticast(rtcpAddr, ifi)
	if err != nil {
		s.log.Warn().Err(err).Msg("RTCP group join failed, continuing without sender reports")
		s.rtcpConn = nil
	}
	return s, nil
}

func (s *Session) Close() error {
	var e1, e2 error
	if s.rtcpConn != nil {
		e1 = s.rtcpConn.Close()
	}
	if s.rtpConn != nil {
		e2 = s.rtpConn.Close()
	}
	return errors.Join(e1, e2)
}

// ReadRTPDeadline reads one stream packet into pkt, reusing buf and
// pkt.Payload. It returns os.ErrDeadlineExceeded (wrapped) on timeout.
func (s *Session) ReadRTPDeadline(buf []byte, pkt *IQPacket, deadline time.Time) error {
	if err := s.rtpConn.SetReadDeadline(deadline); err != nil {
		return err
	}
	n, _, err := s.rtpConn.ReadFrom(buf)
	if err != nil {
		return err
	}
	if err := ParseIQPacket(buf[:n], pkt); err != nil {
		if errors.Is(err, errNotIQStream) {
			return err
		}
		return fmt.Errorf("%w: %v", errNotIQStream, err)
	}
	if RTPDebug {
		s.log.Debug().
			Uint32("ssrc", pkt.SSRC).
			Uint16("seq", pkt.Sequence).
			Uint32("ts", pkt.Timestamp).
			Int("payload", len(pkt.Payload)).
			Msg("RTP read")
	}
	return nil
}

// PollRTCP drains at most one RTCP datagram and records any sender
// report in it. Non-blocking up to deadline; returns false when no
// report was seen.
func (s *Session) PollRTCP(buf []byte, deadline time.Time) bool {
	if s.rtcpConn == nil {
		return false
	}
	if err := s.rtcpConn.SetReadDeadline(deadline); err != nil {
		return false
	}
	n, _, err := s.rtcpConn.ReadFrom(buf)
	if err != nil {
		return false
	}

	pkts, err := rtcp.Unmarshal(buf[:n])
	if err != nil {
		s.log.Debug().Err(err).Msg("Bad RTCP datagram")
		return false
	}

	seen := false
	for _, p := range pkts {
		sr, ok := p.(*rtcp.SenderReport)
		if !ok {
			continue
		}
		s.lastSR = SenderReportInfo{
			NTPTime:  sr.NTPTime,
			RTPTime:  sr.RTPTime,
			Packets:  sr.PacketCount,
			Octets:   sr.OctetCount,
			Received: time.Now(),
		}
		seen = true
		if RTCPDebug {
			s.log.Debug().Uint64("ntp", sr.NTPTime).Uint32("rtp", sr.RTPTime).Msg("RTCP SR")
		}
	}
	return seen
}

// LastSenderReport returns the most recent SR, zero value when none.
func (s *Session) LastSenderReport() SenderReportInfo {
	return s.lastSR
}
