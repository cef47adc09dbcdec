// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2025 Michael Hauan AB0QK

package media

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"net"

	"golang.org/x/net/ipv4"
)

// ListenMulticast joins group on ifi (nil for the system default) and
// returns a UDP conn bound to the group port. Caller closes it.
func ListenMulticast(group *net.UDPAddr, ifi *net.Interface) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: group.IP, Port: group.Port})
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", group, err)
	}

	p := ipv4.NewPacketConn(conn)
	if err := p.JoinGroup(ifi, &net.UDPAddr{IP: group.IP}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("join group %s: %w", group.IP, err)
	}
	return conn, nil
}

// ResolveInterface maps a configured interface name to *net.Interface.
// Empty name selects the system default (nil).
func ResolveInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	return net.InterfaceByName(name)
}

// Control command TLV tags. The daemon accepts a type-1 datagram of
// tag/length/value entries terminated by tagEOL.
const (
	cmdPacketType byte = 1

	tagEOL              byte = 0
	tagCommandTag       byte = 1
	tagOutputSSRC       byte = 2
	tagRadioFrequency   byte = 3
	tagPreset           byte = 4
	tagOutputSampleRate byte = 5
)

// ControlCommand instantiates a channel in the SDR daemon at a given
// SSRC. Commands are fire and forget; success is confirmed only by the
// new SSRC appearing in the incoming stream.
type ControlCommand struct {
	SSRC        uint32
	FrequencyHz float64
	Preset      string
	SampleRate  uint32
}

// Encode renders the command datagram. The command tag lets the daemon
// discard retransmits.
func (c *ControlCommand) Encode() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, cmdPacketType)

	buf = appendTLVUint32(buf, tagCommandTag, rand.Uint32())
	buf = appendTLVUint32(buf, tagOutputSSRC, c.SSRC)
	buf = appendTLVFloat64(buf, tagRadioFrequency, c.FrequencyHz)
	if c.Preset != "" {
		buf = append(buf, tagPreset, byte(len(c.Preset)))
		buf = append(buf, c.Preset...)
	}
	buf = appendTLVUint32(buf, tagOutputSampleRate, c.SampleRate)

	buf = append(buf, tagEOL, 0)
	return buf
}

func appendTLVUint32(buf []byte, tag byte, v uint32) []byte {
	buf = append(buf, tag, 4)
	return binary.BigEndian.AppendUint32(buf, v)
}

func appendTLVFloat64(buf []byte, tag byte, v float64) []byte {
	buf = append(buf, tag, 8)
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(v))
}

// SendControl fires a command at the daemon's status/control address.
func SendControl(raddr *net.UDPAddr, cmd *ControlCommand) error {
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return fmt.Errorf("control dial %s: %w", raddr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(cmd.Encode()); err != nil {
		return fmt.Errorf("control send: %w", err)
	}
	return nil
}
