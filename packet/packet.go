// Package packet defines the in-flight datagram passed between the IP
// layer and the multicast subsystems: link-frame metadata, an IPv4 header,
// and the payload.
package packet

import (
	"fmt"

	"golang.org/x/net/ipv4"

	"github.com/sciyoshi/gini/inet"
)

// Handler processes a packet and reports whether it was consumed. A
// consumed packet is owned by the handler; otherwise ownership reverts to
// the caller.
type Handler func(*Packet) bool

// Frame carries the link-layer metadata the send path needs. Interface
// ids are -1 until filled in.
type Frame struct {
	SrcIface int // ingress interface id
	DstIface int // egress interface id, set by the forwarding decision
	SrcHW    [6]byte
	DstHW    [6]byte
	Nexthop  inet.Addr // next-hop address for ARP resolution
	ARPValid bool      // DstHW already resolved
	ARPBcast bool      // destination is a broadcast/multicast MAC
}

// Packet is one datagram moving through the router.
type Packet struct {
	Frame   Frame
	IP      *ipv4.Header
	Payload []byte
}

// New creates an empty packet with a bare IPv4 header.
func New() *Packet {
	return &Packet{
		Frame: Frame{SrcIface: -1, DstIface: -1},
		IP: &ipv4.Header{
			Version: ipv4.Version,
			Len:     ipv4.HeaderLen,
		},
	}
}

// SrcAddr returns the IP source in host order.
func (p *Packet) SrcAddr() inet.Addr {
	return inet.FromIP(p.IP.Src)
}

// DstAddr returns the IP destination in host order.
func (p *Packet) DstAddr() inet.Addr {
	return inet.FromIP(p.IP.Dst)
}

// SetSrcAddr sets the IP source.
func (p *Packet) SetSrcAddr(a inet.Addr) {
	p.IP.Src = a.IP()
}

// SetDstAddr sets the IP destination.
func (p *Packet) SetDstAddr(a inet.Addr) {
	p.IP.Dst = a.IP()
}

// Copy deep-copies the packet. The forwarder duplicates the original once
// per egress interface and never mutates it.
func (p *Packet) Copy() *Packet {
	dup := &Packet{Frame: p.Frame}
	if p.IP != nil {
		h := *p.IP
		h.Src = append(h.Src[:0:0], p.IP.Src...)
		h.Dst = append(h.Dst[:0:0], p.IP.Dst...)
		h.Options = append(h.Options[:0:0], p.IP.Options...)
		dup.IP = &h
	}
	dup.Payload = append(dup.Payload, p.Payload...)
	return dup
}

// MarshalIP serializes the IP header followed by the payload.
func (p *Packet) MarshalIP() ([]byte, error) {
	if p.IP == nil {
		return nil, fmt.Errorf("packet: no IP header")
	}
	hdr, err := p.IP.Marshal()
	if err != nil {
		return nil, fmt.Errorf("packet: marshal header: %w", err)
	}
	return append(hdr, p.Payload...), nil
}

// ParseIP builds a packet from a serialized IP datagram.
func ParseIP(b []byte) (*Packet, error) {
	h, err := ipv4.ParseHeader(b)
	if err != nil {
		return nil, fmt.Errorf("packet: parse header: %w", err)
	}
	p := New()
	p.IP = h
	if h.Len < len(b) {
		p.Payload = append(p.Payload, b[h.Len:]...)
	}
	return p, nil
}
