// Package ip is the sending side of the IP layer as the multicast core
// sees it: header completion, fragmentation, and hand-off to the egress
// interface. The receive side lives with the caller of Router.Process.
package ip

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/sciyoshi/gini/iface"
	"github.com/sciyoshi/gini/inet"
	"github.com/sciyoshi/gini/packet"
)

// IP protocol numbers the router cares about.
const (
	ProtocolIGMP = 2
	ProtocolUDP  = 17
)

// DefaultMTU matches the virtual links.
const DefaultMTU = 1500

// Sender is the send pipeline the multicast core emits through. Both
// calls take ownership of the packet.
type Sender interface {
	Send(*packet.Packet) error
	SendFragmented(*packet.Packet) error
}

// Egress receives fully-formed frames for one interface.
type Egress func(*iface.Interface, *packet.Packet) error

var ident int

// Prepare fills the IP header: version, lengths, TTL, protocol,
// identifier, addresses, and checksum.
func Prepare(p *packet.Packet, src, dst inet.Addr, payloadLen, ttl, proto int) {
	h := p.IP
	h.Version = ipv4.Version
	h.Len = ipv4.HeaderLen
	h.TOS = 0
	h.TotalLen = ipv4.HeaderLen + payloadLen
	h.Flags = 0
	h.FragOff = 0
	h.TTL = ttl
	h.Protocol = proto
	ident++
	h.ID = ident & 0x1FFF
	p.SetSrcAddr(src)
	p.SetDstAddr(dst)
	SetChecksum(h)
}

// SetChecksum recomputes the IP header checksum in place.
func SetChecksum(h *ipv4.Header) {
	h.Checksum = 0
	b, err := h.Marshal()
	if err != nil {
		return
	}
	h.Checksum = int(inet.Checksum(b[:h.Len]))
}

// Pipeline is the production Sender: it resolves the egress interface,
// fills in link-layer addressing, fragments when needed, and hands frames
// to the egress function.
type Pipeline struct {
	ifaces *iface.Registry
	egress Egress
	mtu    int
	log    *logrus.Entry
}

// NewPipeline creates a send pipeline over the given interfaces.
func NewPipeline(ifaces *iface.Registry, egress Egress, mtu int, log *logrus.Logger) *Pipeline {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &Pipeline{
		ifaces: ifaces,
		egress: egress,
		mtu:    mtu,
		log:    log.WithField("subsys", "ip"),
	}
}

// Send emits one frame on the packet's destination interface.
func (s *Pipeline) Send(p *packet.Packet) error {
	ifc := s.ifaces.Get(p.Frame.DstIface)
	if ifc == nil {
		return fmt.Errorf("%w: egress id %d", iface.ErrInvalidInterface, p.Frame.DstIface)
	}
	p.Frame.SrcHW = ifc.MAC
	if p.Frame.ARPBcast && p.DstAddr().IsMulticast() {
		p.Frame.DstHW = p.DstAddr().MulticastMAC()
		p.Frame.ARPValid = true
	}
	s.log.WithFields(logrus.Fields{
		"iface": ifc.Name,
		"src":   p.SrcAddr(),
		"dst":   p.DstAddr(),
		"proto": p.IP.Protocol,
		"len":   p.IP.TotalLen,
	}).Debug("sending frame")
	return s.egress(ifc, p)
}

// SendFragmented emits the packet, splitting the payload into fragments
// when it exceeds the egress MTU.
func (s *Pipeline) SendFragmented(p *packet.Packet) error {
	if p.IP.TotalLen <= s.mtu {
		return s.Send(p)
	}

	// Fragment payload chunks on 8-byte boundaries.
	chunk := (s.mtu - p.IP.Len) &^ 7
	if chunk <= 0 {
		return fmt.Errorf("ip: mtu %d below header length", s.mtu)
	}
	for off := 0; off < len(p.Payload); off += chunk {
		end := off + chunk
		last := end >= len(p.Payload)
		if last {
			end = len(p.Payload)
		}
		frag := p.Copy()
		frag.Payload = append([]byte(nil), p.Payload[off:end]...)
		frag.IP.TotalLen = frag.IP.Len + len(frag.Payload)
		frag.IP.FragOff = p.IP.FragOff + off/8
		if last {
			frag.IP.Flags = p.IP.Flags
		} else {
			frag.IP.Flags = p.IP.Flags | ipv4.MoreFragments
		}
		SetChecksum(frag.IP)
		if err := s.Send(frag); err != nil {
			return err
		}
	}
	return nil
}
