// Package udp is the user-facing datagram API. It sits outside the
// multicast core: received payloads cross from the event loop to a
// blocking Recv caller through a single-producer single-consumer
// hand-off, and all table reads stay on the loop.
package udp

import (
	"bytes"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sciyoshi/gini/iface"
	"github.com/sciyoshi/gini/inet"
	"github.com/sciyoshi/gini/ip"
	"github.com/sciyoshi/gini/packet"
	"github.com/sciyoshi/gini/queue"
	"github.com/sciyoshi/gini/route"
	"github.com/sciyoshi/gini/stream"
)

// HeaderLen is the wire size of a UDP header.
const HeaderLen = 8

const defaultTTL = 64

// Header is the on-wire UDP header. The checksum is optional for IPv4
// and left zero here.
type Header struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// Marshal serializes the header.
func (h Header) Marshal() []byte {
	buf := new(bytes.Buffer)
	stream.WriteUint16(h.SrcPort, buf)
	stream.WriteUint16(h.DstPort, buf)
	stream.WriteUint16(h.Length, buf)
	stream.WriteUint16(h.Checksum, buf)
	return buf.Bytes()
}

// ParseHeader reads a header from the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("udp: short header (%d bytes)", len(b))
	}
	buf := bytes.NewBuffer(b[:HeaderLen])
	return Header{
		SrcPort:  stream.ReadUint16(buf),
		DstPort:  stream.ReadUint16(buf),
		Length:   stream.ReadUint16(buf),
		Checksum: stream.ReadUint16(buf),
	}, nil
}

// Datagram is one received payload with its origin.
type Datagram struct {
	Src     inet.Addr
	SrcPort uint16
	Data    []byte
}

// Endpoint demultiplexes received UDP datagrams to bound ports and sends
// through the IP pipeline.
type Endpoint struct {
	routes   *route.Table
	ifaces   *iface.Registry
	sender   ip.Sender
	log      *logrus.Entry
	bindings map[uint16]*Conn
}

// New creates an endpoint over the given route table and send pipeline.
func New(routes *route.Table, ifaces *iface.Registry, sender ip.Sender, log *logrus.Logger) *Endpoint {
	return &Endpoint{
		routes:   routes,
		ifaces:   ifaces,
		sender:   sender,
		log:      log.WithField("subsys", "udp"),
		bindings: make(map[uint16]*Conn),
	}
}

// Bind claims a local port and returns its connection.
func (e *Endpoint) Bind(port uint16) (*Conn, error) {
	if _, ok := e.bindings[port]; ok {
		return nil, fmt.Errorf("udp: port %d already bound", port)
	}
	c := &Conn{ep: e, port: port, rx: queue.New(64)}
	e.bindings[port] = c
	return c, nil
}

// Process handles one incoming UDP packet on the event loop. Consumes it
// if a binding matches; otherwise the caller keeps ownership.
func (e *Endpoint) Process(p *packet.Packet) bool {
	h, err := ParseHeader(p.Payload)
	if err != nil {
		e.log.WithError(err).Debug("dropping UDP packet")
		return false
	}
	c, ok := e.bindings[h.DstPort]
	if !ok {
		return false
	}
	data := p.Payload[HeaderLen:]
	if int(h.Length) >= HeaderLen && int(h.Length)-HeaderLen < len(data) {
		data = data[:int(h.Length)-HeaderLen]
	}
	d := Datagram{
		Src:     p.SrcAddr(),
		SrcPort: h.SrcPort,
		Data:    append([]byte(nil), data...),
	}
	if !c.rx.Push(d) {
		e.log.WithField("port", h.DstPort).Debug("receive queue full, dropping")
	}
	return true
}

// Conn is one bound port.
type Conn struct {
	ep   *Endpoint
	port uint16
	rx   *queue.Queue
}

// Recv blocks until a datagram arrives. Safe to call off the loop.
func (c *Conn) Recv() Datagram {
	return c.rx.Pop().(Datagram)
}

// TryRecv returns the next datagram if one is queued.
func (c *Conn) TryRecv() (Datagram, bool) {
	item, ok := c.rx.PopTimeout(0)
	if !ok {
		return Datagram{}, false
	}
	return item.(Datagram), true
}

// Send routes a payload to dst and hands it to the fragmenting send
// path. Must run on the event loop.
func (c *Conn) Send(dst inet.Addr, dstPort uint16, data []byte) error {
	entry, ok := c.ep.routes.Lookup(dst)
	if !ok {
		return fmt.Errorf("udp: no route to %s", dst)
	}
	ifc := c.ep.ifaces.Get(entry.Iface)
	if ifc == nil {
		return fmt.Errorf("%w: route egress %d", iface.ErrInvalidInterface, entry.Iface)
	}

	h := Header{
		SrcPort: c.port,
		DstPort: dstPort,
		Length:  uint16(HeaderLen + len(data)),
	}
	p := packet.New()
	p.Payload = append(h.Marshal(), data...)
	ip.Prepare(p, ifc.Addr, dst, len(p.Payload), defaultTTL, ip.ProtocolUDP)
	p.Frame.DstIface = ifc.ID
	p.Frame.Nexthop = entry.Nexthop
	if p.Frame.Nexthop == 0 {
		p.Frame.Nexthop = dst
	}
	if dst.IsMulticast() {
		p.Frame.ARPBcast = true
		p.IP.TTL = 1
	}
	return c.ep.sender.SendFragmented(p)
}
