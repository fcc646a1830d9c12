package igmp

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sciyoshi/gini/event"
	"github.com/sciyoshi/gini/iface"
	"github.com/sciyoshi/gini/inet"
	"github.com/sciyoshi/gini/ip"
	"github.com/sciyoshi/gini/mcast"
	"github.com/sciyoshi/gini/packet"
)

// capture is an ip.Sender that records every emission.
type capture struct {
	sent []*packet.Packet
}

func (c *capture) Send(p *packet.Packet) error           { c.sent = append(c.sent, p); return nil }
func (c *capture) SendFragmented(p *packet.Packet) error { return c.Send(p) }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testEngine(t *testing.T) (*Engine, *mcast.Memberships, *capture, *event.FakeClock) {
	t.Helper()
	reg := iface.NewRegistry()
	for id, addr := range []string{"192.168.2.1", "172.16.0.1"} {
		if _, err := reg.Add(id, "eth"+string(rune('0'+id)), inet.MustParse(addr)); err != nil {
			t.Fatalf("Expected no error but got %v", err)
		}
	}
	clock := event.NewFakeClock(time.Unix(1000, 0))
	members := mcast.NewMemberships(clock, quietLogger())
	out := &capture{}
	return New(reg, members, out, quietLogger()), members, out, clock
}

func report(ifid int, ipDst, group inet.Addr) *packet.Packet {
	p := packet.New()
	p.Frame.SrcIface = ifid
	p.SetSrcAddr(inet.MustParse("192.168.2.10"))
	p.SetDstAddr(ipDst)
	p.IP.TTL = 1
	p.IP.Protocol = ip.ProtocolIGMP
	p.Payload = Header{Version: Version, Type: TypeReport, Group: group}.Marshal()
	return p
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Version: Version, Type: TypeDVMRP, Subtype: 7, Group: inet.MustParse("224.1.2.3")}
	b := h.Marshal()
	if len(b) != HeaderLen {
		t.Fatalf("Expected %d bytes but got %d", HeaderLen, len(b))
	}
	if b[0] != 0x13 {
		t.Errorf("Expected first byte 0x13 (version 1, type 3) but got 0x%X", b[0])
	}
	if !Valid(b) {
		t.Errorf("Expected a marshalled header to checksum to zero")
	}
	got, err := Parse(b)
	if err != nil {
		t.Fatalf("Expected no error but got %v", err)
	}
	if got.Version != h.Version || got.Type != h.Type || got.Subtype != h.Subtype || got.Group != h.Group {
		t.Errorf("Expected %+v but got %+v", h, got)
	}
}

func TestParseShort(t *testing.T) {
	if _, err := Parse([]byte{0x11, 0x00}); err == nil {
		t.Errorf("Expected an error parsing a short message but got none")
	}
	if Valid([]byte{0x11}) {
		t.Errorf("Expected a short message to be invalid")
	}
}

// S1 (first half): a report creates a membership.
func TestProcessReport(t *testing.T) {
	e, members, _, _ := testEngine(t)
	group := inet.MustParse("224.1.2.3")

	if !e.Process(report(0, group, group)) {
		t.Errorf("Expected a valid report to be consumed")
	}
	if !members.Get(0, group) {
		t.Errorf("Expected a membership for the reported group")
	}
	if members.Get(1, group) {
		t.Errorf("Expected no membership on the other interface")
	}
}

// Idempotence: a repeated report leaves one record.
func TestProcessReportTwice(t *testing.T) {
	e, members, _, clock := testEngine(t)
	group := inet.MustParse("224.1.2.3")

	e.Process(report(0, group, group))
	clock.Advance(5 * time.Second)
	e.Process(report(0, group, group))
	if got := len(members.Groups(0)); got != 1 {
		t.Errorf("Expected one membership record but got %d", got)
	}
}

// S2: a report whose IP destination disagrees with the group is dropped.
func TestProcessReportDestinationMismatch(t *testing.T) {
	e, members, _, _ := testEngine(t)

	p := report(0, inet.MustParse("224.1.2.3"), inet.MustParse("224.1.2.4"))
	if e.Process(p) {
		t.Errorf("Expected a mismatched report not to be consumed")
	}
	if members.Get(0, inet.MustParse("224.1.2.3")) || members.Get(0, inet.MustParse("224.1.2.4")) {
		t.Errorf("Expected membership to be unchanged")
	}
}

func TestProcessBadChecksum(t *testing.T) {
	e, members, _, _ := testEngine(t)
	group := inet.MustParse("224.1.2.3")

	p := report(0, group, group)
	binary.BigEndian.PutUint16(p.Payload[2:4], 0xBEEF)
	if e.Process(p) {
		t.Errorf("Expected a corrupt report not to be consumed")
	}
	if members.Get(0, group) {
		t.Errorf("Expected no membership from a corrupt report")
	}
}

func TestProcessInvalidInterface(t *testing.T) {
	e, _, _, _ := testEngine(t)
	group := inet.MustParse("224.1.2.3")
	p := report(7, group, group)
	if e.Process(p) {
		t.Errorf("Expected a packet from an unconfigured interface not to be consumed")
	}
}

func TestProcessUnknownType(t *testing.T) {
	e, _, _, _ := testEngine(t)
	p := report(0, inet.MustParse("224.1.2.3"), inet.MustParse("224.1.2.3"))
	p.Payload = Header{Version: Version, Type: 9}.Marshal()
	if e.Process(p) {
		t.Errorf("Expected an unknown type not to be consumed")
	}
}

func TestProcessQueryElection(t *testing.T) {
	e, _, _, _ := testEngine(t)

	// A higher-addressed peer does not win the election.
	p := packet.New()
	p.Frame.SrcIface = 0
	p.SetSrcAddr(inet.MustParse("192.168.2.200"))
	p.SetDstAddr(inet.AllHosts)
	p.IP.Protocol = ip.ProtocolIGMP
	p.Payload = Header{Version: Version, Type: TypeQuery}.Marshal()
	if !e.Process(p) {
		t.Errorf("Expected a query to be consumed")
	}
	if e.QuerierLost(0) {
		t.Errorf("Expected to keep the querier role against a higher address")
	}

	// A lower-addressed peer wins it.
	p2 := packet.New()
	p2.Frame.SrcIface = 0
	p2.SetSrcAddr(inet.MustParse("192.168.2.0"))
	p2.SetDstAddr(inet.AllHosts)
	p2.IP.Protocol = ip.ProtocolIGMP
	p2.Payload = Header{Version: Version, Type: TypeQuery}.Marshal()
	e.Process(p2)
	if !e.QuerierLost(0) {
		t.Errorf("Expected the election loss to be recorded")
	}
}

func TestProcessDelegatesDVMRP(t *testing.T) {
	e, _, _, _ := testEngine(t)
	var got *packet.Packet
	e.SetDVMRP(func(p *packet.Packet) bool { got = p; return true })

	p := packet.New()
	p.Frame.SrcIface = 0
	p.SetSrcAddr(inet.MustParse("192.168.2.2"))
	p.SetDstAddr(inet.AllDVMRP)
	p.IP.Protocol = ip.ProtocolIGMP
	p.Payload = Header{Version: Version, Type: TypeDVMRP, Subtype: 1}.Marshal()
	if !e.Process(p) {
		t.Errorf("Expected the DVMRP handler's result")
	}
	if got != p {
		t.Errorf("Expected the packet to reach the DVMRP handler")
	}
}

func TestQueryTick(t *testing.T) {
	e, _, out, _ := testEngine(t)

	if !e.QueryTick() {
		t.Errorf("Expected the query tick to reschedule")
	}
	if len(out.sent) != 2 {
		t.Fatalf("Expected one query per interface but got %d", len(out.sent))
	}
	for i, p := range out.sent {
		if p.DstAddr() != inet.AllHosts {
			t.Errorf("Expected query %d to target all-hosts but got %s", i, p.DstAddr())
		}
		if p.IP.TTL != 1 {
			t.Errorf("Expected TTL 1 but got %d", p.IP.TTL)
		}
		if p.Frame.DstIface != i {
			t.Errorf("Expected ascending egress order but got %d at %d", p.Frame.DstIface, i)
		}
		if !Valid(p.Payload) {
			t.Errorf("Expected a valid checksum on query %d", i)
		}
		h, _ := Parse(p.Payload)
		if h.Type != TypeQuery || h.Group != 0 {
			t.Errorf("Expected a query with group 0 but got %+v", h)
		}
	}
}
