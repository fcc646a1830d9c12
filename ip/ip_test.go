package ip

import (
	"testing"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/sciyoshi/gini/iface"
	"github.com/sciyoshi/gini/inet"
	"github.com/sciyoshi/gini/packet"
)

type sent struct {
	ifc *iface.Interface
	pkt *packet.Packet
}

func testPipeline(t *testing.T, mtu int) (*Pipeline, *[]sent) {
	t.Helper()
	reg := iface.NewRegistry()
	if _, err := reg.Add(0, "eth0", inet.MustParse("10.0.0.1")); err != nil {
		t.Fatalf("Expected no error but got %v", err)
	}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	var frames []sent
	egress := func(ifc *iface.Interface, p *packet.Packet) error {
		frames = append(frames, sent{ifc, p})
		return nil
	}
	return NewPipeline(reg, egress, mtu, log), &frames
}

func TestPrepare(t *testing.T) {
	p := packet.New()
	Prepare(p, inet.MustParse("10.0.0.1"), inet.MustParse("224.0.0.4"), 8, 1, ProtocolIGMP)

	if p.IP.TotalLen != ipv4.HeaderLen+8 {
		t.Errorf("Expected total length %d but got %d", ipv4.HeaderLen+8, p.IP.TotalLen)
	}
	if p.IP.TTL != 1 || p.IP.Protocol != ProtocolIGMP {
		t.Errorf("Expected TTL 1 proto 2 but got %d/%d", p.IP.TTL, p.IP.Protocol)
	}
	if p.SrcAddr() != inet.MustParse("10.0.0.1") || p.DstAddr() != inet.MustParse("224.0.0.4") {
		t.Errorf("Expected addresses to be filled in")
	}

	// The stored checksum must verify over the marshalled header.
	b, err := p.IP.Marshal()
	if err != nil {
		t.Fatalf("Expected no error but got %v", err)
	}
	if got := inet.Checksum(b[:p.IP.Len]); got != 0 {
		t.Errorf("Expected the header checksum to verify but got 0x%X", got)
	}
}

func TestSendFillsLinkLayer(t *testing.T) {
	pipe, frames := testPipeline(t, DefaultMTU)
	p := packet.New()
	Prepare(p, inet.MustParse("10.0.0.1"), inet.MustParse("224.0.0.1"), 8, 1, ProtocolIGMP)
	p.Frame.DstIface = 0
	p.Frame.ARPBcast = true

	if err := pipe.Send(p); err != nil {
		t.Fatalf("Expected no error but got %v", err)
	}
	if len(*frames) != 1 {
		t.Fatalf("Expected 1 frame but got %d", len(*frames))
	}
	got := (*frames)[0]
	if got.ifc.Name != "eth0" {
		t.Errorf("Expected egress eth0 but got %s", got.ifc.Name)
	}
	want := inet.AllHosts.MulticastMAC()
	if got.pkt.Frame.DstHW != want {
		t.Errorf("Expected multicast MAC %v but got %v", want, got.pkt.Frame.DstHW)
	}
}

func TestSendInvalidInterface(t *testing.T) {
	pipe, _ := testPipeline(t, DefaultMTU)
	p := packet.New()
	p.Frame.DstIface = 7
	if err := pipe.Send(p); err == nil {
		t.Errorf("Expected an error for an unconfigured egress but got none")
	}
}

func TestSendFragmented(t *testing.T) {
	pipe, frames := testPipeline(t, 100)
	p := packet.New()
	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	p.Payload = payload
	Prepare(p, inet.MustParse("10.0.0.1"), inet.MustParse("224.1.2.3"), len(payload), 64, ProtocolUDP)
	p.Frame.DstIface = 0
	p.Frame.ARPBcast = true

	if err := pipe.SendFragmented(p); err != nil {
		t.Fatalf("Expected no error but got %v", err)
	}
	if len(*frames) != 3 {
		t.Fatalf("Expected 3 fragments but got %d", len(*frames))
	}
	total := 0
	for i, f := range *frames {
		total += len(f.pkt.Payload)
		last := i == len(*frames)-1
		if !last && f.pkt.IP.Flags&ipv4.MoreFragments == 0 {
			t.Errorf("Expected MF on fragment %d", i)
		}
		if last && f.pkt.IP.Flags&ipv4.MoreFragments != 0 {
			t.Errorf("Expected no MF on the last fragment")
		}
		if f.pkt.IP.FragOff*8 != (*frames)[0].pkt.IP.FragOff*8+i*len((*frames)[0].pkt.Payload) {
			t.Errorf("Expected contiguous fragment offsets")
		}
	}
	if total != len(payload) {
		t.Errorf("Expected fragments to cover %d bytes but got %d", len(payload), total)
	}
}

func TestSendSmallIsNotFragmented(t *testing.T) {
	pipe, frames := testPipeline(t, DefaultMTU)
	p := packet.New()
	p.Payload = []byte{1, 2, 3}
	Prepare(p, inet.MustParse("10.0.0.1"), inet.MustParse("224.1.2.3"), 3, 64, ProtocolUDP)
	p.Frame.DstIface = 0
	if err := pipe.SendFragmented(p); err != nil {
		t.Fatalf("Expected no error but got %v", err)
	}
	if len(*frames) != 1 {
		t.Errorf("Expected a single frame but got %d", len(*frames))
	}
}
