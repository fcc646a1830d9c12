package mcast

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/sciyoshi/gini/counter"
	"github.com/sciyoshi/gini/iface"
	"github.com/sciyoshi/gini/ip"
	"github.com/sciyoshi/gini/packet"
)

// Forwarder is the single ingress point for class-D datagrams: IGMP
// control traffic goes to the IGMP engine, user traffic to the DVMRP
// forwarding decision. The handler references are the dispatch table that
// breaks the MF/IGE/DVE call cycle.
type Forwarder struct {
	igmp  packet.Handler
	dvmrp packet.Handler
	stats *counter.Set
	log   *logrus.Entry
}

// NewForwarder wires the dispatch table.
func NewForwarder(igmpHandler, dvmrpHandler packet.Handler, log *logrus.Logger) *Forwarder {
	return &Forwarder{
		igmp:  igmpHandler,
		dvmrp: dvmrpHandler,
		stats: counter.NewSet(),
		log:   log.WithField("subsys", "mcast"),
	}
}

// Process dispatches one multicast datagram and reports whether it was
// consumed. The caller has already established the destination is class D.
func (f *Forwarder) Process(p *packet.Packet) bool {
	if p.IP.Protocol == ip.ProtocolIGMP {
		f.stats.Get("igmp").Increment()
		return f.igmp(p)
	}
	f.stats.Get("user").Increment()
	return f.dvmrp(p)
}

// Stats returns the forwarder's counters.
func (f *Forwarder) Stats() *counter.Set {
	return f.stats
}

// CLI renders the membership table ("mcast") and the per-protocol
// counters ("mcast stats").
func CLI(m *Memberships, reg *iface.Registry, f *Forwarder) func(argv []string, out io.Writer) {
	return func(argv []string, out io.Writer) {
		if len(argv) == 2 && argv[1] == "stats" {
			f.stats.Each(func(name string, c *counter.Counter) {
				fmt.Fprintf(out, "%-10s %s\n", name, c)
			})
			return
		}

		sep := "----------+-------------------+-------------------+-------------\n"
		fmt.Fprint(out, sep)
		fmt.Fprintf(out, "%-9s | %-17s | %-17s | %s\n", "Interface", "Interface IP", "Multicast Group", "Last Report")
		fmt.Fprint(out, sep)
		now := m.clock.Now()
		for ifc := reg.Next(nil); ifc != nil; ifc = reg.Next(ifc) {
			groups := m.Groups(ifc.ID)
			if len(groups) == 0 {
				continue
			}
			for _, g := range groups {
				fmt.Fprintf(out, "%-9s | %-17s | %-17s | %ds ago\n",
					ifc.Name, ifc.Addr, g.Group, int(now.Sub(g.LastReport).Seconds()))
			}
			fmt.Fprint(out, sep)
		}
	}
}
