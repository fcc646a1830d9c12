// Package dvmrp maintains the source-based multicast distribution tree: a
// router/edge classification per interface, per-source route records with
// children and prune state, and the probe/report/prune/graft/leaf
// exchange with neighbouring routers.
//
// The protocol runs over the static unicast route table rather than its
// own distance-vector exchange; the non-standard LEAF message stands in
// for the child/leaf determination a full DVMRP would compute. Topology
// is assumed static across a run.
package dvmrp

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sciyoshi/gini/counter"
	"github.com/sciyoshi/gini/event"
	"github.com/sciyoshi/gini/iface"
	"github.com/sciyoshi/gini/igmp"
	"github.com/sciyoshi/gini/inet"
	"github.com/sciyoshi/gini/ip"
	"github.com/sciyoshi/gini/mcast"
	"github.com/sciyoshi/gini/packet"
	"github.com/sciyoshi/gini/route"
	"github.com/sciyoshi/gini/timer"
)

// DVMRP message subtypes, carried in the subtype byte of the shared
// IGMP/DVMRP header.
const (
	SubtypeProbe  = 1
	SubtypeReport = 2
	SubtypePrune  = 7
	SubtypeGraft  = 8

	// SubtypeLeaf is non-standard: "you are not my upstream for this
	// source; I won't forward."
	SubtypeLeaf = 50
)

// Probe pacing: a short startup burst to detect neighbouring routers,
// then the steady rate.
const (
	FullUpdateRate      = 60 * time.Second
	TriggeredUpdateRate = 5 * time.Second
	StartupCount        = 3
)

// Errors recovered locally by Forward and Process.
var (
	ErrNoRouteToSource = errors.New("dvmrp: no route to source")
	ErrReversePathFail = errors.New("dvmrp: reverse path check failed")
	ErrUnknownSubtype  = errors.New("dvmrp: unknown subtype")
)

// RouteGroup is the prune state for one (source network, group) pair.
type RouteGroup struct {
	// PruneSent records that we emitted a PRUNE upstream after a
	// forwarding decision with an empty fan-out.
	PruneSent bool

	// Pruned holds, per downstream interface, the second-resolution
	// time a PRUNE was received, or 0.
	Pruned [iface.Max]int64
}

type groupEntry struct {
	group inet.Addr
	rg    *RouteGroup
}

// groupList is a flat vector keyed by group address. Group counts per
// source are tiny, so a vector beats a tree; entries stay sorted for the
// CLI's sake.
type groupList struct {
	entries []groupEntry
}

func (l *groupList) lookup(group inet.Addr) *RouteGroup {
	for _, e := range l.entries {
		if e.group == group {
			return e.rg
		}
	}
	return nil
}

func (l *groupList) getOrInsert(group inet.Addr) *RouteGroup {
	if rg := l.lookup(group); rg != nil {
		return rg
	}
	rg := &RouteGroup{}
	pos := len(l.entries)
	for i, e := range l.entries {
		if group < e.group {
			pos = i
			break
		}
	}
	l.entries = append(l.entries, groupEntry{})
	copy(l.entries[pos+1:], l.entries[pos:])
	l.entries[pos] = groupEntry{group: group, rg: rg}
	return rg
}

func (l *groupList) each(fn func(group inet.Addr, rg *RouteGroup)) {
	for _, e := range l.entries {
		fn(e.group, e.rg)
	}
}

// Route is one source route imported from the unicast table.
type Route struct {
	Network inet.Addr
	Netmask inet.Addr
	Nexthop inet.Addr

	// Iface is the upstream interface toward the source network.
	Iface *iface.Interface

	// Children marks downstream candidates; the upstream interface is
	// never a child.
	Children [iface.Max]bool

	groups groupList
}

// Group returns the prune state for a group under this route, or nil.
func (r *Route) Group(group inet.Addr) *RouteGroup {
	return r.groups.lookup(group)
}

// Engine is the DVMRP control plane. Mutated only on the event loop.
type Engine struct {
	ifaces  *iface.Registry
	unicast *route.Table
	members *mcast.Memberships
	sender  ip.Sender
	clock   event.Clock
	log     *logrus.Entry
	stats   *counter.Set

	// edges starts all-true; an interface stops being an edge the first
	// time a router replies on it, and never goes back.
	edges  [iface.Max]bool
	routes []*Route

	fullRate     time.Duration
	startupRate  time.Duration
	startupCount int
}

// New creates the engine. Every interface starts as an edge.
func New(ifaces *iface.Registry, unicast *route.Table, members *mcast.Memberships, sender ip.Sender, clock event.Clock, log *logrus.Logger) *Engine {
	e := &Engine{
		ifaces:       ifaces,
		unicast:      unicast,
		members:      members,
		sender:       sender,
		clock:        clock,
		log:          log.WithField("subsys", "dvmrp"),
		stats:        counter.NewSet(),
		fullRate:     FullUpdateRate,
		startupRate:  TriggeredUpdateRate,
		startupCount: StartupCount,
	}
	for i := range e.edges {
		e.edges[i] = true
	}
	return e
}

// SetRates overrides the probe pacing.
func (e *Engine) SetRates(full, startup time.Duration, startupCount int) {
	e.fullRate = full
	e.startupRate = startup
	e.startupCount = startupCount
}

// Start schedules the startup probe burst and the steady-state probes.
func (e *Engine) Start(loop *event.Loop) {
	count := e.startupCount
	timer.Every(loop, e.startupRate, func() bool {
		e.ProbeTick()
		count--
		return count > 0
	})
	timer.Every(loop, e.fullRate, e.ProbeTick)
}

// Edge reports whether the interface is believed to face only hosts.
func (e *Engine) Edge(ifid int) bool {
	if ifid < 0 || ifid >= iface.Max {
		return false
	}
	return e.edges[ifid]
}

// Routes returns the imported route records.
func (e *Engine) Routes() []*Route {
	return e.routes
}

// Stats returns the engine's counters.
func (e *Engine) Stats() *counter.Set {
	return e.stats
}

// RouteRefresh discards the DVMRP route records and reimports them from
// the unicast table. Prune and graft state is lost; topology is static
// across a run and refresh is an operator action, so that is acceptable.
func (e *Engine) RouteRefresh() {
	e.routes = e.routes[:0]
	for _, entry := range e.unicast.Entries() {
		ifc := e.ifaces.Get(entry.Iface)
		if ifc == nil {
			e.log.WithField("route", entry).Debug("skipping route with unconfigured interface")
			continue
		}
		r := &Route{
			Network: entry.Network,
			Netmask: entry.Netmask,
			Nexthop: entry.Nexthop,
			Iface:   ifc,
		}
		for j := range r.Children {
			r.Children[j] = j != entry.Iface
		}
		e.routes = append(e.routes, r)
	}
	e.log.WithField("routes", len(e.routes)).Debug("imported routes from the unicast table")
}

// RouteFind returns the first route whose network matches the address
// under its mask, or nil. The table was imported from the unicast table
// where longest-prefix already applied, so first match wins.
func (e *Engine) RouteFind(addr inet.Addr) *Route {
	for _, r := range e.routes {
		if inet.CmpMasked(addr, r.Network, r.Netmask) == 0 {
			return r
		}
	}
	return nil
}

// ProbeTick transmits a PROBE on every interface. Always reschedules.
func (e *Engine) ProbeTick() bool {
	for ifc := e.ifaces.Next(nil); ifc != nil; ifc = e.ifaces.Next(ifc) {
		e.send(SubtypeProbe, inet.AllDVMRP, 0, ifc)
	}
	e.stats.Get("probes-sent").Increment()
	return true
}

// send emits one DVMRP message out the given interface. The group field
// carries whatever address the message type calls for (a group for
// GRAFT, a source for PRUNE and LEAF).
func (e *Engine) send(subtype uint8, dst, group inet.Addr, ifc *iface.Interface) {
	p := packet.New()
	p.Payload = igmp.Header{
		Version: igmp.Version,
		Type:    igmp.TypeDVMRP,
		Subtype: subtype,
		Group:   group,
	}.Marshal()
	ip.Prepare(p, ifc.Addr, dst, igmp.HeaderLen, 1, ip.ProtocolIGMP)
	p.Frame.DstIface = ifc.ID
	p.Frame.ARPBcast = true
	if err := e.sender.Send(p); err != nil {
		e.log.WithError(err).WithField("iface", ifc.Name).Debug("send failed")
	}
}

// Forward runs the forwarding decision for a user multicast datagram.
// The original packet is never mutated; duplicates go out through the
// fragmenting send path. Always returns false so the caller releases the
// original.
func (e *Engine) Forward(p *packet.Packet) bool {
	src, dst := p.SrcAddr(), p.DstAddr()
	in := p.Frame.SrcIface

	r := e.RouteFind(src)
	if r == nil {
		e.stats.Get("drops").Increment()
		e.log.WithError(ErrNoRouteToSource).WithField("src", src).Debug("dropping datagram")
		return false
	}

	decision := e.log.WithFields(logrus.Fields{"src": src, "group": dst, "in": in})

	// Reverse-path check: accept only on the interface the unicast
	// table says leads back to the source. Otherwise tell the sender we
	// are not its downstream (equivalent to a route with infinite
	// metric).
	if r.Iface.ID != in {
		if inIfc := e.ifaces.Get(in); inIfc != nil {
			e.send(SubtypeLeaf, inet.AllDVMRP, src, inIfc)
			e.stats.Get("leafs-sent").Increment()
		}
		e.stats.Get("drops").Increment()
		decision.WithError(ErrReversePathFail).Debug("sending LEAF back")
		return false
	}

	rg := r.groups.getOrInsert(dst)
	shouldPrune := true

	for ifc := e.ifaces.Next(nil); ifc != nil; ifc = e.ifaces.Next(ifc) {
		if ifc.ID == in {
			continue
		}
		if e.edges[ifc.ID] {
			if !e.members.Get(ifc.ID, dst) {
				continue
			}
		} else {
			if !r.Children[ifc.ID] {
				continue
			}
			if rg.Pruned[ifc.ID] != 0 {
				continue
			}
		}

		shouldPrune = false
		fwd := p.Copy()
		fwd.Frame.DstIface = ifc.ID
		fwd.Frame.ARPBcast = true
		if err := e.sender.SendFragmented(fwd); err != nil {
			e.log.WithError(err).WithField("iface", ifc.Name).Debug("forward failed")
			continue
		}
		e.stats.Get("forwarded").Increment()
		decision.WithField("out", ifc.Name).Debug("forwarding")
	}

	// Nothing downstream wants this source: prune toward the upstream
	// router. The source rides in the group field; the group rides in
	// the IP destination, which is where the peer's prune handler looks
	// for it.
	if shouldPrune && !e.edges[in] {
		rg.PruneSent = true
		e.send(SubtypePrune, dst, src, r.Iface)
		e.stats.Get("prunes-sent").Increment()
		decision.Debug("sending PRUNE upstream")
	}

	return false
}

// Process handles one DVMRP control message.
func (e *Engine) Process(p *packet.Packet) bool {
	h, err := igmp.Parse(p.Payload)
	if err != nil {
		e.stats.Get("drops").Increment()
		e.log.WithError(err).Debug("dropping DVMRP message")
		return false
	}
	in := p.Frame.SrcIface

	switch h.Subtype {
	case SubtypeProbe:
		return e.processProbe(p)

	case SubtypeReport:
		// A router replied on this link; memberships there are managed
		// by DVMRP from now on.
		if in >= 0 && in < iface.Max {
			e.edges[in] = false
		}
		return false

	case SubtypePrune:
		return e.processPrune(p, h)

	case SubtypeGraft:
		ifc := e.ifaces.Get(in)
		if ifc == nil {
			return false
		}
		e.Graft(h.Group, ifc)
		return true

	case SubtypeLeaf:
		r := e.RouteFind(h.Group)
		if r == nil {
			return false
		}
		if in >= 0 && in < iface.Max {
			r.Children[in] = false
		}
		return false

	default:
		e.stats.Get("drops").Increment()
		e.log.WithError(ErrUnknownSubtype).WithField("subtype", h.Subtype).Debug("silently dropping")
		return false
	}
}

// processProbe echoes the probe back as a REPORT out the ingress
// interface, announcing ourselves as a router on that link.
func (e *Engine) processProbe(p *packet.Packet) bool {
	ifc := e.ifaces.Get(p.Frame.SrcIface)
	if ifc == nil {
		return false
	}
	h, err := igmp.Parse(p.Payload)
	if err != nil {
		return false
	}
	h.Subtype = SubtypeReport
	p.Payload = h.Marshal()

	p.SetSrcAddr(ifc.Addr)
	p.IP.TTL = 1
	ip.SetChecksum(p.IP)

	p.Frame.DstIface = p.Frame.SrcIface
	p.Frame.ARPBcast = true
	if err := e.sender.Send(p); err != nil {
		e.log.WithError(err).WithField("iface", ifc.Name).Debug("probe reply failed")
	}
	e.stats.Get("reports-sent").Increment()
	return true
}

// processPrune marks the ingress interface pruned for the (source,
// group) pair. No re-decision happens now; the state takes effect on the
// next packet that computes a fan-out.
func (e *Engine) processPrune(p *packet.Packet, h igmp.Header) bool {
	src := h.Group
	group := p.DstAddr()

	r := e.RouteFind(src)
	if r == nil {
		return false
	}
	rg := r.groups.lookup(group)
	if rg == nil {
		return false
	}
	in := p.Frame.SrcIface
	if in < 0 || in >= iface.Max {
		return false
	}
	rg.Pruned[in] = e.clock.Now().Unix()
	e.stats.Get("prunes-heard").Increment()
	e.log.WithFields(logrus.Fields{"src": src, "group": group, "iface": in}).Debug("pruned")
	return false
}

// Graft clears prune state for the group on the given downstream
// interface and, for every route we had pruned upstream, re-subscribes
// by sending a GRAFT out its upstream interface.
func (e *Engine) Graft(group inet.Addr, src *iface.Interface) {
	var forward [iface.Max]bool

	for _, r := range e.routes {
		if r.Iface == src {
			continue
		}
		rg := r.groups.lookup(group)
		if rg == nil {
			continue
		}
		rg.Pruned[src.ID] = 0
		if rg.PruneSent {
			rg.PruneSent = false
			forward[r.Iface.ID] = true
		}
	}

	for ifc := e.ifaces.Next(nil); ifc != nil; ifc = e.ifaces.Next(ifc) {
		if forward[ifc.ID] {
			e.send(SubtypeGraft, inet.AllDVMRP, group, ifc)
			e.stats.Get("grafts-sent").Increment()
		}
	}
}
