// Package gini assembles the multicast control plane of the virtual
// router: the membership table, the IGMP and DVMRP engines, the
// forwarder, the operator shell, and the event loop they all run on.
package gini

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sciyoshi/gini/cli"
	"github.com/sciyoshi/gini/dvmrp"
	"github.com/sciyoshi/gini/event"
	"github.com/sciyoshi/gini/iface"
	"github.com/sciyoshi/gini/igmp"
	"github.com/sciyoshi/gini/inet"
	"github.com/sciyoshi/gini/ip"
	"github.com/sciyoshi/gini/mcast"
	"github.com/sciyoshi/gini/packet"
	"github.com/sciyoshi/gini/route"
	"github.com/sciyoshi/gini/timer"
	"github.com/sciyoshi/gini/udp"
)

// Config carries the router tunables. A zero LogLevel, MTU or Clock falls
// back to its default. The query and probe pacing fall back as a group: a
// zero QueryRate (ProbeRate) keeps that engine's default steady and startup
// pacing, while a nonzero one applies QueryStartupRate and
// QueryStartupCount (ProbeStartupRate, ProbeStartupCount) as given, zero
// included.
type Config struct {
	LogLevel string
	MTU      int

	QueryRate         time.Duration
	QueryStartupRate  time.Duration
	QueryStartupCount int

	ProbeRate         time.Duration
	ProbeStartupRate  time.Duration
	ProbeStartupCount int

	// Clock overrides the wall clock; tests step a fake one.
	Clock event.Clock
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:          "info",
		MTU:               ip.DefaultMTU,
		QueryRate:         igmp.QueryRate,
		QueryStartupRate:  igmp.QueryStartupRate,
		QueryStartupCount: igmp.QueryStartupCount,
		ProbeRate:         dvmrp.FullUpdateRate,
		ProbeStartupRate:  dvmrp.TriggeredUpdateRate,
		ProbeStartupCount: dvmrp.StartupCount,
	}
}

// Router ties the subsystems together.
type Router struct {
	Loop      *event.Loop
	Ifaces    *iface.Registry
	Routes    *route.Table
	Members   *mcast.Memberships
	IGMP      *igmp.Engine
	DVMRP     *dvmrp.Engine
	Forwarder *mcast.Forwarder
	UDP       *udp.Endpoint
	Shell     *cli.Shell

	log *logrus.Logger
}

// New builds a router. The egress function receives every fully-formed
// outgoing frame.
func New(cfg Config, egress ip.Egress) (*Router, error) {
	log := logrus.New()
	if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		log.SetLevel(level)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = event.SystemClock()
	}
	loop := event.New(clock)

	ifaces := iface.NewRegistry()
	routes := route.NewTable()
	pipeline := ip.NewPipeline(ifaces, egress, cfg.MTU, log)
	members := mcast.NewMemberships(clock, log)

	ige := igmp.New(ifaces, members, pipeline, log)
	if cfg.QueryRate != 0 {
		ige.SetRates(cfg.QueryRate, cfg.QueryStartupRate, cfg.QueryStartupCount)
	}
	dve := dvmrp.New(ifaces, routes, members, pipeline, clock, log)
	if cfg.ProbeRate != 0 {
		dve.SetRates(cfg.ProbeRate, cfg.ProbeStartupRate, cfg.ProbeStartupCount)
	}

	// The dispatch table: the forwarder reaches both engines, and the
	// IGMP engine reaches DVMRP for subtyped messages. No other cycles
	// exist.
	ige.SetDVMRP(dve.Process)
	fwd := mcast.NewForwarder(ige.Process, dve.Forward, log)

	r := &Router{
		Loop:      loop,
		Ifaces:    ifaces,
		Routes:    routes,
		Members:   members,
		IGMP:      ige,
		DVMRP:     dve,
		Forwarder: fwd,
		UDP:       udp.New(routes, ifaces, pipeline, log),
		Shell:     cli.New(),
		log:       log,
	}

	if err := r.Shell.Register("mcast", mcast.CLI(members, ifaces, fwd)); err != nil {
		return nil, err
	}
	if err := r.Shell.Register("dvmrp", dve.CLI()); err != nil {
		return nil, err
	}
	return r, nil
}

// Start schedules the periodic work: IGMP queries, DVMRP probes, and the
// membership expirer.
func (r *Router) Start() {
	r.IGMP.Start(r.Loop)
	r.DVMRP.Start(r.Loop)
	timer.Every(r.Loop, mcast.ExpireInterval, r.Members.ExpireTick)
}

// Process is the IP-input hook. Class-D destinations enter the multicast
// core; unicast UDP goes to the user API. Must run on the event loop.
func (r *Router) Process(p *packet.Packet) bool {
	if p.DstAddr().IsMulticast() {
		return r.Forwarder.Process(p)
	}
	if p.IP.Protocol == ip.ProtocolUDP {
		return r.UDP.Process(p)
	}
	return false
}

// MembershipAdd records local interest in a group on an interface and
// grafts the distribution tree back if it had been pruned.
func (r *Router) MembershipAdd(ifid int, group inet.Addr) {
	r.Members.Add(ifid, group)
	if ifc := r.Ifaces.Get(ifid); ifc != nil {
		r.DVMRP.Graft(group, ifc)
	}
}

// MembershipRemove drops local interest in a group on an interface.
func (r *Router) MembershipRemove(ifid int, group inet.Addr) {
	r.Members.Remove(ifid, group)
}

// MembershipGet reports local interest in a group on an interface.
func (r *Router) MembershipGet(ifid int, group inet.Addr) bool {
	return r.Members.Get(ifid, group)
}
