package igmp

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sciyoshi/gini/counter"
	"github.com/sciyoshi/gini/event"
	"github.com/sciyoshi/gini/iface"
	"github.com/sciyoshi/gini/inet"
	"github.com/sciyoshi/gini/ip"
	"github.com/sciyoshi/gini/mcast"
	"github.com/sciyoshi/gini/packet"
	"github.com/sciyoshi/gini/timer"
)

// Query pacing: a short startup burst, then the steady rate.
const (
	QueryRate         = 60 * time.Second
	QueryStartupRate  = 4 * time.Second
	QueryStartupCount = 3
)

// Errors recovered locally by Process.
var (
	ErrChecksum            = errors.New("igmp: checksum mismatch")
	ErrDestinationMismatch = errors.New("igmp: IP destination does not match group address")
)

// Engine emits periodic membership queries and feeds reports into the
// membership table. DVMRP-subtyped messages are handed down through the
// dispatch table.
type Engine struct {
	ifaces  *iface.Registry
	members *mcast.Memberships
	sender  ip.Sender
	dvmrp   packet.Handler
	log     *logrus.Entry
	stats   *counter.Set

	// querierLost records interfaces where a lower-addressed querier was
	// heard. The query timer keeps running.
	querierLost [iface.Max]bool

	queryRate    time.Duration
	startupRate  time.Duration
	startupCount int
}

// New creates the engine with the default query pacing.
func New(ifaces *iface.Registry, members *mcast.Memberships, sender ip.Sender, log *logrus.Logger) *Engine {
	return &Engine{
		ifaces:       ifaces,
		members:      members,
		sender:       sender,
		log:          log.WithField("subsys", "igmp"),
		stats:        counter.NewSet(),
		queryRate:    QueryRate,
		startupRate:  QueryStartupRate,
		startupCount: QueryStartupCount,
	}
}

// SetDVMRP wires the DVMRP branch of the dispatch table.
func (e *Engine) SetDVMRP(h packet.Handler) {
	e.dvmrp = h
}

// SetRates overrides the query pacing.
func (e *Engine) SetRates(query, startup time.Duration, startupCount int) {
	e.queryRate = query
	e.startupRate = startup
	e.startupCount = startupCount
}

// Start schedules the startup query burst and the steady-state query
// timer on the loop.
func (e *Engine) Start(loop *event.Loop) {
	count := e.startupCount
	timer.Every(loop, e.startupRate, func() bool {
		e.QueryTick()
		count--
		return count > 0
	})
	timer.Every(loop, e.queryRate, e.QueryTick)
}

// QueryTick sends one membership query to the all-hosts group on every
// interface. Always reschedules.
func (e *Engine) QueryTick() bool {
	e.log.Debug("sending IGMP query on all interfaces")
	for ifc := e.ifaces.Next(nil); ifc != nil; ifc = e.ifaces.Next(ifc) {
		e.sendQuery(ifc)
	}
	return true
}

func (e *Engine) sendQuery(ifc *iface.Interface) {
	p := packet.New()
	p.Payload = Header{Version: Version, Type: TypeQuery}.Marshal()
	ip.Prepare(p, ifc.Addr, inet.AllHosts, HeaderLen, 1, ip.ProtocolIGMP)
	p.Frame.DstIface = ifc.ID
	p.Frame.ARPBcast = true
	e.stats.Get("queries-sent").Increment()
	if err := e.sender.Send(p); err != nil {
		e.log.WithError(err).WithField("iface", ifc.Name).Debug("query send failed")
	}
}

// QuerierLost reports whether a lower-addressed querier was heard on the
// interface.
func (e *Engine) QuerierLost(ifid int) bool {
	if ifid < 0 || ifid >= iface.Max {
		return false
	}
	return e.querierLost[ifid]
}

// Stats returns the engine's counters.
func (e *Engine) Stats() *counter.Set {
	return e.stats
}

// Process handles one incoming IGMP message. Returns true if the packet
// was consumed; on any drop, ownership reverts to the caller.
func (e *Engine) Process(p *packet.Packet) bool {
	in := p.Frame.SrcIface
	ifc := e.ifaces.Get(in)
	if ifc == nil {
		e.stats.Get("drops").Increment()
		e.log.WithError(iface.ErrInvalidInterface).WithField("iface", in).Debug("dropping IGMP packet")
		return false
	}
	if !Valid(p.Payload) {
		e.stats.Get("drops").Increment()
		e.log.WithError(ErrChecksum).WithField("iface", ifc.Name).Debug("dropping IGMP packet")
		return false
	}
	h, err := Parse(p.Payload)
	if err != nil {
		e.stats.Get("drops").Increment()
		e.log.WithError(err).Debug("dropping IGMP packet")
		return false
	}

	switch h.Type {
	case TypeQuery:
		// Querier election: the numerically lowest address on a segment
		// queries it. The condition is recorded but the timer keeps
		// running.
		if p.SrcAddr() < ifc.Addr {
			e.querierLost[in] = true
			e.log.WithFields(logrus.Fields{
				"iface": ifc.Name,
				"peer":  p.SrcAddr(),
			}).Debug("lost querier election")
		}
		e.stats.Get("queries-heard").Increment()
		return true

	case TypeReport:
		// RFC 1112, Appendix I: the report must be addressed to the
		// group it names.
		if p.DstAddr() != h.Group {
			e.stats.Get("drops").Increment()
			e.log.WithError(ErrDestinationMismatch).WithFields(logrus.Fields{
				"dst":   p.DstAddr(),
				"group": h.Group,
			}).Debug("dropping IGMP report")
			return false
		}
		e.stats.Get("reports").Increment()
		e.log.WithFields(logrus.Fields{
			"iface": ifc.Name,
			"group": h.Group,
		}).Debug("membership report")
		e.members.Add(in, h.Group)
		return true

	case TypeDVMRP:
		if e.dvmrp == nil {
			return false
		}
		return e.dvmrp(p)

	default:
		e.stats.Get("drops").Increment()
		e.log.WithField("type", h.Type).Debug("silently dropping unknown IGMP message type")
		return false
	}
}
