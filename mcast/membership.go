// Package mcast tracks host group memberships per interface and dispatches
// incoming class-D datagrams to the IGMP engine or the DVMRP forwarder.
package mcast

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sciyoshi/gini/event"
	"github.com/sciyoshi/gini/iface"
	"github.com/sciyoshi/gini/inet"
)

// MembershipExpiration is how long a membership survives without a
// refreshing report.
const MembershipExpiration = 90 * time.Second

// ExpireInterval is the expirer tick period.
const ExpireInterval = 10 * time.Second

// Membership is one (group, last-report) record on an interface.
type Membership struct {
	Group      inet.Addr
	LastReport time.Time
}

// Memberships maps (interface, group) to the time of the last report.
// Mutated only on the event loop.
type Memberships struct {
	clock  event.Clock
	log    *logrus.Entry
	groups [iface.Max]map[inet.Addr]time.Time
}

// NewMemberships creates an empty membership table.
func NewMemberships(clock event.Clock, log *logrus.Logger) *Memberships {
	return &Memberships{
		clock: clock,
		log:   log.WithField("subsys", "mcast"),
	}
}

// Add upserts a membership, refreshing its timestamp. The per-interface
// sub-table is created on first insertion.
func (m *Memberships) Add(ifid int, group inet.Addr) {
	if ifid < 0 || ifid >= iface.Max {
		return
	}
	if m.groups[ifid] == nil {
		m.groups[ifid] = make(map[inet.Addr]time.Time)
	}
	m.log.WithFields(logrus.Fields{"iface": ifid, "group": group}).Debug("adding membership")
	m.groups[ifid][group] = m.clock.Now()
}

// Remove deletes a membership if present.
func (m *Memberships) Remove(ifid int, group inet.Addr) {
	if ifid < 0 || ifid >= iface.Max || m.groups[ifid] == nil {
		return
	}
	delete(m.groups[ifid], group)
}

// Get reports whether the interface has a live membership for the group.
func (m *Memberships) Get(ifid int, group inet.Addr) bool {
	if ifid < 0 || ifid >= iface.Max || m.groups[ifid] == nil {
		return false
	}
	_, ok := m.groups[ifid][group]
	return ok
}

// Groups returns the interface's memberships sorted by group address.
func (m *Memberships) Groups(ifid int) []Membership {
	if ifid < 0 || ifid >= iface.Max {
		return nil
	}
	out := make([]Membership, 0, len(m.groups[ifid]))
	for group, last := range m.groups[ifid] {
		out = append(out, Membership{Group: group, LastReport: last})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

// ExpireTick removes every membership older than MembershipExpiration.
// Expired keys are collected first and deleted after, so the scan never
// mutates a sub-table mid-traversal. Always reschedules.
func (m *Memberships) ExpireTick() bool {
	now := m.clock.Now()
	for ifid := range m.groups {
		if m.groups[ifid] == nil {
			continue
		}
		var expired []inet.Addr
		for group, last := range m.groups[ifid] {
			if now.Sub(last) > MembershipExpiration {
				expired = append(expired, group)
			}
		}
		for _, group := range expired {
			m.log.WithFields(logrus.Fields{"iface": ifid, "group": group}).Debug("removing expired membership")
			delete(m.groups[ifid], group)
		}
	}
	return true
}
