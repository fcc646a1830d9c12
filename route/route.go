// Package route holds the static unicast route table. It is read two ways:
// longest-prefix lookups on the UDP send path, and a full snapshot when
// DVMRP imports its source routes.
package route

import (
	"errors"
	"fmt"

	"github.com/sciyoshi/gini/inet"
)

// Max is the route table capacity.
const Max = 20

// ErrTableFull reports an insert into a full table.
var ErrTableFull = errors.New("route: table full")

// Entry is one unicast route.
type Entry struct {
	Network inet.Addr
	Netmask inet.Addr
	Nexthop inet.Addr
	Iface   int
}

// String implements fmt.Stringer.
func (e Entry) String() string {
	return fmt.Sprintf("%s/%s via %s dev %d", e.Network, e.Netmask, e.Nexthop, e.Iface)
}

// Table is a fixed-capacity unicast route table.
type Table struct {
	entries []Entry
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make([]Entry, 0, Max)}
}

// Add inserts a route. The network is stored masked.
func (t *Table) Add(network, netmask, nexthop inet.Addr, ifid int) error {
	if len(t.entries) >= Max {
		return ErrTableFull
	}
	t.entries = append(t.entries, Entry{
		Network: network & netmask,
		Netmask: netmask,
		Nexthop: nexthop,
		Iface:   ifid,
	})
	return nil
}

// Lookup returns the longest-prefix match for dst.
func (t *Table) Lookup(dst inet.Addr) (Entry, bool) {
	var best Entry
	found := false
	for _, e := range t.entries {
		if inet.CmpMasked(dst, e.Network, e.Netmask) != 0 {
			continue
		}
		if !found || e.Netmask > best.Netmask {
			best = e
			found = true
		}
	}
	return best, found
}

// Entries returns a snapshot copy of the table in insertion order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}
