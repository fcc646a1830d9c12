// Package iface enumerates the router's configured interfaces. Handles are
// owned by the registry; the multicast subsystems keep only borrowed
// pointers that remain valid for the lifetime of the process.
package iface

import (
	"errors"
	"fmt"

	"github.com/sciyoshi/gini/inet"
)

// Max is the number of interface slots. Interface ids are dense small
// integers in [0, Max).
const Max = 20

// ErrInvalidInterface reports an interface id outside the configured set.
var ErrInvalidInterface = errors.New("iface: invalid interface")

// Interface is one configured interface.
type Interface struct {
	ID   int
	Name string
	Addr inet.Addr // configured unicast address, host order
	MAC  [6]byte
}

// Registry holds the configured interfaces indexed by id.
type Registry struct {
	ifaces [Max]*Interface
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add configures an interface. The MAC is synthesized from the id since
// the router's links are virtual.
func (r *Registry) Add(id int, name string, addr inet.Addr) (*Interface, error) {
	if id < 0 || id >= Max {
		return nil, fmt.Errorf("%w: id %d out of range", ErrInvalidInterface, id)
	}
	if r.ifaces[id] != nil {
		return nil, fmt.Errorf("iface: id %d already configured as %s", id, r.ifaces[id].Name)
	}
	ifc := &Interface{
		ID:   id,
		Name: name,
		Addr: addr,
		MAC:  [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, byte(id)},
	}
	r.ifaces[id] = ifc
	return ifc, nil
}

// Get returns the interface with the given id, or nil.
func (r *Registry) Get(id int) *Interface {
	if id < 0 || id >= Max {
		return nil
	}
	return r.ifaces[id]
}

// Next iterates the configured interfaces in ascending id order. Pass nil
// to get the first interface; returns nil past the last one.
func (r *Registry) Next(prev *Interface) *Interface {
	start := 0
	if prev != nil {
		start = prev.ID + 1
	}
	for id := start; id < Max; id++ {
		if r.ifaces[id] != nil {
			return r.ifaces[id]
		}
	}
	return nil
}
