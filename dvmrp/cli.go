package dvmrp

import (
	"fmt"
	"io"

	"github.com/sciyoshi/gini/inet"
)

// CLI handles the "dvmrp" operator command: "dvmrp init" reimports the
// route table, "dvmrp show" prints the edge classifications and the
// per-route group matrix.
func (e *Engine) CLI() func(argv []string, out io.Writer) {
	return func(argv []string, out io.Writer) {
		switch {
		case len(argv) == 2 && argv[1] == "init":
			e.RouteRefresh()

		case len(argv) == 2 && argv[1] == "show":
			e.show(out)

		default:
			fmt.Fprintln(out, "usage: dvmrp init|show")
		}
	}
}

func (e *Engine) show(out io.Writer) {
	for ifc := e.ifaces.Next(nil); ifc != nil; ifc = e.ifaces.Next(ifc) {
		kind := "Router"
		if e.edges[ifc.ID] {
			kind = "Edge"
		}
		fmt.Fprintf(out, "%-7s: %s\n", ifc.Name, kind)
	}

	sep := "----------------+-----------------+-----------\n"
	fmt.Fprint(out, sep)
	fmt.Fprintf(out, "%-15s | %-15s | %s\n", "Network", "Netmask", "Interface")
	fmt.Fprint(out, sep)

	for _, r := range e.routes {
		fmt.Fprintf(out, "%-15s | %-15s | %-6s\n", r.Network, r.Netmask, r.Iface.Name)

		fmt.Fprintf(out, "%-15s | %-15s |", "", "Multicast Group")
		for ifc := e.ifaces.Next(nil); ifc != nil; ifc = e.ifaces.Next(ifc) {
			fmt.Fprintf(out, " %-6s", ifc.Name)
		}
		fmt.Fprintln(out)

		fmt.Fprintf(out, "%-15s | %-15s |", "", "0.0.0.0")
		for ifc := e.ifaces.Next(nil); ifc != nil; ifc = e.ifaces.Next(ifc) {
			fmt.Fprintf(out, " %-6s", e.status(r, nil, ifc.ID))
		}
		fmt.Fprintln(out)

		r.groups.each(func(group inet.Addr, rg *RouteGroup) {
			fmt.Fprintf(out, "%-15s | %-15s |", "", group)
			for ifc := e.ifaces.Next(nil); ifc != nil; ifc = e.ifaces.Next(ifc) {
				fmt.Fprintf(out, " %-6s", e.status(r, rg, ifc.ID))
			}
			fmt.Fprintln(out)
		})

		fmt.Fprint(out, sep)
	}
}

// status renders one (route, group, interface) cell: IGMP-managed edge,
// non-child, pruned, or forwarding.
func (e *Engine) status(r *Route, rg *RouteGroup, ifid int) string {
	switch {
	case e.edges[ifid]:
		return "IGMP"
	case !r.Children[ifid]:
		return "No"
	case rg != nil && rg.Pruned[ifid] != 0:
		return "Pruned"
	}
	return "Yes"
}
