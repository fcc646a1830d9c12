// Command grouter runs the virtual multicast router: configured
// interfaces and static routes on the command line, the operator shell
// on stdin.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	gini "github.com/sciyoshi/gini"
	"github.com/sciyoshi/gini/iface"
	"github.com/sciyoshi/gini/inet"
	"github.com/sciyoshi/gini/packet"
)

func main() {
	cfg := gini.DefaultConfig()
	var ifaceSpecs, routeSpecs []string

	root := &cobra.Command{
		Use:   "grouter",
		Short: "virtual software router with IP multicast",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg, ifaceSpecs, routeSpecs)
		},
	}

	flags := root.Flags()
	flags.StringArrayVar(&ifaceSpecs, "iface", nil, "interface as id,name,address (repeatable)")
	flags.StringArrayVar(&routeSpecs, "route", nil, "static route as network/prefix,nexthop,iface-id (repeatable)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "logrus level")
	flags.IntVar(&cfg.MTU, "mtu", cfg.MTU, "egress MTU")
	flags.DurationVar(&cfg.QueryRate, "igmp-query-rate", cfg.QueryRate, "steady IGMP query interval")
	flags.DurationVar(&cfg.ProbeRate, "dvmrp-update-rate", cfg.ProbeRate, "steady DVMRP probe interval")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg gini.Config, ifaceSpecs, routeSpecs []string) error {
	log := logrus.StandardLogger()

	router, err := gini.New(cfg, func(ifc *iface.Interface, p *packet.Packet) error {
		log.WithFields(logrus.Fields{
			"iface": ifc.Name,
			"src":   p.SrcAddr(),
			"dst":   p.DstAddr(),
			"proto": p.IP.Protocol,
		}).Debug("frame out")
		return nil
	})
	if err != nil {
		return err
	}

	for _, spec := range ifaceSpecs {
		if err := addInterface(router, spec); err != nil {
			return err
		}
	}
	for _, spec := range routeSpecs {
		if err := addRoute(router, spec); err != nil {
			return err
		}
	}
	router.DVMRP.RouteRefresh()

	router.Start()
	go router.Loop.Run()
	defer router.Loop.Stop()

	router.Shell.Run(os.Stdin, os.Stdout)
	return nil
}

func addInterface(router *gini.Router, spec string) error {
	parts := strings.Split(spec, ",")
	if len(parts) != 3 {
		return fmt.Errorf("bad --iface %q, want id,name,address", spec)
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("bad --iface id %q: %w", parts[0], err)
	}
	addr, err := inet.Parse(parts[2])
	if err != nil {
		return err
	}
	_, err = router.Ifaces.Add(id, parts[1], addr)
	return err
}

func addRoute(router *gini.Router, spec string) error {
	parts := strings.Split(spec, ",")
	if len(parts) != 3 {
		return fmt.Errorf("bad --route %q, want network/prefix,nexthop,iface-id", spec)
	}
	_, network, err := net.ParseCIDR(parts[0])
	if err != nil {
		return fmt.Errorf("bad --route network %q: %w", parts[0], err)
	}
	nexthop := inet.Addr(0)
	if parts[1] != "" && parts[1] != "0" {
		if nexthop, err = inet.Parse(parts[1]); err != nil {
			return err
		}
	}
	ifid, err := strconv.Atoi(parts[2])
	if err != nil {
		return fmt.Errorf("bad --route iface %q: %w", parts[2], err)
	}
	mask := inet.Addr(0)
	if ones, _ := network.Mask.Size(); ones > 0 {
		mask = inet.Addr(^uint32(0) << (32 - ones))
	}
	return router.Routes.Add(inet.FromIP(network.IP), mask, nexthop, ifid)
}
