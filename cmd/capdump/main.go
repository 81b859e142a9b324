// capdump prints the outbound capability set bgp-sessiond would
// advertise for each configured peer, for debugging negotiation
// problems without bringing a session up.
package main

import (
	"fmt"
	"os"

	"github.com/route-beacon/bgp-sessiond/internal/capability"
	"github.com/route-beacon/bgp-sessiond/internal/config"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	for _, pc := range cfg.PeerConfigs() {
		open, adv := capability.BuildOpen(&pc)

		fmt.Printf("=== peer %s (AS %d) ===\n", pc.Address, pc.AS)
		fmt.Printf("  my_as:           %d (as2: %d)\n", open.ASN, open.ASN2)
		fmt.Printf("  router_id:       %s\n", open.RouterID)
		fmt.Printf("  hold/keepalive:  %d/%d\n", open.HoldTime, open.Keepalive)
		fmt.Printf("  capabilities:    %v\n", open.CanCapability)
		fmt.Printf("  as4:             %v\n", open.CanAS4)
		fmt.Printf("  families:        %s\n", open.Families)
		fmt.Printf("  route_refresh:   %s\n", open.RouteRefresh)
		fmt.Printf("  orf_prefix:      %s (send: %s, recv: %s)\n",
			open.ORFPrefix, open.ORFSend, open.ORFRecv)
		fmt.Printf("  dynamic:         %v\n", open.CanDynamic)
		if open.CanGracefulRestart {
			fmt.Printf("  graceful_restart: yes, restart_time %ds\n", open.RestartTime)
		} else {
			fmt.Printf("  graceful_restart: no\n")
		}
		fmt.Printf("  advertises:      as4=%v refresh=%v dynamic=%v restart=%v\n",
			adv.AS4, adv.Refresh, adv.Dynamic, adv.Restart)
		fmt.Println()
	}
}
