// Command vhost runs a virtual IPv4 host that answers ARP and ICMP echo on a
// network interface, and pings or arpings from it.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
