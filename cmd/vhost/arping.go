package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	viphost "github.com/hajifkd/virtual-ip-host"
	"github.com/hajifkd/virtual-ip-host/internet"
)

var arpingTimeout time.Duration

// arpingCmd represents the arping command
var arpingCmd = &cobra.Command{
	Use:   "arping <address>",
	Short: "Resolve the hardware address of a peer with ARP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dst, err := viphost.ParseIPAddr(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		h, err := buildHost(cfg)
		if err != nil {
			return fmt.Errorf("failed to build host: %w", err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = h.serve(ctx, func(ctx context.Context) error {
			return runARPing(ctx, h.stack, dst, arpingTimeout, cmd.OutOrStdout())
		})
		return multierr.Append(err, h.close(context.Background()))
	},
}

func init() {
	arpingCmd.Flags().DurationVarP(&arpingTimeout, "timeout", "w", time.Second, "wait for the reply")
}

func runARPing(ctx context.Context, s *internet.Stack, dst viphost.IPAddr, timeout time.Duration, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	fmt.Fprintf(w, "ARPING %s\n", dst)
	start := time.Now()
	mac, err := s.Resolve(ctx, dst)
	if err != nil {
		return fmt.Errorf("no ARP reply from %s: %w", dst, err)
	}
	fmt.Fprintf(w, "Unicast reply from %s [%s] %s ms\n", dst, mac, ms(time.Since(start)))
	return nil
}
