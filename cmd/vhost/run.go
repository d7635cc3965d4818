package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve ARP and ICMP echo until interrupted",
	Long: `Run the virtual host in the foreground.

The host will:
  1. Open the configured device on the interface
  2. Answer ARP requests for its address
  3. Reply to ICMP echo requests addressed to it
  4. Stop on SIGINT or SIGTERM

A full receive queue or a device failure stops the host with an error.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		h.logger.WithFields(map[string]interface{}{
			"interface": cfg.Interface,
			"device":    cfg.Device.Type,
			"address":   cfg.Address,
			"mac":       cfg.HardwareAddr,
		}).Infof("starting virtual host")
		err = h.stack.Run(ctx)
		return multierr.Append(err, h.close(context.Background()))
	},
}
