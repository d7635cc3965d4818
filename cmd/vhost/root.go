package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hajifkd/virtual-ip-host/internal/config"
	"github.com/hajifkd/virtual-ip-host/internal/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vhost",
	Short: "vhost - a virtual IPv4 host in user space",
	Long: `vhost is a minimal user-space IPv4 host bound to a network interface.
It answers ARP requests for its address, replies to ICMP echo requests and
resolves link addresses of its peers, all without the kernel network stack.

Configuration is read from a YAML file (root key "vhost") and may be
overridden with VHOST_ environment variables, e.g. VHOST_ADDRESS=10.0.0.2.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line. It is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// No shorthand: -c is ping's count.
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file path (defaults and environment only when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log level (debug/info/warn/error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(arpingCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the configuration named by the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		if !log.ValidLevel(logLevel) {
			return nil, fmt.Errorf("invalid log level: %s", logLevel)
		}
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}
