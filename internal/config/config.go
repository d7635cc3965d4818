// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"io"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	viphost "github.com/hajifkd/virtual-ip-host"
	"github.com/hajifkd/virtual-ip-host/internal/log"
	"github.com/hajifkd/virtual-ip-host/link"
)

// Config is the static configuration of a virtual host.
// Maps to the `vhost:` root key in YAML.
type Config struct {
	Interface string `mapstructure:"interface" yaml:"interface"`
	// HardwareAddr of the host. Empty = hardware address of Interface.
	HardwareAddr string `mapstructure:"hardware_addr" yaml:"hardware_addr"`
	Address      string `mapstructure:"address" yaml:"address"`
	// Promiscuous accepts frames addressed to other hosts into validation.
	Promiscuous   bool          `mapstructure:"promiscuous" yaml:"promiscuous"`
	QueueCapacity int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	Device        DeviceConfig  `mapstructure:"device" yaml:"device"`
	ARP           ARPConfig     `mapstructure:"arp" yaml:"arp"`
	IP            IPConfig      `mapstructure:"ip" yaml:"ip"`
	Capture       CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Metrics       MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log           log.Config    `mapstructure:"log" yaml:"log"`
}

// DeviceConfig selects the link backend. Options are decoded by the backend.
type DeviceConfig struct {
	Type    string                 `mapstructure:"type" yaml:"type"` // one of link.Types()
	Options map[string]interface{} `mapstructure:"options" yaml:"options,omitempty"`
}

// ARPConfig holds address resolution settings. Zero durations disable aging and timeouts.
type ARPConfig struct {
	CacheSize      int           `mapstructure:"cache_size" yaml:"cache_size"` // 0 = unbounded
	CacheTTL       time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout" yaml:"resolve_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

type IPConfig struct {
	TTL int `mapstructure:"ttl" yaml:"ttl"`
}

// CaptureConfig mirrors every frame read or written into a pcap file.
type CaptureConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	SnapLen int    `mapstructure:"snap_len" yaml:"snap_len"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type configRoot struct {
	VHost Config `mapstructure:"vhost" yaml:"vhost"`
}

// Load loads configuration from the YAML file at path. An empty path
// loads defaults and environment overrides only.
// Env vars use the VHOST_ prefix (e.g., VHOST_ADDRESS, VHOST_ARP_CACHE_TTL).
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Key "vhost.arp.cache_ttl" maps to env "VHOST_ARP_CACHE_TTL".
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.VHost
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values. Every key must have one for env overrides to apply.
func setDefaults(v *viper.Viper) {
	v.SetDefault("vhost.interface", "eth0")
	v.SetDefault("vhost.hardware_addr", "")
	v.SetDefault("vhost.address", "")
	v.SetDefault("vhost.promiscuous", false)
	v.SetDefault("vhost.queue_capacity", 256)

	v.SetDefault("vhost.device.type", "afpacket")

	v.SetDefault("vhost.arp.cache_size", 0)
	v.SetDefault("vhost.arp.cache_ttl", "0s")
	v.SetDefault("vhost.arp.resolve_timeout", "0s")
	v.SetDefault("vhost.arp.sweep_interval", "1s")

	v.SetDefault("vhost.ip.ttl", 64)

	v.SetDefault("vhost.capture.enabled", false)
	v.SetDefault("vhost.capture.path", "vhost.pcap")
	v.SetDefault("vhost.capture.snap_len", 65536)

	v.SetDefault("vhost.metrics.enabled", false)
	v.SetDefault("vhost.metrics.listen", ":9091")
	v.SetDefault("vhost.metrics.path", "/metrics")

	v.SetDefault("vhost.log.level", "info")
	v.SetDefault("vhost.log.format", "text")
	v.SetDefault("vhost.log.file.enabled", false)
	v.SetDefault("vhost.log.file.path", "/var/log/vhost/vhost.log")
	v.SetDefault("vhost.log.file.max_size_mb", 100)
	v.SetDefault("vhost.log.file.max_backups", 5)
	v.SetDefault("vhost.log.file.max_age_days", 30)
	v.SetDefault("vhost.log.file.compress", true)
}

// ValidateAndApplyDefaults validates configuration and fills values derived at runtime.
func (cfg *Config) ValidateAndApplyDefaults() error {
	if !log.ValidLevel(cfg.Log.Level) {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text", "pattern":
	default:
		return fmt.Errorf("invalid log format: %s (must be json/text/pattern)", cfg.Log.Format)
	}

	if cfg.Address == "" {
		return fmt.Errorf("address is required")
	}
	if _, err := viphost.ParseIPAddr(cfg.Address); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	if cfg.HardwareAddr == "" {
		iface, err := net.InterfaceByName(cfg.Interface)
		if err != nil {
			return fmt.Errorf("hardware_addr not set and interface lookup failed: %w", err)
		}
		cfg.HardwareAddr = iface.HardwareAddr.String()
	}
	if _, err := viphost.ParseMAC(cfg.HardwareAddr); err != nil {
		return fmt.Errorf("invalid hardware_addr: %w", err)
	}

	if cfg.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", cfg.QueueCapacity)
	}
	if types := link.Types(); !slices.Contains(types, cfg.Device.Type) {
		return fmt.Errorf("unsupported device.type: %s (must be %s)", cfg.Device.Type, strings.Join(types, "/"))
	}
	if cfg.ARP.CacheSize < 0 {
		return fmt.Errorf("arp.cache_size must not be negative")
	}
	if cfg.ARP.CacheTTL < 0 || cfg.ARP.ResolveTimeout < 0 {
		return fmt.Errorf("arp durations must not be negative")
	}
	if (cfg.ARP.CacheTTL > 0 || cfg.ARP.ResolveTimeout > 0) && cfg.ARP.SweepInterval <= 0 {
		return fmt.Errorf("arp.sweep_interval must be positive when aging is enabled")
	}
	if cfg.IP.TTL < 1 || cfg.IP.TTL > 255 {
		return fmt.Errorf("ip.ttl out of range: %d", cfg.IP.TTL)
	}
	if cfg.Capture.Enabled && cfg.Capture.Path == "" {
		return fmt.Errorf("capture.path is required when capture.enabled=true")
	}
	if cfg.Capture.SnapLen <= 0 {
		cfg.Capture.SnapLen = 65536
	}
	return nil
}

// MAC returns the parsed hardware address. Valid after ValidateAndApplyDefaults.
func (cfg *Config) MAC() viphost.MACAddr {
	mac, _ := viphost.ParseMAC(cfg.HardwareAddr)
	return mac
}

// IPAddr returns the parsed host address. Valid after ValidateAndApplyDefaults.
func (cfg *Config) IPAddr() viphost.IPAddr {
	ip, _ := viphost.ParseIPAddr(cfg.Address)
	return ip
}

// Dump writes cfg as YAML under the `vhost:` root key.
func (cfg *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(configRoot{VHost: *cfg}); err != nil {
		return err
	}
	return enc.Close()
}
