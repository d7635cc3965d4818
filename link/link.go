// Package link opens the network devices a host exchanges Ethernet frames
// through. Backends register themselves by name and are selected by
// configuration; their options are decoded from a generic map.
package link

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Backend names.
const (
	TypeAFPacket = "afpacket"
	TypeRawSock  = "rawsock"
	TypeTap      = "tap"
)

var ErrUnknownType = errors.New("unknown device type")

// Device reads and writes whole Ethernet frames. Read blocks until a frame
// arrives or the device is closed.
type Device interface {
	Read(frame []byte) (int, error)
	Write(frame []byte) (int, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Type      string
	Interface string
	// Promiscuous asks the backend to receive frames addressed to other hosts.
	Promiscuous bool
	// Options are backend specific, see [AFPacketOptions], [RawSockOptions]
	// and [TapOptions].
	Options map[string]interface{}
}

// Opener opens a Device for cfg.
type Opener func(cfg Config) (Device, error)

var (
	mu      sync.RWMutex
	openers = make(map[string]Opener)
)

// Register makes a backend available to [Open] under name. It panics if name
// is registered twice.
func Register(name string, fn Opener) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := openers[name]; dup {
		panic("link: backend registered twice: " + name)
	}
	openers[name] = fn
}

// Open opens the backend named by cfg.Type.
func Open(cfg Config) (Device, error) {
	mu.RLock()
	fn, ok := openers[cfg.Type]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	dev, err := fn(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s on %q: %w", cfg.Type, cfg.Interface, err)
	}
	return dev, nil
}

// Types returns the registered backend names in order.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// AFPacketOptions configure the memory mapped TPACKET_V3 backend.
type AFPacketOptions struct {
	SnapLen      int           `mapstructure:"snap_len"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
	// Filter installs a kernel filter passing only ARP and IPv4 frames.
	Filter bool `mapstructure:"filter"`
}

func defaultAFPacketOptions() AFPacketOptions {
	return AFPacketOptions{
		SnapLen:      65536,
		BufferSizeMB: 8,
		PollTimeout:  100 * time.Millisecond,
		Filter:       true,
	}
}

// RawSockOptions configure the plain AF_PACKET socket backend.
type RawSockOptions struct {
	Filter bool `mapstructure:"filter"`
}

func defaultRawSockOptions() RawSockOptions {
	return RawSockOptions{Filter: true}
}

// TapOptions configure the TAP backend.
type TapOptions struct {
	// Address, in CIDR notation, is assigned to the kernel side of the TAP
	// interface when set.
	Address string `mapstructure:"address"`
}

// decodeOptions decodes opts over the defaults already in out. Unknown keys
// are an error.
func decodeOptions(opts map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(opts); err != nil {
		return fmt.Errorf("device options: %w", err)
	}
	return nil
}
