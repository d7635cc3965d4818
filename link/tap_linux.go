//go:build linux

package link

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

func init() { Register(TypeTap, openTap) }

// openTap creates (or attaches to) a TAP interface and brings it up. The host
// is then a peer of the kernel on that link.
func openTap(cfg Config) (Device, error) {
	var opts TapOptions
	if err := decodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	if len(cfg.Interface) >= unix.IFNAMSIZ {
		return nil, errors.New("interface name too long")
	}
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open tun device: %w", err)
	}
	if err := setupTap(fd, cfg.Interface, opts); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return newFileDevice(fd, "tap:"+cfg.Interface), nil
}

func setupTap(fd int, name string, opts TapOptions) error {
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return err
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		return fmt.Errorf("creating tap interface: %w", os.NewSyscallError("ioctl", err))
	}
	if _, err := setIfFlag(name, unix.IFF_UP, true); err != nil {
		return err
	}
	if opts.Address != "" {
		out, err := exec.Command("ip", "addr", "add", opts.Address, "dev", name).CombinedOutput()
		if err != nil {
			return fmt.Errorf("failed to assign IP address %s: %w: %s", opts.Address, err, out)
		}
	}
	return nil
}
