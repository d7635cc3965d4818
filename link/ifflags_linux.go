//go:build linux

package link

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// setIfFlag sets or clears flag on the named interface and reports whether
// the flags changed.
func setIfFlag(name string, flag uint16, on bool) (changed bool, err error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return false, os.NewSyscallError("socket", err)
	}
	defer unix.Close(fd)
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return false, err
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return false, fmt.Errorf("get flags of %s: %w", name, err)
	}
	flags := ifr.Uint16()
	want := flags &^ flag
	if on {
		want = flags | flag
	}
	if want == flags {
		return false, nil
	}
	ifr.SetUint16(want)
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return false, fmt.Errorf("set flags of %s: %w", name, err)
	}
	return true, nil
}

// htons converts a uint16 from host to network byte order.
func htons(i uint16) uint16 { return (i<<8)&0xff00 | i>>8 }

// fileDevice is a Device over a non-blocking descriptor registered with the
// runtime poller, so Close unblocks a pending Read.
type fileDevice struct {
	f *os.File
}

func newFileDevice(fd int, name string) *fileDevice {
	return &fileDevice{f: os.NewFile(uintptr(fd), name)}
}

func (d *fileDevice) Read(b []byte) (int, error)  { return d.f.Read(b) }
func (d *fileDevice) Write(b []byte) (int, error) { return d.f.Write(b) }
func (d *fileDevice) Close() error                { return d.f.Close() }
