//go:build linux

package link

import (
	"math"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

func init() { Register(TypeRawSock, openRawSock) }

// openRawSock binds an AF_PACKET raw socket to the interface. Promiscuous
// mode is a socket membership and ends with the socket.
func openRawSock(cfg Config) (Device, error) {
	opts := defaultRawSockOptions()
	if err := decodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, err
	}
	proto := htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := setupRawSock(fd, iface, proto, cfg.Promiscuous, opts); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return newFileDevice(fd, "packet:"+iface.Name), nil
}

func setupRawSock(fd int, iface *net.Interface, proto uint16, promisc bool, opts RawSockOptions) error {
	if opts.Filter {
		raw, err := FrameFilter(math.MaxUint32)
		if err != nil {
			return err
		}
		filter := make([]unix.SockFilter, len(raw))
		for i, ins := range raw {
			filter[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
		}
		prog := unix.SockFprog{Len: uint16(len(filter)), Filter: &filter[0]}
		if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &prog); err != nil {
			return os.NewSyscallError("setsockopt SO_ATTACH_FILTER", err)
		}
	}
	ll := unix.SockaddrLinklayer{Protocol: proto, Ifindex: iface.Index}
	if err := unix.Bind(fd, &ll); err != nil {
		return os.NewSyscallError("bind", err)
	}
	if promisc {
		mreq := unix.PacketMreq{Ifindex: int32(iface.Index), Type: unix.PACKET_MR_PROMISC}
		if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq); err != nil {
			return os.NewSyscallError("setsockopt PACKET_ADD_MEMBERSHIP", err)
		}
	}
	return nil
}
