package viphost

import (
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"strconv"
)

// MACAddr is an Ethernet hardware address.
type MACAddr [6]byte

// BroadcastMAC is the all-ones Ethernet broadcast address ff:ff:ff:ff:ff:ff.
var BroadcastMAC = MACAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// IsBroadcast reports whether mac is the broadcast address.
func (mac MACAddr) IsBroadcast() bool { return mac == BroadcastMAC }

// AppendText appends the colon separated hex representation of mac to dst.
func (mac MACAddr) AppendText(dst []byte) []byte {
	for i, b := range mac {
		if i != 0 {
			dst = append(dst, ':')
		}
		if b < 16 {
			dst = append(dst, '0')
		}
		dst = strconv.AppendUint(dst, uint64(b), 16)
	}
	return dst
}

func (mac MACAddr) String() string {
	var buf [17]byte
	return string(mac.AppendText(buf[:0]))
}

// ParseMAC parses a 48 bit hardware address such as "02:00:00:ef:24:a8".
func ParseMAC(s string) (mac MACAddr, err error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return mac, err
	} else if len(hw) != len(mac) {
		return mac, errors.New("hardware address is not 48 bits")
	}
	copy(mac[:], hw)
	return mac, nil
}

// IPAddr is an IPv4 address held in host order. Conversion from and to the
// network order used on the wire is always explicit, see [IPAddrFromNetwork]
// and [IPAddr.Network].
type IPAddr uint32

// BroadcastIP is the limited broadcast address 255.255.255.255.
const BroadcastIP IPAddr = 0xffff_ffff

// IPAddrFromNetwork converts a network order (big endian) address to an IPAddr.
func IPAddrFromNetwork(b [4]byte) IPAddr {
	return IPAddr(binary.BigEndian.Uint32(b[:]))
}

// IPAddrFromSlice converts the first 4 bytes of b, in network order, to an IPAddr.
func IPAddrFromSlice(b []byte) IPAddr {
	return IPAddr(binary.BigEndian.Uint32(b[:4]))
}

// IPAddrFrom converts a netip.Addr to an IPAddr. ok is false if addr is not IPv4.
func IPAddrFrom(addr netip.Addr) (ip IPAddr, ok bool) {
	if !addr.Is4() && !addr.Is4In6() {
		return 0, false
	}
	return IPAddrFromNetwork(addr.As4()), true
}

// ParseIPAddr parses a dotted decimal IPv4 address.
func ParseIPAddr(s string) (IPAddr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0, err
	}
	ip, ok := IPAddrFrom(addr)
	if !ok {
		return 0, errors.New("not an IPv4 address: " + s)
	}
	return ip, nil
}

// Network returns the address in network order as it appears on the wire.
func (ip IPAddr) Network() (b [4]byte) {
	binary.BigEndian.PutUint32(b[:], uint32(ip))
	return b
}

// PutNetwork writes the address in network order into the first 4 bytes of dst.
func (ip IPAddr) PutNetwork(dst []byte) {
	binary.BigEndian.PutUint32(dst[:4], uint32(ip))
}

// Netip returns the address as a netip.Addr.
func (ip IPAddr) Netip() netip.Addr { return netip.AddrFrom4(ip.Network()) }

func (ip IPAddr) String() string { return ip.Netip().String() }
