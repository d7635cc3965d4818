package viphost

import "strconv"

// EtherType is the 16-bit field of an Ethernet header identifying the encapsulated protocol.
type EtherType uint16

// IsSize returns true if the EtherType is actually the size of the payload
// and should NOT be interpreted as an EtherType.
func (et EtherType) IsSize() bool { return et <= 1500 }

// Ethernet type flags handled or recognized by the stack.
const (
	EtherTypeIPv4 EtherType = 0x0800 // IPv4
	EtherTypeARP  EtherType = 0x0806 // ARP
	EtherTypeRARP EtherType = 0x8035 // RARP
	EtherTypeIPv6 EtherType = 0x86DD // IPv6
	EtherTypeVLAN EtherType = 0x8100 // VLAN
	EtherTypeLLDP EtherType = 0x88CC // LLDP
)

func (et EtherType) String() string {
	switch et {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	case EtherTypeRARP:
		return "RARP"
	case EtherTypeIPv6:
		return "IPv6"
	case EtherTypeVLAN:
		return "VLAN"
	case EtherTypeLLDP:
		return "LLDP"
	}
	return "EtherType(0x" + strconv.FormatUint(uint64(et), 16) + ")"
}

// IPProto represents the IP protocol number.
type IPProto uint8

// IP protocol numbers.
const (
	IPProtoICMP IPProto = 1  // ICMP
	IPProtoIGMP IPProto = 2  // IGMP
	IPProtoTCP  IPProto = 6  // TCP
	IPProtoUDP  IPProto = 17 // UDP
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoIGMP:
		return "IGMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	}
	return "IPProto(" + strconv.Itoa(int(p)) + ")"
}

// Destination classifies an inbound frame by its destination hardware address.
type Destination uint8

const (
	// ToMyself frames carry this host's hardware address as destination.
	ToMyself Destination = iota
	// Broadcast frames are sent to ff:ff:ff:ff:ff:ff.
	Broadcast
	// Promiscuous frames were addressed to some other host and are only
	// seen because the interface delivers every frame on the wire.
	Promiscuous
)

func (d Destination) String() string {
	switch d {
	case ToMyself:
		return "to-myself"
	case Broadcast:
		return "broadcast"
	case Promiscuous:
		return "promiscuous"
	}
	return "Destination(?)"
}

// ClassifyDestination classifies dst relative to own.
func ClassifyDestination(dst, own MACAddr) Destination {
	switch {
	case dst == own:
		return ToMyself
	case dst == BroadcastMAC:
		return Broadcast
	}
	return Promiscuous
}

// Reply is the outcome of parsing an inbound packet. A Reply with nil Data
// requires no transmission. Otherwise Data is to be sent to Dst, which is
// a hardware address for link level replies and an IP address for network level ones.
type Reply[A comparable] struct {
	Dst  A
	Data []byte
}

// IsNop reports whether there is nothing to transmit.
func (r Reply[A]) IsNop() bool { return r.Data == nil }
