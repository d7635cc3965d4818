package arp

import (
	"errors"
	"strconv"
)

const (
	sizeHeader   = 8
	sizeHeaderv4 = sizeHeader + 6*2 + 4*2

	hardwareEthernet = 1
)

var (
	ErrUnsupportedHardwareAddressSpace = errors.New("unsupported hardware address space")
	ErrUnsupportedProtocolAddressSpace = errors.New("unsupported protocol address space")
	ErrUnsupportedOperationCode        = errors.New("unsupported operation code")
	ErrInvalidPacket                   = errors.New("invalid ARP packet")
	ErrResolveTimeout                  = errors.New("ARP resolution timed out")
)

// Operation represents the type of ARP packet, either request or reply/response.
type Operation uint16

const (
	OpRequest Operation = 1 // request
	OpReply   Operation = 2 // reply
)

func (op Operation) String() string {
	switch op {
	case OpRequest:
		return "request"
	case OpReply:
		return "reply"
	}
	return "Operation(" + strconv.Itoa(int(op)) + ")"
}
