package icmpv4

import (
	"errors"
	"strconv"
)

const (
	sizeHeader     = 4
	sizeHeaderEcho = 8
	// SinkCapacity is the number of undelivered echo replies buffered per identifier.
	SinkCapacity = 32
)

var (
	ErrUnsupportedType      = errors.New("unsupported type")
	ErrUnsupportedCode      = errors.New("unsupported code")
	ErrUnimplemented        = errors.New("unimplemented")
	ErrInvalidPacket        = errors.New("invalid ICMP packet")
	ErrInvalidChecksum      = errors.New("invalid checksum")
	ErrNoEmptyEchoBuffer    = errors.New("no empty echo buffer")
	ErrIdentifiersExhausted = errors.New("all echo identifiers in use")
	ErrNotRegistered        = errors.New("echo identifier not registered")
)

type Type uint8

const (
	TypeEchoReply Type = 0 // echo reply
	TypeEcho      Type = 8 // echo

	TypeDestinationUnreachable Type = 3  // destination unreachable
	TypeRedirect               Type = 5  // redirect
	TypeTimeExceeded           Type = 11 // time exceeded
	TypeParameterProblem       Type = 12 // parameter problem
)

func (t Type) String() string {
	switch t {
	case TypeEchoReply:
		return "echo reply"
	case TypeEcho:
		return "echo"
	case TypeDestinationUnreachable:
		return "destination unreachable"
	case TypeRedirect:
		return "redirect"
	case TypeTimeExceeded:
		return "time exceeded"
	case TypeParameterProblem:
		return "parameter problem"
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}
