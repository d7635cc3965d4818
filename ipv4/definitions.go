package ipv4

import "errors"

const (
	sizeHeader = 20
	// DefaultTTL is the time to live of datagrams originated by this host.
	DefaultTTL = 64
)

var (
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrUnimplemented       = errors.New("unimplemented")
	ErrInvalidPacket       = errors.New("invalid IP packet")
	ErrInvalidChecksum     = errors.New("invalid checksum")
)

// ICMPError wraps an error returned while processing the ICMP payload of a datagram.
type ICMPError struct {
	Err error
}

func (e *ICMPError) Error() string { return "ICMP: " + e.Err.Error() }

func (e *ICMPError) Unwrap() error { return e.Err }

// IsICMP reports whether err originated in ICMP processing.
func IsICMP(err error) bool {
	var icmpErr *ICMPError
	return errors.As(err, &icmpErr)
}

// Flags holds fragmentation field data of an IPv4 header. It is 16 bits long.
type Flags uint16

// FlagDontFragment forbids fragmentation of the datagram on its way.
const FlagDontFragment Flags = 1 << 14
