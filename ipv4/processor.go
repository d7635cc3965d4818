package ipv4

import (
	"errors"
	"fmt"
	"sync"

	viphost "github.com/hajifkd/virtual-ip-host"
	"github.com/hajifkd/virtual-ip-host/internal"
	"github.com/hajifkd/virtual-ip-host/ipv4/icmpv4"
)

// ProcessorConfig configures a [Processor].
type ProcessorConfig struct {
	// Addr is the address of this host.
	Addr viphost.IPAddr
	// ICMP receives the payload of ICMP datagrams. Must not be nil.
	ICMP *icmpv4.Exchange
	// TTL of originated datagrams. Zero selects [DefaultTTL].
	TTL uint8
	// Seed of the identification sequence. Zero selects a fixed non-zero seed.
	Seed uint16
}

// Processor validates inbound IPv4 datagrams, hands their payload to the
// upper protocol and wraps upper protocol replies in an IPv4 header.
type Processor struct {
	addr viphost.IPAddr
	icmp *icmpv4.Exchange
	ttl  uint8

	mu sync.Mutex
	id uint16
}

// NewProcessor returns a Processor for cfg.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	switch {
	case cfg.ICMP == nil:
		return nil, errors.New("nil ICMP exchange")
	case cfg.Addr == 0:
		return nil, errors.New("zero IP address")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Seed == 0 {
		// Xorshift never leaves zero.
		cfg.Seed = 0x1b1d
	}
	return &Processor{addr: cfg.Addr, icmp: cfg.ICMP, ttl: cfg.TTL, id: cfg.Seed}, nil
}

// Addr returns the address of this host.
func (p *Processor) Addr() viphost.IPAddr { return p.addr }

// Parse validates the datagram in buf, received in a frame classified as dst,
// and processes its payload. A non-Nop reply holds a complete IPv4 datagram
// ready to be sent to the reply's destination.
//
// Fragments are processed as if they were complete datagrams.
func (p *Processor) Parse(buf []byte, dst viphost.Destination) (viphost.Reply[viphost.IPAddr], error) {
	var nop viphost.Reply[viphost.IPAddr]
	ifrm, err := NewFrame(buf)
	if err != nil {
		return nop, fmt.Errorf("%w: datagram of %d bytes", ErrInvalidPacket, len(buf))
	}
	var v viphost.Validator
	ifrm.ValidateExceptCRC(&v)
	if err := v.Err(); err != nil {
		return nop, err
	}
	if !ifrm.ValidCRC() {
		return nop, ErrInvalidChecksum
	}
	hl, tl := ifrm.HeaderLength(), int(ifrm.TotalLength())
	// Drop link layer padding.
	ifrm.buf = buf[:tl]
	if hl >= tl {
		return nop, fmt.Errorf("%w: no payload", ErrInvalidPacket)
	}
	if dst == viphost.Promiscuous {
		return nop, nil
	}
	if to := ifrm.Destination(); to != p.addr && to != viphost.BroadcastIP {
		return nop, nil
	}

	switch proto := ifrm.Protocol(); proto {
	case viphost.IPProtoICMP:
		src := ifrm.Source()
		reply, err := p.icmp.Parse(src, ifrm.Payload())
		if err != nil {
			return nop, &ICMPError{Err: err}
		}
		if reply.IsNop() {
			return nop, nil
		}
		return viphost.Reply[viphost.IPAddr]{
			Dst:  reply.Dst,
			Data: p.Encapsulate(reply.Dst, viphost.IPProtoICMP, reply.Data),
		}, nil
	default:
		return nop, fmt.Errorf("%w: %w %s", ErrUnimplemented, ErrUnsupportedProtocol, proto)
	}
}

// Encapsulate returns a datagram from this host to dst carrying payload.
// The header has no options, Don't Fragment set and a valid checksum.
func (p *Processor) Encapsulate(dst viphost.IPAddr, proto viphost.IPProto, payload []byte) []byte {
	buf := make([]byte, sizeHeader+len(payload))
	copy(buf[sizeHeader:], payload)
	ifrm := Frame{buf: buf}
	ifrm.SetVersionAndIHL(4, sizeHeader/4)
	ifrm.SetTotalLength(uint16(len(buf)))
	ifrm.SetID(p.nextID())
	ifrm.SetFlags(FlagDontFragment)
	ifrm.SetTTL(p.ttl)
	ifrm.SetProtocol(proto)
	p.addr.PutNetwork(ifrm.SourceAddr()[:])
	dst.PutNetwork(ifrm.DestinationAddr()[:])
	ifrm.SetCRC(ifrm.CalculateHeaderCRC())
	return buf
}

func (p *Processor) nextID() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = internal.Prand16(p.id)
	return p.id
}
