package icmpv4

import (
	"fmt"
	"math"
	"sync"

	viphost "github.com/hajifkd/virtual-ip-host"
)

// EchoReply is delivered to the owner of an echo identifier for every Echo Reply received.
type EchoReply struct {
	Src viphost.IPAddr
	// SequenceID is the replied sequence number plus one.
	SequenceID uint16
	Data       []byte
}

// Exchange answers Echo requests and routes Echo replies to the
// registrations that own their identifier. It is safe for concurrent use.
type Exchange struct {
	mu    sync.Mutex
	sinks map[uint16]chan EchoReply
}

// NewExchange returns an Exchange with no registrations.
func NewExchange() *Exchange {
	return &Exchange{sinks: make(map[uint16]chan EchoReply)}
}

// RegisterEcho allocates the lowest unused identifier and builds an Echo
// message with sequence number 0 carrying payload. Replies for the identifier
// are delivered on the returned channel, which holds up to [SinkCapacity]
// undelivered replies and is closed by [Exchange.Unregister].
func (e *Exchange) RegisterEcho(payload []byte) (id uint16, request []byte, replies <-chan EchoReply, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sinks) > math.MaxUint16 {
		return 0, nil, nil, ErrIdentifiersExhausted
	}
	for i := 0; i <= math.MaxUint16; i++ {
		if _, used := e.sinks[uint16(i)]; !used {
			id = uint16(i)
			break
		}
	}
	sink := make(chan EchoReply, SinkCapacity)
	e.sinks[id] = sink
	return id, AppendEcho(nil, TypeEcho, id, 0, payload), sink, nil
}

// Echo builds an additional Echo message for a registered identifier.
func (e *Exchange) Echo(id, seq uint16, payload []byte) ([]byte, error) {
	e.mu.Lock()
	_, ok := e.sinks[id]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotRegistered, id)
	}
	return AppendEcho(nil, TypeEcho, id, seq, payload), nil
}

// Unregister releases id and closes its reply channel. It reports whether id was registered.
func (e *Exchange) Unregister(id uint16) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	sink, ok := e.sinks[id]
	if !ok {
		return false
	}
	delete(e.sinks, id)
	close(sink)
	return true
}

// Registered returns the number of identifiers in use.
func (e *Exchange) Registered() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sinks)
}

// Parse processes an ICMP message received from the host at from.
// An Echo yields an Echo Reply addressed back to from. An Echo Reply is
// delivered to the registration owning its identifier and yields nothing to send.
func (e *Exchange) Parse(from viphost.IPAddr, buf []byte) (viphost.Reply[viphost.IPAddr], error) {
	var nop viphost.Reply[viphost.IPAddr]
	frm, err := NewFrame(buf)
	if err != nil {
		return nop, err
	}
	if !frm.ValidCRC() {
		return nop, ErrInvalidChecksum
	}
	if code := frm.Code(); code != 0 {
		return nop, fmt.Errorf("%w: %w %d", ErrUnimplemented, ErrUnsupportedCode, code)
	}
	switch frm.Type() {
	case TypeEcho:
		echo, err := frm.Echo()
		if err != nil {
			return nop, err
		}
		data := AppendEcho(make([]byte, 0, len(buf)), TypeEchoReply, echo.Identifier(), echo.SequenceNumber()+1, echo.Data())
		return viphost.Reply[viphost.IPAddr]{Dst: from, Data: data}, nil

	case TypeEchoReply:
		echo, err := frm.Echo()
		if err != nil {
			return nop, err
		}
		return nop, e.deliver(from, echo)

	default:
		return nop, fmt.Errorf("%w: %w %d", ErrUnimplemented, ErrUnsupportedType, uint8(frm.Type()))
	}
}

func (e *Exchange) deliver(from viphost.IPAddr, echo FrameEcho) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := echo.Identifier()
	sink, ok := e.sinks[id]
	if !ok {
		return fmt.Errorf("%w: unknown identifier %d", ErrInvalidPacket, id)
	}
	reply := EchoReply{
		Src:        from,
		SequenceID: echo.SequenceNumber() + 1,
		Data:       append([]byte(nil), echo.Data()...),
	}
	select {
	case sink <- reply:
		return nil
	default:
		return fmt.Errorf("%w: identifier %d", ErrNoEmptyEchoBuffer, id)
	}
}
