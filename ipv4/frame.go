package ipv4

import (
	"encoding/binary"
	"fmt"

	viphost "github.com/hajifkd/virtual-ip-host"
)

// NewFrame returns a new Frame with data set to buf.
// An error is returned if the buffer size is smaller than 20.
// Users should still call [Frame.ValidateExceptCRC] before working
// with the payload of frames to avoid panics.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{buf: nil}, ErrInvalidPacket
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an IPv4 packet
// and provides methods for manipulating, validating and
// retreiving fields and payload data. See [RFC791].
//
// [RFC791]: https://tools.ietf.org/html/rfc791
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (ifrm Frame) RawData() []byte { return ifrm.buf }

// HeaderLength returns the length of the IPv4 header as calculated using IHL. It includes IP options.
func (ifrm Frame) HeaderLength() int {
	return int(ifrm.ihl()) * 4
}

func (ifrm Frame) ihl() uint8     { return ifrm.buf[0] & 0xf }
func (ifrm Frame) version() uint8 { return ifrm.buf[0] >> 4 }

// SetVersionAndIHL sets the version and IHL fields in the IPv4 header. Version should always be 4.
func (ifrm Frame) SetVersionAndIHL(version, IHL uint8) { ifrm.buf[0] = version<<4 | IHL&0xf }

// TotalLength defines the entire packet size in bytes, including IP header and data.
// The minimum size is 20 bytes (IPv4 header without data) and the maximum is 65,535 bytes.
// All hosts are required to be able to reassemble datagrams of size up to 576 bytes,
// but most modern hosts handle much larger packets.
//
// Links may impose further restrictions on the packet size, in which case datagrams
// must be fragmented. Fragmentation in IPv4 is performed in either the
// sending host or in routers. Reassembly is performed at the receiving host.
func (ifrm Frame) TotalLength() uint16 {
	return binary.BigEndian.Uint16(ifrm.buf[2:4])
}

// SetTotalLength sets TotalLength field. See [Frame.TotalLength].
func (ifrm Frame) SetTotalLength(tl uint16) { binary.BigEndian.PutUint16(ifrm.buf[2:4], tl) }

// ID is an identification field and is primarily used for uniquely
// identifying the group of fragments of a single IP datagram.
func (ifrm Frame) ID() uint16 {
	return binary.BigEndian.Uint16(ifrm.buf[4:6])
}

// SetID sets ID field. See [Frame.ID].
func (ifrm Frame) SetID(id uint16) { binary.BigEndian.PutUint16(ifrm.buf[4:6], id) }

// SetFlags sets the IPv4 flags field. See [Flags].
func (ifrm Frame) SetFlags(flags Flags) {
	binary.BigEndian.PutUint16(ifrm.buf[6:8], uint16(flags))
}

// TTL is an eight-bit time to live field limits a datagram's lifetime to prevent
// network failure in the event of a routing loop. In practice, the field
// is used as a hop count. When the datagram arrives at a router,
// the router decrements the TTL field by one. When the TTL field hits zero,
// the router discards the packet and typically sends an ICMP time exceeded message to the sender.
func (ifrm Frame) TTL() uint8 { return ifrm.buf[8] }

// SetTTL sets the IP frame's TTL field. See [Frame.TTL].
func (ifrm Frame) SetTTL(ttl uint8) { ifrm.buf[8] = ttl }

// Protocol field defines the protocol used in the data portion of the IP datagram. TCP is 6, UDP is 17.
// See [viphost.IPProto].
func (ifrm Frame) Protocol() viphost.IPProto { return viphost.IPProto(ifrm.buf[9]) }

// SetProtocol sets protocol field. See [Frame.Protocol] and [viphost.IPProto].
func (ifrm Frame) SetProtocol(proto viphost.IPProto) { ifrm.buf[9] = uint8(proto) }

// CRC returns the cyclic-redundancy-check (checksum) field of the IPv4 header.
func (ifrm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(ifrm.buf[10:12])
}

// SetCRC sets the CRC field of the IP packet. See [Frame.CRC].
func (ifrm Frame) SetCRC(cs uint16) {
	binary.BigEndian.PutUint16(ifrm.buf[10:12], cs)
}

// CalculateHeaderCRC calculates the CRC for this IPv4 frame's header, options included,
// treating the checksum field as zero.
func (ifrm Frame) CalculateHeaderCRC() uint16 {
	var crc viphost.CRC791
	crc.WriteEven(ifrm.buf[0:10])
	return crc.PayloadSum16(ifrm.buf[12:ifrm.HeaderLength()])
}

// ValidCRC reports whether the checksum over the IHL*4 header bytes, checksum field included, is zero.
func (ifrm Frame) ValidCRC() bool {
	return viphost.Checksum(ifrm.buf[:ifrm.HeaderLength()]) == 0
}

// Source returns the source address in host order.
func (ifrm Frame) Source() viphost.IPAddr { return viphost.IPAddrFromSlice(ifrm.buf[12:16]) }

// Destination returns the destination address in host order.
func (ifrm Frame) Destination() viphost.IPAddr { return viphost.IPAddrFromSlice(ifrm.buf[16:20]) }

// SourceAddr returns pointer to the source IPv4 address in the IP header.
func (ifrm Frame) SourceAddr() *[4]byte {
	return (*[4]byte)(ifrm.buf[12:16])
}

// DestinationAddr returns pointer to the destination IPv4 address in the IP header.
func (ifrm Frame) DestinationAddr() *[4]byte {
	return (*[4]byte)(ifrm.buf[16:20])
}

// Payload returns the contents of the IPv4 packet, which may be zero sized.
// Be sure to call [Frame.ValidateSize] beforehand to avoid panic.
func (ifrm Frame) Payload() []byte {
	off := ifrm.HeaderLength()
	l := ifrm.TotalLength()
	return ifrm.buf[off:l]
}

//
// Validation API.
//

var (
	errBadTL  = fmt.Errorf("%w: bad total length", ErrInvalidPacket)
	errShort  = fmt.Errorf("%w: total length exceeds buffer", ErrInvalidPacket)
	errBadIHL = fmt.Errorf("%w: bad IHL", ErrInvalidPacket)
)

// ValidateSize checks the IHL and total length fields against the buffer.
func (ifrm Frame) ValidateSize(v *viphost.Validator) {
	ihl := ifrm.ihl()
	tl := ifrm.TotalLength()
	if ihl < 5 || int(ihl)*4 > len(ifrm.buf) {
		v.AddError(errBadIHL)
	}
	if tl < sizeHeader || int(tl) < int(ihl)*4 {
		v.AddError(errBadTL)
	}
	if int(tl) > len(ifrm.buf) {
		v.AddError(errShort)
	}
}

// ValidateExceptCRC checks the version and size fields but not the header checksum.
func (ifrm Frame) ValidateExceptCRC(v *viphost.Validator) {
	if ver := ifrm.version(); ver != 4 {
		v.AddError(fmt.Errorf("%w: IP version %d", ErrUnimplemented, ver))
	}
	ifrm.ValidateSize(v)
}
