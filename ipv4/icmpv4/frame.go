package icmpv4

import (
	"encoding/binary"
	"fmt"

	viphost "github.com/hajifkd/virtual-ip-host"
)

// NewFrame returns a Frame with data set to buf.
// An error is returned if the buffer is shorter than the 4 byte ICMP header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{}, ErrInvalidPacket
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an ICMP message. See [RFC792].
//
// [RFC792]: https://tools.ietf.org/html/rfc792
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (frm Frame) RawData() []byte { return frm.buf }

func (frm Frame) Type() Type { return Type(frm.buf[0]) }

func (frm Frame) SetType(t Type) { frm.buf[0] = uint8(t) }

func (frm Frame) Code() uint8 { return frm.buf[1] }

func (frm Frame) SetCode(code uint8) { frm.buf[1] = code }

// CRC returns the checksum field of the frame.
func (frm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(frm.buf[2:4])
}

// SetCRC sets the checksum field of the frame.
func (frm Frame) SetCRC(crc uint16) {
	binary.BigEndian.PutUint16(frm.buf[2:4], crc)
}

// CalculateCRC calculates the checksum of the whole ICMP message treating the checksum field as zero as per RFC 792.
func (frm Frame) CalculateCRC() uint16 {
	var crc viphost.CRC791
	crc.AddUint16(binary.BigEndian.Uint16(frm.buf[0:2]))
	return crc.PayloadSum16(frm.buf[4:])
}

// ValidCRC reports whether the checksum over the whole message, checksum field included, is zero.
func (frm Frame) ValidCRC() bool {
	return viphost.Checksum(frm.buf) == 0
}

// Echo interprets the frame as an Echo or Echo Reply message.
// An error is returned if the buffer cannot hold identifier and sequence number.
func (frm Frame) Echo() (FrameEcho, error) {
	if len(frm.buf) < sizeHeaderEcho {
		return FrameEcho{}, fmt.Errorf("%w: echo of %d bytes", ErrInvalidPacket, len(frm.buf))
	}
	return FrameEcho{Frame: frm}, nil
}

// FrameEcho is an Echo or Echo Reply message: header, identifier, sequence number and opaque data.
type FrameEcho struct {
	Frame
}

func (frm FrameEcho) Identifier() uint16 {
	return binary.BigEndian.Uint16(frm.buf[4:6])
}

func (frm FrameEcho) SetIdentifier(id uint16) {
	binary.BigEndian.PutUint16(frm.buf[4:6], id)
}

func (frm FrameEcho) SequenceNumber() uint16 {
	return binary.BigEndian.Uint16(frm.buf[6:8])
}

func (frm FrameEcho) SetSequenceNumber(seq uint16) {
	binary.BigEndian.PutUint16(frm.buf[6:8], seq)
}

func (frm FrameEcho) Data() []byte {
	return frm.buf[sizeHeaderEcho:]
}

func (frm FrameEcho) String() string {
	return fmt.Sprintf("ICMP %s id=%d seq=%d len=%d", frm.Type(), frm.Identifier(), frm.SequenceNumber(), len(frm.Data()))
}

// AppendEcho appends an Echo message of type t with a valid checksum to dst.
func AppendEcho(dst []byte, t Type, id, seq uint16, data []byte) []byte {
	off := len(dst)
	dst = append(dst, make([]byte, sizeHeaderEcho)...)
	dst = append(dst, data...)
	frm := FrameEcho{Frame: Frame{buf: dst[off:]}}
	frm.SetType(t)
	frm.SetCode(0)
	frm.SetIdentifier(id)
	frm.SetSequenceNumber(seq)
	frm.SetCRC(frm.CalculateCRC())
	return dst
}
