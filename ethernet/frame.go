package ethernet

import (
	"encoding/binary"
	"errors"
	"fmt"

	viphost "github.com/hajifkd/virtual-ip-host"
)

// NewFrame returns a Frame with data set to buf.
// An error is returned if the buffer size is smaller than 14.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < SizeHeader {
		return Frame{buf: nil}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an Ethernet frame
// without including preamble (first byte is start of destination address)
// and provides methods for manipulating, validating and
// retrieving fields and payload data. 802.1Q tagged frames are not
// interpreted, their tag is seen as an unknown EtherType. See [IEEE 802.3].
//
// [IEEE 802.3]: https://standards.ieee.org/ieee/802.3/7071/
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (efrm Frame) RawData() []byte { return efrm.buf }

// Payload returns the data portion of the ethernet frame. It may include
// padding added by the sender to reach the minimum frame size.
func (efrm Frame) Payload() []byte {
	return efrm.buf[SizeHeader:]
}

// DestinationHardwareAddr returns the target's MAC/hardware address for the ethernet packet.
func (efrm Frame) DestinationHardwareAddr() (dst *viphost.MACAddr) {
	return (*viphost.MACAddr)(efrm.buf[0:6])
}

// IsBroadcast returns true if the destination is the broadcast address ff:ff:ff:ff:ff:ff, false otherwise.
func (efrm Frame) IsBroadcast() bool {
	return efrm.DestinationHardwareAddr().IsBroadcast()
}

// SourceHardwareAddr returns the sender's MAC/hardware address of the ethernet packet.
func (efrm Frame) SourceHardwareAddr() (src *viphost.MACAddr) {
	return (*viphost.MACAddr)(efrm.buf[6:12])
}

// EtherType returns the EtherType/Size field of the ethernet packet.
// Values up to 1500 are an IEEE 802.3 payload size, see [viphost.EtherType.IsSize].
func (efrm Frame) EtherType() viphost.EtherType {
	return viphost.EtherType(binary.BigEndian.Uint16(efrm.buf[12:14]))
}

// SetEtherType sets the EtherType field of the ethernet packet.
func (efrm Frame) SetEtherType(v viphost.EtherType) {
	binary.BigEndian.PutUint16(efrm.buf[12:14], uint16(v))
}

func (efrm Frame) String() string {
	return fmt.Sprintf("ETH %s -> %s %s LEN=%d", efrm.SourceHardwareAddr(), efrm.DestinationHardwareAddr(), efrm.EtherType(), len(efrm.buf))
}

// AppendFrame appends an Ethernet frame carrying payload to dst. The payload is
// zero padded so the frame reaches the 60 byte minimum (FCS excluded).
func AppendFrame(dst []byte, dstAddr, srcAddr viphost.MACAddr, etype viphost.EtherType, payload []byte) []byte {
	off := len(dst)
	dst = append(dst, make([]byte, SizeHeader)...)
	efrm := Frame{buf: dst[off:]}
	*efrm.DestinationHardwareAddr() = dstAddr
	*efrm.SourceHardwareAddr() = srcAddr
	efrm.SetEtherType(etype)
	dst = append(dst, payload...)
	if pad := minPayload - len(payload); pad > 0 {
		dst = append(dst, make([]byte, pad)...)
	}
	return dst
}

//
// Validation API.
//

var (
	errShort     = errors.New("ethernet: too short")
	errShortSize = errors.New("ethernet: size field exceeds frame")
)

// ValidateSize reports an error when the buffer is shorter than the header or
// than the payload size an IEEE 802.3 length field declares.
func (efrm Frame) ValidateSize(v *viphost.Validator) {
	if len(efrm.buf) < SizeHeader {
		v.AddError(errShort)
		return
	}
	sz := efrm.EtherType()
	if sz.IsSize() && len(efrm.buf)-SizeHeader < int(sz) {
		v.AddError(errShortSize)
	}
}
