package arp

import (
	"encoding/binary"
	"fmt"

	viphost "github.com/hajifkd/virtual-ip-host"
)

// NewFrame returns a Frame with data set to buf.
// An error is returned if the buffer size is smaller than the 8 byte header.
// Users should call [Frame.ValidateSize] before accessing addresses.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{buf: nil}, ErrInvalidPacket
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an ARP packet
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [RFC826].
//
// [RFC826]: https://tools.ietf.org/html/rfc826
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (afrm Frame) RawData() []byte { return afrm.buf }

// Hardware returns the network link protocol type and hardware address length. Example: Ethernet is 1.
func (afrm Frame) Hardware() (Type uint16, length uint8) {
	return binary.BigEndian.Uint16(afrm.buf[0:2]), afrm.buf[4]
}

// SetHardware sets the network link protocol type. See [Frame.Hardware].
func (afrm Frame) SetHardware(Type uint16, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[0:2], Type)
	afrm.buf[4] = length
}

// Protocol returns the internet protocol type and length. See [viphost.EtherType].
func (afrm Frame) Protocol() (Type viphost.EtherType, length uint8) {
	return viphost.EtherType(binary.BigEndian.Uint16(afrm.buf[2:4])), afrm.buf[5]
}

// SetProtocol sets the protocol type and length fields of the ARP frame. See [Frame.Protocol].
func (afrm Frame) SetProtocol(Type viphost.EtherType, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[2:4], uint16(Type))
	afrm.buf[5] = length
}

// Operation returns the ARP header operation field. See [Operation].
func (afrm Frame) Operation() Operation { return Operation(binary.BigEndian.Uint16(afrm.buf[6:8])) }

// SetOperation sets the ARP header operation field. See [Operation].
func (afrm Frame) SetOperation(op Operation) { binary.BigEndian.PutUint16(afrm.buf[6:8], uint16(op)) }

// Sender4 returns the sender addresses of an Ethernet/IPv4 ARP packet.
// In an ARP request the MAC address is the one of the host sending the request.
// In an ARP reply it is the address of the host that the request was looking for.
func (afrm Frame) Sender4() (hardwareAddr *viphost.MACAddr, proto *[4]byte) {
	return (*viphost.MACAddr)(afrm.buf[8:14]), (*[4]byte)(afrm.buf[14:18])
}

// Target4 returns the target addresses of an Ethernet/IPv4 ARP packet.
// In an ARP request the MAC target is ignored. In an ARP reply it is the address of host that originated the request.
func (afrm Frame) Target4() (hardwareAddr *viphost.MACAddr, proto *[4]byte) {
	return (*viphost.MACAddr)(afrm.buf[18:24]), (*[4]byte)(afrm.buf[24:28])
}

// SenderIP returns the sender protocol address in host order.
func (afrm Frame) SenderIP() viphost.IPAddr { return viphost.IPAddrFromSlice(afrm.buf[14:18]) }

// TargetIP returns the target protocol address in host order.
func (afrm Frame) TargetIP() viphost.IPAddr { return viphost.IPAddrFromSlice(afrm.buf[24:28]) }

// appendPacket appends an Ethernet/IPv4 ARP packet to dst.
func appendPacket(dst []byte, op Operation, senderHW viphost.MACAddr, senderIP viphost.IPAddr, targetHW viphost.MACAddr, targetIP viphost.IPAddr) []byte {
	off := len(dst)
	dst = append(dst, make([]byte, sizeHeaderv4)...)
	afrm := Frame{buf: dst[off:]}
	afrm.SetHardware(hardwareEthernet, 6)
	afrm.SetProtocol(viphost.EtherTypeIPv4, 4)
	afrm.SetOperation(op)
	shw, sip := afrm.Sender4()
	*shw = senderHW
	*sip = senderIP.Network()
	thw, tip := afrm.Target4()
	*thw = targetHW
	*tip = targetIP.Network()
	return dst
}

//
// Validation API.
//

// ValidateSize reports an error when the buffer cannot hold the addresses
// whose lengths the header declares.
func (afrm Frame) ValidateSize(v *viphost.Validator) {
	_, hlen := afrm.Hardware()
	_, plen := afrm.Protocol()
	if minLen := sizeHeader + 2*(int(hlen)+int(plen)); len(afrm.buf) < minLen {
		v.AddError(fmt.Errorf("%w: %d bytes, need %d", ErrInvalidPacket, len(afrm.buf), minLen))
	}
}
