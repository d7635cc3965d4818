// Package ltesto builds and inspects frames for tests.
package ltesto

import (
	"math/rand"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	viphost "github.com/hajifkd/virtual-ip-host"
)

// SizeEthernetIPv4 is the offset of the IPv4 payload in frames built by [PacketGen].
const SizeEthernetIPv4 = 14 + 20

// PacketGen builds complete Ethernet frames from a peer (Src) to a host (Dst).
// Frames are serialized with gopacket so they are independent of the code under test.
type PacketGen struct {
	SrcMAC, DstMAC   viphost.MACAddr
	SrcIPv4, DstIPv4 viphost.IPAddr
}

func (gen *PacketGen) RandomizeAddrs(rng *rand.Rand) {
	rng.Read(gen.SrcMAC[:])
	rng.Read(gen.DstMAC[:])
	gen.SrcMAC[0] &^= 1 // unicast
	gen.DstMAC[0] &^= 1
	gen.SrcIPv4 = viphost.IPAddr(rng.Uint32())
	gen.DstIPv4 = viphost.IPAddr(rng.Uint32())
}

// ARPRequest returns a broadcast request from Src asking for the hardware address of target.
func (gen *PacketGen) ARPRequest(target viphost.IPAddr) []byte {
	return gen.arp(viphost.BroadcastMAC, layers.ARPRequest, viphost.MACAddr{}, target)
}

// ARPReply returns a reply from Src to Dst announcing Src's addresses.
func (gen *PacketGen) ARPReply() []byte {
	return gen.arp(gen.DstMAC, layers.ARPReply, gen.DstMAC, gen.DstIPv4)
}

func (gen *PacketGen) arp(ethDst viphost.MACAddr, op uint16, targetMAC viphost.MACAddr, targetIP viphost.IPAddr) []byte {
	srcIP := gen.SrcIPv4.Network()
	dstIP := targetIP.Network()
	return Serialize(
		&layers.Ethernet{SrcMAC: hw(gen.SrcMAC), DstMAC: hw(ethDst), EthernetType: layers.EthernetTypeARP},
		&layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         op,
			SourceHwAddress:   gen.SrcMAC[:],
			SourceProtAddress: srcIP[:],
			DstHwAddress:      targetMAC[:],
			DstProtAddress:    dstIP[:],
		},
	)
}

// Echo returns an ICMP echo message of type typ from Src to Dst.
func (gen *PacketGen) Echo(typ uint8, id, seq uint16, data []byte) []byte {
	return gen.IPv4(layers.IPProtocolICMPv4,
		&layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(typ, 0), Id: id, Seq: seq},
		gopacket.Payload(data),
	)
}

// IPv4 returns a datagram from Src to Dst carrying the payload layers.
func (gen *PacketGen) IPv4(proto layers.IPProtocol, payload ...gopacket.SerializableLayer) []byte {
	l := []gopacket.SerializableLayer{
		&layers.Ethernet{SrcMAC: hw(gen.SrcMAC), DstMAC: hw(gen.DstMAC), EthernetType: layers.EthernetTypeIPv4},
		&layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      64,
			Flags:    layers.IPv4DontFragment,
			Protocol: proto,
			SrcIP:    ip(gen.SrcIPv4),
			DstIP:    ip(gen.DstIPv4),
		},
	}
	return Serialize(append(l, payload...)...)
}

// Serialize serializes the layers fixing lengths and computing checksums.
func Serialize(l ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, l...)
	if err != nil {
		panic(err)
	}
	return append([]byte(nil), buf.Bytes()...)
}

// Decoded is a frame decoded by gopacket.
type Decoded struct {
	Ethernet *layers.Ethernet
	ARP      *layers.ARP
	IPv4     *layers.IPv4
	ICMPv4   *layers.ICMPv4
}

// Decode decodes an Ethernet frame. Layers absent from the frame are nil.
func Decode(frame []byte) Decoded {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	var d Decoded
	d.Ethernet, _ = pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	d.ARP, _ = pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	d.IPv4, _ = pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	d.ICMPv4, _ = pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	return d
}

func hw(mac viphost.MACAddr) net.HardwareAddr { return append(net.HardwareAddr(nil), mac[:]...) }

func ip(addr viphost.IPAddr) net.IP {
	b := addr.Network()
	return net.IP(b[:])
}
