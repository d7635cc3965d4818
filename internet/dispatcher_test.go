package internet

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	viphost "github.com/hajifkd/virtual-ip-host"
	"github.com/hajifkd/virtual-ip-host/arp"
	"github.com/hajifkd/virtual-ip-host/internal/ltesto"
	"github.com/hajifkd/virtual-ip-host/internal/metrics"
	"github.com/hajifkd/virtual-ip-host/ipv4"
	"github.com/hajifkd/virtual-ip-host/ipv4/icmpv4"
)

var (
	hostMAC = viphost.MACAddr{0x02, 0x00, 0x00, 0xef, 0x24, 0xa8}
	hostIP  = viphost.IPAddr(0xc0a8016f) // 192.168.1.111
	peerMAC = viphost.MACAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x13}
	peerIP  = viphost.IPAddr(0xc0a80113) // 192.168.1.19
)

func peerGen() *ltesto.PacketGen {
	return &ltesto.PacketGen{SrcMAC: peerMAC, DstMAC: hostMAC, SrcIPv4: peerIP, DstIPv4: hostIP}
}

type dispatcherFixture struct {
	d    *Dispatcher
	dev  *ltesto.Device
	arp  *arp.Resolver
	icmp *icmpv4.Exchange
	m    *metrics.Metrics
}

func newDispatcher(t *testing.T, mod func(*DispatcherConfig, *arp.ResolverConfig)) dispatcherFixture {
	t.Helper()
	dev := ltesto.NewDevice(16)
	rcfg := arp.ResolverConfig{HardwareAddr: hostMAC, ProtocolAddr: hostIP}
	dcfg := DispatcherConfig{Device: dev, Metrics: metrics.New()}
	if mod != nil {
		mod(&dcfg, &rcfg)
	}
	resolver, err := arp.NewResolver(rcfg)
	require.NoError(t, err)
	icmp := icmpv4.NewExchange()
	ip, err := ipv4.NewProcessor(ipv4.ProcessorConfig{Addr: hostIP, ICMP: icmp})
	require.NoError(t, err)
	dcfg.ARP = resolver
	dcfg.IP = ip
	d, err := NewDispatcher(dcfg)
	require.NoError(t, err)
	return dispatcherFixture{d: d, dev: dev, arp: resolver, icmp: icmp, m: dcfg.Metrics}
}

func nextFrame(t *testing.T, dev *ltesto.Device) ltesto.Decoded {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame := dev.Next(ctx)
	require.NotNil(t, frame, "no frame written")
	assert.GreaterOrEqual(t, len(frame), 60, "frames are padded to the Ethernet minimum")
	return ltesto.Decode(frame)
}

func TestDispatcherAnswersARPRequest(t *testing.T) {
	f := newDispatcher(t, nil)
	err := f.d.Demux(context.Background(), peerGen().ARPRequest(hostIP))
	require.NoError(t, err)

	out := nextFrame(t, f.dev)
	require.NotNil(t, out.ARP)
	assert.Equal(t, peerMAC[:], []byte(out.Ethernet.DstMAC))
	assert.Equal(t, hostMAC[:], []byte(out.Ethernet.SrcMAC))
	assert.Equal(t, layers.EthernetTypeARP, out.Ethernet.EthernetType)
	assert.Equal(t, uint16(layers.ARPReply), out.ARP.Operation)
	assert.Equal(t, hostMAC[:], out.ARP.SourceHwAddress)
	assert.Equal(t, peerMAC[:], out.ARP.DstHwAddress)
	wantIP := peerIP.Network()
	assert.Equal(t, wantIP[:], out.ARP.DstProtAddress)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.FramesSent))
	assert.Zero(t, f.arp.Len(), "requests do not populate the cache")
}

func TestDispatcherEchoWaitsOnResolution(t *testing.T) {
	f := newDispatcher(t, nil)
	ctx := context.Background()
	gen := peerGen()
	data := []byte("0123456789")

	require.NoError(t, f.d.Demux(ctx, gen.Echo(layers.ICMPv4TypeEchoRequest, 0x42, 7, data)))

	req := nextFrame(t, f.dev)
	require.NotNil(t, req.ARP, "peer address must be resolved first")
	assert.Equal(t, viphost.BroadcastMAC[:], []byte(req.Ethernet.DstMAC))
	assert.Equal(t, uint16(layers.ARPRequest), req.ARP.Operation)
	assert.Equal(t, 1, f.arp.Pending(peerIP))

	require.NoError(t, f.d.Demux(ctx, gen.ARPReply()))
	reply := nextFrame(t, f.dev)
	f.d.Wait()

	require.NotNil(t, reply.IPv4)
	require.NotNil(t, reply.ICMPv4)
	assert.Equal(t, peerMAC[:], []byte(reply.Ethernet.DstMAC))
	assert.Equal(t, uint8(layers.ICMPv4TypeEchoReply), reply.ICMPv4.TypeCode.Type())
	assert.Equal(t, uint16(0x42), reply.ICMPv4.Id)
	assert.Equal(t, uint16(8), reply.ICMPv4.Seq)
	assert.Equal(t, data, reply.ICMPv4.Payload)
	assert.Zero(t, f.arp.Pending(peerIP))

	// Cached now: the next echo is answered without resolution.
	require.NoError(t, f.d.Demux(ctx, gen.Echo(layers.ICMPv4TypeEchoRequest, 0x42, 8, data)))
	again := nextFrame(t, f.dev)
	require.NotNil(t, again.ICMPv4)
	assert.Len(t, f.dev.Writes(), 3)
}

func TestDispatcherConcurrentContinuations(t *testing.T) {
	f := newDispatcher(t, nil)
	ctx := context.Background()
	gen := peerGen()
	for seq := uint16(0); seq < 3; seq++ {
		require.NoError(t, f.d.Demux(ctx, gen.Echo(layers.ICMPv4TypeEchoRequest, 1, seq, nil)))
	}
	assert.Equal(t, 3, f.arp.Pending(peerIP))
	require.NoError(t, f.d.Demux(ctx, gen.ARPReply()))
	f.d.Wait()

	var replies int
	for _, frame := range f.dev.Writes() {
		if d := ltesto.Decode(frame); d.ICMPv4 != nil {
			replies++
		}
	}
	assert.Equal(t, 3, replies)
}

func TestDispatcherResolutionTimeout(t *testing.T) {
	f := newDispatcher(t, func(dc *DispatcherConfig, _ *arp.ResolverConfig) {
		dc.ResolveTimeout = 10 * time.Millisecond
	})
	f.d.SendIP(context.Background(), peerIP, []byte{0x45})
	f.d.Wait()
	assert.Zero(t, f.arp.Pending(peerIP), "abandoned resolution must be removed")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.FramesDropped.WithLabelValues(metrics.DropUnresolved)))
	assert.Len(t, f.dev.Writes(), 1, "only the ARP request is sent")
}

func TestDispatcherDrops(t *testing.T) {
	f := newDispatcher(t, nil)
	ctx := context.Background()

	err := f.d.Demux(ctx, make([]byte, 13))
	assert.ErrorIs(t, err, ErrShortFrame)

	// IEEE 802.3 length field larger than the payload.
	sized := peerGen().ARPRequest(hostIP)
	binary.BigEndian.PutUint16(sized[12:14], 256)
	err = f.d.Demux(ctx, sized)
	assert.ErrorIs(t, err, ErrShortFrame)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.m.FramesDropped.WithLabelValues(metrics.DropShortFrame)))

	// Frames for another station leave ARP and echo state untouched.
	foreign := viphost.MACAddr{0x02, 0, 0, 0, 0, 0x99}
	other := peerGen()
	other.DstMAC = foreign
	require.NoError(t, f.d.Demux(ctx, other.Echo(layers.ICMPv4TypeEchoRequest, 1, 1, nil)))

	arpReply := peerGen().ARPReply() // Names this host as target.
	copy(arpReply[0:6], foreign[:])
	require.NoError(t, f.d.Demux(ctx, arpReply))

	id, _, replies, err := f.icmp.RegisterEcho([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, f.d.Demux(ctx, other.Echo(layers.ICMPv4TypeEchoReply, id, 0, []byte("ping"))))

	assert.Equal(t, 3.0, testutil.ToFloat64(f.m.FramesDropped.WithLabelValues(metrics.DropNotForUs)))
	assert.Zero(t, f.arp.Len())
	_, cached := f.arp.Lookup(peerIP)
	assert.False(t, cached)
	assert.Empty(t, replies)
	assert.Equal(t, 1, f.icmp.Registered())

	ipv6 := ltesto.Serialize(&layers.Ethernet{
		SrcMAC:       peerMAC[:],
		DstMAC:       hostMAC[:],
		EthernetType: layers.EthernetTypeIPv6,
	})
	require.NoError(t, f.d.Demux(ctx, ipv6))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.FramesDropped.WithLabelValues(metrics.DropUnknownEtherType)))

	assert.Empty(t, f.dev.Writes())
}

func TestDispatcherHandlerErrors(t *testing.T) {
	f := newDispatcher(t, nil)
	ctx := context.Background()

	err := f.d.Demux(ctx, peerGen().ARPRequest(viphost.IPAddr(0xc0a80101)))
	assert.ErrorIs(t, err, arp.ErrInvalidPacket, "request for another host")

	bad := peerGen().Echo(layers.ICMPv4TypeEchoRequest, 1, 1, []byte{1, 2})
	bad[ltesto.SizeEthernetIPv4] ^= 0xff // corrupt ICMP type
	err = f.d.Demux(ctx, bad)
	assert.ErrorIs(t, err, icmpv4.ErrInvalidChecksum)
	assert.True(t, ipv4.IsICMP(err))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.ParseErrors.WithLabelValues("arp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.ParseErrors.WithLabelValues("icmp")))
}

func TestDispatcherPromiscuous(t *testing.T) {
	f := newDispatcher(t, func(dc *DispatcherConfig, rc *arp.ResolverConfig) {
		dc.Promiscuous = true
		rc.Promiscuous = true
	})
	ctx := context.Background()
	other := peerGen()
	other.DstMAC = viphost.MACAddr{0x02, 0, 0, 0, 0, 0x99}
	other.DstIPv4 = viphost.IPAddr(0xc0a80199)

	require.NoError(t, f.d.Demux(ctx, other.ARPRequest(other.DstIPv4)))
	require.NoError(t, f.d.Demux(ctx, other.ARPReply()))
	require.NoError(t, f.d.Demux(ctx, other.Echo(layers.ICMPv4TypeEchoRequest, 1, 1, nil)))
	assert.Empty(t, f.dev.Writes(), "observed traffic is never answered")
	assert.Zero(t, f.arp.Len(), "observed replies are not cached")
}

func TestDispatcherResolve(t *testing.T) {
	f := newDispatcher(t, nil)
	res := f.d.Resolve(peerIP)
	_, err := res.Result()
	assert.ErrorIs(t, err, arp.ErrPending)
	require.Len(t, f.dev.Writes(), 1)

	require.NoError(t, f.d.Demux(context.Background(), peerGen().ARPReply()))
	mac, err := res.Result()
	require.NoError(t, err)
	assert.Equal(t, peerMAC, mac)

	hit := f.d.Resolve(peerIP)
	mac, err = hit.Result()
	require.NoError(t, err)
	assert.Equal(t, peerMAC, mac)
	assert.Len(t, f.dev.Writes(), 1, "cache hits send nothing")
}

func TestDispatcherWriteErrors(t *testing.T) {
	f := newDispatcher(t, nil)
	f.dev.WriteErr = errors.New("link down")
	require.NoError(t, f.d.Demux(context.Background(), peerGen().ARPRequest(hostIP)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.SendErrors))
	assert.Zero(t, testutil.ToFloat64(f.m.FramesSent))
}

func TestNewDispatcherValidation(t *testing.T) {
	resolver, err := arp.NewResolver(arp.ResolverConfig{HardwareAddr: hostMAC, ProtocolAddr: hostIP})
	require.NoError(t, err)
	ip, err := ipv4.NewProcessor(ipv4.ProcessorConfig{Addr: peerIP, ICMP: icmpv4.NewExchange()})
	require.NoError(t, err)
	_, err = NewDispatcher(DispatcherConfig{Device: ltesto.NewDevice(1), ARP: resolver, IP: ip})
	assert.Error(t, err)
	_, err = NewDispatcher(DispatcherConfig{ARP: resolver, IP: ip})
	assert.Error(t, err)
}
