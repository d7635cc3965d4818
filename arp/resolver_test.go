package arp

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	viphost "github.com/hajifkd/virtual-ip-host"
)

var (
	hostMAC  = viphost.MACAddr{0x02, 0x00, 0x00, 0xef, 0x24, 0xa8}
	hostIP   = viphost.IPAddr(0xc0a8016f) // 192.168.1.111
	peerMAC  = viphost.MACAddr{0xc0, 0xff, 0xee, 0xc0, 0xff, 0xee}
	peerIP   = viphost.IPAddr(0xc0a80113) // 192.168.1.19
	otherMAC = viphost.MACAddr{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	otherIP  = viphost.IPAddr(0xc0a80101) // 192.168.1.1
)

func newResolver(t *testing.T, mac viphost.MACAddr, ip viphost.IPAddr, mod func(*ResolverConfig)) *Resolver {
	t.Helper()
	cfg := ResolverConfig{HardwareAddr: mac, ProtocolAddr: ip}
	if mod != nil {
		mod(&cfg)
	}
	r, err := NewResolver(cfg)
	require.NoError(t, err)
	return r
}

// decodeARP cross checks our encoding against gopacket's decoder.
func decodeARP(t *testing.T, buf []byte) *layers.ARP {
	t.Helper()
	pkt := gopacket.NewPacket(buf, layers.LayerTypeARP, gopacket.Default)
	require.Nil(t, pkt.ErrorLayer(), "gopacket could not decode ARP")
	arpLayer, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	require.True(t, ok)
	return arpLayer
}

func serializeARP(t *testing.T, op uint16, srcHW viphost.MACAddr, srcIP viphost.IPAddr, dstHW viphost.MACAddr, dstIP viphost.IPAddr) []byte {
	t.Helper()
	sip, dip := srcIP.Network(), dstIP.Network()
	a := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   net.HardwareAddr(srcHW[:]),
		SourceProtAddress: sip[:],
		DstHwAddress:      net.HardwareAddr(dstHW[:]),
		DstProtAddress:    dip[:],
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, a))
	return buf.Bytes()
}

func TestResolveRoundTrip(t *testing.T) {
	r := newResolver(t, hostMAC, hostIP, nil)

	q := r.Resolve(peerIP)
	require.False(t, q.Found)
	require.NotNil(t, q.Pending)
	require.Len(t, q.Request, sizeHeaderv4)

	req := decodeARP(t, q.Request)
	assert.Equal(t, uint16(layers.ARPRequest), req.Operation)
	assert.Equal(t, hostMAC[:], []byte(req.SourceHwAddress))
	assert.Equal(t, []byte{192, 168, 1, 111}, req.SourceProtAddress)
	assert.Equal(t, viphost.BroadcastMAC[:], []byte(req.DstHwAddress))
	assert.Equal(t, []byte{192, 168, 1, 19}, req.DstProtAddress)

	_, err := q.Pending.Result()
	assert.ErrorIs(t, err, ErrPending)

	reply := serializeARP(t, layers.ARPReply, peerMAC, peerIP, hostMAC, hostIP)
	out, err := r.Parse(reply, viphost.ToMyself)
	require.NoError(t, err)
	assert.True(t, out.IsNop())

	mac, err := q.Pending.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, peerMAC, mac)
	assert.Equal(t, 1, r.Len())
	assert.Zero(t, r.Pending(peerIP))

	q = r.Resolve(peerIP)
	assert.True(t, q.Found)
	assert.Equal(t, peerMAC, q.MAC)
	assert.Nil(t, q.Request, "cache hit must emit no packet")
	mac, err = q.Pending.Result()
	require.NoError(t, err)
	assert.Equal(t, peerMAC, mac)
}

func TestResolverExchange(t *testing.T) {
	c1 := newResolver(t, hostMAC, hostIP, nil)
	c2 := newResolver(t, peerMAC, peerIP, nil)

	q := c1.Resolve(peerIP)
	require.False(t, q.Found)
	// Request arrives at c2 broadcast, c2 answers.
	out, err := c2.Parse(q.Request, viphost.Broadcast)
	require.NoError(t, err)
	require.False(t, out.IsNop())
	assert.Equal(t, hostMAC, out.Dst)

	rep := decodeARP(t, out.Data)
	assert.Equal(t, uint16(layers.ARPReply), rep.Operation)
	assert.Equal(t, peerMAC[:], []byte(rep.SourceHwAddress))
	assert.Equal(t, []byte{192, 168, 1, 19}, rep.SourceProtAddress)
	assert.Equal(t, hostMAC[:], []byte(rep.DstHwAddress))
	assert.Equal(t, []byte{192, 168, 1, 111}, rep.DstProtAddress)

	// c2 learns nothing from a request.
	_, ok := c2.Lookup(hostIP)
	assert.False(t, ok)

	out, err = c1.Parse(out.Data, viphost.ToMyself)
	require.NoError(t, err)
	assert.True(t, out.IsNop())
	select {
	case <-q.Pending.Done():
	default:
		t.Fatal("resolution not completed by reply")
	}
	mac, ok := c1.Lookup(peerIP)
	require.True(t, ok)
	assert.Equal(t, peerMAC, mac)
}

func TestRequestForOtherHost(t *testing.T) {
	req := serializeARP(t, layers.ARPRequest, peerMAC, peerIP, viphost.MACAddr{}, otherIP)

	r := newResolver(t, hostMAC, hostIP, nil)
	_, err := r.Parse(req, viphost.Broadcast)
	assert.ErrorIs(t, err, ErrInvalidPacket)

	promisc := newResolver(t, hostMAC, hostIP, func(cfg *ResolverConfig) { cfg.Promiscuous = true })
	out, err := promisc.Parse(req, viphost.Broadcast)
	assert.NoError(t, err)
	assert.True(t, out.IsNop())
	assert.Zero(t, promisc.Len())
}

func TestReplyNotForUs(t *testing.T) {
	r := newResolver(t, hostMAC, hostIP, nil)
	q := r.Resolve(peerIP)
	reply := serializeARP(t, layers.ARPReply, peerMAC, peerIP, otherMAC, otherIP)

	_, err := r.Parse(reply, viphost.ToMyself)
	assert.ErrorIs(t, err, ErrInvalidPacket)

	out, err := r.Parse(reply, viphost.Promiscuous)
	assert.NoError(t, err)
	assert.True(t, out.IsNop())

	// Observed replies must not satisfy the local cache.
	assert.Zero(t, r.Len())
	_, err = q.Pending.Result()
	assert.ErrorIs(t, err, ErrPending)
}

func TestParseErrors(t *testing.T) {
	r := newResolver(t, hostMAC, hostIP, nil)
	good := serializeARP(t, layers.ARPRequest, peerMAC, peerIP, viphost.MACAddr{}, hostIP)

	_, err := r.Parse(good[:sizeHeaderv4-1], viphost.Broadcast)
	assert.ErrorIs(t, err, ErrInvalidPacket)

	mod := func(f func(Frame)) []byte {
		b := append([]byte(nil), good...)
		f(Frame{buf: b})
		return b
	}
	_, err = r.Parse(mod(func(a Frame) { a.SetHardware(6, 6) }), viphost.Broadcast)
	assert.ErrorIs(t, err, ErrUnsupportedHardwareAddressSpace)
	assert.Contains(t, err.Error(), "0x0006")

	_, err = r.Parse(mod(func(a Frame) { a.SetProtocol(viphost.EtherTypeIPv6, 4) }), viphost.Broadcast)
	assert.ErrorIs(t, err, ErrUnsupportedProtocolAddressSpace)

	_, err = r.Parse(mod(func(a Frame) { a.SetHardware(hardwareEthernet, 8) }), viphost.Broadcast)
	assert.ErrorIs(t, err, ErrInvalidPacket)

	_, err = r.Parse(mod(func(a Frame) { a.SetOperation(3) }), viphost.Broadcast)
	assert.ErrorIs(t, err, ErrUnsupportedOperationCode)

	// Address spaces are checked as soon as the fixed header is present.
	_, err = r.Parse(good[:sizeHeader-1], viphost.Broadcast)
	assert.ErrorIs(t, err, ErrInvalidPacket)

	_, err = r.Parse(mod(func(a Frame) { a.SetHardware(6, 6) })[:sizeHeader], viphost.Broadcast)
	assert.ErrorIs(t, err, ErrUnsupportedHardwareAddressSpace)

	_, err = r.Parse(mod(func(a Frame) { a.SetProtocol(viphost.EtherTypeIPv6, 4) })[:sizeHeader+4], viphost.Broadcast)
	assert.ErrorIs(t, err, ErrUnsupportedProtocolAddressSpace)

	_, err = r.Parse(good[:sizeHeader], viphost.Broadcast)
	assert.ErrorIs(t, err, ErrInvalidPacket, "header without addresses")
	assert.Equal(t, 0, r.Len())
}

func TestAllWaitersCompleted(t *testing.T) {
	r := newResolver(t, hostMAC, hostIP, nil)
	const waiters = 8
	var wg sync.WaitGroup
	results := make([]viphost.MACAddr, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		q := r.Resolve(peerIP)
		require.False(t, q.Found)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			results[i], errs[i] = q.Pending.Wait(ctx)
		}(i)
	}
	assert.Equal(t, waiters, r.Pending(peerIP))

	_, err := r.Parse(serializeARP(t, layers.ARPReply, peerMAC, peerIP, hostMAC, hostIP), viphost.ToMyself)
	require.NoError(t, err)
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, peerMAC, results[i])
	}
	assert.Zero(t, r.Pending(peerIP))
}

func TestUnansweredNeverCompletes(t *testing.T) {
	now := time.Unix(1000, 0)
	r := newResolver(t, hostMAC, hostIP, func(cfg *ResolverConfig) {
		cfg.Now = func() time.Time { return now }
	})
	q := r.Resolve(peerIP)
	evicted, timedOut := r.Sweep(now.Add(24 * time.Hour))
	assert.Zero(t, evicted)
	assert.Zero(t, timedOut)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Pending.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, r.Pending(peerIP))
}

func TestSweep(t *testing.T) {
	now := time.Unix(1000, 0)
	r := newResolver(t, hostMAC, hostIP, func(cfg *ResolverConfig) {
		cfg.CacheTTL = time.Minute
		cfg.ResolveTimeout = time.Second
		cfg.Now = func() time.Time { return now }
	})
	stale := r.Resolve(peerIP)
	_, err := r.Parse(serializeARP(t, layers.ARPReply, otherMAC, otherIP, hostMAC, hostIP), viphost.ToMyself)
	require.NoError(t, err)

	evicted, timedOut := r.Sweep(now.Add(2 * time.Second))
	assert.Zero(t, evicted)
	assert.Equal(t, 1, timedOut)
	_, err = stale.Pending.Result()
	assert.ErrorIs(t, err, ErrResolveTimeout)
	assert.Zero(t, r.Pending(peerIP))

	evicted, _ = r.Sweep(now.Add(2 * time.Minute))
	assert.Equal(t, 1, evicted)
	assert.Zero(t, r.Len())
}

func TestExpiredEntryIsMiss(t *testing.T) {
	now := time.Unix(1000, 0)
	r := newResolver(t, hostMAC, hostIP, func(cfg *ResolverConfig) {
		cfg.CacheTTL = time.Minute
		cfg.Now = func() time.Time { return now }
	})
	_, err := r.Parse(serializeARP(t, layers.ARPReply, peerMAC, peerIP, hostMAC, hostIP), viphost.ToMyself)
	require.NoError(t, err)
	assert.True(t, r.Resolve(peerIP).Found)
	now = now.Add(2 * time.Minute)
	q := r.Resolve(peerIP)
	assert.False(t, q.Found)
	assert.NotNil(t, q.Request)
}

func TestBoundedCache(t *testing.T) {
	r := newResolver(t, hostMAC, hostIP, func(cfg *ResolverConfig) { cfg.CacheSize = 2 })
	for i := 1; i <= 3; i++ {
		ip := viphost.IPAddr(0xc0a80100 + uint32(i))
		mac := viphost.MACAddr{2, 0, 0, 0, 0, byte(i)}
		_, err := r.Parse(serializeARP(t, layers.ARPReply, mac, ip, hostMAC, hostIP), viphost.ToMyself)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, r.Len())
	_, ok := r.Lookup(0xc0a80101)
	assert.False(t, ok, "least recently updated entry must be evicted")
	_, ok = r.Lookup(0xc0a80103)
	assert.True(t, ok)
}

func TestAbandon(t *testing.T) {
	r := newResolver(t, hostMAC, hostIP, nil)
	q1 := r.Resolve(peerIP)
	q2 := r.Resolve(peerIP)
	errGone := errors.New("gone")
	r.Abandon(q1.Pending, errGone)
	_, err := q1.Pending.Result()
	assert.ErrorIs(t, err, errGone)
	assert.Equal(t, 1, r.Pending(peerIP))

	_, err = r.Parse(serializeARP(t, layers.ARPReply, peerMAC, peerIP, hostMAC, hostIP), viphost.ToMyself)
	require.NoError(t, err)
	mac, err := q2.Pending.Result()
	require.NoError(t, err)
	assert.Equal(t, peerMAC, mac)
	// Completing again is a no-op.
	r.Abandon(q2.Pending, errGone)
	_, err = q2.Pending.Result()
	assert.NoError(t, err)
}
