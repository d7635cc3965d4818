package internet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"

	viphost "github.com/hajifkd/virtual-ip-host"
	"github.com/hajifkd/virtual-ip-host/arp"
	"github.com/hajifkd/virtual-ip-host/ethernet"
	"github.com/hajifkd/virtual-ip-host/internal/log"
	"github.com/hajifkd/virtual-ip-host/internal/metrics"
	"github.com/hajifkd/virtual-ip-host/ipv4"
)

// DispatcherConfig configures a [Dispatcher]. The hardware and protocol
// addresses of the host are those of ARP and IP.
type DispatcherConfig struct {
	Device Device
	ARP    *arp.Resolver
	IP     *ipv4.Processor
	// Promiscuous hands frames addressed to other hosts to the protocol
	// handlers for validation. Otherwise they are dropped on arrival.
	Promiscuous bool
	// ResolveTimeout bounds how long an outbound datagram waits for the
	// hardware address of its destination. Zero waits until the context passed
	// to [Dispatcher.SendIP] is done.
	ResolveTimeout time.Duration
	Logger         log.Logger
	Metrics        *metrics.Metrics
}

// Dispatcher is the link layer entry point of the host. It routes inbound
// frames to ARP or IPv4 by EtherType, frames their replies and resolves the
// hardware address of outbound datagrams.
type Dispatcher struct {
	logger
	dev            Device
	arp            *arp.Resolver
	ip             *ipv4.Processor
	mac            viphost.MACAddr
	promisc        bool
	resolveTimeout time.Duration
	metrics        *metrics.Metrics
	// inflight tracks datagrams waiting on address resolution.
	inflight conc.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	switch {
	case cfg.Device == nil:
		return nil, errors.New("nil device")
	case cfg.ARP == nil:
		return nil, errors.New("nil ARP resolver")
	case cfg.IP == nil:
		return nil, errors.New("nil IP processor")
	case cfg.ARP.ProtocolAddr() != cfg.IP.Addr():
		return nil, errors.New("ARP and IP protocol address mismatch")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Dispatcher{
		logger:         logger{log: cfg.Logger},
		dev:            cfg.Device,
		arp:            cfg.ARP,
		ip:             cfg.IP,
		mac:            cfg.ARP.HardwareAddr(),
		promisc:        cfg.Promiscuous,
		resolveTimeout: cfg.ResolveTimeout,
		metrics:        cfg.Metrics,
	}, nil
}

// HardwareAddr returns the hardware address of the host.
func (d *Dispatcher) HardwareAddr() viphost.MACAddr { return d.mac }

// Demux processes one inbound frame. Errors returned are local to the frame.
// Replies produced by the protocol handlers are transmitted before Demux
// returns unless they wait on address resolution, which continues in the
// background until ctx is done.
func (d *Dispatcher) Demux(ctx context.Context, frame []byte) error {
	efrm, err := ethernet.NewFrame(frame)
	if err == nil {
		var v viphost.Validator
		efrm.ValidateSize(&v)
		err = v.Err()
	}
	if err != nil {
		d.metrics.FramesDropped.WithLabelValues(metrics.DropShortFrame).Inc()
		return fmt.Errorf("%w: %d bytes: %w", ErrShortFrame, len(frame), err)
	}
	dst := viphost.ClassifyDestination(*efrm.DestinationHardwareAddr(), d.mac)
	if dst == viphost.Promiscuous && !d.promisc {
		d.metrics.FramesDropped.WithLabelValues(metrics.DropNotForUs).Inc()
		return nil
	}
	etype := efrm.EtherType()
	switch etype {
	case viphost.EtherTypeARP:
		d.metrics.FramesReceived.WithLabelValues(etype.String()).Inc()
		reply, err := d.arp.Parse(efrm.Payload(), dst)
		d.metrics.ARPCacheEntries.Set(float64(d.arp.Len()))
		if err != nil {
			d.metrics.ParseErrors.WithLabelValues("arp").Inc()
			return fmt.Errorf("arp: %w", err)
		}
		if !reply.IsNop() {
			d.transmit(reply.Dst, viphost.EtherTypeARP, reply.Data)
		}

	case viphost.EtherTypeIPv4:
		d.metrics.FramesReceived.WithLabelValues(etype.String()).Inc()
		reply, err := d.ip.Parse(efrm.Payload(), dst)
		if err != nil {
			proto := "ipv4"
			if ipv4.IsICMP(err) {
				proto = "icmp"
			}
			d.metrics.ParseErrors.WithLabelValues(proto).Inc()
			return fmt.Errorf("ipv4: %w", err)
		}
		if !reply.IsNop() {
			d.SendIP(ctx, reply.Dst, reply.Data)
		}

	default:
		d.metrics.FramesDropped.WithLabelValues(metrics.DropUnknownEtherType).Inc()
		d.debug("unknown ethertype", "frame", efrm)
	}
	return nil
}

// Resolve starts resolution of the hardware address of ip. On a cache hit the
// returned handle is already complete and nothing is sent. On a miss an ARP
// request is broadcast and the handle completes when the reply arrives.
func (d *Dispatcher) Resolve(ip viphost.IPAddr) *arp.Resolution {
	q := d.arp.Resolve(ip)
	if !q.Found {
		d.transmit(viphost.BroadcastMAC, viphost.EtherTypeARP, q.Request)
	}
	return q.Pending
}

// SendIP transmits the datagram to dst. When the hardware address of dst is
// not cached the datagram waits for resolution in its own goroutine, so any
// number of datagrams may be waiting at once. Datagrams whose resolution fails
// are logged and dropped.
func (d *Dispatcher) SendIP(ctx context.Context, dst viphost.IPAddr, datagram []byte) {
	if dst == viphost.BroadcastIP {
		d.transmit(viphost.BroadcastMAC, viphost.EtherTypeIPv4, datagram)
		return
	}
	res := d.Resolve(dst)
	if mac, err := res.Result(); err == nil {
		d.transmit(mac, viphost.EtherTypeIPv4, datagram)
		return
	}
	d.debug("datagram waiting on resolution", "dst", dst.String(), "len", len(datagram))
	d.inflight.Go(func() {
		waitCtx := ctx
		if d.resolveTimeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, d.resolveTimeout)
			defer cancel()
		}
		mac, err := res.Wait(waitCtx)
		if err != nil {
			d.arp.Abandon(res, err)
			d.metrics.FramesDropped.WithLabelValues(metrics.DropUnresolved).Inc()
			d.warn("datagram dropped", "dst", dst.String(), "err", err)
			return
		}
		d.transmit(mac, viphost.EtherTypeIPv4, datagram)
	})
}

// Wait blocks until every datagram waiting on resolution was sent or dropped.
func (d *Dispatcher) Wait() { d.inflight.Wait() }

// transmit frames payload and writes it to the device. Failures are logged and counted.
func (d *Dispatcher) transmit(dst viphost.MACAddr, etype viphost.EtherType, payload []byte) {
	frame := ethernet.AppendFrame(make([]byte, 0, max(ethernet.MinFrameSize, ethernet.SizeHeader+len(payload))), dst, d.mac, etype, payload)
	n, err := d.dev.Write(frame)
	if err != nil {
		d.metrics.SendErrors.Inc()
		d.error("device write failed", "ethertype", etype.String(), "err", err)
		return
	} else if n != len(frame) {
		d.metrics.SendErrors.Inc()
		d.error("short device write", "ethertype", etype.String(), "wrote", n, "len", len(frame))
		return
	}
	d.metrics.FramesSent.Inc()
}
