package internet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	viphost "github.com/hajifkd/virtual-ip-host"
	"github.com/hajifkd/virtual-ip-host/arp"
	"github.com/hajifkd/virtual-ip-host/internal/log"
	"github.com/hajifkd/virtual-ip-host/internal/metrics"
	"github.com/hajifkd/virtual-ip-host/ipv4"
	"github.com/hajifkd/virtual-ip-host/ipv4/icmpv4"
)

// maxFrameSize bounds frames read from the device. Jumbo frames are truncated.
const maxFrameSize = 9216

// StackConfig configures a [Stack].
type StackConfig struct {
	Device       Device
	HardwareAddr viphost.MACAddr
	ProtocolAddr viphost.IPAddr
	Promiscuous  bool
	// QueueCapacity of received frames not yet processed. Zero selects [DefaultQueueCapacity].
	QueueCapacity int

	// ARP cache and resolution limits, see [arp.ResolverConfig]. Zero disables each.
	CacheSize      int
	CacheTTL       time.Duration
	ResolveTimeout time.Duration
	// SweepInterval is the period of cache and resolution expiry. Used only
	// when CacheTTL or ResolveTimeout is set.
	SweepInterval time.Duration

	// TTL of originated datagrams. Zero selects [ipv4.DefaultTTL].
	TTL uint8

	Logger  log.Logger
	Metrics *metrics.Metrics
}

// Stack runs a host on a Device: one goroutine reads frames into a bounded
// queue and another processes them in arrival order.
type Stack struct {
	logger
	dev        Device
	arp        *arp.Resolver
	icmp       *icmpv4.Exchange
	ip         *ipv4.Processor
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
	queueCap   int
	sweep      time.Duration

	closeOnce sync.Once
	closeErr  error
}

func NewStack(cfg StackConfig) (*Stack, error) {
	if cfg.Device == nil {
		return nil, errors.New("nil device")
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	} else if cfg.QueueCapacity < 0 {
		return nil, errors.New("negative queue capacity")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	resolver, err := arp.NewResolver(arp.ResolverConfig{
		HardwareAddr:   cfg.HardwareAddr,
		ProtocolAddr:   cfg.ProtocolAddr,
		Promiscuous:    cfg.Promiscuous,
		CacheSize:      cfg.CacheSize,
		CacheTTL:       cfg.CacheTTL,
		ResolveTimeout: cfg.ResolveTimeout,
	})
	if err != nil {
		return nil, err
	}
	icmp := icmpv4.NewExchange()
	ip, err := ipv4.NewProcessor(ipv4.ProcessorConfig{
		Addr: cfg.ProtocolAddr,
		ICMP: icmp,
		TTL:  cfg.TTL,
		Seed: uint16(time.Now().UnixNano()),
	})
	if err != nil {
		return nil, err
	}
	dispatcher, err := NewDispatcher(DispatcherConfig{
		Device:         cfg.Device,
		ARP:            resolver,
		IP:             ip,
		Promiscuous:    cfg.Promiscuous,
		ResolveTimeout: cfg.ResolveTimeout,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	var sweep time.Duration
	if cfg.CacheTTL > 0 || cfg.ResolveTimeout > 0 {
		sweep = cfg.SweepInterval
		if sweep <= 0 {
			return nil, errors.New("sweep interval required with ARP aging")
		}
	}
	return &Stack{
		logger:     logger{log: cfg.Logger},
		dev:        cfg.Device,
		arp:        resolver,
		icmp:       icmp,
		ip:         ip,
		dispatcher: dispatcher,
		metrics:    cfg.Metrics,
		queueCap:   cfg.QueueCapacity,
		sweep:      sweep,
	}, nil
}

func (s *Stack) Dispatcher() *Dispatcher   { return s.dispatcher }
func (s *Stack) Resolver() *arp.Resolver    { return s.arp }
func (s *Stack) ICMP() *icmpv4.Exchange     { return s.icmp }
func (s *Stack) Processor() *ipv4.Processor { return s.ip }

// Run serves the host until ctx is done or a fatal error occurs. Device read
// failures and a full receive queue are fatal. Run closes the device on return
// and returns nil when stopped by ctx.
func (s *Stack) Run(ctx context.Context) error {
	queue := make(chan []byte, s.queueCap)
	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(func(ctx context.Context) error { return s.receive(ctx, queue) })
	p.Go(func(ctx context.Context) error { return s.process(ctx, queue) })
	if s.sweep > 0 {
		p.Go(s.sweeper)
	}
	p.Go(func(ctx context.Context) error {
		// Unblocks the reader.
		<-ctx.Done()
		return s.Close()
	})
	s.info("stack running", "mac", s.dispatcher.HardwareAddr().String(), "ip", s.ip.Addr().String())
	err := p.Wait()
	s.dispatcher.Wait()
	if err != nil {
		s.error("stack stopped", "err", err)
		return err
	}
	s.info("stack stopped")
	return nil
}

// receive reads frames into fresh buffers and queues them without blocking.
func (s *Stack) receive(ctx context.Context, queue chan<- []byte) error {
	buf := make([]byte, maxFrameSize)
	for {
		n, err := s.dev.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("device read: %w", err)
		}
		frame := append([]byte(nil), buf[:n]...)
		select {
		case queue <- frame:
			s.metrics.QueueDepth.Set(float64(len(queue)))
		default:
			return fmt.Errorf("%w: %d frames pending", ErrQueueOverflow, cap(queue))
		}
	}
}

// process demultiplexes queued frames one at a time in arrival order.
func (s *Stack) process(ctx context.Context, queue <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-queue:
			s.metrics.QueueDepth.Set(float64(len(queue)))
			if err := s.dispatcher.Demux(ctx, frame); err != nil {
				s.logFrameError(err)
			}
		}
	}
}

func (s *Stack) logFrameError(err error) {
	switch {
	case errors.Is(err, arp.ErrInvalidPacket),
		errors.Is(err, icmpv4.ErrInvalidPacket),
		errors.Is(err, ipv4.ErrUnimplemented),
		errors.Is(err, icmpv4.ErrUnimplemented):
		// Traffic this host does not take part in.
		s.debug("frame ignored", "err", err)
	default:
		s.warn("frame rejected", "err", err)
	}
}

func (s *Stack) sweeper(ctx context.Context) error {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			evicted, timedOut := s.arp.Sweep(now)
			if evicted > 0 || timedOut > 0 {
				s.metrics.ARPCacheEntries.Set(float64(s.arp.Len()))
				s.debug("arp sweep", "evicted", evicted, "timed_out", timedOut)
			}
		}
	}
}

// Resolve returns the hardware address of ip, broadcasting an ARP request if
// it is not cached. Resolution is abandoned if ctx is done first.
func (s *Stack) Resolve(ctx context.Context, ip viphost.IPAddr) (viphost.MACAddr, error) {
	res := s.dispatcher.Resolve(ip)
	mac, err := res.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		s.arp.Abandon(res, err)
	}
	return mac, err
}

// Ping sends one Echo carrying payload to dst and waits for its reply.
func (s *Stack) Ping(ctx context.Context, dst viphost.IPAddr, payload []byte) (icmpv4.EchoReply, error) {
	p, err := s.NewPinger(dst, payload)
	if err != nil {
		return icmpv4.EchoReply{}, err
	}
	defer p.Close()
	if err := p.Send(ctx, 0); err != nil {
		return icmpv4.EchoReply{}, err
	}
	return p.Recv(ctx)
}

// NewPinger registers an Echo identifier for echoes to dst carrying payload.
func (s *Stack) NewPinger(dst viphost.IPAddr, payload []byte) (*Pinger, error) {
	id, first, replies, err := s.icmp.RegisterEcho(payload)
	if err != nil {
		return nil, err
	}
	return &Pinger{s: s, dst: dst, id: id, payload: payload, first: first, replies: replies}, nil
}

// Pinger sends Echo messages with one identifier and receives their replies.
type Pinger struct {
	s       *Stack
	dst     viphost.IPAddr
	id      uint16
	payload []byte
	first   []byte
	replies <-chan icmpv4.EchoReply
}

func (p *Pinger) ID() uint16 { return p.id }

// Send transmits the Echo with sequence number seq. The datagram waits for
// address resolution of the destination at most until ctx is done.
func (p *Pinger) Send(ctx context.Context, seq uint16) error {
	msg := p.first
	if seq != 0 {
		var err error
		msg, err = p.s.icmp.Echo(p.id, seq, p.payload)
		if err != nil {
			return err
		}
	}
	p.s.dispatcher.SendIP(ctx, p.dst, p.s.ip.Encapsulate(p.dst, viphost.IPProtoICMP, msg))
	return nil
}

// Recv waits for the next Echo Reply for the identifier.
func (p *Pinger) Recv(ctx context.Context) (icmpv4.EchoReply, error) {
	select {
	case reply, ok := <-p.replies:
		if !ok {
			return icmpv4.EchoReply{}, icmpv4.ErrNotRegistered
		}
		return reply, nil
	case <-ctx.Done():
		return icmpv4.EchoReply{}, ctx.Err()
	}
}

// Close releases the identifier.
func (p *Pinger) Close() { p.s.icmp.Unregister(p.id) }

// Close closes the device. It is safe to call more than once.
func (s *Stack) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.dev.Close()
	})
	return s.closeErr
}
