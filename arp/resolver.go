package arp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	viphost "github.com/hajifkd/virtual-ip-host"
	"github.com/hajifkd/virtual-ip-host/internal/lrucache"
)

// ErrPending is returned by [Resolution.Result] while no reply has arrived.
var ErrPending = errors.New("ARP resolution pending")

// ResolverConfig configures a [Resolver].
type ResolverConfig struct {
	HardwareAddr viphost.MACAddr
	ProtocolAddr viphost.IPAddr
	// Promiscuous must be set when the link delivers frames addressed to other hosts.
	// Requests for other hosts are then ignored instead of reported as invalid.
	Promiscuous bool
	// CacheSize bounds the cache, evicting the least recently updated entry. Zero is unbounded.
	CacheSize int
	// CacheTTL is the age after which [Resolver.Sweep] evicts a cache entry. Zero disables aging.
	CacheTTL time.Duration
	// ResolveTimeout is the age after which [Resolver.Sweep] fails a pending resolution.
	// Zero means an unanswered resolution never completes.
	ResolveTimeout time.Duration
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

type cacheEntry struct {
	mac     viphost.MACAddr
	updated time.Time
}

// Resolver maps IPv4 addresses to Ethernet hardware addresses. It owns the
// address cache and the resolutions waiting on a reply. It is safe for concurrent use.
type Resolver struct {
	mu             sync.Mutex
	mac            viphost.MACAddr
	ip             viphost.IPAddr
	promisc        bool
	cache          *lrucache.Cache[viphost.IPAddr, cacheEntry]
	pending        map[viphost.IPAddr][]*Resolution
	cacheTTL       time.Duration
	resolveTimeout time.Duration
	now            func() time.Time
}

// NewResolver returns a Resolver with an empty cache.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.CacheSize < 0 || cfg.CacheTTL < 0 || cfg.ResolveTimeout < 0 {
		return nil, errors.New("arp: negative resolver config value")
	} else if cfg.ProtocolAddr == 0 {
		return nil, errors.New("arp: unspecified protocol address")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		mac:            cfg.HardwareAddr,
		ip:             cfg.ProtocolAddr,
		promisc:        cfg.Promiscuous,
		cache:          lrucache.New[viphost.IPAddr, cacheEntry](cfg.CacheSize),
		pending:        make(map[viphost.IPAddr][]*Resolution),
		cacheTTL:       cfg.CacheTTL,
		resolveTimeout: cfg.ResolveTimeout,
		now:            now,
	}, nil
}

// HardwareAddr returns the hardware address the resolver answers for.
func (r *Resolver) HardwareAddr() viphost.MACAddr { return r.mac }

// ProtocolAddr returns the IP address the resolver answers for.
func (r *Resolver) ProtocolAddr() viphost.IPAddr { return r.ip }

// Query is the result of [Resolver.Resolve].
type Query struct {
	// Found is set on a cache hit. MAC is then valid and Request is nil.
	Found bool
	MAC   viphost.MACAddr
	// Request is the ARP request to broadcast on a cache miss.
	Request []byte
	// Pending completes once the address is known. It is already completed on a cache hit.
	Pending *Resolution
}

// Resolve looks up target in the cache. On a miss it builds an ARP request for
// target and registers a new pending resolution. Every call on a miss returns its
// own Resolution and all of them complete when the reply arrives.
func (r *Resolver) Resolve(target viphost.IPAddr) Query {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if mac, ok := r.lookup(target, now); ok {
		res := newResolution(target, now)
		res.complete(mac, nil)
		return Query{Found: true, MAC: mac, Pending: res}
	}
	res := newResolution(target, now)
	r.pending[target] = append(r.pending[target], res)
	req := appendPacket(make([]byte, 0, sizeHeaderv4), OpRequest, r.mac, r.ip, viphost.BroadcastMAC, target)
	return Query{Request: req, Pending: res}
}

// Lookup returns the cached hardware address for ip.
func (r *Resolver) Lookup(ip viphost.IPAddr) (viphost.MACAddr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(ip, r.now())
}

func (r *Resolver) lookup(ip viphost.IPAddr, now time.Time) (viphost.MACAddr, bool) {
	entry, ok := r.cache.Get(ip)
	if !ok {
		return viphost.MACAddr{}, false
	}
	if r.cacheTTL > 0 && now.Sub(entry.updated) > r.cacheTTL {
		r.cache.Delete(ip)
		return viphost.MACAddr{}, false
	}
	return entry.mac, true
}

// Len returns the number of cached addresses.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}

// Pending returns the number of resolutions waiting on ip.
func (r *Resolver) Pending(ip viphost.IPAddr) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending[ip])
}

// Abandon removes res from the pending resolutions and completes it with err.
// It does nothing if res already completed.
func (r *Resolver) Abandon(res *Resolution, err error) {
	if err == nil {
		panic("arp: nil abandon error")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	waiters := r.pending[res.target]
	for i, w := range waiters {
		if w == res {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(r.pending, res.target)
	} else {
		r.pending[res.target] = waiters
	}
	res.complete(viphost.MACAddr{}, err)
}

// Parse processes an ARP packet received in a frame classified as dst.
// A request for this host's address yields a reply to be sent to the requester.
// A reply addressed to this host updates the cache and completes every
// resolution waiting on the sender's address.
func (r *Resolver) Parse(buf []byte, dst viphost.Destination) (viphost.Reply[viphost.MACAddr], error) {
	var nop viphost.Reply[viphost.MACAddr]
	afrm, err := NewFrame(buf)
	if err != nil {
		return nop, err
	}
	htype, hlen := afrm.Hardware()
	if htype != hardwareEthernet {
		return nop, fmt.Errorf("%w: 0x%04x", ErrUnsupportedHardwareAddressSpace, htype)
	}
	ptype, plen := afrm.Protocol()
	if ptype != viphost.EtherTypeIPv4 {
		return nop, fmt.Errorf("%w: 0x%04x", ErrUnsupportedProtocolAddressSpace, uint16(ptype))
	}
	if hlen != 6 || plen != 4 {
		return nop, fmt.Errorf("%w: address lengths %d/%d", ErrInvalidPacket, hlen, plen)
	}
	var v viphost.Validator
	afrm.ValidateSize(&v)
	if err := v.Err(); err != nil {
		return nop, err
	}
	senderHW, _ := afrm.Sender4()
	targetHW, _ := afrm.Target4()
	senderIP, targetIP := afrm.SenderIP(), afrm.TargetIP()

	switch op := afrm.Operation(); op {
	case OpReply:
		if *targetHW == r.mac && targetIP == r.ip {
			r.insert(senderIP, *senderHW)
			return nop, nil
		} else if dst != viphost.Promiscuous {
			return nop, fmt.Errorf("%w: reply for %s(%s)", ErrInvalidPacket, targetIP, targetHW)
		}
		return nop, nil // Reply between other hosts.

	case OpRequest:
		if targetIP == r.ip {
			data := appendPacket(make([]byte, 0, sizeHeaderv4), OpReply, r.mac, r.ip, *senderHW, senderIP)
			return viphost.Reply[viphost.MACAddr]{Dst: *senderHW, Data: data}, nil
		} else if !r.promisc {
			return nop, fmt.Errorf("%w: request for %s", ErrInvalidPacket, targetIP)
		}
		return nop, nil

	default:
		return nop, fmt.Errorf("%w: %d", ErrUnsupportedOperationCode, uint16(op))
	}
}

// insert stores the mapping and wakes all waiters under the same lock
// so a concurrent Resolve either hits the cache or is woken.
func (r *Resolver) insert(ip viphost.IPAddr, mac viphost.MACAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Push(ip, cacheEntry{mac: mac, updated: r.now()})
	for _, res := range r.pending[ip] {
		res.complete(mac, nil)
	}
	delete(r.pending, ip)
}

// Sweep evicts cache entries older than the configured TTL and fails pending
// resolutions older than the configured timeout with [ErrResolveTimeout].
// It is a no-op for limits left at zero.
func (r *Resolver) Sweep(now time.Time) (evicted, timedOut int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cacheTTL > 0 {
		var stale []viphost.IPAddr
		r.cache.Range(func(ip viphost.IPAddr, e cacheEntry) bool {
			if now.Sub(e.updated) > r.cacheTTL {
				stale = append(stale, ip)
			}
			return true
		})
		for _, ip := range stale {
			r.cache.Delete(ip)
		}
		evicted = len(stale)
	}
	if r.resolveTimeout > 0 {
		for ip, waiters := range r.pending {
			kept := waiters[:0]
			for _, res := range waiters {
				if now.Sub(res.created) > r.resolveTimeout {
					res.complete(viphost.MACAddr{}, fmt.Errorf("%w: %s", ErrResolveTimeout, ip))
					timedOut++
				} else {
					kept = append(kept, res)
				}
			}
			if len(kept) == 0 {
				delete(r.pending, ip)
			} else {
				r.pending[ip] = kept
			}
		}
	}
	return evicted, timedOut
}

// Resolution is a single-use handle completed once the hardware address
// of its target is known or the resolution fails.
type Resolution struct {
	target  viphost.IPAddr
	created time.Time
	done    chan struct{}
	once    sync.Once
	mac     viphost.MACAddr
	err     error
}

func newResolution(target viphost.IPAddr, now time.Time) *Resolution {
	return &Resolution{target: target, created: now, done: make(chan struct{})}
}

func (res *Resolution) complete(mac viphost.MACAddr, err error) {
	res.once.Do(func() {
		res.mac = mac
		res.err = err
		close(res.done)
	})
}

// Target returns the IP address being resolved.
func (res *Resolution) Target() viphost.IPAddr { return res.target }

// Done returns a channel closed when the resolution completes.
func (res *Resolution) Done() <-chan struct{} { return res.done }

// Result returns the resolved address. It returns [ErrPending] if the resolution has not completed.
func (res *Resolution) Result() (viphost.MACAddr, error) {
	select {
	case <-res.done:
		return res.mac, res.err
	default:
		return viphost.MACAddr{}, ErrPending
	}
}

// Wait blocks until the resolution completes or ctx is done.
func (res *Resolution) Wait(ctx context.Context) (viphost.MACAddr, error) {
	select {
	case <-res.done:
		return res.mac, res.err
	case <-ctx.Done():
		return viphost.MACAddr{}, ctx.Err()
	}
}
