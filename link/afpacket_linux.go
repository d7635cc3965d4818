//go:build linux

package link

import (
	"errors"
	"net"
	"os"
	"sync"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/sys/unix"
)

func init() { Register(TypeAFPacket, openAFPacket) }

// afpacketDevice reads frames from a memory mapped TPACKET_V3 ring. Reads
// poll with a timeout so Close can tear the ring down between polls.
type afpacketDevice struct {
	mu     sync.RWMutex
	tp     *afpacket.TPacket
	closed bool
	iface  string
	// promisc is set when the interface flag was raised by this device and
	// must be restored on Close.
	promisc bool
}

func openAFPacket(cfg Config) (Device, error) {
	opts := defaultAFPacketOptions()
	if err := decodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	frameSize, blockSize, numBlocks, err := ringGeometry(opts.BufferSizeMB, opts.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(opts.PollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, err
	}
	d := &afpacketDevice{tp: tp, iface: cfg.Interface}
	if opts.Filter {
		raw, err := FrameFilter(uint32(opts.SnapLen))
		if err == nil {
			err = tp.SetBPF(raw)
		}
		if err != nil {
			tp.Close()
			return nil, err
		}
	}
	if cfg.Promiscuous {
		d.promisc, err = setIfFlag(cfg.Interface, unix.IFF_PROMISC, true)
		if err != nil {
			tp.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *afpacketDevice) Read(b []byte) (int, error) {
	for {
		d.mu.RLock()
		if d.closed {
			d.mu.RUnlock()
			return 0, net.ErrClosed
		}
		data, _, err := d.tp.ZeroCopyReadPacketData()
		n := copy(b, data)
		d.mu.RUnlock()
		switch {
		case errors.Is(err, afpacket.ErrTimeout):
			continue
		case err != nil:
			return 0, err
		}
		return n, nil
	}
}

func (d *afpacketDevice) Write(b []byte) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return 0, net.ErrClosed
	}
	if err := d.tp.WritePacketData(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close waits for a pending Read to time out, releases the ring and restores
// the promiscuous flag.
func (d *afpacketDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.tp.Close()
	if d.promisc {
		_, err := setIfFlag(d.iface, unix.IFF_PROMISC, false)
		return err
	}
	return nil
}
