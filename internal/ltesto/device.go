package ltesto

import (
	"context"
	"net"
	"sync"
)

// Device is an in-memory link. Frames injected with Inject are returned by
// Read in order; frames passed to Write are recorded and published on Sent.
type Device struct {
	rx     chan []byte
	sent   chan []byte
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	writes [][]byte
	// WriteErr, if set, is returned by every Write.
	WriteErr error
}

// NewDevice returns a Device buffering up to capacity injected and sent frames.
func NewDevice(capacity int) *Device {
	return &Device{
		rx:   make(chan []byte, capacity),
		sent: make(chan []byte, capacity),
		done: make(chan struct{}),
	}
}

// Inject queues frame to be returned by Read.
func (d *Device) Inject(frame []byte) {
	d.rx <- frame
}

func (d *Device) Read(b []byte) (int, error) {
	select {
	case frame := <-d.rx:
		return copy(b, frame), nil
	case <-d.done:
		return 0, net.ErrClosed
	}
}

func (d *Device) Write(b []byte) (int, error) {
	if d.WriteErr != nil {
		return 0, d.WriteErr
	}
	frame := append([]byte(nil), b...)
	d.mu.Lock()
	d.writes = append(d.writes, frame)
	d.mu.Unlock()
	select {
	case d.sent <- frame:
	default:
	}
	return len(b), nil
}

// Close unblocks pending and future reads.
func (d *Device) Close() error {
	d.once.Do(func() { close(d.done) })
	return nil
}

// Writes returns the frames written so far.
func (d *Device) Writes() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.writes...)
}

// Next returns the next written frame or nil if ctx is done first.
func (d *Device) Next(ctx context.Context) []byte {
	select {
	case frame := <-d.sent:
		return frame
	case <-ctx.Done():
		return nil
	}
}
