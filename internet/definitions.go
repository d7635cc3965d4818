package internet

import (
	"errors"
)

// DefaultQueueCapacity is the number of frames read from the device and not yet processed
// that a [Stack] holds before failing with [ErrQueueOverflow].
const DefaultQueueCapacity = 256

var (
	ErrShortFrame    = errors.New("short Ethernet frame")
	ErrQueueOverflow = errors.New("receive queue overflow")
)

// Device is a link delivering and accepting whole Ethernet frames, header
// included and frame check sequence excluded.
type Device interface {
	// Read blocks until a frame is received and copies it into frame.
	Read(frame []byte) (int, error)
	// Write transmits frame.
	Write(frame []byte) (int, error)
	// Close releases the device, unblocking pending reads.
	Close() error
}
