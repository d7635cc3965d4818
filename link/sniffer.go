package link

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/multierr"
)

// Sniffer is a Device that records every frame read from or written to the
// wrapped Device in pcap format. The first capture error stops the recording
// and is returned by Close.
type Sniffer struct {
	dev     Device
	snapLen uint32

	mu     sync.Mutex
	buf    *bufio.Writer
	pcap   *pcapgo.Writer
	file   io.Closer
	err    error
	now    func() time.Time
	frames int
}

// NewSniffer records the traffic of dev to w, keeping at most snapLen bytes of each frame.
func NewSniffer(dev Device, w io.Writer, snapLen uint32) (*Sniffer, error) {
	if snapLen == 0 {
		return nil, errors.New("zero snap length")
	}
	buf := bufio.NewWriter(w)
	pw := pcapgo.NewWriter(buf)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, err
	}
	return &Sniffer{dev: dev, snapLen: snapLen, buf: buf, pcap: pw, now: time.Now}, nil
}

// OpenSniffer records the traffic of dev to a new file at path.
func OpenSniffer(dev Device, path string, snapLen uint32) (*Sniffer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSniffer(dev, f, snapLen)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.file = f
	return s, nil
}

func (s *Sniffer) Read(b []byte) (int, error) {
	n, err := s.dev.Read(b)
	if err == nil {
		s.record(b[:n])
	}
	return n, err
}

func (s *Sniffer) Write(b []byte) (int, error) {
	n, err := s.dev.Write(b)
	if err == nil {
		s.record(b[:n])
	}
	return n, err
}

// Frames returns the number of frames recorded.
func (s *Sniffer) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *Sniffer) record(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	data := frame
	if uint32(len(data)) > s.snapLen {
		data = data[:s.snapLen]
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     s.now(),
		CaptureLength: len(data),
		Length:        len(frame),
	}
	s.err = s.pcap.WritePacket(ci, data)
	if s.err == nil {
		s.frames++
	}
}

// Close closes the wrapped Device and flushes the recording.
func (s *Sniffer) Close() error {
	err := s.dev.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	err = multierr.Append(err, s.err)
	err = multierr.Append(err, s.buf.Flush())
	if s.file != nil {
		err = multierr.Append(err, s.file.Close())
		s.file = nil
	}
	return err
}
