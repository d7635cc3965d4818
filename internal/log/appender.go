package log

import (
	"io"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"
)

// MultiWriter duplicates writes to every added writer. A failing writer does
// not prevent the others from receiving the data.
type MultiWriter struct {
	writers []io.Writer
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0)}
}

func (m *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range m.writers {
		_, e := w.Write(p)
		if e != nil {
			err = e
		}
	}
	return len(p), err
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.writers = append(m.writers, writer)
	return m
}

// AddFileAppender adds a size rotated log file.
func (m *MultiWriter) AddFileAppender(cfg FileConfig) *MultiWriter {
	writer := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,  // megabytes
		MaxBackups: cfg.MaxBackups, // number of backups
		MaxAge:     cfg.MaxAgeDays, // days
		Compress:   cfg.Compress,
	}
	m.writers = append(m.writers, writer)
	return m
}

// Close closes every writer that is an [io.Closer], except the standard streams.
func (m *MultiWriter) Close() error {
	var err error
	for _, w := range m.writers {
		if w == io.Writer(os.Stdout) || w == io.Writer(os.Stderr) {
			continue
		}
		if c, ok := w.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
