package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/hajifkd/virtual-ip-host/internal/config"
	"github.com/hajifkd/virtual-ip-host/internal/log"
	"github.com/hajifkd/virtual-ip-host/internal/metrics"
	"github.com/hajifkd/virtual-ip-host/internet"
	"github.com/hajifkd/virtual-ip-host/link"
)

// host is a stack wired from configuration together with the resources it owns.
type host struct {
	stack   *internet.Stack
	logger  log.Logger
	metrics *metrics.Metrics
	server  *metrics.Server
	closers []io.Closer
}

// buildHost opens the configured device and builds a stack on it. The
// caller must call close when done, also after the stack stopped.
func buildHost(cfg *config.Config) (h *host, err error) {
	logger, logCloser, err := log.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	h = &host{logger: logger, metrics: metrics.New(), closers: []io.Closer{logCloser}}
	defer func() {
		if err != nil {
			err = multierr.Append(err, h.close(context.Background()))
			h = nil
		}
	}()

	var dev link.Device
	dev, err = link.Open(link.Config{
		Type:        cfg.Device.Type,
		Interface:   cfg.Interface,
		Promiscuous: cfg.Promiscuous,
		Options:     cfg.Device.Options,
	})
	if err != nil {
		return h, err
	}
	if cfg.Capture.Enabled {
		sniffer, serr := link.OpenSniffer(dev, cfg.Capture.Path, uint32(cfg.Capture.SnapLen))
		if serr != nil {
			dev.Close()
			return h, fmt.Errorf("capture: %w", serr)
		}
		logger.WithField("path", cfg.Capture.Path).Infof("capturing frames")
		dev = sniffer
	}

	h.stack, err = internet.NewStack(internet.StackConfig{
		Device:         dev,
		HardwareAddr:   cfg.MAC(),
		ProtocolAddr:   cfg.IPAddr(),
		Promiscuous:    cfg.Promiscuous,
		QueueCapacity:  cfg.QueueCapacity,
		CacheSize:      cfg.ARP.CacheSize,
		CacheTTL:       cfg.ARP.CacheTTL,
		ResolveTimeout: cfg.ARP.ResolveTimeout,
		SweepInterval:  cfg.ARP.SweepInterval,
		TTL:            uint8(cfg.IP.TTL),
		Logger:         logger,
		Metrics:        h.metrics,
	})
	if err != nil {
		dev.Close()
		return h, err
	}
	h.closers = append(h.closers, h.stack)

	if cfg.Metrics.Enabled {
		h.server = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, h.metrics, logger)
		if err = h.server.Start(); err != nil {
			h.server = nil
			return h, err
		}
	}
	return h, nil
}

// serve runs the stack while fn runs and stops it once fn returns. A fatal
// stack error cancels fn and is returned in preference to fn's error.
func (h *host) serve(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError().WithFirstError()
	p.Go(h.stack.Run)
	p.Go(func(ctx context.Context) error {
		defer cancel()
		return fn(ctx)
	})
	return p.Wait()
}

// close releases everything buildHost acquired, the log output last.
func (h *host) close(ctx context.Context) error {
	var err error
	if h.server != nil {
		err = multierr.Append(err, h.server.Stop(ctx))
	}
	for i := len(h.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, h.closers[i].Close())
	}
	return err
}
