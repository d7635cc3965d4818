// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons.
const (
	DropNotForUs         = "not_for_us"
	DropUnknownEtherType = "unknown_ethertype"
	DropShortFrame       = "short_frame"
	DropUnresolved       = "unresolved"
)

// Metrics holds the collectors of one stack, registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	// FramesReceived counts frames handed to the dispatcher by EtherType.
	FramesReceived *prometheus.CounterVec
	// FramesDropped counts frames discarded before protocol processing.
	FramesDropped *prometheus.CounterVec
	// ParseErrors counts frames rejected by a protocol handler.
	ParseErrors *prometheus.CounterVec

	FramesSent prometheus.Counter
	SendErrors prometheus.Counter

	// ARPCacheEntries tracks the size of the address resolution cache.
	ARPCacheEntries prometheus.Gauge
	// QueueDepth tracks frames read but not yet processed.
	QueueDepth prometheus.Gauge
}

// New returns Metrics registered on a new registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		FramesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vhost_frames_received_total",
				Help: "Total number of frames received",
			},
			[]string{"ethertype"},
		),
		FramesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vhost_frames_dropped_total",
				Help: "Total number of frames dropped before protocol processing",
			},
			[]string{"reason"},
		),
		ParseErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vhost_parse_errors_total",
				Help: "Total number of frames rejected by a protocol handler",
			},
			[]string{"protocol"},
		),
		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "vhost_frames_sent_total",
			Help: "Total number of frames written to the device",
		}),
		SendErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vhost_send_errors_total",
			Help: "Total number of failed or short device writes",
		}),
		ARPCacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vhost_arp_cache_entries",
			Help: "Current number of entries in the ARP cache",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vhost_queue_depth",
			Help: "Number of received frames waiting to be processed",
		}),
	}
}
