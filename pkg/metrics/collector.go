package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the PAR3 pipeline's Prometheus instruments. A nil
// *Collector is valid and every method is a no-op, so call sites don't need
// to guard on whether metrics are enabled.
type Collector struct {
	packetsScanned   *prometheus.CounterVec
	blocksFound      *prometheus.CounterVec
	rsEncodeSeconds  prometheus.Histogram
	rsDecodeSeconds  prometheus.Histogram
	repairReconciled *prometheus.CounterVec
}

// NewCollector returns a Collector registered against the process-wide
// registry, or nil if metrics are disabled.
func NewCollector() *Collector {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &Collector{
		packetsScanned: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "par3_packets_scanned_total",
				Help: "Total number of packets encountered while scanning, by type tag and outcome.",
			},
			[]string{"type", "outcome"}, // outcome: "accepted", "dropped"
		),
		blocksFound: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "par3_blocks_found_total",
				Help: "Total number of blocks located during verification, by match kind (full or tail).",
			},
			[]string{"kind"},
		),
		rsEncodeSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "par3_rs_encode_seconds",
				Help:    "Time spent producing one recovery block cohort.",
				Buckets: prometheus.DefBuckets,
			},
		),
		rsDecodeSeconds: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "par3_rs_decode_seconds",
				Help:    "Time spent reconstructing one lost-block cohort.",
				Buckets: prometheus.DefBuckets,
			},
		),
		repairReconciled: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "par3_repair_blocks_reconciled_total",
				Help: "Total number of blocks repaired, by final file status.",
			},
			[]string{"status"},
		),
	}
}

// RecordPacketScanned records one scanned packet, either accepted into the
// graph or dropped for a fingerprint/length mismatch.
func (c *Collector) RecordPacketScanned(typeTag string, accepted bool) {
	if c == nil {
		return
	}
	outcome := "dropped"
	if accepted {
		outcome = "accepted"
	}
	c.packetsScanned.WithLabelValues(typeTag, outcome).Inc()
}

// RecordBlockFound records one block (or tail) located during a slide
// search scan, labeled by match kind.
func (c *Collector) RecordBlockFound(kind string) {
	if c == nil {
		return
	}
	c.blocksFound.WithLabelValues(kind).Inc()
}

// ObserveEncodeSeconds records the wall time of one RS encode call.
func (c *Collector) ObserveEncodeSeconds(seconds float64) {
	if c == nil {
		return
	}
	c.rsEncodeSeconds.Observe(seconds)
}

// ObserveDecodeSeconds records the wall time of one RS decode call.
func (c *Collector) ObserveDecodeSeconds(seconds float64) {
	if c == nil {
		return
	}
	c.rsDecodeSeconds.Observe(seconds)
}

// RecordRepairReconciled records one file's final status after a repair
// pass.
func (c *Collector) RecordRepairReconciled(status string) {
	if c == nil {
		return
	}
	c.repairReconciled.WithLabelValues(status).Inc()
}
