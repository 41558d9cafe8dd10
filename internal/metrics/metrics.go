// Package metrics records run counters in Prometheus format.
//
// The cleaner is a batch job, so metrics are written to a node_exporter
// textfile at the end of a run instead of being scraped.
package metrics

import (
	"fmt"
	"time"

	"github.com/JonMunkholm/usercleaner/internal/core"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the run metrics.
type Collector struct {
	recordsRead       prometheus.Counter
	recordsAccepted   prometheus.Counter
	recordsRejected   *prometheus.CounterVec
	dateParseFailures prometheus.Counter
	runDuration       prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		recordsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usercleaner_records_read_total",
			Help: "Records read from the input export.",
		}),
		recordsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usercleaner_records_accepted_total",
			Help: "Records written to the cleaned output.",
		}),
		recordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usercleaner_records_rejected_total",
			Help: "Rejected records by issue.",
		}, []string{"issue"}),
		dateParseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "usercleaner_date_parse_failures_total",
			Help: "created_at values that could not be parsed and were set to null.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "usercleaner_run_duration_seconds",
			Help:    "Wall time of a cleaning run.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}

	reg.MustRegister(
		c.recordsRead,
		c.recordsAccepted,
		c.recordsRejected,
		c.dateParseFailures,
		c.runDuration,
	)

	// Issues with no rejections still show up as zero.
	for _, issue := range core.Issues {
		c.recordsRejected.WithLabelValues(string(issue))
	}

	return c
}

// RecordRead adds n records read.
func (c *Collector) RecordRead(n int) {
	c.recordsRead.Add(float64(n))
}

// RecordResult adds the outcome of a classification.
func (c *Collector) RecordResult(res core.Result) {
	c.recordsAccepted.Add(float64(len(res.Accepted)))
	for issue, n := range res.CountByIssue() {
		c.recordsRejected.WithLabelValues(string(issue)).Add(float64(n))
	}
	c.dateParseFailures.Add(float64(res.Stats.DateParseFailures))
}

// RecordDuration observes the run time.
func (c *Collector) RecordDuration(d time.Duration) {
	c.runDuration.Observe(d.Seconds())
}

// WriteTextfile writes everything in g to path in the text exposition
// format. The file is replaced atomically.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
