// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Requests counts handled requests by format, endpoint and outcome.
var Requests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "htsget",
	Name:      "requests_total",
	Help:      "Number of htsget requests handled, by format, endpoint and outcome.",
}, []string{"format", "endpoint", "outcome"})

// TicketBytes records the total byte size of the ranges listed in each
// returned ticket, by format.
var TicketBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "htsget",
	Name:      "ticket_bytes",
	Help:      "Total byte count of ranges listed in a returned ticket.",
	Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 10),
}, []string{"format"})

// TicketURLCount records the number of URLs listed in each returned ticket.
var TicketURLCount = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "htsget",
	Name:      "ticket_url_count",
	Help:      "Number of URLs listed in a returned ticket.",
	Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55},
}, []string{"format"})

// StorageRetries counts retried storage operations, by backend and outcome
// of the final attempt.
var StorageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "htsget",
	Name:      "storage_retries_total",
	Help:      "Number of storage operations that required a retry.",
}, []string{"backend", "outcome"})
