package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters are shared by the dispatchers of both channels; construct once.
type Counters struct {
	Sent    *prometheus.CounterVec
	Failed  *prometheus.CounterVec
	Skipped *prometheus.CounterVec
	Retried *prometheus.CounterVec
}

func NewCounters(factory promauto.Factory) *Counters {
	return &Counters{
		Sent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outbound_sent_total",
			Help: "Queue items delivered by the provider.",
		}, []string{"channel"}),
		Failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outbound_failed_total",
			Help: "Queue items that failed terminally.",
		}, []string{"channel"}),
		Skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outbound_skipped_total",
			Help: "Queue items skipped at dispatch time, mostly suppressions.",
		}, []string{"channel"}),
		Retried: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "outbound_retried_total",
			Help: "Transient failures rescheduled with backoff.",
		}, []string{"channel"}),
	}
}
