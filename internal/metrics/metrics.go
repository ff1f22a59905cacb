package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's monitoring signals
type Metrics struct {
	LedgerAppendFailures   prometheus.Counter
	CallbacksRejected      prometheus.Counter
	CallbacksDuplicate     prometheus.Counter
	ExchangesDelivered     prometheus.Counter
	ExchangesTimedOut      prometheus.Counter
	ExchangesRejected      prometheus.Counter
	NotificationsAbandoned prometheus.Counter
}

// New registers and returns the engine metrics
func New() *Metrics {
	return &Metrics{
		LedgerAppendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hie_ledger_append_failures_total",
			Help: "Total number of audit ledger append failures",
		}),
		CallbacksRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hie_callbacks_rejected_total",
			Help: "Total number of exchange callbacks rejected for invalid consent",
		}),
		CallbacksDuplicate: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hie_callbacks_duplicate_total",
			Help: "Total number of duplicate exchange callbacks acknowledged",
		}),
		ExchangesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hie_exchanges_delivered_total",
			Help: "Total number of exchange requests delivered",
		}),
		ExchangesTimedOut: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hie_exchanges_timed_out_total",
			Help: "Total number of exchange requests that exhausted all delivery attempts",
		}),
		ExchangesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hie_exchanges_rejected_total",
			Help: "Total number of exchange requests rejected",
		}),
		NotificationsAbandoned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hie_notifications_abandoned_total",
			Help: "Total number of notifications abandoned after exhausting retries",
		}),
	}
}

// NewForTest returns metrics on a private registry so parallel tests do not
// collide on the default registerer.
func NewForTest() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		LedgerAppendFailures:   factory.NewCounter(prometheus.CounterOpts{Name: "hie_ledger_append_failures_total", Help: "test"}),
		CallbacksRejected:      factory.NewCounter(prometheus.CounterOpts{Name: "hie_callbacks_rejected_total", Help: "test"}),
		CallbacksDuplicate:     factory.NewCounter(prometheus.CounterOpts{Name: "hie_callbacks_duplicate_total", Help: "test"}),
		ExchangesDelivered:     factory.NewCounter(prometheus.CounterOpts{Name: "hie_exchanges_delivered_total", Help: "test"}),
		ExchangesTimedOut:      factory.NewCounter(prometheus.CounterOpts{Name: "hie_exchanges_timed_out_total", Help: "test"}),
		ExchangesRejected:      factory.NewCounter(prometheus.CounterOpts{Name: "hie_exchanges_rejected_total", Help: "test"}),
		NotificationsAbandoned: factory.NewCounter(prometheus.CounterOpts{Name: "hie_notifications_abandoned_total", Help: "test"}),
	}
}
