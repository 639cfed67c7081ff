package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "villagewatch"

// Recorder holds the delivery counters exported on /metrics. A nil *Recorder is valid and
// records nothing, so components can be built without metrics in tests.
type Recorder struct {
	smsAttempts      *prometheus.CounterVec
	smsDispatches    *prometheus.CounterVec
	ledgerFailures   prometheus.Counter
	smsRecordFails   prometheus.Counter
	hubConnections   prometheus.Gauge
	hubEvents        *prometheus.CounterVec
	hubDroppedConns  prometheus.Counter
	relayPublishErrs prometheus.Counter
}

// NewRecorder registers the collectors on registerer.
func NewRecorder(registerer prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		smsAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sms",
			Name:      "recipients_total",
			Help:      "SMS recipients by outcome (sent, failed, skipped).",
		}, []string{"outcome"}),
		smsDispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sms",
			Name:      "dispatches_total",
			Help:      "Completed SMS dispatch runs by rolled-up delivery status.",
		}, []string{"status"}),
		ledgerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "ledger_failures_total",
			Help:      "Delivery ledger rows that could not be written.",
		}),
		smsRecordFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "sms_record_failures_total",
			Help:      "SMS sends whose record could not be stored or finalized.",
		}),
		hubConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Currently registered realtime connections.",
		}),
		hubEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Events published to the realtime hub by kind.",
		}, []string{"kind"}),
		hubDroppedConns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "dropped_connections_total",
			Help:      "Connections dropped after a failed send.",
		}),
		relayPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "relay_publish_errors_total",
			Help:      "Events that could not be mirrored to the Redis relay.",
		}),
	}

	collectors := []prometheus.Collector{
		r.smsAttempts, r.smsDispatches, r.ledgerFailures, r.smsRecordFails,
		r.hubConnections, r.hubEvents, r.hubDroppedConns, r.relayPublishErrs,
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// SmsRecipient counts one recipient outcome: "sent", "failed" or "skipped".
func (r *Recorder) SmsRecipient(outcome string) {
	if r == nil {
		return
	}
	r.smsAttempts.WithLabelValues(outcome).Inc()
}

// SmsDispatch counts one completed dispatch run.
func (r *Recorder) SmsDispatch(status string) {
	if r == nil {
		return
	}
	r.smsDispatches.WithLabelValues(status).Inc()
}

// LedgerFailure counts one delivery row that failed to insert.
func (r *Recorder) LedgerFailure() {
	if r == nil {
		return
	}
	r.ledgerFailures.Inc()
}

// SmsRecordFailure counts one SMS record that was not stored or kept its pending status.
func (r *Recorder) SmsRecordFailure() {
	if r == nil {
		return
	}
	r.smsRecordFails.Inc()
}

// HubConnections sets the live connection gauge.
func (r *Recorder) HubConnections(count int) {
	if r == nil {
		return
	}
	r.hubConnections.Set(float64(count))
}

// HubEvent counts one published event.
func (r *Recorder) HubEvent(kind string) {
	if r == nil {
		return
	}
	r.hubEvents.WithLabelValues(kind).Inc()
}

// HubDrop counts one connection dropped after a failed send.
func (r *Recorder) HubDrop() {
	if r == nil {
		return
	}
	r.hubDroppedConns.Inc()
}

// RelayPublishError counts one event that failed to reach Redis.
func (r *Recorder) RelayPublishError() {
	if r == nil {
		return
	}
	r.relayPublishErrs.Inc()
}
