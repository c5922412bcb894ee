package brokerwatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	brokerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "brokerwatch_broker_status",
		Help: "Last reported broker status (one of UNKNOWN, CONNECTED, DOWN is 1, others 0)",
	}, []string{"broker", "status"})

	probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerwatch_probes_total",
		Help: "Total number of broker connectivity probes by result",
	}, []string{"broker", "result"})

	retryTasksStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerwatch_retry_tasks_started_total",
		Help: "Total number of reconnection retry tasks scheduled",
	}, []string{"broker"})

	listenerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerwatch_listener_failures_total",
		Help: "Total number of status listeners failed during notification",
	}, []string{"broker"})

	consumersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brokerwatch_consumers_active",
		Help: "Number of message consumers currently open",
	})

	consumerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerwatch_consumer_events_total",
		Help: "Total number of consumer lifecycle events (created, closed, failed)",
	}, []string{"event"})

	teardownFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "brokerwatch_teardown_failures_total",
		Help: "Total number of failed teardown steps on shutdown",
	}, []string{"step"})
)

var statuses = []Status{StatusUnknown, StatusConnected, StatusDown}

// setBrokerStatus records s as the only active status of broker.
func setBrokerStatus(broker string, s Status) {
	for _, st := range statuses {
		value := 0.0
		if st == s {
			value = 1.0
		}
		brokerStatus.WithLabelValues(broker, st.String()).Set(value)
	}
}

func recordProbe(broker string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	probesTotal.WithLabelValues(broker, result).Inc()
}

func recordConsumerEvent(event string) {
	consumerEvents.WithLabelValues(event).Inc()

	switch event {
	case "created":
		consumersActive.Inc()
	case "closed":
		consumersActive.Dec()
	}
}
