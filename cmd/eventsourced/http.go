package main

import (
	"encoding/json"
	"net/http"

	"github.com/furdarius/brokerwatch"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// statusReporter is implemented by brokerwatch.Monitor.
type statusReporter interface {
	Name() string
	Status() brokerwatch.Status
	Retrying() bool
}

// receiverReporter is implemented by brokerwatch.EventSource.
type receiverReporter interface {
	Receivers() []brokerwatch.ReceiverState
}

type brokerState struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Retrying bool   `json:"retrying"`
}

type readiness struct {
	Ready     bool                        `json:"ready"`
	Brokers   []brokerState               `json:"brokers"`
	Receivers []brokerwatch.ReceiverState `json:"receivers"`
}

// newRouter returns routes for liveness, readiness and metrics.
// The service is ready when the primary broker is CONNECTED.
func newRouter(primary statusReporter, others []statusReporter, source receiverReporter) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		resp := readiness{
			Ready:     primary.Status() == brokerwatch.StatusConnected,
			Receivers: source.Receivers(),
		}

		for _, m := range append([]statusReporter{primary}, others...) {
			resp.Brokers = append(resp.Brokers, brokerState{
				Name:     m.Name(),
				Status:   m.Status().String(),
				Retrying: m.Retrying(),
			})
		}

		code := http.StatusOK
		if !resp.Ready {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
