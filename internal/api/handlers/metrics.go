package handlers

import (
	"fmt"
	"net/http"
	"sort"

	"propvest/internal/resilience"
)

// MetricsHandler exports breaker health in the Prometheus text format so an
// external scraper can alert on open circuits without the admin API.
type MetricsHandler struct {
	breaker *resilience.Breaker
}

func NewMetricsHandler(breaker *resilience.Breaker) *MetricsHandler {
	return &MetricsHandler{breaker: breaker}
}

func (h *MetricsHandler) Export(w http.ResponseWriter, r *http.Request) {
	snap := h.breaker.Snapshot()

	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "# HELP propvest_up Is the server up\n")
	fmt.Fprintf(w, "# TYPE propvest_up gauge\n")
	fmt.Fprintf(w, "propvest_up 1\n")

	fmt.Fprintf(w, "# HELP propvest_circuit_open Global circuit state (1 = open)\n")
	fmt.Fprintf(w, "# TYPE propvest_circuit_open gauge\n")
	fmt.Fprintf(w, "propvest_circuit_open %d\n", stateGauge(snap.State))

	fmt.Fprintf(w, "# HELP propvest_service_circuit_open Per-service circuit state (1 = open)\n")
	fmt.Fprintf(w, "# TYPE propvest_service_circuit_open gauge\n")

	names := make([]string, 0, len(snap.Services))
	for name := range snap.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc := snap.Services[name]
		fmt.Fprintf(w, "propvest_service_circuit_open{service=%q} %d\n", name, stateGauge(svc.State))
		fmt.Fprintf(w, "propvest_service_failures{service=%q} %d\n", name, svc.FailureCount)
	}
}

func stateGauge(s resilience.State) int {
	if s == resilience.StateOpen {
		return 1
	}
	return 0
}
