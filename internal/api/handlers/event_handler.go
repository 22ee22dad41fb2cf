package handlers

import (
	"encoding/json"
	"net/http"

	"propvest/internal/engine/events"
	"propvest/internal/pkg/errors"
	"propvest/internal/resilience"
)

// EventHandler lets operators fire events through the same path business
// code uses, and exposes breaker state for manual control.
type EventHandler struct {
	emitter *events.Emitter
	breaker *resilience.Breaker
}

func NewEventHandler(emitter *events.Emitter, breaker *resilience.Breaker) *EventHandler {
	return &EventHandler{emitter: emitter, breaker: breaker}
}

func (h *EventHandler) Emit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string                 `json:"category"`
		Type     string                 `json:"type"`
		Payload  map[string]interface{} `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	result := h.emitter.Emit(r.Context(), events.Category(req.Category), req.Type, req.Payload)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *EventHandler) BreakerState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.breaker.Snapshot())
}

func (h *EventHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	h.breaker.Reset()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
}
