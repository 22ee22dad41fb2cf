package events

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Dispatcher delivers one event to its matching subscriptions.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]interface{}) error
}

// Result tells the caller whether notification delivery was attempted
// cleanly. Emit never returns a Go error: a broken webhook pipeline must
// not fail the business operation that raised the event.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Emitter is the single entry point business code uses to raise events.
type Emitter struct {
	dispatcher  Dispatcher
	environment string
}

func NewEmitter(d Dispatcher, environment string) *Emitter {
	return &Emitter{dispatcher: d, environment: environment}
}

// Emit enriches the payload, dispatches the specific event, then dispatches
// the category's umbrella event with the specific type embedded so
// subscribers can listen broadly or narrowly without double-registering.
func (e *Emitter) Emit(ctx context.Context, category Category, eventType string, payload map[string]interface{}) Result {
	if !Valid(category, eventType) {
		log.Error().Str("category", string(category)).Str("event", eventType).Msg("unknown event type for category")
		return Result{Error: "unknown event type " + eventType + " for category " + string(category)}
	}

	enriched := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		enriched[k] = v
	}
	enriched["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	enriched["environment"] = e.environment

	if err := e.dispatcher.Dispatch(ctx, eventType, enriched); err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("event dispatch failed")
		return Result{Error: err.Error()}
	}

	umbrella := make(map[string]interface{}, len(enriched)+1)
	for k, v := range enriched {
		umbrella[k] = v
	}
	umbrella["source_event"] = eventType

	if err := e.dispatcher.Dispatch(ctx, category.Umbrella(), umbrella); err != nil {
		log.Error().Err(err).Str("event", category.Umbrella()).Msg("umbrella dispatch failed")
		return Result{Error: err.Error()}
	}

	return Result{Success: true}
}
