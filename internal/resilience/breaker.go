package resilience

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// ServiceState tracks one logical upstream service.
type ServiceState struct {
	State         State  `json:"state"`
	FailureCount  int    `json:"failure_count"`
	LastSuccessAt int64  `json:"last_success_at,omitempty"`
	LastFailureAt int64  `json:"last_failure_at,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	NextAttemptAt int64  `json:"next_attempt_at,omitempty"`
}

// BreakerState is the persisted shape: a global circuit plus one entry per
// service. The global circuit trips when failures across all services pile
// up, and while open it forces fail-fast regardless of individual service
// health.
type BreakerState struct {
	State         State                    `json:"state"`
	FailureCount  int                      `json:"failure_count"`
	NextAttemptAt int64                    `json:"next_attempt_at,omitempty"`
	Services      map[string]*ServiceState `json:"services"`
}

// Breaker is the circuit breaker state machine. Recovery is observed, not
// scheduled: an OPEN circuit flips to HALF_OPEN lazily the next time state
// is read after its deadline, never by a background timer. Every mutation
// is written through the store before the mutex is released.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	threshold int
	cooldown  time.Duration
	store     StateStore
	now       func() time.Time
}

func NewBreaker(store StateStore, threshold int, cooldown time.Duration) (*Breaker, error) {
	b := &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		store:     store,
		now:       time.Now,
		state: BreakerState{
			State:    StateClosed,
			Services: make(map[string]*ServiceState),
		},
	}

	loaded, err := store.Load()
	if err != nil {
		return nil, err
	}
	if loaded != nil {
		if loaded.Services == nil {
			loaded.Services = make(map[string]*ServiceState)
		}
		b.state = *loaded
		if b.resurrect() {
			b.persist()
		}
	}

	return b, nil
}

// resurrect flips stale OPEN circuits to HALF_OPEN when their stored
// deadline already passed. Called under the lock (or before the breaker is
// shared).
func (b *Breaker) resurrect() bool {
	changed := false
	now := b.now().Unix()
	if b.state.State == StateOpen && now >= b.state.NextAttemptAt {
		b.state.State = StateHalfOpen
		changed = true
	}
	for _, svc := range b.state.Services {
		if svc.State == StateOpen && now >= svc.NextAttemptAt {
			svc.State = StateHalfOpen
			changed = true
		}
	}
	return changed
}

// IsOpen reports whether requests to service should be rejected without
// being attempted. Reading may transition OPEN circuits to HALF_OPEN.
func (b *Breaker) IsOpen(service string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resurrect() {
		b.persist()
	}

	if b.state.State == StateOpen {
		return true
	}
	if svc, ok := b.state.Services[service]; ok && svc.State == StateOpen {
		return true
	}
	return false
}

// RecordSuccess closes the service circuit and resets its failure count.
// A single success closes a HALF_OPEN circuit; reopening, by contrast,
// takes a single failed probe. That asymmetry is intentional.
func (b *Breaker) RecordSuccess(service string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	svc := b.service(service)
	svc.State = StateClosed
	svc.FailureCount = 0
	svc.LastError = ""
	svc.NextAttemptAt = 0
	svc.LastSuccessAt = b.now().Unix()

	b.state.State = StateClosed
	b.state.FailureCount = 0
	b.state.NextAttemptAt = 0

	b.persist()
}

// RecordFailure counts a failure against the service and the aggregate. A
// HALF_OPEN circuit reopens on this single failure; a CLOSED one opens at
// the threshold. The aggregate trips at twice the per-service threshold.
func (b *Breaker) RecordFailure(service string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	svc := b.service(service)
	svc.FailureCount++
	svc.LastFailureAt = now.Unix()
	if err != nil {
		svc.LastError = err.Error()
	}

	if svc.State == StateHalfOpen || svc.FailureCount >= b.threshold {
		svc.State = StateOpen
		svc.NextAttemptAt = now.Add(b.cooldown).Unix()
		log.Warn().Str("service", service).Int("failures", svc.FailureCount).Msg("circuit opened")
	}

	b.state.FailureCount++
	if b.state.State == StateHalfOpen || b.state.FailureCount >= 2*b.threshold {
		b.state.State = StateOpen
		b.state.NextAttemptAt = now.Add(b.cooldown).Unix()
		log.Warn().Int("failures", b.state.FailureCount).Msg("global circuit opened")
	}

	b.persist()
}

// Reset returns the breaker to its initial CLOSED, empty state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerState{
		State:    StateClosed,
		Services: make(map[string]*ServiceState),
	}
	b.persist()
}

// Snapshot returns a copy of the current state for inspection.
func (b *Breaker) Snapshot() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.resurrect() {
		b.persist()
	}

	snap := b.state
	snap.Services = make(map[string]*ServiceState, len(b.state.Services))
	for name, svc := range b.state.Services {
		copied := *svc
		snap.Services[name] = &copied
	}
	return snap
}

func (b *Breaker) service(name string) *ServiceState {
	svc, ok := b.state.Services[name]
	if !ok {
		svc = &ServiceState{State: StateClosed}
		b.state.Services[name] = svc
	}
	return svc
}

func (b *Breaker) persist() {
	if err := b.store.Save(&b.state); err != nil {
		log.Error().Err(err).Msg("failed to persist breaker state")
	}
}
