package models

// Subscription is a registered webhook endpoint. OwnerID is empty for
// platform-wide subscriptions created by operators.
type Subscription struct {
	ID              string   `json:"id"`
	OwnerID         string   `json:"owner_id,omitempty"`
	URL             string   `json:"url"`
	Events          []string `json:"events"` // JSON array in DB; may contain "all"
	Secret          string   `json:"-"`
	Active          bool     `json:"active"`
	FailureCount    int      `json:"failure_count"`
	LastError       string   `json:"last_error,omitempty"`
	LastTriggeredAt int64    `json:"last_triggered_at,omitempty"`
	CreatedAt       int64    `json:"created_at"`
	UpdatedAt       int64    `json:"updated_at"`
}

// EventAll is the sentinel filter entry matching every event type.
const EventAll = "all"

// Matches reports whether the subscription's filter covers eventType.
func (s *Subscription) Matches(eventType string) bool {
	for _, e := range s.Events {
		if e == eventType || e == EventAll {
			return true
		}
	}
	return false
}

// DeliveryRecord is one delivery attempt. Records are append-only: retries
// produce new records, never mutate old ones.
type DeliveryRecord struct {
	ID             string  `json:"id"`
	SubscriptionID string  `json:"subscription_id"`
	EventType      string  `json:"event_type"`
	Payload        string  `json:"payload"` // captured outbound envelope JSON
	ResponseStatus *int    `json:"response_status,omitempty"`
	ResponseBody   *string `json:"response_body,omitempty"`
	DurationMs     int64   `json:"duration_ms"`
	Success        bool    `json:"success"`
	Error          *string `json:"error,omitempty"`
	DeliveredAt    int64   `json:"delivered_at"`
}
