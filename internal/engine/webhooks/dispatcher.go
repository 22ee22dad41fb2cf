package webhooks

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"propvest/internal/platform/config"
	"propvest/internal/platform/models"
	"propvest/internal/platform/repositories"
)

const maxStoredBody = 1024

// Dispatcher fans an event out to every matching active subscription. Each
// branch is delivered independently and logged as its own DeliveryRecord.
type Dispatcher struct {
	subs       *repositories.SubscriptionRepository
	deliveries *repositories.DeliveryRepository
	client     *http.Client
	userAgent  string
	timeout    time.Duration
}

func NewDispatcher(subs *repositories.SubscriptionRepository, deliveries *repositories.DeliveryRepository, cfg config.WebhooksConfig) *Dispatcher {
	return &Dispatcher{
		subs:       subs,
		deliveries: deliveries,
		client:     &http.Client{Timeout: cfg.DeliveryTimeout},
		userAgent:  cfg.UserAgent,
		timeout:    cfg.DeliveryTimeout,
	}
}

// Dispatch delivers eventType to every active subscription whose filter
// matches, concurrently, and waits for all branches to settle. One
// subscriber's failure never blocks or fails delivery to the others.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload map[string]interface{}) error {
	subs, err := d.subs.GetActiveByEvent(eventType)
	if err != nil {
		return fmt.Errorf("lookup subscriptions for %s: %w", eventType, err)
	}
	if len(subs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *models.Subscription) {
			defer wg.Done()
			d.deliver(ctx, sub, eventType, payload)
		}(sub)
	}
	wg.Wait()
	return nil
}

// deliver performs one delivery attempt and records the outcome. The
// delivery ID doubles as the envelope's idempotency key so receivers can
// deduplicate replays.
func (d *Dispatcher) deliver(ctx context.Context, sub *models.Subscription, eventType string, payload map[string]interface{}) {
	deliveryID := "del_" + uuid.New().String()

	envelope := make(map[string]interface{}, len(payload)+3)
	for k, v := range payload {
		envelope[k] = v
	}
	envelope["event_type"] = eventType
	envelope["occurred_at"] = time.Now().UTC().Format(time.RFC3339)
	envelope["delivery_id"] = deliveryID

	body, signature, err := SignEnvelope(sub.Secret, envelope)
	if err != nil {
		log.Error().Err(err).Str("subscription_id", sub.ID).Str("event", eventType).Msg("webhook envelope marshal failed")
		return
	}

	record := &models.DeliveryRecord{
		ID:             deliveryID,
		SubscriptionID: sub.ID,
		EventType:      eventType,
		Payload:        string(body),
	}

	start := time.Now()
	status, respBody, err := d.post(ctx, sub.URL, body, signature, eventType, deliveryID)
	record.DurationMs = time.Since(start).Milliseconds()
	record.DeliveredAt = time.Now().Unix()

	if status != 0 {
		record.ResponseStatus = &status
	}
	if respBody != "" {
		record.ResponseBody = &respBody
	}

	record.Success = err == nil && status >= 200 && status < 300

	var errText string
	if !record.Success {
		if err != nil {
			errText = err.Error()
		} else {
			errText = fmt.Sprintf("HTTP %d", status)
		}
		record.Error = &errText
	}

	if dbErr := d.deliveries.Create(record); dbErr != nil {
		log.Error().Err(dbErr).Str("subscription_id", sub.ID).Msg("failed to record delivery")
	}

	if record.Success {
		if dbErr := d.subs.MarkSuccess(sub.ID, record.DeliveredAt); dbErr != nil {
			log.Error().Err(dbErr).Str("subscription_id", sub.ID).Msg("failed to reset failure count")
		}
		log.Debug().Str("subscription_id", sub.ID).Str("event", eventType).Int("status", status).Msg("webhook delivered")
	} else {
		if dbErr := d.subs.MarkFailure(sub.ID, errText, record.DeliveredAt); dbErr != nil {
			log.Error().Err(dbErr).Str("subscription_id", sub.ID).Msg("failed to record failure")
		}
		log.Warn().Str("subscription_id", sub.ID).Str("event", eventType).Str("error", errText).Msg("webhook delivery failed")
	}
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte, signature, eventType, deliveryID string) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("X-Propvest-Signature", signature)
	req.Header.Set("X-Propvest-Event", eventType)
	req.Header.Set("X-Propvest-Delivery", deliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxStoredBody))
	return resp.StatusCode, string(respBody), nil
}

// RetryFailed re-delivers every failed delivery for a subscription as a
// fresh delivery, then optimistically clears the failure counter. The
// subscription is re-fetched before each attempt so a concurrent delete
// stops the replay instead of resurrecting the subscription. Replays carry
// new delivery IDs; receivers that need exactly-once must deduplicate on
// their side.
func (d *Dispatcher) RetryFailed(ctx context.Context, subscriptionID string) (int, error) {
	failed, err := d.deliveries.ListFailed(subscriptionID)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for _, rec := range failed {
		sub, err := d.subs.GetByID(subscriptionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return attempted, nil
			}
			return attempted, err
		}
		if !sub.Active {
			return attempted, nil
		}

		payload := replayPayload(rec.Payload)
		d.deliver(ctx, sub, rec.EventType, payload)
		attempted++
	}

	if attempted > 0 {
		if err := d.subs.ResetFailures(subscriptionID); err != nil {
			return attempted, err
		}
	}
	return attempted, nil
}

// replayPayload strips the envelope metadata added on the original attempt
// so the re-delivery gets a fresh occurred_at and delivery_id.
func replayPayload(stored string) map[string]interface{} {
	payload := make(map[string]interface{})
	if err := json.Unmarshal([]byte(stored), &payload); err != nil {
		return map[string]interface{}{}
	}
	delete(payload, "event_type")
	delete(payload, "occurred_at")
	delete(payload, "delivery_id")
	return payload
}

// RotateSecret replaces the subscription secret with a freshly generated one
// and persists it immediately. There is no grace window: deliveries already
// signed with the old secret will fail verification at the receiver.
func (d *Dispatcher) RotateSecret(subscriptionID string) (string, error) {
	if _, err := d.subs.GetByID(subscriptionID); err != nil {
		return "", err
	}

	secret, err := GenerateSecret()
	if err != nil {
		return "", err
	}
	if err := d.subs.UpdateSecret(subscriptionID, secret); err != nil {
		return "", err
	}

	log.Info().Str("subscription_id", subscriptionID).Msg("webhook secret rotated")
	return secret, nil
}
