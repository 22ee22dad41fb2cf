package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"propvest/internal/platform/models"
)

type SubscriptionRepository struct {
	db *sql.DB
}

func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = "sub_" + uuid.New().String()
	}
	sub.CreatedAt = time.Now().Unix()
	sub.UpdatedAt = sub.CreatedAt
	sub.Active = true

	eventsJSON, err := json.Marshal(sub.Events)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO subscriptions (id, owner_id, url, events, secret, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query, sub.ID, nullString(sub.OwnerID), sub.URL, string(eventsJSON), sub.Secret, sub.Active, sub.CreatedAt, sub.UpdatedAt)
	return err
}

func (r *SubscriptionRepository) GetByID(id string) (*models.Subscription, error) {
	query := `SELECT id, owner_id, url, events, secret, active, failure_count, last_error, last_triggered_at, created_at, updated_at FROM subscriptions WHERE id = ?`
	row := r.db.QueryRow(query, id)
	return scanSubscription(row)
}

func (r *SubscriptionRepository) List() ([]*models.Subscription, error) {
	query := `SELECT id, owner_id, url, events, secret, active, failure_count, last_error, last_triggered_at, created_at, updated_at FROM subscriptions ORDER BY created_at DESC`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ListByOwner returns the subscriptions created by one owner.
func (r *SubscriptionRepository) ListByOwner(ownerID string) ([]*models.Subscription, error) {
	query := `SELECT id, owner_id, url, events, secret, active, failure_count, last_error, last_triggered_at, created_at, updated_at FROM subscriptions WHERE owner_id = ? ORDER BY created_at DESC`
	rows, err := r.db.Query(query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Update persists url, events, secret and active. Failure bookkeeping has its
// own narrow updates so an admin edit never resets the counter.
func (r *SubscriptionRepository) Update(sub *models.Subscription) error {
	eventsJSON, err := json.Marshal(sub.Events)
	if err != nil {
		return err
	}
	sub.UpdatedAt = time.Now().Unix()

	query := `
		UPDATE subscriptions
		SET url = ?, events = ?, secret = ?, active = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = r.db.Exec(query, sub.URL, string(eventsJSON), sub.Secret, sub.Active, sub.UpdatedAt, sub.ID)
	return err
}

func (r *SubscriptionRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM subscriptions WHERE id = ?`, id)
	return err
}

func (r *SubscriptionRepository) UpdateSecret(id, secret string) error {
	_, err := r.db.Exec(`UPDATE subscriptions SET secret = ?, updated_at = ? WHERE id = ?`, secret, time.Now().Unix(), id)
	return err
}

func (r *SubscriptionRepository) SetActive(id string, active bool) error {
	_, err := r.db.Exec(`UPDATE subscriptions SET active = ?, updated_at = ? WHERE id = ?`, active, time.Now().Unix(), id)
	return err
}

// MarkSuccess resets the failure counter and clears the last error.
func (r *SubscriptionRepository) MarkSuccess(id string, triggeredAt int64) error {
	_, err := r.db.Exec(`UPDATE subscriptions SET failure_count = 0, last_error = NULL, last_triggered_at = ? WHERE id = ?`, triggeredAt, id)
	return err
}

// ResetFailures clears the failure counter and last error without touching
// the last-triggered timestamp. Used by the optimistic reset after a retry
// pass.
func (r *SubscriptionRepository) ResetFailures(id string) error {
	_, err := r.db.Exec(`UPDATE subscriptions SET failure_count = 0, last_error = NULL WHERE id = ?`, id)
	return err
}

// MarkFailure increments the failure counter and records the error text.
func (r *SubscriptionRepository) MarkFailure(id, lastError string, triggeredAt int64) error {
	_, err := r.db.Exec(`UPDATE subscriptions SET failure_count = failure_count + 1, last_error = ?, last_triggered_at = ? WHERE id = ?`, lastError, triggeredAt, id)
	return err
}

// GetActiveByEvent returns active subscriptions whose filter matches the
// event type, either exactly or through the "all" sentinel. Filters are
// stored as JSON text, so matching happens in the application; subscription
// counts are small enough that a table scan is fine.
func (r *SubscriptionRepository) GetActiveByEvent(eventType string) ([]*models.Subscription, error) {
	query := `SELECT id, owner_id, url, events, secret, active, failure_count, last_error, last_triggered_at, created_at, updated_at FROM subscriptions WHERE active = 1`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matched []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			continue
		}
		if sub.Matches(eventType) {
			matched = append(matched, sub)
		}
	}
	return matched, rows.Err()
}

// GetFailing returns active subscriptions with at least one consecutive
// failure, for the retry sweep.
func (r *SubscriptionRepository) GetFailing() ([]*models.Subscription, error) {
	query := `SELECT id, owner_id, url, events, secret, active, failure_count, last_error, last_triggered_at, created_at, updated_at FROM subscriptions WHERE active = 1 AND failure_count > 0`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var s models.Subscription
	var ownerID sql.NullString
	var eventsStr string
	var lastError sql.NullString
	var lastTriggeredAt sql.NullInt64

	err := row.Scan(&s.ID, &ownerID, &s.URL, &eventsStr, &s.Secret, &s.Active, &s.FailureCount, &lastError, &lastTriggeredAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if ownerID.Valid {
		s.OwnerID = ownerID.String
	}
	if lastError.Valid {
		s.LastError = lastError.String
	}
	if lastTriggeredAt.Valid {
		s.LastTriggeredAt = lastTriggeredAt.Int64
	}
	json.Unmarshal([]byte(eventsStr), &s.Events)

	return &s, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
