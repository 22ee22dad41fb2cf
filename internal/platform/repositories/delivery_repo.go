package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"propvest/internal/platform/models"
)

// DeliveryRepository is the append-only delivery log. There is deliberately
// no update path: a retry writes a new record.
type DeliveryRepository struct {
	db *sql.DB
}

func NewDeliveryRepository(db *sql.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func (r *DeliveryRepository) Create(rec *models.DeliveryRecord) error {
	if rec.ID == "" {
		rec.ID = "del_" + uuid.New().String()
	}
	if rec.DeliveredAt == 0 {
		rec.DeliveredAt = time.Now().Unix()
	}

	query := `
		INSERT INTO deliveries (id, subscription_id, event_type, payload, response_status, response_body, duration_ms, success, error, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, rec.ID, rec.SubscriptionID, rec.EventType, rec.Payload,
		nullInt(rec.ResponseStatus), nullStr(rec.ResponseBody), rec.DurationMs, rec.Success, nullStr(rec.Error), rec.DeliveredAt)
	return err
}

// ListBySubscription returns delivery records most recent first.
func (r *DeliveryRepository) ListBySubscription(subscriptionID string, limit, offset int) ([]*models.DeliveryRecord, error) {
	query := `
		SELECT id, subscription_id, event_type, payload, response_status, response_body, duration_ms, success, error, delivered_at
		FROM deliveries
		WHERE subscription_id = ?
		ORDER BY delivered_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.db.Query(query, subscriptionID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

// ListFailed returns every failed record for a subscription, oldest first so
// a retry replays events in their original order.
func (r *DeliveryRepository) ListFailed(subscriptionID string) ([]*models.DeliveryRecord, error) {
	query := `
		SELECT id, subscription_id, event_type, payload, response_status, response_body, duration_ms, success, error, delivered_at
		FROM deliveries
		WHERE subscription_id = ? AND success = 0
		ORDER BY delivered_at ASC, id ASC
	`
	rows, err := r.db.Query(query, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

// ListRange returns all records with delivered_at in [from, to], for stats.
func (r *DeliveryRepository) ListRange(from, to int64) ([]*models.DeliveryRecord, error) {
	query := `
		SELECT id, subscription_id, event_type, payload, response_status, response_body, duration_ms, success, error, delivered_at
		FROM deliveries
		WHERE delivered_at >= ? AND delivered_at <= ?
		ORDER BY delivered_at ASC
	`
	rows, err := r.db.Query(query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

func scanDeliveries(rows *sql.Rows) ([]*models.DeliveryRecord, error) {
	var records []*models.DeliveryRecord
	for rows.Next() {
		var d models.DeliveryRecord
		var responseStatus sql.NullInt64
		var responseBody sql.NullString
		var errText sql.NullString

		if err := rows.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.Payload,
			&responseStatus, &responseBody, &d.DurationMs, &d.Success, &errText, &d.DeliveredAt); err != nil {
			return nil, err
		}

		if responseStatus.Valid {
			v := int(responseStatus.Int64)
			d.ResponseStatus = &v
		}
		if responseBody.Valid {
			v := responseBody.String
			d.ResponseBody = &v
		}
		if errText.Valid {
			v := errText.String
			d.Error = &v
		}
		records = append(records, &d)
	}
	return records, rows.Err()
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullStr(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
