package repositories

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"

	"propvest/internal/platform/models"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE subscriptions (
			id TEXT PRIMARY KEY,
			owner_id TEXT,
			url TEXT NOT NULL,
			events TEXT NOT NULL,
			secret TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			failure_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			last_triggered_at INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE deliveries (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			response_status INTEGER,
			response_body TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			success INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			delivered_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to create schema: %v", err)
		}
	}
	return db
}

func TestSubscriptionCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSubscriptionRepository(db)

	sub := &models.Subscription{
		OwnerID: "usr_1",
		URL:     "https://example.com/hook",
		Events:  []string{"investment_created", "kyc_approved"},
		Secret:  "test_secret_0123456789abcdef",
	}
	if err := repo.Create(sub); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sub.ID == "" {
		t.Fatal("Create did not assign an ID")
	}
	if !sub.Active {
		t.Error("new subscriptions should default to active")
	}

	got, err := repo.GetByID(sub.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.URL != sub.URL || got.OwnerID != "usr_1" {
		t.Errorf("got %+v", got)
	}
	if len(got.Events) != 2 || got.Events[0] != "investment_created" {
		t.Errorf("Events = %v", got.Events)
	}
	if got.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0", got.FailureCount)
	}
}

func TestSubscriptionGetActiveByEvent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSubscriptionRepository(db)

	exact := &models.Subscription{URL: "https://a.example.com", Events: []string{"kyc_approved"}, Secret: "test_secret_0123456789abcdef"}
	catchAll := &models.Subscription{URL: "https://b.example.com", Events: []string{"all"}, Secret: "test_secret_0123456789abcdef"}
	other := &models.Subscription{URL: "https://c.example.com", Events: []string{"wallet_debited"}, Secret: "test_secret_0123456789abcdef"}
	paused := &models.Subscription{URL: "https://d.example.com", Events: []string{"kyc_approved"}, Secret: "test_secret_0123456789abcdef"}

	for _, s := range []*models.Subscription{exact, catchAll, other, paused} {
		if err := repo.Create(s); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := repo.SetActive(paused.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	matched, err := repo.GetActiveByEvent("kyc_approved")
	if err != nil {
		t.Fatalf("GetActiveByEvent: %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("matched = %d, want 2 (exact + all)", len(matched))
	}
	for _, m := range matched {
		if m.ID == other.ID || m.ID == paused.ID {
			t.Errorf("unexpected match: %s", m.URL)
		}
	}
}

func TestSubscriptionFailureBookkeeping(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSubscriptionRepository(db)

	sub := &models.Subscription{URL: "https://example.com", Events: []string{"all"}, Secret: "test_secret_0123456789abcdef"}
	if err := repo.Create(sub); err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Now().Unix()
	for i := 0; i < 3; i++ {
		if err := repo.MarkFailure(sub.ID, "HTTP 502", now); err != nil {
			t.Fatalf("MarkFailure: %v", err)
		}
	}

	got, _ := repo.GetByID(sub.ID)
	if got.FailureCount != 3 {
		t.Errorf("FailureCount = %d, want 3", got.FailureCount)
	}
	if got.LastError != "HTTP 502" {
		t.Errorf("LastError = %q", got.LastError)
	}

	if err := repo.MarkSuccess(sub.ID, now); err != nil {
		t.Fatalf("MarkSuccess: %v", err)
	}
	got, _ = repo.GetByID(sub.ID)
	if got.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0 after success", got.FailureCount)
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q, want cleared", got.LastError)
	}
}

func TestSubscriptionUpdateKeepsFailureCount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSubscriptionRepository(db)

	sub := &models.Subscription{URL: "https://example.com", Events: []string{"all"}, Secret: "test_secret_0123456789abcdef"}
	if err := repo.Create(sub); err != nil {
		t.Fatalf("Create: %v", err)
	}
	repo.MarkFailure(sub.ID, "HTTP 500", time.Now().Unix())
	repo.MarkFailure(sub.ID, "HTTP 500", time.Now().Unix())

	sub.URL = "https://new.example.com/hook"
	sub.Events = []string{"investment_created"}
	if err := repo.Update(sub); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := repo.GetByID(sub.ID)
	if got.URL != "https://new.example.com/hook" {
		t.Errorf("URL = %q", got.URL)
	}
	if got.FailureCount != 2 {
		t.Errorf("FailureCount = %d, want 2: updates must not reset the counter", got.FailureCount)
	}
}

func TestSubscriptionResetFailuresKeepsLastTriggered(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSubscriptionRepository(db)

	sub := &models.Subscription{URL: "https://example.com", Events: []string{"all"}, Secret: "test_secret_0123456789abcdef"}
	if err := repo.Create(sub); err != nil {
		t.Fatalf("Create: %v", err)
	}
	triggered := int64(1700000000)
	repo.MarkFailure(sub.ID, "HTTP 500", triggered)

	if err := repo.ResetFailures(sub.ID); err != nil {
		t.Fatalf("ResetFailures: %v", err)
	}

	got, _ := repo.GetByID(sub.ID)
	if got.FailureCount != 0 || got.LastError != "" {
		t.Errorf("FailureCount = %d LastError = %q, want cleared", got.FailureCount, got.LastError)
	}
	if got.LastTriggeredAt != triggered {
		t.Errorf("LastTriggeredAt = %d, want %d untouched", got.LastTriggeredAt, triggered)
	}
}

func TestSubscriptionDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSubscriptionRepository(db)

	sub := &models.Subscription{URL: "https://example.com", Events: []string{"all"}, Secret: "test_secret_0123456789abcdef"}
	if err := repo.Create(sub); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Delete(sub.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := repo.GetByID(sub.ID); err != sql.ErrNoRows {
		t.Errorf("GetByID after delete = %v, want sql.ErrNoRows", err)
	}
}

func TestSubscriptionListByOwner(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSubscriptionRepository(db)

	mine := &models.Subscription{OwnerID: "usr_1", URL: "https://a.example.com", Events: []string{"all"}, Secret: "test_secret_0123456789abcdef"}
	theirs := &models.Subscription{OwnerID: "usr_2", URL: "https://b.example.com", Events: []string{"all"}, Secret: "test_secret_0123456789abcdef"}
	platform := &models.Subscription{URL: "https://c.example.com", Events: []string{"all"}, Secret: "test_secret_0123456789abcdef"}

	for _, s := range []*models.Subscription{mine, theirs, platform} {
		if err := repo.Create(s); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	subs, err := repo.ListByOwner("usr_1")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(subs) != 1 || subs[0].ID != mine.ID {
		t.Errorf("ListByOwner returned %d subscriptions", len(subs))
	}
}

func TestMarkFailureIssuesIncrementSQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo := NewSubscriptionRepository(db)

	mock.ExpectExec("UPDATE subscriptions SET failure_count = failure_count \\+ 1").
		WithArgs("HTTP 500", sqlmock.AnyArg(), "sub_x").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkFailure("sub_x", "HTTP 500", time.Now().Unix()); err != nil {
		t.Fatalf("MarkFailure: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
