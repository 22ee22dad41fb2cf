package resilience

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"propvest/internal/platform/config"
)

func testClientConfig() config.ResilienceConfig {
	return config.ResilienceConfig{
		MaxRetries:       3,
		MinDelay:         time.Millisecond,
		MaxDelay:         10 * time.Millisecond,
		BackoffFactor:    2,
		RequestTimeout:   2 * time.Second,
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
	}
}

func newTestClient(t *testing.T) (*Client, *Breaker) {
	breaker, err := NewBreaker(NewMemoryStore(), 3, 30*time.Second)
	if err != nil {
		t.Fatalf("NewBreaker: %v", err)
	}
	return NewClient(breaker, testClientConfig()), breaker
}

func TestClientRetriesUntilSuccess(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&hits, 1)
		if n <= 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"created"}`))
	}))
	defer srv.Close()

	client, breaker := newTestClient(t)

	var out struct {
		Status string `json:"status"`
	}
	resp, err := client.Get(context.Background(), srv.URL+"/investments", &Options{Out: &out})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.Status)
	}
	if out.Status != "created" {
		t.Errorf("decoded status = %q, want created", out.Status)
	}
	if got := atomic.LoadInt64(&hits); got != 4 {
		t.Errorf("hits = %d, want 4 (three 500s then success)", got)
	}

	// the breaker saw the final success, not the intermediate failures
	snap := breaker.Snapshot()
	if svc := snap.Services["investments"]; svc == nil || svc.FailureCount != 0 {
		t.Errorf("breaker failure count = %+v, want 0", svc)
	}
}

func TestClientTerminalErrorAfterExhaustedRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, breaker := newTestClient(t)

	_, err := client.Get(context.Background(), srv.URL+"/wallets/42", nil)
	if err == nil {
		t.Fatal("expected an error")
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error type = %T, want *RequestError", err)
	}
	if reqErr.Status != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want 503", reqErr.Status)
	}
	if reqErr.Message != "database down" {
		t.Errorf("Message = %q, want the response body", reqErr.Message)
	}

	snap := breaker.Snapshot()
	if svc := snap.Services["wallets"]; svc == nil || svc.FailureCount != 1 {
		t.Errorf("breaker recorded %+v, want one failure for the whole logical call", svc)
	}
}

func TestClientDoesNotRetryNonRetryableStatus(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		http.Error(w, "no such property", http.StatusNotFound)
	}))
	defer srv.Close()

	client, _ := newTestClient(t)

	_, err := client.Get(context.Background(), srv.URL+"/properties/missing", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("hits = %d, want 1 (404 is terminal)", got)
	}
}

func TestClientFailsFastWhenCircuitOpen(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
	}))
	defer srv.Close()

	client, breaker := newTestClient(t)
	for i := 0; i < 3; i++ {
		breaker.RecordFailure("payments", errors.New("boom"))
	}

	_, err := client.Post(context.Background(), srv.URL+"/payments", map[string]string{"amount": "10"}, nil)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("error = %v, want ErrCircuitOpen", err)
	}
	if got := atomic.LoadInt64(&hits); got != 0 {
		t.Errorf("hits = %d, want 0 (admission control rejects before network I/O)", got)
	}
}

func TestClientCancellationDoesNotCountAgainstBreaker(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client, breaker := newTestClient(t)

	done := make(chan error, 1)
	go func() {
		_, err := client.Get(context.Background(), srv.URL+"/slow-service", nil)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	client.Cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}

	snap := breaker.Snapshot()
	if svc := snap.Services["slow-service"]; svc != nil && svc.FailureCount != 0 {
		t.Errorf("cancelled call counted against the breaker: %+v", svc)
	}
}

func TestClientNewCallCancelsInFlightCall(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow/a" {
			<-release
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	client, _ := newTestClient(t)

	done := make(chan error, 1)
	go func() {
		_, err := client.Get(context.Background(), srv.URL+"/slow/a", nil)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)

	// latest call wins: this call aborts the one above
	if _, err := client.Get(context.Background(), srv.URL+"/slow/b", nil); err != nil {
		t.Fatalf("second call failed: %v", err)
	}

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("first call error = %v, want context.Canceled", err)
	}
}

func TestBackoffStaysWithinJitterBand(t *testing.T) {
	cfg := config.ResilienceConfig{
		MaxRetries:    3,
		MinDelay:      100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
	}
	breaker, _ := NewBreaker(NewMemoryStore(), 3, time.Second)
	client := NewClient(breaker, cfg)

	for attempt := 0; attempt < 5; attempt++ {
		base := float64(cfg.MinDelay) * pow(cfg.BackoffFactor, attempt)
		if base > float64(cfg.MaxDelay) {
			base = float64(cfg.MaxDelay)
		}
		for i := 0; i < 200; i++ {
			d := float64(client.Backoff(attempt))
			if d < base*0.85-1 || d > base*1.15+1 {
				t.Fatalf("Backoff(%d) = %v, outside [0.85, 1.15] x %v", attempt, time.Duration(d), time.Duration(base))
			}
			if d > float64(cfg.MaxDelay) {
				t.Fatalf("Backoff(%d) = %v exceeds maxDelay", attempt, time.Duration(d))
			}
		}
	}
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	cfg := config.ResilienceConfig{
		MinDelay:      time.Second,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 10,
	}
	breaker, _ := NewBreaker(NewMemoryStore(), 3, time.Second)
	client := NewClient(breaker, cfg)

	for i := 0; i < 100; i++ {
		if d := client.Backoff(5); d > cfg.MaxDelay {
			t.Fatalf("Backoff = %v exceeds maxDelay %v", d, cfg.MaxDelay)
		}
	}
}

func TestDefaultServiceNamer(t *testing.T) {
	cases := []struct {
		rawurl string
		want   string
	}{
		{"https://api.example.com/payments/charge", "payments"},
		{"https://api.example.com/kyc", "kyc"},
		{"https://api.example.com/", "api.example.com"},
		{"https://api.example.com", "api.example.com"},
	}

	for _, tc := range cases {
		u, err := url.Parse(tc.rawurl)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.rawurl, err)
		}
		if got := DefaultServiceNamer(u); got != tc.want {
			t.Errorf("DefaultServiceNamer(%q) = %q, want %q", tc.rawurl, got, tc.want)
		}
	}
}

func pow(base float64, exp int) float64 {
	out := 1.0
	for i := 0; i < exp; i++ {
		out *= base
	}
	return out
}
