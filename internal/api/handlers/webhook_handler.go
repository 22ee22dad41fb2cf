package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	apiContext "propvest/internal/api/context"
	"propvest/internal/engine/webhooks"
	"propvest/internal/pkg/errors"
	"propvest/internal/pkg/validator"
	"propvest/internal/platform/auth"
	"propvest/internal/platform/models"
	"propvest/internal/platform/repositories"
)

const maxDeliveryPageSize = 100

type WebhookHandler struct {
	subs       *repositories.SubscriptionRepository
	deliveries *repositories.DeliveryRepository
	dispatcher *webhooks.Dispatcher
	stats      *webhooks.StatsService
}

func NewWebhookHandler(subs *repositories.SubscriptionRepository, deliveries *repositories.DeliveryRepository, dispatcher *webhooks.Dispatcher, stats *webhooks.StatsService) *WebhookHandler {
	return &WebhookHandler{subs: subs, deliveries: deliveries, dispatcher: dispatcher, stats: stats}
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
		Secret string   `json:"secret"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if req.URL == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "url is required", nil)
		return
	}
	if err := validator.IsWebhookURL(req.URL); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	if len(req.Events) == 0 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "events is required", nil)
		return
	}
	if req.Secret != "" && len(req.Secret) < webhooks.MinSecretLength {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "secret must be at least 16 characters", nil)
		return
	}

	secret := req.Secret
	if secret == "" {
		generated, err := webhooks.GenerateSecret()
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate secret", nil)
			return
		}
		secret = generated
	}

	sub := &models.Subscription{
		URL:    req.URL,
		Events: req.Events,
		Secret: secret,
	}
	if claims.Role != "admin" {
		sub.OwnerID = claims.UserID
	}

	if err := h.subs.Create(sub); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	// The secret is returned once, on creation and rotation only.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(struct {
		*models.Subscription
		Secret string `json:"secret"`
	}{sub, secret})
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var subs []*models.Subscription
	var err error
	if claims.Role == "admin" {
		subs, err = h.subs.List()
	} else {
		subs, err = h.subs.ListByOwner(claims.UserID)
	}
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(subs)
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorizedSubscription(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sub)
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorizedSubscription(w, r)
	if !ok {
		return
	}

	var req struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
		Secret string   `json:"secret"`
		Active *bool    `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if req.URL != "" {
		if err := validator.IsWebhookURL(req.URL); err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
			return
		}
		sub.URL = req.URL
	}
	if len(req.Events) > 0 {
		sub.Events = req.Events
	}
	if req.Secret != "" {
		if len(req.Secret) < webhooks.MinSecretLength {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "secret must be at least 16 characters", nil)
			return
		}
		sub.Secret = req.Secret
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}

	// Update never touches the failure counter.
	if err := h.subs.Update(sub); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sub)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorizedSubscription(w, r)
	if !ok {
		return
	}

	if err := h.subs.Delete(sub.ID); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorizedSubscription(w, r)
	if !ok {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxDeliveryPageSize {
		limit = maxDeliveryPageSize
	}

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	records, err := h.deliveries.ListBySubscription(sub.ID, limit, offset)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (h *WebhookHandler) Retry(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorizedSubscription(w, r)
	if !ok {
		return
	}

	attempted, err := h.dispatcher.RetryFailed(r.Context(), sub.ID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"retried": attempted})
}

func (h *WebhookHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.authorizedSubscription(w, r)
	if !ok {
		return
	}

	secret, err := h.dispatcher.RotateSecret(sub.ID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"secret": secret})
}

func (h *WebhookHandler) Stats(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}

	topN := 10
	if v := r.URL.Query().Get("top"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			topN = n
		}
	}

	summary, err := h.stats.Summary(from, to, topN)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// authorizedSubscription loads the subscription from the route and enforces
// owner-or-admin access.
func (h *WebhookHandler) authorizedSubscription(w http.ResponseWriter, r *http.Request) (*models.Subscription, bool) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	id := params.ByName("subscription_id")

	sub, err := h.subs.GetByID(id)
	if err != nil {
		if err == sql.ErrNoRows {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Subscription not found", nil)
		} else {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, err.Error(), nil)
		}
		return nil, false
	}

	if claims.Role != "admin" && sub.OwnerID != claims.UserID {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
		return nil, false
	}

	return sub, true
}

func parseRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)

	if v := q.Get("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "from must be YYYY-MM-DD", nil)
			return time.Time{}, time.Time{}, false
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "to must be YYYY-MM-DD", nil)
			return time.Time{}, time.Time{}, false
		}
		// inclusive end of day
		to = t.Add(24*time.Hour - time.Second)
	}

	if to.Before(from) {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "to must not precede from", nil)
		return time.Time{}, time.Time{}, false
	}

	return from, to, true
}
