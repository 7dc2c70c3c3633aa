/**
 * @description
 * HTTP handlers for the settlement API. Handlers decode requests, resolve the
 * authenticated user, call the settlement service and translate its errors
 * into status codes with a JSON {"error": "..."} body.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameters.
 * - internal/app, internal/domain: service operations and error sentinels.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/estatehub/settlement-service/internal/app"
	"github.com/estatehub/settlement-service/internal/domain"
)

// SettlementService is the part of app.Service the HTTP layer calls.
type SettlementService interface {
	CreateServiceCharge(ctx context.Context, actorID string, in app.CreateChargeInput) (*domain.ServiceCharge, error)
	GetServiceCharge(ctx context.Context, actorID, chargeID string) (*domain.ServiceCharge, error)
	ListServiceCharges(ctx context.Context, actorID string, filter app.ListChargesFilter) ([]domain.ServiceCharge, error)
	UpdateServiceCharge(ctx context.Context, actorID, chargeID string, patch domain.ChargePatch) (*domain.ServiceCharge, error)
	CancelServiceCharge(ctx context.Context, actorID, chargeID string) (*domain.ServiceCharge, error)
	MarkAsPaid(ctx context.Context, actorID, chargeID string) (*domain.ServiceCharge, error)
	MarkAsUnpaid(ctx context.Context, actorID, chargeID string) (*domain.ServiceCharge, error)
	InitializePayment(ctx context.Context, in app.InitializePaymentInput) (*app.InitializePaymentResult, error)
	VerifyPayment(ctx context.Context, reference string, provider domain.Provider) (*app.VerifyResult, error)
	ListPayments(ctx context.Context, actorID string, filter app.ListPaymentsFilter) ([]domain.Payment, error)
	WebhookSignatureHeader(provider domain.Provider) (string, error)
	HandleWebhook(ctx context.Context, provider domain.Provider, signature string, body []byte) (*app.WebhookResult, error)
}

// Handlers holds the settlement service used by the HTTP endpoints.
type Handlers struct {
	service SettlementService
	logger  *slog.Logger
}

// NewHandlers creates the API handlers.
func NewHandlers(service SettlementService, logger *slog.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

type createChargeRequest struct {
	EstateID      string                `json:"estate_id"`
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	Amount        int64                 `json:"amount"`
	Currency      string                `json:"currency"`
	Type          domain.ChargeType     `json:"type"`
	Category      domain.ChargeCategory `json:"category"`
	DueDate       *time.Time            `json:"due_date"`
	AffectedUsers []string              `json:"affected_users"`
}

type updateChargeRequest struct {
	Title         *string                `json:"title"`
	Description   *string                `json:"description"`
	Amount        *int64                 `json:"amount"`
	Type          *domain.ChargeType     `json:"type"`
	Category      *domain.ChargeCategory `json:"category"`
	DueDate       *time.Time             `json:"due_date"`
	AffectedUsers []string               `json:"affected_users"`
}

type initializePaymentRequest struct {
	Provider    domain.Provider `json:"provider"`
	Amount      int64           `json:"amount"`
	Method      string          `json:"payment_method"`
	Description string          `json:"description"`
}

type listChargesResponse struct {
	ServiceCharges []domain.ServiceCharge `json:"service_charges"`
	Count          int                    `json:"count"`
}

type listPaymentsResponse struct {
	Payments []domain.Payment `json:"payments"`
	Count    int              `json:"count"`
}

// CreateServiceChargeHandler handles POST /service-charges.
func (h *Handlers) CreateServiceChargeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req createChargeRequest
	if !h.decode(w, r, "create_charge", &req) {
		return
	}

	charge, err := h.service.CreateServiceCharge(r.Context(), userID, app.CreateChargeInput{
		EstateID:      req.EstateID,
		Title:         req.Title,
		Description:   req.Description,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Type:          req.Type,
		Category:      req.Category,
		DueDate:       req.DueDate,
		AffectedUsers: req.AffectedUsers,
	})
	if err != nil {
		h.handleServiceError(w, "create_charge", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, charge)
}

// ListServiceChargesHandler handles GET /service-charges.
func (h *Handlers) ListServiceChargesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit, err := parseNonNegative(query.Get("limit"), 50)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, err := parseNonNegative(query.Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	charges, err := h.service.ListServiceCharges(r.Context(), userID, app.ListChargesFilter{
		Status: domain.ChargeStatus(strings.TrimSpace(query.Get("status"))),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.handleServiceError(w, "list_charges", err)
		return
	}
	if charges == nil {
		charges = []domain.ServiceCharge{}
	}
	h.writeJSON(w, http.StatusOK, listChargesResponse{ServiceCharges: charges, Count: len(charges)})
}

// GetServiceChargeHandler handles GET /service-charges/{id}.
func (h *Handlers) GetServiceChargeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	charge, err := h.service.GetServiceCharge(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, "get_charge", err)
		return
	}
	h.writeJSON(w, http.StatusOK, charge)
}

// UpdateServiceChargeHandler handles PUT /service-charges/{id}.
func (h *Handlers) UpdateServiceChargeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req updateChargeRequest
	if !h.decode(w, r, "update_charge", &req) {
		return
	}

	charge, err := h.service.UpdateServiceCharge(r.Context(), userID, chi.URLParam(r, "id"), domain.ChargePatch{
		Title:         req.Title,
		Description:   req.Description,
		Amount:        req.Amount,
		Type:          req.Type,
		Category:      req.Category,
		DueDate:       req.DueDate,
		AffectedUsers: req.AffectedUsers,
	})
	if err != nil {
		h.handleServiceError(w, "update_charge", err)
		return
	}
	h.writeJSON(w, http.StatusOK, charge)
}

// CancelServiceChargeHandler handles DELETE /service-charges/{id}.
func (h *Handlers) CancelServiceChargeHandler(w http.ResponseWriter, r *http.Request) {
	h.chargeAction(w, r, "cancel_charge", h.service.CancelServiceCharge)
}

// MarkAsPaidHandler handles POST /service-charges/{id}/mark-paid.
func (h *Handlers) MarkAsPaidHandler(w http.ResponseWriter, r *http.Request) {
	h.chargeAction(w, r, "mark_paid", h.service.MarkAsPaid)
}

// MarkAsUnpaidHandler handles POST /service-charges/{id}/mark-unpaid.
func (h *Handlers) MarkAsUnpaidHandler(w http.ResponseWriter, r *http.Request) {
	h.chargeAction(w, r, "mark_unpaid", h.service.MarkAsUnpaid)
}

func (h *Handlers) chargeAction(w http.ResponseWriter, r *http.Request, endpoint string, action func(ctx context.Context, actorID, chargeID string) (*domain.ServiceCharge, error)) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	charge, err := action(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, endpoint, err)
		return
	}
	h.writeJSON(w, http.StatusOK, charge)
}

// InitializePaymentHandler handles POST /service-charges/{id}/payments.
func (h *Handlers) InitializePaymentHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req initializePaymentRequest
	if !h.decode(w, r, "initialize_payment", &req) {
		return
	}
	provider, known := domain.ParseProvider(string(req.Provider))
	if !known {
		h.writeError(w, http.StatusBadRequest, "unsupported payment provider")
		return
	}

	result, err := h.service.InitializePayment(r.Context(), app.InitializePaymentInput{
		ChargeID:    chi.URLParam(r, "id"),
		PayerID:     userID,
		Provider:    provider,
		Amount:      req.Amount,
		Method:      req.Method,
		Description: req.Description,
	})
	if err != nil {
		h.handleServiceError(w, "initialize_payment", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// ListPaymentsHandler handles GET /payments, the caller's own payment history.
func (h *Handlers) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit, err := parseNonNegative(query.Get("limit"), 50)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, err := parseNonNegative(query.Get("offset"), 0)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	payments, err := h.service.ListPayments(r.Context(), userID, app.ListPaymentsFilter{
		Status: domain.PaymentStatus(strings.TrimSpace(query.Get("status"))),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.handleServiceError(w, "list_payments", err)
		return
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	h.writeJSON(w, http.StatusOK, listPaymentsResponse{Payments: payments, Count: len(payments)})
}

// VerifyPaymentHandler handles GET /payments/verify?ref=&provider=.
func (h *Handlers) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}
	query := r.URL.Query()
	reference := strings.TrimSpace(query.Get("ref"))
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "ref is required")
		return
	}
	var provider domain.Provider
	if raw := strings.TrimSpace(query.Get("provider")); raw != "" {
		parsed, known := domain.ParseProvider(raw)
		if !known {
			h.writeError(w, http.StatusBadRequest, "unsupported payment provider")
			return
		}
		provider = parsed
	}

	result, err := h.service.VerifyPayment(r.Context(), reference, provider)
	if err != nil {
		h.handleServiceError(w, "verify_payment", err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok || userID == "" {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, endpoint string, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		h.logger.Warn("request rejected", "component", "api", "endpoint", endpoint, "outcome", "reject", "reason", "invalid_json", "err", err)
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// statusForError maps service errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyPaid), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) handleServiceError(w http.ResponseWriter, endpoint string, err error) {
	status := statusForError(err)
	message := err.Error()
	switch status {
	case http.StatusInternalServerError:
		h.logger.Error("request failed", "component", "api", "endpoint", endpoint, "outcome", "error", "err", err)
		message = "internal server error"
	case http.StatusBadGateway:
		h.logger.Warn("payment provider failure", "component", "api", "endpoint", endpoint, "outcome", "failed", "err", err)
		message = "payment provider unavailable; please try again"
	case http.StatusForbidden:
		message = "you are not allowed to perform this action"
	case http.StatusTooManyRequests:
		var rl *app.RateLimitedError
		if errors.As(err, &rl) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfterSeconds))
		}
		fallthrough
	default:
		h.logger.Info("request rejected", "component", "api", "endpoint", endpoint, "outcome", "reject", "status", status, "err", err)
	}
	h.writeError(w, status, message)
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data)
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func parseNonNegative(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}
