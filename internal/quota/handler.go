package quota

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clarity-platform/clarity/internal/api"
	"github.com/clarity-platform/clarity/internal/auth"
	"github.com/clarity-platform/clarity/internal/usage"
)

type Handler struct {
	ledger   *Ledger
	usage    *usage.Repository
	validate *validator.Validate
}

func NewHandler(ledger *Ledger, usageRepo *usage.Repository) *Handler {
	return &Handler{
		ledger:   ledger,
		usage:    usageRepo,
		validate: validator.New(),
	}
}

// Status reports the caller's monthly token budget.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	status, err := h.ledger.Status(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			api.HandleError(w, api.NewNotFoundError("quota account not found"))
			return
		}
		slog.Error("reading quota status", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, status)
}

type consumeRequest struct {
	Tokens int64 `json:"tokens" validate:"required,gt=0"`
}

// Consume debits the caller's quota directly. Exposed for out-of-band
// charges such as batch jobs that bypass the conversation flow.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	remaining, err := h.ledger.TryConsume(r.Context(), userID, req.Tokens)
	if err != nil {
		switch {
		case errors.Is(err, ErrQuotaExceeded):
			api.HandleError(w, api.NewPaymentRequiredError("monthly token quota exceeded"))
		case errors.Is(err, ErrAccountNotFound):
			api.HandleError(w, api.NewNotFoundError("quota account not found"))
		case errors.Is(err, ErrInvalidTokenDelta):
			api.HandleError(w, api.NewBadRequestError("token amount must be positive"))
		default:
			slog.Error("consuming quota", "error", err)
			api.HandleError(w, api.ErrInternalServer)
		}
		return
	}

	api.JSON(w, http.StatusOK, map[string]int64{"remaining": remaining})
}

// UsageReport aggregates the caller's token spend per provider over the
// last N days (default 30).
func (h *Handler) UsageReport(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 365 {
			api.HandleError(w, api.NewBadRequestError("days must be between 1 and 365"))
			return
		}
		days = parsed
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	totals, err := h.usage.SumByUserSince(r.Context(), userID, since)
	if err != nil {
		slog.Error("aggregating usage", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, map[string]any{
		"since":              since,
		"tokens_by_provider": totals,
	})
}
