package credential

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clarity-platform/clarity/internal/api"
	"github.com/clarity-platform/clarity/internal/auth"
)

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

type createCredentialRequest struct {
	ProviderID string `json:"provider_id" validate:"required,uuid"`
	KeyType    string `json:"key_type" validate:"required,oneof=USER_PROVIDED OFFICIAL_FREE OFFICIAL_PAID"`
	Secret     string `json:"secret"`
	Priority   int    `json:"priority" validate:"gte=0"`
	IsDefault  bool   `json:"is_default"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE INACTIVE EXPIRED"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req createCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid provider ID"))
		return
	}

	cfg, err := h.svc.Create(r.Context(), CreateInput{
		UserID:     userID,
		ProviderID: providerID,
		KeyType:    req.KeyType,
		Secret:     req.Secret,
		Priority:   req.Priority,
		IsDefault:  req.IsDefault,
	})
	if err != nil {
		slog.Error("creating credential", "error", err)
		api.HandleError(w, api.NewBadRequestError(err.Error()))
		return
	}

	api.JSON(w, http.StatusCreated, cfg)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	configs, err := h.svc.List(r.Context(), userID)
	if err != nil {
		slog.Error("listing credentials", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, configs)
}

func (h *Handler) SetDefault(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	credentialID, err := uuid.Parse(chi.URLParam(r, "credentialID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid credential ID"))
		return
	}
	providerID, err := uuid.Parse(r.URL.Query().Get("provider_id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid provider ID"))
		return
	}

	if err := h.svc.SetDefault(r.Context(), userID, providerID, credentialID); err != nil {
		if errors.Is(err, ErrNoAvailableCredential) {
			api.HandleError(w, api.NewNotFoundError("credential not found"))
			return
		}
		slog.Error("setting default credential", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "default credential updated")
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	credentialID, err := uuid.Parse(chi.URLParam(r, "credentialID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid credential ID"))
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	if err := h.svc.UpdateStatus(r.Context(), userID, credentialID, req.Status); err != nil {
		if errors.Is(err, ErrNoAvailableCredential) {
			api.HandleError(w, api.NewNotFoundError("credential not found"))
			return
		}
		slog.Error("updating credential status", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "credential status updated")
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	credentialID, err := uuid.Parse(chi.URLParam(r, "credentialID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid credential ID"))
		return
	}

	if err := h.svc.Delete(r.Context(), userID, credentialID); err != nil {
		if errors.Is(err, ErrNoAvailableCredential) {
			api.HandleError(w, api.NewNotFoundError("credential not found"))
			return
		}
		slog.Error("deleting credential", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "credential deleted successfully")
}
