package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clarity-platform/clarity/internal/api"
	"github.com/clarity-platform/clarity/internal/auth"
	"github.com/clarity-platform/clarity/internal/credential"
	"github.com/clarity-platform/clarity/internal/gateway"
	"github.com/clarity-platform/clarity/internal/knowledge"
	"github.com/clarity-platform/clarity/internal/provider"
	"github.com/clarity-platform/clarity/internal/quota"
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

type createSessionRequest struct {
	Title                string   `json:"title" validate:"max=255"`
	ProviderID           string   `json:"provider_id" validate:"omitempty,uuid"`
	ModelCode            string   `json:"model_code" validate:"required"`
	CredentialPreference string   `json:"credential_preference" validate:"omitempty,oneof=AUTO USER_PROVIDED OFFICIAL_FREE OFFICIAL_PAID"`
	SystemPrompt         string   `json:"system_prompt"`
	KnowledgeBaseIDs     []string `json:"knowledge_base_ids" validate:"dive,uuid"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	in := CreateSessionInput{
		Title:                req.Title,
		ModelCode:            req.ModelCode,
		CredentialPreference: req.CredentialPreference,
		SystemPrompt:         req.SystemPrompt,
	}
	if req.ProviderID != "" {
		id, err := uuid.Parse(req.ProviderID)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid provider ID"))
			return
		}
		in.ProviderID = id
	}
	for _, raw := range req.KnowledgeBaseIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid knowledge base ID"))
			return
		}
		in.KnowledgeBaseIDs = append(in.KnowledgeBaseIDs, id)
	}

	session, err := h.svc.CreateSession(r.Context(), userID, in)
	if err != nil {
		slog.Error("creating session", "error", err)
		api.HandleError(w, api.NewBadRequestError(err.Error()))
		return
	}

	api.JSON(w, http.StatusCreated, session)
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	sessions, err := h.svc.ListSessions(r.Context(), userID)
	if err != nil {
		slog.Error("listing sessions", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, sessions)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}

	session, err := h.svc.GetSession(r.Context(), sessionID, userID)
	if err != nil {
		h.handleTurnError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, session)
}

func (h *Handler) Archive(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}

	if err := h.svc.Archive(r.Context(), sessionID, userID); err != nil {
		h.handleTurnError(w, err)
		return
	}

	api.JSONMessage(w, http.StatusOK, "session archived")
}

func (h *Handler) Unarchive(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}

	if err := h.svc.Unarchive(r.Context(), sessionID, userID); err != nil {
		h.handleTurnError(w, err)
		return
	}

	api.JSONMessage(w, http.StatusOK, "session reactivated")
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), sessionID, userID); err != nil {
		h.handleTurnError(w, err)
		return
	}

	api.JSONMessage(w, http.StatusOK, "session deleted")
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}

	messages, err := h.svc.ListMessages(r.Context(), sessionID, userID, 0)
	if err != nil {
		h.handleTurnError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, messages)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := h.sessionScope(w, r)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	if r.URL.Query().Get("stream") == "true" {
		h.streamMessage(w, r, sessionID, userID, req.Content)
		return
	}

	result, err := h.svc.SendMessage(r.Context(), sessionID, userID, req.Content)
	if err != nil {
		h.handleTurnError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, result)
}

func (h *Handler) streamMessage(w http.ResponseWriter, r *http.Request, sessionID, userID uuid.UUID, content string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		api.HandleError(w, api.NewBadRequestError("streaming unsupported by connection"))
		return
	}

	deltas, err := h.svc.SendMessageStream(r.Context(), sessionID, userID, content)
	if err != nil {
		h.handleTurnError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for delta := range deltas {
		if delta.Err != nil {
			fmt.Fprintf(w, "event: error\ndata: %q\n\n", delta.Err.Error())
			flusher.Flush()
			return
		}
		fmt.Fprint(w, "data: ")
		_ = enc.Encode(map[string]any{
			"content": delta.Content,
			"done":    delta.Done,
		})
		fmt.Fprint(w, "\n")
		flusher.Flush()
	}
}

func (h *Handler) sessionScope(w http.ResponseWriter, r *http.Request) (userID, sessionID uuid.UUID, ok bool) {
	userID = auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid session ID"))
		return uuid.Nil, uuid.Nil, false
	}
	return userID, sessionID, true
}

// handleTurnError maps domain errors from the send path onto the HTTP
// error taxonomy.
func (h *Handler) handleTurnError(w http.ResponseWriter, err error) {
	var callErr *provider.CallError
	switch {
	case errors.Is(err, ErrSessionNotFound):
		api.HandleError(w, api.NewNotFoundError("session not found"))
	case errors.Is(err, ErrSessionNotActive):
		api.HandleError(w, api.NewConflictError("session is not active"))
	case errors.Is(err, ErrSessionOverQuota), errors.Is(err, quota.ErrQuotaExceeded):
		api.HandleError(w, api.NewPaymentRequiredError("monthly token quota exceeded"))
	case errors.Is(err, credential.ErrNoAvailableCredential):
		api.HandleError(w, api.NewBadRequestError("no available credential for this provider"))
	case errors.Is(err, gateway.ErrRateLimitExceeded):
		api.HandleError(w, api.NewTooManyRequestsError("provider rate limit exceeded, retry later"))
	case errors.Is(err, knowledge.ErrEmptyQuery):
		api.HandleError(w, api.NewValidationError("message content must not be blank"))
	case errors.Is(err, knowledge.ErrEmbeddingFailure):
		api.HandleError(w, api.NewBadGatewayError("embedding backend unavailable"))
	case errors.Is(err, provider.ErrUnsupportedProvider):
		api.HandleError(w, api.NewBadRequestError("unsupported provider"))
	case errors.As(err, &callErr):
		api.HandleError(w, api.NewBadGatewayError(fmt.Sprintf("provider %s returned status %d", callErr.Provider, callErr.StatusCode)))
	default:
		slog.Error("conversation request failed", "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}
