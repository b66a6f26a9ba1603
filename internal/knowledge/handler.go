package knowledge

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

type createKnowledgeBaseRequest struct {
	Name         string `json:"name" validate:"required,min=1,max=255"`
	Description  string `json:"description" validate:"max=2000"`
	ChunkSize    int    `json:"chunk_size" validate:"gte=0"`
	ChunkOverlap int    `json:"chunk_overlap" validate:"gte=0"`
}

type uploadDocumentRequest struct {
	Title   string `json:"title" validate:"required,min=1,max=255"`
	Content string `json:"content" validate:"required"`
}

type searchRequest struct {
	KnowledgeBaseIDs []string `json:"knowledge_base_ids" validate:"required,min=1,dive,uuid"`
	Query            string   `json:"query" validate:"required"`
	Limit            int      `json:"limit" validate:"gte=0,lte=50"`
}

func (h *Handler) CreateKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req createKnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	kb, err := h.svc.CreateKnowledgeBase(r.Context(), userID, CreateKnowledgeBaseInput{
		Name:         req.Name,
		Description:  req.Description,
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
	})
	if err != nil {
		if errors.Is(err, ErrChunkConfig) {
			api.HandleError(w, api.NewBadRequestError(err.Error()))
			return
		}
		slog.Error("creating knowledge base", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusCreated, kb)
}

func (h *Handler) ListKnowledgeBases(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	kbs, err := h.svc.ListKnowledgeBases(r.Context(), userID)
	if err != nil {
		slog.Error("listing knowledge bases", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, kbs)
}

func (h *Handler) GetKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	kbID, err := uuid.Parse(chi.URLParam(r, "kbID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid knowledge base ID"))
		return
	}

	kb, err := h.svc.GetKnowledgeBase(r.Context(), kbID, userID)
	if err != nil {
		slog.Error("getting knowledge base", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if kb == nil {
		api.HandleError(w, api.NewNotFoundError("knowledge base not found"))
		return
	}

	api.JSON(w, http.StatusOK, kb)
}

func (h *Handler) DeleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	kbID, err := uuid.Parse(chi.URLParam(r, "kbID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid knowledge base ID"))
		return
	}

	if err := h.svc.DeleteKnowledgeBase(r.Context(), kbID, userID); err != nil {
		if errors.Is(err, ErrKnowledgeBaseNotFound) {
			api.HandleError(w, api.NewNotFoundError("knowledge base not found"))
			return
		}
		slog.Error("deleting knowledge base", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "knowledge base deleted successfully")
}

func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	kbID, err := uuid.Parse(chi.URLParam(r, "kbID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid knowledge base ID"))
		return
	}

	var req uploadDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	doc, err := h.svc.UploadDocument(r.Context(), userID, kbID, req.Title, req.Content)
	if err != nil {
		if errors.Is(err, ErrKnowledgeBaseNotFound) {
			api.HandleError(w, api.NewNotFoundError("knowledge base not found"))
			return
		}
		slog.Error("uploading document", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusAccepted, doc)
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	kbID, err := uuid.Parse(chi.URLParam(r, "kbID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid knowledge base ID"))
		return
	}

	docs, err := h.svc.ListDocuments(r.Context(), userID, kbID)
	if err != nil {
		if errors.Is(err, ErrKnowledgeBaseNotFound) {
			api.HandleError(w, api.NewNotFoundError("knowledge base not found"))
			return
		}
		slog.Error("listing documents", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, docs)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	kbIDs := make([]uuid.UUID, 0, len(req.KnowledgeBaseIDs))
	for _, raw := range req.KnowledgeBaseIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			api.HandleError(w, api.NewBadRequestError("invalid knowledge base ID"))
			return
		}
		kbIDs = append(kbIDs, id)
	}

	results, err := h.svc.Search(r.Context(), userID, kbIDs, req.Query, req.Limit)
	if err != nil {
		if errors.Is(err, ErrEmptyQuery) {
			api.HandleError(w, api.NewValidationError("query must not be blank"))
			return
		}
		if errors.Is(err, ErrEmbeddingFailure) {
			api.HandleError(w, api.NewBadGatewayError("embedding backend unavailable"))
			return
		}
		slog.Error("searching knowledge bases", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, results)
}
