package users

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clarity-platform/clarity/internal/api"
	"github.com/clarity-platform/clarity/internal/auth"
)

type Handler struct {
	svc      *Service
	jwtMgr   *auth.JWTManager
	validate *validator.Validate
}

func NewHandler(svc *Service, jwtMgr *auth.JWTManager) *Handler {
	return &Handler{
		svc:      svc,
		jwtMgr:   jwtMgr,
		validate: validator.New(),
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	User        *User  `json:"user"`
}

// Register provisions a new user with a monthly token budget.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	exists, err := h.svc.ExistsByEmail(r.Context(), req.Email)
	if err != nil {
		slog.Error("checking email existence", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if exists {
		api.HandleError(w, api.NewConflictError("email already registered"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		slog.Error("hashing password", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	user, err := h.svc.Create(r.Context(), req.Email, hash, req.MonthlyTokenLimit)
	if err != nil {
		slog.Error("creating user", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusCreated, user)
}

// Login verifies credentials and issues an access token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	user, err := h.svc.GetByEmail(r.Context(), req.Email)
	if err != nil {
		slog.Error("fetching user for login", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if user == nil || user.Status != StatusActive {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}
	if err := auth.ComparePassword(user.PasswordHash, req.Password); err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	token, err := h.jwtMgr.GenerateAccessToken(user.ID.String(), user.Email)
	if err != nil {
		slog.Error("generating access token", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, tokenResponse{AccessToken: token, User: user})
}

// Me returns the authenticated user's profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == uuid.Nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	user, err := h.svc.GetByID(r.Context(), userID)
	if err != nil {
		slog.Error("fetching user", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if user == nil {
		api.HandleError(w, api.ErrNotFound)
		return
	}

	api.JSON(w, http.StatusOK, user)
}
