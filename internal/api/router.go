package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/clarity-platform/clarity/internal/database"
	mw "github.com/clarity-platform/clarity/internal/middleware"
	inats "github.com/clarity-platform/clarity/internal/nats"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Auth handlers
	Register http.HandlerFunc
	Login    http.HandlerFunc
	Me       http.HandlerFunc

	// Session handlers
	CreateSession    http.HandlerFunc
	ListSessions     http.HandlerFunc
	GetSession       http.HandlerFunc
	ArchiveSession   http.HandlerFunc
	UnarchiveSession http.HandlerFunc
	DeleteSession    http.HandlerFunc
	ListMessages     http.HandlerFunc
	SendMessage      http.HandlerFunc

	// Knowledge handlers
	CreateKnowledgeBase http.HandlerFunc
	ListKnowledgeBases  http.HandlerFunc
	GetKnowledgeBase    http.HandlerFunc
	DeleteKnowledgeBase http.HandlerFunc
	UploadDocument      http.HandlerFunc
	ListDocuments       http.HandlerFunc
	SearchKnowledge     http.HandlerFunc

	// Credential handlers
	CreateCredential       http.HandlerFunc
	ListCredentials        http.HandlerFunc
	SetDefaultCredential   http.HandlerFunc
	UpdateCredentialStatus http.HandlerFunc
	DeleteCredential       http.HandlerFunc

	// Quota handlers
	QuotaStatus  http.HandlerFunc
	QuotaConsume http.HandlerFunc
	UsageReport  http.HandlerFunc

	// Auth middleware
	AuthMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	AuthRateLimiter    func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, redisClient *goredis.Client, natsClient *inats.Client, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, always 200 with no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe checks DB, Redis and NATS
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"redis":    "healthy",
			"nats":     "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				health["redis"] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
			}
		} else {
			health["redis"] = "not configured"
		}

		if natsClient != nil && !natsClient.Healthy() {
			health["nats"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else if natsClient == nil {
			health["nats"] = "not configured"
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Auth routes (public), optionally rate-limited
		r.Route("/auth", func(r chi.Router) {
			if cfg.AuthRateLimiter != nil {
				r.Use(cfg.AuthRateLimiter)
			}
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)

			r.Group(func(r chi.Router) {
				r.Use(h.AuthMiddleware)
				r.Get("/me", h.Me)
			})
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			// Session routes
			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", h.CreateSession)
				r.Get("/", h.ListSessions)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Get("/", h.GetSession)
					r.Delete("/", h.DeleteSession)
					r.Post("/archive", h.ArchiveSession)
					r.Post("/unarchive", h.UnarchiveSession)
					r.Get("/messages", h.ListMessages)
					r.Post("/messages", h.SendMessage)
				})
			})

			// Knowledge base routes
			r.Route("/knowledge-bases", func(r chi.Router) {
				r.Post("/", h.CreateKnowledgeBase)
				r.Get("/", h.ListKnowledgeBases)
				r.Post("/search", h.SearchKnowledge)

				r.Route("/{kbID}", func(r chi.Router) {
					r.Get("/", h.GetKnowledgeBase)
					r.Delete("/", h.DeleteKnowledgeBase)
					r.Post("/documents", h.UploadDocument)
					r.Get("/documents", h.ListDocuments)
				})
			})

			// Credential routes
			r.Route("/credentials", func(r chi.Router) {
				r.Post("/", h.CreateCredential)
				r.Get("/", h.ListCredentials)

				r.Route("/{credentialID}", func(r chi.Router) {
					r.Put("/default", h.SetDefaultCredential)
					r.Put("/status", h.UpdateCredentialStatus)
					r.Delete("/", h.DeleteCredential)
				})
			})

			// Quota routes
			r.Route("/quota", func(r chi.Router) {
				r.Get("/", h.QuotaStatus)
				r.Post("/consume", h.QuotaConsume)
				r.Get("/usage", h.UsageReport)
			})
		})
	})

	return r
}
