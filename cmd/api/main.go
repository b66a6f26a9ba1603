package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/clarity-platform/clarity/internal/api"
	"github.com/clarity-platform/clarity/internal/auth"
	"github.com/clarity-platform/clarity/internal/config"
	"github.com/clarity-platform/clarity/internal/conversation"
	"github.com/clarity-platform/clarity/internal/credential"
	"github.com/clarity-platform/clarity/internal/database"
	"github.com/clarity-platform/clarity/internal/gateway"
	"github.com/clarity-platform/clarity/internal/knowledge"
	"github.com/clarity-platform/clarity/internal/middleware"
	inats "github.com/clarity-platform/clarity/internal/nats"
	"github.com/clarity-platform/clarity/internal/provider"
	"github.com/clarity-platform/clarity/internal/quota"
	iredis "github.com/clarity-platform/clarity/internal/redis"
	"github.com/clarity-platform/clarity/internal/server"
	"github.com/clarity-platform/clarity/internal/usage"
	"github.com/clarity-platform/clarity/internal/users"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	pool, err := database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		slog.Error("connecting to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Redis
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// NATS JetStream
	natsClient, err := inats.NewClient(ctx, cfg.NATS)
	if err != nil {
		slog.Error("connecting to nats", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	publisher := inats.NewPublisher(natsClient.JetStream())
	consumerMgr := inats.NewConsumerManager(natsClient.JetStream())

	// Auth
	jwtManager := auth.NewJWTManager(cfg.JWT.AccessSecret, cfg.JWT.AccessExpiry)
	encryptor, err := auth.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		slog.Error("initializing encryptor", "error", err)
		os.Exit(1)
	}

	// Users
	userRepo := users.NewRepository(pool)
	userSvc := users.NewService(userRepo, cfg.Quota.DefaultMonthlyTokenLimit)
	userHandler := users.NewHandler(userSvc, jwtManager)

	// Providers and quota
	providerRepo := provider.NewPostgresRepository(pool)
	ledger := quota.NewLedger(quota.NewRepository(pool), cfg.Quota)
	usageRepo := usage.NewRepository(pool)
	quotaHandler := quota.NewHandler(ledger, usageRepo)

	// Credentials
	credSvc := credential.NewService(credential.NewRepository(pool), providerRepo, encryptor, cfg.Providers.OfficialKeys)
	credHandler := credential.NewHandler(credSvc)

	// Model gateway
	registry := provider.NewDefaultRegistry(nil)
	limiter := gateway.NewRateLimiter(redisClient)
	gw := gateway.New(registry, limiter, cfg.Gateway, slog.Default())

	// Knowledge retrieval
	embedder := knowledge.NewHTTPEmbedder(cfg.Embedding)
	knowledgeRepo := knowledge.NewRepository(pool)
	retriever := knowledge.NewRetriever(knowledgeRepo, embedder, slog.Default())
	knowledgeSvc := knowledge.NewService(knowledgeRepo, retriever, publisher, slog.Default())
	knowledgeHandler := knowledge.NewHandler(knowledgeSvc)

	// Conversations
	historyCache := conversation.NewHistoryCache(redisClient)
	convRepo := conversation.NewRepository(pool)
	convSvc := conversation.NewService(
		convRepo,
		historyCache,
		ledger,
		credSvc,
		providerRepo,
		retriever,
		gw,
		publisher,
		slog.Default(),
	)
	convHandler := conversation.NewHandler(convSvc)

	// Background consumers
	ingestor := knowledge.NewIngestor(knowledgeRepo, embedder, consumerMgr)
	go func() {
		if err := ingestor.Start(ctx); err != nil {
			slog.Error("document ingestor stopped", "error", err)
		}
	}()

	usageConsumer := usage.NewConsumer(usageRepo, consumerMgr)
	go func() {
		if err := usageConsumer.Start(ctx); err != nil {
			slog.Error("usage consumer stopped", "error", err)
		}
	}()

	// Router
	authRateLimiter := middleware.NewRateLimiter(redisClient, 10, 60)
	router := api.NewRouter(pool, redisClient, natsClient, api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		AuthRateLimiter:    authRateLimiter.Middleware,
	}, api.HandlerSet{
		Register: userHandler.Register,
		Login:    userHandler.Login,
		Me:       userHandler.Me,

		CreateSession:    convHandler.CreateSession,
		ListSessions:     convHandler.ListSessions,
		GetSession:       convHandler.GetSession,
		ArchiveSession:   convHandler.Archive,
		UnarchiveSession: convHandler.Unarchive,
		DeleteSession:    convHandler.Delete,
		ListMessages:     convHandler.ListMessages,
		SendMessage:      convHandler.SendMessage,

		CreateKnowledgeBase: knowledgeHandler.CreateKnowledgeBase,
		ListKnowledgeBases:  knowledgeHandler.ListKnowledgeBases,
		GetKnowledgeBase:    knowledgeHandler.GetKnowledgeBase,
		DeleteKnowledgeBase: knowledgeHandler.DeleteKnowledgeBase,
		UploadDocument:      knowledgeHandler.UploadDocument,
		ListDocuments:       knowledgeHandler.ListDocuments,
		SearchKnowledge:     knowledgeHandler.Search,

		CreateCredential:       credHandler.Create,
		ListCredentials:        credHandler.List,
		SetDefaultCredential:   credHandler.SetDefault,
		UpdateCredentialStatus: credHandler.UpdateStatus,
		DeleteCredential:       credHandler.Delete,

		QuotaStatus:  quotaHandler.Status,
		QuotaConsume: quotaHandler.Consume,
		UsageReport:  quotaHandler.UsageReport,

		AuthMiddleware: auth.Middleware(jwtManager),
	})

	// Start server
	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
