package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/arbiter/internal/api"
	"github.com/nidhogg/arbiter/internal/config"
	"github.com/nidhogg/arbiter/internal/embedding"
	"github.com/nidhogg/arbiter/internal/intent"
	"github.com/nidhogg/arbiter/internal/memory"
	"github.com/nidhogg/arbiter/internal/orchestrator"
	"github.com/nidhogg/arbiter/internal/plan"
	"github.com/nidhogg/arbiter/internal/provider"
	"github.com/nidhogg/arbiter/internal/vectorstore"
	"github.com/nidhogg/arbiter/internal/worker"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Arbiter...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/arbiter.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	bootCtx := context.Background()

	// Working memory (Redis)
	var working *memory.Working
	if cfg.Database.Redis.URL != "" {
		w, wErr := memory.NewWorking(cfg.Database.Redis.URL, 24*time.Hour, logger)
		if wErr != nil {
			logger.Warn("Redis unavailable, running without working memory", zap.Error(wErr))
		} else {
			working = w
		}
	}

	// Episodic memory (PostgreSQL + Qdrant + embeddings)
	var episodic *memory.Episodic
	if cfg.Database.Postgres.DSN != "" {
		var vectors *vectorstore.Client
		var embed embedding.Provider
		if cfg.Database.Qdrant.Host != "" {
			vc, vErr := vectorstore.NewClient(vectorstore.Config{
				Host: cfg.Database.Qdrant.Host,
				Port: cfg.Database.Qdrant.Port,
			})
			if vErr != nil {
				logger.Warn("Qdrant unavailable, similarity recall disabled", zap.Error(vErr))
			} else {
				vectors = vc
				embed = embedding.New(embedding.Config{
					Provider:  cfg.Embedding.Provider,
					Endpoint:  cfg.Embedding.Endpoint,
					Model:     cfg.Embedding.Model,
					APIKey:    cfg.Embedding.APIKey,
					Dimension: cfg.Embedding.Dimension,
				})
			}
		}
		ep, epErr := memory.NewEpisodic(bootCtx, cfg.Database.Postgres.DSN, vectors, embed, logger)
		if epErr != nil {
			logger.Warn("PostgreSQL unavailable, running without episodic memory", zap.Error(epErr))
		} else {
			episodic = ep
		}
	}

	// Semantic memory (Neo4j)
	var semantic *memory.Semantic
	if cfg.Database.Neo4j.URI != "" {
		s, sErr := memory.NewSemantic(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if sErr != nil {
			logger.Warn("Neo4j unavailable, running without knowledge lookup", zap.Error(sErr))
		} else {
			semantic = s
		}
	}

	bridge := memory.NewBridge(working, episodic, semantic, logger)

	// Register built-in workers. Knowledge lookup degrades to nothing
	// when the semantic tier is down.
	registry := worker.NewRegistry(logger)
	var knowledge worker.KnowledgeSource
	if semantic != nil {
		knowledge = semantic
	}
	if err := worker.RegisterBuiltin(registry, router, knowledge, logger); err != nil {
		logger.Fatal("failed to register workers", zap.Error(err))
	}
	logger.Info("Workers registered", zap.Strings("keys", registry.Keys()))

	// Initialize orchestration core
	intents := intent.NewRouter(router, logger)
	planner := plan.NewGenerator(registry, router, logger)
	orch := orchestrator.New(cfg.Orchestrator, registry, intents, planner, router, bridge, logger)

	// Build HTTP handler
	handler := api.NewHandler(orch, registry, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Arbiter listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Arbiter...")
	ctx := context.Background()
	srv.Shutdown(ctx)
	bridge.Close(ctx)
}
