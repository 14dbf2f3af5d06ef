package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tas-memory-service/auth"
	"github.com/tas-memory-service/config"
	"github.com/tas-memory-service/handlers"
	"github.com/tas-memory-service/models"
	"github.com/tas-memory-service/pkg/logger"
	"github.com/tas-memory-service/providers"
	"github.com/tas-memory-service/retrievers"
	"github.com/tas-memory-service/services/impl"
	"github.com/tas-memory-service/services/memory"
	"github.com/tas-memory-service/services/research"
	"github.com/tas-memory-service/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := initDB(cfg)
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}

	if err := store.Migrate(db, cfg.Embedding.Dimensions); err != nil {
		log.Fatal("failed to migrate database", "error", err)
	}

	// Providers
	llm := providers.NewLLMClient(&cfg.LLM)
	embedder := providers.NewEmbeddingClient(&cfg.Embedding)

	// Storage and retrieval
	pageStore := store.NewPageStore(db)
	retrieverSet := []retrievers.Retriever{
		retrievers.NewKeywordRetriever(db, log),
		retrievers.NewVectorRetriever(db, log),
		retrievers.NewHeaderIndexRetriever(db, log),
	}

	// Agents
	ingestAgent := memory.NewIngestAgent(llm, embedder, log)
	researchAgent := research.NewAgent(research.Capabilities{
		LLM:        llm,
		Embedder:   embedder,
		Store:      pageStore,
		Retrievers: retrieverSet,
	}, log)

	researchCache := impl.NewResearchCache(&cfg.Redis)
	researchDefaults := models.ResearchOptions{
		MaxIterations:        cfg.Memory.MaxIterations,
		MaxPagesPerIteration: cfg.Memory.MaxPagesPerIteration,
		MaxContextTokens:     cfg.Memory.MaxContextTokens,
		MinRelevanceScore:    cfg.Memory.MinRelevanceScore,
	}
	memoryService := impl.NewMemoryService(ingestAgent, researchAgent, pageStore, researchCache, researchDefaults, log)

	memoryHandlers := handlers.NewMemoryHandlers(memoryService, log)
	router := setupRouter(memoryHandlers, cfg)

	// Background cleanup of expired pages
	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	defer stopCleanup()
	if cfg.Memory.MaxAge > 0 {
		go runCleanupLoop(cleanupCtx, pageStore, cfg.Memory, log)
	}

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Info("memory service starting", "address", cfg.GetServerAddress())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	stopCleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", "error", err)
	}

	log.Info("server exited")
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	return db, nil
}

// runCleanupLoop periodically deletes pages older than the configured
// retention across all owners.
func runCleanupLoop(ctx context.Context, pageStore store.PageStore, cfg config.MemoryConfig, log *logger.Logger) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := pageStore.CleanupExpired(ctx, cfg.MaxAge, "")
			if err != nil {
				log.Warn("cleanup of expired pages failed", "error", err)
				continue
			}
			if deleted > 0 {
				log.Info("cleaned up expired pages", "deleted", deleted, "max_age", cfg.MaxAge)
			}
		}
	}
}

func setupRouter(memoryHandlers *handlers.MemoryHandlers, cfg *config.Config) *gin.Engine {
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.Auth.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Auth.AllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3001", "http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "memory-service",
		})
	})

	v1 := router.Group("/api/v1")
	if cfg.Auth.Enabled {
		validator := auth.NewJWTValidator(cfg.Auth.JWTSecret, nil)
		v1.Use(auth.Middleware(validator))
	}

	memoryGroup := v1.Group("/memory")
	{
		memoryGroup.POST("/memorize", memoryHandlers.Memorize)
		memoryGroup.POST("/research", memoryHandlers.Research)
		memoryGroup.POST("/research/stream", memoryHandlers.ResearchStream)
		memoryGroup.POST("/forget", memoryHandlers.Forget)
		memoryGroup.GET("/stats/:owner", memoryHandlers.Stats)
	}

	return router
}
