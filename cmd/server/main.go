package main

import (
	"context"
	"log"

	"dshare-backend/config"
	"dshare-backend/handlers"
	"dshare-backend/ledger"
	"dshare-backend/repository"
	"dshare-backend/scanner"
	"dshare-backend/service"
	"dshare-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	// Initialize database connection
	db, err := initPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to initialize Postgres:", err)
	}
	defer db.Close()

	// Initialize content store
	contentStore, err := storage.NewContentStore(storage.StoreConfig{
		Type:         storage.StoreType(cfg.StorageType),
		IPFSNodes:    cfg.IPFSNodes,
		LocalPath:    cfg.LocalPath,
		S3Bucket:     cfg.S3Bucket,
		S3Region:     cfg.S3Region,
		AWSAccessKey: cfg.AWSAccessKey,
		AWSSecretKey: cfg.AWSSecretKey,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize content store: %v", err)
	}
	log.Println("Content store initialized")

	// Initialize external service clients
	scanClient := scanner.NewVirusTotalClient(cfg.VirusTotalURL, cfg.VirusTotalAPIKey,
		scanner.WithPollInterval(cfg.ScanPollInterval),
		scanner.WithBudget(cfg.ScanTimeout),
		scanner.WithLogger(logger))

	ledgerClient := ledger.NewClient(cfg.ContractGatewayURL, cfg.ContractAddress, logger)

	// Initialize repositories
	fileRepo := repository.NewFileRepository(db)
	scanLogRepo := repository.NewScanLogRepository(db)
	userRepo := repository.NewUserRepository(db)

	// Initialize Gemini client
	geminiClient, err := initGemini(cfg.GeminiAPIKey)
	if err != nil {
		log.Fatal("Failed to initialize Gemini:", err)
	}

	// Initialize services
	uploadService := service.NewUploadService(
		service.WithScanner(scanClient),
		service.WithContentStore(contentStore),
		service.WithLedger(ledgerClient),
		service.WithFileRepository(fileRepo),
		service.WithScanLogRepository(scanLogRepo),
		service.WithGranteeResolver(userRepo),
		service.WithMaxConcurrent(cfg.MaxConcurrentUploads),
		service.WithUploadLogger(logger),
	)

	assistantService := service.NewAssistantService(
		service.AssistantWithClient(geminiClient),
		service.AssistantWithLogger(logger),
	)

	// Initialize handlers
	fileHandler := handlers.NewFileHandler(uploadService, fileRepo, contentStore)
	scanHandler := handlers.NewScanHandler(scanLogRepo)
	assistantHandler := handlers.NewAssistantHandler(assistantService)

	// Setup Gin router
	r := gin.Default()

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// API routes
	api := r.Group("/api")
	{
		// Upload pipeline
		api.POST("/files/upload", fileHandler.UploadFile)
		api.POST("/files/reindex", fileHandler.ReindexFile)

		// File queries
		api.GET("/files", fileHandler.ListPublicFiles)
		api.GET("/files/shared", fileHandler.ListSharedFiles)
		api.GET("/files/mine", fileHandler.ListMyFiles)
		api.GET("/files/private", fileHandler.ListPrivateFiles)
		api.GET("/files/recent", fileHandler.ListRecentFiles)
		api.GET("/files/count", fileHandler.CountFiles)
		api.GET("/files/:id", fileHandler.GetFile)
		api.GET("/files/:id/content", fileHandler.DownloadFile)
		api.PUT("/files/:id/access", fileHandler.UpdateAccess)

		// Operator-only scan audit reporting
		api.GET("/admin/scans", scanHandler.ScanHistory)
		api.GET("/admin/scans/summary", scanHandler.UploadsSummary)

		// Helpdesk assistant
		api.POST("/assistant/chat", assistantHandler.Chat)
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

func initPostgres(connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, err
	}

	log.Println("Postgres connection established")
	return pool, nil
}

func initGemini(apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	log.Println("Gemini client initialized")
	return client, nil
}
