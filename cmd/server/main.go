package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"meridian/internal/auth"
	"meridian/internal/config"
	domainllmcore "meridian/internal/domain/services/llmcore"
	"meridian/internal/handler"
	"meridian/internal/handler/wschat"
	"meridian/internal/middleware"
	"meridian/internal/repository/postgres"
	continuumpg "meridian/internal/repository/postgres/continuum"
	domainknowledgepg "meridian/internal/repository/postgres/domainknowledge"
	memorypg "meridian/internal/repository/postgres/memory"
	"meridian/internal/service/asyncresults"
	"meridian/internal/service/domainknowledge"
	"meridian/internal/service/embeddings"
	"meridian/internal/service/eventbus"
	"meridian/internal/service/fingerprint"
	"meridian/internal/service/llm/tools"
	"meridian/internal/service/llm/tools/external"
	"meridian/internal/service/llmcore"
	"meridian/internal/service/llmcore/providers/anthropic"
	"meridian/internal/service/llmcore/providers/openaicompat"
	"meridian/internal/service/orchestrator"
	"meridian/internal/service/retrieval"
	"meridian/internal/service/touchstone"
	"meridian/internal/service/userlock"
	"meridian/internal/service/workingmemory"
	"meridian/internal/service/workingmemory/trinkets"
)

// fastLLM is the narrow one-shot contract touchstone.Generator and
// fingerprint.Generator need; both the native Anthropic backend and the
// OpenAI-compatible backend implement it directly, independent of the
// tool-looping Provider they also back.
type fastLLM interface {
	Complete(ctx context.Context, req *domainllmcore.GenerateRequest) (*domainllmcore.GenerateResponse, error)
}

// fastLLMBackend picks the raw backend serving the fast LLM path (C7/C8):
// a dedicated OpenAI-compatible endpoint if configured, otherwise the same
// Anthropic key the main provider uses.
func fastLLMBackend(cfg *config.Config) fastLLM {
	if cfg.AnalysisEndpoint != "" {
		return openaicompat.New(cfg.AnalysisEndpoint, os.Getenv(cfg.AnalysisAPIKeyName), []string{cfg.AnalysisModel})
	}
	return anthropic.New(os.Getenv(cfg.AnalysisAPIKeyName))
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"ws_port", cfg.WSPort,
	)

	ctx := context.Background()

	pool, err := postgres.CreateConnectionPool(ctx, cfg.SupabaseDBURL)
	if err != nil {
		log.Fatalf("failed to create connection pool: %v", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to parse redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	bus := eventbus.New(logger)

	// C2: embedding/reranker client.
	embeddingsClient := embeddings.New(cfg.EmbeddingServiceURL, cfg.RerankerServiceURL, redisClient)

	// C3 store + C4 retrieval engine.
	memoryStore := memorypg.New(pool, logger)
	retrievalEngine := retrieval.New(memoryStore, embeddingsClient, retrieval.Tuning{
		MaxLinkTraversalDepth: cfg.MaxLinkTraversalDepth,
		MinImportanceScore:    cfg.MinImportanceScore,
		SimilarityThreshold:   cfg.SimilarityThreshold,
	})

	// C5: the main tool-looping provider. Primary Anthropic backend plus an
	// optional OpenAI-compatible emergency backend, behind a process-wide
	// failover state shared by every Provider instance.
	primaryBackend := anthropic.New(cfg.AnthropicAPIKey)
	failoverState := llmcore.NewFailoverState(time.Duration(cfg.RecoveryDelaySeconds) * time.Second)

	providerOpts := []llmcore.Option{
		llmcore.WithLogger(logger),
		llmcore.WithMaxIterations(cfg.MaxIterations),
	}
	if cfg.EmergencyFallbackEnabled {
		emergencyKey := os.Getenv(cfg.EmergencyFallbackAPIKeyName)
		emergencyBackend := openaicompat.New(cfg.EmergencyFallbackEndpoint, emergencyKey, []string{cfg.EmergencyFallbackModel})
		providerOpts = append(providerOpts, llmcore.WithEmergencyBackend(emergencyBackend))
	}
	llmProvider := llmcore.New(primaryBackend, failoverState, cfg.ReasoningModel, cfg.ExecutionModel, cfg.SimpleTools, providerOpts...)

	// C7/C8: the fast LLM path is wired to a raw backend (Complete), never
	// the tool-looping Provider (GenerateResponse) - touchstone and
	// fingerprint only ever need one-shot completions.
	fastBackend := fastLLMBackend(cfg)
	touchstoneGen := touchstone.New(fastBackend, embeddingsClient, cfg.AnalysisModel, cfg.AnalysisContextPairs)
	fingerprintGen := fingerprint.New(fastBackend, cfg.AnalysisModel, logger)

	// C6: the composer and its registered trinkets.
	composer := workingmemory.New(bus, logger)

	domainStore := domainknowledgepg.New(pool, logger)
	domainService := domainknowledge.New(bus, domainStore, cfg.BlockCacheTTL, cfg.MessageBatchSize)

	asyncStore := asyncresults.New(redisClient)
	proactiveMemory := trinkets.NewProactiveMemoryTrinket(bus)

	composer.Register(trinkets.NewManifestTrinket())
	composer.Register(trinkets.NewDomainKnowledgeTrinket(domainService))
	composer.Register(trinkets.NewAsyncContextTrinket(asyncStore))
	composer.Register(proactiveMemory)
	// No reminders store exists yet; the trinket degrades to empty output
	// until one is wired (internal/service/workingmemory/trinkets/reminder.go).
	composer.Register(trinkets.NewReminderTrinket(nil))

	// Tool loop: register whatever SimpleTools names a backing client exists for.
	toolRegistry := tools.NewToolRegistry()
	toolsAdapter := tools.NewAdapter(toolRegistry)
	if hasTool(cfg.SimpleTools, "web_search") {
		searchClient := external.NewTavilyClient(os.Getenv("TAVILY_API_KEY"))
		webSearch := tools.NewWebSearchTool(searchClient, nil)
		toolsAdapter.RegisterTool(webSearch.Definition(), webSearch)
	}

	// C9: the turn orchestrator.
	orch := orchestrator.New(
		llmProvider,
		embeddingsClient,
		retrievalEngine,
		touchstoneGen,
		fingerprintGen,
		composer,
		bus,
		proactiveMemory,
		toolsAdapter,
		logger,
	)

	// C10/C13: continuum repository with the built-in cold cache loader.
	continuumRepo := continuumpg.New(pool, logger, cfg.SessionSummaryCount)

	// C12: per-user request lock.
	lock := userlock.New(redisClient)

	verifier, err := auth.NewJWTVerifier(cfg.SupabaseJWKSURL, logger)
	if err != nil {
		log.Fatalf("failed to initialize jwt verifier: %v", err)
	}
	defer verifier.Close()

	// REST surface (Fiber): domain-knowledge block CRUD, health check.
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     strings.Join([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}, ","),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
	}))

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api := app.Group("/api", middleware.AuthMiddleware(verifier))
	blocks := api.Group("/domain-blocks")
	blocks.Get("/", handler.ListDomainBlocks(domainService))
	blocks.Post("/", handler.CreateDomainBlock(domainService))
	blocks.Post("/:label/enable", handler.EnableDomainBlock(domainService))
	blocks.Post("/:label/disable", handler.DisableDomainBlock(domainService))

	// Streaming transport (C11): a separate net/http + websocket listener.
	wschatServer := wschat.NewServer(verifier, continuumRepo, lock, orch, systemPrompt(), logger)
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws/chat", wschatServer.HandleUpgrade)
	// A panic anywhere in a session's lifetime (upgrade, auth, or the
	// per-message read loop) unwinds through this same handler goroutine,
	// so wrapping it here is enough to keep one bad connection from taking
	// down the whole websocket listener.
	wsHTTPServer := &http.Server{Addr: ":" + cfg.WSPort, Handler: middleware.Recovery(logger)(wsMux)}

	go func() {
		logger.Info("websocket server listening", "port", cfg.WSPort)
		if err := wsHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("websocket server failed: %v", err)
		}
	}()

	go func() {
		logger.Info("rest server listening", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("rest server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	wschatServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = wsHTTPServer.Shutdown(shutdownCtx)
	_ = app.ShutdownWithContext(shutdownCtx)
}

func hasTool(toolNames []string, name string) bool {
	for _, t := range toolNames {
		if t == name {
			return true
		}
	}
	return false
}

// systemPrompt is the fixed base prompt the composer layers trinket
// sections onto every turn (§4.6). Persona/domain content beyond this is
// expected to live in the user's enabled domain-knowledge block.
func systemPrompt() string {
	return "You are a helpful assistant with persistent memory of past conversations."
}
