package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/api"
	"github.com/fjwyyds6668/ai-tourguide/internal/api/handlers"
	"github.com/fjwyyds6668/ai-tourguide/internal/bootstrap"
	"github.com/fjwyyds6668/ai-tourguide/internal/embedding"
	"github.com/fjwyyds6668/ai-tourguide/internal/events"
	"github.com/fjwyyds6668/ai-tourguide/internal/fusion"
	"github.com/fjwyyds6668/ai-tourguide/internal/ingestion"
	"github.com/fjwyyds6668/ai-tourguide/internal/knowledge"
	"github.com/fjwyyds6668/ai-tourguide/internal/metrics"
	"github.com/fjwyyds6668/ai-tourguide/internal/middleware/ratelimit"
	"github.com/fjwyyds6668/ai-tourguide/internal/middleware/security"
	"github.com/fjwyyds6668/ai-tourguide/internal/middleware/validation"
	"github.com/fjwyyds6668/ai-tourguide/internal/rag"
	"github.com/fjwyyds6668/ai-tourguide/internal/retrieval"
	"github.com/fjwyyds6668/ai-tourguide/internal/session"
	"github.com/fjwyyds6668/ai-tourguide/internal/tracer"
	"github.com/fjwyyds6668/ai-tourguide/pkg/config"
	appLogger "github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting AI tour guide API server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	shutdownTracer := tracer.Init(ctx, cfg.Tracing)

	c, err := bootstrap.NewContainer(ctx, cfg)
	if err != nil {
		appLogger.Fatal("Failed to initialize backends", zap.Error(err))
	}
	defer c.Close()

	// Optional caches stay untyped nil when Redis is off.
	var (
		embeddingRemote embedding.Remote
		passageCache    knowledge.Cache
	)
	if c.Redis != nil {
		embeddingRemote, passageCache = c.Redis, c.Redis
	}

	embedder := embedding.NewCached(c.LLM, c.LLM.EmbeddingModel(),
		time.Duration(cfg.Cache.EmbeddingTTLSeconds)*time.Second, embeddingRemote)
	passages := knowledge.NewLookup(passageCache, c.SQLite, c.PassageTTL)

	fuser, err := fusion.New(fusion.Config{GraphRankOrder: fusion.ParseRankOrder(cfg.RAG.GraphRankOrder)})
	if err != nil {
		appLogger.Fatal("Invalid fusion config", zap.Error(err))
	}

	sessions, stopSessions := newSessionStore(ctx, cfg, c)
	defer stopSessions()

	recorders := []rag.InteractionRecorder{c.SQLite}
	if cfg.Events.NATSURL != "" {
		publisher, err := events.NewPublisher(ctx, cfg.Events.NATSURL)
		if err != nil {
			appLogger.Warn("Interaction events disabled", zap.Error(err))
		} else {
			defer publisher.Close()
			recorders = append(recorders, publisher)
		}
	}

	engine := rag.NewEngine(rag.Dependencies{
		Extractor: c.Extractor,
		Vector:    retrieval.NewVectorRetriever(embedder, c.Milvus, passages, cfg.RAG.MinScore),
		Graph:     retrieval.NewGraphRetriever(c.Neo4j, cfg.RAG.RelationCap),
		Fuser:     fuser,
		Sessions:  sessions,
		Generator: c.LLM,
		Personas:  c.SQLite,
		Recorders: recorders,
	}, rag.Options{
		TopK:               cfg.RAG.TopK,
		GraphDepth:         cfg.RAG.GraphDepth,
		CharBudget:         cfg.RAG.CharBudget,
		MaxEntities:        cfg.RAG.MaxEntities,
		RetrievalTimeout:   cfg.RAG.RetrievalTimeout(),
		PromptHistoryTurns: cfg.RAG.PromptHistoryTurns,
		DefaultPersona:     cfg.RAG.DefaultPersona,
	})

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NewStdLogger(false, false))
	defer pubSub.Close()

	queue := ingestion.NewQueue(pubSub, pubSub, cfg.Ingestion.Topic, c.Processor)
	if err := queue.Consume(ctx); err != nil {
		appLogger.Fatal("Failed to start ingestion consumer", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "ai-tourguide",
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	headers := security.HeadersConfig{
		AllowedOrigins: security.ParseOrigins(cfg.Server.CORSOrigins),
		IsDevelopment:  cfg.Logging.Format != "json",
	}
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.Server.RateLimit,
		Burst:             cfg.Server.RateBurst,
		Logger:            appLogger.GetLogger(),
	})

	app.Use(recover.New())
	app.Use(otelfiber.Middleware())
	app.Use(fiberlogger.New())
	app.Use(security.CORS(headers))
	app.Use(security.HeadersMiddleware(headers))
	app.Use("/api", limiter.Middleware())
	app.Use("/api", validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	checks := map[string]handlers.Pinger{
		"sqlite": c.SQLite.Ping,
		"neo4j":  c.Neo4j.Ping,
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis.Ping
	}

	ragHandler := handlers.NewRAGHandler(engine, sessions, cfg.Server.MaxQueryLength)
	api.RegisterRoutes(app, api.Handlers{
		RAG:       ragHandler,
		Knowledge: handlers.NewKnowledgeHandler(queue, c.Processor),
		Graph:     handlers.NewGraphHandler(c.Neo4j, cfg.RAG.GraphDepth),
		History:   handlers.NewHistoryHandler(c.SQLite),
		WebSocket: handlers.NewWebSocketHandler(ragHandler, time.Duration(cfg.Server.WriteTimeout)*time.Second),
		Health:    handlers.NewHealthHandler(checks),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracer(shutdownCtx); err != nil {
		appLogger.Warn("Tracer shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func newSessionStore(ctx context.Context, cfg *config.Config, c *bootstrap.Container) (session.Store, func()) {
	ttl := cfg.Session.TTL()
	if cfg.Session.Backend == "redis" && c.Redis != nil {
		appLogger.Info("Using Redis session store")
		return session.NewRedis(c.Redis.Conn(), cfg.Session.MaxTurns, ttl), func() {}
	}

	store := session.NewMemory(cfg.Session.MaxTurns, ttl)
	janitorCtx, cancel := context.WithCancel(ctx)
	go store.RunJanitor(janitorCtx, cfg.Session.SweepInterval(), ttl)
	return store, cancel
}
