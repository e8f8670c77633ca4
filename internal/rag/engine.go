// Package rag answers visitor questions: it extracts entities, retrieves from
// the vector index and the knowledge graph in parallel, fuses both into a
// bounded context and asks the language model, keeping per-session history.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/internal/entity"
	"github.com/fjwyyds6668/ai-tourguide/internal/fusion"
	"github.com/fjwyyds6668/ai-tourguide/internal/llm"
	"github.com/fjwyyds6668/ai-tourguide/internal/metrics"
	"github.com/fjwyyds6668/ai-tourguide/internal/session"
	"github.com/fjwyyds6668/ai-tourguide/internal/storage/models"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

type State string

const (
	StateReceived          State = "RECEIVED"
	StateEntitiesExtracted State = "ENTITIES_EXTRACTED"
	StateRetrieving        State = "RETRIEVING"
	StateFusing            State = "FUSING"
	StatePromptAssembled   State = "PROMPT_ASSEMBLED"
	StateGenerating        State = "GENERATING"
	StateResponded         State = "RESPONDED"
	StateFailed            State = "FAILED"
)

const (
	SourceVector = "vector"
	SourceGraph  = "graph"
	SourceBoth   = "both"
)

type VectorSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]domain.RetrievalHit, error)
}

type GraphSearcher interface {
	Search(ctx context.Context, entities []string, depth int) ([]domain.RetrievalHit, error)
}

type Generator interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

type PersonaSource interface {
	Persona(ctx context.Context, characterID int64) (string, error)
}

type InteractionRecorder interface {
	RecordInteraction(ctx context.Context, in *models.Interaction) error
}

type Options struct {
	TopK               int
	GraphDepth         int
	CharBudget         int
	MaxEntities        int
	RetrievalTimeout   time.Duration
	PromptHistoryTurns int
	DefaultPersona     string
}

// Dependencies are the collaborators of an Engine. Personas and Recorders
// are optional.
type Dependencies struct {
	Extractor entity.Extractor
	Vector    VectorSearcher
	Graph     GraphSearcher
	Fuser     *fusion.Fuser
	Sessions  session.Store
	Generator Generator
	Personas  PersonaSource
	Recorders []InteractionRecorder
}

type Engine struct {
	deps   Dependencies
	opts   Options
	tracer trace.Tracer
	now    func() time.Time
}

type GenerateRequest struct {
	Query           string
	SessionID       string
	CharacterID     *int64
	UseRAG          bool
	InteractionType models.InteractionType
}

// Failure records a recoverable error in the debug trace.
type Failure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Debug shows what was retrieved and what was sent. GraphResults is never
// nil so callers can tell "no relations" from "not reported".
type Debug struct {
	States        []State               `json:"states"`
	UseRAG        bool                  `json:"use_rag"`
	Entities      []domain.Entity       `json:"entities"`
	VectorResults []domain.RetrievalHit `json:"vector_results"`
	GraphResults  []domain.RetrievalHit `json:"graph_results"`
	Context       *domain.FusedContext  `json:"context,omitempty"`
	Failures      []Failure             `json:"failures"`
	Messages      []llm.Message         `json:"messages"`
	LatencyMS     int64                 `json:"latency_ms"`
}

// Degraded reports whether any retriever failed.
func (d *Debug) Degraded() bool {
	return len(d.Failures) > 0
}

type GenerateResponse struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`
	Debug     *Debug `json:"debug"`
}

type SearchResult struct {
	Entities        []domain.Entity       `json:"entities"`
	VectorResults   []domain.RetrievalHit `json:"vector_results"`
	GraphResults    []domain.RetrievalHit `json:"graph_results"`
	EnhancedContext domain.FusedContext   `json:"enhanced_context"`
	Failures        []Failure             `json:"failures"`
}

func NewEngine(deps Dependencies, opts Options) *Engine {
	if opts.TopK < 1 {
		opts.TopK = 5
	}
	if opts.GraphDepth < 1 {
		opts.GraphDepth = 2
	}
	if opts.MaxEntities < 1 {
		opts.MaxEntities = 5
	}
	if opts.RetrievalTimeout <= 0 {
		opts.RetrievalTimeout = 3 * time.Second
	}
	return &Engine{
		deps:   deps,
		opts:   opts,
		tracer: otel.Tracer("github.com/fjwyyds6668/ai-tourguide/internal/rag"),
		now:    time.Now,
	}
}

// Generate answers one query. Retrieval failures degrade the context; only a
// generation failure or cancellation fails the request, and neither writes to
// the session.
func (e *Engine) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "rag.Generate", trace.WithAttributes(
		attribute.Bool("rag.use_rag", req.UseRAG),
		attribute.Bool("rag.has_session", req.SessionID != ""),
	))
	defer span.End()

	debug := &Debug{
		States:        []State{StateReceived},
		UseRAG:        req.UseRAG,
		Entities:      []domain.Entity{},
		VectorResults: []domain.RetrievalHit{},
		GraphResults:  []domain.RetrievalHit{},
		Failures:      []Failure{},
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		metrics.RequestsTotal.WithLabelValues("generate", "invalid").Inc()
		return nil, ErrEmptyQuery
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = session.NewID()
	}

	var history []domain.Turn
	if req.SessionID != "" {
		h, err := e.deps.Sessions.History(ctx, req.SessionID)
		if err != nil {
			logger.Warn("Failed to load session history", zap.String("session_id", req.SessionID), zap.Error(err))
		}
		history = h
	}

	var fused *domain.FusedContext
	if req.UseRAG {
		entities := e.deps.Extractor.Extract(query)
		debug.Entities = entities
		debug.States = append(debug.States, StateEntitiesExtracted)

		debug.States = append(debug.States, StateRetrieving)
		vectorHits, graphHits := e.retrieve(ctx, query, entities, debug)
		if err := ctx.Err(); err != nil {
			return nil, e.fail(span, debug, err)
		}

		debug.States = append(debug.States, StateFusing)
		fc := e.deps.Fuser.Fuse(query, vectorHits, graphHits, entities, e.opts.CharBudget)
		fused = &fc
		debug.Context = fused
		observeFusion(fc)
	}

	persona := e.persona(ctx, req.CharacterID)
	messages := buildMessages(persona, fused, history, e.opts.PromptHistoryTurns, query)
	debug.Messages = messages
	debug.States = append(debug.States, StatePromptAssembled)

	debug.States = append(debug.States, StateGenerating)
	genCtx, genSpan := e.tracer.Start(ctx, "rag.generate_answer")
	answer, err := e.deps.Generator.Complete(genCtx, messages)
	genSpan.End()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, e.fail(span, debug, ctxErr)
		}
		return nil, e.fail(span, debug, fmt.Errorf("%w: %w", ErrGeneration, err))
	}
	if err := ctx.Err(); err != nil {
		return nil, e.fail(span, debug, err)
	}

	now := e.now()
	if _, err := e.deps.Sessions.Append(ctx, sessionID,
		domain.Turn{Role: domain.RoleUser, Content: query, Timestamp: now},
		domain.Turn{Role: domain.RoleAssistant, Content: answer, Timestamp: now},
	); err != nil {
		// The answer is still good; the client may resend its session id.
		logger.Error("Failed to save session turns", zap.String("session_id", sessionID), zap.Error(err))
	}

	debug.States = append(debug.States, StateResponded)
	debug.LatencyMS = e.now().Sub(start).Milliseconds()

	e.record(ctx, req, query, answer, sessionID, debug)

	metrics.RequestDuration.WithLabelValues("generate").Observe(time.Since(start).Seconds())
	metrics.RequestsTotal.WithLabelValues("generate", "ok").Inc()
	span.SetAttributes(attribute.Bool("rag.degraded", debug.Degraded()))

	logger.Info("Query answered",
		zap.String("session_id", sessionID),
		zap.Bool("use_rag", req.UseRAG),
		zap.Int("vector_hits", len(debug.VectorResults)),
		zap.Int("graph_hits", len(debug.GraphResults)),
		zap.Bool("degraded", debug.Degraded()),
		zap.Int64("latency_ms", debug.LatencyMS),
	)

	return &GenerateResponse{Answer: answer, SessionID: sessionID, Debug: debug}, nil
}

// Search runs extraction, retrieval and fusion without generation.
func (e *Engine) Search(ctx context.Context, query string, topK int) (*SearchResult, error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "rag.Search")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if topK < 1 {
		topK = e.opts.TopK
	}

	debug := &Debug{Failures: []Failure{}}
	entities := e.deps.Extractor.Extract(query)
	vectorHits, graphHits := e.retrieveK(ctx, query, entities, topK, debug)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fused := e.deps.Fuser.Fuse(query, vectorHits, graphHits, entities, e.opts.CharBudget)
	observeFusion(fused)

	metrics.RequestDuration.WithLabelValues("search").Observe(time.Since(start).Seconds())
	metrics.RequestsTotal.WithLabelValues("search", "ok").Inc()

	return &SearchResult{
		Entities:        entities,
		VectorResults:   vectorHits,
		GraphResults:    graphHits,
		EnhancedContext: fused,
		Failures:        debug.Failures,
	}, nil
}

func (e *Engine) retrieve(ctx context.Context, query string, entities []domain.Entity, debug *Debug) ([]domain.RetrievalHit, []domain.RetrievalHit) {
	vectorHits, graphHits := e.retrieveK(ctx, query, entities, e.opts.TopK, debug)
	debug.VectorResults = vectorHits
	debug.GraphResults = graphHits
	return vectorHits, graphHits
}

// retrieveK runs both retrievers concurrently, each under its own timeout.
// Failures are recorded in debug and yield empty, non-nil hit slices.
func (e *Engine) retrieveK(ctx context.Context, query string, entities []domain.Entity, topK int, debug *Debug) ([]domain.RetrievalHit, []domain.RetrievalHit) {
	names := entity.Names(entities, e.opts.MaxEntities)

	var (
		vectorHits, graphHits []domain.RetrievalHit
		vectorErr, graphErr   error
	)

	// Neither goroutine returns an error, so one slow side never cancels
	// the other.
	var g errgroup.Group
	g.Go(func() error {
		vectorHits, vectorErr = e.timed(ctx, SourceVector, func(ctx context.Context) ([]domain.RetrievalHit, error) {
			return e.deps.Vector.Search(ctx, query, topK)
		})
		return nil
	})
	g.Go(func() error {
		graphHits, graphErr = e.timed(ctx, SourceGraph, func(ctx context.Context) ([]domain.RetrievalHit, error) {
			return e.deps.Graph.Search(ctx, names, e.opts.GraphDepth)
		})
		return nil
	})
	_ = g.Wait()

	if vectorErr != nil {
		vectorHits = []domain.RetrievalHit{}
		debug.Failures = append(debug.Failures, Failure{Source: SourceVector, Error: vectorErr.Error()})
	}
	if graphErr != nil {
		graphHits = []domain.RetrievalHit{}
		debug.Failures = append(debug.Failures, Failure{Source: SourceGraph, Error: graphErr.Error()})
	}
	if vectorErr != nil && graphErr != nil {
		debug.Failures = append(debug.Failures, Failure{Source: SourceBoth, Error: ErrBothRetrieversFailed.Error()})
		logger.Warn("Both retrievers failed, answering without context", zap.String("query", query))
	}
	return vectorHits, graphHits
}

func (e *Engine) timed(ctx context.Context, source string, fn func(ctx context.Context) ([]domain.RetrievalHit, error)) ([]domain.RetrievalHit, error) {
	ctx, span := e.tracer.Start(ctx, "rag.retrieve."+source)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, e.opts.RetrievalTimeout)
	defer cancel()

	start := time.Now()
	hits, err := fn(ctx)
	metrics.RetrievalDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RetrievalFailures.WithLabelValues(source).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("Retriever failed, degrading", zap.String("source", source), zap.Error(err))
		return nil, err
	}
	if hits == nil {
		hits = []domain.RetrievalHit{}
	}
	metrics.RetrievalHits.WithLabelValues(source).Observe(float64(len(hits)))
	span.SetAttributes(attribute.Int("rag.hits", len(hits)))
	return hits, nil
}

func (e *Engine) persona(ctx context.Context, characterID *int64) string {
	if characterID == nil || e.deps.Personas == nil {
		return e.opts.DefaultPersona
	}
	p, err := e.deps.Personas.Persona(ctx, *characterID)
	if err != nil || strings.TrimSpace(p) == "" {
		if err != nil {
			logger.Warn("Character persona unavailable, using default", zap.Int64("character_id", *characterID), zap.Error(err))
		}
		return e.opts.DefaultPersona
	}
	return p
}

func (e *Engine) record(ctx context.Context, req GenerateRequest, query, answer, sessionID string, debug *Debug) {
	if len(e.deps.Recorders) == 0 {
		return
	}
	typ := req.InteractionType
	if typ == "" {
		typ = models.InteractionTextQuery
	}
	in := &models.Interaction{
		SessionID:       sessionID,
		CharacterID:     req.CharacterID,
		QueryText:       query,
		ResponseText:    answer,
		InteractionType: typ,
		UseRAG:          req.UseRAG,
		VectorHits:      len(debug.VectorResults),
		GraphHits:       len(debug.GraphResults),
		Degraded:        debug.Degraded(),
		LatencyMS:       debug.LatencyMS,
		CreatedAt:       e.now(),
	}

	// The exchange already succeeded; a client disconnect should not lose
	// the log entry.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	for _, r := range e.deps.Recorders {
		if err := r.RecordInteraction(ctx, in); err != nil {
			logger.Warn("Failed to record interaction", zap.Error(err))
		}
	}
}

func (e *Engine) fail(span trace.Span, debug *Debug, err error) error {
	debug.States = append(debug.States, StateFailed)
	status := "failed"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = "cancelled"
	}
	metrics.RequestsTotal.WithLabelValues("generate", status).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Warn("Query failed", zap.String("status", status), zap.Error(err))
	return err
}

func observeFusion(fc domain.FusedContext) {
	if fc.Empty {
		metrics.EmptyContexts.Inc()
	}
	metrics.FusedContextChars.Observe(float64(len([]rune(fc.Text))))
	metrics.FusionDropped.Add(float64(fc.Dropped))
}
