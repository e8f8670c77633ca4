// Package events publishes completed interactions to NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/storage/models"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

const (
	StreamName         = "TOURGUIDE"
	SubjectInteraction = "tourguide.interaction.completed"
)

// InteractionEvent is the payload of SubjectInteraction.
type InteractionEvent struct {
	SessionID       string    `json:"session_id"`
	CharacterID     *int64    `json:"character_id,omitempty"`
	Query           string    `json:"query"`
	Answer          string    `json:"answer"`
	InteractionType string    `json:"interaction_type"`
	UseRAG          bool      `json:"use_rag"`
	VectorHits      int       `json:"vector_hits"`
	GraphHits       int       `json:"graph_hits"`
	Degraded        bool      `json:"degraded"`
	LatencyMS       int64     `json:"latency_ms"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func NewInteractionEvent(in *models.Interaction) InteractionEvent {
	return InteractionEvent{
		SessionID:       in.SessionID,
		CharacterID:     in.CharacterID,
		Query:           in.QueryText,
		Answer:          in.ResponseText,
		InteractionType: string(in.InteractionType),
		UseRAG:          in.UseRAG,
		VectorHits:      in.VectorHits,
		GraphHits:       in.GraphHits,
		Degraded:        in.Degraded,
		LatencyMS:       in.LatencyMS,
		OccurredAt:      in.CreatedAt,
	}
}

// streamPublisher is the slice of jetstream.JetStream used here.
type streamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

type Publisher struct {
	nc *nats.Conn
	js streamPublisher
}

func NewPublisher(ctx context.Context, url string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"tourguide.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		logger.Warn("Failed to ensure NATS stream", zap.String("stream", StreamName), zap.Error(err))
	}

	logger.Info("NATS publisher initialized", zap.String("url", url))
	return &Publisher{nc: nc, js: js}, nil
}

// RecordInteraction publishes the exchange for downstream consumers.
func (p *Publisher) RecordInteraction(ctx context.Context, in *models.Interaction) error {
	data, err := json.Marshal(NewInteractionEvent(in))
	if err != nil {
		return fmt.Errorf("failed to marshal interaction event: %w", err)
	}
	if _, err := p.js.Publish(ctx, SubjectInteraction, data); err != nil {
		return fmt.Errorf("failed to publish event to subject %s: %w", SubjectInteraction, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
