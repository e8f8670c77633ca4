package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

type DocumentProcessor interface {
	Process(ctx context.Context, doc Document) (*Result, error)
}

// Queue hands uploaded documents to a background consumer.
type Queue struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	processor  DocumentProcessor
}

func NewQueue(publisher message.Publisher, subscriber message.Subscriber, topic string, processor DocumentProcessor) *Queue {
	return &Queue{
		publisher:  publisher,
		subscriber: subscriber,
		topic:      topic,
		processor:  processor,
	}
}

// Enqueue publishes doc and returns its id.
func (q *Queue) Enqueue(_ context.Context, doc Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := q.publisher.Publish(q.topic, msg); err != nil {
		return "", fmt.Errorf("failed to publish document: %w", err)
	}

	logger.Info("Document queued", zap.String("doc_id", doc.ID), zap.String("topic", q.topic))
	return doc.ID, nil
}

// Consume subscribes to the topic and processes messages until ctx ends.
func (q *Queue) Consume(ctx context.Context) error {
	messages, err := q.subscriber.Subscribe(ctx, q.topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", q.topic, err)
	}

	go func() {
		for msg := range messages {
			q.handle(ctx, msg)
		}
	}()
	return nil
}

func (q *Queue) handle(ctx context.Context, msg *message.Message) {
	var doc Document
	if err := json.Unmarshal(msg.Payload, &doc); err != nil {
		logger.Error("Failed to unmarshal document message", zap.String("message_id", msg.UUID), zap.Error(err))
		msg.Ack()
		return
	}

	// The processor retries transient failures itself; a redelivery would
	// only repeat them.
	if _, err := q.processor.Process(ctx, doc); err != nil {
		logger.Error("Failed to ingest document", zap.String("doc_id", doc.ID), zap.Error(err))
	}
	msg.Ack()
}
