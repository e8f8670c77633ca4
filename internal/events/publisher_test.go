package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjwyyds6668/ai-tourguide/internal/storage/models"
)

type fakeStream struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subject, f.data = subject, data
	return &jetstream.PubAck{Stream: StreamName, Sequence: 1}, nil
}

func TestRecordInteraction(t *testing.T) {
	stream := &fakeStream{}
	p := &Publisher{js: stream}

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	err := p.RecordInteraction(context.Background(), &models.Interaction{
		SessionID:       "s1",
		QueryText:       "故宫几点开门",
		ResponseText:    "八点半。",
		InteractionType: models.InteractionTextQuery,
		UseRAG:          true,
		VectorHits:      3,
		Degraded:        true,
		CreatedAt:       at,
	})
	require.NoError(t, err)
	assert.Equal(t, SubjectInteraction, stream.subject)

	var ev InteractionEvent
	require.NoError(t, json.Unmarshal(stream.data, &ev))
	assert.Equal(t, "s1", ev.SessionID)
	assert.Equal(t, "text_query", ev.InteractionType)
	assert.Equal(t, 3, ev.VectorHits)
	assert.True(t, ev.Degraded)
	assert.True(t, at.Equal(ev.OccurredAt))
}

func TestRecordInteractionError(t *testing.T) {
	p := &Publisher{js: &fakeStream{err: errors.New("no responders")}}
	err := p.RecordInteraction(context.Background(), &models.Interaction{SessionID: "s"})
	assert.ErrorContains(t, err, SubjectInteraction)
}
