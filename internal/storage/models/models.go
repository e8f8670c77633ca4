package models

import "time"

// KnowledgeDocument is an uploaded source document, split into chunks.
type KnowledgeDocument struct {
	ID          string
	Title       string
	Source      string
	ContentType string
	ChunkCount  int
	CreatedAt   time.Time
}

// KnowledgeChunk is the relational copy of an indexed passage; the vector
// index stores only its text_id and embedding.
type KnowledgeChunk struct {
	TextID     string
	DocID      string
	ChunkIndex int
	Text       string
	Metadata   map[string]any
	CreatedAt  time.Time
}

type Attraction struct {
	ID          int64
	Name        string
	Description string
	Location    string
	Latitude    *float64
	Longitude   *float64
	Category    string
	CreatedAt   time.Time
}

// Character is a guide persona selectable per request.
type Character struct {
	ID          int64
	Name        string
	Description string
	Style       string
	Prompt      string
	Voice       string
	IsActive    bool
	CreatedAt   time.Time
}

type InteractionType string

const (
	InteractionTextQuery  InteractionType = "text_query"
	InteractionVoiceQuery InteractionType = "voice_query"
)

// Interaction logs one completed exchange.
type Interaction struct {
	ID              int64           `json:"id"`
	SessionID       string          `json:"session_id"`
	CharacterID     *int64          `json:"character_id,omitempty"`
	QueryText       string          `json:"query_text"`
	ResponseText    string          `json:"response_text"`
	InteractionType InteractionType `json:"interaction_type"`
	UseRAG          bool            `json:"use_rag"`
	VectorHits      int             `json:"vector_hits"`
	GraphHits       int             `json:"graph_hits"`
	Degraded        bool            `json:"degraded"`
	LatencyMS       int64           `json:"latency_ms"`
	CreatedAt       time.Time       `json:"created_at"`
}
