// Package domain holds the records that flow between extraction, retrieval,
// fusion and the conversation store.
package domain

import (
	"fmt"
	"time"
)

type Source string

const (
	SourceVector Source = "VECTOR"
	SourceGraph  Source = "GRAPH"
)

type EntityType string

const (
	EntityLocation EntityType = "LOCATION"
	EntityPerson   EntityType = "PERSON"
	EntityOrg      EntityType = "ORG"
	EntityOther    EntityType = "OTHER"
	EntityKeyword  EntityType = "KEYWORD"
)

// Entity is a candidate named entity found in an utterance. Offset is the
// byte offset of its first appearance.
type Entity struct {
	Text       string     `json:"text"`
	Type       EntityType `json:"type"`
	Confidence float64    `json:"confidence"`
	Offset     int        `json:"offset"`
}

// KnowledgeChunk is an indexed passage. It is immutable once indexed.
type KnowledgeChunk struct {
	TextID    string         `json:"text_id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"-"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ScoredID is one raw nearest-neighbour result. Higher Score is more similar.
type ScoredID struct {
	ID    string
	Score float64
}

type GraphNode struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Name is the node's display name, falling back to its id.
func (n GraphNode) Name() string {
	if v, ok := n.Properties["name"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return n.ID
}

type GraphEdge struct {
	From       string         `json:"from"`
	To         string         `json:"to"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Relation is one (node, node, relation) triple from the graph store.
// Anchors lists the query entities it was reached from.
type Relation struct {
	From       GraphNode `json:"from"`
	To         GraphNode `json:"to"`
	Type       string    `json:"type"`
	FromDegree int       `json:"from_degree"`
	ToDegree   int       `json:"to_degree"`
	Anchors    []string  `json:"anchors,omitempty"`
}

// Key identifies the directed edge.
func (r Relation) Key() string {
	return r.From.ID + "|" + r.Type + "|" + r.To.ID
}

// UndirectedKey is equal for (A,B,REL) and (B,A,REL).
func (r Relation) UndirectedKey() string {
	a, b := r.From.ID, r.To.ID
	if b < a {
		a, b = b, a
	}
	return a + "|" + r.Type + "|" + b
}

// Render formats the relation for the model prompt.
func (r Relation) Render() string {
	return fmt.Sprintf("[实体关系] %s -[%s]-> %s", r.From.Name(), r.Type, r.To.Name())
}

// RetrievalHit exists for the duration of one query. Ref is the text_id of a
// vector hit or the directed edge key of a graph hit. Graph hits are unscored.
type RetrievalHit struct {
	Source   Source    `json:"source"`
	Ref      string    `json:"ref"`
	Score    float64   `json:"score"`
	Payload  string    `json:"payload"`
	Relation *Relation `json:"relation,omitempty"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// FusedContext is the bounded context handed to generation.
type FusedContext struct {
	Entities   []string       `json:"entities"`
	VectorHits []RetrievalHit `json:"vector_hits"`
	GraphHits  []RetrievalHit `json:"graph_hits"`
	Text       string         `json:"text"`
	// Empty is set when Text is the no-context marker.
	Empty bool `json:"empty"`
	// Dropped counts candidates that did not fit the budget.
	Dropped int `json:"dropped"`
}
