package neo4j

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

// Mention links a passage to an entity it names.
type Mention struct {
	Name       string
	Type       domain.EntityType
	Confidence float64
}

// AttractionNode is the graph view of an attraction row. Locations runs
// from the coarsest division to the finest.
type AttractionNode struct {
	Name        string
	Category    string
	Locations   []string
	Description string
	TextID      string
}

func (c *Client) EnsureConstraints(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT text_id IF NOT EXISTS FOR (t:Text) REQUIRE t.id IS UNIQUE`,
		`CREATE CONSTRAINT entity_name IF NOT EXISTS FOR (e:Entity) REQUIRE e.name IS UNIQUE`,
		`CREATE CONSTRAINT attraction_name IF NOT EXISTS FOR (a:Attraction) REQUIRE a.name IS UNIQUE`,
		`CREATE CONSTRAINT category_name IF NOT EXISTS FOR (c:Category) REQUIRE c.name IS UNIQUE`,
		`CREATE CONSTRAINT location_name IF NOT EXISTS FOR (l:Location) REQUIRE l.name IS UNIQUE`,
	}
	for _, stmt := range statements {
		if err := c.write(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to create constraint: %w", err)
		}
	}
	return nil
}

// LinkMentions merges the passage node and its entity nodes, then links them
// with MENTIONS.
func (c *Client) LinkMentions(ctx context.Context, textID, docID string, mentions []Mention) error {
	rows := make([]map[string]any, 0, len(mentions))
	for _, m := range mentions {
		rows = append(rows, map[string]any{
			"name":       m.Name,
			"type":       string(m.Type),
			"confidence": m.Confidence,
		})
	}

	query := `
		MERGE (t:Text {id: $text_id})
		SET t.doc_id = $doc_id
		WITH t
		UNWIND $mentions AS m
		MERGE (e:Entity {name: m.name})
		ON CREATE SET e.type = m.type, e.created_at = timestamp()
		MERGE (t)-[r:MENTIONS]->(e)
		SET r.confidence = m.confidence
	`
	err := c.write(ctx, query, map[string]any{
		"text_id":  textID,
		"doc_id":   docID,
		"mentions": rows,
	})
	if err != nil {
		return fmt.Errorf("failed to link mentions: %w", err)
	}

	logger.Debug("Mentions linked in KG", zap.String("text_id", textID), zap.Int("entities", len(mentions)))
	return nil
}

// RelateEntities connects entities that co-occur in one passage.
func (c *Client) RelateEntities(ctx context.Context, names []string, textID string) error {
	if len(names) < 2 {
		return nil
	}
	query := `
		UNWIND $names AS a_name
		UNWIND $names AS b_name
		WITH a_name, b_name WHERE a_name < b_name
		MATCH (a:Entity {name: a_name}), (b:Entity {name: b_name})
		MERGE (a)-[r:RELATED_TO]->(b)
		ON CREATE SET r.sources = []
		SET r.sources = CASE WHEN $text_id IN r.sources THEN r.sources ELSE r.sources + $text_id END
	`
	if err := c.write(ctx, query, map[string]any{"names": names, "text_id": textID}); err != nil {
		return fmt.Errorf("failed to relate entities: %w", err)
	}
	return nil
}

// MergeAttraction writes an attraction with its category, its describing
// passage and a 隶属 chain of locations. The attraction is 位于 the finest
// location; earlier 位于 edges are replaced.
func (c *Client) MergeAttraction(ctx context.Context, a AttractionNode) error {
	query := `
		MERGE (a:Attraction {name: $name})
		SET a.description = $description, a.text_id = $text_id
		WITH a
		OPTIONAL MATCH (a)-[old:` + "`位于`" + `]->()
		DELETE old
		WITH DISTINCT a
		FOREACH (_ IN CASE WHEN $category <> '' THEN [1] ELSE [] END |
			MERGE (c:Category {name: $category})
			MERGE (a)-[:HAS_CATEGORY]->(c))
		FOREACH (_ IN CASE WHEN $text_id <> '' THEN [1] ELSE [] END |
			MERGE (t:Text {id: $text_id})
			MERGE (t)-[:DESCRIBES]->(a))
		WITH a
		UNWIND range(0, size($locations) - 1) AS i
		MERGE (l:Location {name: $locations[i]})
		FOREACH (_ IN CASE WHEN i > 0 THEN [1] ELSE [] END |
			MERGE (parent:Location {name: $locations[i - 1]})
			MERGE (l)-[:` + "`隶属`" + `]->(parent))
		FOREACH (_ IN CASE WHEN i = size($locations) - 1 THEN [1] ELSE [] END |
			MERGE (a)-[:` + "`位于`" + `]->(l))
	`
	locations := a.Locations
	if locations == nil {
		locations = []string{}
	}
	err := c.write(ctx, query, map[string]any{
		"name":        a.Name,
		"description": a.Description,
		"text_id":     a.TextID,
		"category":    a.Category,
		"locations":   locations,
	})
	if err != nil {
		return fmt.Errorf("failed to merge attraction %s: %w", a.Name, err)
	}
	return nil
}

// LinkNearby joins attractions that share a category.
func (c *Client) LinkNearby(ctx context.Context) error {
	query := `
		MATCH (a:Attraction)-[:HAS_CATEGORY]->(:Category)<-[:HAS_CATEGORY]-(b:Attraction)
		WHERE a.name < b.name
		MERGE (a)-[:NEARBY]->(b)
	`
	if err := c.write(ctx, query, nil); err != nil {
		return fmt.Errorf("failed to link nearby attractions: %w", err)
	}
	return nil
}

// DeleteTexts removes passage nodes and any entity left unreferenced.
func (c *Client) DeleteTexts(ctx context.Context, textIDs []string) error {
	if len(textIDs) == 0 {
		return nil
	}
	query := `
		MATCH (t:Text) WHERE t.id IN $ids
		OPTIONAL MATCH (t)-[:MENTIONS]->(e:Entity)
		DETACH DELETE t
		WITH DISTINCT e
		WHERE e IS NOT NULL AND NOT (e)<-[:MENTIONS]-()
		DETACH DELETE e
	`
	if err := c.write(ctx, query, map[string]any{"ids": textIDs}); err != nil {
		return fmt.Errorf("failed to delete texts: %w", err)
	}
	logger.Debug("Texts removed from KG", zap.Int("count", len(textIDs)))
	return nil
}
