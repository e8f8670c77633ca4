package neo4j

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/domain"
	"github.com/fjwyyds6668/ai-tourguide/internal/metrics"
	"github.com/fjwyyds6668/ai-tourguide/pkg/circuitbreaker"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
	"github.com/fjwyyds6668/ai-tourguide/pkg/retry"
)

// MaxDepth bounds variable-length traversals.
const MaxDepth = 4

type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.Breaker
	retryPolicy retry.Policy
}

// Stats counts nodes by label and relationships by type.
type Stats struct {
	Nodes         map[string]int64 `json:"nodes"`
	Relationships map[string]int64 `json:"relationships"`
}

// Subgraph is the neighbourhood of a set of entities.
type Subgraph struct {
	Nodes []domain.GraphNode `json:"nodes"`
	Edges []domain.GraphEdge `json:"edges"`
}

func NewClient(ctx context.Context, uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	if database == "" {
		database = "neo4j"
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:   driver,
		database: database,
		cb: circuitbreaker.New("neo4j", circuitbreaker.Settings{
			MaxRequests:      3,
			Interval:         time.Minute,
			OpenTimeout:      20 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OnStateChange:    metrics.BreakerStateChanged,
			Logger:           logger.GetLogger(),
		}),
		retryPolicy: retry.Policy{
			MaxAttempts:    3,
			InitialDelay:   200 * time.Millisecond,
			MaxDelay:       3 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) Ping(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// read runs a query on the request path: breaker, no retry.
func (c *Client) read(ctx context.Context, operation func(ctx context.Context, session neo4j.SessionWithContext) error) error {
	return c.cb.Call(ctx, func(ctx context.Context) error {
		session := c.driver.NewSession(ctx, neo4j.SessionConfig{
			DatabaseName: c.database,
			AccessMode:   neo4j.AccessModeRead,
		})
		defer session.Close(ctx)
		return operation(ctx, session)
	})
}

// write runs an ingestion query with retry.
func (c *Client) write(ctx context.Context, query string, params map[string]any) error {
	return retry.Do(ctx, c.retryPolicy, func(ctx context.Context) error {
		session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
		defer session.Close(ctx)

		result, err := session.Run(ctx, query, params)
		if err != nil {
			return err
		}
		_, err = result.Consume(ctx)
		return err
	})
}

// Relations returns edges within depth hops of nodes whose name equals or
// contains one of the entities. Paths through Text nodes are ingestion
// bookkeeping and never returned. Order is stable for identical graph state.
func (c *Client) Relations(ctx context.Context, entities []string, depth, limit int) ([]domain.Relation, error) {
	if len(entities) == 0 {
		return []domain.Relation{}, nil
	}
	if depth < 1 || depth > MaxDepth {
		return nil, fmt.Errorf("depth must be in [1,%d], got %d", MaxDepth, depth)
	}

	// Variable-length bounds cannot be parameters; depth is validated above.
	query := fmt.Sprintf(`
		MATCH (a)
		WHERE NOT a:Text
		  AND (a.name IN $entities OR any(e IN $entities WHERE a.name CONTAINS e))
		MATCH p = (a)-[*1..%d]-(b)
		WHERE none(x IN nodes(p) WHERE x:Text)
		UNWIND relationships(p) AS r
		WITH r, collect(DISTINCT a.name) AS anchors, min(length(p)) AS hops
		WITH r, anchors, hops, startNode(r) AS s, endNode(r) AS t
		RETURN s, t, type(r) AS rel_type, anchors,
		       size([(s)--() | 1]) AS s_degree,
		       size([(t)--() | 1]) AS t_degree
		ORDER BY hops, rel_type, elementId(s), elementId(t)
		LIMIT $limit
	`, depth)

	var relations []domain.Relation
	err := c.read(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx, query, map[string]any{
			"entities": entities,
			"limit":    limit,
		})
		if err != nil {
			return fmt.Errorf("failed to query relations: %w", err)
		}

		relations = relations[:0]
		for result.Next(ctx) {
			record := result.Record()

			s, _, err := neo4j.GetRecordValue[neo4j.Node](record, "s")
			if err != nil {
				return fmt.Errorf("failed to read start node: %w", err)
			}
			t, _, err := neo4j.GetRecordValue[neo4j.Node](record, "t")
			if err != nil {
				return fmt.Errorf("failed to read end node: %w", err)
			}
			relType, _, err := neo4j.GetRecordValue[string](record, "rel_type")
			if err != nil {
				return fmt.Errorf("failed to read relation type: %w", err)
			}
			sDegree, _, _ := neo4j.GetRecordValue[int64](record, "s_degree")
			tDegree, _, _ := neo4j.GetRecordValue[int64](record, "t_degree")
			rawAnchors, _, _ := neo4j.GetRecordValue[[]any](record, "anchors")

			relations = append(relations, domain.Relation{
				From:       toGraphNode(s),
				To:         toGraphNode(t),
				Type:       relType,
				FromDegree: int(sDegree),
				ToDegree:   int(tDegree),
				Anchors:    toStrings(rawAnchors),
			})
		}

		if err := result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("KG relation query completed",
		zap.Int("num_entities", len(entities)),
		zap.Int("depth", depth),
		zap.Int("results_found", len(relations)),
	)
	return relations, nil
}

// Subgraph collects the nodes and edges touched by Relations.
func (c *Client) Subgraph(ctx context.Context, entities []string, depth, limit int) (*Subgraph, error) {
	relations, err := c.Relations(ctx, entities, depth, limit)
	if err != nil {
		return nil, err
	}
	return BuildSubgraph(relations), nil
}

// BuildSubgraph flattens relations into unique nodes and edges.
func BuildSubgraph(relations []domain.Relation) *Subgraph {
	sg := &Subgraph{Nodes: []domain.GraphNode{}, Edges: []domain.GraphEdge{}}
	seenNode := map[string]bool{}
	seenEdge := map[string]bool{}
	for _, r := range relations {
		for _, n := range []domain.GraphNode{r.From, r.To} {
			if !seenNode[n.ID] {
				seenNode[n.ID] = true
				sg.Nodes = append(sg.Nodes, n)
			}
		}
		if seenEdge[r.Key()] {
			continue
		}
		seenEdge[r.Key()] = true
		sg.Edges = append(sg.Edges, domain.GraphEdge{From: r.From.ID, To: r.To.ID, Type: r.Type})
	}
	return sg
}

func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Nodes: map[string]int64{}, Relationships: map[string]int64{}}

	err := c.read(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		if err := collectCounts(ctx, session, `
			MATCH (n) UNWIND labels(n) AS label
			RETURN label AS key, count(*) AS n`, stats.Nodes); err != nil {
			return fmt.Errorf("failed to count nodes: %w", err)
		}
		if err := collectCounts(ctx, session, `
			MATCH ()-[r]->()
			RETURN type(r) AS key, count(*) AS n`, stats.Relationships); err != nil {
			return fmt.Errorf("failed to count relationships: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func collectCounts(ctx context.Context, session neo4j.SessionWithContext, query string, into map[string]int64) error {
	result, err := session.Run(ctx, query, nil)
	if err != nil {
		return err
	}
	for result.Next(ctx) {
		key, _, _ := neo4j.GetRecordValue[string](result.Record(), "key")
		n, _, _ := neo4j.GetRecordValue[int64](result.Record(), "n")
		into[key] = n
	}
	return result.Err()
}

// EntityNames lists named nodes usable as extractor gazetteer terms.
func (c *Client) EntityNames(ctx context.Context) (map[string]domain.EntityType, error) {
	names := map[string]domain.EntityType{}

	err := c.read(ctx, func(ctx context.Context, session neo4j.SessionWithContext) error {
		result, err := session.Run(ctx, `
			MATCH (n)
			WHERE n.name IS NOT NULL AND NOT n:Text
			RETURN n.name AS name, labels(n) AS labels, n.type AS type
			ORDER BY name
		`, nil)
		if err != nil {
			return fmt.Errorf("failed to get entity names: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()
			name, _, _ := neo4j.GetRecordValue[string](record, "name")
			if name == "" {
				continue
			}
			labels, _, _ := neo4j.GetRecordValue[[]any](record, "labels")
			typ, _, _ := neo4j.GetRecordValue[string](record, "type")
			names[name] = entityTypeOf(toStrings(labels), typ)
		}
		return result.Err()
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func entityTypeOf(labels []string, typ string) domain.EntityType {
	for _, l := range labels {
		switch l {
		case "Attraction", "Location":
			return domain.EntityLocation
		case "Person":
			return domain.EntityPerson
		}
	}
	switch t := domain.EntityType(typ); t {
	case domain.EntityLocation, domain.EntityPerson, domain.EntityOrg, domain.EntityKeyword:
		return t
	}
	return domain.EntityOther
}

func toGraphNode(n neo4j.Node) domain.GraphNode {
	labels := append([]string(nil), n.Labels...)
	sort.Strings(labels)
	return domain.GraphNode{
		ID:         n.ElementId,
		Labels:     labels,
		Properties: n.Props,
	}
}

func toStrings(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
