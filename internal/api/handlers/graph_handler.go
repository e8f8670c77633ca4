package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/fjwyyds6668/ai-tourguide/internal/kg/neo4j"
	"github.com/fjwyyds6668/ai-tourguide/internal/middleware/validation"
)

const subgraphLimit = 200

type GraphInspector interface {
	Subgraph(ctx context.Context, entities []string, depth, limit int) (*neo4j.Subgraph, error)
	Stats(ctx context.Context) (*neo4j.Stats, error)
}

type GraphHandler struct {
	graph        GraphInspector
	defaultDepth int
}

func NewGraphHandler(graph GraphInspector, defaultDepth int) *GraphHandler {
	if defaultDepth < 1 || defaultDepth > neo4j.MaxDepth {
		defaultDepth = 2
	}
	return &GraphHandler{graph: graph, defaultDepth: defaultDepth}
}

// Subgraph serves GET /graph/subgraph?entities=a,b&depth=2.
func (h *GraphHandler) Subgraph(c *fiber.Ctx) error {
	var entities []string
	for _, e := range strings.Split(c.Query("entities"), ",") {
		if e = validation.Sanitize(e); e != "" {
			entities = append(entities, e)
		}
	}
	if len(entities) == 0 {
		return respondError(c, "subgraph", fmt.Errorf("%w: entities is required", validation.ErrInvalid))
	}

	depth := c.QueryInt("depth", h.defaultDepth)
	if depth < 1 || depth > neo4j.MaxDepth {
		return respondError(c, "subgraph", fmt.Errorf("%w: depth must be in [1,%d]", validation.ErrInvalid, neo4j.MaxDepth))
	}

	sg, err := h.graph.Subgraph(c.UserContext(), entities, depth, subgraphLimit)
	if err != nil {
		return respondError(c, "subgraph", err)
	}
	return c.JSON(fiber.Map{
		"entities": entities,
		"depth":    depth,
		"nodes":    sg.Nodes,
		"edges":    sg.Edges,
	})
}

func (h *GraphHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.graph.Stats(c.UserContext())
	if err != nil {
		return respondError(c, "graph_stats", err)
	}
	return c.JSON(stats)
}
