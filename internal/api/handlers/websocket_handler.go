package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fjwyyds6668/ai-tourguide/internal/middleware/validation"
	"github.com/fjwyyds6668/ai-tourguide/pkg/logger"
)

type WebSocketHandler struct {
	rag     *RAGHandler
	timeout time.Duration
}

func NewWebSocketHandler(rag *RAGHandler, timeout time.Duration) *WebSocketHandler {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &WebSocketHandler{rag: rag, timeout: timeout}
}

type wsError struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// HandleConnection answers each request frame with exactly one response
// frame until the client disconnects.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")
	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		_, payload, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		reply := h.Respond(ctx, payload)
		cancel()

		if err := c.WriteJSON(reply); err != nil {
			logger.Warn("Failed to write WebSocket message", zap.Error(err))
			return
		}
	}
}

// Respond turns one request frame into one response frame.
func (h *WebSocketHandler) Respond(ctx context.Context, payload []byte) any {
	var req GenerateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errorFrame(fmt.Errorf("%w: malformed frame: %v", validation.ErrInvalid, err))
	}
	if err := validation.Struct(&req); err != nil {
		return errorFrame(err)
	}
	if err := h.rag.checkLength(req.Query); err != nil {
		return errorFrame(err)
	}

	resp, err := h.rag.engine.Generate(ctx, req.toEngine())
	if err != nil {
		logger.Warn("WebSocket query failed", zap.Error(err))
		return errorFrame(err)
	}
	return resp
}

func errorFrame(err error) wsError {
	return wsError{Error: err.Error(), Status: statusFor(err)}
}
