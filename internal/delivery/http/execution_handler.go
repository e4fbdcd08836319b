package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Harsh-BH/warden/internal/domain"
	"github.com/Harsh-BH/warden/internal/interactive"
)

// ExecutionRegistry is the part of interactive.Registry the gateway uses.
type ExecutionRegistry interface {
	Spawn(ctx context.Context, req interactive.SpawnRequest) (string, error)
	Attach(id string) (*interactive.Subscription, error)
	Info(id string) (interactive.Info, error)
	WriteInput(id, text string) error
	Kill(id string) error
}

var _ ExecutionRegistry = (*interactive.Registry)(nil)

// ExecutionHandler serves interactive executions.
type ExecutionHandler struct {
	registry ExecutionRegistry
	logger   *zap.Logger
}

// NewExecutionHandler creates a new ExecutionHandler.
func NewExecutionHandler(registry ExecutionRegistry, logger *zap.Logger) *ExecutionHandler {
	return &ExecutionHandler{registry: registry, logger: logger}
}

type executionRequest struct {
	Room     string `json:"room"`
	Kind     string `json:"kind" binding:"required"`
	Command  string `json:"command"`
	FileName string `json:"file_name"`
	Code     string `json:"code"`
}

func (r executionRequest) toSpawn() interactive.SpawnRequest {
	return interactive.SpawnRequest{
		Room:     r.Room,
		Kind:     interactive.Kind(r.Kind),
		Command:  r.Command,
		FileName: r.FileName,
		Source:   r.Code,
	}
}

type inputRequest struct {
	Input string `json:"input"`
}

// Create handles POST /api/v1/executions
func (h *ExecutionHandler) Create(c *gin.Context) {
	var req executionRequest
	if !bindJSON(c, &req) {
		return
	}

	id, err := h.registry.Spawn(c.Request.Context(), req.toSpawn())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCommandNotAllowed),
			errors.Is(err, interactive.ErrInvalidKind),
			errors.Is(err, interactive.ErrMissingSource):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, interactive.ErrClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service shutting down"})
		default:
			h.logger.Error("Spawn interactive execution failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"execution_id": id})
}

// Input handles POST /api/v1/executions/:id/input
func (h *ExecutionHandler) Input(c *gin.Context) {
	var req inputRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.registry.WriteInput(c.Param("id"), req.Input); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Delete handles DELETE /api/v1/executions/:id
func (h *ExecutionHandler) Delete(c *gin.Context) {
	if err := h.registry.Kill(c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *ExecutionHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrExecutionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Execution not found"})
	case errors.Is(err, domain.ErrProcessExited):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Interactive execution request failed",
			zap.String("execution_id", c.Param("id")),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// Stream handles GET /api/v1/executions/:id/stream. Process events are sent
// as JSON text frames; frames of the form {"input": "..."} go to stdin.
func (h *ExecutionHandler) Stream(c *gin.Context) {
	id := c.Param("id")

	if _, err := h.registry.Info(id); err != nil {
		h.writeError(c, err)
		return
	}
	// Attaching consumes the replay buffer, so only a completed handshake may
	// do it.
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "WebSocket upgrade required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub, err := h.registry.Attach(id)
	if err != nil {
		// Evicted between the lookup and the handshake.
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "execution not found"))
		return
	}
	defer sub.Close()

	log := h.logger.With(zap.String("execution_id", id))
	log.Debug("Interactive stream attached")

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("Interactive stream read failed", zap.Error(err))
				}
				return
			}
			var msg inputRequest
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Debug("Ignoring malformed stream frame", zap.Error(err))
				continue
			}
			if err := h.registry.WriteInput(id, msg.Input); err != nil {
				log.Debug("Dropped stream input", zap.Error(err))
			}
		}
	}()

	for {
		select {
		case <-gone:
			log.Debug("Interactive stream client disconnected")
			return
		case evt, ok := <-sub.Events():
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "execution evicted"))
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				log.Debug("WebSocket write failed (client disconnected)", zap.Error(err))
				return
			}
			if evt.Type == interactive.EventExit {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "exited"))
				return
			}
		}
	}
}
