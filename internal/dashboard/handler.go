package dashboard

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Noob4Eternity/chokidar/internal/daemon"
)

// Handler turns daemon pass reports into dashboard messages.
type Handler struct {
	server *Server
	logger *slog.Logger
}

// NewHandler creates a handler that publishes through server.
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{server: server, logger: logger}
}

// OnPass implements daemon.Observer. It only queues the message.
func (h *Handler) OnPass(report daemon.PassReport) {
	data, err := json.Marshal(report)
	if err != nil {
		h.logger.Error("failed to marshal pass report", "error", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypePass,
		Timestamp: time.Now(),
		Data:      data,
	})
}

var _ daemon.Observer = (*Handler)(nil)
