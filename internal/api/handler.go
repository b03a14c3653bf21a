package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"slothive/internal/hive"
	"slothive/internal/notification"
	"slothive/internal/store"
)

// Coordinator is the hub surface the REST API drives.
type Coordinator interface {
	Snapshot() []hive.ClientInfo
	Count() int
	SendTo(clientID string, frame []byte) error
	Broadcast(frame []byte)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	hub      Coordinator
	store    store.Store
	notifier *notification.WorkerPool
	vapidPub string
	started  time.Time
}

// NewHandler creates a new API handler.
func NewHandler(hub Coordinator, s store.Store, notifier *notification.WorkerPool, vapidPub string) *Handler {
	return &Handler{
		hub:      hub,
		store:    s,
		notifier: notifier,
		vapidPub: vapidPub,
		started:  time.Now().UTC(),
	}
}

// GetHealth reports liveness plus the connected hunter count.
func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"clients": h.hub.Count(),
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}
