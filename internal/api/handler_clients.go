package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"slothive/internal/notification"
	"slothive/internal/protocol"
	"slothive/internal/slot"
)

type commandRequest struct {
	Command string            `json:"command" binding:"required"`
	Param   string            `json:"param"`
	Slots   []slot.Descriptor `json:"slots"`
}

var knownCommands = map[string]bool{
	protocol.CommandStartHunt:      true,
	protocol.CommandStopHunt:       true,
	protocol.CommandFireSniper:     true,
	protocol.CommandRotateIdentity: true,
}

// GetClients lists every connected hunter with its status and counters.
func (h *Handler) GetClients(c *gin.Context) {
	infos := h.hub.Snapshot()
	c.JSON(http.StatusOK, gin.H{"count": len(infos), "clients": infos})
}

// PostCommand forwards a command to one hunter.
func (h *Handler) PostCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !knownCommands[req.Command] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command " + req.Command})
		return
	}

	frame, err := protocol.Encode(protocol.TypeCommand, protocol.CommandPayload{
		Command: req.Command,
		Param:   req.Param,
		Slots:   req.Slots,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.hub.SendTo(c.Param("clientId"), frame); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

// PostBroadcast forwards a command to every hunter.
func (h *Handler) PostBroadcast(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !knownCommands[req.Command] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown command " + req.Command})
		return
	}

	frame, err := protocol.Encode(protocol.TypeCommand, protocol.CommandPayload{
		Command: req.Command,
		Param:   req.Param,
		Slots:   req.Slots,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.hub.Broadcast(frame)
	c.JSON(http.StatusAccepted, gin.H{"clients": h.hub.Count()})
}

type notifyRequest struct {
	Message string `json:"message" binding:"required"`
}

// PostNotify pushes a manual message through the notification channels.
func (h *Handler) PostNotify(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notifications disabled"})
		return
	}
	h.notifier.Dispatch(notification.Event{Detail: req.Message})
	c.Status(http.StatusAccepted)
}
