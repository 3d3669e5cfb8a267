// README: Notification list and read-state handlers.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"tiffin/internal/http/middleware"
	"tiffin/internal/modules/notification"
)

type NotificationHandler struct {
	notifications *notification.Service
}

func NewNotificationHandler(svc *notification.Service) *NotificationHandler {
	return &NotificationHandler{notifications: svc}
}

func (h *NotificationHandler) List(c *gin.Context) {
	caller := middleware.Caller(c)
	list, err := h.notifications.List(c.Request.Context(), caller)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	unread := 0
	for _, n := range list {
		if !n.Read {
			unread++
		}
	}
	writeJSON(c, http.StatusOK, gin.H{"notifications": list, "unread": unread})
}

type markReadReq struct {
	IDs []string `json:"ids"`
}

// MarkRead is fire-and-forget: the client has already updated its own view.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	var req markReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	caller := middleware.Caller(c)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 5*time.Second)
	go func() {
		defer cancel()
		if err := h.notifications.MarkRead(ctx, caller, req.IDs); err != nil {
			log.WithError(err).WithField("uid", caller.ID).Warn("mark read failed")
		}
	}()
	c.Status(http.StatusAccepted)
}
