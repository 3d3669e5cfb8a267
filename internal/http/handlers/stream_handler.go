// README: Server-sent event stream of order changes.
package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"tiffin/internal/http/middleware"
	"tiffin/internal/modules/order"
	"tiffin/internal/types"
)

const streamKeepAlive = 25 * time.Second

type StreamHandler struct {
	order *order.Service
}

func NewStreamHandler(svc *order.Service) *StreamHandler {
	return &StreamHandler{order: svc}
}

// filterFor scopes the feed to what the caller may see.
func filterFor(actor types.Actor) order.Filter {
	switch actor.Role {
	case types.RoleAdmin:
		return order.Filter{}
	case types.RoleRider:
		return order.Filter{RiderID: actor.ID, Claimable: true}
	default:
		return order.Filter{UserID: actor.ID}
	}
}

func (h *StreamHandler) Orders(c *gin.Context) {
	caller := middleware.Caller(c)
	f := filterFor(caller)
	if id := c.Query("order_id"); id != "" {
		f.OrderID = types.ID(id)
	}
	changes, err := h.order.Subscribe(c.Request.Context(), f)
	if err != nil {
		log.WithError(err).Error("order stream unavailable")
		writeError(c, http.StatusServiceUnavailable, "stream unavailable")
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ping := time.NewTicker(streamKeepAlive)
	defer ping.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ch, ok := <-changes:
			if !ok {
				return false
			}
			c.SSEvent("order", order.ViewFor(caller, ch.Order))
			return true
		case <-ping.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
