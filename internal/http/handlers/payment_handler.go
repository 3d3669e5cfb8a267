// README: Payment gateway callback and webhook handlers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"tiffin/internal/http/middleware"
	"tiffin/internal/modules/order"
	"tiffin/internal/modules/payment"
)

type PaymentHandler struct {
	payments *payment.Service
}

func NewPaymentHandler(svc *payment.Service) *PaymentHandler {
	return &PaymentHandler{payments: svc}
}

type callbackReq struct {
	GatewayOrderID string      `json:"gateway_order_id"`
	PaymentID      string      `json:"payment_id"`
	Signature      string      `json:"signature"`
	Order          checkoutReq `json:"order"`
}

func (h *PaymentHandler) Callback(c *gin.Context) {
	var req callbackReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	caller := middleware.Caller(c)
	o, err := h.payments.HandleCallback(c.Request.Context(), payment.Callback{
		GatewayOrderID: req.GatewayOrderID,
		PaymentID:      req.PaymentID,
		Signature:      req.Signature,
		Caller:         caller,
		Draft:          req.Order.command(caller.ID),
	})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			log.WithFields(log.Fields{
				"gateway_order_id": req.GatewayOrderID,
				"payment_id":       req.PaymentID,
				"uid":              caller.ID,
				"remote":           c.ClientIP(),
			}).Warn("rejected payment callback")
		}
		writeServiceError(c, err)
		return
	}
	if !order.CanView(caller, o) {
		writeServiceError(c, order.ErrNotFound)
		return
	}
	writeJSON(c, http.StatusOK, order.ViewFor(caller, *o))
}

// Webhook always answers 200 so the gateway does not retry events we chose to drop.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		log.WithError(err).Warn("unreadable payment webhook body")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}
	if err := h.payments.HandleWebhook(c.Request.Context(), body, c.GetHeader("X-Signature")); err != nil {
		entry := log.WithError(err).WithField("remote", c.ClientIP())
		if errors.Is(err, payment.ErrInvalidSignature) {
			entry.Warn("payment webhook signature mismatch")
		} else {
			entry.Error("payment webhook not applied")
		}
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
