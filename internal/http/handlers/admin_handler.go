// README: Admin handlers for status updates, pricing settings and direct messages.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tiffin/internal/http/middleware"
	"tiffin/internal/modules/notification"
	"tiffin/internal/modules/order"
	"tiffin/internal/modules/pricing"
	"tiffin/internal/types"
)

type AdminHandler struct {
	order         *order.Service
	pricing       *pricing.Service
	notifications *notification.Service
}

func NewAdminHandler(orderSvc *order.Service, pricingSvc *pricing.Service, notificationSvc *notification.Service) *AdminHandler {
	return &AdminHandler{order: orderSvc, pricing: pricingSvc, notifications: notificationSvc}
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *AdminHandler) UpdateStatus(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	to, ok := order.ParseStatus(req.Status)
	if !ok {
		writeError(c, http.StatusBadRequest, "unknown status")
		return
	}
	o, err := h.order.UpdateStatus(c.Request.Context(), order.UpdateStatusCommand{
		OrderID: types.ID(id),
		To:      to,
		Actor:   middleware.Caller(c),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o.Redacted())
}

func (h *AdminHandler) GetPricing(c *gin.Context) {
	st, err := h.pricing.Settings(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

type pricingReq struct {
	FlatDeliveryFee decimal.Decimal `json:"flat_delivery_fee"`
	RatePerKm       decimal.Decimal `json:"rate_per_km"`
	DistancePricing bool            `json:"distance_pricing"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	Currency        string          `json:"currency"`
}

func (h *AdminHandler) UpdatePricing(c *gin.Context) {
	var req pricingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	st, err := h.pricing.UpdateSettings(c.Request.Context(), pricing.Settings{
		FlatDeliveryFee: req.FlatDeliveryFee,
		RatePerKm:       req.RatePerKm,
		DistancePricing: req.DistancePricing,
		TaxRate:         req.TaxRate,
		Currency:        req.Currency,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

type messageReq struct {
	RecipientRole string `json:"recipient_role"`
	RecipientID   string `json:"recipient_id"`
	Title         string `json:"title"`
	Body          string `json:"body"`
}

func (h *AdminHandler) SendMessage(c *gin.Context) {
	var req messageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := h.notifications.SendMessage(c.Request.Context(), notification.MessageCommand{
		RecipientRole: types.Role(req.RecipientRole),
		RecipientID:   types.ID(req.RecipientID),
		Title:         req.Title,
		Body:          req.Body,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, m)
}
