// README: Rider handlers for claim and delivery, plus admin rider management.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tiffin/internal/http/middleware"
	"tiffin/internal/modules/delivery"
	"tiffin/internal/types"
)

type RiderHandler struct {
	delivery *delivery.Service
}

func NewRiderHandler(svc *delivery.Service) *RiderHandler {
	return &RiderHandler{delivery: svc}
}

func (h *RiderHandler) ListAvailable(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	orders, err := h.delivery.ListAvailable(c.Request.Context(), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": orders})
}

func (h *RiderHandler) ListMine(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	orders, err := h.delivery.ListMine(c.Request.Context(), types.ID(middleware.CallerUID(c)), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": orders})
}

type claimReq struct {
	RiderName string `json:"rider_name"`
}

// Claim assigns the order to the calling rider; the rider id always comes from the token.
func (h *RiderHandler) Claim(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req claimReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	o, err := h.delivery.Claim(c.Request.Context(), delivery.ClaimCommand{
		OrderID:   types.ID(id),
		RiderID:   types.ID(middleware.CallerUID(c)),
		RiderName: req.RiderName,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o.Redacted())
}

type deliverReq struct {
	Code string `json:"code"`
}

func (h *RiderHandler) Deliver(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req deliverReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		writeError(c, http.StatusBadRequest, "missing confirmation code")
		return
	}
	o, err := h.delivery.ConfirmDelivery(c.Request.Context(), delivery.ConfirmCommand{
		OrderID: types.ID(id),
		RiderID: types.ID(middleware.CallerUID(c)),
		Code:    req.Code,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o.Redacted())
}

func (h *RiderHandler) CreateRider(c *gin.Context) {
	var req delivery.RiderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	r, err := h.delivery.CreateRider(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

func (h *RiderHandler) ListRiders(c *gin.Context) {
	riders, err := h.delivery.ListRiders(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"riders": riders})
}

func (h *RiderHandler) Payout(c *gin.Context) {
	riderID := types.ID(c.Param("id"))
	at, err := h.delivery.ClearDeliveryCount(c.Request.Context(), riderID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rider_id": riderID, "last_payout_at": at, "delivered_count": 0})
}
