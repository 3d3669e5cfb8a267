// README: Coupon CRUD for admins and the public validity check.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tiffin/internal/modules/coupon"
)

type CouponHandler struct {
	coupons *coupon.Service
}

func NewCouponHandler(svc *coupon.Service) *CouponHandler {
	return &CouponHandler{coupons: svc}
}

func (h *CouponHandler) List(c *gin.Context) {
	list, err := h.coupons.List(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"coupons": list})
}

func (h *CouponHandler) Create(c *gin.Context) {
	var in coupon.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	created, err := h.coupons.Create(c.Request.Context(), in)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, created)
}

func (h *CouponHandler) Update(c *gin.Context) {
	var in coupon.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	updated, err := h.coupons.Update(c.Request.Context(), c.Param("code"), in)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, updated)
}

func (h *CouponHandler) Delete(c *gin.Context) {
	if err := h.coupons.Delete(c.Request.Context(), c.Param("code")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Validate reports whether a code is usable now, with the rejection reason when it is not.
func (h *CouponHandler) Validate(c *gin.Context) {
	cp, err := h.coupons.Check(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"valid": true, "code": cp.Code, "discount_percent": cp.DiscountPercent})
}
