// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"tiffin/internal/modules/coupon"
	"tiffin/internal/modules/delivery"
	"tiffin/internal/modules/notification"
	"tiffin/internal/modules/order"
	"tiffin/internal/modules/payment"
	"tiffin/internal/modules/pricing"
)

type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// isValidID ensures IDs are hex and 32 chars (matches current ID generator).
func isValidID(v string) bool {
	if len(v) != 32 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// orderID reads and validates the :id path parameter. It writes a 404 and returns false
// for malformed ids.
func orderID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusNotFound, order.ErrNotFound.Error())
		return "", false
	}
	return id, true
}

func writeServiceError(c *gin.Context, err error) {
	var rejected *coupon.RejectedError
	switch {
	case errors.As(err, &rejected):
		writeJSON(c, http.StatusUnprocessableEntity, errorResponse{
			Error:  err.Error(),
			Code:   "coupon_rejected",
			Reason: string(rejected.Reason),
		})
	case errors.Is(err, order.ErrValidation),
		errors.Is(err, pricing.ErrValidation),
		errors.Is(err, coupon.ErrValidation),
		errors.Is(err, delivery.ErrValidation),
		errors.Is(err, notification.ErrValidation),
		errors.Is(err, payment.ErrMalformedEvent):
		writeJSON(c, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation"})
	case errors.Is(err, order.ErrForbidden), errors.Is(err, delivery.ErrNotAssignedRider):
		writeJSON(c, http.StatusForbidden, errorResponse{Error: err.Error(), Code: "forbidden"})
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, delivery.ErrRiderNotFound),
		errors.Is(err, payment.ErrUnknownOrder):
		writeJSON(c, http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, order.ErrIllegalTransition):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Code: "illegal_transition"})
	case errors.Is(err, delivery.ErrAlreadyClaimed):
		writeJSON(c, http.StatusConflict, errorResponse{Error: "this order was just taken", Code: "already_claimed"})
	case errors.Is(err, delivery.ErrNotEligible):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Code: "not_eligible"})
	case errors.Is(err, order.ErrCancelWindowClosed):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Code: "cancel_window_closed"})
	case errors.Is(err, order.ErrConflict),
		errors.Is(err, coupon.ErrDuplicate),
		errors.Is(err, delivery.ErrRiderExists),
		errors.Is(err, payment.ErrPaidAfterCancel):
		writeJSON(c, http.StatusConflict, errorResponse{Error: err.Error(), Code: "conflict"})
	case errors.Is(err, delivery.ErrCodeMismatch):
		writeJSON(c, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Code: "code_mismatch"})
	case errors.Is(err, payment.ErrInvalidSignature):
		writeJSON(c, http.StatusPaymentRequired, errorResponse{
			Error: "payment verification failed, contact support",
			Code:  "payment_verification_failed",
		})
	default:
		log.WithError(err).WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("unhandled service error")
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
