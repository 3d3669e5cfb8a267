// README: Customer order handlers for quote, checkout, read and cancel.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"tiffin/internal/http/middleware"
	"tiffin/internal/modules/order"
	"tiffin/internal/modules/pricing"
	"tiffin/internal/types"
)

type OrderHandler struct {
	order   *order.Service
	pricing *pricing.Service
}

func NewOrderHandler(orderSvc *order.Service, pricingSvc *pricing.Service) *OrderHandler {
	return &OrderHandler{order: orderSvc, pricing: pricingSvc}
}

type lineItemReq struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

type quoteReq struct {
	Items           []lineItemReq `json:"items"`
	CouponCode      string        `json:"coupon_code"`
	ShippingAddress string        `json:"shipping_address"`
}

type checkoutReq struct {
	Contact         order.Contact `json:"contact"`
	Items           []lineItemReq `json:"items"`
	ShippingAddress string        `json:"shipping_address"`
	PaymentMethod   string        `json:"payment_method"`
	CouponCode      string        `json:"coupon_code"`
	GatewayOrderID  string        `json:"gateway_order_id"`
}

// command builds a checkout for uid; the user id is never taken from the body.
func (r checkoutReq) command(uid types.ID) order.CheckoutCommand {
	items := make([]order.LineItem, len(r.Items))
	for i, it := range r.Items {
		items[i] = order.LineItem{ID: it.ID, Name: it.Name, UnitPrice: it.UnitPrice, Quantity: it.Quantity}
	}
	return order.CheckoutCommand{
		UserID:          uid,
		Contact:         r.Contact,
		Items:           items,
		ShippingAddress: r.ShippingAddress,
		PaymentMethod:   order.PaymentMethod(r.PaymentMethod),
		CouponCode:      r.CouponCode,
		GatewayOrderID:  r.GatewayOrderID,
	}
}

func (h *OrderHandler) Quote(c *gin.Context) {
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	items := make([]pricing.Item, len(req.Items))
	for i, it := range req.Items {
		items[i] = pricing.Item{UnitPrice: it.UnitPrice, Quantity: it.Quantity}
	}
	b, err := h.pricing.Quote(c.Request.Context(), pricing.QuoteRequest{
		Items:      items,
		CouponCode: req.CouponCode,
		Address:    req.ShippingAddress,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (h *OrderHandler) Checkout(c *gin.Context) {
	var req checkoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	o, err := h.order.Checkout(c.Request.Context(), req.command(types.ID(middleware.CallerUID(c))))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, o)
}

// List returns the caller's orders, or the most recent orders for an admin.
func (h *OrderHandler) List(c *gin.Context) {
	caller := middleware.Caller(c)
	limit, _ := strconv.Atoi(c.Query("limit"))
	var (
		orders []order.Order
		err    error
	)
	if caller.Role == types.RoleAdmin {
		orders, err = h.order.ListRecent(c.Request.Context(), limit)
	} else {
		orders, err = h.order.ListByUser(c.Request.Context(), caller.ID, limit)
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	for i := range orders {
		orders[i] = order.ViewFor(caller, orders[i])
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": orders})
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := h.order.GetFor(c.Request.Context(), types.ID(id), middleware.Caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) History(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	// Visibility check first so history does not leak other customers' orders.
	if _, err := h.order.GetFor(c.Request.Context(), types.ID(id), middleware.Caller(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	events, err := h.order.History(c.Request.Context(), types.ID(id))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"events": events})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req cancelReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	caller := middleware.Caller(c)
	o, err := h.order.Cancel(c.Request.Context(), order.CancelCommand{
		OrderID: types.ID(id),
		Actor:   caller,
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, order.ViewFor(caller, *o))
}
