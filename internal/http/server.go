// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tiffin/internal/http/handlers"
	"tiffin/internal/http/middleware"
	"tiffin/internal/infra"
	"tiffin/internal/modules/coupon"
	"tiffin/internal/modules/delivery"
	"tiffin/internal/modules/notification"
	"tiffin/internal/modules/order"
	"tiffin/internal/modules/payment"
	"tiffin/internal/modules/pricing"
	"tiffin/internal/types"
)

type ServerDeps struct {
	Order        *order.Service
	Pricing      *pricing.Service
	Coupon       *coupon.Service
	Delivery     *delivery.Service
	Payment      *payment.Service
	Notification *notification.Service
	Verifier     infra.TokenVerifier
}

type Server struct {
	deps ServerDeps
}

func NewServer(deps ServerDeps) *Server {
	return &Server{deps: deps}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logging())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	paymentHandler := handlers.NewPaymentHandler(s.deps.Payment)
	r.POST("/webhooks/payment", paymentHandler.Webhook)

	customer := middleware.RequireRole(types.RoleCustomer)
	rider := middleware.RequireRole(types.RoleRider)
	admin := middleware.RequireRole(types.RoleAdmin)

	api := r.Group("/api", middleware.Auth(s.deps.Verifier))

	orderHandler := handlers.NewOrderHandler(s.deps.Order, s.deps.Pricing)
	streamHandler := handlers.NewStreamHandler(s.deps.Order)
	api.POST("/cart/quote", customer, orderHandler.Quote)
	api.POST("/orders", customer, orderHandler.Checkout)
	api.GET("/orders", customer, orderHandler.List)
	api.GET("/orders/stream", streamHandler.Orders)
	api.GET("/orders/:id", customer, orderHandler.Get)
	api.GET("/orders/:id/history", customer, orderHandler.History)
	api.POST("/orders/:id/cancel", customer, orderHandler.Cancel)
	api.POST("/payments/callback", customer, paymentHandler.Callback)

	riderHandler := handlers.NewRiderHandler(s.deps.Delivery)
	api.GET("/rider/orders/available", rider, riderHandler.ListAvailable)
	api.GET("/rider/orders", rider, riderHandler.ListMine)
	api.POST("/rider/orders/:id/claim", rider, riderHandler.Claim)
	api.POST("/rider/orders/:id/deliver", rider, riderHandler.Deliver)

	couponHandler := handlers.NewCouponHandler(s.deps.Coupon)
	api.GET("/coupons/:code/validate", couponHandler.Validate)

	notificationHandler := handlers.NewNotificationHandler(s.deps.Notification)
	api.GET("/notifications", notificationHandler.List)
	api.POST("/notifications/read", notificationHandler.MarkRead)

	adminHandler := handlers.NewAdminHandler(s.deps.Order, s.deps.Pricing, s.deps.Notification)
	adm := api.Group("/admin", admin)
	adm.GET("/orders", orderHandler.List)
	adm.PUT("/orders/:id/status", adminHandler.UpdateStatus)
	adm.POST("/riders", riderHandler.CreateRider)
	adm.GET("/riders", riderHandler.ListRiders)
	adm.POST("/riders/:id/payout", riderHandler.Payout)
	adm.GET("/coupons", couponHandler.List)
	adm.POST("/coupons", couponHandler.Create)
	adm.PUT("/coupons/:code", couponHandler.Update)
	adm.DELETE("/coupons/:code", couponHandler.Delete)
	adm.GET("/pricing", adminHandler.GetPricing)
	adm.PUT("/pricing", adminHandler.UpdatePricing)
	adm.POST("/messages", adminHandler.SendMessage)

	return r
}
