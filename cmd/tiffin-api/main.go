// README: Entry point; loads config, wires services, starts HTTP server and background workers.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"tiffin/internal/config"
	httptransport "tiffin/internal/http"
	"tiffin/internal/infra"
	"tiffin/internal/maps"
	"tiffin/internal/modules/coupon"
	"tiffin/internal/modules/delivery"
	"tiffin/internal/modules/notification"
	"tiffin/internal/modules/order"
	"tiffin/internal/modules/payment"
	"tiffin/internal/modules/pricing"
	"tiffin/internal/modules/stream"
)

type stores struct {
	orders   order.Repository
	coupons  coupon.Repository
	riders   delivery.RiderRepository
	messages notification.MessageRepository
	pricing  pricing.SettingsStore
	close    func()
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	if cfg.Store == "memory" {
		log.Warn("TIFFIN_STORE=memory: state is lost on restart")
		orderStore := order.NewMemStore()
		return stores{
			orders:   orderStore,
			coupons:  coupon.NewMemStore(),
			riders:   delivery.NewMemStore(orderStore.Now),
			messages: notification.NewMemMessageStore(),
			close:    func() {},
		}, nil
	}
	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return stores{}, err
	}
	return stores{
		orders:   order.NewStore(pool),
		coupons:  coupon.NewStore(pool),
		riders:   delivery.NewStore(pool),
		messages: notification.NewMessageStore(pool),
		pricing:  pricing.NewStore(pool),
		close:    pool.Close,
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	infra.SetupLogging(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Firebase.ProjectID == "" {
		log.Fatal("TIFFIN_FIREBASE_PROJECT_ID is required")
	}
	app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		log.Fatalf("firebase init: %v", err)
	}
	fbAuth, err := infra.NewFirebaseAuth(ctx, app)
	if err != nil {
		log.Fatalf("firebase auth: %v", err)
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer st.close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}

	broker := stream.NewBroker(redisClient, stream.DefaultChannel)
	publisher := stream.Fanout{broker}
	if len(cfg.Kafka.Brokers) > 0 {
		if err := infra.EnsureTopic(cfg.Kafka.Brokers, cfg.Kafka.Topic, 3); err != nil {
			log.WithError(err).Warn("could not ensure kafka topic")
		}
		writer := infra.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer writer.Close()
		publisher = append(publisher, stream.NewKafkaSink(writer))
	}

	couponSvc := coupon.NewService(st.coupons)

	var pricingOpts []pricing.Option
	if cfg.Maps.APIKey != "" && cfg.Pricing.StoreOrigin != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			log.Fatal(err)
		}
		pricingOpts = append(pricingOpts, pricing.WithDistance(routes, cfg.Pricing.StoreOrigin))
	}
	pricingSvc := pricing.NewService(st.pricing, couponSvc, pricing.Settings{
		FlatDeliveryFee: decimal.NewFromFloat(cfg.Pricing.FlatDeliveryFee),
		RatePerKm:       decimal.NewFromFloat(cfg.Pricing.RatePerKm),
		DistancePricing: cfg.Pricing.DistancePricing,
		TaxRate:         decimal.NewFromFloat(cfg.Pricing.TaxRate),
		Currency:        cfg.Pricing.Currency,
	}, pricingOpts...)

	orderSvc := order.NewService(st.orders, pricingSvc, order.WithPublisher(publisher), order.WithFeed(broker))
	deliverySvc := delivery.NewService(orderSvc, st.riders, delivery.WithRoleGranter(fbAuth))
	paymentSvc := payment.NewService(payment.NewVerifier(cfg.Payment.Secret, cfg.Payment.WebhookSecret), orderSvc)

	notifOpts := []notification.Option{}
	if fcm, err := infra.NewMessaging(ctx, app); err != nil {
		log.WithError(err).Warn("push disabled")
	} else {
		notifOpts = append(notifOpts, notification.WithPusher(notification.NewFCMPusher(fcm)))
	}
	notificationSvc := notification.NewService(orderSvc,
		notification.NewStore(redisClient, cfg.NotificationWindow, cfg.NotificationRetention), st.messages, notifOpts...)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Order:        orderSvc,
		Pricing:      pricingSvc,
		Coupon:       couponSvc,
		Delivery:     deliverySvc,
		Payment:      paymentSvc,
		Notification: notificationSvc,
		Verifier:     fbAuth,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go orderSvc.RunPendingExpiry(ctx, cfg.Order.PendingTTL, cfg.Order.PendingSweep)
	go notificationSvc.RunEventListener(ctx, orderSvc)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("http shutdown")
		}
	}()

	log.WithFields(log.Fields{"addr": cfg.HTTP.Addr, "store": cfg.Store}).Info("tiffin api listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
