package main

import (
	"context"
	"github.com/ariefcatur/go-storefront-checkout/internal/catalog"
	"github.com/ariefcatur/go-storefront-checkout/internal/checkout"
	"github.com/ariefcatur/go-storefront-checkout/internal/config"
	"github.com/ariefcatur/go-storefront-checkout/internal/fulfillment"
	"github.com/ariefcatur/go-storefront-checkout/internal/httpx"
	"github.com/ariefcatur/go-storefront-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/go-storefront-checkout/internal/kafka"
	"github.com/ariefcatur/go-storefront-checkout/internal/logging"
	"github.com/ariefcatur/go-storefront-checkout/internal/metrics"
	"github.com/ariefcatur/go-storefront-checkout/internal/orders"
	"github.com/ariefcatur/go-storefront-checkout/internal/payment"
	"github.com/ariefcatur/go-storefront-checkout/internal/postgres"
	"github.com/ariefcatur/go-storefront-checkout/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB: service role for writes, restricted role for catalog reads
	db, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	catalogDB, err := postgres.Connect(ctx, cfg.CatalogDatabaseURL)
	if err != nil {
		log.Fatalf("catalog db connect: %v", err)
	}
	defer catalogDB.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPaid, 1024)
	prod.Start(ctx)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "api")

	logger := logging.New(cfg.ServiceName)
	gateway := payment.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	ledger := &inventory.Ledger{DB: db}
	store := &orders.Store{DB: db, Ledger: ledger}

	co := &checkout.Service{
		Catalog: &catalog.Repo{DB: catalogDB},
		Orders:  store,
		Ledger:  ledger,
		Gateway: gateway,
		BaseURL: cfg.PublicBaseURL,
		Hold:    cfg.ReservationHold,
		Timeout: cfg.DBTimeout,
		Log:     logger,
		Metrics: m,
	}
	ff := &fulfillment.Service{
		Gateway: gateway,
		Orders:  store,
		Ledger:  ledger,
		Dedup:   &redisx.Deduper{RDB: rdb, Service: "webhook"},
		Notify:  &kafkax.OrderPaidNotifier{Producer: prod, Service: cfg.ServiceName, Log: logger},
		Timeout: cfg.DBTimeout,
		Log:     logger,
		Metrics: m,
	}

	router := httpx.NewRouter(m)
	router.Handle("/metrics", metrics.Handler(reg))
	(&httpx.CheckoutHandler{Checkout: co, Limiter: httpx.NewRateLimiter(cfg.CheckoutRateRPS, cfg.CheckoutRateBurst)}).Register(router)
	(&httpx.WebhookHandler{Processor: ff, Log: logger}).Register(router)
	(&httpx.OrdersHandler{Orders: store, Sessions: gateway, Cache: &redisx.StatusCache{RDB: rdb}, Log: logger}).Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // stop intake -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
