package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/craft_market/internal/cart/cache"
	"github.com/fjod/craft_market/internal/cart/poller"
	cartrepo "github.com/fjod/craft_market/internal/cart/repository"
	cartservice "github.com/fjod/craft_market/internal/cart/service"
	"github.com/fjod/craft_market/internal/cart/store"
	"github.com/fjod/craft_market/internal/catalog"
	"github.com/fjod/craft_market/internal/checkout"
	"github.com/fjod/craft_market/internal/config"
	h "github.com/fjod/craft_market/internal/http"
	"github.com/fjod/craft_market/internal/orders/publisher"
	ordersrepo "github.com/fjod/craft_market/internal/orders/repository"
	ordersservice "github.com/fjod/craft_market/internal/orders/service"
	"github.com/fjod/craft_market/internal/payment"
	"github.com/fjod/craft_market/internal/pricing"
	"github.com/fjod/craft_market/pkg/logger"
	"github.com/fjod/craft_market/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	lg, err := logger.New("marketplace", cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer lg.Sync() //nolint:errcheck
	zap.ReplaceGlobals(lg)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx := context.Background()

	// Catalog
	products, err := catalog.NewRepository(cfg.Catalog.DBPath)
	if err != nil {
		lg.Fatal("failed to open catalog", zap.Error(err))
	}
	defer products.Close()
	if err := products.RunMigrations(cfg.Catalog.MigrationsPath); err != nil {
		lg.Fatal("failed to migrate catalog", zap.Error(err))
	}

	// Persistent cart: MongoDB behind a Redis read-through cache
	mongoDB, err := cartrepo.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		lg.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	defer mongoDB.Client().Disconnect(context.Background()) //nolint:errcheck
	lg.Info("connected to MongoDB", zap.String("database", cfg.Mongo.Database))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		lg.Fatal("redis connection failed", zap.Error(err))
	}

	cartRepo := cartrepo.NewMongoRepository(mongoDB)
	if err := cartrepo.EnsureIndexes(ctx, cartRepo); err != nil {
		lg.Fatal("failed to create cart indexes", zap.Error(err))
	}
	carts := cartservice.NewCartService(
		cartRepo,
		cache.NewRedisCache(redisClient),
		products,
		lg,
	)
	cartRemote := store.NewServiceRemote(carts, lg)

	// Orders
	creds := &ordersrepo.Credentials{
		Host:              cfg.Postgres.Host,
		Port:              cfg.Postgres.Port,
		User:              cfg.Postgres.User,
		Password:          cfg.Postgres.Password,
		DBName:            cfg.Postgres.DBName,
		MigrationsDirPath: cfg.Postgres.MigrationsPath,
	}
	orderRepo, err := ordersrepo.NewRepository(ctx, creds)
	if err != nil {
		lg.Fatal("failed to connect to database", zap.Error(err))
	}
	defer orderRepo.Close()
	if err := orderRepo.RunMigrations(creds); err != nil {
		lg.Fatal("failed to run migrations", zap.Error(err))
	}
	lg.Info("order database migrations completed")

	promos := pricing.NewStaticPromoResolver(cfg.PromoCode)
	orders := ordersservice.NewOrderService(orderRepo, products, promos, lg, m)

	// Payments
	provider, err := newPaymentProvider(cfg.Payment)
	if err != nil {
		lg.Fatal("failed to configure payment provider", zap.Error(err))
	}
	payments := payment.NewAdapter(provider, cfg.Currency, lg, m)
	lg.Info("payment provider ready", zap.String("provider", cfg.Payment.Provider))

	// Checkout sessions
	sessions := checkout.NewRegistry(func(customerID string) *checkout.Session {
		return checkout.NewSession(customerID, store.New(customerID, cartRemote, lg, m), checkout.Deps{
			Payments: payments,
			Orders:   orders,
			Promos:   promos,
			Currency: cfg.Currency,
			Log:      lg,
			Metrics:  m,
		})
	}, cfg.SessionIdle, lg)

	// Background workers
	var wg sync.WaitGroup
	workersCtx, stopWorkers := context.WithCancel(context.Background())

	outbox := publisher.NewOutboxPoller(orderRepo, lg, m, cfg.Kafka.Topic, cfg.Kafka.Brokers...)
	cartClear := poller.NewPoller(carts, lg, cfg.Kafka.Topic, cfg.Kafka.Brokers...)
	runWorker(&wg, func() { outbox.Run(workersCtx) })
	runWorker(&wg, func() { cartClear.Run(workersCtx) })
	runWorker(&wg, func() { sessions.Run(workersCtx, time.Minute) })

	// gRPC health
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCHealthPort))
	if err != nil {
		lg.Fatal("failed to listen", zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	go func() {
		lg.Info("health service listening", zap.String("port", cfg.GRPCHealthPort))
		if err := grpcServer.Serve(lis); err != nil {
			lg.Error("health server stopped", zap.Error(err))
		}
	}()

	// HTTP
	router := h.NewRouter(h.Handlers{
		Cart:     h.NewCartHandler(sessions, cfg.RequestTimeout, lg),
		Checkout: h.NewCheckoutHandler(sessions, cfg.RequestTimeout, lg),
		Orders:   h.NewOrdersHandler(orders, cfg.RequestTimeout, lg),
		Products: h.NewProductHandler(products, cfg.RequestTimeout, lg),
		Metrics:  metrics.Handler(reg),
	}, cfg.RequestTimeout, lg, m)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// capture ignores client cancellation, so writes may outlast the request timeout
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		lg.Info("marketplace starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server error", zap.Error(err))
		}
	}()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down marketplace")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error("server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	stopWorkers()

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()
	select {
	case <-doneChan:
		lg.Info("workers stopped cleanly")
	case <-shutdownCtx.Done():
		lg.Warn("workers didn't stop in time")
	}

	outbox.Close()
	cartClear.Close()
	lg.Info("marketplace stopped")
}

func runWorker(wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fn()
	}()
}

func newPaymentProvider(cfg config.PaymentConfig) (payment.Provider, error) {
	switch cfg.Provider {
	case config.ProviderSandbox:
		var roller payment.Roller = payment.RandomRoll{}
		if cfg.SandboxRoll >= 0 {
			roller = payment.FixedRoll(cfg.SandboxRoll)
		}
		return payment.NewSandboxProvider(roller), nil
	case config.ProviderREST:
		return payment.NewRESTProvider(payment.RESTConfig{
			BaseURL:      cfg.BaseURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
		}), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}
