package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/order-dispatch/internal/config"
	"github.com/example/order-dispatch/internal/coordinator"
	"github.com/example/order-dispatch/internal/eta"
	"github.com/example/order-dispatch/internal/geo"
	httpapi "github.com/example/order-dispatch/internal/http"
	"github.com/example/order-dispatch/internal/ingest"
	"github.com/example/order-dispatch/internal/logging"
	"github.com/example/order-dispatch/internal/notify"
	"github.com/example/order-dispatch/internal/payments"
	"github.com/example/order-dispatch/internal/registry"
	"github.com/example/order-dispatch/internal/storage"
	"github.com/example/order-dispatch/internal/tracker"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN, logger.Error)
	}

	var orders storage.OrderStore
	var restaurants storage.RestaurantStore
	var drivers storage.DriverStore
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pg.Close()
		orders, restaurants, drivers = pg, pg, pg
	} else {
		mem := storage.NewMemoryStore()
		orders, restaurants, drivers = mem, mem, mem
		logger.Warn("PG_DSN not set, using in-memory store")
	}

	var trk tracker.Tracker
	if cfg.RedisAddr != "" {
		rt := tracker.NewRedisTracker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		defer rt.Close()
		trk = rt
	} else {
		trk = tracker.NewMemory()
	}

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
	}

	reg := registry.New(logger)

	var gc geo.Geocoder = geo.NewCachedGeocoder(geo.NewLandmarkGeocoder(), 10*time.Minute)

	dispatcher := &notify.Dispatcher{
		Sender:          reg,
		Restaurants:     restaurants,
		Drivers:         drivers,
		Log:             logger,
		DriverShare:     cfg.DriverShare,
		OfferWindowSec:  cfg.OfferWindowSec,
		DefaultSpeedMps: cfg.DefaultSpeedMps,
		ETACache:        eta.NewCache(2 * time.Minute),
	}
	if cfg.OSRMEndpoint != "" {
		dispatcher.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}

	coord := coordinator.New(orders, restaurants, drivers, trk, gc, dispatcher, logger, cfg.MatchRadiusKm, cfg.MatchLimit)

	srv := httpapi.NewServer(reg, trk, coord, orders, payments.NewStripeClient(), kp, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("order-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string, logErr func(string, ...any)) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logErr("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_orders.sql"))
	if err != nil {
		logErr("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logErr("migration exec error", "error", err)
		return
	}
	log.Printf("migration applied: 001_create_orders.sql")
}
