package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"quiosque/api/internal/ai"
	"quiosque/api/internal/api"
	"quiosque/api/internal/config"
	"quiosque/api/internal/db"
	"quiosque/api/internal/middleware"
	"quiosque/api/internal/payments"
	"quiosque/api/internal/reconcile"
)

func main() {
	cfg := config.Load()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	sqlite, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer sqlite.Close()

	if err := db.Migrate(sqlite); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// Confirmed-payment registry: in-memory for a single kiosk, redis when
	// several API instances must share webhook confirmations.
	var store reconcile.Store
	if cfg.RedisAddr != "" {
		store, err = reconcile.NewRedisStore(context.Background(), cfg.RedisAddr)
		if err != nil {
			log.Fatalf("redis registry: %v", err)
		}
		log.Printf("payment registry backed by redis at %s", cfg.RedisAddr)
	} else {
		store = reconcile.NewMemoryStore()
	}
	registry := reconcile.NewRegistry(store, cfg.RegistryRetention)

	apiHandler := api.NewHandler(sqlite, cfg)
	paymentsHandler := payments.NewHandler(sqlite, cfg, registry)
	aiHandler := ai.NewHandler(ai.NewClient(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AIModel), sqlite)

	mux := http.NewServeMux()

	// Catalog, orders, auth
	mux.HandleFunc("/api/products", apiHandler.ListProducts)
	mux.HandleFunc("/api/orders", apiHandler.CreateOrder)
	mux.HandleFunc("/api/orders/", apiHandler.OrderRoutes)
	mux.HandleFunc("/api/auth/register", apiHandler.Register)
	mux.HandleFunc("/api/auth/login", apiHandler.Login)

	// Payments
	mux.HandleFunc("/api/payment/create-pix", paymentsHandler.CreatePix)
	mux.HandleFunc("/api/payment/create", paymentsHandler.CreateCard)
	mux.HandleFunc("/api/payment/status/", paymentsHandler.GetStatus)
	mux.HandleFunc("/api/payment/cancel/", paymentsHandler.Cancel)
	mux.HandleFunc("/api/payment/clear-queue", paymentsHandler.ClearQueue)
	mux.HandleFunc("/api/payment/point/configure", paymentsHandler.ConfigurePoint)
	mux.HandleFunc("/api/payment/point/status", paymentsHandler.PointStatus)

	// Gateway webhook
	mux.HandleFunc("/api/notifications/payment-events", paymentsHandler.HandleNotification)

	// Upsell
	mux.HandleFunc("/api/ai/upsell", aiHandler.Upsell)

	handler := middleware.CORS(cfg.CORSOrigins)(middleware.Auth(cfg.JWTSecret)(mux))

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Background maintenance, decoupled from any request: evict stale
	// webhook confirmations and free the terminal of finished intents.
	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	go sweepRegistry(sweepCtx, registry, cfg.RegistrySweepEach)
	go sweepQueue(sweepCtx, paymentsHandler, cfg.QueueSweepEach)

	log.Printf("quiosque API listening on %s", addr)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")
	stopSweeps()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatal(err)
	}
	log.Println("server stopped")
}

func sweepRegistry(ctx context.Context, registry *reconcile.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := registry.Sweep(ctx); err != nil {
				log.Printf("registry sweep: %v", err)
			} else if removed > 0 {
				log.Printf("registry sweep: evicted %d stale entries", removed)
			}
		}
	}
}

// sweepQueue removes intents the terminal is done with. Intents still OPEN,
// ON_TERMINAL or PROCESSING are left alone — they may be a payment in
// progress.
func sweepQueue(ctx context.Context, h *payments.Handler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng := h.DefaultEngine()
			if eng == nil || !eng.HasDevice() {
				continue
			}
			if cleared, err := eng.ClearQueue(ctx, true); err != nil {
				log.Printf("queue sweep: %v", err)
			} else if cleared > 0 {
				log.Printf("queue sweep: removed %d finished intents", cleared)
			}
		}
	}
}
