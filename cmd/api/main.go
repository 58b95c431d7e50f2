package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/merchantops/internal/api"
	"github.com/punchamoorthee/merchantops/internal/config"
	"github.com/punchamoorthee/merchantops/internal/logger"
	"github.com/punchamoorthee/merchantops/internal/service"
	"github.com/punchamoorthee/merchantops/internal/store"
	"go.uber.org/zap"
)

// backend is what both store drivers offer to the rest of the wiring.
type backend interface {
	service.Store
	api.AccountStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer zl.Sync()

	ctx := context.Background()

	var st backend
	switch cfg.StoreDriver {
	case "memory":
		mem := store.NewMemory()
		for i := 0; i < cfg.SeedAccounts; i++ {
			if _, err := mem.CreateAccount(ctx, 0); err != nil {
				zl.Fatal("unable to seed account", zap.Error(err))
			}
		}
		st = mem
		zl.Warn("using in-memory store; data is lost on exit", zap.Int("seed_accounts", cfg.SeedAccounts))
	default:
		pg, err := store.NewStore(ctx, cfg.DBSource)
		if err != nil {
			zl.Fatal("unable to connect to database", zap.Error(err))
		}
		defer pg.Close()
		if cfg.AutoMigrate {
			if err := pg.Migrate(zl); err != nil {
				zl.Fatal("migration failed", zap.Error(err))
			}
		}
		st = pg
	}

	// Initialize Layers
	m := cfg.Merchant
	merchant := service.NewMerchantService(service.Config{
		Accounts:           m.Accounts,
		UserKey:            m.UserKey,
		MinSum:             m.MinSum,
		MaxSum:             m.MaxSum,
		Timeout:            m.Timeout(),
		CanCancelCompleted: m.CanCancelCompleted,
	}, st, zl.Named("merchant"))
	handler := api.NewHandler(merchant, st, api.Credentials{Login: m.Login, Key: m.Key}, zl.Named("api"))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zl.Info("server starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	zl.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("graceful shutdown failed", zap.Error(err))
	}
	zl.Info("server stopped")
}
