// Package main запускает HTTP-сервер портала запчастей.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/cart"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/config"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/gate"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/handler"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/ipresolve"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/middleware"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/repository"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/service"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/session"
	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/store"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 5 * time.Second
	handoffSubject  = "Parts inquiry"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var persister store.Persister
	if cfg.DatabaseURI != "" {
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		defer repo.Close()
		persister = repo
	} else {
		sugar.Warn("DATABASE_URI is not set, uploads are kept in memory only")
	}

	admin, err := gate.NewAdmin(cfg.AdminUsername, cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		sugar.Fatalw("admin credentials error", "error", err.Error())
	}

	policy, err := cart.ParseMergePolicy(cfg.CartMerge)
	if err != nil {
		sugar.Fatalw("cart merge policy error", "error", err.Error())
	}

	svc := service.NewService(store.New(persister), admin, logger, service.Options{
		Cart: cart.Options{Policy: policy, PriceColumn: cfg.PriceColumn},
		Contact: cart.Contact{
			Phone:   cfg.ContactPhone,
			Email:   cfg.ContactEmail,
			Subject: handoffSubject,
		},
		HandoffMaxText: cfg.HandoffMaxText,
	})

	if err := svc.Restore(ctx); err != nil {
		sugar.Fatalw("restore uploads error", "error", err.Error())
	}

	g, ctx := errgroup.WithContext(ctx)

	var registry session.Registry
	if cfg.RedisAddr != "" {
		redisRegistry, err := session.NewRedisRegistry(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.SessionTTL)
		if err != nil {
			sugar.Fatalw("redis initialization error", "error", err.Error())
		}
		defer redisRegistry.Close()
		registry = redisRegistry
	} else {
		memRegistry := session.NewMemoryRegistry(cfg.SessionTTL)
		registry = memRegistry

		// Фоновая очистка истёкших сессий
		g.Go(func() error {
			memRegistry.StartSweeper(ctx, sweepInterval, func(removed int) {
				sugar.Debugw("expired sessions removed", "count", removed)
			})
			return nil
		})
	}

	var resolver ipresolve.Resolver = ipresolve.RequestResolver{}
	if cfg.IPSource == "echo" {
		resolver = ipresolve.NewEchoResolver(nil, cfg.IPEchoTimeout)
	}

	sessions := session.NewManager(cfg.SessionSecret, registry, cfg.SessionTTL, cfg.SecureCookie)
	if cfg.SessionSecret == "" {
		sugar.Warn("SESSION_SECRET is not set, sessions will not survive a restart")
	}

	authMiddleware := middleware.NewAuthMiddleware(sessions, logger)
	h := handler.NewHandler(svc, logger, authMiddleware, sessions, resolver, handler.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		TrustProxy:     cfg.TrustProxy,
	})

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting portal server", "addr", cfg.RunAddress, "ip_source", cfg.IPSource)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
