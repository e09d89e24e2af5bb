// Package main запускает HTTP-сервер сервиса расчёта чеков.
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

	"github.com/mmeshcher/billing-system/internal/config"
	"github.com/mmeshcher/billing-system/internal/handler"
	"github.com/mmeshcher/billing-system/internal/notify"
	"github.com/mmeshcher/billing-system/internal/repository"
	"github.com/mmeshcher/billing-system/internal/service"
	"github.com/mmeshcher/billing-system/internal/webhook"
)

const memoryQueueSize = 1024

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := newRepository(cfg)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue, closeQueue, err := newQueue(ctx, cfg)
	if err != nil {
		sugar.Fatalw("notification queue initialization error", "error", err.Error())
	}
	defer closeQueue()

	var senders []notify.Sender
	if cfg.MailEnabled() {
		senders = append(senders, notify.NewMailer(notify.MailerConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}))
	}
	if cfg.InvoiceWebhookURL != "" {
		senders = append(senders, webhook.NewClient(cfg.InvoiceWebhookURL))
	}
	if len(senders) == 0 {
		sugar.Warn("no invoice delivery channel configured, invoices will not be sent")
	}

	dispatcher := notify.NewDispatcher(queue, senders, logger, notify.WithWorkers(cfg.NotifyWorkers))

	svc := service.NewService(repo, dispatcher, logger)
	defer svc.Close()

	h := handler.NewHandler(svc, logger)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Фоновая доставка чеков
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting billing server", "addr", cfg.RunAddress, "postgres", cfg.DatabaseURI != "")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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

func newRepository(cfg *config.Config) (service.Repository, error) {
	if cfg.DatabaseURI != "" {
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI, cfg.LockTimeout)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}

	catalog := &repository.Catalog{}
	if cfg.CatalogFile != "" {
		c, err := repository.LoadCatalog(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		catalog = c
	}
	return repository.NewMemoryRepository(cfg.LockTimeout, catalog.Products, catalog.Denominations), nil
}

func newQueue(ctx context.Context, cfg *config.Config) (notify.Queue, func(), error) {
	if cfg.RedisURL == "" {
		return notify.NewMemoryQueue(memoryQueueSize), func() {}, nil
	}

	q, err := notify.NewRedisQueue(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return q, func() { _ = q.Close() }, nil
}
