package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/vpn-billing/internal/notify"
	paymentpkg "github.com/frahmantamala/vpn-billing/internal/payment"
	"github.com/frahmantamala/vpn-billing/internal/provider/stars"
	"github.com/frahmantamala/vpn-billing/internal/sweeper"
	"github.com/frahmantamala/vpn-billing/internal/telegram"
	"github.com/frahmantamala/vpn-billing/internal/transport"
	"github.com/frahmantamala/vpn-billing/internal/transport/rest"

	"github.com/go-chi/chi"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the billing service",
	Long:  `Start the webhook server together with the Telegram bot, the notification dispatcher and the pending-payment sweeper`,
	Run: func(cmd *cobra.Command, args []string) {
		startServer()
	},
}

func startServer() {
	app, err := buildApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	log := app.Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The bot, the dispatcher, the sweeper and the webhook ingress share one
	// process: the event bus is in-memory, so notifications only reach the
	// dispatcher when reconciliation runs next to it.
	var (
		runtime    *telegram.Runtime
		dispatcher *notify.Dispatcher
		botLock    *flock.Flock
	)

	if app.Config.Telegram.BotToken != "" {
		lock := flock.New(app.Config.Telegram.LockFile)
		locked, err := lock.TryLock()
		if err != nil {
			log.Error("bot lock file unavailable", "path", app.Config.Telegram.LockFile, "error", err)
			os.Exit(1)
		}
		if !locked {
			// Telegram allows a single long-polling consumer per token.
			log.Warn("another instance holds the bot lock, starting without the bot",
				"path", app.Config.Telegram.LockFile)
		} else {
			botLock = lock
			runtime, err = telegram.NewRuntime(app.Config.Telegram.BotToken, app.Config.Telegram.Workers, app.Payments, log)
			if err != nil {
				log.Error("failed to start telegram runtime", "error", err)
				os.Exit(1)
			}

			if app.Config.Providers.Stars.Enabled {
				app.Registry.Register(stars.NewGateway(runtime, log))
			}

			dispatcher = notify.NewDispatcher(runtime, notify.DispatcherConfig{
				MaxWorkers:  app.Config.Notifications.MaxWorkers,
				QueueSize:   app.Config.Notifications.QueueSize,
				SendTimeout: app.Config.Notifications.SendTimeout,
			}, log)

			notifySvc := notify.NewService(dispatcher, app.Users, notify.Config{
				NotifyUsers: app.Config.Notifications.NotifyUsers,
				LogPayments: app.Config.Notifications.LogPayments,
				LogChatID:   app.Config.Telegram.LogChatID,
				LogThreadID: app.Config.Telegram.LogThreadID,
			}, log)
			notifySvc.RegisterHandlers(app.EventBus)

			go runtime.Run(ctx)
			log.Info("telegram bot started", "workers", app.Config.Telegram.Workers)
		}
	} else {
		log.Warn("bot_token not set, running webhook ingress only")
	}

	sw := sweeper.New(app.Registry, app.PaymentRepo, app.Payments, sweeper.Config{
		Interval:  app.Config.Sweeper.Interval,
		MinAge:    app.Config.Sweeper.MinAge,
		BatchSize: app.Config.Sweeper.BatchSize,
	}, log)
	cronScheduler, err := sw.Start()
	if err != nil {
		log.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	baseHandler := transport.NewBaseHandler(log)
	webhookHandler := paymentpkg.NewWebhookHandler(baseHandler, app.Registry, app.Payments, log)
	paymentHandler := paymentpkg.NewHandler(app.Payments, log)
	rest.RegisterAllRoutes(router, app.DB.DB, app.AuthHandler, paymentHandler, webhookHandler, log)

	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: app.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       app.Config.Server.ReadTimeout,
		WriteTimeout:      app.Config.Server.WriteTimeout,
		IdleTimeout:       app.Config.Server.IdleTimeout,
	}

	log.Info("starting HTTP server", "address", addr, "providers", app.Registry.Providers())

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		log.Info("received signal, shutting down", "signal", sig)
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed to start", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cronScheduler.Stop()
	cancel()
	if dispatcher != nil {
		dispatcher.Shutdown()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if botLock != nil {
		_ = botLock.Unlock()
	}
	if err := app.DB.Close(); err != nil {
		log.Error("database close error", "error", err)
	}

	log.Info("server stopped")
}
