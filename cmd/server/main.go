package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rongwang/fundchain-server/internal/api"
	"github.com/rongwang/fundchain-server/internal/config"
	"github.com/rongwang/fundchain-server/internal/gateway"
	"github.com/rongwang/fundchain-server/internal/notify"
	"github.com/rongwang/fundchain-server/internal/repository"
	"github.com/rongwang/fundchain-server/internal/service"
	"github.com/rongwang/fundchain-server/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "fundchain-server",
		Usage: "transaction lifecycle and investment validation engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				EnvVars: []string{"FUNDCHAIN_CONFIG"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fundchain-server: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	// Load configuration
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	log, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	repo, closeRepo, err := setupRepository(cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	notifier, closeNotifier, err := setupNotifier(cfg, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	// Create service
	svc := service.NewDefaultService(repo, setupGateway(cfg, log), notifier, log, service.Options{
		RevalidateOnConfirm: cfg.Engine.RevalidateOnConfirm,
		OrgWalletCurrency:   cfg.Engine.OrgWalletCurrency,
	})

	// Create API handler
	handler := api.NewHandler(svc, log, api.Options{
		JWTSecret:              []byte(cfg.Auth.JWTSecret),
		StaffRoles:             cfg.Auth.StaffRoles,
		IssuerRoles:            cfg.Auth.IssuerRoles,
		BroadcastRatePerSecond: cfg.Engine.BroadcastRatePerSecond,
		BroadcastBurst:         cfg.Engine.BroadcastBurst,
	})

	// Set up Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.SetupRoutes(router)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func setupRepository(cfg *config.Config, log logrus.FieldLogger) (repository.Repository, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn("using the in-memory ledger, records are lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil
	}

	// Set up database connection
	db, err := config.SetupDatabase(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up database: %w", err)
	}
	return repository.NewPostgresRepository(db), func() { db.Close() }, nil
}

func setupGateway(cfg *config.Config, log logrus.FieldLogger) gateway.Gateway {
	if cfg.Gateway.Driver == config.GatewayStub {
		log.Warn("using the stub blockchain gateway, nothing reaches a chain")
		return gateway.NewStub()
	}
	return gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout,
		log.WithField("component", "gateway"))
}

func setupNotifier(cfg *config.Config, log logrus.FieldLogger) (notify.Notifier, func(), error) {
	if cfg.Nats.Address == "" {
		return notify.NewLogNotifier(log.WithField("component", "notify")), func() {}, nil
	}

	publisher, err := notify.NatsConnect(cfg.Nats)
	if err != nil {
		return nil, nil, err
	}
	return publisher, func() {
		if err := publisher.Disconnect(); err != nil {
			log.WithError(err).Warn("failed to drain nats connection")
		}
	}, nil
}
