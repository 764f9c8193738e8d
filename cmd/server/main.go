package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"

	"antigravity2api-go/internal/config"
	"antigravity2api-go/internal/constants"
	"antigravity2api-go/internal/credential"
	"antigravity2api-go/internal/events"
	"antigravity2api-go/internal/handlers/admin"
	"antigravity2api-go/internal/handlers/openai"
	"antigravity2api-go/internal/logging"
	"antigravity2api-go/internal/monitoring/tracing"
	"antigravity2api-go/internal/oauth"
	"antigravity2api-go/internal/queue"
	srv "antigravity2api-go/internal/server"
	"antigravity2api-go/internal/upstream"
	"antigravity2api-go/internal/version"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if *debug {
		cfg.Security.Debug = true
	}

	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	defer func() {
		if err := traceShutdown(context.Background()); err != nil {
			log.WithError(err).Warn("failed to shutdown tracing")
		}
	}()

	log.Infof("Starting antigravity2api-go %s (config: %s)", version.Version, *configPath)

	if strings.TrimSpace(cfg.OAuth.ClientID) == "" || strings.TrimSpace(cfg.OAuth.ClientSecret) == "" {
		log.Warn("OAuth client credentials are not configured; token refresh will fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := credential.NewStore(cfg.Credentials.File)
	defer store.Close()

	hub := events.NewHub()
	refresher := oauth.NewManager(oauth.Options{Config: cfg})

	credMgr, err := credential.NewManager(credential.ManagerOptions{
		Store:     store,
		Refresher: refresher,
		Config:    cfg,
		OnStatsChange: func() {
			hub.Publish(events.Event{Topic: events.TopicStatsUpdated})
		},
	})
	if err != nil {
		log.WithError(err).Fatal("failed to load credentials")
	}

	admission := queue.New(queue.Options{
		Concurrency: cfg.ResolveMaxConcurrent(credMgr.EnabledCount()),
		QueueLimit:  cfg.Concurrency.QueueLimit,
		Timeout:     cfg.QueueTimeout(),
	})

	go func() {
		if err := credMgr.Watch(ctx); err != nil && err != context.Canceled {
			log.WithError(err).Warn("credentials watcher stopped")
		}
	}()

	// Concurrency settings may be edited at runtime; the rest of the
	// configuration stays fixed until restart.
	if err := config.Watch(ctx, *configPath, func(next *config.Config) {
		cfg.Concurrency = next.Concurrency
		admission.SetConcurrency(next.ResolveMaxConcurrent(credMgr.EnabledCount()))
	}); err != nil {
		log.WithError(err).Warn("config watcher unavailable")
	}

	// Keep auto concurrency in step with the credential set.
	go func() {
		sub, unsubscribe := hub.Subscribe(events.TopicCredentialsChanged, events.TopicStatsUpdated)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-sub:
				if !ok {
					return
				}
				admission.SetConcurrency(cfg.ResolveMaxConcurrent(credMgr.EnabledCount()))
			}
		}
	}()

	client := upstream.NewClient(cfg)
	engine := upstream.NewEngine(upstream.EngineOptions{
		Credentials: credMgr,
		Client:      client,
		Config:      cfg,
	})
	catalog := upstream.NewModelCatalog(cfg, credMgr)

	deps := srv.Dependencies{
		Config: cfg,
		Chat: openai.NewHandler(openai.HandlerOptions{
			Config:  cfg,
			Engine:  engine,
			Queue:   admission,
			Catalog: catalog,
		}),
		Admin: admin.NewHandler(admin.HandlerOptions{
			Credentials: credMgr,
			Queue:       admission,
			Hub:         hub,
		}),
	}
	router := srv.Build(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.WithError(err).Errorf("failed to bind %s", addr)
		os.Exit(1)
	}

	httpSrv := &http.Server{Handler: router}
	go func() {
		log.Infof("API listening on %s", addr)
		if err := httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("Shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancelShutdown()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown incomplete")
	}
	log.Info("Server stopped")
}
