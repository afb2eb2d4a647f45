package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	nodeconfig "occrlend/config"
	"occrlend/core"
	"occrlend/integrations/webhooks"
	"occrlend/observability"
	"occrlend/observability/logging"
	telemetry "occrlend/observability/otel"
	"occrlend/services/lending/history"
	"occrlend/services/lending/idempotency"
	lendingserver "occrlend/services/lending/server"
	"occrlend/services/lendingd/config"
	"occrlend/storage"
)

const pruneInterval = 15 * time.Minute

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	_ = godotenv.Load()

	env := strings.TrimSpace(os.Getenv("OCCR_ENV"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.SetupWithOptions("lendingd", env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("lendingd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := run(cfg, env, logger); err != nil {
		logger.Error("lendingd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, env string, logger *slog.Logger) error {
	nodeCfg, err := nodeconfig.Load(cfg.NodeConfig)
	if err != nil {
		return fmt.Errorf("load node config: %w", err)
	}
	metrics := observability.Lending()
	opts, err := nodeCfg.NodeOptions(logger, metrics)
	if err != nil {
		return err
	}
	db, err := storage.NewLevelDB(filepath.Join(nodeCfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	node, err := core.NewNode(db, opts)
	if err != nil {
		db.Close()
		return fmt.Errorf("start node: %w", err)
	}
	defer node.Close()
	node.Subscribe(metrics)

	var hist *history.Store
	if cfg.History.Driver != "" {
		hist, err = history.Open(cfg.History.Driver, cfg.History.DSN, logger)
		if err != nil {
			return err
		}
		defer hist.Close()
		node.Subscribe(hist)
		logger.Info("event history enabled",
			slog.String("driver", cfg.History.Driver),
			logging.MaskField("dsn", cfg.History.DSN),
		)
	}

	if cfg.Webhook.URL != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.URL, []byte(cfg.Webhook.Secret()),
			webhooks.WithEventTypes(cfg.Webhook.Events...),
			webhooks.WithLogger(logger),
		)
		if err != nil {
			return err
		}
		defer dispatcher.Close()
		node.Subscribe(dispatcher)
		logger.Info("webhook forwarding enabled", logging.MaskField("url", cfg.Webhook.URL))
	}

	idemPath := cfg.Idempotency.Path
	if idemPath == "" {
		idemPath = filepath.Join(nodeCfg.DataDir, "idempotency.db")
	}
	idem, err := idempotency.Open(idemPath, nil)
	if err != nil {
		return fmt.Errorf("open idempotency store: %w", err)
	}
	defer idem.Close()

	limits := make(map[string]lendingserver.RateLimit, len(cfg.RateLimits))
	for class, limit := range cfg.RateLimits {
		limits[class] = lendingserver.RateLimit{RequestsPerMinute: limit.RequestsPerMinute, Burst: limit.Burst}
	}
	srvCfg := lendingserver.Config{
		Node: node,
		Auth: lendingserver.AuthConfig{
			Enabled:    !cfg.Auth.Disabled,
			HMACSecret: cfg.Auth.Secret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimits:     limits,
		Idempotency:    idem,
		IdempotencyTTL: cfg.Idempotency.TTL,
		Metrics:        metrics,
		OriginPatterns: cfg.Origins,
		Logger:         logger,
	}
	if hist != nil {
		srvCfg.History = hist
	}
	srv, err := lendingserver.New(srvCfg)
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			_ = listener.Close()
			return errors.New("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}
	listener = netutil.LimitListener(listener, cfg.MaxConnections)

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	if cfg.TLS.Enabled() {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			return fmt.Errorf("load tls keypair: %w", err)
		}
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
		listener = tls.NewListener(listener, httpServer.TLSConfig)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("lendingd listening",
			slog.String("address", cfg.ListenAddress),
			slog.String("pool", node.PoolAddress().Hex()),
			slog.Bool("tls", cfg.TLS.Enabled()),
		)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				removed, err := idem.Prune(now)
				if err != nil {
					logger.Warn("idempotency prune failed", slog.Any("error", err))
					continue
				}
				if removed > 0 {
					logger.Debug("idempotency records pruned", slog.Int("removed", removed))
				}
			}
		}
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			return httpServer.Close()
		}
		return nil
	})
	return group.Wait()
}
