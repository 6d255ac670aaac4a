package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/farandaway89/scada-ai-system/internal/broadcast"
	"github.com/farandaway89/scada-ai-system/internal/config"
	"github.com/farandaway89/scada-ai-system/internal/core"
	"github.com/farandaway89/scada-ai-system/internal/history"
	"github.com/farandaway89/scada-ai-system/internal/metrics"
	"github.com/farandaway89/scada-ai-system/internal/notify"
	"github.com/farandaway89/scada-ai-system/internal/relay"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	m := metrics.New()

	// Optional NATS relay. When disabled the engine runs standalone.
	var (
		nc  *nats.Conn
		rel *relay.Relay
	)
	if cfg.NATS.Enabled {
		nc, err = connectNATS(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
		}
		defer nc.Close()

		logger.Info("Connected to NATS successfully",
			zap.String("url", nc.ConnectedUrl()))

		js, err := nc.JetStream(nats.PublishAsyncErrHandler(func(_ nats.JetStream, msg *nats.Msg, err error) {
			logger.Error("Async publish failed",
				zap.String("subject", msg.Subject),
				zap.Error(err))
		}))
		if err != nil {
			logger.Fatal("Failed to create JetStream context", zap.Error(err))
		}

		rel, err = relay.New(js, logger)
		if err != nil {
			logger.Fatal("Failed to set up event relay", zap.Error(err))
		}
	}

	// Optional sample/alert history with scheduled retention sweeps.
	var (
		store     *history.Store
		retention *history.Retention
	)
	historyCtx, stopHistory := context.WithCancel(context.Background())
	defer stopHistory()
	if cfg.History.Enabled {
		store, err = history.NewStore(cfg.History.Path, logger)
		if err != nil {
			logger.Fatal("Failed to open history store", zap.Error(err))
		}
		store.Start(historyCtx)

		maxAge := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
		retention, err = history.NewRetention(store, cfg.History.RetentionSchedule, maxAge, logger)
		if err != nil {
			logger.Fatal("Failed to schedule history retention", zap.Error(err))
		}
		retention.Start()
	}

	routing, err := cfg.Notify.RoutingPolicy()
	if err != nil {
		logger.Fatal("Invalid notification routing", zap.Error(err))
	}

	healthInterval := time.Duration(0)
	if cfg.Health.Enabled {
		healthInterval = cfg.Health.Interval
	}

	sys := core.New(core.Options{
		BufferCapacity:     cfg.Buffer.Capacity,
		MaxPoints:          cfg.Scan.MaxPoints,
		EvaluationInterval: cfg.Alerting.EvaluationInterval,
		HealthInterval:     healthInterval,
		Routing:            routing,
		Channels:           buildChannels(cfg.Notify),
		Metrics:            m,
		History:            store,
		Relay:              rel,
	}, logger)

	for _, pc := range cfg.Points {
		point, err := pc.ToModel()
		if err != nil {
			logger.Fatal("Invalid point configuration",
				zap.String("point_id", pc.ID),
				zap.Error(err))
		}
		if err := sys.AddPoint(point); err != nil {
			logger.Fatal("Failed to register point",
				zap.String("point_id", point.ID),
				zap.Error(err))
		}
	}
	for _, rc := range cfg.Rules {
		rule, err := rc.ToModel()
		if err != nil {
			logger.Fatal("Invalid rule configuration",
				zap.String("rule_id", rc.ID),
				zap.Error(err))
		}
		if err := sys.AddRule(rule); err != nil {
			logger.Fatal("Failed to register rule",
				zap.String("rule_id", rule.ID),
				zap.Error(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sys.Start(ctx); err != nil {
		logger.Fatal("Failed to start monitoring core", zap.Error(err))
	}

	server := broadcast.NewServer(cfg.Server.Addr, sys.Hub(), m, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("Websocket server failed", zap.Error(err))
		}
	}()

	logger.Info("SCADA core started",
		zap.String("app", cfg.App.Name),
		zap.String("addr", cfg.Server.Addr),
		zap.Int("points", len(cfg.Points)),
		zap.Int("rules", len(cfg.Rules)),
		zap.Bool("nats", cfg.NATS.Enabled),
		zap.Bool("history", cfg.History.Enabled))

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Websocket server shutdown failed", zap.Error(err))
	}

	sys.Stop()

	if retention != nil {
		retention.Stop()
	}
	if store != nil {
		stopHistory()
		if err := store.Close(); err != nil {
			logger.Error("Failed to close history store", zap.Error(err))
		}
	}

	if rel != nil {
		if err := rel.Flush(5 * time.Second); err != nil {
			logger.Warn("Relay flush incomplete", zap.Error(err))
		}
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logger.Error("NATS drain failed", zap.Error(err))
		}
	}

	logger.Info("Server shutting down gracefully")
}

// connectNATS dials the broker with a short linear backoff so a broker
// that is still coming up does not kill startup.
func connectNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024), // 5MB
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("NATS connection error", zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(strings.Join(cfg.NATS.URLs, ","), opts...)
		if err == nil {
			return nc, nil
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	return nil, err
}

// buildChannels assembles the delivery channels that carry enough
// configuration to be usable. Anything unconfigured is skipped.
func buildChannels(cfg config.NotifyConfig) []notify.Channel {
	var channels []notify.Channel
	if len(cfg.Webhook.URLs) > 0 {
		channels = append(channels, notify.NewWebhookChannel(cfg.Webhook.URLs...))
	}
	if cfg.Email.Host != "" {
		channels = append(channels, notify.NewEmailChannel(notify.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
		}))
	}
	if cfg.SMS.AccountSID != "" {
		channels = append(channels, notify.NewSMSChannel(notify.SMSConfig{
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  cfg.SMS.AuthToken,
			From:       cfg.SMS.From,
			To:         cfg.SMS.To,
		}))
	}
	if cfg.Slack.WebhookURL != "" {
		channels = append(channels, notify.NewSlackChannel(cfg.Slack.WebhookURL))
	}
	return channels
}
