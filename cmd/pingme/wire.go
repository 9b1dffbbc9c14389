package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"pingme/internal/chain"
	"pingme/internal/config"
	"pingme/internal/decode"
	"pingme/internal/enrich"
	"pingme/internal/metrics"
	"pingme/internal/model"
	"pingme/internal/notify"
	"pingme/internal/notify/channel"
	"pingme/internal/pipeline"
	"pingme/internal/publish"
	"pingme/internal/storage"
	"pingme/internal/storage/postgres"
	"pingme/internal/storage/redisstore"
)

type stores interface {
	storage.EventStore
	storage.PreferenceStore
	storage.DeliveryStore
}

type app struct {
	watches  []model.ContractWatch
	pipeline *pipeline.Pipeline
	registry storage.PushRegistry
	metrics  *metrics.Metrics
	closers  []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires stores, enrichment and senders into a pipeline. publishEvents
// enables NATS publication when a URL is configured.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer, times decode.BlockTimer, publishEvents bool) (*app, error) {
	a := &app{metrics: metrics.New(reg)}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	watches, err := config.LoadWatchlist(cfg.Watchlist)
	if err != nil {
		return nil, err
	}
	a.watches = watches

	var seeds []config.UserSeed
	if cfg.Users != "" {
		seeds, err = config.LoadUsers(cfg.Users)
		if err != nil {
			return nil, err
		}
	}

	store, err := openStores(ctx, cfg, seeds, logger)
	if err != nil {
		return nil, err
	}
	if closer, isPG := store.(*postgres.Store); isPG {
		a.closers = append(a.closers, closer.Close)
	}

	a.registry, err = openRegistry(ctx, cfg, seeds, a)
	if err != nil {
		return nil, err
	}

	importance, err := decode.NewImportance(cfg.Importance)
	if err != nil {
		return nil, err
	}
	handlers, err := pipeline.ParseHandlers(cfg.Handlers)
	if err != nil {
		return nil, err
	}

	var gen enrich.Generator
	if cfg.AIAPIKey != "" {
		gemini, err := enrich.NewGeminiGenerator(ctx, cfg.AIAPIKey, cfg.AIModel)
		if err != nil {
			return nil, err
		}
		gen = gemini
	} else {
		logger.Warn("no ai api key configured, using fallback analyses")
	}
	analyzer := enrich.NewAnalyzer(gen, enrich.Config{Timeout: cfg.AITimeout, BatchDelay: cfg.AIBatchDelay}, logger.Named("enrich"), a.metrics)

	var deliveries storage.DeliveryStore = store
	if cfg.AuditOut != "" {
		deliveries = storage.MultiDeliveryStore{store, storage.NewJsonlAudit(cfg.AuditOut)}
	}

	var opts []notify.ManagerOption
	if cfg.EnforceRateLimit {
		opts = append(opts, notify.WithRateLimit(notify.NewRateLimiter()))
	}
	manager := notify.NewManager(buildSenders(cfg, a.registry, logger), store, deliveries, logger.Named("notify"), a.metrics, opts...)

	var publisher pipeline.Publisher
	if publishEvents && cfg.NATSURL != "" {
		pub, err := publish.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, logger.Named("publish"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close publisher", zap.Error(err))
			}
		})
		publisher = pub
	}

	a.pipeline = pipeline.New(pipeline.Options{
		Decoder:     decode.NewDecoder(watches, times, importance, logger.Named("decode"), a.metrics),
		Events:      store,
		Preferences: store,
		Analyzer:    analyzer,
		Notifier:    manager,
		Publisher:   publisher,
		Handlers:    handlers,
		BatchWindow: cfg.BatchWindow,
		Logger:      logger.Named("pipeline"),
		Metrics:     a.metrics,
	})
	a.closers = append(a.closers, a.pipeline.Close)

	ok = true
	return a, nil
}

func openStores(ctx context.Context, cfg config.Config, seeds []config.UserSeed, logger *zap.Logger) (stores, error) {
	if cfg.PostgresDSN == "" {
		logger.Warn("no pg dsn configured, using in-memory stores")
		mem := storage.NewMemory()
		for _, seed := range seeds {
			mem.PutPreference(seed.Preference)
			mem.PutContact(seed.Contact)
		}
		return mem, nil
	}

	pg, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	for _, seed := range seeds {
		if err := pg.PutPreference(ctx, seed.Preference); err != nil {
			pg.Close()
			return nil, fmt.Errorf("seed preference %s: %w", seed.Preference.UserID, err)
		}
		if err := pg.PutContact(ctx, seed.Contact); err != nil {
			pg.Close()
			return nil, fmt.Errorf("seed contact %s: %w", seed.Contact.UserID, err)
		}
	}
	return pg, nil
}

func openRegistry(ctx context.Context, cfg config.Config, seeds []config.UserSeed, a *app) (storage.PushRegistry, error) {
	var registry storage.PushRegistry
	if cfg.RedisAddr != "" {
		rr, err := redisstore.NewRegistry(ctx, redisstore.Config{Addr: cfg.RedisAddr, KeyPrefix: "pingme:"})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rr.Close() })
		registry = rr
	} else {
		registry = storage.NewMemoryPushRegistry()
	}

	for _, seed := range seeds {
		for _, sub := range seed.Subscriptions {
			if err := registry.AddSubscription(ctx, seed.Preference.UserID, sub); err != nil {
				return nil, fmt.Errorf("seed push subscription %s: %w", seed.Preference.UserID, err)
			}
		}
	}
	return registry, nil
}

func buildSenders(cfg config.Config, registry storage.PushRegistry, logger *zap.Logger) map[model.Channel]notify.Sender {
	if cfg.DevSenders {
		return map[model.Channel]notify.Sender{
			model.ChannelEmail: channel.NewLog(model.ChannelEmail, logger.Named("email")),
			model.ChannelSMS:   channel.NewLog(model.ChannelSMS, logger.Named("sms")),
			model.ChannelPush:  channel.NewLog(model.ChannelPush, logger.Named("push")),
		}
	}

	senders := make(map[model.Channel]notify.Sender)
	if cfg.SMTP.Host != "" {
		senders[model.ChannelEmail] = channel.NewEmail(channel.EmailConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, logger.Named("email"))
	}
	if cfg.SMS.GatewayURL != "" {
		senders[model.ChannelSMS] = channel.NewSMS(channel.SMSConfig{
			GatewayURL: cfg.SMS.GatewayURL,
			APIKey:     cfg.SMS.APIKey,
			APISecret:  cfg.SMS.APISecret,
			From:       cfg.SMS.From,
		}, nil, logger.Named("sms"))
	}
	if cfg.PushGatewayURL != "" {
		senders[model.ChannelPush] = channel.NewPush(cfg.PushGatewayURL, registry, nil, logger.Named("push"))
	}
	if len(senders) == 0 {
		logger.Warn("no channel senders configured; enable dev-senders to log notifications")
	}
	return senders
}

// liveClient resolves block timestamps through the most recently dialed session.
type liveClient struct {
	current atomic.Pointer[chain.Client]
}

func (l *liveClient) set(c *chain.Client) {
	l.current.Store(c)
}

func (l *liveClient) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	c := l.current.Load()
	if c == nil {
		return 0, errors.New("no live connection")
	}
	return c.BlockTimestamp(ctx, number)
}
