package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	s3blob "github.com/alanyoungcy/insiderwatch/internal/blob/s3"
	"github.com/alanyoungcy/insiderwatch/internal/cache/memory"
	"github.com/alanyoungcy/insiderwatch/internal/cache/redis"
	"github.com/alanyoungcy/insiderwatch/internal/config"
	"github.com/alanyoungcy/insiderwatch/internal/crypto"
	"github.com/alanyoungcy/insiderwatch/internal/detector"
	"github.com/alanyoungcy/insiderwatch/internal/domain"
	"github.com/alanyoungcy/insiderwatch/internal/notify"
	"github.com/alanyoungcy/insiderwatch/internal/pipeline"
	"github.com/alanyoungcy/insiderwatch/internal/platform/kalshi"
	"github.com/alanyoungcy/insiderwatch/internal/ratelimit"
	"github.com/alanyoungcy/insiderwatch/internal/store/postgres"
	"github.com/alanyoungcy/insiderwatch/internal/store/sqlite"
)

// Store is a persistence backend the app can health-check.
type Store interface {
	domain.Store
	Ping(ctx context.Context) error
}

// Dependencies bundles every component the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Store Store

	// Redis is nil when redis.enabled is false or the server was unreachable
	// at startup; the in-process components are used instead.
	Redis    *redis.Client
	Gate     domain.RateGate
	Locks    domain.LockManager
	Baseline domain.BaselineCache
	Bus      domain.SignalBus

	// Exchange is nil for modes that never call the API.
	Exchange *kalshi.Client

	// S3 and Archiver are nil unless archive.enabled is set.
	S3       *s3blob.Client
	Archiver domain.Archiver

	Notifier  *notify.Notifier
	Detector  *detector.Detector
	Profiles  *detector.ProfileAggregator
	Ingester  *pipeline.Ingester
	Jobs      *pipeline.Jobs
	Scheduler *pipeline.Scheduler
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{}

	// --- Storage ---
	switch cfg.Storage.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}
		deps.Store = postgres.NewStore(pgClient)
	default:
		st, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return fail("sqlite", err)
		}
		closers = append(closers, func() { _ = st.Close() })
		deps.Store = st
	}

	// --- Redis, or in-process fallbacks ---
	local := ratelimit.NewLocal(cfg.Kalshi.MaxRPS)
	var rc *redis.Client
	if cfg.Redis.Enabled {
		c, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			logger.WarnContext(ctx, "redis unreachable, using in-process lock, cache, bus and rate gate",
				slog.String("addr", cfg.Redis.Addr),
				slog.String("error", err.Error()),
			)
		} else {
			rc = c
		}
	}
	if rc != nil {
		closers = append(closers, func() { _ = rc.Close() })

		deps.Redis = rc
		shared := redis.NewRateGate(rc, cfg.Redis.RateLimitKey, int(math.Ceil(cfg.Kalshi.MaxRPS)))
		deps.Gate = ratelimit.NewFallback(shared, local, logger)
		deps.Locks = redis.NewLockManager(rc)
		deps.Baseline = redis.NewBaselineCache(rc, cfg.Detection.BaselineCacheTTL.Duration)
		deps.Bus = redis.NewSignalBus(rc, cfg.Redis.ChannelPrefix)
	} else {
		deps.Gate = local
		deps.Locks = memory.NewLockManager()
		deps.Baseline = memory.NewBaselineCache(cfg.Detection.BaselineCacheTTL.Duration)
		deps.Bus = memory.NewSignalBus()
	}

	// --- Exchange client ---
	if cfg.NeedsExchange() {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			PEMPath:          cfg.Kalshi.RSAPrivateKeyPath,
			EncryptedKeyPath: cfg.Kalshi.EncryptedKeyPath,
			KeyPassword:      cfg.Kalshi.KeyPassword,
		})
		if err != nil {
			return fail("kalshi key", err)
		}
		client, err := kalshi.NewClient(kalshi.Config{
			BaseURL:       cfg.Kalshi.BaseURL,
			KeyID:         cfg.Kalshi.APIKey,
			Key:           key,
			Timeout:       cfg.Kalshi.RequestTimeout.Duration,
			Gate:          deps.Gate,
			Retry:         kalshi.NewRetryPolicy(cfg.Kalshi.RetryMaxAttempts, cfg.Kalshi.RetryInitialBackoff.Duration, cfg.Kalshi.RetryMaxBackoff.Duration),
			MaxConcurrent: cfg.Kalshi.MaxConcurrent,
			Logger:        logger,
		})
		if err != nil {
			return fail("kalshi client", err)
		}
		deps.Exchange = client
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.S3 = s3c
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3c, s3blob.DefaultPartSize),
			deps.Store.Trades(),
			deps.Store.Anomalies(),
			deps.Store.Audit(),
		)
	}

	// --- Notifications ---
	notifier, err := newNotifier(cfg.Notify, logger)
	if err != nil {
		return fail("notify", err)
	}
	deps.Notifier = notifier

	// --- Detection ---
	deps.Detector = detector.New(detectorConfig(cfg.Detection), detector.Deps{
		Store:   deps.Store,
		Cache:   deps.Baseline,
		Bus:     deps.Bus,
		Alerter: notifier,
		Logger:  logger,
	})
	deps.Profiles = detector.NewProfileAggregator(
		deps.Store.Trades(),
		deps.Store.Traders(),
		cfg.Profiles.LookbackDays,
		cfg.Profiles.WhaleThresholdUSD,
	)

	// --- Jobs ---
	if deps.Exchange != nil {
		deps.Ingester = pipeline.NewIngester(deps.Exchange, deps.Store, ingestConfig(cfg.Ingest), logger)
	}
	deps.Jobs = pipeline.NewJobs(pipeline.JobsDeps{
		Ingester:      deps.Ingester,
		Detector:      deps.Detector,
		Markets:       deps.Store.Markets(),
		Profiles:      deps.Profiles,
		Archiver:      deps.Archiver,
		RetentionDays: cfg.Archive.RetentionDays,
		Logger:        logger,
	})
	sched, err := newScheduler(cfg, deps, logger)
	if err != nil {
		return fail("scheduler", err)
	}
	deps.Scheduler = sched

	return deps, cleanup, nil
}

func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) (*notify.Notifier, error) {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		tg, err := notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, err
		}
		senders = append(senders, tg)
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	minSeverity, err := domain.ParseSeverity(cfg.MinSeverity)
	if err != nil {
		return nil, err
	}
	return notify.NewNotifier(senders, minSeverity, logger), nil
}

func detectorConfig(c config.DetectionConfig) detector.Config {
	return detector.Config{
		BaselineWindowDays:    c.BaselineWindowDays,
		MinBaselineTrades:     c.MinBaselineTrades,
		CurrentWindow:         c.CurrentWindow.Duration,
		VolumeZScoreThreshold: c.VolumeZScoreThreshold,
		VPINWindowTrades:      c.VPINWindowTrades,
		VPINMinTrades:         c.VPINMinTrades,
		WhaleThresholdUSD:     c.WhaleThresholdUSD,
		WhaleLookback:         c.WhaleLookback.Duration,
		CorrelationLookback:   c.CorrelationLookback.Duration,
		CorrelationMinTrades:  c.CorrelationMinTrades,
		CorrelationThreshold:  c.CorrelationThreshold,
		DedupWindow:           c.DedupWindow.Duration,
		Severity:              c.Severity,
	}
}

func ingestConfig(c config.IngestConfig) pipeline.IngestConfig {
	return pipeline.IngestConfig{
		Status:                 c.Status,
		Categories:             c.Categories,
		MaxEvents:              c.MaxEvents,
		PriorityPrefixes:       c.PriorityPrefixes,
		MaxMarkets:             c.MaxMarkets,
		TradeLookback:          c.TradeLookback.Duration,
		TradePageLimit:         c.TradePageLimit,
		MaxTradesPerMarket:     c.MaxTradesPerMarket,
		MaxConsecutiveFailures: c.MaxConsecutiveFailures,
		MaxParseErrors:         c.MaxParseErrors,
	}
}

// newScheduler registers every job the wired components can serve.
func newScheduler(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*pipeline.Scheduler, error) {
	sched := pipeline.NewScheduler(pipeline.SchedulerConfig{
		LockTTL:      cfg.Scheduler.JobLockTTL.Duration,
		MaxRetries:   uint64(cfg.Scheduler.JobMaxRetries),
		RetryInitial: cfg.Scheduler.JobRetryInitial.Duration,
		RetryMax:     cfg.Scheduler.JobRetryMax.Duration,
		RunOnStart:   cfg.Scheduler.RunOnStart,
	}, deps.Locks, deps.Bus, logger)

	jobs := []pipeline.Job{
		{Name: pipeline.JobDetect, Every: cfg.Detection.Interval.Duration},
		{Name: pipeline.JobProfiles, Every: cfg.Profiles.Interval.Duration},
	}
	if deps.Ingester != nil {
		jobs = append([]pipeline.Job{{Name: pipeline.JobIngest, Every: cfg.Ingest.Interval.Duration}}, jobs...)
	}
	if deps.Archiver != nil {
		schedule, err := pipeline.ParseCron(cfg.Archive.Cron)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, pipeline.Job{Name: pipeline.JobArchive, Cron: &schedule})
	}

	for _, job := range jobs {
		run, ok := deps.Jobs.Func(job.Name)
		if !ok {
			return nil, fmt.Errorf("%s: %w", job.Name, pipeline.ErrUnknownJob)
		}
		job.Run = run
		if err := sched.Add(job); err != nil {
			return nil, err
		}
	}
	logger.Info("scheduler configured", slog.String("jobs", strings.Join(sched.Jobs(), ",")))
	return sched, nil
}
