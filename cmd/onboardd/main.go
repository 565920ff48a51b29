// Command onboardd serves the onboarding API and the built front end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/GoCodeAlone/onboarding/api"
	"github.com/GoCodeAlone/onboarding/config"
	"github.com/GoCodeAlone/onboarding/crm"
	"github.com/GoCodeAlone/onboarding/kyc"
	"github.com/GoCodeAlone/onboarding/oauth"
	"github.com/GoCodeAlone/onboarding/observability"
	"github.com/GoCodeAlone/onboarding/recaptcha"
	"github.com/GoCodeAlone/onboarding/session"
	"github.com/GoCodeAlone/onboarding/sumsub"
)

var version = "dev"

var (
	configFile = flag.String("config", "", "Path to an optional YAML configuration file")
	logFormat  = flag.String("log-format", "", "Log output format: text or json (overrides LOG_FORMAT)")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "onboardd: %v\n", err)
		os.Exit(1)
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger := newLogger(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// closer releases a resource on shutdown.
type closer struct {
	name string
	fn   func() error
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].fn(); err != nil {
				logger.Warn("shutdown", "component", closers[i].name, "error", err)
			}
		}
	}()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Endpoint:       cfg.Tracing.Endpoint,
		ServiceName:    "onboardd",
		ServiceVersion: version,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	closers = append(closers, closer{"tracing", func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(sctx)
	}})

	metrics := observability.NewMetrics("onboarding")

	breaker := crm.NewBreaker(cfg.CRM.Breaker)
	breaker.OnStateChange(func(from, to crm.BreakerState) {
		metrics.BreakerChanged(from, to)
		logger.Warn("crm circuit breaker changed state", "from", from.String(), "to", to.String())
	})
	crmClient, err := crm.New(crm.Options{
		BaseURL:      cfg.CRM.BaseURL,
		APIKey:       cfg.CRM.APIKey,
		Breaker:      breaker,
		Observer:     metrics,
		Logger:       logger,
		CountriesTTL: cfg.CRM.CacheDuration(),
	})
	if err != nil {
		return fmt.Errorf("crm client: %w", err)
	}

	sessions, err := session.NewCodec(session.Options{
		Name:   cfg.Session.CookieName,
		Secret: []byte(cfg.Session.Secret),
		Salt:   []byte(cfg.Session.Salt),
		Secure: cfg.Production(),
	})
	if err != nil {
		return fmt.Errorf("session codec: %w", err)
	}

	sumsubClient, err := sumsub.New(sumsub.Options{
		BaseURL:   cfg.Sumsub.BaseURL,
		AppToken:  cfg.Sumsub.AppToken,
		SecretKey: cfg.Sumsub.SecretKey,
		LevelName: cfg.Sumsub.LevelName,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("sumsub client: %w", err)
	}

	var cache kyc.Cache
	if cfg.Redis.URL != "" {
		rc, err := kyc.DialRedis(ctx, cfg.Redis.URL, cfg.Redis.Prefix)
		if err != nil {
			return err
		}
		closers = append(closers, closer{"redis", rc.Close})
		cache = rc
		logger.Info("verification cache", "backend", "redis")
	} else {
		mc := kyc.NewMemoryCache()
		go sweep(ctx, mc, time.Minute)
		cache = mc
		logger.Info("verification cache", "backend", "memory")
	}

	kycOpts := kyc.Options{
		Cache:    cache,
		CRM:      crmClient,
		Recorder: metrics,
		Logger:   logger,
	}
	if cfg.NATS.URL != "" {
		pub, err := kyc.DialNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return err
		}
		closers = append(closers, closer{"nats", pub.Close})
		kycOpts.Publisher = pub
	}
	kycSvc := kyc.NewService(kycOpts)

	assessor, err := recaptcha.NewGoogleAssessor(ctx, recaptcha.GoogleOptions{
		ProjectID:       cfg.Recaptcha.ProjectID,
		SiteKey:         cfg.Recaptcha.SiteKey,
		APIKey:          cfg.Recaptcha.APIKey,
		CredentialsFile: cfg.Recaptcha.CredentialsFile,
	})
	if err != nil {
		return fmt.Errorf("recaptcha: %w", err)
	}

	origins := api.NewOriginList(cfg.AllowedOrigins)
	if len(cfg.AllowedOrigins) == 0 {
		logger.Warn("ALLOWED_ORIGINS is empty; every cross-origin request will be rejected")
	}

	router, err := api.NewRouter(api.Services{
		CRM:       crmClient,
		Sessions:  sessions,
		Recaptcha: recaptcha.NewVerifier(assessor, logger),
		Social: map[string]oauth.Exchanger{
			"google": oauth.NewGoogle(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.GoogleRedirectURI()),
		},
		Tokens: sumsubClient,
		KYC:    kycSvc,
	}, api.Config{
		Origins:       origins,
		StaticDir:     cfg.StaticDir,
		WebhookSecret: []byte(cfg.Sumsub.WebhookSecret),
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	closers = append(closers, closer{"router", func() error { router.Stop(); return nil }})

	if *configFile != "" {
		w := config.NewWatcher(*configFile, func(evt config.ChangeEvent) {
			origins.Set(evt.Config.AllowedOrigins)
			logger.Info("allowed origins reloaded", "count", len(evt.Config.AllowedOrigins))
		}, config.WithWatchLogger(logger))
		if err := w.Start(); err != nil {
			logger.Warn("config hot reload disabled", "error", err)
		} else {
			closers = append(closers, closer{"config watcher", w.Stop})
		}
	}

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return serve(ctx, server, logger)
}

// serve runs server until ctx is cancelled, then drains connections.
func serve(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("onboarding server listening", "addr", server.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func sweep(ctx context.Context, mc *kyc.MemoryCache, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			mc.Sweep()
		}
	}
}
