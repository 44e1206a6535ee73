package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"site-forms/internal/api"
	"site-forms/internal/config"
	"site-forms/internal/logging"
	"site-forms/internal/notify"
	"site-forms/internal/security"
	"site-forms/internal/store"
)

type admissionBackend interface {
	api.RateLimiter
	security.Sweeper
}

type duplicateBackend interface {
	api.DuplicateDetector
	security.Sweeper
}

func main() {
	cmd := &cli.Command{
		Name:  "site-forms",
		Usage: "rate-limited, CSRF-protected form endpoints for the website",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server",
				Action: serve,
			},
			{
				Name:  "issue-token",
				Usage: "print a signed CSRF token (uses CSRF_SECRET_KEY)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "value", Usage: "token value; random when empty"},
					&cli.DurationFlag{Name: "ttl", Value: security.DefaultCSRFTokenTTL, Usage: "token lifetime"},
				},
				Action: issueToken,
			},
		},
		Action: serve,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, _ *cli.Command) error {
	logger := logging.NewFromEnv()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	csrf, err := security.NewCSRFValidator(cfg.CSRFSecret, logger.Named("csrf"))
	if err != nil {
		return err
	}

	var limiter admissionBackend = security.NewFixedWindowLimiter(cfg.RateWindow, nil)
	var dedupe duplicateBackend = security.NewDuplicateDetector()

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		pingErr := redisClient.Ping(pingCtx).Err()
		cancel()
		if pingErr != nil {
			logger.Warn("redis unreachable, using in-memory rate limits", zap.Error(pingErr))
		} else {
			logger.Info("redis connected, sharing rate limits and dedupe", zap.String("addr", cfg.RedisAddr))
			limiter = security.NewRedisFixedWindowLimiter(redisClient, cfg.RedisKeyPrefix, cfg.RateWindow, logger.Named("ratelimit"))
			dedupe = security.NewRedisDuplicateDetector(redisClient, cfg.RedisKeyPrefix, logger.Named("dedupe"))
		}
	}

	submissions, err := store.NewSubmissionStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open submission store: %w", err)
	}

	webhook := notify.NewWebhook(cfg.WebhookURL, cfg.WebhookTimeout)
	if !webhook.Enabled() {
		logger.Info("WEBHOOK_URL not set, submissions are stored locally only")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go security.RunCleanup(ctx, limiter, cfg.CleanupInterval, logger.Named("ratelimit"))
	go security.RunCleanup(ctx, dedupe, cfg.CleanupInterval, logger.Named("dedupe"))

	srv := api.NewServer(cfg, logger, limiter, dedupe, csrf, submissions, webhook)

	logger.Info("site-forms listening", zap.String("port", cfg.Port))
	return srv.Run(ctx)
}

func issueToken(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	csrf, err := security.NewCSRFValidator(cfg.CSRFSecret, nil)
	if err != nil {
		return err
	}

	token, expiresAt, err := csrf.Issue(cmd.String("value"), cmd.Duration("ttl"))
	if err != nil {
		return err
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
