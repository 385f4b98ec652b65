package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	sentry "github.com/getsentry/sentry-go"
	telego "github.com/mymmrac/telego"

	"tgmirror/internal/app"
	"tgmirror/internal/config"
	"tgmirror/internal/platform/gotdclient"
	"tgmirror/internal/session"
	"tgmirror/internal/stats"
	"tgmirror/pkg/telegoapi"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Initialize Sentry (if DSN is provided)
	err = sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.AppEnv,
		Release:     cfg.Version,
		Debug:       cfg.Debug,
	})
	if err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	defer sentry.Flush(2 * time.Second)

	// Application lifecycle context: Ctrl-C requests a graceful stop.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Session client factory.
	factory, err := gotdclient.Factory(gotdclient.Options{
		APIID:       cfg.APIID,
		APIHash:     cfg.APIHash,
		SessionsDir: cfg.SessionsDir,
		ProxyURL:    cfg.ProxyURL,
	})
	if err != nil {
		sentry.CaptureException(err)
		log.Fatalf("Failed to create session factory: %v", err)
	}
	pool := session.NewPool(session.PoolConfig{
		SessionsDir:  cfg.SessionsDir,
		Names:        cfg.SessionNames,
		StaggerDelay: cfg.StaggerDelay,
	}, factory)

	// Bot instance, only when publishing is configured.
	var botAPI telegoapi.BotAPI
	if cfg.PublishingEnabled() {
		var bot *telego.Bot
		if cfg.Debug {
			bot, err = telego.NewBot(cfg.BotToken, telego.WithDefaultDebugLogger())
		} else {
			bot, err = telego.NewBot(cfg.BotToken, telego.WithDefaultLogger(false, false))
		}
		if err != nil {
			sentry.CaptureException(err)
			log.Fatalf("Failed to create telego bot: %v", err)
		}
		botAPI = bot
	}

	application, err := app.New(cfg, pool, botAPI)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal(err)
	}

	snapshot, runErr := application.Run(ctx)
	interrupted := errors.Is(ctx.Err(), context.Canceled)
	if runErr != nil {
		sentry.CaptureException(runErr)
		log.Printf("Run failed: %v", runErr)
		if !interrupted {
			return stats.ExitFailed
		}
	}
	return stats.ExitCode(snapshot, interrupted)
}
