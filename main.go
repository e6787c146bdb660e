package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/robfig/cron/v3"

	"github.com/kaptiv/sequencer/config"
	"github.com/kaptiv/sequencer/credential"
	"github.com/kaptiv/sequencer/jobqueue"
	"github.com/kaptiv/sequencer/mailer"
	"github.com/kaptiv/sequencer/oauthflow"
	"github.com/kaptiv/sequencer/replycheck"
	"github.com/kaptiv/sequencer/routes"
	"github.com/kaptiv/sequencer/sequencer"
	"github.com/kaptiv/sequencer/starter"
	"github.com/kaptiv/sequencer/worker"
)

func main() {
	logger := log.New(os.Stdout, "SEQUENCER: ", log.Ldate|log.Ltime|log.Lshortfile)

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: config.AppConfig.Environment}); err != nil {
			logger.Printf("sentry init failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}

	oauthCfg := mailer.NewOAuthConfig(
		config.AppConfig.Google.ClientID,
		config.AppConfig.Google.ClientSecret,
		config.AppConfig.Google.RedirectURI,
	)

	credentials := credential.NewStore(config.DB)
	jobs := jobqueue.NewStore(config.DB)
	mailSender := mailer.NewGmailSender(oauthCfg)
	replyDetector := replycheck.NewGmailDetector(oauthCfg)
	seq := sequencer.New(config.DB, jobs, replyDetector, nil)
	seqStarter := starter.New(config.DB, jobs)
	oauthFlow := oauthflow.New(config.DB, oauthCfg, credentials)

	workerLogger := log.New(os.Stdout, "WORKER: ", log.Ldate|log.Ltime|log.Lshortfile)
	wk := worker.New(config.DB, jobs, credentials, mailSender, replyDetector, seq, config.AppConfig.JobBatchSize, workerLogger)
	wk.DailySendCap = config.AppConfig.DailySendCap

	go credentials.RunDailyReset(log.New(os.Stdout, "CREDENTIAL: ", log.Ldate|log.Ltime))

	app := fiber.New()
	routes.SetupRoutes(app, routes.Deps{
		DB:          config.DB,
		Credentials: credentials,
		Mailer:      mailSender,
		OAuthFlow:   oauthFlow,
		Starter:     seqStarter,
		Worker:      wk,
	})

	// In non-production, self-trigger the worker tick so a developer
	// doesn't need an external cron hitting /api/run_scheduled_jobs.
	if config.AppConfig.Environment != "production" {
		c := cron.New()
		if _, err := c.AddFunc("@every 1m", func() {
			summary := wk.Tick(context.Background())
			workerLogger.Printf("self-trigger tick: %+v", summary)
		}); err != nil {
			logger.Printf("failed to schedule self-trigger: %v", err)
		} else {
			c.Start()
			defer c.Stop()
		}
	}

	logger.Printf("server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("failed to start server: %v", err)
	}
}
