package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"phishgrid/config"
	"phishgrid/controllers"
	"phishgrid/phishing"
	"phishgrid/reporting"
	"phishgrid/routes"
	"phishgrid/templates"
	"phishgrid/utils"
	"phishgrid/worker"
)

func main() {
	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if dsn := config.AppConfig.SentryDSN; dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			log.Printf("Sentry initialization failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if err := config.ConnectDB(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	registry := phishing.NewLandingRegistry()
	jobs := phishing.NewJobTable()

	// Events go to the reporting service when a callback URI is configured,
	// otherwise straight into the local events table.
	var recorder reporting.Recorder
	if uri := config.AppConfig.ReportCallbackURI; uri != "" {
		recorder = reporting.NewHTTPRecorder(uri, config.AppConfig.APIKey, config.AppConfig.CollaboratorTimeout)
	} else {
		recorder = reporting.NewGormRecorder(config.DB)
	}

	correlator := phishing.NewEventCorrelator(
		registry, jobs, recorder,
		config.AppConfig.CollaboratorTimeout,
		log.New(os.Stdout, "[correlator] ", log.LstdFlags),
	)

	dispatchLog := logrus.New()
	dispatchLog.SetFormatter(&logrus.JSONFormatter{})
	scheduler := phishing.NewDispatchScheduler(
		int64(config.AppConfig.DispatchMaxConcurrent),
		jobs, correlator, utils.GomailSender{},
		config.AppConfig.TrackingBaseURL, dispatchLog,
	)

	templateClient := templates.NewClient(
		config.AppConfig.TemplatesURI,
		config.AppConfig.APIKey,
		config.AppConfig.CollaboratorTimeout,
	)

	coordinator := phishing.NewCoordinator(
		registry, scheduler, correlator, jobs, templateClient,
		config.AppConfig.TrackingBaseURL,
		log.New(os.Stdout, "[coordinator] ", log.LstdFlags),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if config.AppConfig.ReportMailbox.Enabled {
		go worker.NewReportWatcher(config.AppConfig.ReportMailbox, correlator).Start(ctx)
	}

	app := fiber.New(fiber.Config{
		AppName:      "phishgrid",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(recover.New())
	if config.AppConfig.Environment != "production" {
		app.Use(fiberlogger.New())
	}

	routes.SetupRoutes(app,
		controllers.NewLaunchController(coordinator),
		controllers.NewEventController(correlator, registry),
		controllers.NewWorkerController(),
		controllers.NewProgressController(coordinator, jobs),
	)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Println("Shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	log.Printf("Starting server on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
