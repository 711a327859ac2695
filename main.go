package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"github.com/ubsconjuntos/agenda-backend/database"
	"github.com/ubsconjuntos/agenda-backend/internal/config"
	"github.com/ubsconjuntos/agenda-backend/internal/handlers"
	"github.com/ubsconjuntos/agenda-backend/internal/jobs"
	"github.com/ubsconjuntos/agenda-backend/internal/logger"
	"github.com/ubsconjuntos/agenda-backend/internal/routes"
	"github.com/ubsconjuntos/agenda-backend/internal/services"
	"github.com/ubsconjuntos/agenda-backend/internal/storage"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log := logger.Log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}
	if err := applySeed(ctx, cfg, store, log); err != nil {
		log.WithError(err).Fatal("Failed to load seed data")
	}

	var notifier services.Notifier = services.LogNotifier{Log: log}
	if cfg.Twilio.Configured() {
		twilioService, err := services.NewTwilioService(cfg.Twilio, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize Twilio service")
		}
		notifier = twilioService
		log.Info("✅ Twilio service initialized")
	} else {
		log.Warn("⚠️  Twilio credentials not found - reminders will only be logged")
	}

	conversation := services.NewConversationService(store, store, store, log)
	reminders := services.NewReminderService(store, notifier, services.ReminderWindow{
		Lower: cfg.ReminderWindowLower,
		Upper: cfg.ReminderWindowUpper,
	}, cfg.Location, log)

	var reminderJob *jobs.ReminderJob
	if cfg.ReminderInterval > 0 {
		reminderJob = jobs.NewReminderJob(reminders, cfg.ReminderInterval, log)
		reminderJob.Start(ctx)
	}

	app := fiber.New(fiber.Config{
		AppName: "UBS Agenda v" + version,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	routes.SetupRoutes(app, cfg, routes.Handlers{
		WhatsApp:  handlers.NewWhatsAppHandler(conversation, cfg.RequestTimeout, log),
		Reminders: handlers.NewReminderHandler(reminders, log),
		Health:    handlers.NewHealthHandler(version, cfg.StoreBackend, store),
	}, log)

	go func() {
		<-ctx.Done()
		log.Info("🛑 Gracefully shutting down...")
		if reminderJob != nil {
			reminderJob.Stop()
		}
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("Server shutdown failed")
		}
	}()

	log.WithFields(logrus.Fields{
		"port":              cfg.Port,
		"storage":           cfg.StoreBackend,
		"environment":       cfg.Environment,
		"whatsapp":          cfg.Twilio.Configured(),
		"reminder_window":   fmt.Sprintf("%s-%s", cfg.ReminderWindowLower, cfg.ReminderWindowUpper),
		"reminder_interval": cfg.ReminderInterval,
	}).Info("🚀 UBS Agenda starting")

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.WithError(err).Fatal("Server stopped")
	}
}

// openStore selects the storage backend.
func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (storage.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Warn("⚠️  Using in-memory storage (not for production!)")
		return storage.NewMemoryStore(), nil
	case config.BackendSheets:
		log.WithField("spreadsheet", cfg.Sheets.SpreadsheetKey).Info("📄 Using Google Sheets storage")
		return storage.NewSheetsStore(ctx, storage.SheetsOptions{
			CredentialsFile: cfg.Sheets.CredentialsFile,
			SpreadsheetKey:  cfg.Sheets.SpreadsheetKey,
			SessionsTab:     cfg.Sheets.SessionsTab,
			SlotsTab:        cfg.Sheets.SlotsTab,
			StreetsTab:      cfg.Sheets.StreetsTab,
			AppointmentsTab: cfg.Sheets.AppointmentsTab,
		})
	default:
		db, err := database.Connect(cfg.Database, log)
		if err != nil {
			return nil, err
		}
		log.Info("✅ Using PostgreSQL database storage")
		return storage.NewDatabaseStore(db), nil
	}
}

func applySeed(ctx context.Context, cfg *config.Config, store storage.Store, log logrus.FieldLogger) error {
	if cfg.SeedFile == "" {
		return nil
	}
	seeder, ok := store.(storage.Seeder)
	if !ok {
		log.WithField("storage", cfg.StoreBackend).Warn("Storage backend does not accept seed data, ignoring SEED_FILE")
		return nil
	}
	seed, err := storage.LoadSeed(cfg.SeedFile)
	if err != nil {
		return err
	}
	if err := seeder.ApplySeed(ctx, seed); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"slots":        len(seed.Slots),
		"streets":      len(seed.Streets),
		"appointments": len(seed.Appointments),
	}).Info("🌱 Seed file applied to empty tables")
	return nil
}
