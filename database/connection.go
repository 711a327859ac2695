package database

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ubsconjuntos/agenda-backend/internal/config"
	"github.com/ubsconjuntos/agenda-backend/internal/storage"
)

// Cloud Run mounts Cloud SQL instances here
const socketDir = "/cloudsql"

// DSN builds the PostgreSQL connection string, using the Cloud SQL unix
// socket when an instance connection name is configured.
func DSN(cfg config.DatabaseConfig) string {
	if cfg.InstanceConnectionName != "" {
		return fmt.Sprintf("host=%s/%s user=%s password=%s dbname=%s sslmode=disable",
			socketDir, cfg.InstanceConnectionName, cfg.User, cfg.Password, cfg.Name)
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port)
}

// Connect opens the database and migrates the schema.
func Connect(cfg config.DatabaseConfig, log logrus.FieldLogger) (*gorm.DB, error) {
	if cfg.InstanceConnectionName != "" {
		log.WithField("instance", cfg.InstanceConnectionName).Info("Connecting to Cloud SQL via socket")
	} else {
		log.WithField("host", cfg.Host).Info("Connecting to PostgreSQL")
	}

	db, err := gorm.Open(postgres.Open(DSN(cfg)), &gorm.Config{
		Logger: gormlogger.New(log, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := storage.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	log.Info("✅ Database connected and migrated")
	return db, nil
}
