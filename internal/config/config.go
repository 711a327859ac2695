package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSheets   = "sheets"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	// InstanceConnectionName selects the Cloud SQL unix socket when set.
	InstanceConnectionName string
}

// SheetsConfig points at the spreadsheet used as the store.
type SheetsConfig struct {
	CredentialsFile string
	SpreadsheetKey  string
	SessionsTab     string
	SlotsTab        string
	StreetsTab      string
	AppointmentsTab string
}

// TwilioConfig holds the WhatsApp channel credentials.
type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	WhatsAppFrom string
}

// Configured reports whether outbound messages can be sent.
func (t TwilioConfig) Configured() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.WhatsAppFrom != ""
}

// Config is the full service configuration.
type Config struct {
	Port        string
	Environment string
	LogLevel    string
	LogFormat   string
	CronToken   string

	StoreBackend string
	Database     DatabaseConfig
	Sheets       SheetsConfig
	Twilio       TwilioConfig

	PublicBaseURL            string
	DisableWebhookValidation bool

	ReminderWindowLower time.Duration
	ReminderWindowUpper time.Duration
	ReminderInterval    time.Duration
	Location            *time.Location
	RequestTimeout      time.Duration

	SeedFile string
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Load reads configuration from a .env file (when present), the
// environment, and finally command-line flags, later sources winning.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load(".env")

	backend := os.Getenv("STORE_BACKEND")
	if backend == "" {
		switch {
		case os.Getenv("USE_MEMORY_STORE") == "true":
			backend = BackendMemory
		case os.Getenv("SHEETS_SPREADSHEET_KEY") != "":
			backend = BackendSheets
		default:
			backend = BackendPostgres
		}
	}

	fs := pflag.NewFlagSet("agenda", pflag.ContinueOnError)
	port := fs.String("port", envOr("PORT", "8080"), "HTTP listen port")
	environment := fs.String("environment", envOr("ENVIRONMENT", "production"), "development or production")
	logLevel := fs.String("log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", envOr("LOG_FORMAT", "text"), "log format (text or json)")
	storeBackend := fs.String("store", backend, "storage backend: memory, postgres or sheets")
	seedFile := fs.String("seed", os.Getenv("SEED_FILE"), "YAML file with slots, streets and appointments to load at start")
	timezone := fs.String("timezone", envOr("TIMEZONE", "America/Sao_Paulo"), "time zone for appointment dates")
	lowerHours := fs.Float64("reminder-lower-hours", 23, "hours before an appointment where the reminder window opens")
	upperHours := fs.Float64("reminder-upper-hours", 25, "hours before an appointment where the reminder window closes")
	interval := fs.Duration("reminder-interval", 0, "run the reminder scan in-process at this interval (0 disables)")
	timeout := fs.Duration("request-timeout", 10*time.Second, "deadline for handling one webhook request")

	var err error
	if *lowerHours, err = envFloat("REMINDER_WINDOW_LOWER_HOURS", *lowerHours); err != nil {
		return nil, err
	}
	if *upperHours, err = envFloat("REMINDER_WINDOW_UPPER_HOURS", *upperHours); err != nil {
		return nil, err
	}
	if *interval, err = envDuration("REMINDER_INTERVAL", *interval); err != nil {
		return nil, err
	}
	if *timeout, err = envDuration("REQUEST_TIMEOUT", *timeout); err != nil {
		return nil, err
	}

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	dbPort, err := envInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(*timezone)
	if err != nil {
		return nil, fmt.Errorf("config: TIMEZONE %q: %w", *timezone, err)
	}

	cfg := &Config{
		Port:         *port,
		Environment:  *environment,
		LogLevel:     *logLevel,
		LogFormat:    *logFormat,
		CronToken:    os.Getenv("CRON_TOKEN"),
		StoreBackend: strings.ToLower(*storeBackend),
		Database: DatabaseConfig{
			User:                   envOr("DB_USER", "postgres"),
			Password:               os.Getenv("DB_PASS"),
			Name:                   envOr("DB_NAME", "agenda"),
			Host:                   envOr("DB_HOST", "localhost"),
			Port:                   dbPort,
			InstanceConnectionName: os.Getenv("INSTANCE_CONNECTION_NAME"),
		},
		Sheets: SheetsConfig{
			CredentialsFile: os.Getenv("SHEETS_CREDENTIALS_FILE"),
			SpreadsheetKey:  os.Getenv("SHEETS_SPREADSHEET_KEY"),
			SessionsTab:     os.Getenv("SHEETS_SESSIONS_TAB"),
			SlotsTab:        os.Getenv("SHEETS_SLOTS_TAB"),
			StreetsTab:      os.Getenv("SHEETS_STREETS_TAB"),
			AppointmentsTab: os.Getenv("SHEETS_APPOINTMENTS_TAB"),
		},
		Twilio: TwilioConfig{
			AccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
			WhatsAppFrom: os.Getenv("TWILIO_WHATSAPP_FROM"),
		},
		PublicBaseURL:            strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		DisableWebhookValidation: os.Getenv("DISABLE_WEBHOOK_VALIDATION") == "true",
		ReminderWindowLower:      hours(*lowerHours),
		ReminderWindowUpper:      hours(*upperHours),
		ReminderInterval:         *interval,
		Location:                 loc,
		RequestTimeout:           *timeout,
		SeedFile:                 *seedFile,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks option combinations that cannot work.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendMemory, BackendPostgres:
	case BackendSheets:
		if c.Sheets.SpreadsheetKey == "" {
			errs = append(errs, errors.New("SHEETS_SPREADSHEET_KEY is required for the sheets store"))
		}
		if c.Sheets.CredentialsFile == "" {
			errs = append(errs, errors.New("SHEETS_CREDENTIALS_FILE is required for the sheets store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.StoreBackend))
	}
	if c.ReminderWindowLower < 0 || c.ReminderWindowUpper <= c.ReminderWindowLower {
		errs = append(errs, fmt.Errorf("reminder window [%s, %s] is empty", c.ReminderWindowLower, c.ReminderWindowUpper))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.ReminderInterval < 0 {
		errs = append(errs, errors.New("reminder interval must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a number: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a duration like 10s or 1h: %w", key, err)
	}
	return d, nil
}
