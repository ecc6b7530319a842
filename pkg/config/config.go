package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// App is the booking-service configuration.
type App struct {
	// DB
	DBDriver string `envconfig:"BOOKING_DB_DRIVER" default:"postgres"` // postgres|sqlite
	DBDSN    string `envconfig:"BOOKING_DB_DSN" required:"true"`
	// JWT (tokens are issued by the auth collaborator, only verified here)
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	// Network
	HTTPAddr string `envconfig:"BOOKING_HTTP_ADDR" default:":8080"`
	// RabbitMQ
	RabbitURL       string `envconfig:"RABBIT_URL" required:"true"`
	BookingExchange string `envconfig:"BOOKING_EXCHANGE" default:"booking.exchange"`
	PaymentExchange string `envconfig:"PAYMENT_EXCHANGE" default:"payment.exchange"`
	PaymentQueue    string `envconfig:"BOOKING_PAYMENT_QUEUE" default:"booking.payment.q"`
	// Redis is optional; without it create is serialized in-process only.
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	LockTTL       time.Duration `envconfig:"BOOKING_LOCK_TTL" default:"10s"`
	// Studio rules
	Timezone        string        `envconfig:"BOOKING_TIMEZONE" default:"Local"`
	RoomRates       string        `envconfig:"BOOKING_ROOM_RATES"`
	OpenFrom        string        `envconfig:"BOOKING_OPEN_FROM" default:"09:00"`
	OpenTo          string        `envconfig:"BOOKING_OPEN_TO" default:"21:00"`
	MinDuration     time.Duration `envconfig:"BOOKING_MIN_DURATION" default:"1h"`
	CancelMinNotice time.Duration `envconfig:"CANCEL_MIN_NOTICE" default:"24h"`
	// Outbox
	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"2s"`
	OutboxBatch        int           `envconfig:"OUTBOX_BATCH" default:"50"`
	// Observability
	OTelEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTelEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"otel-collector:4317"`
	Env          string `envconfig:"ENV" default:"dev"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads .env (when present) and then the process environment.
func Load() (App, error) {
	_ = godotenv.Load(".env")
	var c App
	if err := envconfig.Process("", &c); err != nil {
		return c, err
	}
	if c.OutboxBatch <= 0 {
		return c, fmt.Errorf("OUTBOX_BATCH must be positive, got %d", c.OutboxBatch)
	}
	if c.MinDuration < 0 || c.MinDuration%time.Minute != 0 {
		return c, fmt.Errorf("BOOKING_MIN_DURATION must be whole minutes, got %s", c.MinDuration)
	}
	return c, nil
}

// Location resolves the configured timezone. "Local" keeps the host zone.
func (c App) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
