package config

import (
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	Hostname string `env:"REACHGENIE_HOSTNAME"` // public hostname of this node, used for AutoTLS

	DbURI string `env:"REACHGENIE_DB_URI" envDefault:"./reachgenie.sqlite"`

	LogLevel string `env:"REACHGENIE_LOG_LEVEL" envDefault:"info"`

	// dispatch
	DispatchInterval time.Duration `env:"REACHGENIE_DISPATCH_INTERVAL" envDefault:"10s"`
	DispatchWorkers  int           `env:"REACHGENIE_DISPATCH_WORKERS" envDefault:"5"`
	SendTimeout      time.Duration `env:"REACHGENIE_SEND_TIMEOUT" envDefault:"30s"`

	// throttling
	SafetyCap int `env:"REACHGENIE_SAFETY_CAP" envDefault:"10"` // hard batch bound per tenant per cycle

	// campaign run sweep
	SweepInterval time.Duration `env:"REACHGENIE_SWEEP_INTERVAL" envDefault:"30s"`
	ProcessingTTL time.Duration `env:"REACHGENIE_PROCESSING_TTL" envDefault:"10m"`

	// reminder scheduler
	ReminderInterval  time.Duration `env:"REACHGENIE_REMINDER_INTERVAL" envDefault:"5m"`
	ReminderBatchSize int           `env:"REACHGENIE_REMINDER_BATCH_SIZE" envDefault:"100"`

	// boundaries
	EmailProviderURL string `env:"REACHGENIE_EMAIL_PROVIDER_URL"`
	EmailProviderKey string `env:"REACHGENIE_EMAIL_PROVIDER_KEY"`
	CallProviderURL  string `env:"REACHGENIE_CALL_PROVIDER_URL"`
	CallProviderKey  string `env:"REACHGENIE_CALL_PROVIDER_KEY"`
	ContentURL       string `env:"REACHGENIE_CONTENT_URL"`
	ContentKey       string `env:"REACHGENIE_CONTENT_KEY"`

	// api
	APIPort         int    `env:"REACHGENIE_API_PORT" envDefault:"8080"`
	APIAutoTLS      bool   `env:"REACHGENIE_API_AUTO_TLS" envDefault:"false"` // use autocert for getting a certificate for REACHGENIE_HOSTNAME
	APIAutoTLSEmail string `env:"REACHGENIE_API_AUTO_TLS_EMAIL"`              // account email for Let's Encrypt

	// metrics
	MetricsPush         string        `env:"REACHGENIE_METRICS_PUSH_URL"`
	MetricsPushInterval time.Duration `env:"REACHGENIE_METRICS_PUSH_INTERVAL" envDefault:"1m"`
	MetricsPoll         bool          `env:"REACHGENIE_METRICS_POLL" envDefault:"true"`
	MetricsPollUser     string        `env:"REACHGENIE_METRICS_POLL_USER"`
	MetricsPollPassword string        `env:"REACHGENIE_METRICS_POLL_PASS"`
}

// Load parses the configuration from the environment. The result is
// constructed once in main and passed down to each service explicitly.
func Load() (Config, error) {
	cfg := Config{}
	err := env.Parse(&cfg)
	return cfg, err
}
