package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	defaultDSN  = "host=localhost user=postgres password=postgres dbname=restoran port=5432 sslmode=disable"
	defaultCORS = "http://localhost:5173"
)

type Config struct {
	HTTPPort    string
	StoreDriver string
	DatabaseDSN string
	JWTSecret   string
	CORSOrigins string
	AMQPURL     string // empty: notifications are only logged
	LogLevel    string

	TaxRate            float64
	AutoReleaseMinutes int
	SweepInterval      time.Duration

	HeartbeatInterval time.Duration
	PongGrace         time.Duration
	WriteTimeout      time.Duration
	SendQueueSize     int

	NotifyRetryInterval time.Duration
	NotifyMaxAttempts   int
}

// Load reads the environment, optionally overlaid on the YAML file named by
// CONFIG_FILE (or configFile when non-empty), and exits on settings the
// server cannot run with.
func Load(configFile string) *Config {
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	file, err := readFile(configFile)
	if err != nil {
		log.Fatalf("[FATAL] config file could not be read: %v", err)
	}

	cfg, err := Parse(func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return file[key]
	})
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	if cfg.StoreDriver == StoreDriverPostgres && cfg.DatabaseDSN == defaultDSN {
		log.Println("[WARN] DATABASE_DSN is using the default value, set your own Postgres connection for production.")
	}
	if cfg.CORSOrigins == defaultCORS {
		log.Println("[WARN] CORS_ALLOWED_ORIGINS is using the default value, set your own domain for production.")
	}
	if cfg.StoreDriver == StoreDriverMemory {
		log.Println("[WARN] STORE_DRIVER=memory, nothing survives a restart.")
	}

	return cfg
}

// Parse builds a Config from a key lookup. It never exits, so tests and
// tools can call it directly.
func Parse(lookup func(key string) string) (*Config, error) {
	p := parser{lookup: lookup}
	cfg := &Config{
		HTTPPort:    p.str("HTTP_PORT", "8080"),
		StoreDriver: strings.ToLower(p.str("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseDSN: p.str("DATABASE_DSN", defaultDSN),
		JWTSecret:   p.str("JWT_SECRET", ""),
		CORSOrigins: p.str("CORS_ALLOWED_ORIGINS", defaultCORS),
		AMQPURL:     p.str("AMQP_URL", ""),
		LogLevel:    p.str("LOG_LEVEL", "info"),

		TaxRate:            p.decimal("TAX_RATE", 0),
		AutoReleaseMinutes: p.integer("AUTO_RELEASE_MINUTES", 15),
		SweepInterval:      p.duration("SWEEP_INTERVAL", time.Minute),

		HeartbeatInterval: p.duration("HEARTBEAT_INTERVAL", 30*time.Second),
		PongGrace:         p.duration("PONG_GRACE", 10*time.Second),
		WriteTimeout:      p.duration("WRITE_TIMEOUT", 5*time.Second),
		SendQueueSize:     p.integer("SEND_QUEUE_SIZE", 64),

		NotifyRetryInterval: p.duration("NOTIFY_RETRY_INTERVAL", 30*time.Second),
		NotifyMaxAttempts:   p.integer("NOTIFY_MAX_ATTEMPTS", 5),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is not set, it is required in production")
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("JWT_SECRET must be at least 32 characters")
	}
	switch cfg.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, cfg.StoreDriver)
	}
	if cfg.TaxRate < 0 || cfg.TaxRate >= 1 {
		return nil, fmt.Errorf("TAX_RATE must be in [0,1), got %v", cfg.TaxRate)
	}
	if cfg.AutoReleaseMinutes <= 0 {
		return nil, fmt.Errorf("AUTO_RELEASE_MINUTES must be positive, got %d", cfg.AutoReleaseMinutes)
	}
	// Each ping restarts the pong deadline, so a grace that is not shorter
	// than the interval never evicts a silent client.
	if cfg.PongGrace >= cfg.HeartbeatInterval {
		return nil, fmt.Errorf("PONG_GRACE (%s) must be shorter than HEARTBEAT_INTERVAL (%s)", cfg.PongGrace, cfg.HeartbeatInterval)
	}
	return cfg, nil
}

// readFile loads a flat YAML mapping whose keys are the environment
// variable names, e.g. "TAX_RATE: 0.08". An empty path yields no overrides.
func readFile(path string) (map[string]string, error) {
	out := map[string]string{}
	if path == "" {
		return out, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

type parser struct {
	lookup func(string) string
	errs   []error
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.lookup(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) decimal(key string, def float64) float64 {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return f
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := p.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	if d <= 0 {
		p.errs = append(p.errs, fmt.Errorf("%s: must be positive", key))
		return def
	}
	return d
}
