package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/digiens-academy/sellibra-backend/pkg/models"
)

// Config holds all configuration for the Sellibra backend.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Quota    QuotaConfig
	Queue    QueueConfig
	Scratch  ScratchConfig
	AI       AIConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
	UploadMaxBytes  int64
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// QuotaConfig is passed as parameters to the atomic consume statement; the
// statement itself never changes when these do.
type QuotaConfig struct {
	DailyAllowance int
	ResetWindow    time.Duration
	CostDesign     int
	CostCopy       int
}

const (
	QueueDriverRedis  = "redis"
	QueueDriverMemory = "memory"
	QueueDriverNone   = "none"
)

type QueueConfig struct {
	Driver       string
	PollInterval time.Duration
	LeaseGrace   time.Duration
	RunWorkers   bool
	Categories   map[string]CategoryConfig
}

// CategoryConfig tunes one queue category. Wait is the bridge's outer wait
// budget and must be strictly larger than Timeout.
type CategoryConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	Wait        time.Duration `yaml:"wait"`
}

type ScratchConfig struct {
	Dir           string
	MaxAge        time.Duration
	SweepInterval time.Duration
}

type AIConfig struct {
	HTTPTimeout time.Duration
	OpenAI      OpenAIConfig
	RemoveBG    RemoveBGConfig
}

type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	ImageModel string
	ChatModel  string
}

type RemoveBGConfig struct {
	APIKey  string
	BaseURL string
}

type AdminConfig struct {
	BootstrapEmail string
	BootstrapKey   string
}

// DefaultCategories mirrors how resource-hungry each category is: image
// generation gets less concurrency than text generation.
func DefaultCategories() map[string]CategoryConfig {
	return map[string]CategoryConfig{
		models.QueueRemoveBackground: {Concurrency: 3, Timeout: 60 * time.Second, MaxAttempts: 3, Backoff: 2 * time.Second, Wait: 90 * time.Second},
		models.QueueTextToImage:      {Concurrency: 2, Timeout: 120 * time.Second, MaxAttempts: 3, Backoff: 2 * time.Second, Wait: 180 * time.Second},
		models.QueueImageToImage:     {Concurrency: 2, Timeout: 120 * time.Second, MaxAttempts: 3, Backoff: 2 * time.Second, Wait: 180 * time.Second},
		models.QueueGenerateContent:  {Concurrency: 5, Timeout: 60 * time.Second, MaxAttempts: 3, Backoff: 2 * time.Second, Wait: 90 * time.Second},
		models.QueueGenerateMockup:   {Concurrency: 2, Timeout: 120 * time.Second, MaxAttempts: 3, Backoff: 2 * time.Second, Wait: 180 * time.Second},
	}
}

var validQueueDrivers = map[string]bool{
	QueueDriverRedis:  true,
	QueueDriverMemory: true,
	QueueDriverNone:   true,
}

// Load reads configuration from environment variables (after merging any
// .env files) and returns a validated Config.
func Load() (*Config, error) {
	// Missing .env files are fine. godotenv never overrides a variable that
	// is already set, so real environment variables win, then .env.local,
	// then .env.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("PORT", 8080),
			Env:             envString("APP_ENV", "development"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MINUTE", 60),
			UploadMaxBytes:  int64(envInt("UPLOAD_MAX_BYTES", 10<<20)),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Quota: QuotaConfig{
			DailyAllowance: envInt("QUOTA_DAILY_ALLOWANCE", 40),
			ResetWindow:    envDuration("QUOTA_RESET_WINDOW", 24*time.Hour),
			CostDesign:     envInt("TOKEN_COST_DESIGN", 4),
			CostCopy:       envInt("TOKEN_COST_COPY", 1),
		},
		Queue: QueueConfig{
			Driver:       envString("QUEUE_DRIVER", QueueDriverRedis),
			PollInterval: envDuration("QUEUE_POLL_INTERVAL", 500*time.Millisecond),
			LeaseGrace:   envDuration("QUEUE_LEASE_GRACE", 30*time.Second),
			RunWorkers:   envBool("QUEUE_RUN_WORKERS", true),
			Categories:   DefaultCategories(),
		},
		Scratch: ScratchConfig{
			Dir:           envString("SCRATCH_DIR", "./uploads/temp"),
			MaxAge:        envDuration("SCRATCH_MAX_AGE", time.Hour),
			SweepInterval: envDuration("SCRATCH_SWEEP_INTERVAL", time.Hour),
		},
		AI: AIConfig{
			HTTPTimeout: envDuration("AI_HTTP_TIMEOUT", 90*time.Second),
			OpenAI: OpenAIConfig{
				APIKey:     os.Getenv("OPENAI_API_KEY"),
				BaseURL:    envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				ImageModel: envString("OPENAI_IMAGE_MODEL", "dall-e-3"),
				ChatModel:  envString("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
			},
			RemoveBG: RemoveBGConfig{
				APIKey:  os.Getenv("REMOVEBG_API_KEY"),
				BaseURL: envString("REMOVEBG_BASE_URL", "https://api.remove.bg/v1.0"),
			},
		},
		Admin: AdminConfig{
			BootstrapEmail: os.Getenv("BOOTSTRAP_ADMIN_EMAIL"),
			BootstrapKey:   os.Getenv("BOOTSTRAP_ADMIN_KEY"),
		},
	}

	if path := os.Getenv("QUEUE_CONFIG_FILE"); path != "" {
		if err := cfg.Queue.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.Queue.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if !validQueueDrivers[c.Queue.Driver] {
		return fmt.Errorf("QUEUE_DRIVER must be one of redis, memory, none; got %q", c.Queue.Driver)
	}
	if c.Queue.Driver == QueueDriverRedis && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when QUEUE_DRIVER is redis")
	}
	if c.Queue.Driver == QueueDriverMemory && !c.Queue.RunWorkers {
		return fmt.Errorf("QUEUE_RUN_WORKERS must be true when QUEUE_DRIVER is memory")
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("QUEUE_POLL_INTERVAL must be positive")
	}

	if c.Quota.DailyAllowance < 1 {
		return fmt.Errorf("QUOTA_DAILY_ALLOWANCE must be at least 1, got %d", c.Quota.DailyAllowance)
	}
	if c.Quota.ResetWindow <= 0 {
		return fmt.Errorf("QUOTA_RESET_WINDOW must be positive")
	}
	if c.Quota.CostDesign < 1 || c.Quota.CostCopy < 1 {
		return fmt.Errorf("token costs must be at least 1")
	}

	for _, name := range models.Queues {
		cat, ok := c.Queue.Categories[name]
		if !ok {
			return fmt.Errorf("queue %q has no configuration", name)
		}
		if err := cat.validate(name); err != nil {
			return err
		}
	}

	if (c.Admin.BootstrapEmail == "") != (c.Admin.BootstrapKey == "") {
		return fmt.Errorf("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_KEY must be set together")
	}

	return nil
}

func (c CategoryConfig) validate(name string) error {
	switch {
	case c.Concurrency < 1:
		return fmt.Errorf("queue %q: concurrency must be at least 1", name)
	case c.MaxAttempts < 1:
		return fmt.Errorf("queue %q: max_attempts must be at least 1", name)
	case c.Timeout <= 0:
		return fmt.Errorf("queue %q: timeout must be positive", name)
	case c.Backoff < 0:
		return fmt.Errorf("queue %q: backoff must not be negative", name)
	case c.Wait <= c.Timeout:
		return fmt.Errorf("queue %q: wait (%s) must be greater than timeout (%s)", name, c.Wait, c.Timeout)
	}
	return nil
}

// applyFile merges per-category overrides from a YAML document shaped like
//
//	categories:
//	  text-to-image:
//	    concurrency: 1
//	    timeout: 90s
func (q *QueueConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read queue config: %w", err)
	}

	var doc struct {
		Categories map[string]struct {
			Concurrency int    `yaml:"concurrency"`
			Timeout     string `yaml:"timeout"`
			MaxAttempts int    `yaml:"max_attempts"`
			Backoff     string `yaml:"backoff"`
			Wait        string `yaml:"wait"`
		} `yaml:"categories"`
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &doc); err != nil {
		return fmt.Errorf("parse queue config: %w", err)
	}

	for name, o := range doc.Categories {
		cat, ok := q.Categories[name]
		if !ok {
			return fmt.Errorf("queue config: unknown category %q", name)
		}
		if o.Concurrency != 0 {
			cat.Concurrency = o.Concurrency
		}
		if o.MaxAttempts != 0 {
			cat.MaxAttempts = o.MaxAttempts
		}
		for _, f := range []struct {
			raw string
			dst *time.Duration
		}{{o.Timeout, &cat.Timeout}, {o.Backoff, &cat.Backoff}, {o.Wait, &cat.Wait}} {
			if f.raw == "" {
				continue
			}
			d, err := time.ParseDuration(f.raw)
			if err != nil {
				return fmt.Errorf("queue config: category %q: %w", name, err)
			}
			*f.dst = d
		}
		q.Categories[name] = cat
	}
	return nil
}

// applyEnv lets single values be overridden with QUEUE_<CATEGORY>_<FIELD>,
// e.g. QUEUE_TEXT_TO_IMAGE_CONCURRENCY=1.
func (q *QueueConfig) applyEnv() {
	for name, cat := range q.Categories {
		prefix := "QUEUE_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"
		cat.Concurrency = envInt(prefix+"CONCURRENCY", cat.Concurrency)
		cat.MaxAttempts = envInt(prefix+"MAX_ATTEMPTS", cat.MaxAttempts)
		cat.Timeout = envDuration(prefix+"TIMEOUT", cat.Timeout)
		cat.Backoff = envDuration(prefix+"BACKOFF", cat.Backoff)
		cat.Wait = envDuration(prefix+"WAIT", cat.Wait)
		q.Categories[name] = cat
	}
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
