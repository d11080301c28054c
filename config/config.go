package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

const EnvProduction = "production"

type Config struct {
	Env        string           `yaml:"env"`
	Database   DatabaseConfig   `yaml:"database"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	FulfillBox FulfillBoxConfig `yaml:"fulfillbox"`
	Carrier    CarrierConfig    `yaml:"carrier"`
	Payouts    PayoutsConfig    `yaml:"payouts"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,gt=0"`
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name" validate:"required"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (c DatabaseConfig) ConnString() string {
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.Username, c.Password, c.Host, c.Port, c.DBName, ssl)
}

type KafkaConfig struct {
	Host                   string `yaml:"host" validate:"required"`
	Port                   int    `yaml:"port" validate:"required,gt=0"`
	NotificationsTopicName string `yaml:"notifications_topic_name"`
}

func (c KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Host, c.Port)}
}

type RedisConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,gt=0"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type FulfillBoxConfig struct {
	HTTPAddr       string   `yaml:"http_addr"`
	WorkerHTTPAddr string   `yaml:"worker_http_addr"`
	PublicBaseURL  string   `yaml:"public_base_url" validate:"omitempty,url"`
	CORSOrigins    []string `yaml:"cors_allowed_origins"`

	FallbackPollIntervalSeconds int    `yaml:"fallback_poll_interval_seconds"`
	RejectStaleEvents           bool   `yaml:"reject_stale_events"`
	ShipmentCacheTTLSeconds     int    `yaml:"shipment_cache_ttl_seconds"`
	WebhookRateLimitPerMinute   int    `yaml:"webhook_rate_limit_per_minute"`
	WebhookToleranceSeconds     int    `yaml:"webhook_tolerance_seconds"`
	QueuePrefix                 string `yaml:"queue_prefix"`

	WorkerPollIntervalSeconds  int `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize            int `yaml:"worker_batch_size"`
	WorkerConcurrency          int `yaml:"worker_concurrency"`
	WorkerLeaseSeconds         int `yaml:"worker_lease_seconds"`
	WorkerSweepIntervalSeconds int `yaml:"worker_sweep_interval_seconds"`
	WorkerSweepGraceSeconds    int `yaml:"worker_sweep_grace_seconds"`

	// Повторы упавшего опроса: 3 попытки, 1s, 2s...
	PollRetryAttempts         int `yaml:"poll_retry_attempts"`
	PollRetryBaseDelaySeconds int `yaml:"poll_retry_base_delay_seconds"`
}

type CarrierConfig struct {
	Provider              string `yaml:"provider" validate:"oneof=simulated gateway"`
	BaseURL               string `yaml:"base_url" validate:"required_if=Provider gateway,omitempty,url"`
	APIKey                string `yaml:"api_key"`
	WebhookSecret         string `yaml:"webhook_secret"`
	SimulatedStepSeconds  int    `yaml:"simulated_step_seconds"`
	TimeoutSeconds        int    `yaml:"timeout_seconds"`
	RateLimitPerMinute    int    `yaml:"rate_limit_per_minute"`
	BreakerEnabled        bool   `yaml:"breaker_enabled"`
	BreakerTimeoutSeconds int    `yaml:"breaker_timeout_seconds"`

	// Подпись без X-Webhook-Timestamp не защищена от replay. Только для dev.
	WebhookAllowMissingTimestamp bool `yaml:"webhook_allow_missing_timestamp"`
}

type PayoutsConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	APIKey  string `yaml:"api_key"`
}

// LoadConfig reads the YAML file, then applies .env and FULFILL_* overrides
// for secrets, then defaults. It does not validate.
func LoadConfig(filename string) (*Config, error) {
	// .env опционален
	_ = godotenv.Load()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	config.applyEnv()
	config.WithDefaults()
	return &config, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"FULFILL_DB_PASSWORD":     &c.Database.Password,
		"FULFILL_REDIS_PASSWORD":  &c.Redis.Password,
		"FULFILL_CARRIER_API_KEY": &c.Carrier.APIKey,
		"FULFILL_WEBHOOK_SECRET":  &c.Carrier.WebhookSecret,
		"FULFILL_PAYOUTS_API_KEY": &c.Payouts.APIKey,
		"FULFILL_ENV":             &c.Env,
	}
	for name, dst := range overrides {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
}

func (c *Config) WithDefaults() *Config {
	setDefault(&c.Env, "development")
	setDefault(&c.Kafka.NotificationsTopicName, "order.notifications")

	f := &c.FulfillBox
	setDefault(&f.HTTPAddr, ":8080")
	setDefault(&f.WorkerHTTPAddr, ":8081")
	setDefault(&f.PublicBaseURL, "http://localhost:8080")
	setDefault(&f.QueuePrefix, "fulfillbox:queue:")
	if len(f.CORSOrigins) == 0 {
		f.CORSOrigins = []string{"*"}
	}
	setDefaultInt(&f.FallbackPollIntervalSeconds, 30*60)
	setDefaultInt(&f.ShipmentCacheTTLSeconds, 10*60)
	setDefaultInt(&f.WebhookToleranceSeconds, 5*60)
	setDefaultInt(&f.WorkerPollIntervalSeconds, 1)
	setDefaultInt(&f.WorkerBatchSize, 100)
	setDefaultInt(&f.WorkerConcurrency, 10)
	setDefaultInt(&f.WorkerLeaseSeconds, 120)
	setDefaultInt(&f.WorkerSweepIntervalSeconds, 60)
	setDefaultInt(&f.WorkerSweepGraceSeconds, 5*60)
	setDefaultInt(&f.PollRetryAttempts, 3)
	setDefaultInt(&f.PollRetryBaseDelaySeconds, 1)

	cr := &c.Carrier
	setDefault(&cr.Provider, "simulated")
	setDefaultInt(&cr.SimulatedStepSeconds, 5*60)
	setDefaultInt(&cr.TimeoutSeconds, 15)
	setDefaultInt(&cr.RateLimitPerMinute, 120)
	setDefaultInt(&cr.BreakerTimeoutSeconds, 30)
	return c
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, EnvProduction)
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.IsProduction() && c.Carrier.WebhookSecret == "" {
		return fmt.Errorf("invalid config: carrier.webhook_secret is required in %s", EnvProduction)
	}
	if c.IsProduction() && c.Carrier.WebhookAllowMissingTimestamp {
		return fmt.Errorf("invalid config: carrier.webhook_allow_missing_timestamp is not allowed in %s", EnvProduction)
	}
	return nil
}

func setDefault(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setDefaultInt(dst *int, v int) {
	if *dst <= 0 {
		*dst = v
	}
}
