package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/kursadbilgin/broadcast-engine/internal/infra/postgresql"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	DBMaxOpenConns int `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns int `env:"DB_MAX_IDLE_CONNS,default=5"`
	RedisPoolSize  int `env:"REDIS_POOL_SIZE,default=20"`

	DirectoryBaseURL      string `env:"DIRECTORY_BASE_URL,required=true"`
	DirectoryTenantID     string `env:"DIRECTORY_TENANT_ID,required=true"`
	DirectoryClientID     string `env:"DIRECTORY_CLIENT_ID,required=true"`
	DirectoryClientSecret string `env:"DIRECTORY_CLIENT_SECRET,required=true"`
	DirectoryTokenURL     string `env:"DIRECTORY_TOKEN_URL"`
	DirectoryRateLimit    int    `env:"DIRECTORY_RATE_LIMIT_PER_SEC,default=20"`
	InstallRateLimit      int    `env:"DIRECTORY_INSTALL_RATE_LIMIT_PER_SEC,default=10"`
	DirectorySyncCron     string `env:"DIRECTORY_SYNC_CRON,default=0 3 * * *"`

	TeamsAppID    string `env:"TEAMS_APP_ID,required=true"`
	BotServiceURL string `env:"BOT_SERVICE_URL,required=true"`

	ProactiveInstallEnabled bool `env:"PROACTIVE_INSTALL_ENABLED,default=true"`
	InstallWaitSeconds      int  `env:"INSTALL_WAIT_SECONDS,default=60"`
	InstallMaxRounds        int  `env:"INSTALL_MAX_ROUNDS,default=3"`
	InstallConcurrency      int  `env:"INSTALL_CONCURRENCY,default=5"`
	InstallPageSize         int  `env:"INSTALL_PAGE_SIZE,default=200"`
	InstallPageCount        int  `env:"INSTALL_PAGE_COUNT,default=5"`

	CircuitTripFailures int `env:"CIRCUIT_TRIP_FAILURES,default=5"`
	CircuitOpenSeconds  int `env:"CIRCUIT_OPEN_SECONDS,default=30"`

	SendBatchSize              int `env:"SEND_BATCH_SIZE,default=100"`
	AggregationIntervalSeconds int `env:"AGGREGATION_INTERVAL_SECONDS,default=30"`
	ForceCompleteAfterHours    int `env:"FORCE_COMPLETE_AFTER_HOURS,default=24"`
	SchedulerIntervalSeconds   int `env:"SCHEDULER_INTERVAL_SECONDS,default=15"`
	ActivityMaxAttempts        int `env:"ACTIVITY_MAX_ATTEMPTS,default=3"`

	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=4"`
	WorkerMetricsPort int    `env:"WORKER_METRICS_PORT,default=9091"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
	LogFormat         string `env:"LOG_FORMAT,default=json"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) InstallWait() time.Duration {
	return time.Duration(c.InstallWaitSeconds) * time.Second
}

func (c *Config) CircuitOpen() time.Duration {
	return time.Duration(c.CircuitOpenSeconds) * time.Second
}

func (c *Config) AggregationInterval() time.Duration {
	return time.Duration(c.AggregationIntervalSeconds) * time.Second
}

func (c *Config) ForceCompleteAfter() time.Duration {
	return time.Duration(c.ForceCompleteAfterHours) * time.Hour
}

func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalSeconds) * time.Second
}

func (c *Config) PostgresPool() postgresql.PoolConfig {
	return postgresql.PoolConfig{
		MaxOpen:     c.DBMaxOpenConns,
		MaxIdle:     c.DBMaxIdleConns,
		MaxLifetime: time.Hour,
	}
}

// TokenURL returns the OAuth2 client-credentials endpoint for the tenant.
func (c *Config) TokenURL() string {
	if c.DirectoryTokenURL != "" {
		return c.DirectoryTokenURL
	}
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", c.DirectoryTenantID)
}
