// Package config loads process-wide configuration the way
// packages/shared/config does: viper defaults, environment overrides,
// an optional YAML file, then a handful of secret-shaped env vars that
// always win. Absence of a required secret is fatal at startup.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// ForecastMode mirrors model.ForecastMode without importing internal/model,
// keeping config dependency-free of the domain package.
type ForecastMode string

const (
	ModeForecast   ForecastMode = "forecast"
	ModeHistorical ForecastMode = "historical"
)

// Config is the full process configuration. Each binary (control-plane,
// dispatcher, planner-worker, housekeeper) loads it via Load and reads
// only the sub-structs it needs.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Bucket     BucketConfig     `mapstructure:"bucket"`
	Forecast   ForecastConfig   `mapstructure:"forecast"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Deployer   DeployerConfig   `mapstructure:"deployer"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Temporal   TemporalConfig   `mapstructure:"temporal"`
	Planner    PlannerConfig    `mapstructure:"planner"`
}

type ServerConfig struct {
	Port                    int    `mapstructure:"port"`
	MetricsPort             int    `mapstructure:"metrics_port"`
	GracefulShutdownTimeout int    `mapstructure:"graceful_shutdown_timeout"`
	Environment             string `mapstructure:"environment"`
	Region                  string `mapstructure:"region"`
}

// BucketConfig names the configuration/artifact bucket and the
// credentials used to reach it (aws-sdk-go-v2 resolves the credential
// chain itself; AccessKey/SecretKey/Endpoint let it target a
// non-AWS S3-compatible store).
type BucketConfig struct {
	Name      string `mapstructure:"name"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type ForecastConfig struct {
	Token    string       `mapstructure:"token"`
	Endpoint string       `mapstructure:"endpoint"`
	Mode     ForecastMode `mapstructure:"mode"`
}

type OracleConfig struct {
	Token    string `mapstructure:"token"`
	Provider string `mapstructure:"provider"` // "bedrock" | "openai"
	Model    string `mapstructure:"model"`
	Region   string `mapstructure:"region"`
}

type DeployerConfig struct {
	Token    string `mapstructure:"token"`
	Endpoint string `mapstructure:"endpoint"`
}

type QueueConfig struct {
	Token    string `mapstructure:"token"`
	Endpoint string `mapstructure:"endpoint"`
}

type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// PlannerConfig holds the planner's tunable numeric defaults.
type PlannerConfig struct {
	HorizonHours          int     `mapstructure:"horizon_hours"`
	TopN                  int     `mapstructure:"top_n"`
	CacheMaxAgeDays        int     `mapstructure:"cache_max_age_days"`
	DeploymentTopM         int     `mapstructure:"deployment_top_m"`
	ConcurrencyCap         int     `mapstructure:"concurrency_cap"`
	ExternalCallTimeoutSec int     `mapstructure:"external_call_timeout_sec"`
	OracleCallTimeoutSec   int     `mapstructure:"oracle_call_timeout_sec"`
	CycleDeadlineSec       int     `mapstructure:"cycle_deadline_sec"`
	DefaultCPUUtil         float64 `mapstructure:"default_cpu_util"`
	DefaultGPUUtil         float64 `mapstructure:"default_gpu_util"`
	OracleConfidenceFloor  float64 `mapstructure:"oracle_confidence_floor"`
	UseOracleRanking       bool    `mapstructure:"use_oracle_ranking"`
}

// Load reads configuration for serviceName: defaults, an optional YAML
// file at CONFIG_PATH (or ./config.yaml), a <SERVICE>_ prefixed
// environment namespace, then a short list of well-known secret env
// vars that always win, matching override order.
func Load(serviceName string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.graceful_shutdown_timeout", 30)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.region", "us-east-1")

	v.SetDefault("bucket.region", "us-east-1")

	v.SetDefault("forecast.mode", "forecast")

	v.SetDefault("oracle.provider", "bedrock")
	v.SetDefault("oracle.model", "anthropic.claude-3-5-sonnet-20241022-v2:0")
	v.SetDefault("oracle.region", "us-east-1")

	v.SetDefault("redis.enabled", true)

	v.SetDefault("temporal.host_port", "temporal-frontend.carbonsched.svc.cluster.local:7233")
	v.SetDefault("temporal.namespace", "carbonsched")
	v.SetDefault("temporal.task_queue", "carbon-planning")

	v.SetDefault("planner.horizon_hours", 24)
	v.SetDefault("planner.top_n", 24)
	v.SetDefault("planner.cache_max_age_days", 7)
	v.SetDefault("planner.deployment_top_m", 3)
	v.SetDefault("planner.concurrency_cap", 8)
	v.SetDefault("planner.external_call_timeout_sec", 30)
	v.SetDefault("planner.oracle_call_timeout_sec", 120)
	v.SetDefault("planner.cycle_deadline_sec", 240)
	v.SetDefault("planner.default_cpu_util", 0.10)
	v.SetDefault("planner.default_gpu_util", 0.10)
	v.SetDefault("planner.oracle_confidence_floor", 0.5)
	v.SetDefault("planner.use_oracle_ranking", false)

	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(serviceName, "-", "_")))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/app/config"
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideString(&cfg.Bucket.Name, "BUCKET_NAME")
	overrideString(&cfg.Bucket.AccessKey, "BUCKET_ACCESS_KEY")
	overrideString(&cfg.Bucket.SecretKey, "BUCKET_SECRET_KEY")
	overrideString(&cfg.Bucket.Endpoint, "BUCKET_ENDPOINT")
	overrideString(&cfg.Forecast.Token, "FORECAST_PROVIDER_TOKEN")
	overrideString(&cfg.Forecast.Endpoint, "FORECAST_PROVIDER_ENDPOINT")
	overrideString(&cfg.Oracle.Token, "ORACLE_TOKEN")
	overrideString(&cfg.Deployer.Token, "DEPLOYER_TOKEN")
	overrideString(&cfg.Deployer.Endpoint, "DEPLOYER_ENDPOINT")
	overrideString(&cfg.Queue.Token, "QUEUE_TOKEN")
	overrideString(&cfg.Queue.Endpoint, "QUEUE_ENDPOINT")
	overrideString(&cfg.Redis.URL, "REDIS_URL")
	if m := os.Getenv("FORECAST_MODE"); m != "" {
		cfg.Forecast.Mode = ForecastMode(m)
	}

	return &cfg, nil
}

func overrideString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// RequireSecrets validates that the process-wide required secret env
// vars are present, returning a slice of missing variable names (empty
// slice means configuration is complete). GET /health reports this directly.
func (c *Config) RequireSecrets() []string {
	var missing []string
	if c.Bucket.Name == "" {
		missing = append(missing, "bucket.name")
	}
	if c.Forecast.Token == "" {
		missing = append(missing, "forecast.token")
	}
	if c.Oracle.Token == "" {
		missing = append(missing, "oracle.token")
	}
	if c.Deployer.Token == "" {
		missing = append(missing, "deployer.token")
	}
	return missing
}
