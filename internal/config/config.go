package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Auth         AuthConfig         `mapstructure:"auth"`
	RateLimit    RateLimitConfig    `mapstructure:"rate_limit"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Security     SecurityConfig     `mapstructure:"security"`
	Tuning       TuningConfig       `mapstructure:"tuning"`
	Optimization OptimizationSource `mapstructure:"optimization"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver"` // sqlite, postgres
	Path           string        `mapstructure:"path"`
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// StorageConfig sizes the asynchronous observation writer.
type StorageConfig struct {
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	QueueSize    int           `mapstructure:"queue_size"`
}

type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
	TTL        time.Duration `mapstructure:"ttl"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	Topics  struct {
		Observations    string `mapstructure:"observations"`
		Recommendations string `mapstructure:"recommendations"`
	} `mapstructure:"topics"`
	MaxRetries int `mapstructure:"max_retries"`
}

type AuthConfig struct {
	Enabled   bool              `mapstructure:"enabled"`
	JWTSecret string            `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration     `mapstructure:"token_ttl"`
	APIKeys   map[string]string `mapstructure:"api_keys"` // key -> role
}

// RateLimitConfig bounds recommendation requests per client over a sliding
// window. It needs Redis; without it requests are not limited.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// TuningConfig holds the engine knobs that are not part of an optimization
// config document.
type TuningConfig struct {
	MinDistance              float64       `mapstructure:"min_distance"`
	Restarts                 int           `mapstructure:"restarts"`
	PopulationSize           int           `mapstructure:"population_size"`
	Generations              int           `mapstructure:"generations"`
	GradientSteps            int           `mapstructure:"gradient_steps"`
	LearningRate             float64       `mapstructure:"learning_rate"`
	SlotTimeout              time.Duration `mapstructure:"slot_timeout"`
	DiversityAttempts        int           `mapstructure:"diversity_attempts"`
	MinObservationsPerOption int           `mapstructure:"min_observations_per_option"`
	RetrainInterval          int           `mapstructure:"retrain_interval"`
	EmbedderEpochs           int           `mapstructure:"embedder_epochs"`
	Bandwidth                float64       `mapstructure:"bandwidth"`
	PriorWeight              float64       `mapstructure:"prior_weight"`
}

// OptimizationSource points at the optimization config used for campaigns
// created without one.
type OptimizationSource struct {
	ConfigPath string `mapstructure:"config_path"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	setDefaults(v)

	// Environment variable overrides
	v.SetEnvPrefix("OPTIREX")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// DefaultTuning returns the engine knobs used when nothing is configured.
func DefaultTuning() TuningConfig {
	return TuningConfig{
		MinDistance:              0.05,
		Restarts:                 3,
		PopulationSize:           40,
		Generations:              30,
		GradientSteps:            150,
		LearningRate:             0.02,
		SlotTimeout:              30 * time.Second,
		DiversityAttempts:        3,
		MinObservationsPerOption: 1,
		RetrainInterval:          5,
		EmbedderEpochs:           300,
		Bandwidth:                0.3,
		PriorWeight:              0.5,
	}
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "development")

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/optirex.db")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.max_idle_time", "15m")
	v.SetDefault("database.max_lifetime", "1h")
	v.SetDefault("database.connect_timeout", "10s")

	// Storage defaults
	v.SetDefault("storage.fetch_timeout", "10s")
	v.SetDefault("storage.queue_size", 256)

	// Redis defaults
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.timeout", "5s")
	v.SetDefault("redis.ttl", "15m")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "optirex")
	v.SetDefault("kafka.topics.observations", "observations")
	v.SetDefault("kafka.topics.recommendations", "recommendations")
	v.SetDefault("kafka.max_retries", 3)

	// Auth defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.token_ttl", "24h")

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests", 60)
	v.SetDefault("rate_limit.window", "1m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Monitoring defaults
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PATCH", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"*"})

	// Engine tuning defaults
	t := DefaultTuning()
	v.SetDefault("tuning.min_distance", t.MinDistance)
	v.SetDefault("tuning.restarts", t.Restarts)
	v.SetDefault("tuning.population_size", t.PopulationSize)
	v.SetDefault("tuning.generations", t.Generations)
	v.SetDefault("tuning.gradient_steps", t.GradientSteps)
	v.SetDefault("tuning.learning_rate", t.LearningRate)
	v.SetDefault("tuning.slot_timeout", t.SlotTimeout.String())
	v.SetDefault("tuning.diversity_attempts", t.DiversityAttempts)
	v.SetDefault("tuning.min_observations_per_option", t.MinObservationsPerOption)
	v.SetDefault("tuning.retrain_interval", t.RetrainInterval)
	v.SetDefault("tuning.embedder_epochs", t.EmbedderEpochs)
	v.SetDefault("tuning.bandwidth", t.Bandwidth)
	v.SetDefault("tuning.prior_weight", t.PriorWeight)

	v.SetDefault("optimization.config_path", "")
}
