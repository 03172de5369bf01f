package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Territory  TerritoryConfig  `yaml:"territory" mapstructure:"territory"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Compliance ComplianceConfig `yaml:"compliance" mapstructure:"compliance"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Activation ActivationConfig `yaml:"activation" mapstructure:"activation"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// SourcesConfig points at the source registry file.
type SourcesConfig struct {
	RegistryPath string `yaml:"registry_path" mapstructure:"registry_path"`
}

// TerritoryConfig configures utility territory resolution. The shapefile is
// optional; without one, zip fallback alone decides. Geocoding fills in
// coordinates for bulk-import rows that arrive without them.
type TerritoryConfig struct {
	ShapefilePath   string  `yaml:"shapefile_path" mapstructure:"shapefile_path"`
	UtilityField    string  `yaml:"utility_field" mapstructure:"utility_field"`
	GeocoderEnabled bool    `yaml:"geocoder_enabled" mapstructure:"geocoder_enabled"`
	GeocoderRPS     float64 `yaml:"geocoder_rps" mapstructure:"geocoder_rps"`
	GoogleAPIKeyEnv string  `yaml:"google_api_key_env" mapstructure:"google_api_key_env"`
}

// ProviderConfig holds one enrichment provider endpoint.
type ProviderConfig struct {
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url"`
	Key        string  `yaml:"key" mapstructure:"key"`
	RatePerSec float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// EnrichConfig configures skip tracing and contact validation.
type EnrichConfig struct {
	CooldownHours  int            `yaml:"cooldown_hours" mapstructure:"cooldown_hours"`
	TraceLimit     int            `yaml:"trace_limit" mapstructure:"trace_limit"`
	SkipTracer     ProviderConfig `yaml:"skip_tracer" mapstructure:"skip_tracer"`
	PhoneValidator ProviderConfig `yaml:"phone_validator" mapstructure:"phone_validator"`
	EmailValidator ProviderConfig `yaml:"email_validator" mapstructure:"email_validator"`
}

// Cooldown returns the re-enrichment cooldown as a duration.
func (c EnrichConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownHours) * time.Hour
}

// ComplianceConfig configures DNC registry lookups and watchlists.
type ComplianceConfig struct {
	FederalDNC     ProviderConfig `yaml:"federal_dnc" mapstructure:"federal_dnc"`
	StateDNC       ProviderConfig `yaml:"state_dnc" mapstructure:"state_dnc"`
	LitigatorPath  string         `yaml:"litigator_path" mapstructure:"litigator_path"`
	FraudlistPath  string         `yaml:"fraudlist_path" mapstructure:"fraudlist_path"`
}

// ResilienceConfig tunes retry and circuit breaking shared by every
// outbound provider call (skip tracing, validation, DNC lookups).
type ResilienceConfig struct {
	Retry   RetrySettings   `yaml:"retry" mapstructure:"retry"`
	Circuit CircuitSettings `yaml:"circuit" mapstructure:"circuit"`
}

// RetrySettings maps onto resilience.RetryConfig.
type RetrySettings struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitSettings maps onto resilience.CircuitBreakerConfig.
type CircuitSettings struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ActivationConfig configures the activation gate.
type ActivationConfig struct {
	MinScore         int `yaml:"min_score" mapstructure:"min_score"`
	BatchConcurrency int `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
}

// PipelineConfig bounds full pipeline runs.
type PipelineConfig struct {
	SourceID       string `yaml:"source_id" mapstructure:"source_id"`
	DiscoveryLimit int    `yaml:"discovery_limit" mapstructure:"discovery_limit"`
	AutoActivate   bool   `yaml:"auto_activate" mapstructure:"auto_activate"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the fields a given run mode depends on. Modes: "discover"
// needs a source registry, "enrich" needs a skip tracer, "serve" needs a
// usable port. Everything shares the store checks.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			problems = append(problems, "store.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	switch mode {
	case "discover", "pipeline":
		if c.Sources.RegistryPath == "" {
			problems = append(problems, "sources.registry_path is required")
		}
		if mode == "pipeline" && c.Enrich.SkipTracer.BaseURL == "" {
			problems = append(problems, "enrich.skip_tracer.base_url is required")
		}
	case "enrich":
		if c.Enrich.SkipTracer.BaseURL == "" {
			problems = append(problems, "enrich.skip_tracer.base_url is required")
		}
	case "suppress":
		// Only needs the store.
	case "activate":
		if c.Activation.MinScore < 0 || c.Activation.MinScore > 100 {
			problems = append(problems, "activation.min_score must be between 0 and 100")
		}
		if c.Activation.BatchConcurrency < 1 || c.Activation.BatchConcurrency > 50 {
			problems = append(problems, "activation.batch_concurrency must be between 1 and 50")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Activation.BatchConcurrency < 1 || c.Activation.BatchConcurrency > 50 {
			problems = append(problems, "activation.batch_concurrency must be between 1 and 50")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Enrich.CooldownHours < 0 {
		problems = append(problems, "enrich.cooldown_hours must be >= 0")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "discovery.db")
	v.SetDefault("sources.registry_path", "sources.yaml")
	v.SetDefault("territory.utility_field", "UTILITY")
	v.SetDefault("territory.geocoder_rps", 10)
	v.SetDefault("enrich.cooldown_hours", 72)
	v.SetDefault("enrich.trace_limit", 25)
	v.SetDefault("enrich.skip_tracer.rate_per_sec", 5)
	v.SetDefault("enrich.phone_validator.rate_per_sec", 5)
	v.SetDefault("enrich.email_validator.rate_per_sec", 5)
	v.SetDefault("compliance.federal_dnc.rate_per_sec", 10)
	v.SetDefault("compliance.state_dnc.rate_per_sec", 10)
	v.SetDefault("resilience.retry.max_attempts", 3)
	v.SetDefault("resilience.retry.initial_backoff_ms", 500)
	v.SetDefault("resilience.retry.max_backoff_ms", 30000)
	v.SetDefault("resilience.retry.multiplier", 2.0)
	v.SetDefault("resilience.retry.jitter_fraction", 0.25)
	v.SetDefault("resilience.circuit.failure_threshold", 5)
	v.SetDefault("resilience.circuit.reset_timeout_secs", 30)
	v.SetDefault("activation.min_score", 50)
	v.SetDefault("activation.batch_concurrency", 8)
	v.SetDefault("pipeline.source_id", "md-sdat")
	v.SetDefault("pipeline.discovery_limit", 1000)
	v.SetDefault("pipeline.auto_activate", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
