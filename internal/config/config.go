package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Extractor ExtractorConfig `yaml:"extractor" mapstructure:"extractor"`
	Readwise  ReadwiseConfig  `yaml:"readwise" mapstructure:"readwise"`
	Books     BooksConfig     `yaml:"books" mapstructure:"books"`
	Evals     EvalsConfig     `yaml:"evals" mapstructure:"evals"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend. The pool fields apply to the
// postgres driver only.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ExtractorConfig selects and configures the vision extraction provider.
type ExtractorConfig struct {
	Provider  string          `yaml:"provider" mapstructure:"provider"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig tunes the retry loop around provider API calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ReadwiseConfig holds Readwise sync settings. The API token here is a
// fallback; a token saved through the settings API takes precedence.
type ReadwiseConfig struct {
	Token             string        `yaml:"token" mapstructure:"token"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Circuit           CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// CircuitConfig tunes the circuit breaker guarding Readwise pushes.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetSeconds     int `yaml:"reset_seconds" mapstructure:"reset_seconds"`
}

// BooksConfig holds Google Books lookup settings.
type BooksConfig struct {
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	MaxResults int    `yaml:"max_results" mapstructure:"max_results"`
}

// EvalsConfig configures extraction evaluation runs.
type EvalsConfig struct {
	DatasetPath string  `yaml:"dataset_path" mapstructure:"dataset_path"`
	ReportPath  string  `yaml:"report_path" mapstructure:"report_path"`
	Threshold   float64 `yaml:"threshold" mapstructure:"threshold"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HIGHLIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "highlights.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("extractor.provider", "openai")
	v.SetDefault("extractor.openai.model", "gpt-5.2")
	v.SetDefault("extractor.openai.max_tokens", 2000)
	v.SetDefault("extractor.anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("extractor.anthropic.max_tokens", 2000)
	v.SetDefault("extractor.retry.max_attempts", 3)
	v.SetDefault("extractor.retry.initial_backoff_ms", 500)
	v.SetDefault("extractor.retry.max_backoff_ms", 30000)
	v.SetDefault("extractor.retry.multiplier", 2.0)
	v.SetDefault("extractor.retry.jitter_fraction", 0.25)
	v.SetDefault("readwise.base_url", "https://readwise.io/api/v2")
	v.SetDefault("readwise.requests_per_minute", 240)
	v.SetDefault("readwise.circuit.failure_threshold", 5)
	v.SetDefault("readwise.circuit.reset_seconds", 30)
	v.SetDefault("books.base_url", "https://www.googleapis.com/books/v1")
	v.SetDefault("books.max_results", 10)
	v.SetDefault("evals.dataset_path", "evals/samples/dataset.json")
	v.SetDefault("evals.report_path", "evals/reports/latest.html")
	v.SetDefault("evals.threshold", 80.0)
	v.SetDefault("evals.concurrency", 1)
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

// Validate checks the fields required by the named command mode. Ambient
// settings with safe defaults are not checked here.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		problems = append(problems, c.storeProblems()...)
	case "eval":
		if c.Evals.Threshold < 0 || c.Evals.Threshold > 100 {
			problems = append(problems, "evals.threshold must be between 0 and 100")
		}
		if c.Evals.Concurrency < 1 {
			problems = append(problems, "evals.concurrency must be >= 1")
		}
	case "sync", "export", "migrate":
		problems = append(problems, c.storeProblems()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) storeProblems() []string {
	var problems []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	return problems
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
