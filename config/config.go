package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the conversation service
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Persona    PersonaConfig    `mapstructure:"persona"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Compaction CompactionConfig `mapstructure:"compaction"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug       bool          `mapstructure:"debug"`
	LogLevel    string        `mapstructure:"log_level"`
	MaxTurnTime time.Duration `mapstructure:"max_turn_time"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider settings
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"` // openai
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	Temperature  float32       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	PhaseTimeout time.Duration `mapstructure:"phase_timeout"` // ceiling per LLM call
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	if l.PhaseTimeout <= 0 {
		return fmt.Errorf("llm.phase_timeout must be greater than zero")
	}
	return nil
}

// PersonaConfig carries the assistant's standing identity instructions.
// The pipeline treats these as opaque deployment-supplied text; nothing
// persona-specific is hardcoded in the phases.
type PersonaConfig struct {
	Name          string   `mapstructure:"name"`
	ToneRules     []string `mapstructure:"tone_rules"`
	ClosingPhrase string   `mapstructure:"closing_phrase"`
	MaxSentences  int      `mapstructure:"max_sentences"`
}

func (p PersonaConfig) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("persona.name is required")
	}
	if p.MaxSentences <= 0 {
		return fmt.Errorf("persona.max_sentences must be greater than zero")
	}
	return nil
}

// ToolsConfig enables and configures the built-in tool set.
type ToolsConfig struct {
	InvokeTimeout time.Duration   `mapstructure:"invoke_timeout"` // ceiling per tool call
	SigningSecret string          `mapstructure:"signing_secret"` // optional descriptor HMAC key
	WebSearch     WebSearchConfig `mapstructure:"web_search"`
	WebFetch      WebFetchConfig  `mapstructure:"web_fetch"`
	Weather       WeatherConfig   `mapstructure:"weather"`
	MemorySearch  MemorySearchCfg `mapstructure:"memory_search"`
	DateTime      DateTimeToolCfg `mapstructure:"datetime"`
	Disabled      []string        `mapstructure:"disabled"` // tool names forced off
}

// WebSearchConfig holds API keys for the search backends.
type WebSearchConfig struct {
	SerperAPIKey string `mapstructure:"serper_api_key"`
	BraveAPIKey  string `mapstructure:"brave_api_key"`
	MaxResults   int    `mapstructure:"max_results"`
}

// WebFetchConfig controls article extraction.
type WebFetchConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	MaxBytes int  `mapstructure:"max_bytes"`
}

// WeatherConfig configures the forecast backend.
type WeatherConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
}

// MemorySearchCfg controls full-text search over conversation history.
type MemorySearchCfg struct {
	Enabled  bool   `mapstructure:"enabled"`
	IndexDir string `mapstructure:"index_dir"` // empty means in-memory index
	TopK     int    `mapstructure:"top_k"`
}

// DateTimeToolCfg controls the clock/calendar tool.
type DateTimeToolCfg struct {
	Enabled bool `mapstructure:"enabled"`
}

// StorageConfig contains persistence settings
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a Postgres connection string from the configured parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings. Redis is optional; when
// host is empty the compactor uses in-process locking only.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required when host is provided")
	}
	return nil
}

// CompactionConfig controls the background compactor.
type CompactionConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Threshold     int           `mapstructure:"threshold"`      // window size in messages
	SweepCron     string        `mapstructure:"sweep_cron"`     // e.g. "*/10 * * * *"
	LockTTL       time.Duration `mapstructure:"lock_ttl"`       // redis lock expiry
	SummaryBudget time.Duration `mapstructure:"summary_budget"` // ceiling per summarization call
	QueueSize     int           `mapstructure:"queue_size"`
}

func (c CompactionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Threshold < 2 {
		return fmt.Errorf("compaction.threshold must be at least 2")
	}
	if c.SummaryBudget <= 0 {
		return fmt.Errorf("compaction.summary_budget must be greater than zero")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	LogFile      string `mapstructure:"log_file"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
}

// LoadConfig loads config from file with CONVERSE_* env overrides
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("general.max_turn_time", "2m")
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.max_tokens", 2048)
	viper.SetDefault("llm.phase_timeout", "45s")
	viper.SetDefault("persona.max_sentences", 8)
	viper.SetDefault("tools.invoke_timeout", "20s")
	viper.SetDefault("tools.web_search.max_results", 5)
	viper.SetDefault("tools.memory_search.top_k", 5)
	viper.SetDefault("compaction.enabled", true)
	viper.SetDefault("compaction.threshold", 50)
	viper.SetDefault("compaction.lock_ttl", "5m")
	viper.SetDefault("compaction.summary_budget", "90s")
	viper.SetDefault("compaction.queue_size", 64)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("CONVERSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Persona.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	if err := config.Compaction.Validate(); err != nil {
		panic(err)
	}
	return &config
}
