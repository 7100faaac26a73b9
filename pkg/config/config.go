// Package config loads engine configuration from YAML and environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for plainquery-engine.
// Configuration can come from a YAML file (config.yaml) or environment
// variables; environment variables override YAML values. Secrets
// (passwords, API keys) must only come from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8488"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// EngineStore is the engine's own PostgreSQL database (session ledger).
	EngineStore EngineStoreConfig `yaml:"engine_store"`

	// Datasource is the user database queries run against.
	Datasource DatasourceConfig `yaml:"datasource"`

	// LLM is the external generation capability.
	LLM LLMConfig `yaml:"llm"`

	// Pipeline holds the query pipeline resource bounds.
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// EngineStoreConfig holds the engine's PostgreSQL configuration.
type EngineStoreConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"plainquery"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"plainquery_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// URL builds the postgres connection URL with credentials escaped.
func (c *EngineStoreConfig) URL() string {
	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		url.QueryEscape(c.Database),
		c.SSLMode,
	)
}

// DatasourceConfig holds the target database connection settings.
type DatasourceConfig struct {
	// Engine selects the datasource adapter: "postgres" or "mssql".
	Engine   string `yaml:"engine" env:"DATASOURCE_ENGINE" env-default:"postgres"`
	Host     string `yaml:"host" env:"DATASOURCE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DATASOURCE_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"DATASOURCE_USER"`
	Password string `yaml:"-" env:"DATASOURCE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"DATASOURCE_DATABASE"`
	SSLMode  string `yaml:"ssl_mode" env:"DATASOURCE_SSLMODE" env-default:"require"`
	// PoolMaxConns bounds concurrent sandbox executions per datasource.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"10"`
}

// URL builds the datasource connection URL with credentials escaped.
func (c *DatasourceConfig) URL() string {
	scheme := "postgresql"
	if c.Engine == "mssql" {
		scheme = "sqlserver"
	}
	u := fmt.Sprintf("%s://%s:%s@%s:%d/%s",
		scheme,
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		url.QueryEscape(c.Database),
	)
	if c.Engine != "mssql" {
		u += "?sslmode=" + c.SSLMode
	}
	return u
}

// LLMConfig holds generation capability settings.
type LLMConfig struct {
	// Provider selects the client: "openai" (OpenAI-compatible, including
	// local vLLM/Ollama gateways) or "anthropic".
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint    string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:""`
	Model       string  `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1024"`
}

// PipelineConfig holds the resource bounds for the query pipeline.
type PipelineConfig struct {
	// RowCap is the maximum number of rows any executed statement may return.
	RowCap int `yaml:"row_cap" env:"PIPELINE_ROW_CAP" env-default:"1000"`
	// ExecutionTimeout bounds sandbox wall-clock time per statement.
	ExecutionTimeout time.Duration `yaml:"execution_timeout" env:"PIPELINE_EXECUTION_TIMEOUT" env-default:"10s"`
	// ContextTurns is how many prior turns the prompt builder includes.
	ContextTurns int `yaml:"context_turns" env:"PIPELINE_CONTEXT_TURNS" env-default:"5"`
	// SampleRows is how many sample rows per table the catalog captures
	// at scan time for prompt context. 0 disables sampling.
	SampleRows int `yaml:"sample_rows" env:"PIPELINE_SAMPLE_ROWS" env-default:"3"`
	// SynthesisAttempts bounds calls to the generation capability per turn.
	SynthesisAttempts int `yaml:"synthesis_attempts" env:"PIPELINE_SYNTHESIS_ATTEMPTS" env-default:"3"`
	// SynthesisBackoff is the initial backoff between synthesis attempts.
	SynthesisBackoff time.Duration `yaml:"synthesis_backoff" env:"PIPELINE_SYNTHESIS_BACKOFF" env-default:"500ms"`
}

// Load reads configuration from config.yaml (if present) and environment.
func Load(version string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("read environment: %w", err)
		}
	}

	cfg.Version = version

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.RowCap <= 0 {
		return fmt.Errorf("pipeline.row_cap must be positive, got %d", c.Pipeline.RowCap)
	}
	if c.Pipeline.ExecutionTimeout <= 0 {
		return fmt.Errorf("pipeline.execution_timeout must be positive, got %s", c.Pipeline.ExecutionTimeout)
	}
	if c.Pipeline.SynthesisAttempts <= 0 {
		return fmt.Errorf("pipeline.synthesis_attempts must be positive, got %d", c.Pipeline.SynthesisAttempts)
	}
	switch c.Datasource.Engine {
	case "postgres", "mssql":
	default:
		return fmt.Errorf("datasource.engine must be postgres or mssql, got %q", c.Datasource.Engine)
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider)
	}
	return nil
}
