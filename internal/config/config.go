package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type ExtractionPrompts struct {
	Candidates string `toml:"candidates"`
}

type ReviewPrompts struct {
	Advise string `toml:"advise"`
}

type LLMConfig struct {
	Provider  string `toml:"provider"` // openai | gemini | claude | ollama; empty disables LLM features
	Model     string `toml:"model"`
	APIKey    string `toml:"api_key"`
	BaseURL   string `toml:"base_url"`
	MaxTokens int    `toml:"max_tokens"`
}

type MemgraphConfig struct {
	URI            string `toml:"uri"`
	User           string `toml:"user"`
	Password       string `toml:"password"`
	Database       string `toml:"database"`
	MaxPoolSize    int    `toml:"max_pool_size"`
	ConnectTimeout string `toml:"connect_timeout"`
}

type ServerConfig struct {
	Port string `toml:"port"`
	Mode string `toml:"mode"` // gin mode: debug, release, test
}

type LogConfig struct {
	Mode string `toml:"mode"` // development | production
}

// MatchingConfig holds the similarity weights. They are tunable heuristics;
// the defaults are validated against the scenarios in the dedupe tests.
type MatchingConfig struct {
	Floor            float64 `toml:"floor"`
	High             float64 `toml:"high"`
	NameWeight       float64 `toml:"name_weight"`
	BrandBonus       float64 `toml:"brand_bonus"`
	BrandPenalty     float64 `toml:"brand_penalty"`
	ContainmentBoost float64 `toml:"containment_boost"`
	CategoryPenalty  float64 `toml:"category_penalty"`
	PoolLimit        int     `toml:"pool_limit"`
}

type MergeConfig struct {
	VerifiedThreshold float64 `toml:"verified_threshold"`
	DefaultConfidence float64 `toml:"default_confidence"`
}

type FamilyConfig struct {
	MinBaseTokens int     `toml:"min_base_tokens"`
	MinConfidence float64 `toml:"min_confidence"`
}

type PersistenceConfig struct {
	Store          string `toml:"store"` // memgraph | memory
	MaxAttempts    int    `toml:"max_attempts"`
	InitialBackoff string `toml:"initial_backoff"`
	MaxBackoff     string `toml:"max_backoff"`
	TxTimeout      string `toml:"tx_timeout"`
}

type OrchestratorConfig struct {
	Workers          int    `toml:"workers"`
	QueueSize        int    `toml:"queue_size"`
	EventBuffer      int    `toml:"event_buffer"`
	CandidateTimeout string `toml:"candidate_timeout"`
}

type ReviewConfig struct {
	Path     string `toml:"path"` // empty = in-memory badger
	Advisory bool   `toml:"advisory"`
}

type RedisConfig struct {
	Addr    string `toml:"addr"`
	Channel string `toml:"channel"`
}

type Config struct {
	Server       ServerConfig       `toml:"server"`
	Log          LogConfig          `toml:"log"`
	Memgraph     MemgraphConfig     `toml:"memgraph"`
	Matching     MatchingConfig     `toml:"matching"`
	Merge        MergeConfig        `toml:"merge"`
	Family       FamilyConfig       `toml:"family"`
	Persistence  PersistenceConfig  `toml:"persistence"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Review       ReviewConfig       `toml:"review"`
	Redis        RedisConfig        `toml:"redis"`
	LLM          LLMConfig          `toml:"llm"`
	Extraction   ExtractionPrompts  `toml:"extraction"`
	Prompts      ReviewPrompts      `toml:"prompts"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Mode: "release"},
		Log:    LogConfig{Mode: "development"},
		Memgraph: MemgraphConfig{
			URI:            "bolt://localhost:7687",
			MaxPoolSize:    50,
			ConnectTimeout: "10s",
		},
		Matching: MatchingConfig{
			Floor:            0.6,
			High:             0.92,
			NameWeight:       0.9,
			BrandBonus:       0.1,
			BrandPenalty:     0.15,
			ContainmentBoost: 0.15,
			CategoryPenalty:  0.1,
			PoolLimit:        200,
		},
		Merge: MergeConfig{
			VerifiedThreshold: 0.5,
			DefaultConfidence: 0.5,
		},
		Family: FamilyConfig{
			MinBaseTokens: 1,
			MinConfidence: 0.65,
		},
		Persistence: PersistenceConfig{
			Store:          "memgraph",
			MaxAttempts:    5,
			InitialBackoff: "200ms",
			MaxBackoff:     "5s",
			TxTimeout:      "15s",
		},
		Orchestrator: OrchestratorConfig{
			Workers:          4,
			QueueSize:        256,
			EventBuffer:      1024,
			CandidateTimeout: "2m",
		},
		Redis: RedisConfig{Channel: "geargraph.events"},
		LLM:   LLMConfig{MaxTokens: 2048},
	}
}

// Load overlays the TOML file at path onto Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides connection settings and secrets from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("MEMGRAPH_URI"); v != "" {
		c.Memgraph.URI = v
	}
	if v := os.Getenv("MEMGRAPH_USER"); v != "" {
		c.Memgraph.User = v
	}
	if v := os.Getenv("MEMGRAPH_PASSWORD"); v != "" {
		c.Memgraph.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("GEARGRAPH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Orchestrator.Workers = n
		}
	}
}

func (c *Config) Validate() error {
	m := c.Matching
	if m.Floor <= 0 || m.Floor > 1 || m.High <= 0 || m.High > 1 {
		return errors.New("matching thresholds must be in (0,1]")
	}
	if m.Floor >= m.High {
		return fmt.Errorf("matching floor %.2f must be below high threshold %.2f", m.Floor, m.High)
	}
	if c.Merge.VerifiedThreshold < 0 || c.Merge.VerifiedThreshold > 1 {
		return errors.New("merge.verified_threshold must be in [0,1]")
	}
	if c.Orchestrator.Workers < 1 {
		return errors.New("orchestrator.workers must be at least 1")
	}
	if c.Persistence.MaxAttempts < 1 {
		return errors.New("persistence.max_attempts must be at least 1")
	}
	for name, v := range map[string]string{
		"persistence.initial_backoff":    c.Persistence.InitialBackoff,
		"persistence.max_backoff":        c.Persistence.MaxBackoff,
		"persistence.tx_timeout":         c.Persistence.TxTimeout,
		"memgraph.connect_timeout":       c.Memgraph.ConnectTimeout,
		"orchestrator.candidate_timeout": c.Orchestrator.CandidateTimeout,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	switch c.Persistence.Store {
	case "memgraph", "memory":
	default:
		return fmt.Errorf("unsupported persistence.store %q", c.Persistence.Store)
	}
	return nil
}

// Duration parses a validated duration string, falling back to def.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
