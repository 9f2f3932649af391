// Package config loads and validates process configuration for the orchestrator.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level process configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	LLM       LLMConfig       `yaml:"llm"`
	ReactLoop ReactLoopConfig `yaml:"react_loop"`
	Pool      PoolConfig      `yaml:"pool"`
	Agent     AgentConfig     `yaml:"agent"`
}

// AgentConfig configures the orchestrator's own top-level persona and
// context-recall behavior (§4.6 step 1), distinct from any individual
// Agent-Tool's own spec.
type AgentConfig struct {
	Persona           string `yaml:"persona"`
	HistoryLimit      int    `yaml:"history_limit"`
	RecalledFactLimit int    `yaml:"recalled_fact_limit"`
}

// DefaultAgentConfig returns the §4.6 defaults.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Persona:           "You are a helpful assistant.",
		HistoryLimit:      50,
		RecalledFactLimit: 5,
	}
}

func (c *AgentConfig) sanitize() {
	def := DefaultAgentConfig()
	if c.Persona == "" {
		c.Persona = def.Persona
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.RecalledFactLimit <= 0 {
		c.RecalledFactLimit = def.RecalledFactLimit
	}
}

// ServerConfig configures the HTTP/stream boundary (§6.5).
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// LLMConfig selects and configures the LLM provider (§6.1, §2.2).
type LLMConfig struct {
	Provider  string               `yaml:"provider"` // "anthropic" | "openai"
	Model     string               `yaml:"model"`
	Anthropic LLMProviderKeyConfig `yaml:"anthropic"`
	OpenAI    LLMProviderKeyConfig `yaml:"openai"`
}

// LLMProviderKeyConfig carries credentials for a single provider.
type LLMProviderKeyConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ReactLoopConfig is the §6.6 configuration surface for the ReAct loop.
type ReactLoopConfig struct {
	MaxTurns                  int           `yaml:"max_turns"`
	ToolExecutionTimeout      time.Duration `yaml:"tool_execution_timeout"`
	AgentToolExecutionTimeout time.Duration `yaml:"agent_tool_execution_timeout"`
	MaxToolResultShare        float64       `yaml:"max_tool_result_share"`
	MaxToolResultChars        int           `yaml:"max_tool_result_chars"`
	ContextTokenLimit         int           `yaml:"context_token_limit"`
	ContextTrimThreshold      float64       `yaml:"context_trim_threshold"`
	MaxHistoryMessages        int           `yaml:"max_history_messages"`
	LLMMaxRetries             int           `yaml:"llm_max_retries"`
	LLMRetryBaseDelay         time.Duration `yaml:"llm_retry_base_delay"`
	ApprovalTimeoutMinutes    int           `yaml:"approval_timeout_minutes"`
}

// PoolConfig folds in the original source's SessionConfig (§3.1 supplement).
type PoolConfig struct {
	Enabled            bool          `yaml:"enabled"`
	SessionTTL         time.Duration `yaml:"session_ttl"`
	AutoBackupInterval time.Duration `yaml:"auto_backup_interval"`
	AutoRestoreOnStart bool          `yaml:"auto_restore_on_start"`
	LazyRestore        bool          `yaml:"lazy_restore"`
	WaitingTimeout     time.Duration `yaml:"waiting_timeout"`
	MaxAgentsPerTenant int           `yaml:"max_agents_per_tenant"`

	// Backend selects the durable store for parked agent-pool entries:
	// "memory" (default, lost on restart) or "postgres" (PostgresDSN
	// required), grounded on the original source's PostgresPoolBackend.
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// DefaultReactLoopConfig returns the §6.6 defaults.
func DefaultReactLoopConfig() ReactLoopConfig {
	return ReactLoopConfig{
		MaxTurns:                  10,
		ToolExecutionTimeout:      30 * time.Second,
		AgentToolExecutionTimeout: 120 * time.Second,
		MaxToolResultShare:        0.3,
		MaxToolResultChars:        400_000,
		ContextTokenLimit:         128_000,
		ContextTrimThreshold:      0.8,
		MaxHistoryMessages:        40,
		LLMMaxRetries:             2,
		LLMRetryBaseDelay:         time.Second,
		ApprovalTimeoutMinutes:    30,
	}
}

// DefaultPoolConfig returns the §3.1 pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Enabled:            true,
		SessionTTL:         24 * time.Hour,
		AutoBackupInterval: time.Minute,
		AutoRestoreOnStart: true,
		LazyRestore:        true,
		WaitingTimeout:     5 * time.Minute,
		MaxAgentsPerTenant: 10,
		Backend:            "memory",
	}
}

// Default returns a complete Config with every sub-section defaulted.
func Default() Config {
	return Config{
		Server:    ServerConfig{Addr: ":8080"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		LLM:       LLMConfig{Provider: "anthropic", Model: "claude-sonnet-4-5"},
		ReactLoop: DefaultReactLoopConfig(),
		Pool:      DefaultPoolConfig(),
		Agent:     DefaultAgentConfig(),
	}
}

// sanitize clamps nonsensical values to the documented defaults rather than
// failing to start, matching the teacher's sanitizeLoopConfig idiom.
func (c *ReactLoopConfig) sanitize() {
	def := DefaultReactLoopConfig()
	if c.MaxTurns <= 0 {
		c.MaxTurns = def.MaxTurns
	}
	if c.ToolExecutionTimeout <= 0 {
		c.ToolExecutionTimeout = def.ToolExecutionTimeout
	}
	if c.AgentToolExecutionTimeout <= 0 {
		c.AgentToolExecutionTimeout = def.AgentToolExecutionTimeout
	}
	if c.MaxToolResultShare <= 0 {
		c.MaxToolResultShare = def.MaxToolResultShare
	}
	if c.MaxToolResultChars <= 0 {
		c.MaxToolResultChars = def.MaxToolResultChars
	}
	if c.ContextTokenLimit <= 0 {
		c.ContextTokenLimit = def.ContextTokenLimit
	}
	if c.ContextTrimThreshold <= 0 {
		c.ContextTrimThreshold = def.ContextTrimThreshold
	}
	if c.MaxHistoryMessages <= 0 {
		c.MaxHistoryMessages = def.MaxHistoryMessages
	}
	if c.LLMMaxRetries < 0 {
		c.LLMMaxRetries = def.LLMMaxRetries
	}
	if c.LLMRetryBaseDelay <= 0 {
		c.LLMRetryBaseDelay = def.LLMRetryBaseDelay
	}
	if c.ApprovalTimeoutMinutes <= 0 {
		c.ApprovalTimeoutMinutes = def.ApprovalTimeoutMinutes
	}
}

func (c *PoolConfig) sanitize() {
	def := DefaultPoolConfig()
	if c.SessionTTL <= 0 {
		c.SessionTTL = def.SessionTTL
	}
	if c.AutoBackupInterval <= 0 {
		c.AutoBackupInterval = def.AutoBackupInterval
	}
	if c.WaitingTimeout <= 0 {
		c.WaitingTimeout = def.WaitingTimeout
	}
	if c.MaxAgentsPerTenant <= 0 {
		c.MaxAgentsPerTenant = def.MaxAgentsPerTenant
	}
	if c.Backend == "" {
		c.Backend = def.Backend
	}
}

// Load reads a YAML config file from path, applying env var expansion and
// defaults for anything left zero-valued.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize config: %w", err)
	}
	if err := yaml.Unmarshal(payload, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ReactLoop.sanitize()
	cfg.Pool.sanitize()
	cfg.Agent.sanitize()
	return &cfg, nil
}
