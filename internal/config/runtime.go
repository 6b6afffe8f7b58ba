package config

import (
	"time"
)

// RuntimeConfig is the configuration surface for the agent runtime binary
// (cmd/agentrtctl): orchestration, tunnel/relay, classification,
// escalation, outcome memory, messaging channels, logging, and cron
// housekeeping.
type RuntimeConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Relay         RelayConfig         `yaml:"relay"`
	Edge          EdgeConfig          `yaml:"edge"`
	LLM           LLMConfig           `yaml:"llm"`
	Classifier    ClassifierConfig    `yaml:"classifier"`
	Escalation    EscalationConfig    `yaml:"escalation"`
	Memory        RuntimeMemoryConfig `yaml:"memory"`
	Channels      ChannelsConfig      `yaml:"channels"`
	Logging       LoggingConfig       `yaml:"logging"`
	Cron          CronConfig          `yaml:"cron"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// RelayConfig configures the reverse tunnel's local half and, when
// acting as the relay binary, the hub's listen address.
type RelayConfig struct {
	// URL is the relay's /tunnel WebSocket endpoint, e.g. wss://relay.example.com/tunnel.
	URL string `yaml:"url"`

	// Token authenticates the tunnel connection (shared secret, compared
	// constant-time on the hub side).
	Token string `yaml:"token"`

	// Listen is the hub's bind address, used only by the `relay` subcommand.
	Listen string `yaml:"listen"`

	// DashboardJWTSecret signs dashboard session tokens on the hub.
	DashboardJWTSecret string `yaml:"dashboard_jwt_secret"`

	// DashboardTokenTTL bounds how long an issued dashboard JWT is valid.
	DashboardTokenTTL time.Duration `yaml:"dashboard_token_ttl"`
}

// EdgeConfig configures the optional local edge daemon connection
// (privileged local tool execution, paired over one of three auth modes).
type EdgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`

	// AuthMode selects how an edge authenticates: "token" (pre-shared,
	// production), "tofu" (trust-on-first-use with manual pairing
	// approval), or "dev" (accept all, development only).
	AuthMode string `yaml:"auth_mode"`

	// Tokens maps edge IDs to pre-shared tokens; only used when AuthMode
	// is "token".
	Tokens map[string]string `yaml:"tokens"`

	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout   time.Duration `yaml:"heartbeat_timeout"`
	DefaultToolTimeout time.Duration `yaml:"default_tool_timeout"`
	MaxConcurrentTools int           `yaml:"max_concurrent_tools"`
	EventBufferSize    int           `yaml:"event_buffer_size"`
}

// ClassifierConfig configures task classification: the rule-based
// pass always runs first; Model names the fallback model used only when
// confidence is below Threshold.
type ClassifierConfig struct {
	Model     string  `yaml:"model"`
	Threshold float64 `yaml:"threshold"`
}

// EscalationConfig configures the stuck-agent recovery chain.
type EscalationConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

// RuntimeMemoryConfig configures the per-agent outcome log, distinct
// from Config.VectorMemory which is the assistant's semantic recall store.
type RuntimeMemoryConfig struct {
	Path          string `yaml:"path"`
	MaxRecent     int    `yaml:"max_recent"`
}

// LoadRuntime reads and parses a runtime config file: env-var expansion,
// $include directive resolution (so a deployment can split secrets from
// the base file), strict field checking, single-document enforcement,
// then defaults.
func LoadRuntime(path string) (*RuntimeConfig, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyRuntimeDefaults(cfg)
	return cfg, nil
}

func applyRuntimeDefaults(cfg *RuntimeConfig) {
	applyServerDefaults(&cfg.Server)
	applyLoggingDefaults(&cfg.Logging)
	applyLLMDefaults(&cfg.LLM)

	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = "claude-haiku-4-5"
	}
	if cfg.Classifier.Threshold == 0 {
		cfg.Classifier.Threshold = 0.5
	}
	if cfg.Escalation.MaxRetries <= 0 {
		cfg.Escalation.MaxRetries = 3
	}
	if cfg.Memory.Path == "" {
		cfg.Memory.Path = "./data/agent_memory.jsonl"
	}
	if cfg.Memory.MaxRecent <= 0 {
		cfg.Memory.MaxRecent = 20
	}
	if cfg.Relay.DashboardTokenTTL <= 0 {
		cfg.Relay.DashboardTokenTTL = 24 * time.Hour
	}
	if cfg.Edge.HeartbeatInterval <= 0 {
		cfg.Edge.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Edge.HeartbeatTimeout <= 0 {
		cfg.Edge.HeartbeatTimeout = 90 * time.Second
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "agentrt"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
}
