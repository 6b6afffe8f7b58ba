package config

// GatewayConfig configures gateway-level message routing and processing.
type GatewayConfig struct {
	Broadcast BroadcastConfig `yaml:"broadcast"`
	// WebhookHooks configures inbound webhook handlers.
	WebhookHooks WebhookHooksConfig `yaml:"webhook_hooks"`
}

// BroadcastConfig configures broadcast groups for message routing.
type BroadcastConfig struct {
	// Strategy defines how messages are processed: "parallel" or "sequential".
	Strategy string `yaml:"strategy"`

	// Groups maps peer_id to a list of agent_ids that should process messages.
	// When a message arrives from a peer in this map, it will be routed to all
	// specified agents instead of the default single agent.
	Groups map[string][]string `yaml:"groups"`
}

// WebhookHooksConfig configures inbound webhook hook handling.
type WebhookHooksConfig struct {
	// Enabled turns on webhook hooks.
	Enabled bool `yaml:"enabled"`

	// BasePath is the URL path prefix for webhook hooks (default: /hooks).
	BasePath string `yaml:"base_path"`

	// Token is the required authentication token.
	Token string `yaml:"token"`

	// MaxBodyBytes limits the request body size (default: 256KB).
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// Mappings define webhook endpoints and their handlers.
	Mappings []WebhookHookMapping `yaml:"mappings"`
}

// WebhookHookMapping defines a webhook hook endpoint.
type WebhookHookMapping struct {
	// Path is the endpoint path (appended to BasePath).
	Path string `yaml:"path"`

	// Name is a human-readable name for this webhook.
	Name string `yaml:"name"`

	// Handler is the handler type (agent, wake, custom).
	Handler string `yaml:"handler"`

	// AgentID targets a specific agent (optional).
	AgentID string `yaml:"agent_id"`

	// ChannelID targets a specific channel (optional).
	ChannelID string `yaml:"channel_id"`
}
