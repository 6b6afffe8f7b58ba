// Package runtimeapp wires every component into one runnable program: the
// model client, tool registries per sub-agent, the classifier/escalation/
// memory/comms collaborators, the orchestrator Brain, chat platform
// adapters, and the dashboard server. This is the composition root the
// cmd/agentrtctl subcommands call into.
package runtimeapp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tarsline/agentrt/internal/agentmemory"
	"github.com/tarsline/agentrt/internal/agenttools"
	"github.com/tarsline/agentrt/internal/brain"
	"github.com/tarsline/agentrt/internal/channels"
	"github.com/tarsline/agentrt/internal/comms"
	"github.com/tarsline/agentrt/internal/config"
	"github.com/tarsline/agentrt/internal/dashboard"
	"github.com/tarsline/agentrt/internal/escalation"
	"github.com/tarsline/agentrt/internal/eventbus"
	"github.com/tarsline/agentrt/internal/llm"
	"github.com/tarsline/agentrt/internal/metrics"
	"github.com/tarsline/agentrt/internal/observability"
	"github.com/tarsline/agentrt/internal/toolregistry"
)

const eventHistorySize = 500

// App holds every wired collaborator for the `run` subcommand.
type App struct {
	Config     *config.RuntimeConfig
	Logger     *observability.Logger
	Bus        *eventbus.Bus
	Client     *llm.Client
	Brain      *brain.Brain
	Dashboard  *dashboard.Server
	Metrics    *metrics.Metrics
	Channels   *channels.Registry
	Tracer     *observability.Tracer
	tracerStop func(context.Context) error
}

// Build constructs the full collaborator graph from a loaded RuntimeConfig
// and a workspace directory sub-agent tools are scoped to.
func Build(cfg *config.RuntimeConfig, workspace string) (*App, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	client, err := buildModelClient(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("build model client: %w", err)
	}

	tracingEndpoint := ""
	if cfg.Observability.Tracing.Enabled {
		tracingEndpoint = cfg.Observability.Tracing.Endpoint
	}
	tracer, tracerStop := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: cfg.Observability.Tracing.ServiceVersion,
		Environment:    cfg.Observability.Tracing.Environment,
		Endpoint:       tracingEndpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Attributes:     cfg.Observability.Tracing.Attributes,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	})
	client = client.WithTracer(tracer)

	bus := eventbus.New(eventHistorySize)
	memoryLog := agentmemory.New()
	mtx := metrics.NewMetrics()
	escalationMgr := escalation.New(cfg.Escalation.MaxRetries).WithMetrics(mtx)
	scratchpad := comms.NewScratchpad()
	handoff := comms.NewHandoff()

	agents := buildSubAgents(workspace, tracer)

	b := brain.New(brain.Config{
		Client:          client,
		Bus:             bus,
		Model:           cfg.LLM.DefaultProvider,
		Agents:          agents,
		Memory:          memoryLog,
		Scratchpad:      scratchpad,
		Handoff:         handoff,
		Escalation:      escalationMgr,
		ClassifierModel: cfg.Classifier.Model,
		Metrics:         mtx,
	})

	dash := dashboard.New(bus, "./web/dist", dashboard.Hooks{
		GetStats: memoryLog.AllStats,
	}, nil)

	channelReg := buildChannelRegistry(cfg.Channels, slog.Default())

	return &App{
		Config: cfg, Logger: logger, Bus: bus, Client: client, Brain: b,
		Dashboard: dash, Metrics: mtx, Channels: channelReg,
		Tracer: tracer, tracerStop: tracerStop,
	}, nil
}

// buildSubAgents assembles the five specialist agents the classifier can
// target, each with its own scoped tool registry.
func buildSubAgents(workspace string, tracer *observability.Tracer) map[string]*brain.SubAgent {
	coderTools := toolregistry.New().WithTracer(tracer)
	agenttools.RegisterFileTools(coderTools, workspace)
	agenttools.RegisterExecTool(coderTools, workspace)

	systemTools := toolregistry.New().WithTracer(tracer)
	agenttools.RegisterExecTool(systemTools, workspace)

	fileTools := toolregistry.New().WithTracer(tracer)
	agenttools.RegisterFileTools(fileTools, workspace)

	browserTools := toolregistry.New().WithTracer(tracer)
	agenttools.RegisterBrowserTools(browserTools, context.Background())

	researchTools := toolregistry.New().WithTracer(tracer)
	agenttools.RegisterBrowserTools(researchTools, context.Background())

	return map[string]*brain.SubAgent{
		"coder":    {Name: "coder", System: coderSystemPrompt, Registry: coderTools, MaxSteps: 25},
		"system":   {Name: "system", System: systemSystemPrompt, Registry: systemTools, MaxSteps: 15},
		"file":     {Name: "file", System: fileSystemPrompt, Registry: fileTools, MaxSteps: 15},
		"browser":  {Name: "browser", System: browserSystemPrompt, Registry: browserTools, MaxSteps: 30},
		"research": {Name: "research", System: researchSystemPrompt, Registry: researchTools, MaxSteps: 20},
	}
}

const (
	coderSystemPrompt    = "You are the coder sub-agent. Read, write, and run code to accomplish the task. Call done when finished or stuck when you cannot proceed."
	systemSystemPrompt   = "You are the system sub-agent. Run shell commands to accomplish operating-system level tasks."
	fileSystemPrompt     = "You are the file sub-agent. Read and write files to accomplish the task."
	browserSystemPrompt  = "You are the browser sub-agent. Use goto/look/click/select to accomplish the task. Always look before clicking."
	researchSystemPrompt = "You are the research sub-agent. Use the browser tools to find and report information."
)

func buildModelClient(cfg config.LLMConfig) (*llm.Client, error) {
	providerCfg, ok := cfg.Providers[cfg.DefaultProvider]
	if !ok {
		return nil, fmt.Errorf("no provider configured for default_provider %q", cfg.DefaultProvider)
	}

	var provider llm.Provider
	var err error
	switch cfg.DefaultProvider {
	case "openai":
		provider, err = llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey: providerCfg.APIKey, BaseURL: providerCfg.BaseURL, DefaultModel: providerCfg.DefaultModel,
		})
	default:
		provider, err = llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey: providerCfg.APIKey, BaseURL: providerCfg.BaseURL, DefaultModel: providerCfg.DefaultModel,
		})
	}
	if err != nil {
		return nil, err
	}
	return llm.NewClient(provider, 3), nil
}

// Run starts the dashboard HTTP/WS/metrics listener and, if any chat
// platform adapters are enabled, routes their inbound messages to the
// brain until ctx is cancelled.
func (a *App) Run(ctx context.Context, addr string) error {
	if a.tracerStop != nil {
		defer a.tracerStop(context.Background())
	}

	errCh := make(chan error, 1)
	go func() { errCh <- routeChannelMessages(ctx, a.Channels, a.Brain, slog.Default()) }()

	srvErr := serve(ctx, addr, a.Dashboard, a.Logger)
	if srvErr != nil {
		return srvErr
	}
	return <-errCh
}
