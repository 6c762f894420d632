package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaisdk "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hupe1980/agentloop/agent"
	"github.com/hupe1980/agentloop/config"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/flow"
	"github.com/hupe1980/agentloop/flow/amqpsink"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/memory"
	"github.com/hupe1980/agentloop/memory/gormstore"
	"github.com/hupe1980/agentloop/memory/redisstore"
	"github.com/hupe1980/agentloop/metrics"
	"github.com/hupe1980/agentloop/model"
	"github.com/hupe1980/agentloop/model/anthropic"
	"github.com/hupe1980/agentloop/model/openai"
	"github.com/hupe1980/agentloop/model/tokenizer"
	"github.com/hupe1980/agentloop/tool"
	"github.com/hupe1980/agentloop/tool/browser"
)

// SetupOptions adjust NewFromConfig.
type SetupOptions struct {
	// Model overrides the provider selected by the configuration.
	Model model.Model
	// Tools are registered in addition to the configured built-ins.
	Tools []tool.Tool
	// Registerer receives metrics when enabled (default prometheus.DefaultRegisterer).
	Registerer prometheus.Registerer
	// Observer receives loop events.
	Observer core.Observer
	// LogOutput defaults to os.Stderr.
	LogOutput io.Writer
}

// NewFromConfig builds a Runtime with every component selected by cfg: the
// provider model behind a gateway, the tool registry, archives, metrics,
// logging and an optional result sink.
func NewFromConfig(ctx context.Context, cfg *config.Config, optFns ...func(o *SetupOptions)) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("agentloop: %w", err)
	}
	so := SetupOptions{LogOutput: os.Stderr}
	for _, fn := range optFns {
		fn(&so)
	}

	var closers []io.Closer
	fail := func(err error) (*Runtime, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}

	logger, err := newLogger(cfg.Log, so.LogOutput)
	if err != nil {
		return fail(err)
	}

	m := so.Model
	if m == nil {
		m = newModel(cfg.Model)
	}

	counter := core.TokenCounter(tokenizer.Estimator)
	if cfg.Memory.MaxContextTokens > 0 {
		tk := tokenizer.ForModel(cfg.Model.Name)
		if err := tk.Err(); err != nil {
			logger.Warn("setup.tokenizer.fallback", "encoding", tk.Name(), "error", err.Error())
		}
		counter = tk
	}

	archive, err := newArchive(ctx, cfg.Archive)
	if err != nil {
		return fail(err)
	}
	if archive != nil {
		closers = append(closers, archive)
	}

	tools := append([]tool.Tool(nil), so.Tools...)
	if cfg.Tools.Browser {
		backend := browser.NewHTTPBackend()
		closers = append(closers, backend)
		tools = append(tools, browser.NewTools(backend)...)
	}
	if cfg.Tools.Recall && archive != nil {
		tools = append(tools, tool.NewRecallTool(archive))
	}
	registry, err := tool.NewRegistry(tools...)
	if err != nil {
		return fail(fmt.Errorf("agentloop: tools: %w", err))
	}
	if len(cfg.Tools.Allow) > 0 {
		if registry, err = registry.Restrict(cfg.Tools.Allow); err != nil {
			return fail(fmt.Errorf("agentloop: tools: %w", err))
		}
	}

	gateway := model.NewGateway(m, func(o *model.GatewayOptions) {
		o.Directory = cfg.Agent.Directory
		o.StrictToolUse = cfg.Model.StrictToolUse
		o.TokenCounter = counter
		o.Logger = logger
		if cfg.Model.RequestsPerSecond > 0 {
			o.Limiter = rate.NewLimiter(rate.Limit(cfg.Model.RequestsPerSecond), 1)
		}
	})

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		reg := so.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		collector = metrics.NewCollector(cfg.Metrics.Namespace, reg)
	}

	var sink flow.Sink
	if cfg.Sink.AMQPURL != "" {
		s, err := amqpsink.Dial(cfg.Sink.AMQPURL, func(o *amqpsink.Options) {
			o.Exchange = cfg.Sink.Exchange
			o.Queue = cfg.Sink.Queue
			o.Logger = logger
		})
		if err != nil {
			return fail(err)
		}
		closers = append(closers, s)
		sink = s
	}

	var summarizer core.Summarizer
	if cfg.Memory.Summarizer == "model" {
		summarizer = model.NewSummarizer(m, "")
	}

	logger.Info("setup.complete",
		"provider", m.Info().Provider,
		"model", m.Info().Name,
		"tools", registry.Len(),
		"archive", cfg.Archive.Driver,
		"metrics", cfg.Metrics.Enabled,
		"sink", sink != nil,
	)

	return New(gateway, registry, func(o *Options) {
		o.Logger = logger
		o.Closers = closers
		o.Flow = append(o.Flow, cfg.FlowOptions(), func(fo *flow.Options) {
			fo.Metrics = collector
			fo.Sink = sink
			fo.Agent = append(fo.Agent, func(ao *agent.Options) {
				ao.TokenCounter = counter
				ao.Archive = archive
				ao.Observer = so.Observer
				if summarizer != nil {
					ao.Summarizer = summarizer
				}
			})
		})
	}), nil
}

func newLogger(cfg config.LogConfig, out io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("agentloop: log level: %w", err)
	}
	if cfg.Backend == "zap" {
		return logging.NewZapLogger(level, cfg.Format)
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Format,
		Output:    out,
		Component: "agentloop",
	}), nil
}

func newModel(cfg config.ModelConfig) model.Model {
	if cfg.Provider == "anthropic" {
		var ropts []anthropicopt.RequestOption
		if cfg.BaseURL != "" {
			ropts = append(ropts, anthropicopt.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			o.APIKey = cfg.APIKey
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = int64(cfg.MaxTokens)
			}
			o.RequestOptions = ropts
		})
	}

	var ropts []openaiopt.RequestOption
	if cfg.APIKey != "" {
		ropts = append(ropts, openaiopt.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		ropts = append(ropts, openaiopt.WithBaseURL(cfg.BaseURL))
	}
	client := openaisdk.NewClient(ropts...)
	return openai.NewModelFromClient(&client, func(o *openai.Options) {
		if cfg.Name != "" {
			o.Model = cfg.Name
		}
		o.Temperature = cfg.Temperature
		if cfg.MaxTokens > 0 {
			o.MaxCompletionTokens = int64(cfg.MaxTokens)
		}
	})
}

func newArchive(ctx context.Context, cfg config.ArchiveConfig) (core.Archive, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.NewInMemoryArchive(), nil
	case "redis":
		rc := redisstore.DefaultConfig()
		rc.Addr = cfg.Addr
		if cfg.Prefix != "" {
			rc.KeyPrefix = cfg.Prefix + ":archive:"
		}
		if cfg.TTL > 0 {
			rc.TTL = cfg.TTL
		}
		return redisstore.New(ctx, rc)
	case "sqlite", "mysql", "postgres":
		return gormstore.Open(gormstore.Config{Driver: cfg.Driver, DSN: cfg.DSN})
	default:
		return nil, errors.New("agentloop: unsupported archive driver " + cfg.Driver)
	}
}
