package main

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/agentrelay/agentrelay"
	"github.com/agentrelay/agentrelay/config"
	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/history"
	"github.com/agentrelay/agentrelay/logging"
	"github.com/agentrelay/agentrelay/metrics"
	rtanthropic "github.com/agentrelay/agentrelay/runtime/anthropic"
	rtopenai "github.com/agentrelay/agentrelay/runtime/openai"
	"github.com/agentrelay/agentrelay/runtime/opencode"
	"github.com/agentrelay/agentrelay/session"
)

// app bundles everything a command needs, constructed once per invocation.
type app struct {
	cfg      *config.Config
	logger   *logging.RelayLogger
	relay    *agentrelay.AgentRelay
	store    history.Store
	registry *prometheus.Registry
	streamM  *metrics.StreamingMetrics

	redisClient *redis.Client
}

func wireApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := logging.NewSlogLogger(parseLevel(cfg.Log.Level), cfg.Log.Format, false)

	var (
		registry *prometheus.Registry
		poolM    *metrics.PoolMetrics
		wfM      *metrics.WorkflowMetrics
		streamM  *metrics.StreamingMetrics
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		poolM = metrics.NewPoolMetrics(registry)
		wfM = metrics.NewWorkflowMetrics(registry)
		streamM = metrics.NewStreamingMetrics(registry)
	}

	relay := agentrelay.New(runtimeFactory(cfg, logger), func(o *agentrelay.Options) {
		o.DefaultProjectDir = cfg.Session.DefaultProjectDir
		o.DirectInactivity = cfg.Session.DirectInactivity
		o.ChannelInactivity = cfg.Session.ChannelInactivity
		o.SweepInterval = cfg.Session.SweepInterval
		o.MaxConcurrent = cfg.Pool.MaxConcurrent
		o.AcquireTimeout = cfg.Pool.AcquireTimeout
		o.TaskTimeout = cfg.Pool.TaskTimeout
		o.PoolMetrics = poolM
		o.WorkflowMetrics = wfM
		o.Logger = logger
	})

	a := &app{cfg: cfg, logger: logger, relay: relay, registry: registry, streamM: streamM}

	switch cfg.History.Backend {
	case "redis":
		a.redisClient = redis.NewClient(&redis.Options{Addr: cfg.History.RedisAddr})
		a.store = history.NewRedisStore(a.redisClient,
			history.WithTTL(cfg.History.TTL),
			history.WithTrim(cfg.History.MaxTurns),
		)
	default:
		a.store = history.NewInMemoryStore(history.WithMaxTurns(cfg.History.MaxTurns))
	}

	if cfg.Workflows.Dir != "" {
		n, err := relay.LoadWorkflows(cfg.Workflows.Dir)
		if err != nil {
			return nil, fmt.Errorf("load workflows from %s: %w", cfg.Workflows.Dir, err)
		}
		logger.Info("workflows loaded", "dir", cfg.Workflows.Dir, "count", n)
	}

	return a, nil
}

func (a *app) close(ctx context.Context) {
	a.relay.Shutdown(ctx)
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("close redis client", "error", err)
		}
	}
}

// runtimeFactory selects the backend named by the configuration. Each session
// dials its own runtime connection.
func runtimeFactory(cfg *config.Config, logger logging.Logger) session.RuntimeFactory {
	switch cfg.Runtime.Kind {
	case "anthropic":
		return func(context.Context) (core.RuntimeClient, error) {
			return rtanthropic.New(func(o *rtanthropic.Options) {
				if cfg.Runtime.Model != "" {
					o.Model = anthropicsdk.Model(cfg.Runtime.Model)
				}
				o.APIKey = cfg.Runtime.APIKey
				o.Logger = logger
			}), nil
		}
	case "openai":
		return func(context.Context) (core.RuntimeClient, error) {
			return rtopenai.New(func(o *rtopenai.Options) {
				if cfg.Runtime.Model != "" {
					o.Model = cfg.Runtime.Model
				}
				o.APIKey = cfg.Runtime.APIKey
				o.Logger = logger
			}), nil
		}
	default:
		return func(context.Context) (core.RuntimeClient, error) {
			return opencode.New(cfg.Runtime.URL, func(o *opencode.Options) {
				o.Logger = logger
			})
		}
	}
}

func parseLevel(s string) logging.LogLevel {
	switch s {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}
