package crucible

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hdlforge/crucible/internal/adapters/memory"
	"github.com/hdlforge/crucible/internal/adapters/redis"
	"github.com/hdlforge/crucible/internal/config"
	"github.com/hdlforge/crucible/internal/graph"
	"github.com/hdlforge/crucible/internal/logging"
	ledgerpkg "github.com/hdlforge/crucible/internal/memory"
	"github.com/hdlforge/crucible/internal/metrics"
	"github.com/hdlforge/crucible/internal/runtime"
	"github.com/hdlforge/crucible/pkg/domain"
	"github.com/hdlforge/crucible/pkg/ports"
)

// Version is the library version, reported by the CLI.
const Version = "0.1.0"

// Campaign is the high-level entry point: it wires the design graph, task
// memory, broker, and orchestrator for one verification run.
type Campaign struct {
	cfg        config.Config
	logger     *slog.Logger
	hooks      domain.LifecycleHooks
	broker     ports.Broker
	ownsBroker bool
	locker     ports.CampaignLocker

	store     *graph.Store
	ledger    *ledgerpkg.Ledger
	collector *metrics.Collector
	orch      *runtime.Orchestrator
}

// Option configures a Campaign.
type Option func(*Campaign)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Campaign) { c.logger = logger }
}

// WithBroker injects a broker, bypassing the config's transport selection.
// The caller keeps ownership and must close it.
func WithBroker(b ports.Broker) Option {
	return func(c *Campaign) { c.broker = b }
}

// WithCampaignLocker injects a lock implementation for shared transports.
func WithCampaignLocker(l ports.CampaignLocker) Option {
	return func(c *Campaign) { c.locker = l }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(c *Campaign) { c.hooks = c.hooks.Merge(hooks) }
}

// New loads the planner output named by the config and assembles a campaign.
func New(cfg config.Config, opts ...Option) (*Campaign, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Campaign{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}

	store, err := graph.Load(cfg.DesignContext, cfg.DAG)
	if err != nil {
		return nil, err
	}
	c.store = store

	ledger, err := ledgerpkg.Open(cfg.MemoryRoot)
	if err != nil {
		return nil, err
	}
	c.ledger = ledger

	if c.broker == nil {
		switch cfg.Broker.Kind {
		case config.BrokerMemory:
			c.broker = memory.NewBroker()
		case config.BrokerRedis:
			var redisOpts []redis.Option
			if cfg.Broker.Prefix != "" {
				redisOpts = append(redisOpts, redis.WithPrefix(cfg.Broker.Prefix))
			}
			b := redis.New(cfg.Broker.Addr, cfg.Broker.Password, cfg.Broker.DB, redisOpts...)
			c.broker = b
			if c.locker == nil {
				c.locker = b.Locker()
			}
		default:
			return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
		}
		c.ownsBroker = true
	}

	c.collector = metrics.NewCollector()
	hooks := c.hooks.Merge(c.collector.Hooks())

	runtimeOpts := append(cfg.RuntimeOptions(),
		runtime.WithLogger(c.logger),
		runtime.WithHooks(hooks),
	)
	builder := graph.NewPayloadBuilder(store.Context, cfg.RTLRoot)
	c.orch = runtime.New(store, c.broker, ledger, builder, runtimeOpts...)
	return c, nil
}

// campaignLockTTL bounds how long a crashed orchestrator keeps the design
// locked against a replacement run.
const campaignLockTTL = time.Hour

// Run drives the campaign until every node is terminal. On shared transports
// a per-design lock keeps a second orchestrator from racing the same queues.
func (c *Campaign) Run(ctx context.Context) (*runtime.RunReport, error) {
	if c.locker != nil {
		key := c.store.Context.Hash
		if key == "" {
			key = c.store.Context.TopModule
		}
		unlock, err := c.locker.Lock(ctx, key, campaignLockTTL)
		if err != nil {
			return nil, fmt.Errorf("campaign lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn("campaign unlock failed", "err", err)
			}
		}()
	}
	return c.orch.Run(ctx)
}

// Broker returns the campaign's transport, for embedding workers in-process.
func (c *Campaign) Broker() ports.Broker {
	return c.broker
}

// Store returns the loaded design graph.
func (c *Campaign) Store() *graph.Store {
	return c.store
}

// Metrics returns the campaign's Prometheus collector.
func (c *Campaign) Metrics() *metrics.Collector {
	return c.collector
}

// Orchestrator exposes the live run for status surfaces.
func (c *Campaign) Orchestrator() *runtime.Orchestrator {
	return c.orch
}

// Close releases the broker when the campaign created it.
func (c *Campaign) Close() error {
	if c.ownsBroker && c.broker != nil {
		return c.broker.Close()
	}
	return nil
}
