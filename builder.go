package goCred

import (
	"errors"

	"github.com/MrEthical07/goCred/internal/writebehind"
	"github.com/MrEthical07/goCred/jwt"
	"github.com/MrEthical07/goCred/registry"
	"github.com/MrEthical07/goCred/timer"
	"github.com/MrEthical07/goCred/tokenstore"
	"github.com/MrEthical07/goCred/transport"
	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
)

// Builder defines a public type used by goCred APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	logger    hclog.Logger
	clock     timer.Clock
	transport Transport
	signer    AssertionSigner
	registry  *registry.Registry
	auditSink AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithAPIKey sets Config.APIKey.
func (b *Builder) WithAPIKey(key string) *Builder {
	b.config.APIKey = key
	return b
}

// WithRedis enables token persistence through client. Config.Store.Key must be set.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger describes the withlogger operation and its observable behavior.
func (b *Builder) WithLogger(logger hclog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces the wall clock behind every engine timer.
func (b *Builder) WithClock(clock timer.Clock) *Builder {
	b.clock = clock
	return b
}

// WithTransport replaces the default HTTP transport.
func (b *Builder) WithTransport(t Transport) *Builder {
	b.transport = t
	return b
}

// WithSigner replaces the default assertion signer.
func (b *Builder) WithSigner(s AssertionSigner) *Builder {
	b.signer = s
	return b
}

// WithRegistry shares a liveness registry between engines.
func (b *Builder) WithRegistry(r *registry.Registry) *Builder {
	b.registry = r
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. Collaborators that were not
// injected get default instances.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := b.config
	if b.redis != nil && !cfg.Store.Enabled {
		cfg.Store.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store.Enabled && b.redis == nil {
		return nil, errors.New("Store requires redis client")
	}

	logger := b.logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("gocred")

	clock := b.clock
	if clock == nil {
		clock = timer.SystemClock{}
	}

	reg := b.registry
	if reg == nil {
		reg = registry.New()
	}

	tr := b.transport
	if tr == nil {
		tr = transport.NewHTTPClient(transport.Options{Logger: logger})
	}

	signer := b.signer
	if signer == nil {
		s, err := jwt.NewSigner(jwt.Config{Clock: clock})
		if err != nil {
			return nil, err
		}
		signer = s
	}

	engine := &Engine{
		config:       cfg,
		logger:       logger,
		clock:        clock,
		transport:    tr,
		signer:       signer,
		registry:     reg,
		handle:       registry.NewHandle(),
		metrics:      NewMetrics(cfg.Metrics),
		audit:        newAuditTrail(cfg.Audit, b.auditSink, logger.Named("audit")),
		policy:       newRetryPolicy(cfg),
		refreshTimer: timer.New(clock),
		backoffTimer: timer.New(clock),
		requestTimer: timer.New(clock),
		settleTimer:  timer.New(clock),
	}

	if cfg.Store.Enabled {
		engine.store = tokenstore.NewStore(b.redis, cfg.Store.Prefix)
		engine.persist = writebehind.New(writebehind.Config{
			BufferSize: cfg.Store.WriteBufferSize,
			DropIfFull: true,
			Timeout:    cfg.Store.WriteTimeout,
			Logger:     logger.Named("store"),
		})
	}

	b.built = true
	return engine, nil
}

// newRetryPolicy feeds the backoff timer: a constant cool-down by default, exponential up to
// MaxBackoff when configured, and Stop after MaxRetries when that is non-zero.
func newRetryPolicy(cfg Config) backoff.BackOff {
	var policy backoff.BackOff = backoff.NewConstantBackOff(cfg.Timers.Backoff)
	if cfg.Retry.Exponential {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = cfg.Timers.Backoff
		exp.MaxInterval = cfg.Retry.MaxBackoff
		exp.MaxElapsedTime = 0
		exp.Reset()
		policy = exp
	}
	if cfg.Retry.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, cfg.Retry.MaxRetries)
	}
	policy.Reset()
	return policy
}
