package dispatch

import (
	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/frankli0324/go-http-adapter/internal/config"
	"github.com/frankli0324/go-http-adapter/internal/handle"
	"github.com/frankli0324/go-http-adapter/internal/pool"
)

type options struct {
	maxRetries      int
	initialPoolSize int
	maxPoolSize     int
	maxPools        int
	poolBlock       bool
	backoff         wait.Backoff

	logger     logr.Logger
	metrics    *MetricsCollector
	tracer     trace.TracerProvider
	propagator propagation.TextMapPropagator

	provider PoolProvider
	factory  pool.Factory
	resolve  *handle.ResolveConfig
	envProxy bool
}

func defaultOptions() options {
	o := options{logger: logr.Discard()}
	WithConfig(config.Default())(&o)
	return o
}

type Option func(*options)

// WithConfig applies every setting of c. Options given after it override
// single settings.
func WithConfig(c config.Config) Option {
	return func(o *options) {
		o.maxRetries = c.MaxRetries
		o.initialPoolSize = c.InitialPoolSize
		o.maxPoolSize = c.MaxPoolSize
		o.maxPools = c.MaxPools
		o.poolBlock = c.PoolBlock
		o.backoff = c.Backoff()
		o.envProxy = c.UseEnvironmentProxy
		if c.DNSServer != "" || c.IPFamily != "" {
			o.resolve = &handle.ResolveConfig{CustomDNSServer: c.DNSServer, Network: c.IPFamily}
		}
	}
}

// WithMaxRetries sets how many times a send is retried after a classified
// transport failure. Negative values mean no retries.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithPoolSize sizes every destination pool. A pool creates initial
// handles up front, capped at max, and never grows past them.
func WithPoolSize(initial, max int) Option {
	return func(o *options) { o.initialPoolSize, o.maxPoolSize = initial, max }
}

// WithMaxPools bounds the number of destinations tracked at once, 0 is
// unbounded.
func WithMaxPools(n int) Option {
	return func(o *options) { o.maxPools = n }
}

// WithPoolBlock makes an exhausted pool or provider wait instead of failing.
func WithPoolBlock(block bool) Option {
	return func(o *options) { o.poolBlock = block }
}

func WithBackoff(b wait.Backoff) Option {
	return func(o *options) { o.backoff = b }
}

func WithLogger(l logr.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(mc *MetricsCollector) Option {
	return func(o *options) { o.metrics = mc }
}

// WithTracerProvider sets where send spans go. The global provider is used
// otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// WithPropagator sets the propagator injecting the span context into
// outgoing request headers. The global propagator is used otherwise.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(o *options) { o.propagator = p }
}

// WithPoolProvider replaces the pool provider. Pool sizes, limits and the
// handle factory are then up to p.
func WithPoolProvider(p PoolProvider) Option {
	return func(o *options) { o.provider = p }
}

func WithHandleFactory(f func() handle.Handle) Option {
	return func(o *options) { o.factory = f }
}

// WithResolveConfig sets how handles resolve destination hosts.
func WithResolveConfig(c *handle.ResolveConfig) Option {
	return func(o *options) { o.resolve = c.Clone() }
}

// WithEnvironmentProxy routes requests that carry no proxies through the
// proxies named by HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
func WithEnvironmentProxy() Option {
	return func(o *options) { o.envProxy = true }
}
