// Package dispatch sends prepared requests over pooled transport handles.
//
// An [Adapter] resolves the destination pool of a request, runs the
// request on a checked out handle and collects the response. Transport
// failures are classified and retried until the retry budget runs out, the
// caller then receives the most recent *classify.Error.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http/httpproxy"

	"github.com/frankli0324/go-http-adapter/internal/classify"
	"github.com/frankli0324/go-http-adapter/internal/handle"
	"github.com/frankli0324/go-http-adapter/internal/model"
	"github.com/frankli0324/go-http-adapter/internal/pool"
	"github.com/frankli0324/go-http-adapter/internal/request"
	"github.com/frankli0324/go-http-adapter/internal/response"
	"github.com/frankli0324/go-http-adapter/internal/retry"
)

const tracerName = "github.com/frankli0324/go-http-adapter"

var ErrAdapterClosed = errors.New("adapter: closed")

// PoolProvider hands out the pool serving a destination. Close releases
// every pool, lookups after it must fail.
type PoolProvider interface {
	PoolForURL(ctx context.Context, rawURL string) (pool.Pool, error)
	PoolForProxiedURL(ctx context.Context, proxyURL, rawURL string) (pool.Pool, error)
	Close()
}

var _ PoolProvider = (*pool.Provider)(nil)

type Handler = func(ctx context.Context, req *model.PreparedRequest) (*model.Response, error)
type Middleware func(next Handler) Handler

type Adapter struct {
	policy     retry.Policy
	provider   PoolProvider
	resolve    *handle.ResolveConfig
	envProxy   func(*url.URL) (*url.URL, error)
	log        logr.Logger
	metrics    *MetricsCollector
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	mu          sync.RWMutex
	closed      bool
	middlewares []Middleware
}

func New(opts ...Option) *Adapter {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger.GetSink() == nil {
		o.logger = logr.Discard()
	}
	if o.tracer == nil {
		o.tracer = otel.GetTracerProvider()
	}
	if o.propagator == nil {
		o.propagator = otel.GetTextMapPropagator()
	}
	a := &Adapter{
		policy:     retry.Policy{MaxRetries: o.maxRetries, Backoff: o.backoff},
		provider:   o.provider,
		resolve:    o.resolve,
		log:        o.logger.WithName("adapter"),
		metrics:    o.metrics,
		tracer:     o.tracer.Tracer(tracerName),
		propagator: o.propagator,
	}
	if a.provider == nil {
		a.provider = pool.NewProvider(pool.ProviderOptions{
			Options: pool.Options{
				InitialSize: o.initialPoolSize,
				MaxSize:     o.maxPoolSize,
				Block:       o.poolBlock,
				Factory:     o.factory,
			},
			MaxPools: o.maxPools,
			Logger:   a.log,
			Observer: o.metrics,
		})
	}
	if o.envProxy {
		a.envProxy = httpproxy.FromEnvironment().ProxyFunc()
	}
	return a
}

// Use appends mws to the middleware chain. The first Use'd middleware is
// the outermost one.
func (a *Adapter) Use(mws ...Middleware) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.middlewares = append(a.middlewares, mws...)
}

// Close releases every pool. Sends after Close fail with ErrAdapterClosed,
// sends in flight stop before their next attempt.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.provider.Close()
	return nil
}

func (a *Adapter) isClosed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.closed
}

// closedError reports a send cut short by Close, last is the failure of the
// attempt in flight, if any.
func closedError(last error) error {
	if last == nil {
		return ErrAdapterClosed
	}
	return fmt.Errorf("%w (last attempt: %w)", ErrAdapterClosed, last)
}

// Send executes req and returns its response. HTTP status codes are never
// treated as failures.
func (a *Adapter) Send(ctx context.Context, req *model.Request) (*model.Response, error) {
	a.mu.RLock()
	closed := a.closed
	next := Handler(a.dispatch)
	for i := len(a.middlewares) - 1; i >= 0; i-- {
		next = a.middlewares[i](next)
	}
	a.mu.RUnlock()
	if closed {
		return nil, ErrAdapterClosed
	}

	pr, err := req.Prepare()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	log := a.log.WithValues("requestID", id, "method", pr.Method, "url", pr.U.Redacted())
	ctx = logr.NewContext(ctx, log)
	ctx, span := a.tracer.Start(ctx, "HTTP "+pr.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", pr.Method),
			attribute.String("http.url", pr.U.Redacted()),
			attribute.String("http.host", pr.U.Host),
			attribute.String("adapter.request_id", id),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := next(ctx, pr)
	if err != nil {
		a.metrics.RecordRequest(pr.Method, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.V(1).Info("request failed", "error", err.Error())
		return nil, err
	}
	a.metrics.RecordRequest(pr.Method, resp.StatusCode, time.Since(start))
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Int("adapter.attempts", resp.Attempts),
	)
	return resp, nil
}

// dispatch runs the attempt loop for one request.
func (a *Adapter) dispatch(ctx context.Context, pr *model.PreparedRequest) (*model.Response, error) {
	log := logr.FromContextOrDiscard(ctx)
	span := trace.SpanFromContext(ctx)

	proxy, err := a.proxyFor(pr)
	if err != nil {
		return nil, err
	}
	tr, err := request.Translate(a.withTraceHeaders(ctx, pr))
	if err != nil {
		return nil, err
	}
	var body *trackedReader
	if tr.ChunkedUpload {
		body = &trackedReader{r: tr.Options.ReadFrom}
		tr.Options.ReadFrom = body
	}

	state := a.policy.Start()
	for {
		if a.isClosed() {
			return nil, closedError(state.Last())
		}
		attempt := state.Attempts() + 1
		a.metrics.RecordAttempt(pr.Method)
		resp, err := a.attempt(ctx, pr, proxy, tr.Options)
		if err == nil {
			resp.Attempts = attempt
			return resp, nil
		}

		ce, ok := classify.FromError(err, pool.ErrEmptyPool, pool.ErrPoolLimit)
		if a.isClosed() {
			if ok {
				err = ce
			}
			return nil, closedError(err)
		}
		if !ok {
			return nil, err
		}
		a.metrics.RecordError(ce.Kind)
		span.AddEvent("attempt failed", trace.WithAttributes(
			attribute.Int("adapter.attempt", attempt),
			attribute.String("adapter.error_kind", ce.Kind.String()),
			attribute.Int("adapter.native_code", int(ce.Code)),
			attribute.String("adapter.message", ce.Message),
		))

		state = state.Increment(ce)
		if state.Exhausted() {
			return nil, ce
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w (last attempt: %w)", ctx.Err(), ce)
		}
		if body != nil && body.touched {
			// the stream cannot be replayed
			log.V(1).Info("not retrying, request body was partially sent", "attempt", attempt, "error", ce.Error())
			return nil, ce
		}

		delay := state.Delay()
		log.V(1).Info("retrying", "attempt", attempt, "kind", ce.Kind.String(), "error", ce.Message,
			"remaining", state.Remaining(), "delay", delay)
		a.metrics.RecordRetry(pr.Method, attempt+1)
		if err := retry.Sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("%w (last attempt: %w)", err, ce)
		}
	}
}

// attempt performs a single exchange. The handle goes back to its pool
// before attempt returns.
func (a *Adapter) attempt(ctx context.Context, pr *model.PreparedRequest, proxy string, o handle.Options) (*model.Response, error) {
	p, h, err := a.checkout(ctx, pr, proxy)
	if err != nil {
		return nil, err
	}
	defer p.Return(h)

	p.Configure(&o)
	if a.resolve != nil {
		o.Resolve = a.resolve
	}
	col := response.NewCollector(pr)
	col.Bind(&o)

	h.Apply(o)
	if err := h.Perform(ctx); err != nil {
		return nil, err
	}
	return col.Finalize(h.ResponseCode()), nil
}

// checkout takes a handle from the pool of the destination. A pool closed
// between lookup and checkout was evicted, it is looked up once more.
func (a *Adapter) checkout(ctx context.Context, pr *model.PreparedRequest, proxy string) (pool.Pool, handle.Handle, error) {
	start := time.Now()
	defer func() { a.metrics.RecordCheckoutWait(time.Since(start)) }()

	var err error
	for i := 0; i < 2; i++ {
		var p pool.Pool
		if p, err = a.poolFor(ctx, pr, proxy); err != nil {
			return nil, nil, err
		}
		var h handle.Handle
		if h, err = p.Checkout(ctx); err == nil {
			return p, h, nil
		}
		if !errors.Is(err, pool.ErrClosedPool) {
			break
		}
		logr.FromContextOrDiscard(ctx).V(1).Info("pool closed underneath lookup, looking up again")
	}
	return nil, nil, err
}

func (a *Adapter) poolFor(ctx context.Context, pr *model.PreparedRequest, proxy string) (pool.Pool, error) {
	if proxy != "" {
		return a.provider.PoolForProxiedURL(ctx, proxy, pr.URL)
	}
	return a.provider.PoolForURL(ctx, pr.URL)
}

// proxyFor picks the proxy matching the request scheme. The environment is
// consulted only for requests that carry no proxies at all.
func (a *Adapter) proxyFor(pr *model.PreparedRequest) (string, error) {
	proxy := pr.Proxies[pr.U.Scheme]
	if proxy == "" && len(pr.Proxies) == 0 && a.envProxy != nil {
		u, err := a.envProxy(pr.U)
		if err != nil {
			return "", fmt.Errorf("%w: %v", pool.ErrInvalidProxyURL, err)
		}
		if u != nil {
			proxy = u.String()
		}
	}
	if proxy == "" {
		return "", nil
	}
	if _, err := pool.ParseProxyURL(proxy); err != nil {
		return "", err
	}
	return proxy, nil
}

// withTraceHeaders returns pr with the span context injected into a copy of
// its headers. pr itself is never modified.
func (a *Adapter) withTraceHeaders(ctx context.Context, pr *model.PreparedRequest) *model.PreparedRequest {
	if len(a.propagator.Fields()) == 0 || !trace.SpanContextFromContext(ctx).IsValid() {
		return pr
	}
	header := pr.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	a.propagator.Inject(ctx, propagation.HeaderCarrier(header))

	req := *pr.Request
	req.Header = header
	cp := *pr
	cp.Request = &req
	return &cp
}

// trackedReader remembers whether a request body stream was read from.
type trackedReader struct {
	r       io.Reader
	touched bool
}

func (t *trackedReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.touched = true
	}
	return n, err
}
