// Package adapter executes already-built HTTP requests over pooled
// transport handles.
//
// An [Adapter] keeps one pool of handles per destination, retries
// connection-layer failures under a bounded policy and reports failures as
// classified errors:
//
//	a := adapter.New(adapter.WithMaxRetries(2))
//	defer a.Close()
//	resp, err := a.Send(ctx, &adapter.Request{Method: "GET", URL: "https://example.com/"})
//	if errors.Is(err, adapter.ErrTLS) {
//		...
//	}
package adapter

import (
	"net/http"

	"github.com/frankli0324/go-http-adapter/internal/classify"
	"github.com/frankli0324/go-http-adapter/internal/config"
	"github.com/frankli0324/go-http-adapter/internal/dispatch"
	"github.com/frankli0324/go-http-adapter/internal/handle"
	"github.com/frankli0324/go-http-adapter/internal/log"
	"github.com/frankli0324/go-http-adapter/internal/model"
	"github.com/frankli0324/go-http-adapter/internal/pool"
	"github.com/frankli0324/go-http-adapter/internal/request"
)

type Adapter = dispatch.Adapter
type Option = dispatch.Option
type Handler = dispatch.Handler
type Middleware = dispatch.Middleware
type PoolProvider = dispatch.PoolProvider
type MetricsCollector = dispatch.MetricsCollector

type Header = http.Header
type Request = model.Request
type PreparedRequest = model.PreparedRequest
type Response = model.Response
type Timeout = model.Timeout
type Verify = model.Verify
type Cert = model.Cert

type Config = config.Config

// Handle is the transport primitive pooled per destination, see
// [WithHandleFactory].
type Handle = handle.Handle
type HandleOptions = handle.Options

type Error = classify.Error
type ErrorKind = classify.Kind

const (
	KindConnection     = classify.KindConnection
	KindTLS            = classify.KindTLS
	KindProxy          = classify.KindProxy
	KindConnectTimeout = classify.KindConnectTimeout
	KindReadTimeout    = classify.KindReadTimeout
)

var (
	ErrAdapterClosed     = dispatch.ErrAdapterClosed
	ErrUnsupportedMethod = model.ErrUnsupportedMethod
	ErrInvalidURL        = model.ErrInvalidURL
	ErrInvalidHeader     = request.ErrInvalidHeader
	ErrInvalidProxyURL   = pool.ErrInvalidProxyURL

	// use with errors.Is, every classified failure matches exactly one
	ErrConnection     = classify.ErrConnection
	ErrTLS            = classify.ErrTLS
	ErrProxy          = classify.ErrProxy
	ErrConnectTimeout = classify.ErrConnectTimeout
	ErrReadTimeout    = classify.ErrReadTimeout
)

func New(opts ...Option) *Adapter { return dispatch.New(opts...) }

var (
	WithConfig           = dispatch.WithConfig
	WithMaxRetries       = dispatch.WithMaxRetries
	WithPoolSize         = dispatch.WithPoolSize
	WithMaxPools         = dispatch.WithMaxPools
	WithPoolBlock        = dispatch.WithPoolBlock
	WithBackoff          = dispatch.WithBackoff
	WithLogger           = dispatch.WithLogger
	WithMetrics          = dispatch.WithMetrics
	WithTracerProvider   = dispatch.WithTracerProvider
	WithPropagator       = dispatch.WithPropagator
	WithPoolProvider     = dispatch.WithPoolProvider
	WithHandleFactory    = dispatch.WithHandleFactory
	WithResolveConfig    = dispatch.WithResolveConfig
	WithEnvironmentProxy = dispatch.WithEnvironmentProxy
)

var (
	TotalTimeout = model.TotalTimeout
	SplitTimeout = model.SplitTimeout
	VerifyPath   = model.VerifyPath
	NoVerify     = model.NoVerify
	CertFile     = model.CertFile
	CertKeyPair  = model.CertKeyPair
)

var (
	NewMetricsCollector             = dispatch.NewMetricsCollector
	NewMetricsCollectorWithRegistry = dispatch.NewMetricsCollectorWithRegistry
)

// DefaultConfig is the configuration New starts from.
var DefaultConfig = config.Default

// LoadConfig reads HTTP_ADAPTER_* variables from the environment.
var LoadConfig = config.Parse

// NewLogger returns a production zap logger for [WithLogger].
var NewLogger = log.NewZapr
