package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"k8s.io/apimachinery/pkg/util/wait"
)

// Config is the adapter configuration that can be set from the environment
type Config struct {
	// MaxRetries is how many times a request failing at the connection
	// layer is retried. HTTP status codes are never retried.
	MaxRetries int `envconfig:"HTTP_ADAPTER_MAX_RETRIES" default:"0"`
	// InitialPoolSize is the number of handles created with each pool. A pool
	// never grows past them, 0 means MaxPoolSize handles
	InitialPoolSize int `envconfig:"HTTP_ADAPTER_INITIAL_POOL_SIZE" default:"10"`
	// MaxPoolSize caps the handles of a single destination
	MaxPoolSize int `envconfig:"HTTP_ADAPTER_MAX_POOL_SIZE" default:"10"`
	// MaxPools bounds the destinations tracked at once, 0 is unbounded
	MaxPools int `envconfig:"HTTP_ADAPTER_MAX_POOLS" default:"10"`
	// PoolBlock makes an exhausted pool or provider wait instead of failing
	PoolBlock bool `envconfig:"HTTP_ADAPTER_POOL_BLOCK" default:"false"`
	// RetryBackoff is the wait before the first retry, 0 retries at once
	RetryBackoff time.Duration `envconfig:"HTTP_ADAPTER_RETRY_BACKOFF" default:"0s"`
	// RetryBackoffFactor multiplies the wait after every retry
	RetryBackoffFactor float64 `envconfig:"HTTP_ADAPTER_RETRY_BACKOFF_FACTOR" default:"2"`
	// RetryBackoffJitter adds up to this fraction of random wait
	RetryBackoffJitter float64 `envconfig:"HTTP_ADAPTER_RETRY_BACKOFF_JITTER" default:"0"`
	// RetryBackoffCap caps the wait between retries, 0 is no cap
	RetryBackoffCap time.Duration `envconfig:"HTTP_ADAPTER_RETRY_BACKOFF_CAP" default:"0s"`
	// UseEnvironmentProxy falls back to HTTP_PROXY, HTTPS_PROXY and NO_PROXY
	// for requests that carry no proxies of their own
	UseEnvironmentProxy bool `envconfig:"HTTP_ADAPTER_USE_ENVIRONMENT_PROXY" default:"false"`
	// DNSServer is a "host:port" resolver used instead of the system one
	DNSServer string `envconfig:"HTTP_ADAPTER_DNS_SERVER" default:""`
	// IPFamily restricts resolution to "ip4" or "ip6", empty allows both
	IPFamily string `envconfig:"HTTP_ADAPTER_IP_FAMILY" default:""`
}

// Default is the configuration with every default applied and nothing
// read from the environment.
func Default() Config {
	return Config{
		MaxRetries:         0,
		InitialPoolSize:    10,
		MaxPoolSize:        10,
		MaxPools:           10,
		RetryBackoffFactor: 2,
	}
}

// Parse reads the configuration from the environment
func Parse() (*Config, error) {
	ret := new(Config)
	if err := envconfig.Process("", ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// MustParse is Parse that panics on failure
func MustParse() *Config {
	ret := new(Config)
	envconfig.MustProcess("", ret)
	return ret
}

func (c *Config) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries (%d) must not be negative", c.MaxRetries))
	}
	if c.MaxPoolSize < 1 {
		errs = append(errs, fmt.Errorf("max pool size (%d) must be at least 1", c.MaxPoolSize))
	}
	if c.InitialPoolSize < 0 || c.InitialPoolSize > c.MaxPoolSize {
		errs = append(errs, fmt.Errorf(
			"initial pool size (%d) must be between 0 and the max pool size (%d)",
			c.InitialPoolSize, c.MaxPoolSize,
		))
	}
	if c.MaxPools < 0 {
		errs = append(errs, fmt.Errorf("max pools (%d) must not be negative", c.MaxPools))
	}
	if c.RetryBackoff < 0 || c.RetryBackoffCap < 0 {
		errs = append(errs, errors.New("retry backoff durations must not be negative"))
	}
	switch c.IPFamily {
	case "", "ip", "ip4", "ip6":
	default:
		errs = append(errs, fmt.Errorf("ip family %q is not one of ip4, ip6", c.IPFamily))
	}
	return errors.Join(errs...)
}

// Backoff returns the wait.Backoff between retries described by c
func (c *Config) Backoff() wait.Backoff {
	return wait.Backoff{
		Duration: c.RetryBackoff,
		Factor:   c.RetryBackoffFactor,
		Jitter:   c.RetryBackoffJitter,
		Steps:    c.MaxRetries,
		Cap:      c.RetryBackoffCap,
	}
}
