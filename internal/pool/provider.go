package pool

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/go-logr/logr"
)

var ErrPoolLimit = errors.New("pool: provider reached maximum number of pools")

// Observer is told about pool lifecycle events.
type Observer interface {
	PoolCreated(proxied bool)
	PoolEvicted()
}

type ProviderOptions struct {
	Options
	MaxPools int // 0 means unbounded
	Logger   logr.Logger
	Observer Observer
}

type entry struct {
	pool Pool
	tick uint64
}

// Provider owns one pool per destination. Lookups for an existing key are
// served under the lock, concurrent lookups of a new key create exactly
// one pool.
type Provider struct {
	opts ProviderOptions
	log  logr.Logger

	mu      sync.Mutex
	pools   map[routeKey]*entry
	tick    uint64
	changed chan struct{} // closed when a pool may have become evictable
	closed  bool
}

func NewProvider(o ProviderOptions) *Provider {
	if o.Logger.GetSink() == nil {
		o.Logger = logr.Discard()
	}
	return &Provider{
		opts:    o,
		log:     o.Logger.WithName("pool"),
		pools:   map[routeKey]*entry{},
		changed: make(chan struct{}),
	}
}

func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pools)
}

// PoolForURL returns the direct pool for the destination of rawURL.
func (p *Provider) PoolForURL(ctx context.Context, rawURL string) (Pool, error) {
	dest, err := KeyFromURL(rawURL)
	if err != nil {
		return nil, err
	}
	return p.get(ctx, routeKey{dest: dest}, func(o Options) Pool {
		return NewHandlerPool(o)
	})
}

// PoolForProxiedURL returns the pool reaching the destination of rawURL
// through proxyURL.
func (p *Provider) PoolForProxiedURL(ctx context.Context, proxyURL, rawURL string) (Pool, error) {
	proxy, err := ParseProxyURL(proxyURL)
	if err != nil {
		return nil, err
	}
	proxyKey, err := keyFromURL(proxy)
	if err != nil {
		return nil, errors.Join(ErrInvalidProxyURL, err)
	}
	dest, err := KeyFromURL(rawURL)
	if err != nil {
		return nil, err
	}
	key := routeKey{proxied: true, proxy: proxyKey, auth: userinfo(proxy), dest: dest}
	return p.get(ctx, key, func(o Options) Pool {
		return NewProxiedPool(proxyURL, proxy, o)
	})
}

func userinfo(u *url.URL) string {
	if u.User == nil {
		return ""
	}
	return u.User.String()
}

func (p *Provider) get(ctx context.Context, key routeKey, create func(Options) Pool) (Pool, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosedPool
		}
		p.tick++
		if e, ok := p.pools[key]; ok {
			e.tick = p.tick
			p.mu.Unlock()
			return e.pool, nil
		}

		var victim Pool
		if p.opts.MaxPools > 0 && len(p.pools) >= p.opts.MaxPools {
			vk, ok := p.leastRecentlyUsedIdle()
			if !ok {
				if !p.opts.Block {
					p.mu.Unlock()
					return nil, ErrPoolLimit
				}
				changed := p.changed
				p.mu.Unlock()
				select {
				case <-changed:
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			victim = p.pools[vk].pool
			delete(p.pools, vk)
			p.log.V(1).Info("evicting idle pool", "key", vk.String())
		}

		o := p.opts.Options
		o.OnIdle = p.notify
		pool := create(o)
		p.pools[key] = &entry{pool: pool, tick: p.tick}
		p.mu.Unlock()

		p.log.V(1).Info("created pool", "key", key.String())
		if obs := p.opts.Observer; obs != nil {
			obs.PoolCreated(key.proxied)
			if victim != nil {
				obs.PoolEvicted()
			}
		}
		if victim != nil {
			victim.Close()
		}
		return pool, nil
	}
}

// should be called with p.mu held
func (p *Provider) leastRecentlyUsedIdle() (routeKey, bool) {
	var (
		best  routeKey
		found bool
		tick  uint64
	)
	for k, e := range p.pools {
		if (!found || e.tick < tick) && e.pool.Idle() {
			best, tick, found = k, e.tick, true
		}
	}
	return best, found
}

// notify wakes lookups waiting for an evictable pool.
func (p *Provider) notify() {
	p.mu.Lock()
	close(p.changed)
	p.changed = make(chan struct{})
	p.mu.Unlock()
}

// Clear closes every pool and empties the registry. Later lookups create
// fresh pools.
func (p *Provider) Clear() {
	p.mu.Lock()
	pools := p.pools
	p.pools = map[routeKey]*entry{}
	close(p.changed)
	p.changed = make(chan struct{})
	p.mu.Unlock()

	for k, e := range pools {
		e.pool.Close()
		p.log.V(1).Info("closed pool", "key", k.String())
	}
}

// Close clears the provider for good. Lookups after Close, including the
// ones waiting for an evictable pool, fail with ErrClosedPool.
func (p *Provider) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Clear()
}
