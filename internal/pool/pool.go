// Package pool keeps reusable transport handles per destination.
//
// A [HandlerPool] is a fixed-capacity LIFO cache of handles for one
// destination, a [ProxiedPool] additionally routes its handles through a
// proxy. The [Provider] owns one pool per destination and creates them on
// first use.
package pool

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/frankli0324/go-http-adapter/internal/handle"
)

var (
	ErrEmptyPool  = errors.New("pool: reached maximum size and no more handles are allowed")
	ErrClosedPool = errors.New("pool: no longer available")
)

type Factory func() handle.Handle

func DefaultFactory() handle.Handle { return handle.New() }

type Pool interface {
	Checkout(ctx context.Context) (handle.Handle, error)
	// Return hands h back. It never fails, a handle returned to a closed
	// pool is closed.
	Return(h handle.Handle)
	// Close is idempotent.
	Close()
	// Configure adds the options this pool needs on every request.
	Configure(o *handle.Options)
	// Idle reports whether no handle is checked out.
	Idle() bool
}

// Options size a pool. Every handle is created up front and the pool never
// grows: its capacity is InitialSize, or MaxSize when InitialSize is 0, and
// never more than MaxSize.
type Options struct {
	InitialSize int
	MaxSize     int
	Block       bool
	Factory     Factory
	OnIdle      func() // called whenever the last checked out handle comes back
}

// HandlerPool is the direct Pool.
type HandlerPool struct {
	sem    *semaphore.Weighted
	block  bool
	onIdle func()

	mu      sync.Mutex
	idle    []handle.Handle
	out     map[handle.Handle]struct{}
	created int
	closed  bool
	done    chan struct{}
}

var _ Pool = (*HandlerPool)(nil)

func NewHandlerPool(o Options) *HandlerPool {
	if o.MaxSize < 1 {
		o.MaxSize = 1
	}
	size := o.InitialSize
	if size < 1 || size > o.MaxSize {
		size = o.MaxSize
	}
	if o.Factory == nil {
		o.Factory = DefaultFactory
	}
	p := &HandlerPool{
		sem:    semaphore.NewWeighted(int64(size)),
		block:  o.Block,
		onIdle: o.OnIdle,
		out:    make(map[handle.Handle]struct{}, size),
		done:   make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		p.idle = append(p.idle, o.Factory())
	}
	p.created = size
	return p
}

func (p *HandlerPool) acquire(ctx context.Context) error {
	if p.sem.TryAcquire(1) {
		return nil
	}
	if !p.block {
		return ErrEmptyPool
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		select {
		case <-p.done:
			return ErrClosedPool
		default:
			return err
		}
	}
	return nil
}

// Checkout hands out the most recently returned handle. With every handle
// out it fails with ErrEmptyPool, or waits when the pool blocks.
func (p *HandlerPool) Checkout(ctx context.Context) (handle.Handle, error) {
	select {
	case <-p.done:
		return nil, ErrClosedPool
	default:
	}
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrClosedPool
	}
	n := len(p.idle)
	if n == 0 {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrEmptyPool
	}
	h := p.idle[n-1]
	p.idle = p.idle[:n-1]
	p.out[h] = struct{}{}
	p.mu.Unlock()

	h.Reset()
	return h, nil
}

// Return only takes handles handed out by this pool's Checkout. Anything
// else, including a second Return of the same handle, is ignored.
func (p *HandlerPool) Return(h handle.Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.out[h]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.out, h)
	closed, idle := p.closed, len(p.out) == 0
	if !closed {
		p.idle = append(p.idle, h)
	}
	p.mu.Unlock()

	p.sem.Release(1)
	if closed {
		h.Close()
		return
	}
	if idle && p.onIdle != nil {
		p.onIdle()
	}
}

func (p *HandlerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	close(p.done)
	p.mu.Unlock()

	for _, h := range idle {
		h.Close()
	}
}

func (p *HandlerPool) Configure(*handle.Options) {}

func (p *HandlerPool) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.out) == 0 && !p.closed
}

// Size reports how many handles the pool has created and how many of them
// are idle.
func (p *HandlerPool) Size() (created, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created, len(p.idle)
}
