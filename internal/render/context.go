// Package render owns the rendering context: a single goroutine that is
// the only place textures may be created, filled, converted and released.
//
// Work reaches the context by message passing (Post / Invoke). Functions run
// on the context receive a *GL handle; the handle is only valid for the
// duration of that call, so GPU state cannot leak to other goroutines.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/Backdrop/internal/logger"
)

// ErrContextClosed is returned when work is posted to a stopped context
var ErrContextClosed = errors.New("render context closed")

// Job is a unit of work executed on the rendering context
type Job func(gl *GL)

// Context is a single-threaded rendering context
type Context struct {
	jobs chan Job
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	live     atomic.Int64
	released atomic.Uint64
	nextID   atomic.Uint32
}

// NewContext creates a rendering context with a job queue of the given depth
func NewContext(queue int) *Context {
	if queue <= 0 {
		queue = 8
	}
	return &Context{
		jobs: make(chan Job, queue),
		done: make(chan struct{}),
	}
}

// Start spawns the rendering goroutine
func (c *Context) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("render context already started")
	}
	if c.stopped {
		return ErrContextClosed
	}
	c.started = true

	c.wg.Add(1)
	go c.loop()

	logger.WithComponent("render").Debug().Int("queue", cap(c.jobs)).Msg("Render context started")
	return nil
}

// Stop terminates the rendering goroutine. Jobs still queued are discarded.
// Idempotent.
func (c *Context) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.done)
	c.mu.Unlock()

	c.wg.Wait()

	logger.WithComponent("render").Debug().
		Int64("live_textures", c.live.Load()).
		Uint64("released_textures", c.released.Load()).
		Msg("Render context stopped")
	return nil
}

// Post queues fn for execution on the rendering context without waiting
func (c *Context) Post(fn Job) error {
	select {
	case <-c.done:
		return ErrContextClosed
	default:
	}

	select {
	case <-c.done:
		return ErrContextClosed
	case c.jobs <- fn:
		return nil
	}
}

// Invoke runs fn on the rendering context and waits for its result.
// A panic inside fn is returned as an error.
func (c *Context) Invoke(ctx context.Context, fn func(gl *GL) error) error {
	result := make(chan error, 1)
	err := c.Post(func(gl *GL) {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("render job panicked: %v", r)
			}
		}()
		result <- fn(gl)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrContextClosed
	}
}

// LiveTextures reports textures allocated and not yet released
func (c *Context) LiveTextures() int64 {
	return c.live.Load()
}

// ReleasedTextures reports the total number of textures released
func (c *Context) ReleasedTextures() uint64 {
	return c.released.Load()
}

func (c *Context) loop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case job := <-c.jobs:
			c.run(job)
		}
	}
}

func (c *Context) run(job Job) {
	gl := &GL{ctx: c}
	defer func() {
		gl.ctx = nil
		if r := recover(); r != nil {
			logger.WithComponent("render").Error().
				Interface("panic", r).
				Msg("Render job panicked")
		}
	}()
	job(gl)
}
