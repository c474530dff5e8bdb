// Package dispatch runs firmware commands off the caller's goroutine.
//
// A Dispatcher owns one worker goroutine and a single pending slot. Requests
// only write the slot and wake the worker, so they never block. Requests that
// arrive before the worker picks the slot up are coalesced: only the latest
// value is executed.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	tomb "gopkg.in/tomb.v2"
)

// State of the dispatcher.
type State int

const (
	Idle State = iota
	Scheduled
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrClosed is returned by Flush after the dispatcher has stopped.
var ErrClosed = errors.New("dispatcher closed")

// Executor performs one unit of work for the given value. It may block.
type Executor func(ctx context.Context, value uint8) error

// Observer receives dispatcher lifecycle notifications. All methods are
// called synchronously and must not block.
type Observer interface {
	Requested(value uint8, coalesced bool)
	Executed(value uint8, took time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) Requested(uint8, bool)                {}
func (nopObserver) Executed(uint8, time.Duration, error) {}

// Options configures a Dispatcher.
type Options struct {
	// RateLimitRPS caps executions per second. Zero disables limiting.
	RateLimitRPS float64
	// Observer is optional.
	Observer Observer
}

// Dispatcher is a single-slot deferred work queue.
type Dispatcher struct {
	exec     Executor
	limiter  *rate.Limiter
	observer Observer

	mu      sync.Mutex
	state   State
	pending uint8
	closed  bool
	idle    chan struct{} // closed when state returns to Idle

	wake    chan struct{}
	t       tomb.Tomb
	started bool
}

// New creates a dispatcher. The worker does not run until Start is called;
// requests made before that are held in the slot.
func New(exec Executor, opts Options) *Dispatcher {
	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		burst := int(opts.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	idle := make(chan struct{})
	close(idle)

	return &Dispatcher{
		exec:     exec,
		limiter:  limiter,
		observer: observer,
		idle:     idle,
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the worker goroutine.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	d.t.Go(d.loop)
}

// Request stores value in the pending slot and makes sure one more execution
// will pick it up. It never blocks.
func (d *Dispatcher) Request(value uint8) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Warn().Uint8("value", value).Msg("Dispatcher closed, dropping request")
		return
	}
	d.pending = value
	coalesced := d.state == Scheduled
	d.arm()
	d.mu.Unlock()

	d.observer.Requested(value, coalesced)
}

// Reapply schedules another execution without changing an outstanding value.
// When nothing is outstanding, fallback() supplies the value. fallback is
// called with the dispatcher lock held and must not call back into it.
func (d *Dispatcher) Reapply(fallback func() uint8) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.state == Idle {
		d.pending = fallback()
	}
	value := d.pending
	coalesced := d.state == Scheduled
	d.arm()
	d.mu.Unlock()

	d.observer.Requested(value, coalesced)
}

// arm must be called with d.mu held.
func (d *Dispatcher) arm() {
	switch d.state {
	case Idle:
		d.state = Scheduled
		d.idle = make(chan struct{})
		select {
		case d.wake <- struct{}{}:
		default:
		}
	case Running:
		// picked up by the worker once the current execution returns
		d.state = Scheduled
	}
}

// State returns the current dispatcher state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Pending returns the value in the slot and whether work is outstanding.
func (d *Dispatcher) Pending() (uint8, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending, d.state != Idle
}

// Flush waits until all outstanding work has executed.
func (d *Dispatcher) Flush(ctx context.Context) error {
	d.mu.Lock()
	idle := d.idle
	d.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-d.t.Dead():
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.state == Idle {
			return nil
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting requests, runs whatever is still scheduled and waits
// for the worker to exit. In-flight executions are never cancelled.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return d.t.Wait()
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()

	if !started {
		// Nothing ever ran; execute the held request inline so it is not lost.
		d.t.Go(func() error {
			d.drain()
			return nil
		})
		return d.t.Wait()
	}

	d.t.Kill(nil)
	return d.t.Wait()
}

func (d *Dispatcher) loop() error {
	log.Debug().Msg("Dispatcher worker started")
	for {
		select {
		case <-d.t.Dying():
			d.drain()
			log.Debug().Msg("Dispatcher worker stopped")
			return nil
		case <-d.wake:
			d.drain()
		}
	}
}

// drain executes until the slot is no longer scheduled.
func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		if d.state != Scheduled {
			d.mu.Unlock()
			return
		}
		d.state = Running
		value := d.pending
		d.mu.Unlock()

		d.run(value)

		d.mu.Lock()
		if d.state == Running {
			d.state = Idle
			close(d.idle)
			d.mu.Unlock()
			return
		}
		// re-armed while running
		d.mu.Unlock()
	}
}

func (d *Dispatcher) run(value uint8) {
	// Executions are not tied to the tomb so teardown never aborts a call.
	ctx := context.Background()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			log.Warn().Err(err).Msg("Rate limiter wait failed")
		}
	}

	start := time.Now()
	err := d.safeExec(ctx, value)
	took := time.Since(start)

	d.observer.Executed(value, took, err)
}

func (d *Dispatcher) safeExec(ctx context.Context, value uint8) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Uint8("value", value).Msg("Dispatcher executor panicked")
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return d.exec(ctx, value)
}
