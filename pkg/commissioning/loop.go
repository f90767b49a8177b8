package commissioning

import (
	"context"
	"sync"
)

// Loop owns an Engine and runs every call into it on a single goroutine.
// Events posted from timers and collaborators are applied in FIFO order.
type Loop struct {
	engine *Engine

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// NewLoop wraps engine. Timeouts armed by the engine are posted to the
// loop from now on.
func NewLoop(engine *Engine) *Loop {
	l := &Loop{
		engine: engine,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	engine.setPoster(l.Post)
	return l
}

// Engine returns the wrapped engine. Only use it from functions passed
// to Do or from transition observers.
func (l *Loop) Engine() *Engine {
	return l.engine
}

// Post queues ev for dispatch. It never blocks. Events posted after the
// loop has stopped are discarded.
func (l *Loop) Post(ev Event) {
	l.enqueue(func() { l.engine.Dispatch(ev) })
}

// Submit queues fn to run on the loop goroutine without waiting. It reports
// false once the loop has stopped. Unlike Do it may be called from the loop
// goroutine.
func (l *Loop) Submit(fn func(*Engine)) bool {
	return l.enqueue(func() { fn(l.engine) })
}

// Do runs fn on the loop goroutine and waits for it to return. It must not
// be called from the loop goroutine itself.
func (l *Loop) Do(ctx context.Context, fn func(*Engine)) error {
	finished := make(chan struct{})
	if !l.enqueue(func() {
		defer close(finished)
		fn(l.engine)
	}) {
		return ErrLoopStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes queued work until ctx is cancelled. Work still queued at
// that point is discarded. Run may only be called once.
func (l *Loop) Run(ctx context.Context) error {
	first := false
	l.once.Do(func() { first = true })
	if !first {
		return ErrLoopRunning
	}
	defer l.stop()

	for {
		for {
			fn := l.next()
			if fn == nil {
				break
			}
			fn()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) enqueue(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

func (l *Loop) stop() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	close(l.done)
}
