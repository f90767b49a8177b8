package commissioning

import "sync"

// Completion resolves a commissioning run exactly once. The first call to
// Succeed, Fail or Discard wins; later calls do nothing.
type Completion struct {
	once      sync.Once
	done      chan struct{}
	err       error
	onSuccess func()
	onFailure func(error)
}

// NewCompletion returns a pending completion. Either callback may be nil.
func NewCompletion(onSuccess func(), onFailure func(error)) *Completion {
	return &Completion{
		done:      make(chan struct{}),
		onSuccess: onSuccess,
		onFailure: onFailure,
	}
}

// Succeed resolves the run as successful and invokes onSuccess.
// It reports whether this call resolved the completion.
func (c *Completion) Succeed() bool {
	resolved := false
	c.once.Do(func() {
		resolved = true
		close(c.done)
		if c.onSuccess != nil {
			c.onSuccess()
		}
	})
	return resolved
}

// Fail resolves the run with cause and invokes onFailure.
// It reports whether this call resolved the completion.
func (c *Completion) Fail(cause error) bool {
	resolved := false
	c.once.Do(func() {
		resolved = true
		c.err = cause
		close(c.done)
		if c.onFailure != nil {
			c.onFailure(cause)
		}
	})
	return resolved
}

// Discard resolves the run with ErrShutdown without invoking a callback.
func (c *Completion) Discard() bool {
	resolved := false
	c.once.Do(func() {
		resolved = true
		c.err = ErrShutdown
		close(c.done)
	})
	return resolved
}

// Done is closed once the completion is resolved.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the failure cause after Done is closed. It is nil for a
// successful run and ErrShutdown for a discarded one.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}
