package commissioning

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompletionSucceedOnce(t *testing.T) {
	cb := &callbacks{}
	c := NewCompletion(cb.onSuccess, cb.onFailure)

	assert.True(t, c.Succeed())
	assert.False(t, c.Succeed())
	assert.False(t, c.Fail(errTest))
	assert.False(t, c.Discard())

	assert.Equal(t, 1, cb.successes)
	assert.Empty(t, cb.failures)
	assert.NoError(t, c.Err())
	assert.Closed(t, c.Done())
}

func TestCompletionFailOnce(t *testing.T) {
	cb := &callbacks{}
	c := NewCompletion(cb.onSuccess, cb.onFailure)

	assert.NoError(t, c.Err(), "pending completion has no error")
	assert.True(t, c.Fail(errTest))
	assert.False(t, c.Succeed())

	assert.Zero(t, cb.successes)
	assert.Equal(t, []error{errTest}, cb.failures)
	assert.ErrorIs(t, c.Err(), errTest)
}

func TestCompletionDiscard(t *testing.T) {
	cb := &callbacks{}
	c := NewCompletion(cb.onSuccess, cb.onFailure)

	assert.True(t, c.Discard())
	assert.False(t, c.Fail(errTest))

	assert.Zero(t, cb.successes)
	assert.Empty(t, cb.failures)
	assert.ErrorIs(t, c.Err(), ErrShutdown)
}

func TestCompletionNilCallbacks(t *testing.T) {
	c := NewCompletion(nil, nil)
	assert.True(t, c.Fail(errTest))
	assert.ErrorIs(t, c.Err(), errTest)
}

func TestCompletionConcurrentResolve(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	c := NewCompletion(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}, func(error) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				c.Succeed()
			} else {
				c.Fail(errTest)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
}
