package mysync

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMutex(t *testing.T) {
	type counter struct{ n int }
	mu := NewMutex(&counter{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mu.Do(func(c *counter) error {
					c.n++
					return nil
				})
			}
		}()
	}
	wg.Wait()

	c, u := mu.RLock()
	assert.Equal(t, 1600, c.n)
	u.RUnlock()

	errBoom := errors.New("boom")
	assert.ErrorIs(t, mu.Do(func(*counter) error { return errBoom }), errBoom)
	// The lock was released despite the error.
	c, wu := mu.Lock()
	c.n = 0
	wu.Unlock()
}
