package keymutex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSameKeySerializes(t *testing.T) {
	km := New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("agent-1")
			defer km.Unlock("agent-1")
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestDistinctKeysDoNotContend(t *testing.T) {
	km := New()
	km.Lock("agent-1")
	defer km.Unlock("agent-1")

	done := make(chan struct{})
	go func() {
		km.Lock("agent-2")
		km.Unlock("agent-2")
		close(done)
	}()
	<-done
}
