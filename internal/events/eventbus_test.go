package events

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus()

	testLen := 100
	ready := make(chan struct{}, testLen)
	wg := sync.WaitGroup{}
	count := atomic.Uint64{}
	for i := 0; i < testLen; i++ {
		ch := make(chan interface{}, 1)
		bus.Subscribe(BlockConnected, ch)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ready <- struct{}{}
			ev := (<-ch).(BlockEvent)
			if ev.Height == 7 {
				count.Add(1)
			}
		}()
	}
	for i := 0; i < testLen; i++ {
		<-ready
	}
	bus.Publish(BlockConnected, BlockEvent{Height: 7})
	wg.Wait()
	assert.Equal(t, uint64(testLen), count.Load())
}

func TestEventBusFullSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus()
	full := make(chan interface{})
	buffered := make(chan interface{}, 1)
	bus.Subscribe(Reorganized, full)
	bus.Subscribe(Reorganized, buffered)

	bus.Publish(Reorganized, ReorgEvent{})
	assert.Len(t, buffered, 1)

	bus.Unsubscribe(Reorganized, buffered)
	bus.Publish(Reorganized, ReorgEvent{})
	assert.Len(t, buffered, 1)

	bus.Unsubscribe(Reorganized, full)
	bus.mu.RLock()
	_, ok := bus.subscribers[Reorganized]
	bus.mu.RUnlock()
	assert.False(t, ok)
}
