package event

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToEverySubscriber(t *testing.T) {
	bus := New[int](4)
	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(7)

	assert.Equal(t, 7, <-a.Events())
	assert.Equal(t, 7, <-b.Events())
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := New[string](1)
	sub := bus.Subscribe()
	bus.Unsubscribe(sub)

	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Len())

	bus.Unsubscribe(sub)
	bus.Publish("ignored")
}

func TestBusPublishDoesNotBlock(t *testing.T) {
	bus := New[int](1)
	sub := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, 0, <-sub.Events())
}

func TestBusListen(t *testing.T) {
	bus := New[int](8)
	var sum atomic.Int64
	stop := bus.Listen(func(v int) { sum.Add(int64(v)) })

	bus.Publish(1)
	bus.Publish(2)
	require.Eventually(t, func() bool { return sum.Load() == 3 }, time.Second, 5*time.Millisecond)

	stop()
	assert.Equal(t, 0, bus.Len())
}

func TestBusClose(t *testing.T) {
	bus := New[int](1)
	sub := bus.Subscribe()
	bus.Close()

	_, ok := <-sub.Events()
	assert.False(t, ok)

	late := bus.Subscribe()
	_, ok = <-late.Events()
	assert.False(t, ok)
}
