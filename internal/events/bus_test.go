package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTopicPublishSubscribe(t *testing.T) {
	topic := NewTopic[int]("n")
	ch, unsub := topic.Subscribe(2)

	topic.Publish(1)
	topic.Publish(2)
	topic.Publish(3) // buffer full, dropped

	assert.Equal(t, 1, <-ch)
	assert.Equal(t, 2, <-ch)
	assert.Equal(t, uint64(1), topic.Dropped())

	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	topic.Publish(4) // no subscribers, no panic
}

func TestBusForwardsToAll(t *testing.T) {
	bus := NewBus()
	all, unsub := bus.All.Subscribe(4)
	defer unsub()

	bus.ErrorOccurred.Publish(ErrorOccurred{Where: "loop", Error: "boom"})
	bus.SignalGenerated.Publish(SignalGenerated{Orders: 1})

	env := <-all
	assert.Equal(t, EventErrorOccurred, env.Event)
	assert.Equal(t, "boom", env.Payload.(ErrorOccurred).Error)
	env = <-all
	assert.Equal(t, EventSignalGenerated, env.Event)
}

func TestListenRecoversPanics(t *testing.T) {
	topic := NewTopic[int]("n")
	ch, unsub := topic.Subscribe(8)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int32
	Listen(ctx, ch, zap.NewNop(), "test", func(v int) {
		if v == 1 {
			panic("bad event")
		}
		handled.Add(1)
	})

	topic.Publish(1)
	topic.Publish(2)
	topic.Publish(3)

	require.Eventually(t, func() bool { return handled.Load() == 2 }, time.Second, 5*time.Millisecond)
}
