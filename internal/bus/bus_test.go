package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	v1 "github.com/landale/eventpipe/internal/api/v1"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []*v1.Event
}

func (c *collector) handle(evt *v1.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collector) snapshot() []*v1.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*v1.Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestSourceTopic(t *testing.T) {
	require.Equal(t, "events:twitch", SourceTopic(v1.SourceTwitch))
	require.Equal(t, "events:obs", SourceTopic(v1.SourceOBS))
}

func TestLocalBus_DeliversInOrderToTopicOnly(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	all := &collector{}
	twitch := &collector{}
	_, err := b.Subscribe(TopicAll, all.handle)
	require.NoError(t, err)
	_, err = b.Subscribe(SourceTopic(v1.SourceTwitch), twitch.handle)
	require.NoError(t, err)

	var published []*v1.Event
	for i := 0; i < 50; i++ {
		evt := v1.NewEvent("channel.follow", v1.SourceTwitch, map[string]interface{}{"n": i})
		published = append(published, evt)
		b.Publish(TopicAll, evt)
	}

	require.Eventually(t, func() bool { return len(all.snapshot()) == 50 }, time.Second, 5*time.Millisecond)
	require.Equal(t, published, all.snapshot())
	require.Empty(t, twitch.snapshot())
}

func TestLocalBus_PublishNeverBlocks(t *testing.T) {
	var dropped atomic.Int64
	b := New(Config{
		BufferSize: 1,
		OnDrop:     func(string, *v1.Event) { dropped.Add(1) },
	})
	defer b.Close()

	release := make(chan struct{})
	_, err := b.Subscribe(TopicAll, func(*v1.Event) { <-release })
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(TopicAll, v1.NewEvent("system.started", v1.SourceSystem, nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(release)

	require.GreaterOrEqual(t, dropped.Load(), int64(8))
}

func TestLocalBus_LosslessSubscriberReceivesEverything(t *testing.T) {
	var dropped atomic.Int64
	b := New(Config{
		BufferSize: 1,
		OnDrop:     func(string, *v1.Event) { dropped.Add(1) },
	})
	defer b.Close()

	release := make(chan struct{})
	c := &collector{}
	_, err := b.Subscribe(TopicBatchRelay, func(evt *v1.Event) {
		<-release
		c.handle(evt)
	}, Lossless())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(TopicBatchRelay, v1.NewEvent("batch", v1.SourceSystem, map[string]interface{}{"n": i}))
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Publish returned before a blocked lossless subscriber had room")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish stayed blocked after the subscriber caught up")
	}
	require.Eventually(t, func() bool { return len(c.snapshot()) == 5 }, time.Second, 5*time.Millisecond)
	for i, evt := range c.snapshot() {
		require.Equal(t, i, evt.Payload["n"])
	}
	require.Zero(t, dropped.Load())
}

func TestLocalBus_LosslessPublishUnblocksOnUnsubscribe(t *testing.T) {
	b := New(Config{BufferSize: 1})
	defer b.Close()

	release := make(chan struct{})
	defer close(release)
	sub, err := b.Subscribe(TopicBatchRelay, func(*v1.Event) { <-release }, Lossless())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(TopicBatchRelay, v1.NewEvent("batch", v1.SourceSystem, nil))
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	sub.Unsubscribe()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish stayed blocked on a removed subscription")
	}
}

func TestLocalBus_DrainWaitsForHandledEvents(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	var handled atomic.Int64
	_, err := b.Subscribe(TopicBatchRelay, func(*v1.Event) {
		time.Sleep(5 * time.Millisecond)
		handled.Add(1)
	}, Lossless())
	require.NoError(t, err)
	other := &collector{}
	_, err = b.Subscribe(TopicAll, other.handle)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		b.Publish(TopicBatchRelay, v1.NewEvent("batch", v1.SourceSystem, nil))
	}

	require.NoError(t, b.Drain(context.Background(), TopicBatchRelay))
	require.Equal(t, int64(10), handled.Load())
	require.NoError(t, b.Drain(context.Background(), "events:unused"))
}

func TestLocalBus_DrainHonorsContext(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	release := make(chan struct{})
	defer close(release)
	_, err := b.Subscribe(TopicAll, func(*v1.Event) { <-release })
	require.NoError(t, err)
	b.Publish(TopicAll, v1.NewEvent("a", v1.SourceSystem, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, b.Drain(ctx, TopicAll), context.DeadlineExceeded)
}

func TestLocalBus_SubscriberPanicIsIsolated(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	var calls atomic.Int64
	_, err := b.Subscribe(TopicAll, func(evt *v1.Event) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	})
	require.NoError(t, err)

	b.Publish(TopicAll, v1.NewEvent("a", v1.SourceSystem, nil))
	b.Publish(TopicAll, v1.NewEvent("b", v1.SourceSystem, nil))

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestLocalBus_Unsubscribe(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	c := &collector{}
	sub, err := b.Subscribe(TopicAll, c.handle)
	require.NoError(t, err)
	require.Equal(t, 1, b.SubscriberCount(TopicAll))

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.Equal(t, 0, b.SubscriberCount(TopicAll))

	b.Publish(TopicAll, v1.NewEvent("a", v1.SourceSystem, nil))
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, c.snapshot())
}

func TestLocalBus_CloseDrainsAndRejects(t *testing.T) {
	b := New(Config{})

	c := &collector{}
	_, err := b.Subscribe(TopicAll, c.handle)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		b.Publish(TopicAll, v1.NewEvent("a", v1.SourceSystem, nil))
	}
	require.NoError(t, b.Close())
	require.Len(t, c.snapshot(), 5)

	_, err = b.Subscribe(TopicAll, c.handle)
	require.Error(t, err)

	b.Publish(TopicAll, v1.NewEvent("late", v1.SourceSystem, nil))
	require.Len(t, c.snapshot(), 5)
}
