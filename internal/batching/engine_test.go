package batching

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	v1 "github.com/landale/eventpipe/internal/api/v1"
	"github.com/landale/eventpipe/internal/bus"
	"github.com/stretchr/testify/require"
)

// recordingPublisher captures published events synchronously.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []*v1.Event
}

func (p *recordingPublisher) Publish(topic string, evt *v1.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) batches() []*v1.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*v1.Event, len(p.events))
	copy(out, p.events)
	return out
}

// panickingPublisher fails for one topic's batches.
type panickingPublisher struct {
	recordingPublisher
	failTopic string
}

func (p *panickingPublisher) Publish(topic string, evt *v1.Event) {
	if v1.BatchTopic(evt) == p.failTopic {
		panic("publish failed")
	}
	p.recordingPublisher.Publish(topic, evt)
}

func startEngine(t *testing.T, cfg Config, pub bus.Publisher) (*Engine, context.CancelFunc) {
	t.Helper()
	e := New(cfg, pub)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e, cancel
}

func follow(user string) *v1.Event {
	return v1.NewEvent("channel.follow", v1.SourceTwitch, map[string]interface{}{"user": user})
}

func users(t *testing.T, batch *v1.Event) []string {
	t.Helper()
	events, ok := v1.BatchEvents(batch)
	require.True(t, ok)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Payload["user"].(string)
	}
	return out
}

func TestEngine_WindowSplitsByMaxBatchSize(t *testing.T) {
	pub := &recordingPublisher{}
	e, _ := startEngine(t, Config{Window: 50 * time.Millisecond, MaxBatchSize: 2}, pub)
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c"} {
		require.NoError(t, e.Add(ctx, follow(u)))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(pub.batches()) == 2 }, time.Second, 5*time.Millisecond)

	batches := pub.batches()
	require.Equal(t, []string{"a", "b"}, users(t, batches[0]))
	require.Equal(t, []string{"c"}, users(t, batches[1]))
	for _, b := range batches {
		require.Equal(t, v1.BatchEventType, b.Type)
		require.Equal(t, v1.SourceSystem, b.Source)
		require.Equal(t, "events:twitch", v1.BatchTopic(b))
	}
	pub.mu.Lock()
	require.Equal(t, []string{bus.TopicBatchRelay, bus.TopicBatchRelay}, pub.topics)
	pub.mu.Unlock()

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.EventsAdded)
	require.Equal(t, int64(2), stats.BatchesCreated)
	require.Equal(t, int64(3), stats.EventsBatched)
	require.Equal(t, 0, stats.Buffered)
}

func TestEngine_PreservesArrivalOrder(t *testing.T) {
	pub := &recordingPublisher{}
	e, _ := startEngine(t, Config{Window: time.Hour, MaxBatchSize: 1000}, pub)
	ctx := context.Background()

	var want []string
	for i := 0; i < 200; i++ {
		u := fmt.Sprintf("user-%03d", i)
		want = append(want, u)
		require.NoError(t, e.Add(ctx, follow(u)))
	}

	n, err := e.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 200, n)

	batches := pub.batches()
	require.Len(t, batches, 1)
	require.Equal(t, want, users(t, batches[0]))
	require.Equal(t, 200, batches[0].Payload["count"])
}

func TestEngine_OneBatchPerTopic(t *testing.T) {
	pub := &recordingPublisher{}
	e, _ := startEngine(t, Config{Window: time.Hour}, pub)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, follow("a")))
	require.NoError(t, e.Add(ctx, v1.NewEvent("obs.stats.updated", v1.SourceOBS, nil)))
	require.NoError(t, e.Add(ctx, follow("b")))

	_, err := e.Flush(ctx)
	require.NoError(t, err)

	batches := pub.batches()
	require.Len(t, batches, 2)
	// topics flush in sorted order
	require.Equal(t, "events:obs", v1.BatchTopic(batches[0]))
	require.Equal(t, "events:twitch", v1.BatchTopic(batches[1]))
	require.Equal(t, []string{"a", "b"}, users(t, batches[1]))
}

func TestEngine_BackpressureDropsOverflow(t *testing.T) {
	pub := &recordingPublisher{}
	e, _ := startEngine(t, Config{Window: time.Hour, MaxBuffered: 10}, pub)
	ctx := context.Background()

	for i := 0; i < 17; i++ {
		require.NoError(t, e.Add(ctx, follow("x")))
	}

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(10), stats.EventsAdded)
	require.Equal(t, int64(7), stats.EventsDropped)
	require.Equal(t, 10, stats.Buffered)
}

func TestEngine_RefusesBatchEvents(t *testing.T) {
	pub := &recordingPublisher{}
	e, _ := startEngine(t, Config{Window: time.Hour}, pub)
	ctx := context.Background()

	batch := v1.NewBatchEvent("events:twitch", []*v1.Event{follow("a")})
	require.NoError(t, e.Add(ctx, batch))

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.EventsAdded)
	require.Equal(t, int64(1), stats.EventsDropped)
	require.Equal(t, 0, stats.Buffered)
}

func TestEngine_EmptyTimerFlushGoesIdle(t *testing.T) {
	pub := &recordingPublisher{}
	e, _ := startEngine(t, Config{Window: 10 * time.Millisecond}, pub)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, follow("a")))

	// first window flushes the event and rearms, second window is empty
	require.Eventually(t, func() bool {
		s, err := e.Stats(ctx)
		if err != nil {
			return false
		}
		return s.EmptyFlushes == 1 && !s.TimerArmed
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.EmptyFlushes)
	require.Len(t, pub.batches(), 1)
}

func TestEngine_ForcedFlushDoesNotDoubleFlush(t *testing.T) {
	pub := &recordingPublisher{}
	e, _ := startEngine(t, Config{Window: 30 * time.Millisecond}, pub)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, follow("a")))
	require.NoError(t, e.Add(ctx, follow("b")))

	n, err := e.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	require.True(t, stats.TimerArmed, "forced flush reschedules the window")

	// the rescheduled window finds nothing and nothing is emitted twice
	time.Sleep(80 * time.Millisecond)
	require.Len(t, pub.batches(), 1)
	require.Equal(t, []string{"a", "b"}, users(t, pub.batches()[0]))

	stats, err = e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.EventsBatched)
	require.False(t, stats.TimerArmed)
}

func TestEngine_FlushFailureIsolatedPerTopic(t *testing.T) {
	pub := &panickingPublisher{failTopic: "events:obs"}
	e, _ := startEngine(t, Config{Window: time.Hour}, pub)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, v1.NewEvent("obs.stats.updated", v1.SourceOBS, nil)))
	require.NoError(t, e.Add(ctx, follow("a")))

	_, err := e.Flush(ctx)
	require.NoError(t, err)

	batches := pub.batches()
	require.Len(t, batches, 1)
	require.Equal(t, "events:twitch", v1.BatchTopic(batches[0]))

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.FlushFailures)
	require.Equal(t, 0, stats.Buffered)
}

func TestEngine_FinalFlushOnShutdown(t *testing.T) {
	pub := &recordingPublisher{}
	e, cancel := startEngine(t, Config{Window: time.Hour}, pub)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, follow("a")))
	_, err := e.Stats(ctx) // wait until the add is applied
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool { return len(pub.batches()) == 1 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return e.Add(ctx, follow("late")) == ErrStopped
	}, time.Second, 5*time.Millisecond)

	_, err = e.Stats(ctx)
	require.ErrorIs(t, err, ErrStopped)
}

func TestEngine_QueuedAddsJoinFinalFlush(t *testing.T) {
	pub := &recordingPublisher{}
	e := New(Config{Window: time.Hour}, pub)
	ctx := context.Background()

	for _, u := range []string{"a", "b", "c"} {
		require.NoError(t, e.Add(ctx, follow(u)))
	}

	// Run starts already cancelled, so the adds are only seen while draining
	runCtx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Run(runCtx))

	batches := pub.batches()
	require.Len(t, batches, 1)
	require.Equal(t, []string{"a", "b", "c"}, users(t, batches[0]))
}

func TestEngine_SlowRelayConsumerLosesNoBatches(t *testing.T) {
	b := bus.New(bus.Config{BufferSize: 1})
	defer b.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var relayed []*v1.Event
	_, err := b.Subscribe(bus.TopicBatchRelay, func(batch *v1.Event) {
		<-release
		mu.Lock()
		defer mu.Unlock()
		relayed = append(relayed, batch)
	}, bus.Lossless())
	require.NoError(t, err)

	e, _ := startEngine(t, Config{Window: time.Hour, MaxBatchSize: 1}, b)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, e.Add(ctx, follow(fmt.Sprintf("u%d", i))))
	}

	flushed := make(chan int, 1)
	go func() {
		n, err := e.Flush(ctx)
		if err == nil {
			flushed <- n
		}
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case n := <-flushed:
		require.Equal(t, 5, n)
	case <-time.After(time.Second):
		t.Fatal("flush did not complete after the relay consumer caught up")
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(relayed) == 5
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	for i, batch := range relayed {
		require.Equal(t, []string{fmt.Sprintf("u%d", i)}, users(t, batch))
	}
	mu.Unlock()

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), stats.BatchesCreated)
	require.Equal(t, int64(5), stats.EventsBatched)
	require.Equal(t, int64(0), stats.EventsDropped)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.normalized()
	require.Equal(t, 50*time.Millisecond, cfg.Window)
	require.Equal(t, 100, cfg.MaxBatchSize)
	require.Equal(t, 1000, cfg.MaxBuffered)
}
