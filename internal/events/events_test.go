package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"clinicsched/internal/quarter"
	"clinicsched/internal/schederr"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func subscribe(t *testing.T, client *redis.Client, channel string) <-chan *redis.Message {
	t.Helper()
	sub := client.Subscribe(context.Background(), channel)
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })
	return sub.Channel()
}

func TestPublishScheduleUpdated(t *testing.T) {
	client := newRedis(t)
	ch := subscribe(t, client, ChannelRoomScheduleUpdated)
	pub := NewPublisher(client, 10, zerolog.Nop())

	ts := time.Date(2025, time.April, 30, 23, 0, 0, 0, time.UTC)
	require.NoError(t, pub.PublishScheduleUpdated(context.Background(), "room-1", true, ts))

	select {
	case msg := <-ch:
		var ev RoomScheduleUpdated
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, "room-1", ev.RoomID)
		assert.True(t, ev.HasBeenUsed)
		assert.True(t, ev.LastGenerated.Equal(ts))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestPublishSubRoomScheduleCreated(t *testing.T) {
	client := newRedis(t)
	ch := subscribe(t, client, ChannelSubRoomScheduleCreated)
	pub := NewPublisher(client, 10, zerolog.Nop())

	require.NoError(t, pub.PublishSubRoomScheduleCreated(context.Background(), "room-1", []string{"chair-1", "chair-2"}, false))

	select {
	case msg := <-ch:
		var ev SubRoomScheduleCreated
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, []string{"chair-1", "chair-2"}, ev.SubRoomIDs)
		assert.False(t, ev.HasBeenUsed)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestPublisherRateLimitDrops(t *testing.T) {
	client := newRedis(t)
	ch := subscribe(t, client, ChannelRoomScheduleUpdated)
	// Effectively one token, refilled far slower than the test runs.
	pub := NewPublisher(client, 0.001, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, pub.PublishScheduleUpdated(ctx, "room-1", false, time.Now()))
	require.NoError(t, pub.PublishScheduleUpdated(ctx, "room-2", false, time.Now()))

	var got []string
	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case msg := <-ch:
			var ev RoomScheduleUpdated
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
			got = append(got, ev.RoomID)
		case <-deadline:
			assert.Equal(t, []string{"room-1"}, got)
			return
		}
	}
}

func TestPublisherNilRedisNoop(t *testing.T) {
	pub := NewPublisher(nil, 10, zerolog.Nop())
	assert.NoError(t, pub.PublishScheduleUpdated(context.Background(), "room-1", false, time.Now()))
}

type recordingTrigger struct {
	mu    sync.Mutex
	calls []struct {
		roomID      string
		month, year int
	}
	err error
}

func (r *recordingTrigger) GenerateForRoomID(_ context.Context, roomID string, month, year int, _ []string) (*schederr.BatchReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, struct {
		roomID      string
		month, year int
	}{roomID, month, year})
	if r.err != nil {
		return nil, r.err
	}
	report := &schederr.BatchReport{}
	report.AddOK(roomID)
	return report, nil
}

func (r *recordingTrigger) snapshot() []struct {
	roomID      string
	month, year int
} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]struct {
		roomID      string
		month, year int
	}(nil), r.calls...)
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, roomID)
}

func (r *recordingInvalidator) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func startConsumer(t *testing.T, client *redis.Client, trigger ScheduleTrigger, inv CacheInvalidator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	consumer := NewConsumer(client, trigger, inv, quarter.NewCalendar(time.UTC), zerolog.Nop()).
		WithClock(func() time.Time {
			return time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)
		})
	go func() {
		_ = consumer.Run(ctx)
	}()
	// Let the subscription settle before the test publishes.
	time.Sleep(100 * time.Millisecond)
}

func TestConsumerRoomCreatedTriggersQuarter(t *testing.T) {
	client := newRedis(t)
	trigger := &recordingTrigger{}
	inv := &recordingInvalidator{}
	startConsumer(t, client, trigger, inv)

	payload, _ := json.Marshal(RoomCreated{RoomID: "room-5"})
	require.NoError(t, client.Publish(context.Background(), ChannelRoomCreated, payload).Err())

	require.Eventually(t, func() bool {
		return len(trigger.snapshot()) == 3
	}, 3*time.Second, 20*time.Millisecond)

	calls := trigger.snapshot()
	// Mid-March: the running quarter is the next schedulable one.
	assert.Equal(t, 1, calls[0].month)
	assert.Equal(t, 2, calls[1].month)
	assert.Equal(t, 3, calls[2].month)
	assert.Equal(t, 2025, calls[0].year)
	assert.Equal(t, []string{"room-5"}, inv.snapshot())
}

func TestConsumerSubRoomAdded(t *testing.T) {
	client := newRedis(t)
	trigger := &recordingTrigger{}
	startConsumer(t, client, trigger, nil)

	payload, _ := json.Marshal(SubRoomAdded{RoomID: "room-2", SubRoomIDs: []string{"chair-9"}})
	require.NoError(t, client.Publish(context.Background(), ChannelSubRoomAdded, payload).Err())

	require.Eventually(t, func() bool {
		calls := trigger.snapshot()
		return len(calls) == 3 && calls[0].roomID == "room-2"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConsumerSwallowsGenerationFailure(t *testing.T) {
	client := newRedis(t)
	trigger := &recordingTrigger{err: assert.AnError}
	startConsumer(t, client, trigger, nil)
	ctx := context.Background()

	bad, _ := json.Marshal(RoomCreated{RoomID: "room-bad"})
	require.NoError(t, client.Publish(ctx, ChannelRoomCreated, bad).Err())

	good, _ := json.Marshal(RoomCreated{RoomID: "room-good"})
	require.NoError(t, client.Publish(ctx, ChannelRoomCreated, good).Err())

	// The loop keeps consuming after the failed generation.
	require.Eventually(t, func() bool {
		calls := trigger.snapshot()
		if len(calls) < 6 {
			return false
		}
		return calls[len(calls)-1].roomID == "room-good"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConsumerDropsMalformedPayload(t *testing.T) {
	client := newRedis(t)
	trigger := &recordingTrigger{}
	startConsumer(t, client, trigger, nil)
	ctx := context.Background()

	require.NoError(t, client.Publish(ctx, ChannelRoomCreated, "{not json").Err())
	good, _ := json.Marshal(RoomCreated{RoomID: "room-ok"})
	require.NoError(t, client.Publish(ctx, ChannelRoomCreated, good).Err())

	require.Eventually(t, func() bool {
		calls := trigger.snapshot()
		return len(calls) == 3 && calls[0].roomID == "room-ok"
	}, 3*time.Second, 20*time.Millisecond)
}
