package events

import (
	"context"
	"encoding/json"
	"time"

	"clinicsched/internal/metrics"
	"clinicsched/internal/quarter"
	"clinicsched/internal/schederr"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ScheduleTrigger generates schedules for a room by id.
type ScheduleTrigger interface {
	GenerateForRoomID(ctx context.Context, roomID string, month, year int, shiftNames []string) (*schederr.BatchReport, error)
}

// CacheInvalidator drops stale directory cache entries for a room.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, roomID string)
}

// Consumer subscribes to inbound room lifecycle channels and triggers
// best-effort generation for new rooms and sub-rooms. A failed generation
// never propagates back to whatever created the room; it is logged and the
// loop keeps consuming.
type Consumer struct {
	redis       *redis.Client
	trigger     ScheduleTrigger
	invalidator CacheInvalidator
	cal         *quarter.Calendar
	logger      zerolog.Logger
	now         func() time.Time
}

// NewConsumer creates a Consumer. invalidator may be nil when the directory
// is not cached.
func NewConsumer(redisClient *redis.Client, trigger ScheduleTrigger, invalidator CacheInvalidator, cal *quarter.Calendar, logger zerolog.Logger) *Consumer {
	return &Consumer{
		redis:       redisClient,
		trigger:     trigger,
		invalidator: invalidator,
		cal:         cal,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock overrides the wall clock, for tests.
func (c *Consumer) WithClock(now func() time.Time) *Consumer {
	c.now = now
	return c
}

// Run subscribes and consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	sub := c.redis.Subscribe(ctx, ChannelRoomCreated, ChannelSubRoomAdded)
	defer sub.Close()

	// Fail fast on a broken subscription instead of silently consuming
	// nothing.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	c.logger.Info().Msg("event consumer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.handle(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, channel string, payload []byte) {
	metrics.IncEventsConsumed(channel)
	switch channel {
	case ChannelRoomCreated:
		var ev RoomCreated
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.logger.Warn().Err(err).Str("channel", channel).Msg("malformed event dropped")
			return
		}
		c.onRoomEvent(ctx, ev.RoomID)
	case ChannelSubRoomAdded:
		var ev SubRoomAdded
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.logger.Warn().Err(err).Str("channel", channel).Msg("malformed event dropped")
			return
		}
		c.onRoomEvent(ctx, ev.RoomID)
	default:
		c.logger.Warn().Str("channel", channel).Msg("unexpected channel")
	}
}

// onRoomEvent invalidates the cached directory entry and generates the next
// schedulable quarter for the room. Errors are swallowed: the room creation
// that triggered this already committed elsewhere.
func (c *Consumer) onRoomEvent(ctx context.Context, roomID string) {
	if c.invalidator != nil {
		c.invalidator.Invalidate(ctx, roomID)
	}

	q := c.cal.NextSchedulable(c.now())
	for _, month := range q.Months() {
		report, err := c.trigger.GenerateForRoomID(ctx, roomID, month, q.Year, nil)
		if err != nil {
			c.logger.Error().Err(err).
				Str("room_id", roomID).
				Int("month", month).Int("year", q.Year).
				Msg("event-driven generation failed")
			continue
		}
		ok, skipped, failed := report.Counts()
		c.logger.Info().
			Str("room_id", roomID).
			Int("month", month).Int("year", q.Year).
			Int("succeeded", ok).Int("skipped", skipped).Int("failed", failed).
			Msg("event-driven generation done")
	}
}
