package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Publisher sends outbound notifications to redis channels. Publishing is
// fire-and-forget from the caller's point of view: failures and rate-limit
// drops are logged, and generation never waits on a consumer.
type Publisher struct {
	redis   *redis.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewPublisher creates a Publisher. perSecond bounds the outbound event
// rate; bursts up to twice that are absorbed before drops start.
func NewPublisher(redisClient *redis.Client, perSecond float64, logger zerolog.Logger) *Publisher {
	burst := int(perSecond * 2)
	if burst < 1 {
		burst = 1
	}
	return &Publisher{
		redis:   redisClient,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:  logger,
	}
}

// PublishScheduleUpdated emits room.schedule.updated.
func (p *Publisher) PublishScheduleUpdated(ctx context.Context, roomID string, hasBeenUsed bool, lastGenerated time.Time) error {
	return p.publish(ctx, ChannelRoomScheduleUpdated, RoomScheduleUpdated{
		RoomID:        roomID,
		HasBeenUsed:   hasBeenUsed,
		LastGenerated: lastGenerated,
	})
}

// PublishSubRoomScheduleCreated emits subroom.schedule.created.
func (p *Publisher) PublishSubRoomScheduleCreated(ctx context.Context, roomID string, subRoomIDs []string, hasBeenUsed bool) error {
	return p.publish(ctx, ChannelSubRoomScheduleCreated, SubRoomScheduleCreated{
		RoomID:      roomID,
		SubRoomIDs:  subRoomIDs,
		HasBeenUsed: hasBeenUsed,
	})
}

func (p *Publisher) publish(ctx context.Context, channel string, payload any) error {
	if p.redis == nil {
		return nil
	}
	if !p.limiter.Allow() {
		p.logger.Warn().Str("channel", channel).Msg("event dropped by rate limit")
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := p.redis.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Warn().Err(err).Str("channel", channel).Msg("event publish failed")
		return err
	}
	p.logger.Debug().Str("channel", channel).Msg("event published")
	return nil
}
