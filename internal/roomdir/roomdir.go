package roomdir

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"clinicsched/internal/model"
	"clinicsched/internal/schederr"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Source is the authoritative room/sub-room provider.
type Source interface {
	ListActiveRooms(ctx context.Context) ([]model.Room, error)
	GetRoom(ctx context.Context, id string) (*model.Room, error)
}

// StaticSource serves a fixed room set, typically loaded from the rooms
// config file. Reload swaps the set atomically.
type StaticSource struct {
	mu    sync.RWMutex
	rooms []model.Room
}

// NewStaticSource creates a source over the given rooms.
func NewStaticSource(rooms []model.Room) *StaticSource {
	return &StaticSource{rooms: rooms}
}

// Reload replaces the room set.
func (s *StaticSource) Reload(rooms []model.Room) {
	s.mu.Lock()
	s.rooms = rooms
	s.mu.Unlock()
}

// ListActiveRooms returns the active rooms with inactive sub-rooms kept:
// sub-room activity is the generator's concern, not the directory's.
func (s *StaticSource) ListActiveRooms(context.Context) ([]model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetRoom returns the room with the given id, active or not.
func (s *StaticSource) GetRoom(_ context.Context, id string) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rooms {
		if r.ID == id {
			cp := r
			return &cp, nil
		}
	}
	return nil, &schederr.DependencyError{Dependency: "room directory", Err: fmt.Errorf("room %q not found", id)}
}

const (
	listCacheKey  = "roomdir:active"
	roomKeyPrefix = "roomdir:room:"
)

// CachedDirectory is a read-through redis cache over a Source. Cache misses
// fall through to the source and repopulate the cache; a source failure with
// a cold cache surfaces as a dependency error.
type CachedDirectory struct {
	source Source
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedDirectory wraps source with a redis cache. A nil client disables
// caching and every call goes straight to the source.
func NewCachedDirectory(source Source, redisClient *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedDirectory {
	return &CachedDirectory{source: source, redis: redisClient, ttl: ttl, logger: logger}
}

// ListActiveRooms returns the active rooms, cached.
func (d *CachedDirectory) ListActiveRooms(ctx context.Context) ([]model.Room, error) {
	var rooms []model.Room
	if d.readCache(ctx, listCacheKey, &rooms) {
		return rooms, nil
	}

	rooms, err := d.source.ListActiveRooms(ctx)
	if err != nil {
		return nil, &schederr.DependencyError{Dependency: "room directory", Err: err}
	}
	d.writeCache(ctx, listCacheKey, rooms)
	return rooms, nil
}

// GetRoom returns one room, cached per id.
func (d *CachedDirectory) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	var room model.Room
	if d.readCache(ctx, roomKeyPrefix+id, &room) {
		return &room, nil
	}

	got, err := d.source.GetRoom(ctx, id)
	if err != nil {
		if schederr.IsDependency(err) {
			return nil, err
		}
		return nil, &schederr.DependencyError{Dependency: "room directory", Err: err}
	}
	d.writeCache(ctx, roomKeyPrefix+id, got)
	return got, nil
}

// Invalidate drops the cached entries for a room and the active list. Called
// after room.created and subroom.added events so the next read sees the
// change.
func (d *CachedDirectory) Invalidate(ctx context.Context, roomID string) {
	if d.redis == nil {
		return
	}
	if err := d.redis.Del(ctx, listCacheKey, roomKeyPrefix+roomID).Err(); err != nil {
		d.logger.Warn().Err(err).Str("room_id", roomID).Msg("room cache invalidation failed")
	}
}

func (d *CachedDirectory) readCache(ctx context.Context, key string, out any) bool {
	if d.redis == nil || d.ttl <= 0 {
		return false
	}
	val, err := d.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (d *CachedDirectory) writeCache(ctx context.Context, key string, val any) {
	if d.redis == nil || d.ttl <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := d.redis.Set(ctx, key, data, d.ttl).Err(); err != nil {
		d.logger.Warn().Err(err).Str("key", key).Msg("room cache write failed")
	}
}
