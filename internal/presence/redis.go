package presence

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/npezzotti/go-taskchat/internal/database"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "presence:"

// RedisStore keeps one hash per user instead of a user_presence row.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) UpsertPresence(ctx context.Context, p database.Presence) error {
	if err := s.rdb.HSet(ctx, presenceKey(p.UserId), presenceFields(p)).Err(); err != nil {
		return fmt.Errorf("hset presence: %w", err)
	}
	return nil
}

func (s *RedisStore) GetPresence(ctx context.Context, userId string) (database.Presence, error) {
	fields, err := s.rdb.HGetAll(ctx, presenceKey(userId)).Result()
	if err != nil {
		return database.Presence{}, fmt.Errorf("hgetall presence: %w", err)
	}
	if len(fields) == 0 {
		return database.Presence{}, database.ErrNotFound
	}

	return parsePresence(fields)
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func presenceKey(userId string) string {
	return keyPrefix + userId
}

// presenceFields flattens a presence row into hash fields. A cleared
// current task is stored as an empty string.
func presenceFields(p database.Presence) map[string]any {
	currentTask := ""
	if p.CurrentTaskId.Valid {
		currentTask = p.CurrentTaskId.String
	}

	return map[string]any{
		"user_id":         p.UserId,
		"is_online":       strconv.FormatBool(p.IsOnline),
		"last_seen":       p.LastSeen.UTC().Format(time.RFC3339Nano),
		"current_task_id": currentTask,
	}
}

func parsePresence(fields map[string]string) (database.Presence, error) {
	online, err := strconv.ParseBool(fields["is_online"])
	if err != nil {
		return database.Presence{}, fmt.Errorf("parse is_online: %w", err)
	}

	lastSeen, err := time.Parse(time.RFC3339Nano, fields["last_seen"])
	if err != nil {
		return database.Presence{}, fmt.Errorf("parse last_seen: %w", err)
	}

	currentTask := fields["current_task_id"]
	return database.Presence{
		UserId:        fields["user_id"],
		IsOnline:      online,
		LastSeen:      lastSeen.UTC(),
		CurrentTaskId: sql.NullString{String: currentTask, Valid: currentTask != ""},
	}, nil
}
