package utils

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Perceptus-Labs/perceptus-lookout/models"
	"github.com/redis/go-redis/v9"
)

const (
	ACTIVITY_KEY   = "lookout:activity_history"
	MAX_ACTIVITIES = 50
)

// ActivityStore keeps the most recent detections, newest first.
type ActivityStore interface {
	Save(ctx context.Context, activity models.Activity) error
	List(ctx context.Context) ([]models.Activity, error)
	Clear(ctx context.Context) error
}

type RedisActivityStore struct {
	client *redis.Client
	key    string
	max    int64
}

func NewRedisActivityStore(client *redis.Client) *RedisActivityStore {
	return &RedisActivityStore{
		client: client,
		key:    ACTIVITY_KEY,
		max:    MAX_ACTIVITIES,
	}
}

func (s *RedisActivityStore) Save(ctx context.Context, activity models.Activity) error {
	data, err := json.Marshal(activity)
	if err != nil {
		return Wrap(KindStorage, "save_activity", "cannot encode activity", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, data)
		pipe.LTrim(ctx, s.key, 0, s.max-1)
		return nil
	})
	return Wrap(KindStorage, "save_activity", "failed to save activity", err)
}

func (s *RedisActivityStore) List(ctx context.Context) ([]models.Activity, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, s.max-1).Result()
	if err != nil {
		return nil, Wrap(KindStorage, "list_activities", "failed to get activities", err)
	}
	activities := make([]models.Activity, 0, len(raw))
	for _, item := range raw {
		var activity models.Activity
		if err := json.Unmarshal([]byte(item), &activity); err != nil {
			return nil, Wrap(KindStorage, "list_activities", "corrupt activity entry", err)
		}
		activities = append(activities, activity)
	}
	return activities, nil
}

func (s *RedisActivityStore) Clear(ctx context.Context) error {
	return Wrap(KindStorage, "clear_activities", "failed to clear activities", s.client.Del(ctx, s.key).Err())
}

type MemoryActivityStore struct {
	mu         sync.Mutex
	activities []models.Activity
}

func NewMemoryActivityStore() *MemoryActivityStore {
	return &MemoryActivityStore{}
}

func (s *MemoryActivityStore) Save(ctx context.Context, activity models.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append([]models.Activity{activity}, s.activities...)
	if len(s.activities) > MAX_ACTIVITIES {
		s.activities = s.activities[:MAX_ACTIVITIES]
	}
	return nil
}

func (s *MemoryActivityStore) List(ctx context.Context) ([]models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Activity{}, s.activities...), nil
}

func (s *MemoryActivityStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = nil
	return nil
}
