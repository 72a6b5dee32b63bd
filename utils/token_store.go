package utils

import (
	"context"
	"encoding/json"

	"github.com/Perceptus-Labs/perceptus-lookout/models"
	"github.com/redis/go-redis/v9"
)

const TOKEN_KEY = "lookout:token"

// TokenStore holds the access token issued by the auth backend.
// Get returns nil, nil when the user is not logged in.
type TokenStore interface {
	Get(ctx context.Context) (*models.Token, error)
	Store(ctx context.Context, token models.Token) error
	Remove(ctx context.Context) error
}

type RedisTokenStore struct {
	client *redis.Client
	key    string
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client, key: TOKEN_KEY}
}

func (s *RedisTokenStore) Get(ctx context.Context) (*models.Token, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, Wrap(KindStorage, "get_token", "error retrieving token", err)
	}
	var token models.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, Wrap(KindStorage, "get_token", "corrupt token", err)
	}
	return &token, nil
}

func (s *RedisTokenStore) Store(ctx context.Context, token models.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return Wrap(KindStorage, "store_token", "cannot encode token", err)
	}
	return Wrap(KindStorage, "store_token", "error storing token", s.client.Set(ctx, s.key, data, 0).Err())
}

func (s *RedisTokenStore) Remove(ctx context.Context) error {
	return Wrap(KindStorage, "remove_token", "error removing token", s.client.Del(ctx, s.key).Err())
}

// BearerHeader returns the Authorization value for the stored token, or ""
// when there is no usable token.
func BearerHeader(ctx context.Context, store TokenStore) string {
	if store == nil {
		return ""
	}
	token, err := store.Get(ctx)
	if err != nil || token == nil || token.Access == "" {
		return ""
	}
	return "Bearer " + token.Access
}
