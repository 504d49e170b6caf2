package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSnapshotKey = "hedgebot:snapshot"

	// Stale documents age out on their own if the process stops
	// writing; a fresh write always resets the clock.
	redisSnapshotTTL = 7 * 24 * time.Hour
)

// RedisStore keeps one hash entry per credential under a single key.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a store on an already-configured client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, key: redisSnapshotKey}
}

// Write replaces the document for one credential.
func (s *RedisStore) Write(ctx context.Context, credential string, entries []Entry) error {
	if credential == "" {
		return fmt.Errorf("snapshot write requires a credential tag")
	}

	doc := Document{
		Credential: credential,
		Positions:  entries,
		WrittenAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal snapshot document: %w", err)
	}

	if err := s.client.HSet(ctx, s.key, credential, string(data)).Err(); err != nil {
		return fmt.Errorf("redis snapshot write failed: %w", err)
	}
	s.client.Expire(ctx, s.key, redisSnapshotTTL)
	return nil
}

// Read returns all stored documents. An absent key is an empty store.
func (s *RedisStore) Read(ctx context.Context) (map[string]Document, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		if err == redis.Nil {
			return make(map[string]Document), nil
		}
		return nil, fmt.Errorf("redis snapshot read failed: %w", err)
	}

	docs := make(map[string]Document, len(fields))
	for credential, raw := range fields {
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("parse snapshot for %s: %w", credential, err)
		}
		docs[credential] = doc
	}
	return docs, nil
}
