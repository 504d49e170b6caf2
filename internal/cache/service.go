// Package cache provides Redis-backed shared state and small in-process
// caches. The Redis service degrades gracefully: when the server is
// unreachable operations return errors and callers fall back to local
// state (crypto-rand order ids, in-memory caches).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/logging"
)

// Sequences are scoped per credential per UTC date so both accounts can
// run independent counters.
const prefixDailySequence = "hedgebot:cred:%s:seq:%s"

const (
	// Daily sequences survive the UTC rollover long enough for any
	// in-flight order referencing yesterday's ids.
	sequenceTTL = 48 * time.Hour

	healthMaxFailures  = 3
	healthCheckBackoff = 30 * time.Second
)

// Service wraps a Redis client with failure tracking.
type Service struct {
	client *redis.Client
	cfg    config.RedisConfig
	log    *logging.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time
}

// NewService connects to Redis. A failed initial ping returns the
// service in degraded mode rather than an error so startup does not
// depend on Redis availability.
func NewService(cfg config.RedisConfig) (*Service, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	s := &Service{
		client: client,
		cfg:    cfg,
		log:    logging.Default().WithComponent("cache"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		s.log.Warn("initial redis connection failed, starting degraded", "error", err)
		return s, nil
	}

	s.healthy = true
	s.lastCheck = time.Now()
	s.log.Info("redis connected", "address", cfg.Address)
	return s, nil
}

// Healthy reports whether Redis is currently usable.
func (s *Service) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failureCount++
	if s.failureCount >= healthMaxFailures {
		if s.healthy {
			s.log.Error("redis marked unhealthy", "failures", s.failureCount)
		}
		s.healthy = false
	}
}

func (s *Service) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.healthy {
		s.log.Info("redis recovered")
	}
	s.healthy = true
	s.failureCount = 0
	s.lastCheck = time.Now()
}

// checkHealth pings in the background once per backoff window while the
// service is unhealthy.
func (s *Service) checkHealth() {
	s.mu.RLock()
	shouldCheck := !s.healthy && time.Since(s.lastCheck) >= healthCheckBackoff
	s.mu.RUnlock()

	if !shouldCheck {
		return
	}

	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := s.client.Ping(ctx).Err(); err == nil {
			s.recordSuccess()
		}
	}()
}

// Get retrieves a value. A redis.Nil error is a cache miss, not a
// service failure.
func (s *Service) Get(ctx context.Context, key string) (string, error) {
	s.checkHealth()
	if !s.Healthy() {
		return "", fmt.Errorf("redis unavailable")
	}

	result, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", err
		}
		s.recordFailure()
		return "", fmt.Errorf("redis get failed: %w", err)
	}

	s.recordSuccess()
	return result, nil
}

// Set stores a value with a TTL. Non-string values are JSON encoded.
func (s *Service) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.checkHealth()
	if !s.Healthy() {
		return fmt.Errorf("redis unavailable")
	}

	var data string
	switch v := value.(type) {
	case string:
		data = v
	case []byte:
		data = string(v)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal cache value: %w", err)
		}
		data = string(encoded)
	}

	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}

	s.recordSuccess()
	return nil
}

// Delete removes a key.
func (s *Service) Delete(ctx context.Context, key string) error {
	s.checkHealth()
	if !s.Healthy() {
		return fmt.Errorf("redis unavailable")
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("redis delete failed: %w", err)
	}

	s.recordSuccess()
	return nil
}

// GetJSON retrieves and unmarshals a JSON value.
func (s *Service) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return fmt.Errorf("unmarshal cached value: %w", err)
	}
	return nil
}

// SetJSON stores a JSON-encoded value.
func (s *Service) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return s.Set(ctx, key, value, ttl)
}

// NextDailySequence atomically increments the per-credential counter for
// a UTC date key and returns the new 1-indexed value. Satisfies the
// order id generator's sequence source.
func (s *Service) NextDailySequence(ctx context.Context, credential, dateKey string) (int64, error) {
	s.checkHealth()
	if !s.Healthy() {
		return 0, fmt.Errorf("redis unavailable")
	}

	key := SequenceKey(credential, dateKey)

	val, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("redis incr failed: %w", err)
	}

	if val == 1 {
		s.client.Expire(ctx, key, sequenceTTL)
	}

	s.recordSuccess()
	return val, nil
}

// CurrentSequence reads the counter without incrementing. Absent keys
// read as zero.
func (s *Service) CurrentSequence(ctx context.Context, credential, dateKey string) (int64, error) {
	s.checkHealth()
	if !s.Healthy() {
		return 0, fmt.Errorf("redis unavailable")
	}

	val, err := s.client.Get(ctx, SequenceKey(credential, dateKey)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		s.recordFailure()
		return 0, fmt.Errorf("redis get sequence failed: %w", err)
	}

	s.recordSuccess()
	return val, nil
}

// Ping checks connectivity and updates health state.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.recordFailure()
		return err
	}
	s.recordSuccess()
	return nil
}

// Close closes the Redis connection.
func (s *Service) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Client exposes the underlying Redis client for components that need
// raw commands, such as the Redis snapshot store.
func (s *Service) Client() *redis.Client {
	return s.client
}

// Stats reports service health for the operations API.
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
	PoolSize     int    `json:"pool_size"`
}

// GetStats returns current service statistics.
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Healthy:      s.healthy,
		FailureCount: s.failureCount,
		Address:      s.cfg.Address,
		PoolSize:     s.cfg.PoolSize,
	}
}

// SequenceKey builds the daily sequence key for a credential and date.
func SequenceKey(credential, dateKey string) string {
	return fmt.Sprintf(prefixDailySequence, credential, dateKey)
}
