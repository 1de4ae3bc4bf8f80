package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"matchquiz/models"

	"github.com/redis/go-redis/v9"
)

var ErrNoDescriptor = errors.New("no stored session descriptor")

// DescriptorStore persists the session descriptor between runs of the
// client. The controller only reads it.
type DescriptorStore interface {
	Load(ctx context.Context, profile string) (models.SessionDescriptor, error)
	Save(ctx context.Context, profile string, d models.SessionDescriptor) error
	Clear(ctx context.Context, profile string) error
}

type RedisDescriptorStore struct {
	redis *redis.Client
	now   func() time.Time
}

func NewRedisDescriptorStore(client *redis.Client) *RedisDescriptorStore {
	return &RedisDescriptorStore{redis: client, now: time.Now}
}

func descriptorKey(profile string) string {
	return "matchquiz:session:" + strings.ToLower(profile)
}

// Save stores the descriptor with a TTL that ends at its expiry time, so
// Redis forgets expired sessions on its own.
func (s *RedisDescriptorStore) Save(ctx context.Context, profile string, d models.SessionDescriptor) error {
	ttl := d.Expiry().Sub(s.now())
	if ttl <= 0 {
		return models.ErrDescriptorExpired
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal session descriptor: %w", err)
	}
	if err := s.redis.Set(ctx, descriptorKey(profile), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store in Redis: %w", err)
	}
	return nil
}

func (s *RedisDescriptorStore) Load(ctx context.Context, profile string) (models.SessionDescriptor, error) {
	data, err := s.redis.Get(ctx, descriptorKey(profile)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.SessionDescriptor{}, ErrNoDescriptor
		}
		return models.SessionDescriptor{}, fmt.Errorf("redis error getting session descriptor: %w", err)
	}

	var d models.SessionDescriptor
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return models.SessionDescriptor{}, fmt.Errorf("failed to unmarshal session descriptor: %w", err)
	}
	return d, nil
}

func (s *RedisDescriptorStore) Clear(ctx context.Context, profile string) error {
	if err := s.redis.Del(ctx, descriptorKey(profile)).Err(); err != nil {
		return fmt.Errorf("failed to clear session descriptor: %w", err)
	}
	return nil
}

// MemoryDescriptorStore keeps descriptors in process memory.
type MemoryDescriptorStore struct {
	descriptors map[string]models.SessionDescriptor
	mu          sync.RWMutex
}

func NewMemoryDescriptorStore() *MemoryDescriptorStore {
	return &MemoryDescriptorStore{
		descriptors: make(map[string]models.SessionDescriptor),
	}
}

func (s *MemoryDescriptorStore) Load(_ context.Context, profile string) (models.SessionDescriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.descriptors[strings.ToLower(profile)]
	if !ok {
		return models.SessionDescriptor{}, ErrNoDescriptor
	}
	return d, nil
}

func (s *MemoryDescriptorStore) Save(_ context.Context, profile string, d models.SessionDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptors[strings.ToLower(profile)] = d
	return nil
}

func (s *MemoryDescriptorStore) Clear(_ context.Context, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.descriptors, strings.ToLower(profile))
	return nil
}

// Starter opens a session from a descriptor. *Controller implements it.
type Starter interface {
	Start(ctx context.Context, d models.SessionDescriptor) error
}

// StartFromStore loads the stored descriptor and starts the controller with
// it. A descriptor the controller rejects is cleared from the store.
func StartFromStore(ctx context.Context, c Starter, store DescriptorStore, profile string) error {
	d, err := store.Load(ctx, profile)
	if err != nil {
		if errors.Is(err, ErrNoDescriptor) {
			return fmt.Errorf("%w: %w", ErrNoValidSession, err)
		}
		return err
	}

	if err := c.Start(ctx, d); err != nil {
		if errors.Is(err, ErrNoValidSession) {
			if clearErr := store.Clear(ctx, profile); clearErr != nil {
				log.Printf("Error clearing invalid session descriptor for %s: %v", profile, clearErr)
			}
		}
		return err
	}
	return nil
}
