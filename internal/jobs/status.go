package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
)

// State is the advisory lifecycle state of a grading job.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateUnknown    State = "unknown"
)

// Status is the advisory job status used for polling. The submission record
// remains authoritative.
type Status struct {
	State     State     `json:"state"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusStore keeps the latest Status per job id.
type StatusStore interface {
	Get(ctx context.Context, id string) (Status, error)
	Set(ctx context.Context, id string, status Status) error
}

// MemoryStatusStore keeps statuses in process memory.
type MemoryStatusStore struct {
	entries *xsync.MapOf[string, Status]
	now     func() time.Time
}

// NewMemoryStatusStore constructs an empty in-memory store.
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{
		entries: xsync.NewMapOf[string, Status](),
		now:     time.Now,
	}
}

// Get returns the stored status or StateUnknown.
func (s *MemoryStatusStore) Get(_ context.Context, id string) (Status, error) {
	if status, ok := s.entries.Load(id); ok {
		return status, nil
	}
	return Status{State: StateUnknown}, nil
}

// Set replaces the status for id.
func (s *MemoryStatusStore) Set(_ context.Context, id string, status Status) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = s.now().UTC()
	}
	s.entries.Store(id, status)
	return nil
}

// RedisStatusStore keeps statuses in Redis so the API and workers share them.
type RedisStatusStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStatusStore constructs a Redis-backed store whose entries expire after ttl.
func NewRedisStatusStore(client *redis.Client, ttl time.Duration) *RedisStatusStore {
	if ttl <= 0 {
		ttl = FailedRetention
	}
	return &RedisStatusStore{
		client: client,
		prefix: "gema:jobs:status:",
		ttl:    ttl,
		now:    time.Now,
	}
}

// Get returns the stored status or StateUnknown.
func (s *RedisStatusStore) Get(ctx context.Context, id string) (Status, error) {
	raw, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Status{State: StateUnknown}, nil
	}
	if err != nil {
		return Status{}, translateRedisError("load job status", err)
	}

	var status Status
	if err := json.Unmarshal(raw, &status); err != nil {
		return Status{}, fmt.Errorf("decode job status: %w", err)
	}
	return status, nil
}

// Set replaces the status for id and refreshes its expiry.
func (s *RedisStatusStore) Set(ctx context.Context, id string, status Status) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = s.now().UTC()
	}

	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode job status: %w", err)
	}

	if err := s.client.Set(ctx, s.prefix+id, payload, s.ttl).Err(); err != nil {
		return translateRedisError("store job status", err)
	}
	return nil
}
