package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Local provides the same lease and run-status operations as RedisCache
// within a single process. The worker falls back to it when Redis is
// disabled or unreachable.
type Local struct {
	mu     sync.Mutex
	leases map[string]localLease
	runs   map[string][]byte
	now    func() time.Time
}

type localLease struct {
	token     string
	expiresAt time.Time
}

// NewLocal creates an empty process-local store
func NewLocal() *Local {
	return &Local{
		leases: make(map[string]localLease),
		runs:   make(map[string][]byte),
		now:    time.Now,
	}
}

// TryLock takes the lease at key for ttl unless an unexpired holder has it
func (l *Local) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expiresAt) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.leases[key] = localLease{token: token, expiresAt: now.Add(ttl)}

	unlock := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.leases[key]; ok && held.token == token {
			delete(l.leases, key)
		}
	}
	return unlock, true, nil
}

// SaveRun stores v as the last run at key
func (l *Local) SaveRun(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal run status: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[key] = data
	return nil
}

// LoadRun decodes the last run at key into v
func (l *Local) LoadRun(_ context.Context, key string, v any) (bool, error) {
	l.mu.Lock()
	data, ok := l.runs[key]
	l.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode run status: %w", err)
	}
	return true, nil
}
