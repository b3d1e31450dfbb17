package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts hits per key in fixed windows. Allow records the hit and reports
// whether it fits in the window's budget.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (Decision, error)
}

func decide(count int64, max int, resetAt time.Time) Decision {
	remaining := int64(max) - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(max),
		Limit:     max,
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}
}

// MemoryLimiter is an in-process Limiter. Counters are not shared between instances.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// NewMemoryLimiter builds an empty MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*memoryWindow), now: time.Now}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string, window time.Duration, max int) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if len(m.windows) >= maxIPEntries {
		m.sweep(now)
	}
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		m.windows[key] = w
	}
	w.count++
	return decide(w.count, max, w.resetAt), nil
}

func (m *MemoryLimiter) sweep(now time.Time) {
	for k, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, k)
		}
	}
}

// ValkeyLimiter keeps counters in Valkey or Redis so every instance shares one budget.
type ValkeyLimiter struct {
	client valkey.Client
	prefix string
}

// NewValkeyLimiter connects to the server at url (redis:// or valkey:// form).
func NewValkeyLimiter(url, prefix string) (*ValkeyLimiter, error) {
	opt, err := valkey.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse valkey url: %w", err)
	}
	opt.DisableCache = true
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("connect valkey: %w", err)
	}
	return NewValkeyLimiterWithClient(client, prefix), nil
}

// NewValkeyLimiterWithClient wraps an existing client.
func NewValkeyLimiterWithClient(client valkey.Client, prefix string) *ValkeyLimiter {
	return &ValkeyLimiter{client: client, prefix: prefix}
}

// Close releases the client.
func (v *ValkeyLimiter) Close() {
	v.client.Close()
}

func (v *ValkeyLimiter) Allow(ctx context.Context, key string, window time.Duration, max int) (Decision, error) {
	k := v.prefix + key
	results := v.client.DoMulti(ctx,
		v.client.B().Incrby().Key(k).Increment(1).Build(),
		v.client.B().Pttl().Key(k).Build(),
	)
	count, err := results[0].AsInt64()
	if err != nil {
		return Decision{}, fmt.Errorf("incr rate counter: %w", err)
	}
	ttl, err := results[1].AsInt64()
	if err != nil {
		return Decision{}, fmt.Errorf("read rate counter ttl: %w", err)
	}

	// A fresh counter, or one whose expiry was lost, opens a new window.
	if ttl < 0 {
		ttl = window.Milliseconds()
		if err := v.client.Do(ctx, v.client.B().Pexpire().Key(k).Milliseconds(ttl).Build()).Error(); err != nil {
			return Decision{}, fmt.Errorf("expire rate counter: %w", err)
		}
	}
	return decide(count, max, time.Now().Add(time.Duration(ttl)*time.Millisecond)), nil
}
