package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/ChatBilling/internal/models"
	log "github.com/sirupsen/logrus"
)

// redisCooldown is how long the manager stays on memory after a Redis error.
const redisCooldown = 30 * time.Second

var errNoRedisAddr = errors.New("ratelimit: redis enabled without an address")

// OptionsFunc returns the options for the next check.
type OptionsFunc func() Options

// DialFunc opens a Redis client.
type DialFunc func(opts *redis.Options) redis.UniversalClient

// redisSlot is one dialed counter. It stays open until every Hit that
// acquired it has returned.
type redisSlot struct {
	counter  *RedisCounter
	inflight sync.WaitGroup
}

// retire closes the slot once its in-flight hits drain.
func (s *redisSlot) retire() error {
	s.inflight.Wait()
	return s.counter.Close()
}

type redisTarget struct {
	addr     string
	password string
	db       int
	prefix   string
}

// Manager throttles sendMessage per user. It counts in Redis when the
// settings enable it and falls back to process memory while Redis fails.
type Manager struct {
	options OptionsFunc
	now     func() time.Time
	dial    DialFunc
	memory  *MemoryCounter

	mu          sync.Mutex
	redis       *redisSlot
	target      redisTarget
	cooldownEnd time.Time
}

// NewManager wires a Manager. Nil arguments select the settings snapshot,
// the wall clock and redis.NewClient.
func NewManager(options OptionsFunc, now func() time.Time, dial DialFunc) *Manager {
	if options == nil {
		options = OptionsFromSettings
	}
	if now == nil {
		now = time.Now
	}
	if dial == nil {
		dial = func(opts *redis.Options) redis.UniversalClient { return redis.NewClient(opts) }
	}
	return &Manager{options: options, now: now, dial: dial, memory: NewMemoryCounter()}
}

// Check counts one message from user and returns the applied policy.
func (m *Manager) Check(ctx context.Context, user *models.User) (Policy, Verdict, error) {
	if m == nil {
		return Policy{Origin: OriginNone}, Verdict{Allowed: true}, nil
	}
	opts := m.options()
	policy := PolicyFor(user, opts.DefaultLimit)
	if !policy.Limited() {
		return policy, Verdict{Allowed: true}, nil
	}
	now := m.now()
	if opts.RedisEnabled {
		if slot := m.acquireRedis(ctx, opts.redisTarget(), now); slot != nil {
			verdict, errHit := slot.counter.Hit(ctx, policy.key, policy.Limit, now)
			slot.inflight.Done()
			if errHit == nil {
				return policy, verdict, nil
			}
			m.coolDown(errHit, now)
		}
	}
	verdict, err := m.memory.Hit(ctx, policy.key, policy.Limit, now)
	return policy, verdict, err
}

// Close releases the Redis client, if any, after in-flight checks finish.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	slot := m.redis
	m.redis = nil
	m.mu.Unlock()
	if slot == nil {
		return nil
	}
	return slot.retire()
}

// acquireRedis returns a live slot for target with one in-flight hit
// registered, reconnecting when the target changed. The caller must call
// inflight.Done. Nil means use memory.
func (m *Manager) acquireRedis(ctx context.Context, target redisTarget, now time.Time) *redisSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Before(m.cooldownEnd) {
		return nil
	}
	if m.redis != nil && m.target == target {
		m.redis.inflight.Add(1)
		return m.redis
	}
	if previous := m.redis; previous != nil {
		m.redis = nil
		go func() {
			if errClose := previous.retire(); errClose != nil {
				log.WithError(errClose).Debug("ratelimit: close previous redis client")
			}
		}()
	}
	if target.addr == "" {
		m.coolDownLocked(errNoRedisAddr, now)
		return nil
	}

	client := m.dial(&redis.Options{Addr: target.addr, Password: target.password, DB: target.db})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		_ = client.Close()
		m.coolDownLocked(errPing, now)
		return nil
	}
	m.redis = &redisSlot{counter: NewRedisCounter(client, target.prefix)}
	m.target = target
	m.redis.inflight.Add(1)
	return m.redis
}

func (m *Manager) coolDown(err error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coolDownLocked(err, now)
}

func (m *Manager) coolDownLocked(err error, now time.Time) {
	if now.Before(m.cooldownEnd) {
		return
	}
	m.cooldownEnd = now.Add(redisCooldown)
	log.WithError(err).Warn("ratelimit: redis unavailable, counting in memory")
}
