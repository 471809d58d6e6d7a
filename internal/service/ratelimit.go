package service

import (
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TinkerUnicorn/authz/internal/models"
	"github.com/TinkerUnicorn/authz/internal/util"
)

// requestCounter is the per-(endpoint,key) state of the limiter. Created
// lazily on first request, mutated only under its shard lock.
type requestCounter struct {
	lastRequestTime time.Time
	windowStart     time.Time
	countInWindow   int
	banned          bool
	banStartedAt    time.Time
}

type limiterShard struct {
	mu       sync.Mutex
	counters map[string]*requestCounter
}

// RateLimiter is a fixed-window counter with a hard minimum-interval guard
// and a ban/relive state machine per (endpoint, key). The minInterval check
// catches bursty automation that a pure window count would only stop once
// the window fills.
type RateLimiter struct {
	shards   []*limiterShard
	defaults *util.RateLimiterConfig
	log      *zap.SugaredLogger
}

const limiterShards = 32

func NewRateLimiter(defaults *util.RateLimiterConfig, log *zap.SugaredLogger) *RateLimiter {
	shards := make([]*limiterShard, limiterShards)
	for i := range shards {
		shards[i] = &limiterShard{counters: make(map[string]*requestCounter)}
	}
	return &RateLimiter{shards: shards, defaults: defaults, log: log}
}

// Allow runs one request through the limiter state machine.
//
// BY_USER policies are skipped entirely when userID is empty: rate limiting
// an absent identity is meaningless. Endpoints without a policy bypass the
// limiter before this call.
func (l *RateLimiter) Allow(policy *models.RateLimitPolicy, method, path, userID, ip string, now time.Time) bool {
	if policy == nil {
		return true
	}

	var subject string
	switch policy.CheckType {
	case models.CheckByUser:
		if userID == "" {
			return true
		}
		subject = userID
	default:
		subject = ip
	}

	p := l.withDefaults(*policy)
	key := method + " " + path + "|" + subject

	sh := l.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.counters[key]
	if !ok {
		sh.counters[key] = &requestCounter{
			lastRequestTime: now,
			windowStart:     now,
			countInWindow:   1,
		}
		return true
	}
	// lastRequestTime advances in every branch, including rejections. The
	// ban itself is measured from banStartedAt, not from the latest attempt.
	defer func() { c.lastRequestTime = now }()

	if c.banned {
		if now.Sub(c.banStartedAt) < p.BanDuration {
			l.log.Warnw("request rejected while banned",
				"endpoint", method+" "+path, "key", subject, "sinceBan", now.Sub(c.banStartedAt))
			return false
		}
		c.banned = false
		c.windowStart = now
		c.countInWindow = 0
		l.log.Infow("ban lifted", "endpoint", method+" "+path, "key", subject)
	}

	if now.Sub(c.lastRequestTime) < p.MinInterval {
		c.banned = true
		c.banStartedAt = now
		l.log.Warnw("request below min interval, banning",
			"endpoint", method+" "+path, "key", subject, "sinceLast", now.Sub(c.lastRequestTime))
		return false
	}

	if now.Sub(c.windowStart) > p.Window {
		c.windowStart = now
		c.countInWindow = 1
		return true
	}

	c.countInWindow++
	if c.countInWindow > p.MaxRequests {
		c.banned = true
		c.banStartedAt = now
		l.log.Warnw("window limit exceeded, banning",
			"endpoint", method+" "+path, "key", subject, "count", c.countInWindow)
		return false
	}
	return true
}

func (l *RateLimiter) shard(key string) *limiterShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

// withDefaults fills unset policy fields from the limiter's configured
// fallbacks, so a policy may declare only the fields it cares about.
// MinInterval zero is an explicit "no spacing guard", so only a negative
// (unset) value inherits the default.
func (l *RateLimiter) withDefaults(p models.RateLimitPolicy) models.RateLimitPolicy {
	if p.MaxRequests <= 0 {
		p.MaxRequests = l.defaults.MaxRequests
	}
	if p.Window <= 0 {
		p.Window = l.defaults.Window
	}
	if p.MinInterval < 0 {
		p.MinInterval = l.defaults.MinInterval
	}
	if p.BanDuration <= 0 {
		p.BanDuration = l.defaults.BanDuration
	}
	return p
}
