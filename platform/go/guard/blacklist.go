package guard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/moddy-bot/moddy/platform/go/persistence"
)

// AttributeBlacklisted marks a user the bot must ignore.
const AttributeBlacklisted = "BLACKLISTED"

// AttributeReader is the slice of the entity store the guards need.
type AttributeReader interface {
	HasAttribute(ctx context.Context, kind persistence.EntityType, id int64, name string) (bool, error)
}

// FailPolicy decides the verdict when the store cannot be read.
type FailPolicy string

const (
	// FailOpen lets the user through on storage errors.
	FailOpen FailPolicy = "open"
	// FailClosed treats the user as blacklisted on storage errors.
	FailClosed FailPolicy = "closed"
)

// ParseFailPolicy accepts "open" or "closed"; empty means open.
func ParseFailPolicy(raw string) (FailPolicy, error) {
	switch p := FailPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return FailOpen, nil
	case FailOpen, FailClosed:
		return p, nil
	default:
		return "", fmt.Errorf("unknown blacklist fail policy %q", raw)
	}
}

// BlacklistConfig tunes a BlacklistChecker.
type BlacklistConfig struct {
	Policy FailPolicy
	// TTL bounds how long a verdict is reused. Zero keeps verdicts until Invalidate.
	TTL    time.Duration
	Logger *zap.Logger
}

type verdict struct {
	blacklisted bool
	expiresAt   time.Time
}

// BlacklistChecker answers "is this user blacklisted" with a caller-owned cache.
// Staff commands that change BLACKLISTED must call Invalidate.
type BlacklistChecker struct {
	reader AttributeReader
	policy FailPolicy
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[int64]verdict
}

func NewBlacklistChecker(reader AttributeReader, cfg BlacklistConfig) *BlacklistChecker {
	if reader == nil {
		panic("attribute reader is required")
	}
	policy := cfg.Policy
	if policy == "" {
		policy = FailOpen
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlacklistChecker{
		reader: reader,
		policy: policy,
		ttl:    cfg.TTL,
		logger: logger,
		now:    time.Now,
		cache:  make(map[int64]verdict),
	}
}

// IsBlacklisted returns the verdict for userID. On a storage error the
// verdict follows the fail policy, the error is returned alongside it and
// nothing is cached.
func (c *BlacklistChecker) IsBlacklisted(ctx context.Context, userID int64) (bool, error) {
	now := c.now()

	c.mu.Lock()
	v, ok := c.cache[userID]
	c.mu.Unlock()
	if ok && (v.expiresAt.IsZero() || now.Before(v.expiresAt)) {
		return v.blacklisted, nil
	}

	blacklisted, err := c.reader.HasAttribute(ctx, persistence.EntityUser, userID, AttributeBlacklisted)
	if err != nil {
		c.logger.Warn("blacklist lookup failed",
			zap.Int64("user_id", userID),
			zap.String("policy", string(c.policy)),
			zap.Error(err),
		)
		return c.policy == FailClosed, err
	}

	entry := verdict{blacklisted: blacklisted}
	if c.ttl > 0 {
		entry.expiresAt = now.Add(c.ttl)
	}
	c.mu.Lock()
	c.cache[userID] = entry
	c.mu.Unlock()

	return blacklisted, nil
}

func (c *BlacklistChecker) Invalidate(userID int64) {
	c.mu.Lock()
	delete(c.cache, userID)
	c.mu.Unlock()
}

// Clear drops every cached verdict and returns how many were held.
func (c *BlacklistChecker) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.cache)
	c.cache = make(map[int64]verdict)
	return n
}
