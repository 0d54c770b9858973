package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deployops/approval-gate/internal/models"
	appErrors "github.com/deployops/approval-gate/pkg/errors"
)

// DecisionCache keeps resolved decisions and the rejected-build memo in
// Redis so status lookups after eviction skip the database, and a
// re-triggered build of an already-rejected job/build/env can be flagged.
// With a nil client it degrades to a small in-memory memo.
type DecisionCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger

	mu       sync.RWMutex
	rejected map[string]string
}

// NewDecisionCache constructs the cache. client may be nil.
func NewDecisionCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *DecisionCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionCache{
		client:   client,
		ttl:      ttl,
		logger:   logger,
		rejected: make(map[string]string),
	}
}

func decisionKey(id string) string {
	return "approval:decision:" + id
}

func rejectionKey(job, build, env string) string {
	return "approval:rejected:" + job + ":" + strings.TrimPrefix(build, "#") + ":" + env
}

// SetDecision caches a resolved record. Failures are logged, never fatal:
// the store remains authoritative.
func (c *DecisionCache) SetDecision(ctx context.Context, rec *models.ApprovalRequest) {
	if c.client == nil || rec == nil || !rec.Status.Resolved() {
		return
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		c.logger.Sugar().Warnw("marshal decision for cache", "approval_id", rec.ID, "error", err)
		return
	}
	if err := c.client.Set(ctx, decisionKey(rec.ID), payload, c.ttl).Err(); err != nil {
		c.logger.Sugar().Warnw("cache decision", "approval_id", rec.ID, "error", err)
	}
}

// GetDecision returns a cached resolved record.
func (c *DecisionCache) GetDecision(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	if c.client == nil {
		return nil, appErrors.ErrCacheMiss
	}
	raw, err := c.client.Get(ctx, decisionKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", decisionKey(id), err)
	}
	var rec models.ApprovalRequest
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal cached decision %s: %w", id, err)
	}
	return &rec, nil
}

// MarkRejected records that a job/build/env combination was rejected.
func (c *DecisionCache) MarkRejected(ctx context.Context, job, build, env, rejectedBy string) {
	key := rejectionKey(job, build, env)
	if c.client != nil {
		if err := c.client.Set(ctx, key, rejectedBy, c.ttl).Err(); err != nil {
			c.logger.Sugar().Warnw("cache rejection", "key", key, "error", err)
		}
		return
	}
	c.mu.Lock()
	c.rejected[key] = rejectedBy
	c.mu.Unlock()
}

// IsRejected reports whether the job/build/env combination was rejected
// before, and by whom.
func (c *DecisionCache) IsRejected(ctx context.Context, job, build, env string) (bool, string) {
	key := rejectionKey(job, build, env)
	if c.client != nil {
		by, err := c.client.Get(ctx, key).Result()
		if err != nil {
			if err != redis.Nil {
				c.logger.Sugar().Warnw("read rejection memo", "key", key, "error", err)
			}
			return false, ""
		}
		return true, by
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	by, ok := c.rejected[key]
	return ok, by
}
