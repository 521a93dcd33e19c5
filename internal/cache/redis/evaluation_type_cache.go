package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/redis/go-redis/v9"
)

// EvaluationTypeCache implements domain.EvaluationTypeCache with one JSON
// string per type id under fundx:evaltype:{id}.
type EvaluationTypeCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewEvaluationTypeCache creates an EvaluationTypeCache whose entries live
// for ttl.
func NewEvaluationTypeCache(c *Client, ttl time.Duration) *EvaluationTypeCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &EvaluationTypeCache{rdb: c.Underlying(), ttl: ttl}
}

func evaluationTypeKey(id domain.EvaluationTypeID) string {
	return keyPrefix + "evaltype:" + id.String()
}

// Set stores t under its id.
func (ec *EvaluationTypeCache) Set(ctx context.Context, t domain.EvaluationType) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("redis/evaluation_type_cache: marshal %s: %w", t.ID, err)
	}
	if err := ec.rdb.Set(ctx, evaluationTypeKey(t.ID), data, ec.ttl).Err(); err != nil {
		return fmt.Errorf("redis/evaluation_type_cache: set %s: %w", t.ID, err)
	}
	return nil
}

// Get returns the cached type or domain.ErrNotFound.
func (ec *EvaluationTypeCache) Get(ctx context.Context, id domain.EvaluationTypeID) (domain.EvaluationType, error) {
	data, err := ec.rdb.Get(ctx, evaluationTypeKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.EvaluationType{}, domain.ErrNotFound
		}
		return domain.EvaluationType{}, fmt.Errorf("redis/evaluation_type_cache: get %s: %w", id, err)
	}

	var t domain.EvaluationType
	if err := json.Unmarshal(data, &t); err != nil {
		return domain.EvaluationType{}, fmt.Errorf("redis/evaluation_type_cache: unmarshal %s: %w", id, err)
	}
	return t, nil
}

var _ domain.EvaluationTypeCache = (*EvaluationTypeCache)(nil)
