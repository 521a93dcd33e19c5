package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/redis/go-redis/v9"
)

// OfferCache implements domain.OfferCache. Each (phase, exam type) selection
// is a hash with a JSON "data" field and a "cached_at" stamp.
//
// Key schema:
//
//	fundx:offer:{phase}:{examType}
type OfferCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOfferCache creates an OfferCache whose entries live for ttl.
func NewOfferCache(c *Client, ttl time.Duration) *OfferCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &OfferCache{rdb: c.Underlying(), ttl: ttl}
}

func offerKey(phase domain.Phase, examType string) string {
	return keyPrefix + "offer:" + string(phase) + ":" + strings.ToLower(examType)
}

// Set stores offer under its own phase and exam type.
func (oc *OfferCache) Set(ctx context.Context, offer domain.Offer) error {
	data, err := json.Marshal(offer)
	if err != nil {
		return fmt.Errorf("redis/offer_cache: marshal %s/%s: %w", offer.Phase, offer.ExamType, err)
	}

	key := offerKey(offer.Phase, offer.ExamType)
	pipe := oc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data, "cached_at", time.Now().UTC().Format(time.RFC3339))
	pipe.Expire(ctx, key, oc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis/offer_cache: set %s: %w", key, err)
	}
	return nil
}

// Get returns the cached offer or domain.ErrNotFound.
func (oc *OfferCache) Get(ctx context.Context, phase domain.Phase, examType string) (domain.Offer, error) {
	key := offerKey(phase, examType)
	data, err := oc.rdb.HGet(ctx, key, "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Offer{}, domain.ErrNotFound
		}
		return domain.Offer{}, fmt.Errorf("redis/offer_cache: get %s: %w", key, err)
	}

	var offer domain.Offer
	if err := json.Unmarshal(data, &offer); err != nil {
		return domain.Offer{}, fmt.Errorf("redis/offer_cache: unmarshal %s: %w", key, err)
	}
	return offer, nil
}

// Invalidate drops one selection.
func (oc *OfferCache) Invalidate(ctx context.Context, phase domain.Phase, examType string) error {
	if err := oc.rdb.Del(ctx, offerKey(phase, examType)).Err(); err != nil {
		return fmt.Errorf("redis/offer_cache: invalidate %s/%s: %w", phase, examType, err)
	}
	return nil
}

var _ domain.OfferCache = (*OfferCache)(nil)
