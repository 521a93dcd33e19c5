package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/redis/go-redis/v9"
)

// claimTTL outlives any realistic retry of the same transaction hash.
const claimTTL = 30 * 24 * time.Hour

// ProvisionClaimer implements domain.ProvisionClaimer: the first SET NX on
// fundx:provision:{hash} wins, shared by every process using this Redis.
type ProvisionClaimer struct {
	rdb *redis.Client
}

// NewProvisionClaimer creates a ProvisionClaimer backed by the given Client.
func NewProvisionClaimer(c *Client) *ProvisionClaimer {
	return &ProvisionClaimer{rdb: c.Underlying()}
}

func provisionKey(txHash string) string {
	return keyPrefix + "provision:" + strings.ToLower(txHash)
}

// Claim reports whether the caller is the first to claim txHash.
func (pc *ProvisionClaimer) Claim(ctx context.Context, txHash string) (bool, error) {
	ok, err := pc.rdb.SetNX(ctx, provisionKey(txHash), time.Now().UTC().Format(time.RFC3339Nano), claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis/provision_claimer: claim %s: %w", txHash, err)
	}
	return ok, nil
}

var _ domain.ProvisionClaimer = (*ProvisionClaimer)(nil)
