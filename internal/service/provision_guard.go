package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
)

// ProvisionGuard is the in-process claimer for provisioning: a transaction
// hash is granted once within ttl. It is safe for concurrent use.
type ProvisionGuard struct {
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewProvisionGuard creates a guard that remembers hashes for ttl.
func NewProvisionGuard(ttl time.Duration) *ProvisionGuard {
	return &ProvisionGuard{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Claim grants txHash to the first caller within the TTL window.
func (g *ProvisionGuard) Claim(_ context.Context, txHash string) (bool, error) {
	key := strings.ToLower(txHash)

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if at, ok := g.seen[key]; ok && now.Sub(at) < g.ttl {
		return false, nil
	}
	g.seen[key] = now
	return true, nil
}

// Cleanup drops expired hashes.
func (g *ProvisionGuard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for h, at := range g.seen {
		if now.Sub(at) >= g.ttl {
			delete(g.seen, h)
		}
	}
}

var _ domain.ProvisionClaimer = (*ProvisionGuard)(nil)
