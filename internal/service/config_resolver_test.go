package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alanyoungcy/fundxeval/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	types     []domain.ExamType
	typesErr  error
	offers    map[string]domain.Offer
	offerErr  error
	offerHits int
}

func (s *fakeSource) ExamTypes(context.Context) ([]domain.ExamType, error) {
	return s.types, s.typesErr
}

func (s *fakeSource) CombinedConfig(_ context.Context, phase domain.Phase, examType string) (domain.Offer, error) {
	s.offerHits++
	if s.offerErr != nil {
		return domain.Offer{}, s.offerErr
	}
	o, ok := s.offers[string(phase)+"/"+examType]
	if !ok {
		return domain.Offer{}, fmt.Errorf("fundx: %w", domain.ErrNotFound)
	}
	return o, nil
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		types: []domain.ExamType{
			{Key: "basic", ExamType: "basic", Name: "Basic", ExamPrice: decimal.RequireFromString("0.002"),
				InitialBalance: decimal.NewFromInt(10), Currency: "USDC", IsActive: true},
			{Key: "pro", ExamType: "pro", Name: "Pro", ExamPrice: decimal.RequireFromString("0.01"),
				IsActive: true, EvaluationTypeID: 7},
			{Key: "advanced", ExamType: "advanced", Name: "Advanced", IsActive: false},
		},
		offers: map[string]domain.Offer{
			"phase1/basic": {TargetProfitPct: decimal.NewFromInt(10), MaxTotalLossPct: decimal.NewFromInt(6), MinDaysRequired: 7},
			"phase1/pro":   {EvaluationTypeID: 3, Price: decimal.RequireFromString("0.012")},
		},
	}
}

func TestOfferMergesExamType(t *testing.T) {
	r := NewConfigResolver(newFakeSource(), nil, discardLogger())

	offer, err := r.Offer(t.Context(), domain.Phase1, " Basic ")
	require.NoError(t, err)
	assert.Equal(t, domain.Phase1, offer.Phase)
	assert.Equal(t, "basic", offer.ExamType)
	assert.Equal(t, domain.EvaluationTypeID(1), offer.EvaluationTypeID, "tag maps to its ledger id")
	assert.True(t, offer.Price.Equal(decimal.RequireFromString("0.002")))
	assert.True(t, offer.InitialBalance.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "Basic", offer.Name)
	assert.Equal(t, 7, offer.MinDaysRequired)

	offer, err = r.Offer(t.Context(), domain.Phase1, "pro")
	require.NoError(t, err)
	assert.Equal(t, domain.EvaluationTypeID(7), offer.EvaluationTypeID, "tier list id wins")
	assert.True(t, offer.Price.Equal(decimal.RequireFromString("0.012")), "combined config price wins")
}

func TestOfferErrors(t *testing.T) {
	tests := []struct {
		name     string
		source   func(*fakeSource)
		phase    domain.Phase
		examType string
		want     error
	}{
		{name: "unknown phase", phase: "phase3", examType: "basic", want: domain.ErrInvalidSelection},
		{name: "empty exam type", phase: domain.Phase1, examType: " ", want: domain.ErrInvalidSelection},
		{name: "unknown exam type", phase: domain.Phase1, examType: "gold", want: domain.ErrInvalidSelection},
		{name: "inactive exam type", phase: domain.Phase1, examType: "advanced", want: domain.ErrInvalidSelection},
		{name: "phase not configured", phase: domain.Phase2, examType: "basic", want: domain.ErrInvalidSelection},
		{
			name:     "tier list unavailable",
			source:   func(s *fakeSource) { s.typesErr = errors.New("connection refused") },
			phase:    domain.Phase1,
			examType: "basic",
			want:     domain.ErrConfigUnavailable,
		},
		{
			name:     "combined config unavailable",
			source:   func(s *fakeSource) { s.offerErr = errors.New("HTTP 502") },
			phase:    domain.Phase1,
			examType: "basic",
			want:     domain.ErrConfigUnavailable,
		},
		{
			name:     "rejected selection",
			source:   func(s *fakeSource) { s.offerErr = fmt.Errorf("fundx: %w", domain.ErrBadRequest) },
			phase:    domain.Phase1,
			examType: "basic",
			want:     domain.ErrInvalidSelection,
		},
		{
			name: "unpriced",
			source: func(s *fakeSource) {
				s.types[0].ExamPrice = decimal.Zero
			},
			phase:    domain.Phase1,
			examType: "basic",
			want:     domain.ErrInvalidSelection,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			if tt.source != nil {
				tt.source(src)
			}
			_, err := NewConfigResolver(src, nil, discardLogger()).Offer(t.Context(), tt.phase, tt.examType)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

type mapOfferCache struct {
	offers map[string]domain.Offer
	getErr error
}

func (c *mapOfferCache) key(phase domain.Phase, examType string) string {
	return string(phase) + "/" + examType
}

func (c *mapOfferCache) Set(_ context.Context, o domain.Offer) error {
	c.offers[c.key(o.Phase, o.ExamType)] = o
	return nil
}

func (c *mapOfferCache) Get(_ context.Context, phase domain.Phase, examType string) (domain.Offer, error) {
	if c.getErr != nil {
		return domain.Offer{}, c.getErr
	}
	o, ok := c.offers[c.key(phase, examType)]
	if !ok {
		return domain.Offer{}, domain.ErrNotFound
	}
	return o, nil
}

func (c *mapOfferCache) Invalidate(_ context.Context, phase domain.Phase, examType string) error {
	delete(c.offers, c.key(phase, examType))
	return nil
}

func TestCachedOffer(t *testing.T) {
	src := newFakeSource()
	cache := &mapOfferCache{offers: map[string]domain.Offer{}}
	r := NewConfigResolver(src, cache, discardLogger())

	_, err := r.CachedOffer(t.Context(), domain.Phase1, "BASIC")
	require.NoError(t, err)
	_, err = r.CachedOffer(t.Context(), domain.Phase1, "basic")
	require.NoError(t, err)
	assert.Equal(t, 1, src.offerHits)

	r.Invalidate(t.Context(), domain.Phase1, "Basic")
	_, err = r.CachedOffer(t.Context(), domain.Phase1, "basic")
	require.NoError(t, err)
	assert.Equal(t, 2, src.offerHits)

	cache.getErr = errors.New("redis down")
	offer, err := r.CachedOffer(t.Context(), domain.Phase1, "basic")
	require.NoError(t, err, "cache failures never fail the call")
	assert.Equal(t, "basic", offer.ExamType)
	assert.Equal(t, 3, src.offerHits)
}

func TestProvisionGuard(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	g := NewProvisionGuard(time.Hour)
	g.now = func() time.Time { return now }

	ok, err := g.Claim(t.Context(), "0xABC")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = g.Claim(t.Context(), "0xabc")
	assert.False(t, ok, "hashes compare case-insensitively")

	now = now.Add(2 * time.Hour)
	g.Cleanup()
	assert.Empty(t, g.seen)

	ok, _ = g.Claim(t.Context(), "0xabc")
	assert.True(t, ok, "expired claims are granted again")
}
