package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/fundxeval/internal/domain"
)

// ConfigResolver turns an exam tier and phase selection into a payable
// Offer. It has no side effects beyond the optional offer cache.
type ConfigResolver struct {
	source domain.ConfigSource
	cache  domain.OfferCache
	logger *slog.Logger
}

// NewConfigResolver creates a ConfigResolver. cache may be nil.
func NewConfigResolver(source domain.ConfigSource, cache domain.OfferCache, logger *slog.Logger) *ConfigResolver {
	return &ConfigResolver{
		source: source,
		cache:  cache,
		logger: logger.With(slog.String("component", "config_resolver")),
	}
}

// ExamTypes lists the configured exam tiers.
func (r *ConfigResolver) ExamTypes(ctx context.Context) ([]domain.ExamType, error) {
	types, err := r.source.ExamTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/config_resolver: exam types: %w: %w", domain.ErrConfigUnavailable, err)
	}
	return types, nil
}

// Offer resolves phase and examType into an Offer. Unknown or inactive
// tiers, unknown phases and selections the config service rejects fail with
// domain.ErrInvalidSelection; anything else that prevents resolution fails
// with domain.ErrConfigUnavailable.
func (r *ConfigResolver) Offer(ctx context.Context, phase domain.Phase, examType string) (domain.Offer, error) {
	if !phase.Valid() {
		return domain.Offer{}, fmt.Errorf("service/config_resolver: %w: unknown phase %q", domain.ErrInvalidSelection, phase)
	}
	examType = strings.ToLower(strings.TrimSpace(examType))
	if examType == "" {
		return domain.Offer{}, fmt.Errorf("service/config_resolver: %w: exam type is required", domain.ErrInvalidSelection)
	}

	types, err := r.ExamTypes(ctx)
	if err != nil {
		return domain.Offer{}, err
	}
	entry, ok := findExamType(types, examType)
	if !ok {
		return domain.Offer{}, fmt.Errorf("service/config_resolver: %w: unknown exam type %q", domain.ErrInvalidSelection, examType)
	}
	if !entry.IsActive {
		return domain.Offer{}, fmt.Errorf("service/config_resolver: %w: exam type %q is not available", domain.ErrInvalidSelection, examType)
	}

	offer, err := r.source.CombinedConfig(ctx, phase, entry.Key)
	if err != nil {
		return domain.Offer{}, classifyConfigError(phase, examType, err)
	}

	offer = mergeExamType(offer, entry, phase)
	if !offer.Price.IsPositive() {
		return domain.Offer{}, fmt.Errorf("service/config_resolver: %w: %s/%s has no price", domain.ErrInvalidSelection, phase, examType)
	}
	return offer, nil
}

// CachedOffer serves Offer through the offer cache. Cache failures are
// logged and never fail the call.
func (r *ConfigResolver) CachedOffer(ctx context.Context, phase domain.Phase, examType string) (domain.Offer, error) {
	examType = strings.ToLower(strings.TrimSpace(examType))
	if r.cache != nil {
		offer, err := r.cache.Get(ctx, phase, examType)
		switch {
		case err == nil:
			return offer, nil
		case !errors.Is(err, domain.ErrNotFound):
			r.logger.WarnContext(ctx, "offer cache read failed",
				slog.String("phase", string(phase)),
				slog.String("exam_type", examType),
				slog.String("error", err.Error()),
			)
		}
	}

	offer, err := r.Offer(ctx, phase, examType)
	if err != nil {
		return domain.Offer{}, err
	}
	if r.cache != nil {
		if err := r.cache.Set(ctx, offer); err != nil {
			r.logger.WarnContext(ctx, "offer cache write failed", slog.String("error", err.Error()))
		}
	}
	return offer, nil
}

// Invalidate drops a cached selection.
func (r *ConfigResolver) Invalidate(ctx context.Context, phase domain.Phase, examType string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, phase, strings.ToLower(examType)); err != nil {
		r.logger.WarnContext(ctx, "offer cache invalidate failed", slog.String("error", err.Error()))
	}
}

func findExamType(types []domain.ExamType, examType string) (domain.ExamType, bool) {
	for _, t := range types {
		if strings.EqualFold(t.Key, examType) || strings.EqualFold(t.ExamType, examType) {
			return t, true
		}
	}
	return domain.ExamType{}, false
}

// mergeExamType fills the offer from its exam tier entry. An explicit type
// id from the tier list wins; otherwise the combined config's id, then the
// tier tag, then the default type.
func mergeExamType(offer domain.Offer, entry domain.ExamType, phase domain.Phase) domain.Offer {
	offer.Phase = phase
	offer.ExamType = strings.ToLower(entry.Key)

	switch {
	case entry.EvaluationTypeID != 0:
		offer.EvaluationTypeID = entry.EvaluationTypeID
	case offer.EvaluationTypeID != 0:
	default:
		id, err := domain.ParseEvaluationTypeID(entry.Key)
		if err != nil {
			id = domain.DefaultEvaluationTypeID
		}
		offer.EvaluationTypeID = id
	}

	if offer.Price.IsZero() {
		offer.Price = entry.ExamPrice
	}
	if offer.InitialBalance.IsZero() {
		offer.InitialBalance = entry.InitialBalance
	}
	if offer.Name == "" {
		offer.Name = entry.Name
	}
	if offer.Description == "" {
		offer.Description = entry.Description
	}
	if offer.Currency == "" {
		offer.Currency = entry.Currency
	}
	return offer
}

func classifyConfigError(phase domain.Phase, examType string, err error) error {
	if errors.Is(err, domain.ErrInvalidSelection) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrBadRequest) {
		return fmt.Errorf("service/config_resolver: %s/%s: %w: %w", phase, examType, domain.ErrInvalidSelection, err)
	}
	return fmt.Errorf("service/config_resolver: %s/%s: %w: %w", phase, examType, domain.ErrConfigUnavailable, err)
}
