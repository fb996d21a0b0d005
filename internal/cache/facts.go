package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-insurance/merlin/internal/domain"
)

// FactQuerier is the slice of the repository the fact cache fronts.
type FactQuerier interface {
	FactsFor(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, date time.Time) ([]*domain.RatingFact, error)
	FactsOverlapping(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, from time.Time, to *time.Time) ([]*domain.RatingFact, error)
}

// FactReader is a read-through cache in front of the repository's
// rating-fact lookups. Quote calculation repeats the same small set of
// lookups constantly while the rating table changes rarely, so results
// are served from cache for a bounded TTL.
//
// Overlap queries are administrative and always go to the repository.
type FactReader struct {
	repo  FactQuerier
	cache domain.Cache
	ttl   time.Duration
}

// NewFactReader wraps repo with a fact-lookup cache.
func NewFactReader(repo FactQuerier, cache domain.Cache, ttl time.Duration) *FactReader {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &FactReader{
		repo:  repo,
		cache: cache,
		ttl:   ttl,
	}
}

// FactsFor returns enabled facts covering date, from cache when
// possible. Empty results are cached too. Cache failures fall through
// to the repository; the lookup never fails because the cache did.
func (f *FactReader) FactsFor(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, date time.Time) ([]*domain.RatingFact, error) {
	key := factKey(insuranceType, ratingKey, date)

	cached, err := f.cache.GetFacts(ctx, tenantID, key)
	if err == nil && cached != nil {
		return cached, nil
	}

	facts, err := f.repo.FactsFor(ctx, tenantID, insuranceType, ratingKey, date)
	if err != nil {
		return nil, err
	}

	_ = f.cache.SetFacts(ctx, tenantID, key, facts, f.ttl)
	return facts, nil
}

// FactsOverlapping passes through to the repository. Overlap checks
// run against the current table state when facts are being edited, so
// stale reads are not acceptable here.
func (f *FactReader) FactsOverlapping(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, from time.Time, to *time.Time) ([]*domain.RatingFact, error) {
	return f.repo.FactsOverlapping(ctx, tenantID, insuranceType, ratingKey, from, to)
}

// Invalidate drops the cached lookup for one rating key and date. Used
// after fact writes; TTL expiry covers everything else.
func (f *FactReader) Invalidate(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, date time.Time) error {
	return f.cache.Delete(ctx, tenantID, "facts:"+factKey(insuranceType, ratingKey, date))
}

func factKey(insuranceType domain.InsuranceType, ratingKey string, date time.Time) string {
	return fmt.Sprintf("%s:%s:%s", insuranceType, ratingKey, date.Format("2006-01-02"))
}
