package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-insurance/merlin/internal/domain"
)

type countingQuerier struct {
	facts       []*domain.RatingFact
	forCalls    int
	overlapCall int
}

func (q *countingQuerier) FactsFor(_ context.Context, _ string, _ domain.InsuranceType, _ string, _ time.Time) ([]*domain.RatingFact, error) {
	q.forCalls++
	return q.facts, nil
}

func (q *countingQuerier) FactsOverlapping(_ context.Context, _ string, _ domain.InsuranceType, _ string, _ time.Time, _ *time.Time) ([]*domain.RatingFact, error) {
	q.overlapCall++
	return q.facts, nil
}

func TestFactReaderReadThrough(t *testing.T) {
	ctx := context.Background()
	querier := &countingQuerier{
		facts: []*domain.RatingFact{
			{
				ID:            "fact-001",
				InsuranceType: domain.InsuranceTypeOC,
				RatingKey:     "POWER_MEDIUM",
				Multiplier:    1.05,
				ValidFrom:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				Enabled:       true,
			},
		},
	}
	reader := NewFactReader(querier, NewLRUCache(100), time.Minute)

	date := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	first, err := reader.FactsFor(ctx, "tenant-001", domain.InsuranceTypeOC, "POWER_MEDIUM", date)
	if err != nil {
		t.Fatalf("FactsFor failed: %v", err)
	}
	if len(first) != 1 || first[0].Multiplier != 1.05 {
		t.Fatalf("unexpected first result: %v", first)
	}

	second, err := reader.FactsFor(ctx, "tenant-001", domain.InsuranceTypeOC, "POWER_MEDIUM", date)
	if err != nil {
		t.Fatalf("FactsFor failed: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("unexpected second result: %v", second)
	}

	if querier.forCalls != 1 {
		t.Errorf("expected 1 repository lookup, got %d", querier.forCalls)
	}
}

func TestFactReaderCachesEmptyResults(t *testing.T) {
	ctx := context.Background()
	querier := &countingQuerier{}
	reader := NewFactReader(querier, NewLRUCache(100), time.Minute)

	date := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		facts, err := reader.FactsFor(ctx, "tenant-001", domain.InsuranceTypeNNW, "ENGINE_SMALL", date)
		if err != nil {
			t.Fatalf("FactsFor failed: %v", err)
		}
		if len(facts) != 0 {
			t.Fatalf("expected empty result, got %v", facts)
		}
	}

	if querier.forCalls != 1 {
		t.Errorf("expected 1 repository lookup for repeated empty result, got %d", querier.forCalls)
	}
}

func TestFactReaderInvalidate(t *testing.T) {
	ctx := context.Background()
	querier := &countingQuerier{}
	reader := NewFactReader(querier, NewLRUCache(100), time.Minute)

	date := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	_, _ = reader.FactsFor(ctx, "tenant-001", domain.InsuranceTypeOC, "ENGINE_LARGE", date)
	if err := reader.Invalidate(ctx, "tenant-001", domain.InsuranceTypeOC, "ENGINE_LARGE", date); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	_, _ = reader.FactsFor(ctx, "tenant-001", domain.InsuranceTypeOC, "ENGINE_LARGE", date)

	if querier.forCalls != 2 {
		t.Errorf("expected repository hit after invalidation, got %d lookups", querier.forCalls)
	}
}

func TestFactReaderOverlapBypassesCache(t *testing.T) {
	ctx := context.Background()
	querier := &countingQuerier{}
	reader := NewFactReader(querier, NewLRUCache(100), time.Minute)

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if _, err := reader.FactsOverlapping(ctx, "tenant-001", domain.InsuranceTypeOC, "POWER_HIGH", from, nil); err != nil {
			t.Fatalf("FactsOverlapping failed: %v", err)
		}
	}

	if querier.overlapCall != 2 {
		t.Errorf("expected overlap queries to bypass cache, got %d calls", querier.overlapCall)
	}
}
