package rating

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opensource-insurance/merlin/internal/domain"
)

// FactSource is the query contract the calculator consumes. Satisfied
// by the repository directly or by a caching decorator around it.
type FactSource interface {
	FactsFor(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, date time.Time) ([]*domain.RatingFact, error)
}

// AnomalyFunc is invoked when more than one fact covers a rating key on
// the policy date. The calculator resolves the ambiguity
// deterministically (lowest validFrom wins) and reports the condition
// here instead of logging itself.
type AnomalyFunc func(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, facts []*domain.RatingFact)

// CalculationError wraps an unexpected fact-source failure during
// premium calculation. It carries the insurance type being rated and
// the original cause; it is never retried internally.
type CalculationError struct {
	InsuranceType domain.InsuranceType
	Err           error
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("premium calculation failed for %s: %v", e.InsuranceType, e.Err)
}

func (e *CalculationError) Unwrap() error { return e.Err }

// NeutralMultiplier is applied when no fact covers a derived key.
// Missing data never blocks calculation; it degrades to no adjustment.
const NeutralMultiplier = 1.0

// Calculator computes premiums from the rating table.
type Calculator struct {
	facts        FactSource
	deriver      *Deriver
	basePremiums map[domain.InsuranceType]float64
	onAnomaly    AnomalyFunc
}

// NewCalculator creates a premium calculator. onAnomaly may be nil.
// Base premiums missing from cfg fall back to the reference defaults.
func NewCalculator(facts FactSource, deriver *Deriver, cfg domain.RatingConfig, onAnomaly AnomalyFunc) *Calculator {
	base := make(map[domain.InsuranceType]float64, len(domain.AllInsuranceTypes()))
	def := domain.DefaultRatingConfig().BasePremiums
	for _, t := range domain.AllInsuranceTypes() {
		if v, ok := cfg.BasePremiums[t]; ok && v > 0 {
			base[t] = v
		} else {
			base[t] = def[t]
		}
	}
	return &Calculator{
		facts:        facts,
		deriver:      deriver,
		basePremiums: base,
		onAnomaly:    onAnomaly,
	}
}

// CalculatePremium returns the final rounded premium for one
// (insuranceType, vehicle, policyDate) triple.
func (c *Calculator) CalculatePremium(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, vehicle *domain.Vehicle, policyDate time.Time) (float64, error) {
	breakdown, err := c.CalculatePremiumBreakdown(ctx, tenantID, insuranceType, vehicle, policyDate)
	if err != nil {
		return 0, err
	}
	return breakdown.FinalPremium, nil
}

// CalculatePremiumBreakdown returns the final premium together with the
// base premium and the ordered per-factor multipliers that produced it.
func (c *Calculator) CalculatePremiumBreakdown(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, vehicle *domain.Vehicle, policyDate time.Time) (*domain.PremiumBreakdown, error) {
	if err := checkArgs(insuranceType, vehicle, policyDate); err != nil {
		return nil, err
	}

	base := c.basePremiums[insuranceType]
	keys := c.deriver.Keys(insuranceType, vehicle, policyDate)

	breakdown := &domain.PremiumBreakdown{
		InsuranceType: insuranceType,
		BasePremium:   base,
		Factors:       make([]domain.RatingFactor, 0, len(keys)),
	}

	premium := base
	for _, k := range keys {
		multiplier, err := c.multiplierFor(ctx, tenantID, insuranceType, k.Key, policyDate)
		if err != nil {
			return nil, &CalculationError{InsuranceType: insuranceType, Err: err}
		}
		premium *= multiplier
		breakdown.Factors = append(breakdown.Factors, domain.RatingFactor{
			Category:   k.Category,
			RatingKey:  k.Key,
			Multiplier: multiplier,
		})
	}

	breakdown.FinalPremium = roundHalfUp(premium)
	return breakdown, nil
}

// multiplierFor resolves one rating key on the policy date. No covering
// fact yields the neutral multiplier; more than one is resolved to the
// fact with the lowest validFrom and reported through the anomaly hook.
func (c *Calculator) multiplierFor(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, policyDate time.Time) (float64, error) {
	facts, err := c.facts.FactsFor(ctx, tenantID, insuranceType, ratingKey, policyDate)
	if err != nil {
		return 0, fmt.Errorf("fact lookup for %s: %w", ratingKey, err)
	}

	switch len(facts) {
	case 0:
		return NeutralMultiplier, nil
	case 1:
		return facts[0].Multiplier, nil
	}

	sort.Slice(facts, func(i, j int) bool {
		if facts[i].ValidFrom.Equal(facts[j].ValidFrom) {
			return facts[i].ID < facts[j].ID
		}
		return facts[i].ValidFrom.Before(facts[j].ValidFrom)
	})
	if c.onAnomaly != nil {
		c.onAnomaly(ctx, tenantID, insuranceType, ratingKey, facts)
	}
	return facts[0].Multiplier, nil
}

func checkArgs(insuranceType domain.InsuranceType, vehicle *domain.Vehicle, policyDate time.Time) error {
	if insuranceType == "" {
		return fmt.Errorf("%w: insuranceType is required", domain.ErrInvalidArgument)
	}
	if !insuranceType.Valid() {
		return fmt.Errorf("%w: unknown insurance type %q", domain.ErrInvalidArgument, insuranceType)
	}
	if vehicle == nil {
		return fmt.Errorf("%w: vehicle is required", domain.ErrInvalidArgument)
	}
	if policyDate.IsZero() {
		return fmt.Errorf("%w: policyDate is required", domain.ErrInvalidArgument)
	}
	return nil
}

// roundHalfUp rounds to 2 decimal places, half away from zero.
// Premiums are non-negative, so this is round-half-up.
func roundHalfUp(x float64) float64 {
	return math.Floor(x*100+0.5) / 100
}
