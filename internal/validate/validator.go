// Package validate implements rating-table and eligibility validation.
// Findings are returned as data; the only Go errors raised are invalid
// arguments and fact-store failures.
package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-insurance/merlin/internal/domain"
	"github.com/opensource-insurance/merlin/internal/rating"
	"github.com/opensource-insurance/merlin/internal/rules"
)

// FactSource is the query contract the validator consumes.
type FactSource interface {
	FactsFor(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, date time.Time) ([]*domain.RatingFact, error)
	FactsOverlapping(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, from time.Time, to *time.Time) ([]*domain.RatingFact, error)
}

// missingFactorPrefix marks data-completeness errors so projections can
// distinguish them from eligibility errors.
const missingFactorPrefix = "Missing rating factor: "

// Validator checks rating-table records and vehicle/policy eligibility.
type Validator struct {
	facts      FactSource
	deriver    *rating.Deriver
	heuristics *rules.Engine
	cfg        domain.ValidationConfig
}

// NewValidator creates a validator. heuristics may be nil, in which
// case no heuristic warnings are produced. Zero-valued thresholds fall
// back to the reference defaults.
func NewValidator(facts FactSource, deriver *rating.Deriver, heuristics *rules.Engine, cfg domain.ValidationConfig) *Validator {
	def := domain.DefaultValidationConfig()
	if cfg.MinMultiplier <= 0 {
		cfg.MinMultiplier = def.MinMultiplier
	}
	if cfg.SuspiciousMultiplier <= 0 {
		cfg.SuspiciousMultiplier = def.SuspiciousMultiplier
	}
	if cfg.MaxMultiplier <= 0 {
		cfg.MaxMultiplier = def.MaxMultiplier
	}
	if cfg.MaxEngineCapacityCC <= 0 {
		cfg.MaxEngineCapacityCC = def.MaxEngineCapacityCC
	}
	if cfg.MaxPowerHP <= 0 {
		cfg.MaxPowerHP = def.MaxPowerHP
	}
	if cfg.ACMaxVehicleAgeYears <= 0 {
		cfg.ACMaxVehicleAgeYears = def.ACMaxVehicleAgeYears
	}
	return &Validator{
		facts:      facts,
		deriver:    deriver,
		heuristics: heuristics,
		cfg:        cfg,
	}
}

// ValidateRatingFactors is the pre-flight check before a premium is
// requested. Errors block calculation workflows; warnings never do.
// Note the asymmetry with the calculator: a key with no covering fact
// is an error here even though calculation tolerates it with the
// neutral multiplier.
func (v *Validator) ValidateRatingFactors(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, vehicle *domain.Vehicle, policyDate time.Time) (*domain.ValidationResult, error) {
	if err := checkFactorArgs(insuranceType, vehicle, policyDate); err != nil {
		return nil, err
	}

	result := &domain.ValidationResult{}

	// Structural plausibility.
	if vehicle.EngineCapacity > v.cfg.MaxEngineCapacityCC {
		result.AddError(fmt.Sprintf("Engine capacity %dcc exceeds plausible maximum of %dcc", vehicle.EngineCapacity, v.cfg.MaxEngineCapacityCC))
	}
	if vehicle.Power > v.cfg.MaxPowerHP {
		result.AddError(fmt.Sprintf("Power %dhp exceeds plausible maximum of %dhp", vehicle.Power, v.cfg.MaxPowerHP))
	}
	if vehicle.FirstRegistrationDate.After(time.Now()) {
		result.AddError("First registration date is in the future")
	}

	// Business eligibility: the AC age cut-off uses the uncapped age.
	if insuranceType == domain.InsuranceTypeAC {
		if age := vehicle.AgeAt(policyDate); age > v.cfg.ACMaxVehicleAgeYears {
			result.AddError(fmt.Sprintf("AC insurance is not available for vehicles older than %d years (vehicle age: %d)", v.cfg.ACMaxVehicleAgeYears, age))
		}
	}

	// Data completeness.
	missing, err := v.MissingRatingFactors(ctx, tenantID, insuranceType, vehicle, policyDate)
	if err != nil {
		return nil, err
	}
	for _, key := range missing {
		result.AddError(missingFactorPrefix + key)
	}

	if v.heuristics != nil {
		for _, f := range v.heuristics.Evaluate(vehicle, policyDate) {
			if f.Severity == domain.HeuristicSeverityError {
				result.AddError(f.Message)
			} else {
				result.AddWarning(f.Message)
			}
		}
	}

	return result, nil
}

// ValidateRatingTable is the administrative check before a new or
// edited rating fact is stored.
func (v *Validator) ValidateRatingTable(ctx context.Context, tenantID string, fact *domain.RatingFact) (*domain.ValidationResult, error) {
	if fact == nil {
		return nil, fmt.Errorf("%w: fact is required", domain.ErrInvalidArgument)
	}
	if !fact.InsuranceType.Valid() {
		return nil, fmt.Errorf("%w: unknown insurance type %q", domain.ErrInvalidArgument, fact.InsuranceType)
	}
	if fact.RatingKey == "" {
		return nil, fmt.Errorf("%w: ratingKey is required", domain.ErrInvalidArgument)
	}
	if fact.ValidFrom.IsZero() {
		return nil, fmt.Errorf("%w: validFrom is required", domain.ErrInvalidArgument)
	}

	result := &domain.ValidationResult{}

	// Multiplier bounds.
	switch {
	case fact.Multiplier < v.cfg.MinMultiplier:
		result.AddError(fmt.Sprintf("Multiplier %.4f is below minimum %.2f", fact.Multiplier, v.cfg.MinMultiplier))
	case fact.Multiplier > v.cfg.MaxMultiplier:
		result.AddError(fmt.Sprintf("Multiplier %.4f exceeds absolute maximum %.2f", fact.Multiplier, v.cfg.MaxMultiplier))
	case fact.Multiplier > v.cfg.SuspiciousMultiplier:
		result.AddWarning(fmt.Sprintf("Multiplier %.4f is unusually high (above %.2f)", fact.Multiplier, v.cfg.SuspiciousMultiplier))
	}

	// Date-range sanity.
	if fact.ValidTo != nil && !fact.ValidFrom.Before(*fact.ValidTo) {
		result.AddError("validFrom must be before validTo")
	}

	// Overlap detection. Overlaps may be intentional transitional data,
	// so they are surfaced as warnings, never errors.
	overlapping, err := v.facts.FactsOverlapping(ctx, tenantID, fact.InsuranceType, fact.RatingKey, fact.ValidFrom, fact.ValidTo)
	if err != nil {
		return nil, fmt.Errorf("overlap query for %s: %w", fact.RatingKey, err)
	}
	for _, other := range overlapping {
		if other.ID == fact.ID {
			continue
		}
		result.AddWarning(fmt.Sprintf("Validity window overlaps existing fact %s (valid from %s)", other.ID, other.ValidFrom.Format("2006-01-02")))
	}

	v.checkNamingConvention(fact, result)

	return result, nil
}

// CanCalculatePremium reports whether every derived rating key has a
// covering fact on the policy date.
func (v *Validator) CanCalculatePremium(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, vehicle *domain.Vehicle, policyDate time.Time) (bool, error) {
	missing, err := v.MissingRatingFactors(ctx, tenantID, insuranceType, vehicle, policyDate)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

// MissingRatingFactors returns the derived rating keys with no covering
// fact on the policy date.
func (v *Validator) MissingRatingFactors(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, vehicle *domain.Vehicle, policyDate time.Time) ([]string, error) {
	if err := checkFactorArgs(insuranceType, vehicle, policyDate); err != nil {
		return nil, err
	}

	var missing []string
	for _, k := range v.deriver.Keys(insuranceType, vehicle, policyDate) {
		facts, err := v.facts.FactsFor(ctx, tenantID, insuranceType, k.Key, policyDate)
		if err != nil {
			return nil, fmt.Errorf("fact lookup for %s: %w", k.Key, err)
		}
		if len(facts) == 0 {
			missing = append(missing, k.Key)
		}
	}
	return missing, nil
}

// checkNamingConvention warns when a rating key does not belong to a
// recognized key family, or belongs to another insurance type's
// coverage family.
func (v *Validator) checkNamingConvention(fact *domain.RatingFact, result *domain.ValidationResult) {
	key := fact.RatingKey

	for _, t := range domain.AllInsuranceTypes() {
		if key == rating.CoverageKey(t) {
			if t != fact.InsuranceType {
				result.AddWarning(fmt.Sprintf("Rating key %s belongs to the %s coverage family but the fact is stored under %s", key, t, fact.InsuranceType))
			}
			return
		}
	}

	switch {
	case strings.HasPrefix(key, "VEHICLE_AGE_"):
		return
	case strings.HasPrefix(key, "ENGINE_"):
		return
	case strings.HasPrefix(key, "POWER_"):
		return
	}

	result.AddWarning(fmt.Sprintf("Rating key %s does not follow standard naming", key))
}

func checkFactorArgs(insuranceType domain.InsuranceType, vehicle *domain.Vehicle, policyDate time.Time) error {
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

// IsMissingFactorError reports whether a validation error string is a
// data-completeness finding rather than an eligibility finding.
func IsMissingFactorError(msg string) bool {
	return strings.HasPrefix(msg, missingFactorPrefix)
}
