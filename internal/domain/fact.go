// Package domain defines the core interfaces and types for Merlin.
package domain

import (
	"time"
)

// InsuranceType identifies one of the supported coverage products.
type InsuranceType string

const (
	// InsuranceTypeOC is mandatory third-party liability coverage.
	InsuranceTypeOC InsuranceType = "OC"

	// InsuranceTypeAC is comprehensive own-damage coverage.
	InsuranceTypeAC InsuranceType = "AC"

	// InsuranceTypeNNW is personal accident coverage.
	InsuranceTypeNNW InsuranceType = "NNW"
)

// AllInsuranceTypes returns the closed set of supported types.
func AllInsuranceTypes() []InsuranceType {
	return []InsuranceType{InsuranceTypeOC, InsuranceTypeAC, InsuranceTypeNNW}
}

// Valid reports whether t is one of the supported insurance types.
func (t InsuranceType) Valid() bool {
	switch t {
	case InsuranceTypeOC, InsuranceTypeAC, InsuranceTypeNNW:
		return true
	}
	return false
}

// RatingFact is a time-bounded multiplier for one rating key.
// Multiple facts may exist for the same (insuranceType, ratingKey);
// overlapping validity windows are surfaced by the validator, not
// rejected by storage.
type RatingFact struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenantId"`
	InsuranceType InsuranceType `json:"insuranceType"`

	// RatingKey is the canonical bucket identifier,
	// e.g. VEHICLE_AGE_5, ENGINE_MEDIUM, POWER_HIGH, OC_STANDARD.
	RatingKey string `json:"ratingKey"`

	// Multiplier scales the base premium. Stored with 4 fractional
	// digits of precision.
	Multiplier float64 `json:"multiplier"`

	// ValidFrom is inclusive. ValidTo is inclusive and optional;
	// nil means the fact is open-ended.
	ValidFrom time.Time  `json:"validFrom"`
	ValidTo   *time.Time `json:"validTo,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CoversDate reports whether the fact's validity window contains d.
// Both window ends are inclusive.
func (f *RatingFact) CoversDate(d time.Time) bool {
	if d.Before(f.ValidFrom) {
		return false
	}
	if f.ValidTo != nil && d.After(*f.ValidTo) {
		return false
	}
	return true
}

// OverlapsWindow reports whether the fact's validity window intersects
// [from, to]. A nil to means the queried window is open-ended.
func (f *RatingFact) OverlapsWindow(from time.Time, to *time.Time) bool {
	if to != nil && f.ValidFrom.After(*to) {
		return false
	}
	if f.ValidTo != nil && f.ValidTo.Before(from) {
		return false
	}
	return true
}
