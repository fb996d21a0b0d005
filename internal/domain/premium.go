package domain

import "time"

// RatingFactor is one applied multiplier in a premium breakdown.
type RatingFactor struct {
	Category   string  `json:"category"`  // e.g. VEHICLE_AGE, ENGINE_CAPACITY
	RatingKey  string  `json:"ratingKey"` // e.g. VEHICLE_AGE_5
	Multiplier float64 `json:"multiplier"`
}

// PremiumBreakdown is the explainable decomposition of one calculated
// premium. Created fresh per calculation; never persisted on its own.
type PremiumBreakdown struct {
	InsuranceType InsuranceType  `json:"insuranceType"`
	BasePremium   float64        `json:"basePremium"`
	Factors       []RatingFactor `json:"factors"`
	FinalPremium  float64        `json:"finalPremium"`
}

// Quote status values.
const (
	QuoteStatusQuoted   = "QUOTED"
	QuoteStatusRejected = "REJECTED"
)

// Quote is a persisted premium calculation result, including the
// vehicle snapshot it was computed from.
type Quote struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenantId"`
	InsuranceType InsuranceType `json:"insuranceType"`
	Vehicle       Vehicle       `json:"vehicle"`
	PolicyDate    time.Time     `json:"policyDate"`

	Status    string           `json:"status"` // QUOTED or REJECTED
	Breakdown PremiumBreakdown `json:"breakdown"`

	// Warnings from pre-flight validation; rejection reasons when
	// Status is REJECTED.
	Warnings []string `json:"warnings,omitempty"`
	Reasons  []string `json:"reasons,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}
