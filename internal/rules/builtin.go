package rules

import "github.com/opensource-insurance/merlin/internal/domain"

// BuiltinHeuristics returns the standard plausibility checks loaded at
// startup. Tenants can add their own via the API; these defaults cover
// the combinations underwriting has historically asked about.
func BuiltinHeuristics() []*domain.HeuristicRule {
	return []*domain.HeuristicRule{
		{
			ID:         "underpowered-large-engine",
			Name:       "Underpowered large engine",
			Expression: "engine_capacity >= 3000 && power < 100",
			Message:    "Unusual combination: engine capacity of 3000cc or more with power below 100hp",
			Severity:   domain.HeuristicSeverityWarning,
			Enabled:    true,
		},
		{
			ID:         "policy-date-far-future",
			Name:       "Policy date far in the future",
			Expression: "policy_offset_days > 365",
			Message:    "Policy date is more than a year in the future",
			Severity:   domain.HeuristicSeverityWarning,
			Enabled:    true,
		},
		{
			ID:         "policy-date-stale",
			Name:       "Policy date in the distant past",
			Expression: "policy_offset_days < -730",
			Message:    "Policy date is more than two years in the past",
			Severity:   domain.HeuristicSeverityWarning,
			Enabled:    true,
		},
		{
			ID:         "very-old-vehicle",
			Name:       "Very old vehicle",
			Expression: "vehicle_age > 40",
			Message:    "Vehicle is more than 40 years old",
			Severity:   domain.HeuristicSeverityWarning,
			Enabled:    true,
		},
	}
}
