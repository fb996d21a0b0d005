package domain

import "time"

// Heuristic severities. Heuristics currently only warn; the schema
// keeps severity explicit so stricter rules can be added without a
// migration.
const (
	HeuristicSeverityWarning = "warning"
	HeuristicSeverityError   = "error"
)

// HeuristicRule is a configurable vehicle/policy plausibility check.
// The expression is CEL over derived variables (vehicle_age,
// engine_capacity, power, policy_offset_days, ...); when it evaluates
// to true the rule's message becomes a validation finding.
type HeuristicRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Expression is the CEL predicate to evaluate.
	Expression string `json:"expression"`

	// Message is the finding text emitted when the predicate holds.
	Message string `json:"message"`

	Severity  string    `json:"severity"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
