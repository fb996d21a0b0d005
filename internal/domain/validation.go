package domain

// ValidationResult collects findings from one validation call.
// Any error makes the result invalid; warnings never do. Findings are
// data, not failures: a validation call that produced errors still
// returns a nil Go error.
type ValidationResult struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// AddError appends a blocking finding.
func (r *ValidationResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// AddWarning appends a non-blocking finding.
func (r *ValidationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// IsValid reports whether no errors were recorded.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}
