// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-insurance/merlin/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveFact stores or updates a rating fact with tenant isolation.
func (r *SQLRepository) SaveFact(ctx context.Context, tenantID string, fact *domain.RatingFact) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidArgument)
	}

	enabled := 0
	if fact.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()
	createdAt := fact.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO rating_facts (
			id, tenant_id, insurance_type, rating_key, multiplier,
			valid_from, valid_to, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			insurance_type = excluded.insurance_type,
			rating_key = excluded.rating_key,
			multiplier = excluded.multiplier,
			valid_from = excluded.valid_from,
			valid_to = excluded.valid_to,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		fact.ID, tenantID, string(fact.InsuranceType), fact.RatingKey, fact.Multiplier,
		fact.ValidFrom, nullableTime(fact.ValidTo), enabled,
		createdAt, now,
	)
	return err
}

// GetFact retrieves a rating fact by ID with tenant isolation.
// Disabled facts remain retrievable by ID for audit purposes.
func (r *SQLRepository) GetFact(ctx context.Context, tenantID string, factID string) (*domain.RatingFact, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidArgument)
	}

	query := factSelectColumns + `
		FROM rating_facts
		WHERE tenant_id = ? AND id = ?
	`

	fact, err := scanFact(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, factID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fact, nil
}

// DeleteFact soft-deletes a rating fact by setting enabled = 0, so
// historical quotes keep a retrievable audit trail.
func (r *SQLRepository) DeleteFact(ctx context.Context, tenantID string, factID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidArgument)
	}

	query := `
		UPDATE rating_facts
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, factID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// FactsFor returns enabled facts of the given type and rating key whose
// validity window contains date, ordered by validity start then ID so
// callers resolve overlaps deterministically.
func (r *SQLRepository) FactsFor(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, date time.Time) ([]*domain.RatingFact, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidArgument)
	}

	query := factSelectColumns + `
		FROM rating_facts
		WHERE tenant_id = ?
		  AND insurance_type = ?
		  AND rating_key = ?
		  AND enabled = 1
		  AND valid_from <= ?
		  AND (valid_to IS NULL OR valid_to >= ?)
		ORDER BY valid_from, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query),
		tenantID, string(insuranceType), ratingKey, date, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectFacts(rows)
}

// FactsOverlapping returns enabled facts of the given type and rating
// key whose validity window intersects [from, to]. A nil to means the
// queried window is open-ended, which overlaps every fact that is
// still valid at or after from.
func (r *SQLRepository) FactsOverlapping(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, ratingKey string, from time.Time, to *time.Time) ([]*domain.RatingFact, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidArgument)
	}

	var rows *sql.Rows
	var err error

	if to == nil {
		query := factSelectColumns + `
			FROM rating_facts
			WHERE tenant_id = ?
			  AND insurance_type = ?
			  AND rating_key = ?
			  AND enabled = 1
			  AND (valid_to IS NULL OR valid_to >= ?)
			ORDER BY valid_from, id
		`
		rows, err = r.db.QueryContext(ctx, r.rebind(query),
			tenantID, string(insuranceType), ratingKey, from)
	} else {
		query := factSelectColumns + `
			FROM rating_facts
			WHERE tenant_id = ?
			  AND insurance_type = ?
			  AND rating_key = ?
			  AND enabled = 1
			  AND valid_from <= ?
			  AND (valid_to IS NULL OR valid_to >= ?)
			ORDER BY valid_from, id
		`
		rows, err = r.db.QueryContext(ctx, r.rebind(query),
			tenantID, string(insuranceType), ratingKey, *to, from)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectFacts(rows)
}

// AllCurrentlyValid lists the rating table applicable right now.
func (r *SQLRepository) AllCurrentlyValid(ctx context.Context, tenantID string, insuranceType domain.InsuranceType) ([]*domain.RatingFact, error) {
	return r.AllValidOnDate(ctx, tenantID, insuranceType, time.Now().UTC())
}

// AllValidOnDate lists the rating table applicable on a given date.
func (r *SQLRepository) AllValidOnDate(ctx context.Context, tenantID string, insuranceType domain.InsuranceType, date time.Time) ([]*domain.RatingFact, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidArgument)
	}

	query := factSelectColumns + `
		FROM rating_facts
		WHERE tenant_id = ?
		  AND insurance_type = ?
		  AND enabled = 1
		  AND valid_from <= ?
		  AND (valid_to IS NULL OR valid_to >= ?)
		ORDER BY rating_key, valid_from, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query),
		tenantID, string(insuranceType), date, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectFacts(rows)
}

// SaveQuote stores a quote with tenant isolation.
func (r *SQLRepository) SaveQuote(ctx context.Context, tenantID string, quote *domain.Quote) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidArgument)
	}

	vehicle, _ := json.Marshal(quote.Vehicle)
	breakdown, _ := json.Marshal(quote.Breakdown)
	warnings, _ := json.Marshal(quote.Warnings)
	reasons, _ := json.Marshal(quote.Reasons)

	query := `
		INSERT INTO quotes (
			id, tenant_id, insurance_type, vehicle, policy_date,
			status, breakdown, warnings, reasons, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		quote.ID, tenantID, string(quote.InsuranceType),
		string(vehicle), quote.PolicyDate,
		quote.Status, string(breakdown), string(warnings), string(reasons),
		quote.CreatedAt,
	)
	return err
}

// GetQuote retrieves a quote by ID with tenant isolation.
func (r *SQLRepository) GetQuote(ctx context.Context, tenantID string, quoteID string) (*domain.Quote, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidArgument)
	}

	query := `
		SELECT id, tenant_id, insurance_type, vehicle, policy_date,
			   status, breakdown, warnings, reasons, created_at
		FROM quotes
		WHERE tenant_id = ? AND id = ?
	`

	var q domain.Quote
	var insuranceType, vehicle, breakdown, warnings, reasons string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, quoteID).Scan(
		&q.ID, &q.TenantID, &insuranceType, &vehicle, &q.PolicyDate,
		&q.Status, &breakdown, &warnings, &reasons, &q.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	q.InsuranceType = domain.InsuranceType(insuranceType)
	if err := json.Unmarshal([]byte(vehicle), &q.Vehicle); err != nil {
		return nil, fmt.Errorf("failed to parse quote vehicle: %w", err)
	}
	if err := json.Unmarshal([]byte(breakdown), &q.Breakdown); err != nil {
		return nil, fmt.Errorf("failed to parse quote breakdown: %w", err)
	}
	json.Unmarshal([]byte(warnings), &q.Warnings)
	json.Unmarshal([]byte(reasons), &q.Reasons)

	return &q, nil
}

// SaveHeuristicRule stores or updates a heuristic rule with tenant
// isolation.
func (r *SQLRepository) SaveHeuristicRule(ctx context.Context, tenantID string, rule *domain.HeuristicRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidArgument)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO heuristic_rules (
			id, tenant_id, name, description, expression, message,
			severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			message = excluded.message,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Expression, rule.Message, rule.Severity, enabled,
		createdAt, now,
	)
	return err
}

// ListHeuristicRules retrieves all enabled heuristic rules for a tenant.
func (r *SQLRepository) ListHeuristicRules(ctx context.Context, tenantID string) ([]*domain.HeuristicRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidArgument)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, message,
			   severity, enabled, created_at, updated_at
		FROM heuristic_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.HeuristicRule
	for rows.Next() {
		var rule domain.HeuristicRule
		var description sql.NullString
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &description,
			&rule.Expression, &rule.Message, &rule.Severity, &enabled,
			&rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Description = description.String
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const factSelectColumns = `
	SELECT id, tenant_id, insurance_type, rating_key, multiplier,
		   valid_from, valid_to, enabled, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFact(row rowScanner) (*domain.RatingFact, error) {
	var fact domain.RatingFact
	var insuranceType string
	var validTo sql.NullTime
	var enabled int

	if err := row.Scan(
		&fact.ID, &fact.TenantID, &insuranceType, &fact.RatingKey, &fact.Multiplier,
		&fact.ValidFrom, &validTo, &enabled,
		&fact.CreatedAt, &fact.UpdatedAt,
	); err != nil {
		return nil, err
	}

	fact.InsuranceType = domain.InsuranceType(insuranceType)
	if validTo.Valid {
		t := validTo.Time
		fact.ValidTo = &t
	}
	fact.Enabled = enabled == 1

	return &fact, nil
}

func collectFacts(rows *sql.Rows) ([]*domain.RatingFact, error) {
	var facts []*domain.RatingFact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
