package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Rating fact operations
	SaveFact(ctx context.Context, tenantID string, fact *RatingFact) error
	GetFact(ctx context.Context, tenantID string, factID string) (*RatingFact, error)
	DeleteFact(ctx context.Context, tenantID string, factID string) error

	// FactsFor returns enabled facts of the given type and rating key
	// whose validity window contains date.
	FactsFor(ctx context.Context, tenantID string, insuranceType InsuranceType, ratingKey string, date time.Time) ([]*RatingFact, error)

	// FactsOverlapping returns enabled facts of the given type and
	// rating key whose validity window intersects [from, to].
	// A nil to means the queried window is open-ended.
	FactsOverlapping(ctx context.Context, tenantID string, insuranceType InsuranceType, ratingKey string, from time.Time, to *time.Time) ([]*RatingFact, error)

	// AllCurrentlyValid and AllValidOnDate list the applicable rating
	// table for reporting endpoints.
	AllCurrentlyValid(ctx context.Context, tenantID string, insuranceType InsuranceType) ([]*RatingFact, error)
	AllValidOnDate(ctx context.Context, tenantID string, insuranceType InsuranceType, date time.Time) ([]*RatingFact, error)

	// Quote operations
	SaveQuote(ctx context.Context, tenantID string, quote *Quote) error
	GetQuote(ctx context.Context, tenantID string, quoteID string) (*Quote, error)

	// Heuristic rule operations
	SaveHeuristicRule(ctx context.Context, tenantID string, rule *HeuristicRule) error
	ListHeuristicRules(ctx context.Context, tenantID string) ([]*HeuristicRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
