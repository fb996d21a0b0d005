package domain

import "time"

// Config holds the complete Merlin configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure choices
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Business configuration
	Rating     RatingConfig     `json:"rating"`
	Validation ValidationConfig `json:"validation"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// RatingConfig holds the business parameters of premium calculation.
// The bucket boundaries are configuration, not hard-coded business law,
// but must stay stable within one rating-table generation.
type RatingConfig struct {
	// BasePremiums maps each insurance type to its base premium.
	BasePremiums map[InsuranceType]float64 `json:"basePremiums"`

	// Engine capacity band lower bounds (cc). Capacity below
	// EngineMediumMinCC is ENGINE_SMALL.
	EngineMediumMinCC int `json:"engineMediumMinCc"`
	EngineLargeMinCC  int `json:"engineLargeMinCc"`
	EngineXLargeMinCC int `json:"engineXlargeMinCc"`

	// Power band lower bounds (hp). Power below PowerMediumMinHP is
	// POWER_LOW.
	PowerMediumMinHP   int `json:"powerMediumMinHp"`
	PowerHighMinHP     int `json:"powerHighMinHp"`
	PowerVeryHighMinHP int `json:"powerVeryHighMinHp"`

	// MaxVehicleAgeBucket caps the age bucket; older vehicles reuse
	// the cap bucket's key.
	MaxVehicleAgeBucket int `json:"maxVehicleAgeBucket"`
}

// ValidationConfig holds the thresholds of the rating validator.
type ValidationConfig struct {
	// Multiplier bounds: below MinMultiplier is an error, above
	// SuspiciousMultiplier a warning, above MaxMultiplier an error.
	MinMultiplier        float64 `json:"minMultiplier"`
	SuspiciousMultiplier float64 `json:"suspiciousMultiplier"`
	MaxMultiplier        float64 `json:"maxMultiplier"`

	// Plausibility ceilings for vehicle attributes.
	MaxEngineCapacityCC int `json:"maxEngineCapacityCc"`
	MaxPowerHP          int `json:"maxPowerHp"`

	// ACMaxVehicleAgeYears is the uncapped age above which AC coverage
	// is not available.
	ACMaxVehicleAgeYears int `json:"acMaxVehicleAgeYears"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultRatingConfig returns the reference rating parameters.
func DefaultRatingConfig() RatingConfig {
	return RatingConfig{
		BasePremiums: map[InsuranceType]float64{
			InsuranceTypeOC:  800.00,
			InsuranceTypeAC:  1200.00,
			InsuranceTypeNNW: 300.00,
		},
		EngineMediumMinCC:   1000,
		EngineLargeMinCC:    1600,
		EngineXLargeMinCC:   2000,
		PowerMediumMinHP:    75,
		PowerHighMinHP:      120,
		PowerVeryHighMinHP:  180,
		MaxVehicleAgeBucket: 10,
	}
}

// DefaultValidationConfig returns the reference validation thresholds.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MinMultiplier:        0.1,
		SuspiciousMultiplier: 5.0,
		MaxMultiplier:        10.0,
		MaxEngineCapacityCC:  8000,
		MaxPowerHP:           1500,
		ACMaxVehicleAgeYears: 15,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./merlin.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			FactTTL:      time.Minute, // bounds rating-table staleness
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Rating:     DefaultRatingConfig(),
		Validation: DefaultValidationConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "merlin",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "merlin",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		FactTTL:        time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
