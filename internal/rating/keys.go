// Package rating implements rating-key derivation and premium
// calculation. The package is stateless and performs no I/O of its own
// beyond reads against the fact source its calculator is given.
package rating

import (
	"fmt"
	"time"

	"github.com/opensource-insurance/merlin/internal/domain"
)

// Factor categories, in the fixed presentation order of a breakdown.
const (
	CategoryVehicleAge     = "VEHICLE_AGE"
	CategoryEngineCapacity = "ENGINE_CAPACITY"
	CategoryPower          = "POWER"
)

// Engine capacity bucket keys.
const (
	KeyEngineSmall  = "ENGINE_SMALL"
	KeyEngineMedium = "ENGINE_MEDIUM"
	KeyEngineLarge  = "ENGINE_LARGE"
	KeyEngineXLarge = "ENGINE_XLARGE"
)

// Power bucket keys.
const (
	KeyPowerLow      = "POWER_LOW"
	KeyPowerMedium   = "POWER_MEDIUM"
	KeyPowerHigh     = "POWER_HIGH"
	KeyPowerVeryHigh = "POWER_VERY_HIGH"
)

// FactorKey pairs a factor category with the derived rating key.
type FactorKey struct {
	Category string
	Key      string
}

// Deriver maps vehicle attributes to canonical rating keys.
// Pure and stateless; callers ensure vehicle fields are present and
// non-negative before deriving.
type Deriver struct {
	cfg domain.RatingConfig
}

// NewDeriver creates a deriver with the given bucket boundaries.
// Zero-valued boundaries fall back to the reference defaults.
func NewDeriver(cfg domain.RatingConfig) *Deriver {
	def := domain.DefaultRatingConfig()
	if cfg.EngineMediumMinCC <= 0 {
		cfg.EngineMediumMinCC = def.EngineMediumMinCC
	}
	if cfg.EngineLargeMinCC <= 0 {
		cfg.EngineLargeMinCC = def.EngineLargeMinCC
	}
	if cfg.EngineXLargeMinCC <= 0 {
		cfg.EngineXLargeMinCC = def.EngineXLargeMinCC
	}
	if cfg.PowerMediumMinHP <= 0 {
		cfg.PowerMediumMinHP = def.PowerMediumMinHP
	}
	if cfg.PowerHighMinHP <= 0 {
		cfg.PowerHighMinHP = def.PowerHighMinHP
	}
	if cfg.PowerVeryHighMinHP <= 0 {
		cfg.PowerVeryHighMinHP = def.PowerVeryHighMinHP
	}
	if cfg.MaxVehicleAgeBucket <= 0 {
		cfg.MaxVehicleAgeBucket = def.MaxVehicleAgeBucket
	}
	return &Deriver{cfg: cfg}
}

// Keys returns the four rating keys for one (insuranceType, vehicle,
// policyDate) triple, in breakdown order: age, engine, power, coverage.
func (d *Deriver) Keys(insuranceType domain.InsuranceType, vehicle *domain.Vehicle, policyDate time.Time) []FactorKey {
	return []FactorKey{
		{Category: CategoryVehicleAge, Key: d.AgeKey(vehicle, policyDate)},
		{Category: CategoryEngineCapacity, Key: d.EngineKey(vehicle.EngineCapacity)},
		{Category: CategoryPower, Key: d.PowerKey(vehicle.Power)},
		{Category: CoverageCategory(insuranceType), Key: CoverageKey(insuranceType)},
	}
}

// AgeKey returns VEHICLE_AGE_{n} with n clamped to the bucket cap.
func (d *Deriver) AgeKey(vehicle *domain.Vehicle, policyDate time.Time) string {
	age := vehicle.AgeAt(policyDate)
	if age > d.cfg.MaxVehicleAgeBucket {
		age = d.cfg.MaxVehicleAgeBucket
	}
	return fmt.Sprintf("VEHICLE_AGE_%d", age)
}

// EngineKey buckets engine capacity (cc) into four bands.
func (d *Deriver) EngineKey(capacityCC int) string {
	switch {
	case capacityCC < d.cfg.EngineMediumMinCC:
		return KeyEngineSmall
	case capacityCC < d.cfg.EngineLargeMinCC:
		return KeyEngineMedium
	case capacityCC < d.cfg.EngineXLargeMinCC:
		return KeyEngineLarge
	default:
		return KeyEngineXLarge
	}
}

// PowerKey buckets horsepower into four bands.
func (d *Deriver) PowerKey(powerHP int) string {
	switch {
	case powerHP < d.cfg.PowerMediumMinHP:
		return KeyPowerLow
	case powerHP < d.cfg.PowerHighMinHP:
		return KeyPowerMedium
	case powerHP < d.cfg.PowerVeryHighMinHP:
		return KeyPowerHigh
	default:
		return KeyPowerVeryHigh
	}
}

// CoverageKey returns the fixed coverage rating key per insurance type.
func CoverageKey(insuranceType domain.InsuranceType) string {
	switch insuranceType {
	case domain.InsuranceTypeAC:
		return "AC_COMPREHENSIVE"
	case domain.InsuranceTypeNNW:
		return "NNW_STANDARD"
	default:
		return "OC_STANDARD"
	}
}

// CoverageCategory returns the breakdown label of the coverage factor,
// e.g. OC_COVERAGE.
func CoverageCategory(insuranceType domain.InsuranceType) string {
	return string(insuranceType) + "_COVERAGE"
}
