package domain

import "time"

// Vehicle holds the attributes a premium is rated on.
// The core reads these fields only; ownership of the vehicle record
// belongs to the policy layer.
type Vehicle struct {
	Make                  string    `json:"make"`
	Model                 string    `json:"model"`
	YearOfManufacture     int       `json:"yearOfManufacture"`
	FirstRegistrationDate time.Time `json:"firstRegistrationDate"`
	EngineCapacity        int       `json:"engineCapacity"` // cc
	Power                 int       `json:"power"`          // hp
}

// AgeAt returns the vehicle's age in whole years at the given date,
// counted from the first registration date. Never negative; note this
// is the uncapped age, bucket capping happens in key derivation.
func (v *Vehicle) AgeAt(d time.Time) int {
	years := d.Year() - v.FirstRegistrationDate.Year()
	anniversary := v.FirstRegistrationDate.AddDate(years, 0, 0)
	if anniversary.After(d) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
