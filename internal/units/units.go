// Package units provides shared constants and validation for the length
// and speed units a recording may be expressed in.
package units

import (
	"fmt"
	"strings"
)

// Length unit constants
const (
	MM = "mm"
	CM = "cm"
	M  = "m"
)

// Speed unit constants
const (
	MPS  = "mps"
	KMPH = "kmph"
)

// ValidLengthUnits contains all valid length unit values
var ValidLengthUnits = []string{MM, CM, M}

// ValidSpeedUnits contains all valid speed unit values
var ValidSpeedUnits = []string{MPS, KMPH}

// IsValidLength checks if the given unit is a known length unit
func IsValidLength(unit string) bool {
	for _, u := range ValidLengthUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// IsValidSpeed checks if the given unit is a known speed unit
func IsValidSpeed(unit string) bool {
	for _, u := range ValidSpeedUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// GetValidLengthUnitsString returns a comma-separated list for error messages
func GetValidLengthUnitsString() string {
	return strings.Join(ValidLengthUnits, ", ")
}

// GetValidSpeedUnitsString returns a comma-separated list for error messages
func GetValidSpeedUnitsString() string {
	return strings.Join(ValidSpeedUnits, ", ")
}

// ScaleDivisor returns the number raw values are divided by to obtain metres.
func ScaleDivisor(unit string) (float64, error) {
	switch unit {
	case MM:
		return 1000, nil
	case CM:
		return 100, nil
	case M:
		return 1, nil
	default:
		return 0, fmt.Errorf("unknown length unit %q (valid: %s)", unit, GetValidLengthUnitsString())
	}
}

// ConvertSpeed converts a speed from metres per second to the target units.
// Unknown units fall back to m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case KMPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}
