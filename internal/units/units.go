// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

// Package units converts provider-native units into the canonical unit of
// each field. All functions are pure.
//
// Declared units are parsed case-insensitively with common aliases. An empty
// or unrecognized unit falls back to a magnitude heuristic per field
// dimension (see Guess). The heuristic is best effort: values close to a
// threshold can be misclassified and there is no way to detect that.
package units

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/tomtom215/healthbridge/internal/models"
)

// Unit is a parsed unit of measure.
type Unit string

const (
	Unknown     Unit = ""
	Kilogram    Unit = "kg"
	Pound       Unit = "lb"
	Gram        Unit = "g"
	Milligram   Unit = "mg"
	Milliliter  Unit = "ml"
	Liter       Unit = "l"
	FluidOunce  Unit = "floz"
	Cup         Unit = "cup"
	Percent     Unit = "percent"
	Count       Unit = "count"
	Second      Unit = "s"
	Minute      Unit = "min"
	Hour        Unit = "h"
	Meter       Unit = "m"
	Kilometer   Unit = "km"
	Mile        Unit = "mi"
	Kilocalorie Unit = "kcal"
	Kilojoule   Unit = "kj"
)

// Conversion factors to the base unit of each dimension.
const (
	gramsPerPound       = 453.59237
	millilitersPerOunce = 29.5735295625
	millilitersPerCup   = 236.5882365
	metersPerMile       = 1609.344
	kilojoulesPerKcal   = 4.184
)

// Heuristic thresholds for unknown units.
const (
	// VolumeOunceCeiling is the largest value read as US fluid ounces.
	VolumeOunceCeiling = 128.0
	// BodyMassGramFloor is the smallest value read as grams.
	BodyMassGramFloor = 1000.0
	// DurationMinuteCeiling is the largest value read as minutes (one day).
	DurationMinuteCeiling = 1440.0
)

var (
	// ErrIncompatibleUnit is returned when a unit cannot describe the field.
	ErrIncompatibleUnit = errors.New("unit incompatible with field")

	// ErrInvalidValue is returned for NaN or infinite values.
	ErrInvalidValue = errors.New("invalid numeric value")

	// ErrShortPayload is returned when a packed field lies past the payload end.
	ErrShortPayload = errors.New("payload too short")
)

var aliases = map[string]Unit{
	"kg": Kilogram, "kgs": Kilogram, "kilogram": Kilogram, "kilograms": Kilogram, "metric": Kilogram,
	"lb": Pound, "lbs": Pound, "pound": Pound, "pounds": Pound, "en_us": Pound,
	"g": Gram, "gram": Gram, "grams": Gram, "gr": Gram,
	"mg": Milligram, "milligram": Milligram, "milligrams": Milligram,
	"ml": Milliliter, "milliliter": Milliliter, "milliliters": Milliliter, "millilitre": Milliliter,
	"l": Liter, "liter": Liter, "liters": Liter, "litre": Liter,
	"oz": FluidOunce, "floz": FluidOunce, "fl oz": FluidOunce, "fl_oz": FluidOunce, "fluid ounce": FluidOunce,
	"cup": Cup, "cups": Cup,
	"%": Percent, "percent": Percent, "pct": Percent,
	"count": Count, "steps": Count, "bpm": Count, "ms": Count,
	"s": Second, "sec": Second, "secs": Second, "second": Second, "seconds": Second,
	"min": Minute, "mins": Minute, "minute": Minute, "minutes": Minute,
	"h": Hour, "hr": Hour, "hrs": Hour, "hour": Hour, "hours": Hour,
	"m": Meter, "meter": Meter, "meters": Meter, "metre": Meter,
	"km": Kilometer, "kilometer": Kilometer, "kilometers": Kilometer,
	"mi": Mile, "mile": Mile, "miles": Mile,
	"kcal": Kilocalorie, "cal": Kilocalorie, "calories": Kilocalorie,
	"kj": Kilojoule, "kilojoule": Kilojoule, "kilojoules": Kilojoule,
}

// Parse resolves a provider unit string. Unrecognized strings return Unknown.
func Parse(s string) Unit {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return Unknown
	}
	if u, ok := aliases[key]; ok {
		return u
	}
	return Unknown
}

// Normalize converts value from unit into the canonical unit of field.
// An Unknown unit is resolved with Guess first.
func Normalize(value float64, unit Unit, field models.Field) (float64, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, ErrInvalidValue
	}
	dim := field.Spec().Dimension
	if unit == Unknown {
		unit = Guess(value, dim)
		if unit == Unknown {
			return value, nil
		}
	}

	switch dim {
	case models.DimensionBodyMass:
		g, err := toGrams(value, unit)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", field, err)
		}
		return g / 1000, nil
	case models.DimensionNutrientMass:
		g, err := toGrams(value, unit)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", field, err)
		}
		return g, nil
	case models.DimensionSodiumMass:
		g, err := toGrams(value, unit)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", field, err)
		}
		return g * 1000, nil
	case models.DimensionVolume:
		return toMilliliters(value, unit, field)
	case models.DimensionDuration:
		return toMinutes(value, unit, field)
	case models.DimensionDistance:
		return toKilometers(value, unit, field)
	case models.DimensionEnergy:
		switch unit {
		case Kilocalorie, Count:
			return value, nil
		case Kilojoule:
			return value / kilojoulesPerKcal, nil
		}
	case models.DimensionPercent:
		if unit == Percent || unit == Count {
			return value, nil
		}
	case models.DimensionCount, models.DimensionScore, models.DimensionNone:
		if unit == Count || unit == Percent {
			return value, nil
		}
	}
	return 0, fmt.Errorf("%s: %q: %w", field, unit, ErrIncompatibleUnit)
}

// MustNormalize is Normalize for unit/field pairs fixed at compile time.
// It panics on error.
func MustNormalize(value float64, unit Unit, field models.Field) float64 {
	v, err := Normalize(value, unit, field)
	if err != nil {
		panic(err)
	}
	return v
}

// Guess picks the unit a raw value was most likely reported in when the
// provider did not say.
func Guess(value float64, dim models.Dimension) Unit {
	abs := math.Abs(value)
	switch dim {
	case models.DimensionVolume:
		if abs > VolumeOunceCeiling {
			return Milliliter
		}
		return FluidOunce
	case models.DimensionBodyMass:
		if abs >= BodyMassGramFloor {
			return Gram
		}
		return Kilogram
	case models.DimensionDuration:
		if abs > DurationMinuteCeiling {
			return Second
		}
		return Minute
	case models.DimensionNutrientMass:
		return Gram
	case models.DimensionSodiumMass:
		return Milligram
	case models.DimensionDistance:
		return Kilometer
	case models.DimensionEnergy:
		return Kilocalorie
	case models.DimensionPercent:
		return Percent
	}
	return Unknown
}

func toGrams(v float64, u Unit) (float64, error) {
	switch u {
	case Kilogram:
		return v * 1000, nil
	case Gram:
		return v, nil
	case Milligram:
		return v / 1000, nil
	case Pound:
		return v * gramsPerPound, nil
	}
	return 0, fmt.Errorf("%q: %w", u, ErrIncompatibleUnit)
}

func toMilliliters(v float64, u Unit, f models.Field) (float64, error) {
	switch u {
	case Milliliter, Gram:
		// Water reported by mass: 1 g is 1 ml.
		return v, nil
	case Liter:
		return v * 1000, nil
	case FluidOunce:
		return v * millilitersPerOunce, nil
	case Cup:
		return v * millilitersPerCup, nil
	}
	return 0, fmt.Errorf("%s: %q: %w", f, u, ErrIncompatibleUnit)
}

func toMinutes(v float64, u Unit, f models.Field) (float64, error) {
	switch u {
	case Second:
		return v / 60, nil
	case Minute:
		return v, nil
	case Hour:
		return v * 60, nil
	}
	return 0, fmt.Errorf("%s: %q: %w", f, u, ErrIncompatibleUnit)
}

func toKilometers(v float64, u Unit, f models.Field) (float64, error) {
	switch u {
	case Meter:
		return v / 1000, nil
	case Kilometer:
		return v, nil
	case Mile:
		return v * metersPerMile / 1000, nil
	}
	return 0, fmt.Errorf("%s: %q: %w", f, u, ErrIncompatibleUnit)
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Uint32At decodes a packed unsigned 32-bit field at offset.
func Uint32At(b []byte, offset int, order binary.ByteOrder) (uint32, error) {
	if offset < 0 || offset+4 > len(b) {
		return 0, fmt.Errorf("uint32 at offset %d of %d bytes: %w", offset, len(b), ErrShortPayload)
	}
	return order.Uint32(b[offset : offset+4]), nil
}
