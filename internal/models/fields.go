// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package models

import "sort"

// Field names a canonical metric. Field names double as column names in the
// persisted record set, so they must stay lowercase snake_case.
type Field string

// Dimension is the physical quantity a field measures.
type Dimension int

const (
	DimensionNone Dimension = iota
	DimensionBodyMass
	DimensionNutrientMass
	DimensionSodiumMass
	DimensionVolume
	DimensionDuration
	DimensionDistance
	DimensionPercent
	DimensionCount
	DimensionEnergy
	DimensionScore
	DimensionText
)

// FieldSpec declares how a canonical field behaves.
type FieldSpec struct {
	Name      Field
	Dimension Dimension
	// Unit is the canonical unit values are stored in.
	Unit string
	// Counter fields accumulate across cycles via the delta reconciler.
	Counter bool
}

// Canonical fields.
const (
	FieldWeight          Field = "weight_kg"
	FieldRestingHR       Field = "resting_hr"
	FieldSleepMinutes    Field = "sleep_minutes"
	FieldSleepScore      Field = "sleep_score"
	FieldHRVLastNight    Field = "hrv_last_night"
	FieldHRVWeeklyAvg    Field = "hrv_weekly_avg"
	FieldBodyBatteryHigh Field = "body_battery_high"
	FieldBodyBatteryLow  Field = "body_battery_low"
	FieldStressAvg       Field = "stress_avg"
	FieldSteps           Field = "steps"
	FieldHydration       Field = "hydration_ml"
	FieldFitness         Field = "fitness_ctl"
	FieldFatigue         Field = "fatigue_atl"
	FieldForm            Field = "form_tsb"
	FieldTrainingLoad    Field = "training_load"
	FieldActiveMinutes   Field = "active_minutes"
	FieldDistance        Field = "distance_km"
	FieldActivityTypes   Field = "activity_types"
	FieldPlannedWorkout  Field = "planned_workout"
	FieldCaloriesIn      Field = "calories_in"
	FieldProtein         Field = "protein_g"
	FieldCarbs           Field = "carbs_g"
	FieldFat             Field = "fat_g"
	FieldFiber           Field = "fiber_g"
	FieldSodium          Field = "sodium_mg"
	FieldFoodWater       Field = "food_water_ml"
)

var fieldRegistry = map[Field]FieldSpec{
	FieldWeight:          {Name: FieldWeight, Dimension: DimensionBodyMass, Unit: "kg"},
	FieldRestingHR:       {Name: FieldRestingHR, Dimension: DimensionCount, Unit: "bpm"},
	FieldSleepMinutes:    {Name: FieldSleepMinutes, Dimension: DimensionDuration, Unit: "min"},
	FieldSleepScore:      {Name: FieldSleepScore, Dimension: DimensionScore},
	FieldHRVLastNight:    {Name: FieldHRVLastNight, Dimension: DimensionCount, Unit: "ms"},
	FieldHRVWeeklyAvg:    {Name: FieldHRVWeeklyAvg, Dimension: DimensionCount, Unit: "ms"},
	FieldBodyBatteryHigh: {Name: FieldBodyBatteryHigh, Dimension: DimensionPercent, Unit: "%"},
	FieldBodyBatteryLow:  {Name: FieldBodyBatteryLow, Dimension: DimensionPercent, Unit: "%"},
	FieldStressAvg:       {Name: FieldStressAvg, Dimension: DimensionScore},
	FieldSteps:           {Name: FieldSteps, Dimension: DimensionCount, Counter: true},
	FieldHydration:       {Name: FieldHydration, Dimension: DimensionVolume, Unit: "ml", Counter: true},
	FieldFitness:         {Name: FieldFitness, Dimension: DimensionScore},
	FieldFatigue:         {Name: FieldFatigue, Dimension: DimensionScore},
	FieldForm:            {Name: FieldForm, Dimension: DimensionScore},
	FieldTrainingLoad:    {Name: FieldTrainingLoad, Dimension: DimensionScore},
	FieldActiveMinutes:   {Name: FieldActiveMinutes, Dimension: DimensionDuration, Unit: "min"},
	FieldDistance:        {Name: FieldDistance, Dimension: DimensionDistance, Unit: "km"},
	FieldActivityTypes:   {Name: FieldActivityTypes, Dimension: DimensionText},
	FieldPlannedWorkout:  {Name: FieldPlannedWorkout, Dimension: DimensionText},
	FieldCaloriesIn:      {Name: FieldCaloriesIn, Dimension: DimensionEnergy, Unit: "kcal"},
	FieldProtein:         {Name: FieldProtein, Dimension: DimensionNutrientMass, Unit: "g"},
	FieldCarbs:           {Name: FieldCarbs, Dimension: DimensionNutrientMass, Unit: "g"},
	FieldFat:             {Name: FieldFat, Dimension: DimensionNutrientMass, Unit: "g"},
	FieldFiber:           {Name: FieldFiber, Dimension: DimensionNutrientMass, Unit: "g"},
	FieldSodium:          {Name: FieldSodium, Dimension: DimensionSodiumMass, Unit: "mg"},
	FieldFoodWater:       {Name: FieldFoodWater, Dimension: DimensionVolume, Unit: "ml"},
}

// Spec returns the declared spec for f. Unknown fields are treated as
// dimensionless, non-counter numerics.
func (f Field) Spec() FieldSpec {
	if spec, ok := fieldRegistry[f]; ok {
		return spec
	}
	return FieldSpec{Name: f, Dimension: DimensionNone}
}

// IsCounter reports whether f accumulates across cycles.
func (f Field) IsCounter() bool {
	return f.Spec().Counter
}

// IsText reports whether f carries text values.
func (f Field) IsText() bool {
	return f.Spec().Dimension == DimensionText
}

// Known reports whether f is a declared canonical field.
func (f Field) Known() bool {
	_, ok := fieldRegistry[f]
	return ok
}

// AllFields returns every declared canonical field in sorted order.
func AllFields() []Field {
	out := make([]Field, 0, len(fieldRegistry))
	for f := range fieldRegistry {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
