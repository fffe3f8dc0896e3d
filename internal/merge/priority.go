// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package merge

import (
	"github.com/tomtom215/healthbridge/internal/models"
)

// PriorityTable ranks sources per field. A higher rank wins; sources not
// listed for a field, and fields not listed at all, rank 0 so that equal
// ranks resolve as most recent wins.
type PriorityTable struct {
	order map[models.Field][]models.SourceID
	ranks map[models.Field]map[models.SourceID]int
}

// DefaultPriorities returns the built-in per-field source order, highest
// priority first.
func DefaultPriorities() map[models.Field][]models.SourceID {
	scale := []models.SourceID{models.SourceAria, models.SourceFitbit, models.SourceGarmin, models.SourceIntervals}
	wearableFirst := []models.SourceID{models.SourceGarmin, models.SourceFitbit, models.SourceIntervals}
	sleep := []models.SourceID{models.SourceGarmin, models.SourceIntervals}
	training := []models.SourceID{models.SourceIntervals}
	nutrition := []models.SourceID{models.SourceCronometer}

	return map[models.Field][]models.SourceID{
		models.FieldWeight:          scale,
		models.FieldRestingHR:       wearableFirst,
		models.FieldSleepMinutes:    sleep,
		models.FieldSleepScore:      sleep,
		models.FieldHRVLastNight:    sleep,
		models.FieldHRVWeeklyAvg:    sleep,
		models.FieldBodyBatteryHigh: {models.SourceGarmin},
		models.FieldBodyBatteryLow:  {models.SourceGarmin},
		models.FieldStressAvg:       {models.SourceGarmin},
		models.FieldSteps:           {models.SourceGarmin, models.SourceFitbit},
		models.FieldHydration:       {models.SourceFitbit},
		models.FieldFitness:         training,
		models.FieldFatigue:         training,
		models.FieldForm:            training,
		models.FieldTrainingLoad:    training,
		models.FieldActiveMinutes:   training,
		models.FieldDistance:        training,
		models.FieldActivityTypes:   training,
		models.FieldPlannedWorkout:  training,
		models.FieldCaloriesIn:      nutrition,
		models.FieldProtein:         nutrition,
		models.FieldCarbs:           nutrition,
		models.FieldFat:             nutrition,
		models.FieldFiber:           nutrition,
		models.FieldSodium:          nutrition,
		models.FieldFoodWater:       nutrition,
	}
}

// NewPriorityTable builds a table from the given order. Entries in overrides
// replace the order for their field entirely.
func NewPriorityTable(base, overrides map[models.Field][]models.SourceID) *PriorityTable {
	order := make(map[models.Field][]models.SourceID, len(base)+len(overrides))
	for f, srcs := range base {
		order[f] = append([]models.SourceID(nil), srcs...)
	}
	for f, srcs := range overrides {
		order[f] = append([]models.SourceID(nil), srcs...)
	}

	ranks := make(map[models.Field]map[models.SourceID]int, len(order))
	for f, srcs := range order {
		r := make(map[models.SourceID]int, len(srcs))
		for i, s := range srcs {
			if _, dup := r[s]; dup {
				continue
			}
			r[s] = len(srcs) - i
		}
		ranks[f] = r
	}
	return &PriorityTable{order: order, ranks: ranks}
}

// Rank returns the priority of source for field.
func (p *PriorityTable) Rank(field models.Field, source models.SourceID) int {
	if p == nil {
		return 0
	}
	return p.ranks[field][source]
}

// Order returns the configured order for field, highest priority first.
func (p *PriorityTable) Order(field models.Field) []models.SourceID {
	if p == nil {
		return nil
	}
	return append([]models.SourceID(nil), p.order[field]...)
}

// ParseOverrides converts configured priorities, keyed by field name, into
// table overrides. Names are assumed valid; config validation rejects
// unknown fields and sources before this runs.
func ParseOverrides(raw map[string][]string) map[models.Field][]models.SourceID {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[models.Field][]models.SourceID, len(raw))
	for field, sources := range raw {
		ids := make([]models.SourceID, len(sources))
		for i, s := range sources {
			ids[i] = models.SourceID(s)
		}
		out[models.Field(field)] = ids
	}
	return out
}
