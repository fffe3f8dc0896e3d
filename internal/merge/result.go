// Healthbridge - Canonical Fitness Record Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthbridge

package merge

import (
	"github.com/tomtom215/healthbridge/internal/models"
)

// Decision names what the merger did with one incoming field.
type Decision string

const (
	DecisionCreated            Decision = "created"
	DecisionAdded              Decision = "added"
	DecisionOverwritten        Decision = "overwritten"
	DecisionCounterIncrement   Decision = "counter_increment"
	DecisionKeptHigherPriority Decision = "kept_higher_priority"
	DecisionUnchanged          Decision = "unchanged"
)

func (d Decision) writes() bool {
	switch d {
	case DecisionCreated, DecisionAdded, DecisionOverwritten, DecisionCounterIncrement:
		return true
	}
	return false
}

// FieldDecision is the merge outcome for one (date, field).
type FieldDecision struct {
	Date      models.Date     `json:"date"`
	Field     models.Field    `json:"field"`
	Source    models.SourceID `json:"source"`
	Previous  models.SourceID `json:"previous,omitempty"`
	Decision  Decision        `json:"decision"`
	Increment float64         `json:"increment,omitempty"`
}

// Conflict records two sources contending for the same field on the same
// date. It is not an error: the priority table always decides the winner.
type Conflict struct {
	Date     models.Date     `json:"date"`
	Field    models.Field    `json:"field"`
	Winner   models.SourceID `json:"winner"`
	Loser    models.SourceID `json:"loser"`
	Decision Decision        `json:"decision"`
}

// Result summarizes one Apply call.
type Result struct {
	Source        models.SourceID `json:"source"`
	Dates         int             `json:"dates"`
	RowsWritten   int             `json:"rows_written"`
	FieldsWritten int             `json:"fields_written"`
	Decisions     []FieldDecision `json:"decisions,omitempty"`
	Conflicts     []Conflict      `json:"conflicts,omitempty"`
}
