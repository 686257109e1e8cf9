// Package stage holds the ordered task stages and their weights toward project completion.
package stage

import (
	"fmt"
	"math"

	"prosync/internal/domain"
)

const sumTolerance = 1e-9

// Definition is one row of the stage table.
type Definition struct {
	ID     domain.Stage `json:"id" yaml:"id"`
	Label  string       `json:"label" yaml:"label"`
	Weight float64      `json:"weight" yaml:"weight"`
}

// Table is a validated, ordered stage table.
type Table struct {
	defs []Definition
}

var defaultDefs = []Definition{
	{ID: domain.StageSurvey, Label: "Survey", Weight: 0.10},
	{ID: domain.StagePlanning, Label: "Planning", Weight: 0.15},
	{ID: domain.StageExecution, Label: "Execution", Weight: 0.25},
	{ID: domain.StageFinalization, Label: "Finalization", Weight: 0.50},
}

var defaultTable Table

func init() {
	t, err := NewTable(defaultDefs)
	if err != nil {
		panic(err)
	}
	defaultTable = t
}

// Default returns the built-in stage table.
func Default() Table { return defaultTable }

// NewTable validates defs and returns a table over a private copy.
func NewTable(defs []Definition) (Table, error) {
	if err := ValidateTable(defs); err != nil {
		return Table{}, err
	}
	cp := make([]Definition, len(defs))
	copy(cp, defs)
	return Table{defs: cp}, nil
}

// ValidateTable checks ids are unique and weights are fractions summing to 1.
func ValidateTable(defs []Definition) error {
	if len(defs) == 0 {
		return fmt.Errorf("stage table is empty")
	}
	seen := make(map[domain.Stage]struct{}, len(defs))
	var sum float64
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("stage id is required")
		}
		if _, ok := seen[d.ID]; ok {
			return fmt.Errorf("duplicate stage %s", d.ID)
		}
		seen[d.ID] = struct{}{}
		if d.Weight < 0 || d.Weight > 1 || math.IsNaN(d.Weight) {
			return fmt.Errorf("stage %s weight %v outside [0,1]", d.ID, d.Weight)
		}
		sum += d.Weight
	}
	if math.Abs(sum-1) > sumTolerance {
		return fmt.Errorf("stage weights sum to %v, want 1", sum)
	}
	return nil
}

// Stages returns the ordered definitions.
func (t Table) Stages() []Definition {
	out := make([]Definition, len(t.defs))
	copy(out, t.defs)
	return out
}

func (t Table) Lookup(id domain.Stage) (Definition, bool) {
	for _, d := range t.defs {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

// Weight returns the stage weight, 0 for unknown stages.
func (t Table) Weight(id domain.Stage) float64 {
	d, _ := t.Lookup(id)
	return d.Weight
}

func (t Table) Valid(id domain.Stage) bool {
	_, ok := t.Lookup(id)
	return ok
}

// Stages returns the default table's ordered definitions.
func Stages() []Definition { return defaultTable.Stages() }

func Lookup(id domain.Stage) (Definition, bool) { return defaultTable.Lookup(id) }

// Weight returns the default weight of a stage.
func Weight(id domain.Stage) float64 { return defaultTable.Weight(id) }

func Valid(id domain.Stage) bool { return defaultTable.Valid(id) }

// WeightedProgress computes progress with the default table.
func WeightedProgress(tasks []domain.Task) int { return defaultTable.WeightedProgress(tasks) }

func Breakdown(tasks []domain.Task) []StageProgress { return defaultTable.Breakdown(tasks) }
