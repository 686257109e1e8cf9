package stage_test

import (
	"math"
	"testing"

	"prosync/internal/domain"
	"prosync/internal/stage"
)

func TestDefaultWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, d := range stage.Stages() {
		sum += stage.Weight(d.ID)
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("weights sum to %v", sum)
	}
}

func TestDefaultOrderAndWeights(t *testing.T) {
	want := []struct {
		id     domain.Stage
		weight float64
	}{
		{domain.StageSurvey, 0.10},
		{domain.StagePlanning, 0.15},
		{domain.StageExecution, 0.25},
		{domain.StageFinalization, 0.50},
	}
	got := stage.Stages()
	if len(got) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].ID != w.id || got[i].Weight != w.weight {
			t.Fatalf("stage %d: got %s/%v want %s/%v", i, got[i].ID, got[i].Weight, w.id, w.weight)
		}
	}
	if stage.Weight("UNKNOWN") != 0 {
		t.Fatalf("unknown stage should weigh 0")
	}
}

func TestStagesReturnsCopy(t *testing.T) {
	defs := stage.Stages()
	defs[0].Weight = 0.9
	if stage.Weight(domain.StageSurvey) != 0.10 {
		t.Fatalf("registry mutated through returned slice")
	}
}

func TestValidateTable(t *testing.T) {
	cases := []struct {
		name string
		defs []stage.Definition
		ok   bool
	}{
		{"empty", nil, false},
		{"sum below one", []stage.Definition{{ID: "A", Weight: 0.5}, {ID: "B", Weight: 0.3}}, false},
		{"duplicate", []stage.Definition{{ID: "A", Weight: 0.5}, {ID: "A", Weight: 0.5}}, false},
		{"negative", []stage.Definition{{ID: "A", Weight: 1.5}, {ID: "B", Weight: -0.5}}, false},
		{"valid", []stage.Definition{{ID: "A", Weight: 0.3}, {ID: "B", Weight: 0.7}}, true},
	}
	for _, tc := range cases {
		err := stage.ValidateTable(tc.defs)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestCustomTableProgress(t *testing.T) {
	tbl, err := stage.NewTable([]stage.Definition{
		{ID: domain.StageSurvey, Label: "Survey", Weight: 0.5},
		{ID: domain.StageFinalization, Label: "Finalization", Weight: 0.5},
	})
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	tasks := []domain.Task{{Stage: domain.StageSurvey, Completed: true}, {Stage: domain.StageExecution, Completed: true}}
	if got := tbl.WeightedProgress(tasks); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
}
