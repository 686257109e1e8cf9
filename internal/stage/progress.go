package stage

import (
	"math"

	"prosync/internal/domain"
)

// StageProgress is the per-stage share of a project's weighted progress.
type StageProgress struct {
	Stage        domain.Stage `json:"stage"`
	Label        string       `json:"label"`
	Weight       float64      `json:"weight"`
	Total        int          `json:"total"`
	Completed    int          `json:"completed"`
	Contribution float64      `json:"contribution"`
}

// WeightedProgress returns completion in [0,100]. Stages without tasks contribute
// nothing and their weight is not redistributed.
func (t Table) WeightedProgress(tasks []domain.Task) int {
	if len(tasks) == 0 {
		return 0
	}
	var total float64
	for _, sp := range t.Breakdown(tasks) {
		if sp.Total == 0 {
			continue
		}
		total += float64(sp.Completed) / float64(sp.Total) * sp.Weight
	}
	pct := math.Round(total * 100)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return int(pct)
}

// Breakdown counts tasks per stage in table order. Tasks with unknown stages are ignored.
func (t Table) Breakdown(tasks []domain.Task) []StageProgress {
	out := make([]StageProgress, len(t.defs))
	index := make(map[domain.Stage]int, len(t.defs))
	for i, d := range t.defs {
		out[i] = StageProgress{Stage: d.ID, Label: d.Label, Weight: d.Weight}
		index[d.ID] = i
	}
	for _, task := range tasks {
		i, ok := index[task.Stage]
		if !ok {
			continue
		}
		out[i].Total++
		if task.Completed {
			out[i].Completed++
		}
	}
	for i := range out {
		if out[i].Total > 0 {
			out[i].Contribution = float64(out[i].Completed) / float64(out[i].Total) * out[i].Weight * 100
		}
	}
	return out
}
