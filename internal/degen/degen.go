// Package degen validates time-boxed mission settings against the fixed
// preset table. It runs before any pricing so bad combinations fail fast.
package degen

import (
	"fmt"
	"sort"

	"missionline/internal/domain"
)

// Table is an immutable, hours-ascending set of presets.
type Table struct {
	presets []domain.DegenPreset
	byHours map[int]domain.DegenPreset
}

// NewTable copies presets into a lookup table. Later duplicates of the same
// hours value are ignored; config validation rejects them earlier.
func NewTable(presets []domain.DegenPreset) Table {
	t := Table{
		presets: make([]domain.DegenPreset, 0, len(presets)),
		byHours: make(map[int]domain.DegenPreset, len(presets)),
	}
	for _, p := range presets {
		if _, dup := t.byHours[p.Hours]; dup {
			continue
		}
		t.byHours[p.Hours] = p
		t.presets = append(t.presets, p)
	}
	sort.Slice(t.presets, func(i, j int) bool { return t.presets[i].Hours < t.presets[j].Hours })
	return t
}

// Presets returns a copy of the table in ascending hours order.
func (t Table) Presets() []domain.DegenPreset {
	out := make([]domain.DegenPreset, len(t.presets))
	copy(out, t.presets)
	return out
}

// Find returns the preset whose hours match exactly.
func (t Table) Find(hours int) (domain.DegenPreset, bool) {
	p, ok := t.byHours[hours]
	return p, ok
}

// Result reports the outcome of Validate. Field names the offending input
// using its wire name.
type Result struct {
	IsValid bool   `json:"is_valid"`
	Error   string `json:"error,omitempty"`
	Field   string `json:"field,omitempty"`
}

// Validate checks that durationHours names a preset and that winnersCap lies
// within [1, preset.MaxWinners].
func (t Table) Validate(durationHours, winnersCap int) Result {
	preset, ok := t.Find(durationHours)
	if !ok {
		return Result{Error: fmt.Sprintf("Invalid duration: %d hours", durationHours), Field: "duration_hours"}
	}
	if winnersCap < 1 || winnersCap > preset.MaxWinners {
		return Result{Error: fmt.Sprintf("Winners cap must be between 1 and %d", preset.MaxWinners), Field: "winners_cap"}
	}
	return Result{IsValid: true}
}

// Err converts a failed Result into a validation error.
func (r Result) Err() error {
	if r.IsValid {
		return nil
	}
	return domain.NewValidationError(r.Field, r.Error)
}
