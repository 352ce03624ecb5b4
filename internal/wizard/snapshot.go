package wizard

import (
	"fmt"

	"missionline/internal/domain"
)

// Snapshot is the persisted form of a Machine: the entered fields and the
// current step. Validity and pricing are derived again on Restore.
type Snapshot struct {
	Fields
	CurrentStep Step `json:"current_step"`
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Fields: m.fields.clone(), CurrentStep: m.step}
}

// Restore replaces the machine state with snap. Unknown enum values are
// rejected. The step is clamped to the first invalid step so a restored
// machine never sits past a step it could not have left.
func (m *Machine) Restore(snap Snapshot) error {
	f := snap.Fields.clone()
	if f.Platform != "" && !f.Platform.Valid() {
		return fmt.Errorf("restore: unknown platform %q", f.Platform)
	}
	if f.Model != "" && !f.Model.Valid() {
		return fmt.Errorf("restore: unknown model %q", f.Model)
	}
	if f.Type != "" && !f.Type.Valid() {
		return fmt.Errorf("restore: unknown mission type %q", f.Type)
	}
	if f.Audience == "" {
		f.Audience = domain.AudienceAll
	}
	if !f.Audience.Valid() {
		return fmt.Errorf("restore: unknown audience %q", f.Audience)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitting {
		return ErrSubmitInFlight
	}
	m.fields = f
	m.recompute()

	step := snap.CurrentStep
	if step < StepPlatform {
		step = StepPlatform
	}
	if step > StepReview {
		step = StepReview
	}
	for s := StepPlatform; s < step; s++ {
		if !m.valid[s] {
			step = s
			break
		}
	}
	m.step = step
	return nil
}
