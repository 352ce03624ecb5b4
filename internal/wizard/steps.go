package wizard

import (
	"missionline/internal/domain"
	"missionline/internal/validate"
)

// Step is a wizard position, 1 through 7.
type Step int

const (
	StepPlatform Step = iota + 1
	StepModel
	StepType
	StepTasks
	StepSettings
	StepDetails
	StepReview
)

var stepNames = map[Step]string{
	StepPlatform: "platform",
	StepModel:    "model",
	StepType:     "type",
	StepTasks:    "tasks",
	StepSettings: "settings",
	StepDetails:  "details",
	StepReview:   "review",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s Step) Valid() bool { return s >= StepPlatform && s <= StepReview }

// stepValid evaluates the validator for one step against f. Review is the
// aggregate of every earlier step and is never cached. A fixed cap must fall
// within the same minimum and maximum the pricing engine enforces.
func (m *Machine) stepValid(step Step, f Fields) bool {
	switch step {
	case StepPlatform:
		return f.Platform.Valid()
	case StepModel:
		return f.Model.Valid()
	case StepType:
		return f.Type.Valid()
	case StepTasks:
		return len(f.Tasks) > 0
	case StepSettings:
		switch f.Model {
		case domain.ModelFixed:
			return validate.Value(f.Cap, validate.CapRules(m.settings.Rules)...) == nil
		case domain.ModelDegen:
			return m.settings.Presets.Validate(f.DurationHours, f.WinnersCap).IsValid
		}
		return false
	case StepDetails:
		return validate.Value(f.Instructions, validate.InstructionRules(m.settings.Rules)...) == nil &&
			validate.Value(f.ContentLink, validate.LinkRules()...) == nil
	case StepReview:
		for s := StepPlatform; s < StepReview; s++ {
			if !m.stepValid(s, f) {
				return false
			}
		}
		return true
	}
	return false
}
