package wizard

import (
	"fmt"

	"missionline/internal/domain"
)

// Action kinds accepted by Apply.
const (
	ActionSetPlatform   = "set_platform"
	ActionSetModel      = "set_model"
	ActionSetType       = "set_type"
	ActionToggleTask    = "toggle_task"
	ActionSetTasks      = "set_tasks"
	ActionSetAudience   = "set_audience"
	ActionSetCap        = "set_cap"
	ActionSetDuration   = "set_duration"
	ActionSetWinnersCap = "set_winners_cap"
	ActionSetDetails    = "set_details"
	ActionNext          = "next"
	ActionPrevious      = "previous"
	ActionReset         = "reset"
)

// Action is one serialized wizard interaction.
type Action struct {
	Action       string   `json:"action" enum:"set_platform,set_model,set_type,toggle_task,set_tasks,set_audience,set_cap,set_duration,set_winners_cap,set_details,next,previous,reset"`
	Value        string   `json:"value,omitempty"`
	Values       []string `json:"values,omitempty"`
	Number       int      `json:"number,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	ContentLink  string   `json:"content_link,omitempty"`
}

// Apply dispatches a to the matching setter or navigation call. A blocked
// next returns ErrStepIncomplete.
func (m *Machine) Apply(a Action) error {
	switch a.Action {
	case ActionSetPlatform:
		return m.SetPlatform(domain.Platform(a.Value))
	case ActionSetModel:
		return m.SetModel(domain.Model(a.Value))
	case ActionSetType:
		return m.SetType(domain.MissionType(a.Value))
	case ActionToggleTask:
		return m.ToggleTask(a.Value)
	case ActionSetTasks:
		return m.SetTasks(a.Values)
	case ActionSetAudience:
		return m.SetAudience(domain.Audience(a.Value))
	case ActionSetCap:
		return m.SetCap(a.Number)
	case ActionSetDuration:
		return m.SetDuration(a.Number)
	case ActionSetWinnersCap:
		return m.SetWinnersCap(a.Number)
	case ActionSetDetails:
		return m.SetDetails(a.Instructions, a.ContentLink)
	case ActionNext:
		if !m.Next() {
			st := m.State()
			if st.Submitting {
				return ErrSubmitInFlight
			}
			return fmt.Errorf("%w: step %d (%s)", ErrStepIncomplete, st.CurrentStep, st.CurrentStep)
		}
		return nil
	case ActionPrevious:
		m.Previous()
		return nil
	case ActionReset:
		return m.Reset()
	}
	return domain.NewValidationError("action", fmt.Sprintf("unknown action %q", a.Action))
}
