// Package wizard implements the seven step mission creation state machine.
//
// A Machine accumulates choices, recomputes step validity and the live price
// on every change, gates forward navigation on the current step and hands the
// finished request to a Submitter. Machines are safe for concurrent use; the
// price they show is a preview and the mission creation side re-prices.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"missionline/internal/degen"
	"missionline/internal/domain"
	"missionline/internal/metrics"
	"missionline/internal/validate"
)

var (
	// ErrSubmitInFlight is returned when a submission is already running.
	ErrSubmitInFlight = errors.New("wizard: submission in flight")
	// ErrNotReady is returned by Submit outside the review step or while an
	// earlier step is invalid.
	ErrNotReady = errors.New("wizard: not ready to submit")
	// ErrStepIncomplete is returned when forward navigation is blocked.
	ErrStepIncomplete = errors.New("wizard: current step is incomplete")
)

// Pricer prices requests and lists the tasks of a platform and type.
type Pricer interface {
	Calculate(req domain.MissionRequest) (domain.PricingResult, error)
	Tasks(platform domain.Platform, missionType domain.MissionType) map[string]int64
}

// Submitter creates a mission from a finished request.
type Submitter interface {
	CreateMission(ctx context.Context, req domain.MissionRequest) (domain.Mission, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, req domain.MissionRequest) (domain.Mission, error)

func (f SubmitterFunc) CreateMission(ctx context.Context, req domain.MissionRequest) (domain.Mission, error) {
	return f(ctx, req)
}

// Settings configure a Machine.
type Settings struct {
	Rules   validate.Rules
	Presets degen.Table
	// AutoAdvance moves past the platform, model and type steps after a
	// valid selection.
	AutoAdvance bool
}

// Fields are the user-entered values of the wizard.
type Fields struct {
	Platform      domain.Platform    `json:"platform,omitempty"`
	Model         domain.Model       `json:"model,omitempty"`
	Type          domain.MissionType `json:"type,omitempty"`
	Audience      domain.Audience    `json:"audience"`
	Tasks         []string           `json:"tasks,omitempty"`
	Cap           int                `json:"cap,omitempty"`
	DurationHours int                `json:"duration_hours,omitempty"`
	WinnersCap    int                `json:"winners_cap,omitempty"`
	Instructions  string             `json:"instructions,omitempty"`
	ContentLink   string             `json:"content_link,omitempty"`
}

func (f Fields) clone() Fields {
	if f.Tasks != nil {
		f.Tasks = append([]string(nil), f.Tasks...)
	}
	return f
}

// State is a point-in-time view of a Machine.
type State struct {
	Fields
	CurrentStep    Step                  `json:"current_step"`
	StepValidation map[Step]bool         `json:"step_validation"`
	Pricing        *domain.PricingResult `json:"pricing,omitempty"`
	PricingError   string                `json:"pricing_error,omitempty"`
	Submitting     bool                  `json:"submitting"`
}

type Machine struct {
	mu       sync.Mutex
	pricer   Pricer
	settings Settings
	logger   *zap.Logger

	fields     Fields
	step       Step
	valid      [StepReview + 1]bool
	pricing    *domain.PricingResult
	pricingErr string
	submitting bool
}

type Option func(*Machine)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New returns a machine positioned on the platform step.
func New(pricer Pricer, settings Settings, opts ...Option) *Machine {
	m := &Machine{pricer: pricer, settings: settings, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	m.reset()
	return m
}

func (m *Machine) reset() {
	m.fields = Fields{Audience: domain.AudienceAll}
	m.step = StepPlatform
	m.recompute()
}

// Reset clears every field and returns to the platform step.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitting {
		return ErrSubmitInFlight
	}
	m.reset()
	return nil
}

// State returns a copy of the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	validation := make(map[Step]bool, int(StepReview))
	for s := StepPlatform; s <= StepReview; s++ {
		validation[s] = m.valid[s]
	}
	var pricing *domain.PricingResult
	if m.pricing != nil {
		p := *m.pricing
		pricing = &p
	}
	return State{
		Fields:         m.fields.clone(),
		CurrentStep:    m.step,
		StepValidation: validation,
		Pricing:        pricing,
		PricingError:   m.pricingErr,
		Submitting:     m.submitting,
	}
}

// AvailableTasks lists the priced tasks for the selected platform and type.
func (m *Machine) AvailableTasks() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fields.Platform == "" || m.fields.Type == "" {
		return nil
	}
	return m.pricer.Tasks(m.fields.Platform, m.fields.Type)
}

// recompute refreshes step validity and the price preview.
func (m *Machine) recompute() {
	for s := StepPlatform; s <= StepReview; s++ {
		m.valid[s] = m.stepValid(s, m.fields)
	}
	m.pricing, m.pricingErr = nil, ""
	if !m.priceable() {
		return
	}
	res, err := m.pricer.Calculate(m.request())
	if err != nil {
		m.pricingErr = err.Error()
		return
	}
	m.pricing = &res
}

func (m *Machine) priceable() bool {
	f := m.fields
	if !f.Platform.Valid() || !f.Type.Valid() || len(f.Tasks) == 0 {
		return false
	}
	switch f.Model {
	case domain.ModelFixed:
		return f.Cap > 0
	case domain.ModelDegen:
		return f.DurationHours > 0 && f.WinnersCap > 0
	}
	return false
}

// request builds the normalized request from the current fields.
func (m *Machine) request() domain.MissionRequest {
	f := m.fields
	req := domain.MissionRequest{
		Model:        f.Model,
		Platform:     f.Platform,
		Type:         f.Type,
		Audience:     f.Audience,
		Tasks:        append([]string(nil), f.Tasks...),
		Instructions: f.Instructions,
		ContentLink:  f.ContentLink,
	}
	switch f.Model {
	case domain.ModelFixed:
		req.Cap = f.Cap
	case domain.ModelDegen:
		req.DurationHours = f.DurationHours
		req.WinnersCap = f.WinnersCap
	}
	return req
}

// Request returns the request the wizard would submit now.
func (m *Machine) Request() domain.MissionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.request()
}

// update applies fn under the lock and recomputes derived state.
func (m *Machine) update(fn func(f *Fields) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitting {
		return ErrSubmitInFlight
	}
	next := m.fields.clone()
	if err := fn(&next); err != nil {
		return err
	}
	m.fields = next
	m.recompute()
	return nil
}

// choose is update for the single-choice steps, which may auto-advance.
func (m *Machine) choose(step Step, fn func(f *Fields) error) error {
	if err := m.update(fn); err != nil {
		return err
	}
	if m.settings.AutoAdvance {
		m.mu.Lock()
		if m.step == step {
			m.next()
		}
		m.mu.Unlock()
	}
	return nil
}

func (m *Machine) SetPlatform(p domain.Platform) error {
	if !p.Valid() {
		return domain.NewValidationError("platform", fmt.Sprintf("unknown platform %q", p))
	}
	return m.choose(StepPlatform, func(f *Fields) error {
		f.Platform = p
		m.pruneTasks(f)
		return nil
	})
}

func (m *Machine) SetModel(model domain.Model) error {
	if !model.Valid() {
		return domain.NewValidationError("model", "must be fixed or degen")
	}
	return m.choose(StepModel, func(f *Fields) error {
		f.Model = model
		return nil
	})
}

func (m *Machine) SetType(t domain.MissionType) error {
	if !t.Valid() {
		return domain.NewValidationError("type", fmt.Sprintf("unknown mission type %q", t))
	}
	return m.choose(StepType, func(f *Fields) error {
		f.Type = t
		m.pruneTasks(f)
		return nil
	})
}

// pruneTasks drops selected tasks the new platform and type do not offer.
func (m *Machine) pruneTasks(f *Fields) {
	if len(f.Tasks) == 0 || f.Platform == "" || f.Type == "" {
		return
	}
	offered := m.pricer.Tasks(f.Platform, f.Type)
	kept := f.Tasks[:0]
	for _, id := range f.Tasks {
		if _, ok := offered[id]; ok {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	f.Tasks = kept
}

func (m *Machine) checkTask(f *Fields, id string) error {
	if f.Platform == "" || f.Type == "" {
		return domain.NewValidationError("tasks", "choose a platform and type first")
	}
	if _, ok := m.pricer.Tasks(f.Platform, f.Type)[id]; !ok {
		return domain.UnknownTaskError{Platform: f.Platform, Type: f.Type, TaskIDs: []string{id}}
	}
	return nil
}

// ToggleTask adds the task if absent and removes it otherwise.
func (m *Machine) ToggleTask(id string) error {
	return m.update(func(f *Fields) error {
		for i, existing := range f.Tasks {
			if existing == id {
				f.Tasks = append(f.Tasks[:i], f.Tasks[i+1:]...)
				if len(f.Tasks) == 0 {
					f.Tasks = nil
				}
				return nil
			}
		}
		if err := m.checkTask(f, id); err != nil {
			return err
		}
		f.Tasks = append(f.Tasks, id)
		return nil
	})
}

// SetTasks replaces the selection. Duplicates are dropped.
func (m *Machine) SetTasks(ids []string) error {
	return m.update(func(f *Fields) error {
		var tasks []string
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			if err := m.checkTask(f, id); err != nil {
				return err
			}
			tasks = append(tasks, id)
		}
		f.Tasks = tasks
		return nil
	})
}

func (m *Machine) SetAudience(a domain.Audience) error {
	if !a.Valid() {
		return domain.NewValidationError("audience", "must be all or premium")
	}
	return m.update(func(f *Fields) error {
		f.Audience = a
		return nil
	})
}

func (m *Machine) SetCap(n int) error {
	return m.update(func(f *Fields) error {
		f.Cap = n
		return nil
	})
}

// SetDuration selects a degen preset by hours. Any value is stored; the
// settings step stays invalid until it names a preset.
func (m *Machine) SetDuration(hours int) error {
	return m.update(func(f *Fields) error {
		f.DurationHours = hours
		return nil
	})
}

func (m *Machine) SetWinnersCap(n int) error {
	return m.update(func(f *Fields) error {
		f.WinnersCap = n
		return nil
	})
}

func (m *Machine) SetDetails(instructions, contentLink string) error {
	return m.update(func(f *Fields) error {
		f.Instructions = instructions
		f.ContentLink = contentLink
		return nil
	})
}

// Next advances one step when the current step is valid. It reports whether
// the step changed.
func (m *Machine) Next() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next()
}

func (m *Machine) next() bool {
	if m.submitting || m.step >= StepReview || !m.valid[m.step] {
		metrics.WizardTransitions.WithLabelValues("next", "blocked").Inc()
		return false
	}
	m.step++
	metrics.WizardTransitions.WithLabelValues("next", "ok").Inc()
	return true
}

// Previous moves back one step regardless of validity.
func (m *Machine) Previous() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitting || m.step <= StepPlatform {
		metrics.WizardTransitions.WithLabelValues("previous", "blocked").Inc()
		return false
	}
	m.step--
	metrics.WizardTransitions.WithLabelValues("previous", "ok").Inc()
	return true
}

// Submit validates the finished request and hands it to s. Only one
// submission runs at a time. Success resets the machine; failure leaves
// every field in place for a retry.
func (m *Machine) Submit(ctx context.Context, s Submitter) (domain.Mission, error) {
	m.mu.Lock()
	if m.submitting {
		m.mu.Unlock()
		metrics.WizardSubmissions.WithLabelValues("in_flight").Inc()
		return domain.Mission{}, ErrSubmitInFlight
	}
	if m.step != StepReview || !m.valid[StepReview] {
		step := m.step
		m.mu.Unlock()
		metrics.WizardSubmissions.WithLabelValues("not_ready").Inc()
		return domain.Mission{}, fmt.Errorf("%w: at step %d (%s)", ErrNotReady, step, step)
	}
	req := m.request()
	if err := validate.Request(req, m.settings.Rules, m.settings.Presets); err != nil {
		m.mu.Unlock()
		m.logger.Error("wizard state passed step checks but failed payload validation", zap.Error(err))
		metrics.WizardSubmissions.WithLabelValues("rejected").Inc()
		return domain.Mission{}, err
	}
	m.submitting = true
	m.mu.Unlock()

	mission, err := s.CreateMission(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitting = false
	if err != nil {
		m.logger.Warn("mission submission failed", zap.Error(err))
		metrics.WizardSubmissions.WithLabelValues("failure").Inc()
		return domain.Mission{}, err
	}
	metrics.WizardSubmissions.WithLabelValues("success").Inc()
	m.logger.Info("mission submitted", zap.String("mission_id", mission.ID))
	m.reset()
	return mission, nil
}
