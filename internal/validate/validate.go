// Package validate holds the payload checks shared by the wizard and the
// mission creation endpoint.
package validate

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"missionline/internal/config"
	"missionline/internal/degen"
	"missionline/internal/domain"
)

// Rules are the tunable bounds applied to a mission request. A zero
// MaxFixedCap leaves the cap unbounded above.
type Rules struct {
	MinFixedCap     int
	MaxFixedCap     int
	MinInstructions int
}

func RulesFromConfig(cfg *config.Config) Rules {
	return Rules{
		MinFixedCap:     cfg.Pricing.MinFixedCap,
		MaxFixedCap:     cfg.Pricing.MaxFixedCap,
		MinInstructions: cfg.Wizard.MinInstructions,
	}
}

func (r Rules) minCap() int {
	if r.MinFixedCap < 1 {
		return 1
	}
	return r.MinFixedCap
}

// Request checks every field of req and returns a *domain.ValidationError
// listing all failures, or nil.
func Request(req domain.MissionRequest, rules Rules, presets degen.Table) error {
	fixed := req.Model == domain.ModelFixed
	timeboxed := req.Model == domain.ModelDegen

	var settings degen.Result
	if timeboxed {
		settings = presets.Validate(req.DurationHours, req.WinnersCap)
	}

	err := validation.ValidateStruct(&req,
		validation.Field(&req.Model, validation.Required, check(req.Model.Valid(), "must be fixed or degen")),
		validation.Field(&req.Platform, validation.Required, check(req.Platform.Valid(), "unknown platform")),
		validation.Field(&req.Type, validation.Required, check(req.Type.Valid(), "unknown mission type")),
		validation.Field(&req.Audience, check(req.Audience == "" || req.Audience.Valid(), "must be all or premium")),
		validation.Field(&req.Tasks, validation.Required.Error("at least one task is required")),
		validation.Field(&req.Cap, validation.When(fixed, CapRules(rules)...)),
		validation.Field(&req.DurationHours, validation.When(timeboxed, degenField(settings, "duration_hours"))),
		validation.Field(&req.WinnersCap, validation.When(timeboxed, degenField(settings, "winners_cap"))),
		validation.Field(&req.Instructions, InstructionRules(rules)...),
		validation.Field(&req.ContentLink, LinkRules()...),
	)
	return convert(err)
}

// CapRules are the rules for a fixed mission participant cap.
func CapRules(rules Rules) []validation.Rule {
	least := rules.minCap()
	out := []validation.Rule{
		validation.Required.Error("cap is required"),
		validation.Min(least).Error(fmt.Sprintf("cap must be at least %d", least)),
	}
	if rules.MaxFixedCap > 0 {
		out = append(out, validation.Max(rules.MaxFixedCap).Error(fmt.Sprintf("cap must be at most %d", rules.MaxFixedCap)))
	}
	return out
}

// InstructionRules are the rules for mission instructions.
func InstructionRules(rules Rules) []validation.Rule {
	return []validation.Rule{
		validation.Required.Error("instructions are required"),
		validation.RuneLength(rules.MinInstructions, 0).
			Error(fmt.Sprintf("instructions must be at least %d characters", rules.MinInstructions)),
	}
}

// LinkRules accept an empty link or an absolute URL.
func LinkRules() []validation.Rule {
	return []validation.Rule{is.RequestURL.Error("must be a valid URL")}
}

// Value runs rules against a single value and returns the first failure.
func Value(value interface{}, rules ...validation.Rule) error {
	return validation.Validate(value, rules...)
}

func check(ok bool, message string) validation.Rule {
	return validation.By(func(interface{}) error {
		if !ok {
			return errors.New(message)
		}
		return nil
	})
}

func degenField(res degen.Result, field string) validation.Rule {
	return validation.By(func(interface{}) error {
		if !res.IsValid && res.Field == field {
			return errors.New(res.Error)
		}
		return nil
	})
}

func convert(err error) error {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return err
	}
	fields := make(map[string]string, len(errs))
	for field, ferr := range errs {
		fields[field] = ferr.Error()
	}
	return &domain.ValidationError{Fields: fields}
}
