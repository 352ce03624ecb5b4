package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"missionline/internal/app"
	"missionline/internal/wizard"
	missionlinesdk "missionline/sdk/go"
)

func wizardCmd() *cobra.Command {
	w := &cobra.Command{
		Use:   "wizard",
		Short: "Step through mission creation",
		Long: `The wizard keeps its state in the workspace between commands.
Steps: platform, model, type, tasks, settings, details, review. 'next' only
advances when the current step is complete; 'back' always works.`,
	}
	w.AddCommand(wizardNewCmd())
	w.AddCommand(wizardShowCmd())
	w.AddCommand(wizardSetCmd())
	w.AddCommand(wizardNavCmd("next", "Advance when the current step is complete", wizard.ActionNext))
	w.AddCommand(wizardNavCmd("back", "Go back one step", wizard.ActionPrevious))
	w.AddCommand(wizardNavCmd("reset", "Clear every field", wizard.ActionReset))
	w.AddCommand(wizardSubmitCmd())
	w.AddCommand(wizardDeleteCmd())
	return w
}

func withSession(ctx context.Context, id string, fn func(context.Context, *app.App, *wizard.Session) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		mgr, err := a.Sessions(ctx, true)
		if err != nil {
			return err
		}
		sess, err := mgr.Get(ctx, viper.GetString("actor-id"), id)
		if err != nil {
			return err
		}
		return fn(ctx, a, sess)
	})
}

func wizardNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start a wizard session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				mgr, err := a.Sessions(ctx, true)
				if err != nil {
					return err
				}
				sess, err := mgr.Create(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printWizard(sess)
			})
		},
	}
}

func wizardShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show wizard state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), args[0], func(ctx context.Context, a *app.App, sess *wizard.Session) error {
				return printWizard(sess)
			})
		},
	}
}

// setActions maps the field names accepted by 'wizard set' to actions.
var setActions = map[string]string{
	"platform": wizard.ActionSetPlatform,
	"model":    wizard.ActionSetModel,
	"type":     wizard.ActionSetType,
	"audience": wizard.ActionSetAudience,
	"task":     wizard.ActionToggleTask,
	"tasks":    wizard.ActionSetTasks,
	"cap":      wizard.ActionSetCap,
	"duration": wizard.ActionSetDuration,
	"winners":  wizard.ActionSetWinnersCap,
	"details":  wizard.ActionSetDetails,
}

func parseSetAction(field string, values []string) (wizard.Action, error) {
	kind, ok := setActions[field]
	if !ok {
		known := make([]string, 0, len(setActions))
		for k := range setActions {
			known = append(known, k)
		}
		sort.Strings(known)
		return wizard.Action{}, fmt.Errorf("unknown field %q (one of %s)", field, strings.Join(known, ", "))
	}
	a := wizard.Action{Action: kind}
	switch kind {
	case wizard.ActionSetTasks:
		a.Values = values
		return a, nil
	case wizard.ActionSetDetails:
		if len(values) == 0 || len(values) > 2 {
			return a, fmt.Errorf("details takes <instructions> [content-link]")
		}
		a.Instructions = values[0]
		if len(values) == 2 {
			a.ContentLink = values[1]
		}
		return a, nil
	}
	if len(values) != 1 {
		return a, fmt.Errorf("%s takes exactly one value", field)
	}
	switch kind {
	case wizard.ActionSetCap, wizard.ActionSetDuration, wizard.ActionSetWinnersCap:
		n, err := strconv.Atoi(values[0])
		if err != nil {
			return a, fmt.Errorf("%s must be a whole number: %w", field, err)
		}
		a.Number = n
	default:
		a.Value = values[0]
	}
	return a, nil
}

func wizardSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <session-id> <field> [value...]",
		Short: "Set a wizard field",
		Long:  "Fields: platform, model, type, audience, task (toggle), tasks (replace), cap, duration, winners, details.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := parseSetAction(args[1], args[2:])
			if err != nil {
				return err
			}
			return applyWizard(cmd.Context(), args[0], action)
		},
	}
}

func wizardNavCmd(use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return applyWizard(cmd.Context(), args[0], wizard.Action{Action: action})
		},
	}
}

func applyWizard(ctx context.Context, id string, action wizard.Action) error {
	return withSession(ctx, id, func(ctx context.Context, a *app.App, sess *wizard.Session) error {
		if _, err := sess.Apply(ctx, action); err != nil {
			return err
		}
		return printWizard(sess)
	})
}

func wizardSubmitCmd() *cobra.Command {
	var remote, apiKey string
	cmd := &cobra.Command{
		Use:   "submit <session-id>",
		Short: "Create the mission from a finished wizard",
		Long:  "Submits locally by default. With --remote the mission is created through a missionline API server.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), args[0], func(ctx context.Context, a *app.App, sess *wizard.Session) error {
				submitter := a.Engine.Submitter(sess.Owner, sess.ID)
				if remote != "" {
					client := missionlinesdk.New(remote)
					client.APIKey = apiKey
					if client.APIKey == "" {
						client.APIKey = viper.GetString("api-key")
					}
					submitter = client
				}
				mission, err := sess.Submit(ctx, submitter)
				if err != nil {
					return err
				}
				return printMission(mission)
			})
		},
	}
	cmd.Flags().StringVar(&remote, "remote", "", "API server URL, e.g. http://127.0.0.1:8080")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key for --remote (or MISSIONLINE_API_KEY)")
	return cmd
}

func wizardDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Discard a wizard session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				mgr, err := a.Sessions(ctx, true)
				if err != nil {
					return err
				}
				return mgr.Delete(ctx, viper.GetString("actor-id"), args[0])
			})
		},
	}
}

func printWizard(sess *wizard.Session) error {
	st := sess.State()
	if viper.GetBool("json") {
		return printJSON(struct {
			ID string `json:"id"`
			wizard.State
		}{ID: sess.ID, State: st})
	}
	fmt.Printf("Session %s at step %d (%s)\n", sess.ID, st.CurrentStep, st.CurrentStep)
	tw := newTable(table.Row{"Step", "Value", "OK"})
	values := map[wizard.Step]string{
		wizard.StepPlatform: string(st.Platform),
		wizard.StepModel:    string(st.Model),
		wizard.StepType:     string(st.Type),
		wizard.StepTasks:    strings.Join(st.Tasks, ","),
		wizard.StepSettings: settingsSummary(st),
		wizard.StepDetails:  st.Instructions,
	}
	for step := wizard.StepPlatform; step <= wizard.StepReview; step++ {
		marker := ""
		if step == st.CurrentStep {
			marker = "> "
		}
		tw.AppendRow(table.Row{marker + step.String(), values[step], st.StepValidation[step]})
	}
	tw.Render()
	switch {
	case st.PricingError != "":
		fmt.Println("Pricing:", st.PricingError)
	case st.Pricing != nil:
		fmt.Printf("Pricing: %d Honors ($%s)\n", st.Pricing.TotalCostHonors, st.Pricing.TotalCostUSD.StringFixed(2))
	}
	return nil
}

func settingsSummary(st wizard.State) string {
	parts := []string{"audience=" + string(st.Audience)}
	if st.Cap > 0 {
		parts = append(parts, fmt.Sprintf("cap=%d", st.Cap))
	}
	if st.DurationHours > 0 {
		parts = append(parts, fmt.Sprintf("duration=%dh", st.DurationHours))
	}
	if st.WinnersCap > 0 {
		parts = append(parts, fmt.Sprintf("winners=%d", st.WinnersCap))
	}
	return strings.Join(parts, " ")
}
