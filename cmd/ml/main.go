package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"missionline/internal/app"
	"missionline/internal/config"
	"missionline/internal/db"
	"missionline/internal/domain"
	"missionline/internal/engine"
	"missionline/internal/repo"
	"missionline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ml",
	Short: "Missionline CLI",
	Long: `Missionline prices and creates social engagement missions.
- Fixed missions pay every participant the same task reward, up to a cap.
- Degen missions run for a preset duration and pay a pool to a capped number of winners.
- Prices are in Honors; USD is derived from the configured exchange rate.
- The wizard walks through platform, model, type, tasks, settings, details and review.
- Event log: every mission, wizard submission and pricing anomaly, view with 'ml log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MISSIONLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(presetsCmd())
	rootCmd.AddCommand(degenCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(wizardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default missionline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func catalogCmd() *cobra.Command {
	var platform, missionType string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List priced tasks per platform and type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c := e.Pricing.Catalog()
				type row struct {
					Platform    domain.Platform    `json:"platform"`
					Type        domain.MissionType `json:"type"`
					Task        string             `json:"task"`
					PriceHonors int64              `json:"price_honors"`
				}
				var rows []row
				for _, p := range c.Platforms() {
					if platform != "" && string(p) != platform {
						continue
					}
					for _, t := range c.Types(p) {
						if missionType != "" && string(t) != missionType {
							continue
						}
						prices := c.Tasks(p, t)
						for _, id := range c.TaskIDs(p, t) {
							rows = append(rows, row{Platform: p, Type: t, Task: id, PriceHonors: prices[id]})
						}
					}
				}
				if viper.GetBool("json") {
					return printJSON(rows)
				}
				tw := newTable(table.Row{"Platform", "Type", "Task", "Honors"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.Platform, r.Type, r.Task, r.PriceHonors})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "", "platform filter")
	cmd.Flags().StringVar(&missionType, "type", "", "mission type filter")
	return cmd
}

func presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List degen duration presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				presets := e.Presets().Presets()
				if viper.GetBool("json") {
					return printJSON(presets)
				}
				tw := newTable(table.Row{"Hours", "Label", "Cost USD", "Max winners"})
				for _, p := range presets {
					tw.AppendRow(table.Row{p.Hours, p.Label, p.CostUSD, p.MaxWinners})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func degenCmd() *cobra.Command {
	dg := &cobra.Command{Use: "degen", Short: "Degen mission helpers"}
	dg.AddCommand(degenValidateCmd())
	return dg
}

func degenValidateCmd() *cobra.Command {
	var hours, winners int
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a duration and winners cap against the presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res := e.ValidateDegen(hours, winners)
				if err := printJSON(res); err != nil {
					return err
				}
				if !res.IsValid {
					return errors.New(res.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&hours, "duration", 0, "duration in hours")
	cmd.Flags().IntVar(&winners, "winners", 0, "winners cap")
	return cmd
}

// bindMissionFlags registers the flags shared by quote and mission create.
func bindMissionFlags(cmd *cobra.Command, req *domain.MissionRequest) func() domain.MissionRequest {
	var model, platform, missionType, audience string
	cmd.Flags().StringVar(&model, "model", "fixed", "pricing model (fixed|degen)")
	cmd.Flags().StringVar(&platform, "platform", "", "platform")
	cmd.Flags().StringVar(&missionType, "type", "", "mission type (engage|content|ambassador)")
	cmd.Flags().StringVar(&audience, "audience", "all", "audience (all|premium)")
	cmd.Flags().StringSliceVar(&req.Tasks, "task", nil, "task id (repeatable)")
	cmd.Flags().IntVar(&req.Cap, "cap", 0, "participant cap for fixed missions")
	cmd.Flags().IntVar(&req.DurationHours, "duration", 0, "duration in hours for degen missions")
	cmd.Flags().IntVar(&req.WinnersCap, "winners", 0, "winners cap for degen missions")
	cmd.Flags().StringVar(&req.Instructions, "instructions", "", "participant instructions")
	cmd.Flags().StringVar(&req.ContentLink, "content-link", "", "link to the content to engage with")
	return func() domain.MissionRequest {
		out := *req
		out.Model = domain.Model(model)
		out.Platform = domain.Platform(platform)
		out.Type = domain.MissionType(missionType)
		out.Audience = domain.Audience(audience)
		return out
	}
}

func quoteCmd() *cobra.Command {
	var req domain.MissionRequest
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a mission without creating it",
	}
	build := bindMissionFlags(cmd, &req)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
			res, err := e.Quote(build())
			if err != nil {
				return err
			}
			return printPricing(res)
		})
	}
	return cmd
}

func missionCmd() *cobra.Command {
	m := &cobra.Command{Use: "mission", Short: "Manage missions"}
	m.AddCommand(missionCreateCmd())
	m.AddCommand(missionListCmd())
	m.AddCommand(missionShowCmd())
	return m
}

func missionCreateCmd() *cobra.Command {
	var req domain.MissionRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Validate, price and store a mission",
	}
	build := bindMissionFlags(cmd, &req)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
			mission, err := e.CreateMission(ctx, engine.CreateMissionOptions{
				Request:   build(),
				CreatorID: viper.GetString("actor-id"),
			})
			if err != nil {
				return err
			}
			return printMission(mission)
		})
	}
	return cmd
}

func missionListCmd() *cobra.Command {
	var f repo.MissionFilters
	var model, platform string
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List missions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all {
				f.CreatorID = viper.GetString("actor-id")
			}
			f.Model = domain.Model(model)
			f.Platform = domain.Platform(platform)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListMissions(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Creator", "Model", "Platform", "Type", "Honors", "USD", "Created"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.ID, m.CreatorID, m.Request.Model, m.Request.Platform, m.Request.Type,
						m.Pricing.TotalCostHonors, m.Pricing.TotalCostUSD.StringFixed(2), m.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max missions")
	cmd.Flags().StringVar(&model, "model", "", "model filter")
	cmd.Flags().StringVar(&platform, "platform", "", "platform filter")
	cmd.Flags().BoolVar(&all, "all", false, "include every creator")
	return cmd
}

func missionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <mission-id>",
		Short: "Show a mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				mission, err := e.GetMission(ctx, args[0])
				if err != nil {
					return err
				}
				return printMission(mission)
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Everything that happened: missions created, wizard submissions, pricing gaps and divergences, API keys.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.LatestEvents(ctx, n, 0, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, ev := range items {
					tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apiKeyCreateCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, raw, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				out := map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"name":     key.Name,
					"key":      raw,
				}
				if err := printJSON(out); err != nil {
					return err
				}
				fmt.Fprintln(os.Stderr, "store the key now; it cannot be shown again")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.Open(ctx, viper.GetString("workspace"), nil)
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.Config.Server.Addr
			}
			if basePath == "" {
				basePath = a.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret: os.Getenv("MISSIONLINE_JWT_SECRET"),
				DevLogin:  devLogin,
				Logger:    a.Logger.Named("auth"),
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("MISSIONLINE_JWT_SECRET is required for bearer auth")
			}
			sessions, err := a.Sessions(ctx, false)
			if err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				BasePath: basePath,
				Auth:     authCfg,
				Sessions: sessions,
				Logger:   a.Logger.Named("http"),
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			dispatcher := server.NewWebhookDispatcher(a.Engine.Repo, a.Config.Webhooks, a.Logger.Named("webhooks"))

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if dispatcher.Enabled() {
				g.Go(func() error { return dispatcher.Run(gctx) })
			}
			a.Logger.Info("serving missionline api",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.Bool("dev_login", devLogin),
				zap.String("wizard_store", a.Config.Wizard.Store),
			)
			fmt.Printf("Serving Missionline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printPricing(p domain.PricingResult) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	tw := newTable(table.Row{"Field", "Value"})
	tw.AppendRow(table.Row{"Model", p.Model})
	tw.AppendRow(table.Row{"Total Honors", p.TotalCostHonors})
	tw.AppendRow(table.Row{"Total USD", p.TotalCostUSD.StringFixed(2)})
	switch p.Model {
	case domain.ModelFixed:
		tw.AppendRow(table.Row{"Per user Honors", p.PerUserHonors})
	case domain.ModelDegen:
		tw.AppendRow(table.Row{"User pool Honors", p.UserPoolHonors})
		tw.AppendRow(table.Row{"Per winner Honors", p.PerWinnerHonors})
		if p.PoolRemainderHonors > 0 {
			tw.AppendRow(table.Row{"Pool remainder", p.PoolRemainderHonors})
		}
	}
	if len(p.UnpricedTasks) > 0 {
		unpriced := append([]string(nil), p.UnpricedTasks...)
		sort.Strings(unpriced)
		tw.AppendRow(table.Row{"Unpriced tasks", strings.Join(unpriced, ",")})
	}
	tw.Render()
	return nil
}

func printMission(m domain.Mission) error {
	if viper.GetBool("json") {
		return printJSON(m)
	}
	fmt.Printf("Mission %s (%s) by %s at %s\n", m.ID, m.Status, m.CreatorID, m.CreatedAt)
	fmt.Printf("  %s %s/%s for %s: %s\n", m.Request.Model, m.Request.Platform, m.Request.Type, m.Request.Audience, strings.Join(m.Request.Tasks, ","))
	return printPricing(m.Pricing)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
