package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sarthi/internal/app"
	"sarthi/internal/db"
	"sarthi/internal/domain"
	"sarthi/internal/engine"
	"sarthi/internal/ledger"
	"sarthi/internal/scheduler"
	"sarthi/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sarthi",
	Short: "Sarthi coaching CLI",
	Long: `Sarthi coaches you toward a stated goal.
It turns free-form goals into multi-week resolutions, materializes
week-1 tasks for approval, generates an idempotent focus snapshot every
week, flags slippage with executable remediation options, and records
every autonomous action in an append-only agent log.`,
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
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SARTHI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", "local-user", "user identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(resolutionCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(interveneCmd())
	rootCmd.AddCommand(prefsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(jobsCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.Init(viper.GetString("workspace"), viper.GetBool("force"))
			if err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func resolutionCmd() *cobra.Command {
	res := &cobra.Command{Use: "resolution", Short: "Manage resolutions"}
	res.AddCommand(resolutionCreateCmd())
	res.AddCommand(resolutionListCmd())
	res.AddCommand(resolutionShowCmd())
	res.AddCommand(resolutionDecomposeCmd())
	res.AddCommand(resolutionApproveCmd())
	return res
}

func resolutionCreateCmd() *cobra.Command {
	var weeks int
	cmd := &cobra.Command{
		Use:   "create <goal text>",
		Short: "Create a resolution from goal text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var dw *int
				if cmd.Flags().Changed("weeks") {
					dw = &weeks
				}
				res, err := e.Intake(ctx, viper.GetString("user"), strings.Join(args, " "), dw)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().IntVar(&weeks, "weeks", 8, "duration in weeks")
	return cmd
}

func resolutionListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resolutions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListResolutions(ctx, viper.GetString("user"), status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Weeks", "Status"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Title, r.Type, r.DurationWeeks, r.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (draft|active)")
	return cmd
}

func resolutionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a resolution with plan and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, tasks, err := e.GetResolution(ctx, viper.GetString("user"), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"resolution": res, "tasks": tasks})
			})
		},
	}
}

func resolutionDecomposeCmd() *cobra.Command {
	var weeks int
	var regenerate bool
	cmd := &cobra.Command{
		Use:   "decompose <id>",
		Short: "Expand a resolution into milestones and week-1 draft tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var w *int
				if cmd.Flags().Changed("weeks") {
					w = &weeks
				}
				plan, tasks, err := e.Decompose(ctx, viper.GetString("user"), args[0], w, regenerate)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"plan": plan, "week1_tasks": tasks})
			})
		},
	}
	cmd.Flags().IntVar(&weeks, "weeks", 0, "plan length override (4-12)")
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "discard draft tasks and rebuild")
	return cmd
}

func resolutionApproveCmd() *cobra.Command {
	var decision, editsJSON string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Accept, reject or regenerate the draft plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var edits []engine.TaskEdit
				if editsJSON != "" {
					if err := json.Unmarshal([]byte(editsJSON), &edits); err != nil {
						return fmt.Errorf("parse --edits: %w", err)
					}
				}
				result, err := e.Approve(ctx, viper.GetString("user"), args[0], decision, edits)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"status":          result.Resolution.Status,
					"activated_tasks": result.ActivatedTasks,
				})
			})
		},
	}
	cmd.Flags().StringVar(&decision, "decision", "accept", "accept|reject|regenerate")
	cmd.Flags().StringVar(&editsJSON, "edits", "", "task edits as a JSON array")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCompleteCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var weekStart, resolutionID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTasks(ctx, viper.GetString("user"), engine.TaskListOptions{WeekStart: weekStart, ResolutionID: resolutionID})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Day", "Time", "Min", "Done", "Draft"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Title, orDash(t.ScheduledDay), orDash(t.ScheduledTime), orDashInt(t.DurationMinutes), t.Completed, t.Draft})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&weekStart, "week-start", "", "only tasks in the week starting this Monday")
	cmd.Flags().StringVar(&resolutionID, "resolution", "", "only tasks of this resolution")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a task complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CompleteTask(ctx, viper.GetString("user"), args[0], !undo)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "mark incomplete instead")
	return cmd
}

func planCmd() *cobra.Command {
	plan := &cobra.Command{Use: "plan", Short: "Weekly focus snapshots"}
	plan.AddCommand(planRunCmd())
	plan.AddCommand(planLatestCmd())
	plan.AddCommand(planHistoryCmd())
	return plan
}

func planRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Generate (or return) the snapshot for the coming week",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RunWeeklyPlan(ctx, viper.GetString("user"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printSnapshot(res)
			})
		},
	}
}

func planLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Show the latest snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.GetLatestWeeklyPlan(ctx, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printEntry(entry)
			})
		},
	}
}

func planHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Past snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.ListWeeklyPlanHistory(ctx, viper.GetString("user"), limit)
				if err != nil {
					return err
				}
				return printEntries(entries)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of snapshots")
	return cmd
}

func interveneCmd() *cobra.Command {
	iv := &cobra.Command{Use: "intervene", Short: "Slippage checks and remediation"}
	iv.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Evaluate the current week for slippage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RunInterventions(ctx, viper.GetString("user"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printSnapshot(res)
			})
		},
	})
	iv.AddCommand(&cobra.Command{
		Use:   "respond <option>",
		Short: "Execute a remediation option from this week's card",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RespondIntervention(ctx, viper.GetString("user"), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Println(res.Message)
				for _, c := range res.Changes {
					fmt.Println("  -", c)
				}
				return nil
			})
		},
	})
	return iv
}

func prefsCmd() *cobra.Command {
	prefs := &cobra.Command{Use: "prefs", Short: "Coaching preferences"}
	prefs.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetPreferences(ctx, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})
	prefs.AddCommand(prefsSetCmd())
	return prefs
}

func prefsSetCmd() *cobra.Command {
	var paused, weekly, interventions bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				current, err := e.GetPreferences(ctx, viper.GetString("user"))
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("paused") {
					current.CoachingPaused = paused
				}
				if cmd.Flags().Changed("weekly-plans") {
					current.WeeklyPlansEnabled = weekly
				}
				if cmd.Flags().Changed("interventions") {
					current.InterventionsEnabled = interventions
				}
				p, err := e.UpdatePreferences(ctx, viper.GetString("user"), current)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().BoolVar(&paused, "paused", false, "pause coaching")
	cmd.Flags().BoolVar(&weekly, "weekly-plans", true, "enable weekly plans")
	cmd.Flags().BoolVar(&interventions, "interventions", true, "enable interventions")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Agent action ledger"}
	lg.AddCommand(logListCmd())
	lg.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.GetAgentLogItem(ctx, viper.GetString("user"), args[0])
				if err != nil {
					return err
				}
				return printEntry(entry)
			})
		},
	})
	lg.AddCommand(&cobra.Command{
		Use:   "undo <id>",
		Short: "Undo an undoable ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entry, err := e.UndoAction(ctx, viper.GetString("user"), args[0])
				if err != nil {
					return err
				}
				return printEntry(entry)
			})
		},
	})
	return lg
}

func logListCmd() *cobra.Command {
	var cursor, actionType string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Page through the ledger, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				page, err := e.ListAgentLog(ctx, viper.GetString("user"), cursor, limit, actionType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Action", "Summary", "Created"})
				for _, entry := range page.Items {
					tw.AppendRow(table.Row{entry.ID, entry.ActionType, ledger.Summarize(entry), entry.CreatedAt})
				}
				tw.Render()
				if page.NextCursor != "" {
					fmt.Println("next cursor:", page.NextCursor)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size (1-100)")
	cmd.Flags().StringVar(&actionType, "type", "", "action type filter")
	return cmd
}

func jobsCmd() *cobra.Command {
	jobs := &cobra.Command{Use: "jobs", Short: "Batch jobs over all users"}
	jobs.AddCommand(&cobra.Command{
		Use:   "run [weekly|interventions|all]",
		Short: "Run batch jobs once",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			which := "all"
			if len(args) == 1 {
				which = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s := scheduler.New(e, e.Config)
				out := map[string]scheduler.Result{}
				if which == "weekly" || which == "all" {
					res, err := s.RunWeeklyPlans(ctx)
					if err != nil {
						return err
					}
					out["weekly_plan"] = res
				}
				if which == "interventions" || which == "all" {
					res, err := s.RunInterventions(ctx)
					if err != nil {
						return err
					}
					out["interventions"] = res
				}
				return printJSONOrTable(out)
			})
		},
	})
	return jobs
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var withScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer ws.Close()
			e := engine.New(ws.DB, ws.Config)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
			if err != nil {
				return err
			}
			if withScheduler {
				go func() {
					if err := scheduler.New(e, ws.Config).Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
						fmt.Println("scheduler:", err)
					}
				}()
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Sarthi API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8484", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "run the batch scheduler in-process")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	ws, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer ws.Close()
	return fn(ctx, engine.New(ws.DB, ws.Config))
}

func printSnapshot(res engine.SnapshotResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	if res.Skipped {
		fmt.Println("skipped:", res.Reason)
		return nil
	}
	if res.Reused {
		fmt.Println("already generated this week; returning existing entry")
	}
	return printEntry(res.Entry)
}

func printEntry(entry domain.ActionEntry) error {
	if viper.GetBool("json") {
		return printJSON(entry)
	}
	fmt.Printf("%s  %s\n%s\n", entry.CreatedAt, entry.ActionType, ledger.Summarize(entry))
	var payload any
	if err := json.Unmarshal([]byte(entry.PayloadJSON), &payload); err == nil {
		b, _ := json.MarshalIndent(payload, "", "  ")
		fmt.Println(string(b))
	}
	return nil
}

func printEntries(entries []domain.ActionEntry) error {
	if viper.GetBool("json") {
		return printJSON(entries)
	}
	for _, entry := range entries {
		fmt.Printf("%s  %s  %s\n", entry.CreatedAt, entry.ID, ledger.Summarize(entry))
	}
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func orDashInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
