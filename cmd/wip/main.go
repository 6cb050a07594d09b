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
	"gopkg.in/yaml.v3"

	"wiptrack/internal/config"
	"wiptrack/internal/db"
	"wiptrack/internal/domain"
	"wiptrack/internal/engine"
	"wiptrack/internal/gateway"
	"wiptrack/internal/migrate"
	"wiptrack/internal/repo"
	"wiptrack/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "wip",
	Short: "WIP tracking CLI",
	Long: `wip tracks work-in-progress financials for fixed-estimate projects.
Tasks sit on a per-project board (pending, in_progress, completed); moving a
task between buckets changes its status and triggers a recalculation of the
project's WIP snapshot: actual hours worked, labor cost, billable amount at
the project's blended rate, gross margin and completion percentage.
Import projects with estimates, move tasks as work progresses, record
actuals, and read the snapshot with 'wip show'.`,
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
	viper.SetEnvPrefix("WIPTRACK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(wipCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectImportCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Client", "Est. Hours", "Est. Billable", "Est. Margin"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.ClientName, p.EstimatedHours, p.EstimatedBillableAmount, p.EstimatedGrossMargin})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				target, err := resolveProject(ctx, r)
				if err != nil {
					return err
				}
				p, err := r.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a project with its task estimates from a YAML or JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var spec engine.ProjectImport
			if strings.HasSuffix(file, ".json") {
				if err := json.Unmarshal(data, &spec); err != nil {
					return fmt.Errorf("invalid import file: %w", err)
				}
			} else {
				if err := yaml.Unmarshal(data, &spec); err != nil {
					return fmt.Errorf("invalid import file: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.ImportProject(ctx, spec)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "import file (yaml or json)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func boardCmd() *cobra.Command {
	b := &cobra.Command{Use: "board", Short: "Task board"}
	b.AddCommand(boardShowCmd())
	return b
}

func boardShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the task board partitioned by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				target, err := resolveProjectEngine(ctx, e)
				if err != nil {
					return err
				}
				b, err := e.LoadBoard(ctx, target)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string][]domain.TaskEstimate{
						string(domain.StatusPending):    b.Bucket(domain.StatusPending),
						string(domain.StatusInProgress): b.Bucket(domain.StatusInProgress),
						string(domain.StatusCompleted):  b.Bucket(domain.StatusCompleted),
					})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Bucket", "#", "ID", "Name", "Est. Hours", "Act. Hours", "Act. Cost"})
				for _, status := range domain.Statuses {
					for i, t := range b.Bucket(status) {
						tw.AppendRow(table.Row{status, i, t.ID, t.Name, t.EstimatedHours, floatOrDash(t.ActualHours), floatOrDash(t.ActualCost)})
					}
					tw.AppendSeparator()
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks"}
	t.AddCommand(taskMoveCmd())
	t.AddCommand(taskActualsCmd())
	return t
}

func taskMoveCmd() *cobra.Command {
	var to string
	var index int
	cmd := &cobra.Command{
		Use:   "move <task-id>",
		Short: "Move a task to another bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				target, err := resolveProjectEngine(ctx, e)
				if err != nil {
					return err
				}
				b, err := e.LoadBoard(ctx, target)
				if err != nil {
					return err
				}
				snapshot, err := e.ApplyMove(ctx, b, engine.MoveRequest{
					TaskID:           args[0],
					Destination:      domain.Status(to),
					DestinationIndex: index,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(snapshot)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "destination bucket (pending, in_progress, completed)")
	cmd.Flags().IntVar(&index, "index", 0, "position in the destination bucket")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func taskActualsCmd() *cobra.Command {
	var hours, cost float64
	cmd := &cobra.Command{
		Use:   "actuals <task-id>",
		Short: "Record actual hours and cost on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var hoursPtr, costPtr *float64
			if cmd.Flags().Changed("hours") {
				hoursPtr = &hours
			}
			if cmd.Flags().Changed("cost") {
				costPtr = &cost
			}
			if hoursPtr == nil && costPtr == nil {
				return fmt.Errorf("--hours or --cost required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				target, err := resolveProjectEngine(ctx, e)
				if err != nil {
					return err
				}
				b, err := e.LoadBoard(ctx, target)
				if err != nil {
					return err
				}
				snapshot, err := e.RecordActuals(ctx, b, args[0], hoursPtr, costPtr)
				if err != nil {
					return err
				}
				return printJSONOrTable(snapshot)
			})
		},
	}
	cmd.Flags().Float64Var(&hours, "hours", 0, "actual hours worked")
	cmd.Flags().Float64Var(&cost, "cost", 0, "actual labor cost (defaults to hours x hourly rate)")
	return cmd
}

func wipCmd() *cobra.Command {
	w := &cobra.Command{Use: "wip", Short: "WIP snapshots"}
	w.AddCommand(wipShowCmd())
	w.AddCommand(wipListCmd())
	w.AddCommand(wipRecalcCmd())
	return w
}

func wipShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the project's WIP snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				target, err := resolveProject(ctx, r)
				if err != nil {
					return err
				}
				s, err := r.GetSnapshot(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func wipListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List WIP snapshots for all projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSnapshotOverviews(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Project", "Name", "Hours", "Cost", "Billable", "Margin", "Complete %", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ProjectID, s.ProjectName, s.ActualHoursWorked, s.ActualLaborCost, s.ActualBillableAmount, s.ActualGrossMargin, s.CompletionPercentage, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func wipRecalcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Recalculate and overwrite the project's WIP snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				target, err := resolveProjectEngine(ctx, e)
				if err != nil {
					return err
				}
				s, err := e.Recalculate(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	c.AddCommand(configInitCmd())
	c.AddCommand(configShowCmd())
	return c
}

func configInitCmd() *cobra.Command {
	var projectID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default wiptrack.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project-id", "", "default project id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default(viper.GetString("project"))
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Audit event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, viper.GetString("project"), evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default("")
			}
			gw := gateway.NewSQLite(conn, viper.GetString("actor-id"))
			e := engine.New(gw, cfg)
			handler, err := server.New(server.Config{
				Engine:   e,
				Repo:     repo.Repo{DB: conn},
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: os.Getenv("WIPTRACK_JWT_SECRET")},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving WIP tracking API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default(viper.GetString("project"))
	}
	gw := gateway.NewSQLite(conn, viper.GetString("actor-id"))
	e := engine.New(gw, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// resolveProject picks the target project: --project flag, then the config
// default, then the only project in the workspace.
func resolveProject(ctx context.Context, r repo.Repo) (string, error) {
	if target := strings.TrimSpace(viper.GetString("project")); target != "" {
		return target, nil
	}
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return "", err
	}
	if cfg != nil && cfg.Project.ID != "" {
		return cfg.Project.ID, nil
	}
	p, err := r.SingleProject(ctx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", fmt.Errorf("project not specified; use --project or set project.id in wiptrack.yml")
		}
		return "", err
	}
	return p.ID, nil
}

func resolveProjectEngine(ctx context.Context, e engine.Engine) (string, error) {
	if target := strings.TrimSpace(viper.GetString("project")); target != "" {
		return target, nil
	}
	if e.Config != nil && e.Config.Project.ID != "" {
		return e.Config.Project.ID, nil
	}
	if gw, ok := e.Gateway.(*gateway.SQLite); ok {
		p, err := gw.Repo.SingleProject(ctx)
		if err == nil {
			return p.ID, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return "", err
		}
	}
	return "", fmt.Errorf("project not specified; use --project or set project.id in wiptrack.yml")
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

func floatOrDash(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
