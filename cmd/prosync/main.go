package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"prosync/internal/app"
	"prosync/internal/config"
	"prosync/internal/db"
	"prosync/internal/domain"
	"prosync/internal/engine"
	"prosync/internal/engine/auth"
	"prosync/internal/migrate"
	"prosync/internal/normalize"
	"prosync/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "prosync",
	Short: "Prosync CLI",
	Long: `Prosync tracks field projects through a kanban board with weighted stage progress.
Core concepts:
- Workspace: the directory holding .prosync/ (database, exports) and prosync.yml.
- Project: a card on the board (BACKLOG -> IN_PROGRESS -> REVIEW -> COMPLETED) with tasks and a comment channel.
- Stages: SURVEY, PLANNING, EXECUTION and FINALIZATION; completed tasks contribute their stage weight to progress.
- Backend: "local" keeps documents in the workspace cache, "sql" keeps relational rows.
- Sync: export/import backups, pull a remote snapshot, render or push the relational change script.`,
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
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PROSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("backend", "", "storage backend (local|sql), overrides config")
	rootCmd.PersistentFlags().String("remote-url", "", "remote snapshot URL, overrides config")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("remote-url", rootCmd.PersistentFlags().Lookup("remote-url"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(syncCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			if secret := viper.GetString("jwt-secret"); secret != "" {
				cfg.Auth.JWTSecret = secret
			}
			logger := log.New(os.Stderr, "", log.LstdFlags)
			a, err := app.Open(cmd.Context(), viper.GetString("workspace"), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := server.New(server.Config{
				Engine:   a.Engine,
				Sync:     a.Sync,
				Hub:      a.Hub,
				BasePath: cfg.Server.BasePath,
				Auth: server.AuthConfig{
					Sessions: auth.Sessions{
						Secret:      []byte(cfg.Auth.JWTSecret),
						TTL:         cfg.SessionTTL(),
						RememberTTL: cfg.RememberTTL(),
					},
					Logger: logger,
				},
				Webhooks: cfg.Webhooks,
			})
			if err != nil {
				return err
			}
			defer handler.Close()

			a.AutoSync(cmd.Context())
			if d := a.Interval(); d > 0 {
				logger.Printf("autosync: pushing change script every %s", d)
			}

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			base := cfg.Server.BasePath
			if base == "" {
				base = "/v1"
			}
			fmt.Printf("Serving Prosync API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", cfg.Server.Addr, base)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().String("jwt-secret", "", "session signing secret (or PROSYNC_JWT_SECRET)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			st, err := migrate.GetStatus(conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(st)
			}
			fmt.Printf("schema at version %d\n", st.CurrentVersion)
			return nil
		},
	}
	cmd.AddCommand(migrateStatusCmd())
	return cmd
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			st, err := migrate.GetStatus(conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(st)
			}
			fmt.Printf("current=%d latest=%d pending=%t dirty=%t\n", st.CurrentVersion, st.LatestVersion, st.Pending, st.Dirty)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
		Long:  "Config lives in prosync.yml (or prosync.toml) at the workspace root: backend, server, auth, sync targets, webhooks and stage weights.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default prosync.yml",
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
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectStatusCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectCommentCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects with progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				views, err := a.Engine.ListProjectViews(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Progress", "Responsible", "Tasks", "Updated"})
				for _, v := range views {
					tw.AppendRow(table.Row{
						v.ID, v.Title, v.Status, fmt.Sprintf("%d%%", v.Progress),
						v.ResponsibleName, len(v.Tasks), normalize.FormatTime(v.UpdatedAt),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project with its stage breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Engine.ProjectView(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				fmt.Printf("%s [%s] %d%%\n", v.Title, v.Status, v.Progress)
				if v.ResponsibleName != "" {
					fmt.Println("responsible:", v.ResponsibleName)
				}
				st := table.NewWriter()
				st.SetOutputMirror(os.Stdout)
				st.AppendHeader(table.Row{"Stage", "Weight", "Done", "Contribution"})
				for _, b := range v.Breakdown {
					st.AppendRow(table.Row{b.Label, fmt.Sprintf("%.0f%%", b.Weight*100), fmt.Sprintf("%d/%d", b.Completed, b.Total), fmt.Sprintf("%.1f", b.Contribution)})
				}
				st.Render()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Stage", "Done", "Responsible"})
				for _, t := range v.Tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Stage, t.Completed, v.TaskResponsibles[t.ID]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var title, desc, responsible, address string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				in := engine.ProjectInput{
					Title:         &title,
					Description:   &desc,
					ResponsibleID: optionalString(responsible),
					Address:       optionalString(address),
				}
				p, err := a.Engine.SaveProject(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "project title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&responsible, "responsible-id", "", "responsible user id")
	cmd.Flags().StringVar(&address, "address", "", "site address")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id> <BACKLOG|IN_PROGRESS|REVIEW|COMPLETED>",
		Short: "Move a project to another column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.SetStatus(ctx, args[0], domain.ProjectStatus(strings.ToUpper(args[1])))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteProject(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func projectCommentCmd() *cobra.Command {
	var author, target string
	cmd := &cobra.Command{
		Use:   "comment <project-id> <message>",
		Short: "Post to a project channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.AddComment(ctx, args[0], author, args[1], target)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&author, "author-id", "", "author user id")
	cmd.Flags().StringVar(&target, "target-user-id", "", "mentioned user id")
	_ = cmd.MarkFlagRequired("author-id")
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage project tasks"}
	t.AddCommand(taskAddCmd())
	t.AddCommand(taskToggleCmd())
	t.AddCommand(taskRemoveCmd())
	return t
}

func taskAddCmd() *cobra.Command {
	var in engine.TaskInput
	var stageID string
	cmd := &cobra.Command{
		Use:   "add <project-id>",
		Short: "Add a task to a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Stage = domain.Stage(strings.ToUpper(stageID))
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.AddTask(ctx, args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "task title")
	cmd.Flags().StringVar(&stageID, "stage", string(domain.StageSurvey), "stage id")
	cmd.Flags().StringVar(&in.ResponsibleID, "responsible-id", "", "responsible user id")
	cmd.Flags().StringVar(&in.Observations, "observations", "", "observations")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <project-id> <task-id>",
		Short: "Flip a task between open and completed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.ToggleTask(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <project-id> <task-id>",
		Short: "Remove a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.RemoveTask(ctx, args[0], args[1])
			})
		},
	}
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userListCmd())
	u.AddCommand(userAddCmd())
	u.AddCommand(userBlockCmd())
	return u
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				users, err := a.Engine.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Username", "Role", "Status", "Admin"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Username, u.Role, u.Status, u.IsAdmin})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userAddCmd() *cobra.Command {
	var in engine.UserInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.Password == "" {
				in.Password = viper.GetString("password")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.SaveUser(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.Username, "username", "", "login name")
	cmd.Flags().StringVar(&in.Password, "password", "", "password (or PROSYNC_PASSWORD)")
	cmd.Flags().StringVar(&in.Role, "role", "", "job role")
	cmd.Flags().BoolVar(&in.IsAdmin, "admin", false, "grant administrator rights")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func userBlockCmd() *cobra.Command {
	var unblock bool
	cmd := &cobra.Command{
		Use:   "block <user-id>",
		Short: "Block (or --unblock) a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.GetUser(ctx, args[0])
				if err != nil {
					return err
				}
				status := domain.UserBlocked
				if unblock {
					status = domain.UserActive
				}
				saved, err := a.Engine.SaveUser(ctx, engine.UserInput{
					ID:       u.ID,
					Name:     u.Name,
					Role:     u.Role,
					Username: u.Username,
					Status:   status,
					IsAdmin:  u.IsAdmin,
					Avatar:   u.Avatar,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().BoolVar(&unblock, "unblock", false, "reactivate instead")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show board figures",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.Stats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Metric", "Value"})
				tw.AppendRow(table.Row{"projects", s.TotalProjects})
				tw.AppendRow(table.Row{"members", s.Members})
				for _, st := range domain.ProjectStatuses {
					tw.AppendRow(table.Row{strings.ToLower(string(st)), s.ByStatus[st]})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func syncCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "sync",
		Short: "Backup, restore and remote sync",
	}
	s.AddCommand(syncExportCmd())
	s.AddCommand(syncImportCmd())
	s.AddCommand(syncPullCmd())
	s.AddCommand(syncScriptCmd())
	s.AddCommand(syncPushCmd())
	return s
}

func syncExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a full backup document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if out == "" {
					location, err := a.Sync.ExportTo(ctx)
					if err != nil {
						return err
					}
					fmt.Println("exported", location)
					return nil
				}
				snap, err := a.Sync.Export(ctx)
				if err != nil {
					return err
				}
				data, err := normalize.EncodeSnapshot(snap)
				if err != nil {
					return err
				}
				if out == "-" {
					_, err = os.Stdout.Write(data)
					return err
				}
				if err := os.WriteFile(out, data, 0o600); err != nil {
					return err
				}
				fmt.Println("exported", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (- for stdout); defaults to the workspace export dir")
	return cmd
}

func syncImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace all data with a backup document",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sum, err := a.Sync.Import(ctx, data)
				if err != nil {
					return err
				}
				return printSummary("imported", sum.Users, sum.Projects, sum.Agenda)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "backup file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func syncPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Replace all data with the remote snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				sum, err := a.Sync.Pull(ctx)
				if err != nil {
					return err
				}
				return printSummary("pulled", sum.Users, sum.Projects, sum.Agenda)
			})
		},
	}
}

func syncScriptCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "script",
		Short: "Render the relational change script",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				script, err := a.Sync.Script(ctx)
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Print(script)
					return nil
				}
				return os.WriteFile(out, []byte(script), 0o600)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (stdout when empty)")
	return cmd
}

func syncPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Apply the change script remotely, falling back to an export file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Sync.PushScript(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				if d.Direct {
					fmt.Println("change script applied remotely")
					return nil
				}
				if d.DirectErr != "" {
					fmt.Println("direct write failed:", d.DirectErr)
				}
				fmt.Println("change script saved to", d.Location)
				return nil
			})
		},
	}
}

// --- helpers ---

// loadConfig reads the workspace config and applies flag/env overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if b := viper.GetString("backend"); b != "" {
		cfg.Backend = b
	}
	if u := viper.GetString("remote-url"); u != "" {
		cfg.Sync.RemoteURL = u
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, log.New(os.Stderr, "", log.LstdFlags))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printSummary(verb string, users, projects, agenda int) error {
	if viper.GetBool("json") {
		return printJSON(map[string]int{"users": users, "projects": projects, "agenda": agenda})
	}
	fmt.Printf("%s %d users, %d projects, %d agenda items\n", verb, users, projects, agenda)
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

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
