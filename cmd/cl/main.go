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

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chronoline/internal/app"
	"chronoline/internal/config"
	"chronoline/internal/db"
	"chronoline/internal/domain"
	"chronoline/internal/engine"
	"chronoline/internal/repo"
	"chronoline/internal/schema"
	"chronoline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Chronoline CLI",
	Long: `Chronoline tracks consulting time: imputations, imputation periods, time
logs, and the tickets they are billed against.

Imputations and periods move through DRAFT -> SUBMITTED -> VALIDATED/REJECTED,
and validated work is marked as sent to StraTIME. The workspace is a
.chronoline directory holding the SQLite database; chronoline.yml configures
the API server, admin account, and webhooks.`,
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
	viper.SetEnvPrefix("CHRONOLINE")
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
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ticketCmd())
	rootCmd.AddCommand(imputationCmd())
	rootCmd.AddCommand(periodCmd())
	rootCmd.AddCommand(timeLogCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(auditCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize workspace and write default chronoline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			secret := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
			if err := os.WriteFile(path, []byte(config.GenerateDefault(secret)), 0o600); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				fmt.Println("database up to date at", db.Path(viper.GetString("workspace")))
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Ensure the admin account from chronoline.yml exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				cfg, err := env.RequireConfig()
				if err != nil {
					return err
				}
				if cfg.Admin.Email == "" {
					return fmt.Errorf("no admin configured in %s", config.Path(viper.GetString("workspace")))
				}
				// app.Open already seeds; report the resulting account.
				u, err := env.Engine.Repo.GetUserByEmail(ctx, cfg.Admin.Email)
				if err != nil {
					return err
				}
				fmt.Printf("admin %s (%s)\n", u.Email, u.ID)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath, configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				var cfg *config.Config
				var err error
				if configPath != "" {
					cfg, err = config.FromFile(configPath)
				} else {
					cfg, err = env.RequireConfig()
				}
				if err != nil {
					return err
				}
				listen := addr
				if listen == "" {
					listen = cfg.Server.Listen
				}
				logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "chronoline"})
				authCfg := server.AuthConfig{
					JWTSecret:              cfg.Server.JWTSecret,
					TokenTTLMinutes:        cfg.TokenTTL(),
					AllowLegacyActorHeader: cfg.Server.AllowActorHeader,
					Logger:                 logger,
				}
				handler, err := server.New(server.Config{Engine: env.Engine, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				server.StartWebhookDispatcher(ctx, env.Engine, cfg.Webhooks, logger)
				srv := &http.Server{Addr: listen, Handler: handler}
				go func() {
					<-ctx.Done()
					shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutCtx)
				}()
				logger.Info("serving API", "addr", listen, "base_path", basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&configPath, "config", "", "config file (defaults to chronoline.yml in the workspace)")
	return cmd
}

func ticketCmd() *cobra.Command {
	t := &cobra.Command{Use: "ticket", Short: "Manage tickets"}
	t.AddCommand(ticketCreateCmd())
	t.AddCommand(ticketListCmd())
	t.AddCommand(ticketShowCmd())
	t.AddCommand(ticketUpdateCmd())
	return t
}

func ticketCreateCmd() *cobra.Command {
	var projectID, title, classification, description, assignee, estimate string
	var tags []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				est := decimal.Zero
				if estimate != "" {
					var err error
					est, err = decimal.NewFromString(estimate)
					if err != nil {
						return fmt.Errorf("--estimate-hours must be a decimal number")
					}
				}
				t, err := env.Engine.CreateTicket(ctx, engine.TicketCreateOptions{
					ProjectID:      projectID,
					Title:          title,
					Classification: classification,
					Description:    description,
					AssigneeID:     assignee,
					EstimateHours:  est,
					Tags:           tags,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().StringVar(&title, "title", "", "ticket title")
	cmd.Flags().StringVar(&classification, "classification", "", "classification code")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&assignee, "assignee-id", "", "assignee user id")
	cmd.Flags().StringVar(&estimate, "estimate-hours", "", "estimate in hours")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag (repeatable)")
	return cmd
}

func ticketListCmd() *cobra.Command {
	var f repo.TicketFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				tickets, err := env.Engine.Repo.ListTickets(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tickets)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Title", "Classification", "Status", "Assignee"})
				for _, t := range tickets {
					assignee := ""
					if t.AssigneeID != nil {
						assignee = *t.AssigneeID
					}
					tw.AppendRow(table.Row{t.TicketCode, t.Title, t.Classification, t.Status, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func ticketShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				t, err := env.Engine.Repo.GetTicket(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	return cmd
}

func ticketUpdateCmd() *cobra.Command {
	var title, status, assignee, effort string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update ticket fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				changes := map[string]any{}
				if title != "" {
					changes["title"] = title
				}
				if status != "" {
					changes["status"] = status
				}
				if assignee != "" {
					changes["assignee_id"] = assignee
				}
				if effort != "" {
					d, err := decimal.NewFromString(effort)
					if err != nil {
						return fmt.Errorf("--effort-hours must be a decimal number")
					}
					changes["effort_hours"] = d.String()
				}
				t, err := env.Engine.UpdateTicket(ctx, args[0], changes, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&assignee, "assignee-id", "", "new assignee")
	cmd.Flags().StringVar(&effort, "effort-hours", "", "recorded effort in hours")
	return cmd
}

func imputationCmd() *cobra.Command {
	im := &cobra.Command{Use: "imputation", Short: "Manage imputations"}
	im.AddCommand(imputationCreateCmd())
	im.AddCommand(imputationListCmd())
	im.AddCommand(imputationShowCmd())
	im.AddCommand(imputationActionCmd("validate", "Validate imputation",
		func(e engine.Engine) func(context.Context, string, string) error {
			return func(ctx context.Context, id, actor string) error {
				im, err := e.ValidateImputation(ctx, id, actor)
				if err != nil {
					return err
				}
				return printJSON(im)
			}
		}))
	im.AddCommand(imputationActionCmd("reject", "Reject imputation",
		func(e engine.Engine) func(context.Context, string, string) error {
			return func(ctx context.Context, id, actor string) error {
				im, err := e.RejectImputation(ctx, id, actor)
				if err != nil {
					return err
				}
				return printJSON(im)
			}
		}))
	return im
}

func imputationActionCmd(use, short string, mk func(engine.Engine) func(context.Context, string, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return mk(env.Engine)(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func imputationCreateCmd() *cobra.Command {
	var consultant, ticket, project, date, hours, comment string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create imputation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				h, err := decimal.NewFromString(hours)
				if err != nil {
					return fmt.Errorf("--hours must be a decimal number")
				}
				im, err := env.Engine.CreateImputation(ctx, engine.ImputationCreateOptions{
					ConsultantID: consultant,
					TicketID:     ticket,
					ProjectID:    project,
					Date:         date,
					Hours:        h,
					Comment:      comment,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(im)
			})
		},
	}
	cmd.Flags().StringVar(&consultant, "consultant-id", "", "consultant user id")
	cmd.Flags().StringVar(&ticket, "ticket-id", "", "ticket id")
	cmd.Flags().StringVar(&project, "project", "", "project id (defaults to the ticket's)")
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&hours, "hours", "", "hours worked")
	cmd.Flags().StringVar(&comment, "comment", "", "comment")
	return cmd
}

func imputationListCmd() *cobra.Command {
	var f repo.ImputationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List imputations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Engine.Repo.ListImputations(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Consultant", "Ticket", "Date", "Hours", "Status"})
				for _, im := range items {
					tw.AppendRow(table.Row{im.ID, im.ConsultantID, im.TicketID, im.Date, im.Hours.String(), im.ValidationStatus})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ConsultantID, "consultant-id", "", "consultant filter")
	cmd.Flags().StringVar(&f.TicketID, "ticket-id", "", "ticket filter")
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func imputationShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show imputation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				im, err := env.Engine.Repo.GetImputation(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(im)
			})
		},
	}
}

func periodCmd() *cobra.Command {
	p := &cobra.Command{Use: "period", Short: "Manage imputation periods"}
	p.AddCommand(periodCreateCmd())
	p.AddCommand(periodListCmd())
	p.AddCommand(periodShowCmd())
	p.AddCommand(periodActionCmd("submit", "Submit period for validation",
		func(e engine.Engine) periodAction { return e.SubmitPeriod }))
	p.AddCommand(periodActionCmd("validate", "Validate period",
		func(e engine.Engine) periodAction { return e.ValidatePeriod }))
	p.AddCommand(periodActionCmd("reject", "Reject period",
		func(e engine.Engine) periodAction { return e.RejectPeriod }))
	p.AddCommand(periodActionCmd("send", "Mark period as sent to StraTIME",
		func(e engine.Engine) periodAction { return e.SendPeriodToStraTIME }))
	return p
}

type periodAction = func(context.Context, string, string) (domain.ImputationPeriod, error)

func periodActionCmd(use, short string, mk func(engine.Engine) periodAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := mk(env.Engine)(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func periodCreateCmd() *cobra.Command {
	var consultant, key, start, end string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create imputation period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := env.Engine.CreatePeriod(ctx, engine.PeriodCreateOptions{
					ConsultantID: consultant,
					PeriodKey:    key,
					StartDate:    start,
					EndDate:      end,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&consultant, "consultant-id", "", "consultant user id")
	cmd.Flags().StringVar(&key, "period-key", "", "period key, e.g. 2026-08")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	return cmd
}

func periodListCmd() *cobra.Command {
	var consultant, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List imputation periods",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Engine.Repo.ListPeriods(ctx, consultant, status, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Consultant", "Period", "Status", "Sent"})
				for _, p := range items {
					sent := ""
					if p.SentToStraTIME {
						sent = "yes"
					}
					tw.AppendRow(table.Row{p.ID, p.ConsultantID, p.PeriodKey, p.Status, sent})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&consultant, "consultant-id", "", "consultant filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func periodShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show imputation period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				p, err := env.Engine.Repo.GetPeriod(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func timeLogCmd() *cobra.Command {
	tl := &cobra.Command{Use: "time-log", Short: "Manage time logs"}
	tl.AddCommand(timeLogCreateCmd())
	tl.AddCommand(timeLogListCmd())
	tl.AddCommand(timeLogSendCmd())
	return tl
}

func timeLogCreateCmd() *cobra.Command {
	var consultant, ticket, project, date, duration string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create time log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				d, err := decimal.NewFromString(duration)
				if err != nil {
					return fmt.Errorf("--duration must be a decimal number")
				}
				tl, err := env.Engine.CreateTimeLog(ctx, engine.TimeLogCreateOptions{
					ConsultantID: consultant,
					TicketID:     ticket,
					ProjectID:    project,
					Date:         date,
					Duration:     d,
					ActorID:      viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(tl)
			})
		},
	}
	cmd.Flags().StringVar(&consultant, "consultant-id", "", "consultant user id")
	cmd.Flags().StringVar(&ticket, "ticket-id", "", "ticket id")
	cmd.Flags().StringVar(&project, "project", "", "project id")
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&duration, "duration", "", "duration in hours")
	return cmd
}

func timeLogListCmd() *cobra.Command {
	var consultant string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List time logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Engine.Repo.ListTimeLogs(ctx, consultant, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Consultant", "Date", "Duration", "Sent"})
				for _, tl := range items {
					sent := ""
					if tl.SentToStraTIME {
						sent = "yes"
					}
					tw.AppendRow(table.Row{tl.ID, tl.ConsultantID, tl.Date, tl.Duration.String(), sent})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&consultant, "consultant-id", "", "consultant filter")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows")
	return cmd
}

func timeLogSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <id>",
		Short: "Mark time log as sent to StraTIME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				tl, err := env.Engine.SendTimeLogToStraTIME(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(tl)
			})
		},
	}
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	var email, name, role, password string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				user, err := env.Engine.CreateUser(ctx, engine.UserCreateOptions{
					Email:    email,
					Name:     name,
					Role:     role,
					Password: password,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(user)
			})
		},
	}
	create.Flags().StringVar(&email, "email", "", "email address")
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&role, "role", "", "role (default consultant)")
	create.Flags().StringVar(&password, "password", "", "password")
	u.AddCommand(create)
	return u
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "api-key", Short: "Manage API keys"}
	var userID, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create API key (prints the key once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				key, raw, err := env.Engine.CreateAPIKey(ctx, userID, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"id": key.ID, "user_id": key.UserID, "name": key.Name, "key": raw})
			})
		},
	}
	create.Flags().StringVar(&userID, "user-id", "", "owning user id")
	create.Flags().StringVar(&name, "name", "", "key label")
	k.AddCommand(create)

	list := &cobra.Command{
		Use:   "list <user-id>",
		Short: "List API keys for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				keys, err := env.Engine.Repo.ListAPIKeys(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(keys)
			})
		},
	}
	k.AddCommand(list)

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return env.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	k.AddCommand(del)
	return k
}

// recordKindArgs validates that the first positional argument names a kind
// served by the generic records surface.
func recordKindArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return err
		}
		for _, k := range schema.GenericKinds() {
			if args[0] == k {
				return nil
			}
		}
		return fmt.Errorf("unknown record kind %q (expected one of: %s)", args[0], strings.Join(schema.GenericKinds(), ", "))
	}
}

func recordCmd() *cobra.Command {
	r := &cobra.Command{Use: "record", Short: "Generic record CRUD (" + strings.Join(schema.GenericKinds(), ", ") + ")"}

	var data string
	create := &cobra.Command{
		Use:   "create <kind>",
		Short: "Create record from JSON",
		Args:  recordKindArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				var rec map[string]any
				if err := json.Unmarshal([]byte(data), &rec); err != nil {
					return fmt.Errorf("--data must be a JSON object: %w", err)
				}
				out, err := env.Engine.CreateRecord(ctx, args[0], rec, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	create.Flags().StringVar(&data, "data", "{}", "record fields as JSON")
	r.AddCommand(create)

	show := &cobra.Command{
		Use:   "show <kind> <id>",
		Short: "Show record",
		Args:  recordKindArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				rec, err := env.Engine.GetRecord(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	r.AddCommand(show)

	var limit int
	list := &cobra.Command{
		Use:   "list <kind>",
		Short: "List records",
		Args:  recordKindArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				recs, err := env.Engine.ListRecords(ctx, args[0], nil, limit)
				if err != nil {
					return err
				}
				return printJSON(recs)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "max rows")
	r.AddCommand(list)

	var updateData string
	update := &cobra.Command{
		Use:   "update <kind> <id>",
		Short: "Update record from JSON",
		Args:  recordKindArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				var changes map[string]any
				if err := json.Unmarshal([]byte(updateData), &changes); err != nil {
					return fmt.Errorf("--data must be a JSON object: %w", err)
				}
				out, err := env.Engine.UpdateRecord(ctx, args[0], args[1], changes, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	update.Flags().StringVar(&updateData, "data", "{}", "changed fields as JSON")
	r.AddCommand(update)

	del := &cobra.Command{
		Use:   "delete <kind> <id>",
		Short: "Delete record",
		Args:  recordKindArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				return env.Engine.DeleteRecord(ctx, args[0], args[1], viper.GetString("actor-id"))
			})
		},
	}
	r.AddCommand(del)
	return r
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{Use: "audit", Short: "Inspect the audit log"}
	var n int
	var entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				entries, err := env.Engine.Repo.ListAudit(ctx, n, 0, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Action", "Entity", "Actor"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.ID, entry.TS, entry.Action, entry.EntityKind + "/" + entry.EntityID, entry.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of entries")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	a.AddCommand(tail)
	return a
}

func withEnv(ctx context.Context, fn func(context.Context, *app.Env) error) error {
	env, err := app.Open(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
