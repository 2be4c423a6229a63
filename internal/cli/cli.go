package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignatij/goscout/internal/app"
	"github.com/ignatij/goscout/internal/config"
	"github.com/ignatij/goscout/internal/log"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/ignatij/goscout/pkg/service"
	"github.com/spf13/cobra"
)

// SetupCLI registers the goscout commands and the shared --db/--config flags.
func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("db", "", "Database connection string (defaults to DATABASE_URL or DB_* env vars)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (defaults to GOSCOUT_CONFIG)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the queue workers and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
	serveCmd.Flags().Int("port", 0, "HTTP port (overrides PORT)")

	scoutCmd := &cobra.Command{Use: "scout", Short: "Manage scouts"}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a scout and generate its todos",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			query, _ := cmd.Flags().GetString("query")
			freq, _ := cmd.Flags().GetString("frequency")
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			scout, todos, err := a.Scouts.CreateScout(cmd.Context(), service.CreateScoutRequest{
				UserID:                user,
				UserQuery:             query,
				NotificationFrequency: models.NotificationFrequency(strings.ToUpper(freq)),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created scout %s with %d todos\n", scout.ID, len(todos))
			for _, t := range todos {
				fmt.Fprintf(cmd.OutOrStdout(), "- %s [%s/%s] %s\n", t.ID, t.AgentType, t.TaskType, t.Title)
			}
			return nil
		},
	}
	createCmd.Flags().String("user", "", "User id owning the scout")
	createCmd.Flags().String("query", "", "What the scout should monitor")
	createCmd.Flags().String("frequency", string(models.AIDecideFrequency), "EVERY_HOUR, ONCE_A_DAY, ONCE_A_WEEK or AI_DECIDE")
	_ = createCmd.MarkFlagRequired("user")
	_ = createCmd.MarkFlagRequired("query")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all scouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			scouts, err := a.Scouts.ListScouts(cmd.Context())
			if err != nil {
				return err
			}
			if len(scouts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No scouts found.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Scouts:")
			for _, s := range scouts {
				fmt.Fprintf(cmd.OutOrStdout(), "- ID: %s, Status: %s, Frequency: %s, Created: %s, Query: %s\n",
					s.ID, s.Status, s.NotificationFrequency, s.CreatedAt.Format(time.RFC3339), s.UserQuery)
			}
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status [scout-id]",
		Short: "Print the status report of a scout as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.Scouts.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	scoutCmd.AddCommand(createCmd, listCmd, statusCmd)

	schedulerCmd := &cobra.Command{Use: "scheduler", Short: "Run scheduler passes"}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scheduler action and wait for the jobs it queued",
		RunE: func(cmd *cobra.Command, args []string) error {
			action, _ := cmd.Flags().GetString("action")
			wait, _ := cmd.Flags().GetDuration("wait")
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}
			res, err := a.Scheduler.RunAction(cmd.Context(), action)
			if err != nil {
				return err
			}
			if err := drain(cmd.Context(), a, wait); err != nil {
				log.GetLogger().Warnf("Queue not drained: %v", err)
			}
			return printJSON(cmd, res)
		},
	}
	runCmd.Flags().String("action", service.ActionProcess, "One of "+strings.Join(service.Actions, ", "))
	runCmd.Flags().Duration("wait", 2*time.Minute, "How long to wait for queued jobs to finish")
	schedulerCmd.AddCommand(runCmd)

	rootCmd.AddCommand(serveCmd, scoutCmd, schedulerCmd)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.DatabaseURL = db
	}
	if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
		port, _ := cmd.Flags().GetInt("port")
		cfg.Port = port
	}
	return cfg, nil
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		log.GetLogger().Errorf("Failed to load config: %v", err)
		return nil, err
	}
	log.GetLogger().Debugf("Running %s with db: %q", cmd.CommandPath(), cfg.DatabaseURL)
	return app.New(ctx, cfg)
}

// drain waits until the queue has no waiting, active or delayed jobs.
func drain(ctx context.Context, a *app.App, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		s := a.Queue.Stats()
		if s.Waiting+s.Active+s.Delayed == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
