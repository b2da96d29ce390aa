package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// NewCronCommand creates the cron command.
func NewCronCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage cron jobs (via gateway)",
		Long:  `Manage scheduled jobs. Requires the gateway to be running.`,
		Example: `  reclaw cron list
  reclaw cron add --name "Ping" --every 1h --message "ping"`,
	}

	cmd.AddCommand(newCronListCommand())
	cmd.AddCommand(newCronAddCommand())
	cmd.AddCommand(newCronRmCommand())
	cmd.AddCommand(newCronRunCommand())
	cmd.AddCommand(newCronRunsCommand())
	return cmd
}

func cronConnFlags(cmd *cobra.Command, gatewayURL, token, password *string) {
	cmd.Flags().StringVar(gatewayURL, "url", "", "Gateway URL")
	cmd.Flags().StringVar(token, "token", "", "Gateway token")
	cmd.Flags().StringVar(password, "password", "", "Gateway password")
}

func newCronListCommand() *cobra.Command {
	var gatewayURL, token, password string
	var includeDisabled bool

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List cron jobs",
		Example: `  reclaw cron list`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			c := newGatewayClient(gatewayURL, token, password)
			if err := c.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			payload, err := c.Call(ctx, "cron.list", map[string]interface{}{
				"includeDisabled": includeDisabled,
			})
			if err != nil {
				return err
			}

			var result struct {
				Jobs []struct {
					ID       string `json:"id"`
					Name     string `json:"name"`
					Enabled  bool   `json:"enabled"`
					Schedule struct {
						Kind string `json:"kind"`
						Expr string `json:"expr"`
					} `json:"schedule"`
					NextRunMs *int64 `json:"nextRunMs"`
				} `json:"jobs"`
			}
			if err := json.Unmarshal(payload, &result); err != nil {
				return fmt.Errorf("failed to decode jobs: %w", err)
			}
			if len(result.Jobs) == 0 {
				cmd.Println("No cron jobs.")
				return nil
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"ID", "Name", "Enabled", "Schedule", "Next Run"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)
			for _, job := range result.Jobs {
				schedule := job.Schedule.Kind
				if job.Schedule.Expr != "" {
					schedule += " " + job.Schedule.Expr
				}
				nextRun := "-"
				if job.NextRunMs != nil {
					nextRun = time.UnixMilli(*job.NextRunMs).Format(time.RFC3339)
				}
				table.Append([]string{
					job.ID,
					job.Name,
					fmt.Sprintf("%t", job.Enabled),
					schedule,
					nextRun,
				})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeDisabled, "all", true, "Include disabled jobs")
	cronConnFlags(cmd, &gatewayURL, &token, &password)
	return cmd
}

func newCronAddCommand() *cobra.Command {
	var (
		gatewayURL, token, password string
		name, cronExpr, every       string
		at                          string
		message                     string
		disabled                    bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a cron job",
		Example: `  reclaw cron add --name "Daily digest" --cron "0 9 * * *" --message "digest"
  reclaw cron add --name "Ping" --every 30m --message "ping"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule := map[string]interface{}{}
			switch {
			case cronExpr != "":
				schedule["kind"] = "cron"
				schedule["expr"] = cronExpr
			case every != "":
				duration, err := time.ParseDuration(every)
				if err != nil {
					return fmt.Errorf("invalid --every duration: %w", err)
				}
				schedule["kind"] = "every"
				schedule["everyMs"] = duration.Milliseconds()
			case at != "":
				schedule["kind"] = "at"
				schedule["at"] = at
			default:
				return fmt.Errorf("one of --cron, --every or --at is required")
			}
			if message == "" {
				return fmt.Errorf("--message is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			c := newGatewayClient(gatewayURL, token, password)
			if err := c.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			payload, err := c.Call(ctx, "cron.add", map[string]interface{}{
				"name":     name,
				"enabled":  !disabled,
				"schedule": schedule,
				"payload": map[string]interface{}{
					"kind":    "agentTurn",
					"message": message,
				},
			})
			if err != nil {
				return err
			}

			var job struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(payload, &job)
			cmd.Printf("Created cron job %s\n", job.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Job name")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression schedule")
	cmd.Flags().StringVar(&every, "every", "", "Interval schedule (e.g. 30m, 1h)")
	cmd.Flags().StringVar(&at, "at", "", "One-shot schedule, RFC 3339 timestamp")
	cmd.Flags().StringVar(&message, "message", "", "Agent message to run")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the job disabled")
	cronConnFlags(cmd, &gatewayURL, &token, &password)
	return cmd
}

func newCronRmCommand() *cobra.Command {
	var gatewayURL, token, password string

	cmd := &cobra.Command{
		Use:     "rm <id>",
		Short:   "Remove a cron job",
		Example: `  reclaw cron rm job-1234`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			c := newGatewayClient(gatewayURL, token, password)
			if err := c.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			payload, err := c.Call(ctx, "cron.remove", map[string]interface{}{"id": args[0]})
			if err != nil {
				return err
			}
			var result struct {
				Removed bool `json:"removed"`
			}
			_ = json.Unmarshal(payload, &result)
			if result.Removed {
				cmd.Printf("Removed cron job %s\n", args[0])
			} else {
				cmd.Printf("Cron job %s not found\n", args[0])
			}
			return nil
		},
	}

	cronConnFlags(cmd, &gatewayURL, &token, &password)
	return cmd
}

func newCronRunCommand() *cobra.Command {
	var gatewayURL, token, password string

	cmd := &cobra.Command{
		Use:     "run <id>",
		Short:   "Run a cron job immediately",
		Example: `  reclaw cron run job-1234`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			c := newGatewayClient(gatewayURL, token, password)
			if err := c.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			payload, err := c.Call(ctx, "cron.run", map[string]interface{}{"id": args[0]})
			if err != nil {
				return err
			}
			var run struct {
				ID     string `json:"runId"`
				Status string `json:"status"`
			}
			_ = json.Unmarshal(payload, &run)
			cmd.Printf("Run %s finished with status %s\n", run.ID, run.Status)
			return nil
		},
	}

	cronConnFlags(cmd, &gatewayURL, &token, &password)
	return cmd
}

func newCronRunsCommand() *cobra.Command {
	var gatewayURL, token, password string
	var limit int

	cmd := &cobra.Command{
		Use:     "runs [id]",
		Short:   "Show recent cron run history",
		Example: `  reclaw cron runs job-1234 --limit 10`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			c := newGatewayClient(gatewayURL, token, password)
			if err := c.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			params := map[string]interface{}{"limit": limit}
			if len(args) == 1 {
				params["id"] = args[0]
			}
			payload, err := c.Call(ctx, "cron.runs", params)
			if err != nil {
				return err
			}

			var result struct {
				Runs []struct {
					ID          string `json:"runId"`
					JobID       string `json:"jobId"`
					Status      string `json:"status"`
					StartedAtMs int64  `json:"startedAtMs"`
				} `json:"runs"`
			}
			if err := json.Unmarshal(payload, &result); err != nil {
				return fmt.Errorf("failed to decode runs: %w", err)
			}
			if len(result.Runs) == 0 {
				cmd.Println("No cron runs recorded.")
				return nil
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Run", "Job", "Status", "Started"})
			table.SetBorder(false)
			for _, run := range result.Runs {
				table.Append([]string{
					run.ID,
					run.JobID,
					run.Status,
					time.UnixMilli(run.StartedAtMs).Format(time.RFC3339),
				})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Limit number of runs shown")
	cronConnFlags(cmd, &gatewayURL, &token, &password)
	return cmd
}
