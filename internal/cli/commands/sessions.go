package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// NewSessionsCommand creates the sessions subcommand.
func NewSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored conversation sessions",
	}

	cmd.AddCommand(newSessionsListCommand())
	cmd.AddCommand(newSessionsDeleteCommand())
	return cmd
}

func newSessionsListCommand() *cobra.Command {
	var (
		limit      int
		gatewayURL string
		token      string
		password   string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List sessions",
		Example: `  reclaw sessions list --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			c := newGatewayClient(gatewayURL, token, password)
			if err := c.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			payload, err := c.Call(ctx, "sessions.list", map[string]interface{}{"limit": limit})
			if err != nil {
				return err
			}

			var result struct {
				Sessions []struct {
					ID          string   `json:"id"`
					Title       string   `json:"title"`
					Tags        []string `json:"tags"`
					UpdatedAtMs int64    `json:"updatedAtMs"`
				} `json:"sessions"`
			}
			if err := json.Unmarshal(payload, &result); err != nil {
				return fmt.Errorf("failed to decode sessions: %w", err)
			}
			if len(result.Sessions) == 0 {
				cmd.Println("No sessions found.")
				return nil
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Key", "Title", "Tags", "Updated"})
			table.SetBorder(false)
			table.SetAutoWrapText(false)
			for _, session := range result.Sessions {
				table.Append([]string{
					session.ID,
					session.Title,
					formatTags(session.Tags),
					formatRecency(session.UpdatedAtMs),
				})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Limit number of sessions shown")
	cmd.Flags().StringVar(&gatewayURL, "url", "", "Gateway URL")
	cmd.Flags().StringVar(&token, "token", "", "Gateway token")
	cmd.Flags().StringVar(&password, "password", "", "Gateway password")
	return cmd
}

func newSessionsDeleteCommand() *cobra.Command {
	var (
		gatewayURL string
		token      string
		password   string
	)

	cmd := &cobra.Command{
		Use:     "delete <key>",
		Short:   "Delete one session and its messages",
		Example: `  reclaw sessions delete agent:main:main`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			c := newGatewayClient(gatewayURL, token, password)
			if err := c.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			payload, err := c.Call(ctx, "sessions.delete", map[string]interface{}{"key": args[0]})
			if err != nil {
				return err
			}
			var result struct {
				Deleted bool `json:"deleted"`
			}
			_ = json.Unmarshal(payload, &result)
			if result.Deleted {
				cmd.Printf("Deleted session %s\n", args[0])
			} else {
				cmd.Printf("Session %s not found\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "url", "", "Gateway URL")
	cmd.Flags().StringVar(&token, "token", "", "Gateway token")
	cmd.Flags().StringVar(&password, "password", "", "Gateway password")
	return cmd
}

func formatTags(tags []string) string {
	if len(tags) == 0 {
		return "-"
	}
	out := tags[0]
	for _, tag := range tags[1:] {
		out += ", " + tag
	}
	return out
}

func formatRecency(ms int64) string {
	if ms == 0 {
		return "-"
	}
	since := time.Since(time.UnixMilli(ms))
	if since < time.Minute {
		return "just now"
	}
	return since.Round(time.Second).String() + " ago"
}
