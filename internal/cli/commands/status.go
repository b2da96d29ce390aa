package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/reclaw/reclaw/internal/config"
)

const statusTimeout = 2 * time.Second

// gatewayHealth mirrors the /healthz payload.
type gatewayHealth struct {
	OK               bool   `json:"ok"`
	Ts               int64  `json:"ts"`
	Runtime          string `json:"runtime"`
	Version          string `json:"version"`
	ProtocolVersion  int    `json:"protocolVersion"`
	AuthMode         string `json:"authMode"`
	UptimeMs         int64  `json:"uptimeMs"`
	ConnectedClients int    `json:"connectedClients"`
	Sessions         int    `json:"sessions"`
	ChatMessages     int    `json:"chatMessages"`
	CronJobs         int    `json:"cronJobs"`
	Nodes            int    `json:"nodes"`
}

// NewStatusCommand creates the status subcommand.
func NewStatusCommand() *cobra.Command {
	var (
		host       string
		port       int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show Reclaw gateway status",
		Example: `  reclaw status
  reclaw status --host 127.0.0.1 --port 18789 --json`,
		Run: func(cmd *cobra.Command, args []string) {
			actualPort := port
			if actualPort == 0 {
				if cfg, err := config.Load(); err == nil && cfg.Port > 0 {
					actualPort = cfg.Port
				} else {
					actualPort = config.DefaultPort
				}
			}
			runStatus(cmd.OutOrStdout(), host, actualPort, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Gateway host")
	cmd.Flags().IntVar(&port, "port", 0, "Gateway port (default: from config file, or 18789)")
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	return cmd
}

func runStatus(out io.Writer, host string, port int, jsonOutput bool) {
	health, err := fetchGatewayHealth(host, port)

	if jsonOutput {
		if err != nil {
			encoded, _ := json.Marshal(map[string]interface{}{
				"running": false,
				"error":   err.Error(),
			})
			fmt.Fprintln(out, string(encoded))
			return
		}
		data, _ := json.MarshalIndent(health, "", "  ")
		fmt.Fprintln(out, string(data))
		return
	}

	if err != nil {
		fmt.Fprintln(out, "Gateway:   not running")
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Start the gateway with: reclaw gateway start")
		return
	}

	fmt.Fprintf(out, "Gateway:   running on %s:%d\n", host, port)
	fmt.Fprintf(out, "Version:   %s (protocol %d)\n", health.Version, health.ProtocolVersion)
	fmt.Fprintf(out, "Auth:      %s\n", health.AuthMode)
	fmt.Fprintf(out, "Uptime:    %s\n", formatUptime(health.UptimeMs))
	fmt.Fprintf(out, "Clients:   %d connected\n", health.ConnectedClients)
	fmt.Fprintf(out, "Sessions:  %d (%d chat messages)\n", health.Sessions, health.ChatMessages)
	fmt.Fprintf(out, "Cron:      %d jobs\n", health.CronJobs)
	fmt.Fprintf(out, "Nodes:     %d\n", health.Nodes)
}

func fetchGatewayHealth(host string, port int) (*gatewayHealth, error) {
	client := resty.New().SetTimeout(statusTimeout)

	var health gatewayHealth
	resp, err := client.R().
		SetResult(&health).
		Get(fmt.Sprintf("http://%s:%d/healthz", host, port))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to gateway: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode())
	}
	return &health, nil
}

func formatUptime(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
