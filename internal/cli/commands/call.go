package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reclaw/reclaw/internal/client"
	"github.com/reclaw/reclaw/internal/config"
	"github.com/reclaw/reclaw/internal/version"
)

// NewCallCommand creates the call subcommand: a raw RPC invoker for
// scripting and debugging.
func NewCallCommand() *cobra.Command {
	var (
		gatewayURL string
		token      string
		password   string
		rawParams  string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call <method>",
		Short: "Invoke a gateway RPC method",
		Example: `  reclaw call health
  reclaw call sessions.list
  reclaw call chat.send --params '{"sessionKey":"agent:main:main","message":"hi"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := args[0]

			var params interface{}
			if rawParams != "" {
				if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
					return fmt.Errorf("invalid --params JSON: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c := newGatewayClient(gatewayURL, token, password)
			if err := c.Connect(ctx); err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			payload, err := c.Call(ctx, method, params)
			if err != nil {
				return err
			}

			var pretty interface{}
			if err := json.Unmarshal(payload, &pretty); err != nil {
				cmd.Println(string(payload))
				return nil
			}
			encoded, _ := json.MarshalIndent(pretty, "", "  ")
			cmd.Println(string(encoded))
			return nil
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "url", "", "Gateway URL (default ws://127.0.0.1:<port>)")
	cmd.Flags().StringVar(&token, "token", "", "Gateway token")
	cmd.Flags().StringVar(&password, "password", "", "Gateway password")
	cmd.Flags().StringVar(&rawParams, "params", "", "Request params as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	return cmd
}

// newGatewayClient resolves connection defaults from the local config
// when flags are omitted.
func newGatewayClient(url, token, password string) *client.Client {
	cfg, err := config.Load()
	if err == nil {
		if url == "" {
			url = fmt.Sprintf("ws://127.0.0.1:%d", cfg.Port)
		}
		if token == "" && password == "" {
			token = cfg.GatewayToken
			password = cfg.GatewayPassword
		}
	}

	return client.New(client.Options{
		URL:           url,
		Token:         token,
		Password:      password,
		ClientID:      "reclaw-cli",
		ClientVersion: version.Version,
		Mode:          "cli",
	})
}
