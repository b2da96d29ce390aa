package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/reclaw/reclaw/internal/config"
)

// NewConfigureCommand creates the configure subcommand.
func NewConfigureCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Configure the Reclaw gateway",
		Long:  `Interactive setup that writes ~/.reclaw/reclaw.json.`,
		Example: `  reclaw configure`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigure(cmd)
		},
	}
}

func runConfigure(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	reader := bufio.NewReader(cmd.InOrStdin())

	cfg, err := config.Load()
	if err != nil {
		cfg = &config.Config{
			Host:               "127.0.0.1",
			Port:               config.DefaultPort,
			MaxPayloadBytes:    config.DefaultMaxPayloadBytes,
			MaxBufferedBytes:   config.DefaultMaxBufferedBytes,
			HandshakeTimeoutMs: config.DefaultHandshakeTimeoutMs,
			TickIntervalMs:     config.DefaultTickIntervalMs,
			CronEnabled:        true,
			CronPollMs:         config.DefaultCronPollMs,
			CronRunsLimit:      config.DefaultCronRunsLimit,
			AuthMaxAttempts:    config.DefaultAuthMaxAttempts,
			AuthWindowMs:       config.DefaultAuthWindowMs,
			LogFilter:          config.DefaultLogFilter,
		}
	}

	fmt.Fprintln(out, "Reclaw Configuration")
	fmt.Fprintln(out, "====================")
	fmt.Fprintln(out)

	host := promptString(out, reader, "Bind host", cfg.Host)
	cfg.Host = host

	portInput := promptString(out, reader, "Port", strconv.Itoa(cfg.Port))
	if port, err := strconv.Atoi(portInput); err == nil && port > 0 && port <= 65535 {
		cfg.Port = port
	} else {
		fmt.Fprintf(out, "Keeping port %d\n", cfg.Port)
	}

	mode := promptString(out, reader, "Auth mode (none/token/password)", currentAuthLabel(cfg))
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case config.AuthModeToken:
		secret, err := promptSecret(out, "Gateway token")
		if err != nil {
			return err
		}
		cfg.GatewayToken = secret
		cfg.GatewayPassword = ""
	case config.AuthModePassword:
		secret, err := promptSecret(out, "Gateway password")
		if err != nil {
			return err
		}
		cfg.GatewayPassword = secret
		cfg.GatewayToken = ""
	default:
		cfg.GatewayToken = ""
		cfg.GatewayPassword = ""
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Wrote %s\n", config.ConfigPath())
	fmt.Fprintln(out, "Start the gateway with: reclaw gateway start")
	return nil
}

func currentAuthLabel(cfg *config.Config) string {
	mode, _, err := cfg.AuthMode()
	if err != nil {
		return config.AuthModeNone
	}
	return mode
}

func promptString(out io.Writer, reader *bufio.Reader, label, fallback string) string {
	fmt.Fprintf(out, "%s [%s]: ", label, fallback)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return fallback
	}
	return input
}

// promptSecret reads without echo when stdin is a terminal.
func promptSecret(out io.Writer, label string) (string, error) {
	fmt.Fprintf(out, "%s: ", label)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
