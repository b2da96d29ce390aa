// Package commands provides CLI subcommands for reclaw.
package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/reclaw/reclaw/internal/config"
	"github.com/reclaw/reclaw/internal/gateway"
	"github.com/reclaw/reclaw/internal/store"
)

// NewGatewayCommand creates the gateway subcommand.
func NewGatewayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Manage the Reclaw gateway server",
		Example: `  reclaw gateway start -d
  reclaw gateway status`,
	}

	cmd.PersistentFlags().IntP("port", "p", config.DefaultPort, "Gateway port")
	cmd.PersistentFlags().String("host", "127.0.0.1", "Gateway host")
	cmd.PersistentFlags().BoolP("detached", "d", false, "Run in background")

	cmd.AddCommand(newGatewayStartCommand())
	cmd.AddCommand(newGatewayStopCommand())
	cmd.AddCommand(newGatewayRestartCommand())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runGatewayStart(cmd)
	}
	return cmd
}

func newGatewayStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the gateway server",
		Example: `  # Foreground default
  reclaw gateway start

  # Background with custom host/port
  reclaw gateway start --detached --host 0.0.0.0 --port 9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGatewayStart(cmd)
		},
	}
}

func newGatewayStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stop",
		Short:   "Stop the gateway server",
		Example: `  reclaw gateway stop`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGatewayStop(cmd)
		},
	}
}

func newGatewayRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "restart",
		Short:   "Restart the gateway server",
		Example: `  reclaw gateway restart`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Restarting gateway server...")
			if err := runGatewayStop(cmd); err != nil {
				fmt.Fprintf(out, "Warning: stop failed (%v), continuing to start...\n", err)
			}
			return runGatewayStart(cmd)
		},
	}
}

func runGatewayStart(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			fmt.Fprintln(out, "No Reclaw config found.")
			fmt.Fprintln(out, "Run: reclaw configure")
			return err
		}
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	detached, _ := cmd.Flags().GetBool("detached")

	if detached {
		return startDetached(out, cfg)
	}

	// Single instance check.
	if err := os.MkdirAll(config.StateDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	fileLock := flock.New(gatewayLockPath())
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("error checking lock file: %w", err)
	}
	if !locked {
		fmt.Fprintln(out, "Error: Reclaw gateway is already running.")
		fmt.Fprintf(out, "Lock file found at: %s\n", gatewayLockPath())
		return fmt.Errorf("gateway already running")
	}
	defer func() { _ = fileLock.Unlock() }()

	if err := writeGatewayPID(); err != nil {
		return err
	}
	defer func() { _ = removeGatewayPID() }()

	log := newGatewayLogger(cfg)

	st, err := store.Open(cfg.ResolvedDBPath())
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	state, err := gateway.NewSharedState(cfg, st, log)
	if err != nil {
		return err
	}
	server := gateway.NewServer(state, log)

	if os.Getenv("RECLAW_SKIP_GATEWAY_START") == "true" {
		fmt.Fprintln(out, "Skipping actual server start for testing.")
		return nil
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	return nil
}

func startDetached(out io.Writer, cfg *config.Config) error {
	if err := ensureGatewayNotRunning(); err != nil {
		return err
	}

	logDir := filepath.Join(config.StateDir(), "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}
	logPath := filepath.Join(logDir, "gateway.log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	executable, err := os.Executable()
	if err != nil {
		executable = "reclaw"
	}

	// Explicit flags, never --detached, or the child forks forever.
	childArgs := []string{
		"gateway", "start",
		"--port", strconv.Itoa(cfg.Port),
		"--host", cfg.Host,
	}
	c := exec.Command(executable, childArgs...)
	c.Stdout = logFile
	c.Stderr = logFile

	if err := c.Start(); err != nil {
		_ = logFile.Close()
		return fmt.Errorf("failed to start background process: %w", err)
	}
	_ = logFile.Close()

	fmt.Fprintf(out, "Reclaw gateway started in background (PID: %d)\n", c.Process.Pid)
	fmt.Fprintf(out, "Logs: %s\n", logPath)
	fmt.Fprintln(out, "Use 'reclaw logs' to view logs.")
	return nil
}

func runGatewayStop(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	pid, err := readGatewayPID()
	if err != nil {
		return fmt.Errorf("gateway not running (pid file missing)")
	}
	if !checkProcessRunning(pid) {
		_ = removeGatewayPID()
		return fmt.Errorf("gateway process not running (stale pid file)")
	}
	if err := terminateProcess(pid); err != nil {
		return fmt.Errorf("failed to stop gateway (pid %d): %w", pid, err)
	}
	fmt.Fprintf(out, "Sent stop signal to gateway (PID %d)\n", pid)
	waitForProcessExit(pid, 3*time.Second)
	return nil
}

func newGatewayLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogFilter)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.JSONLogs {
		log = zerolog.New(os.Stdout)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return log.Level(level).With().Timestamp().Str("component", "gateway").Logger()
}

func gatewayLockPath() string {
	return filepath.Join(config.StateDir(), "reclaw-gateway.lock")
}

func gatewayPIDPath() string {
	return filepath.Join(config.StateDir(), "reclaw-gateway.pid")
}

func writeGatewayPID() error {
	if err := os.MkdirAll(config.StateDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	return os.WriteFile(gatewayPIDPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readGatewayPID() (int, error) {
	data, err := os.ReadFile(gatewayPIDPath())
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file")
	}
	return pid, nil
}

func removeGatewayPID() error {
	return os.Remove(gatewayPIDPath())
}

func ensureGatewayNotRunning() error {
	if err := os.MkdirAll(config.StateDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	fileLock := flock.New(gatewayLockPath())
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("error checking lock file: %w", err)
	}
	if !locked {
		return fmt.Errorf("gateway already running")
	}
	_ = fileLock.Unlock()
	return nil
}
