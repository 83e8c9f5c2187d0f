package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"chatd/config"

	"github.com/spf13/cobra"
)

// controlTarget is what the control socket operates on.
type controlTarget interface {
	GetStats() string
	Shutdown(reason string, until time.Time)
}

func listenControl(path string) (net.Listener, error) {
	// Remove a stale socket left by a previous run.
	os.Remove(path)
	return net.Listen("unix", path)
}

// serveControl answers operator commands until the listener is closed.
// A shutdown command also calls stop.
func serveControl(ln net.Listener, target controlTarget, stop func(), logger *slog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("control accept", "error", err)
			continue
		}
		go handleControlCommand(conn, target, stop, logger)
	}
}

func handleControlCommand(conn net.Conn, target controlTarget, stop func(), logger *slog.Logger) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(line), "|", 3)

	switch parts[0] {
	case "stats":
		fmt.Fprintf(conn, "OK|%s\n", target.GetStats())

	case "shutdown":
		reason := "maintenance"
		var until time.Time
		if len(parts) >= 2 && parts[1] != "" {
			reason = parts[1]
		}
		if len(parts) >= 3 && parts[2] != "" {
			t, err := time.Parse(time.RFC3339, parts[2])
			if err != nil {
				fmt.Fprintf(conn, "ERROR|Invalid completion time %q\n", parts[2])
				return
			}
			until = t
		}

		fmt.Fprintln(conn, "OK|Shutting down")
		logger.Info("shutdown requested", "reason", reason, "until", until)
		target.Shutdown(reason, until)
		stop()

	default:
		fmt.Fprintln(conn, "ERROR|Unknown command")
	}
}

// sendControl sends one command line to the control socket and returns the
// reply body.
func sendControl(path, line string) (string, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return "", fmt.Errorf("connect to control socket %s: %w", path, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	if _, err := fmt.Fprintln(conn, line); err != nil {
		return "", err
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read control reply: %w", err)
	}
	status, body, _ := strings.Cut(strings.TrimSpace(reply), "|")
	if status != "OK" {
		return "", errors.New(body)
	}
	return body, nil
}

func controlSocketPath(configPath, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", err
	}
	return cfg.ControlSocket, nil
}

func newStatsCmd(configPath *string) *cobra.Command {
	var socket string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print statistics of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := controlSocketPath(*configPath, socket)
			if err != nil {
				return err
			}
			stats, err := sendControl(path, "stats")
			if err != nil {
				return err
			}
			for _, field := range strings.Split(stats, ",") {
				fmt.Fprintln(cmd.OutOrStdout(), field)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&socket, "socket", "", "control socket path (overrides config)")
	return cmd
}

func newShutdownCmd(configPath *string) *cobra.Command {
	var (
		socket string
		reason string
		until  string
	)
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Ask a running server to notify clients and stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			if until != "" {
				if _, err := time.Parse(time.RFC3339, until); err != nil {
					return fmt.Errorf("--until must be RFC3339: %w", err)
				}
			}
			path, err := controlSocketPath(*configPath, socket)
			if err != nil {
				return err
			}
			reply, err := sendControl(path, "shutdown|"+reason+"|"+until)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&socket, "socket", "", "control socket path (overrides config)")
	cmd.Flags().StringVar(&reason, "reason", "maintenance", "reason sent to connected clients")
	cmd.Flags().StringVar(&until, "until", "", "expected completion time (RFC3339)")
	return cmd
}
