package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chatd/config"
	"chatd/db"
	"chatd/server"

	"github.com/spf13/cobra"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *configPath)
		},
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func serverConfig(cfg *config.Config) *server.ServerConfig {
	return &server.ServerConfig{
		CommandAddr:     cfg.CommandAddr,
		FileAddr:        cfg.FileAddr,
		RelayAddr:       cfg.RelayAddr,
		UploadDir:       cfg.UploadDir,
		WriteTimeout:    cfg.WriteTimeout,
		FileIdleTimeout: cfg.FileIdleTimeout,
		TransferTTL:     cfg.TransferTTL,
		OutboundQueue:   cfg.OutboundQueue,
	}
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), level)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer database.Close()

	// Nobody can be connected before the server starts.
	if err := database.ResetPresence(); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}

	srv := server.New(database, serverConfig(cfg), logger)
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ControlSocket != "" {
		ln, err := listenControl(cfg.ControlSocket)
		if err != nil {
			logger.Warn("control socket unavailable", "path", cfg.ControlSocket, "error", err)
		} else {
			defer os.Remove(cfg.ControlSocket)
			defer ln.Close()
			go serveControl(ln, srv, stop, logger)
			logger.Info("control socket listening", "path", cfg.ControlSocket)
		}
	}

	return srv.Serve(ctx)
}
