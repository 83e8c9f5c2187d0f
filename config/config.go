package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	CommandAddr     string        `yaml:"command_addr"`
	FileAddr        string        `yaml:"file_addr"`
	RelayAddr       string        `yaml:"relay_addr"`
	DBPath          string        `yaml:"db_path"`
	UploadDir       string        `yaml:"upload_dir"`
	ControlSocket   string        `yaml:"control_socket"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	FileIdleTimeout time.Duration `yaml:"file_idle_timeout"`
	TransferTTL     time.Duration `yaml:"transfer_ttl"`
	OutboundQueue   int           `yaml:"outbound_queue"`
	LogLevel        string        `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		CommandAddr:     ":6373",
		FileAddr:        ":6374",
		RelayAddr:       ":6375",
		DBPath:          "chatd.db",
		UploadDir:       "uploads",
		ControlSocket:   "/tmp/chatd.sock",
		WriteTimeout:    30 * time.Second,
		FileIdleTimeout: 60 * time.Second,
		TransferTTL:     5 * time.Minute,
		OutboundQueue:   256,
		LogLevel:        "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and CHATD_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"CHATD_COMMAND_ADDR":   &c.CommandAddr,
		"CHATD_FILE_ADDR":      &c.FileAddr,
		"CHATD_RELAY_ADDR":     &c.RelayAddr,
		"CHATD_DB_PATH":        &c.DBPath,
		"CHATD_UPLOAD_DIR":     &c.UploadDir,
		"CHATD_CONTROL_SOCKET": &c.ControlSocket,
		"CHATD_LOG_LEVEL":      &c.LogLevel,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"CHATD_WRITE_TIMEOUT":     &c.WriteTimeout,
		"CHATD_FILE_IDLE_TIMEOUT": &c.FileIdleTimeout,
		"CHATD_TRANSFER_TTL":      &c.TransferTTL,
	}
	for key, dst := range durations {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
	}

	if v := os.Getenv("CHATD_OUTBOUND_QUEUE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CHATD_OUTBOUND_QUEUE: %w", err)
		}
		c.OutboundQueue = n
	}
	return nil
}

func (c *Config) validate() error {
	var errs []error
	if c.CommandAddr == "" {
		errs = append(errs, errors.New("command_addr is required"))
	}
	if c.FileAddr == "" {
		errs = append(errs, errors.New("file_addr is required"))
	}
	if c.UploadDir == "" {
		errs = append(errs, errors.New("upload_dir is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.TransferTTL <= 0 {
		errs = append(errs, errors.New("transfer_ttl must be positive"))
	}
	if c.OutboundQueue <= 0 {
		errs = append(errs, errors.New("outbound_queue must be positive"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a log_level value onto a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
