package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cmdgate/internal/config"
	"cmdgate/internal/credit"
	"cmdgate/internal/domain"
	"cmdgate/internal/exec"
	"cmdgate/internal/gateway"
	"cmdgate/internal/metrics"
	"cmdgate/internal/notify"
	"cmdgate/internal/rule"
	"cmdgate/internal/server"
	"cmdgate/internal/store"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "cmdgate",
		Short: "cmdgate: rule-gated command execution service",
		Long:  "cmdgate accepts shell commands over HTTP, admits them through a regex rule engine with admin approval and per-user credits, and streams lifecycle events over websocket.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.cmdgate/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long:  "Starts the HTTP API and websocket event stream. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		cfg.Store.DBPath = config.ExpandPath(cfg.Store.DBPath)
	}
	logger = buildLogger(cfg.General)

	if err := os.MkdirAll(config.DefaultConfigDir(), 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := bootstrapAdmin(ctx, st, cfg.Admin, cfg.Credits.AdminCredits); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if err := seedRules(ctx, st, cfg.Rules.SeedFile); err != nil {
		return fmt.Errorf("seed rules: %w", err)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	hub := notify.NewHub(notify.HubConfig{
		BufferSize: cfg.Notify.BufferSize,
		Logger:     logger,
		Metrics:    collector,
	})

	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			Token:  cfg.Notify.Telegram.Token,
			ChatID: cfg.Notify.Telegram.ChatID,
			Logger: logger,
		})
		if err != nil {
			logger.Error("telegram forwarder disabled", "err", err)
		} else {
			hub.AddForwarder(tg.Forward)
			logger.Info("telegram forwarder enabled")
		}
	}

	ledger := credit.NewLedger(st, logger)
	engine := rule.NewEngine(st, domain.RuleAction(cfg.Rules.DefaultAction), logger)

	var sandbox domain.Sandbox
	switch cfg.Executor.Mode {
	case "shell":
		sandbox = exec.NewShell(exec.ShellConfig{
			WorkingDir:     cfg.Executor.WorkingDir,
			TimeoutSeconds: cfg.Executor.TimeoutSeconds,
			MaxOutputBytes: cfg.Executor.MaxOutputBytes,
		})
	default:
		sandbox = exec.NewSimulator()
	}

	gw := gateway.New(gateway.Config{
		Store:       st,
		Rules:       engine,
		Ledger:      ledger,
		Sandbox:     sandbox,
		Notifier:    hub,
		Metrics:     collector,
		Logger:      logger,
		CommandCost: cfg.Credits.CommandCost,
	})

	srv := server.New(server.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		Store:         st,
		Gateway:       gw,
		Ledger:        ledger,
		Hub:           hub,
		Metrics:       collector,
		Logger:        logger,
		MemberCredits: cfg.Credits.MemberCredits,
		AdminCredits:  cfg.Credits.AdminCredits,
	})

	logger.Info("cmdgate started", "version", version, "executor", cfg.Executor.Mode)
	return srv.Start(ctx)
}

// bootstrapAdmin creates the first admin account when no admin exists. The
// generated API key is logged once; it is not retrievable afterwards.
func bootstrapAdmin(ctx context.Context, st domain.Store, cfg config.AdminConfig, credits int) error {
	admins, err := st.ListAdmins(ctx)
	if err != nil {
		return err
	}
	if len(admins) > 0 {
		return nil
	}

	key := cfg.APIKey
	generated := false
	if key == "" {
		key = server.NewAPIKey()
		generated = true
	}

	now := time.Now().UTC()
	admin := domain.User{
		ID:        server.NewID(),
		Name:      cfg.Name,
		APIKey:    key,
		Role:      domain.RoleAdmin,
		Credits:   credits,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.CreateUser(ctx, admin); err != nil {
		return err
	}

	if generated {
		logger.Info("created admin account", "name", admin.Name, "api_key", key)
	} else {
		logger.Info("created admin account", "name", admin.Name)
	}
	return nil
}

// seedRules loads the YAML rule pack when configured. Seeding only applies
// to an empty rule table.
func seedRules(ctx context.Context, st domain.Store, seedFile string) error {
	if seedFile == "" {
		return nil
	}
	seeds, err := rule.LoadSeedFile(seedFile)
	if err != nil {
		return err
	}
	return rule.Seed(ctx, st, seeds, logger)
}

func buildLogger(cfg config.GeneralConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			out = f
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)

			st, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				logger.Info("store", "path", cfg.Store.DBPath, "open", false, "err", err)
				return nil
			}
			defer st.Close()

			ctx := context.Background()
			ruleCount, _ := st.CountRules(ctx)
			pending, _ := st.ListPendingCommands(ctx)
			users, _ := st.ListUsers(ctx)
			logger.Info("store", "path", cfg.Store.DBPath, "rules", ruleCount, "pending", len(pending), "users", len(users))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. server.port)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. server.port 9090)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
