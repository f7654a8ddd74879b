package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"burrow/internal/config"
	"burrow/internal/controller"
	"burrow/internal/daemon"
	"burrow/internal/history"
	"burrow/internal/profile"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	root := &cobra.Command{
		Use:     "burrow",
		Short:   "Burrow - sandbox policy controller for burrowd",
		Long:    "Burrow manages sandbox policy profiles and drives the burrowd daemon over its unix socket.",
		Version: version,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.burrow/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(shellCmd())
	root.AddCommand(profilesCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize burrow config and profile directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				fmt.Printf("Config already exists: %s\n", cfgPath)
				return nil
			}

			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			if err := os.MkdirAll(cfg.General.ProfilesDir, 0o755); err != nil {
				return fmt.Errorf("create profiles dir: %w", err)
			}

			logger.Info("initialized", "config", cfgPath, "profiles", cfg.General.ProfilesDir)
			fmt.Printf("Config written to %s\n", cfgPath)
			fmt.Printf("Profile directory: %s\n", cfg.General.ProfilesDir)
			fmt.Println("Next: run 'burrow wizard' to create a profile, or 'burrow shell' to start editing.")
			return nil
		},
	}
}

func profilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect stored policy profiles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List profiles in the profile directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadOrDefaults()
			store := profile.NewStore(cfg.General.ProfilesDir, logger)
			profiles, err := store.Load()
			if err != nil {
				return err
			}
			if len(profiles) == 0 {
				fmt.Printf("No profiles in %s\n", store.Dir())
				return nil
			}
			for _, p := range profiles {
				desc := p.Description
				if desc == "" {
					desc = "-"
				}
				fmt.Printf("%-20s net=%-8s %s\n", p.Name, p.Capabilities.Network, desc)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Show one profile in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadOrDefaults()
			store := profile.NewStore(cfg.General.ProfilesDir, logger)
			profiles, err := store.Load()
			if err != nil {
				return err
			}
			for _, p := range profiles {
				if p.Name == args[0] {
					printProfileDetail(os.Stdout, p)
					return nil
				}
			}
			return fmt.Errorf("profile %q not found in %s", args[0], store.Dir())
		},
	})

	return cmd
}

func historyCmd() *cobra.Command {
	var refresh bool
	var filter string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show cached sandbox run history",
		Long: `Shows the locally cached run history. With --refresh, connects to burrowd,
fetches the current sandbox list through the controller, and updates the cache.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadOrDefaults()
			if !cfg.History.Enabled {
				return fmt.Errorf("history cache is disabled (set history.enabled=true in %s)", resolveConfigPath())
			}

			cache, err := history.NewStore(cfg.History.DBPath, logger)
			if err != nil {
				return fmt.Errorf("open history db: %w", err)
			}
			defer cache.Close()

			if refresh {
				if err := refreshHistory(cmd.Context(), cfg, cache); err != nil {
					return err
				}
			}

			if limit <= 0 {
				limit = cfg.History.Limit
			}
			records, err := cache.List(cmd.Context(), filter, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No run history recorded.")
				return nil
			}
			printHistoryTable(os.Stdout, records)
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch current state from burrowd before listing")
	cmd.Flags().StringVar(&filter, "filter", "", "substring match on sandbox id or profile name")
	cmd.Flags().IntVar(&limit, "limit", 0, "max rows to show (default: history.limit from config)")
	return cmd
}

// refreshHistory drives a full history load through the controller so the
// cache update path is the same one the shell uses.
func refreshHistory(ctx context.Context, cfg *config.Config, cache *history.Store) error {
	cl, err := daemon.Dial(daemon.ClientConfig{
		SocketPath: cfg.Daemon.SocketPath,
		Timeout:    time.Duration(cfg.Daemon.RequestTimeoutSeconds) * time.Second,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctrl := controller.New(controller.Config{
		Cache:  cache,
		Logger: logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ctrl.Run(runCtx)

	ctrl.Dispatch(controller.ClientConnected{Client: cl})
	ctrl.Dispatch(controller.SwitchView{Mode: controller.ViewRunHistory})

	// Both events are queued in order: wait for the load to start, then finish.
	timeout := time.Duration(cfg.Daemon.RequestTimeoutSeconds+5) * time.Second
	if !waitState(5*time.Second, func() bool { return ctrl.Loading() == controller.LoadingHistory }) {
		return fmt.Errorf("history refresh did not start")
	}
	if !waitState(timeout, func() bool { return ctrl.Loading() == controller.LoadingIdle }) {
		return fmt.Errorf("history refresh timed out")
	}

	fmt.Printf("Refreshed %d record(s) from burrowd.\n", len(ctrl.History()))
	return nil
}

func waitState(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage burrow configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <path>",
		Short: "Get a config value by dot path (e.g. daemon.socketPath)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadOrDefaults()
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set a config value by dot path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg := loadOrDefaults()
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("config updated", "path", args[0], "value", args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadOrDefaults()
			out, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

// resolveConfigPath returns the explicit --config path or the default location.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadOrDefaults loads the config file, falling back to defaults when it is
// missing or unreadable. The effective log level is applied as a side effect.
func loadOrDefaults() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
	}
	applyLogConfig(cfg)
	return cfg
}

// applyLogConfig rebuilds the package logger from general.logLevel and
// general.logFile.
func applyLogConfig(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err == nil {
			if f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				out = f
			} else {
				logger.Warn("cannot open log file, logging to stderr", "path", cfg.General.LogFile, "err", err)
			}
		}
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}
