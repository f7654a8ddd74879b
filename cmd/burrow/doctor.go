package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"burrow/internal/config"
	"burrow/internal/daemon"
	"burrow/internal/profile"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your burrow installation",
		Long: `Verifies that burrow's configuration, profile directory, history cache,
and the burrowd daemon are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Burrow Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'burrow init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Profile directory exists and parses
			if info, err := os.Stat(cfg.General.ProfilesDir); err != nil {
				printWarn("Profile directory", fmt.Sprintf("not found: %s (run 'burrow init')", cfg.General.ProfilesDir))
				warned++
			} else if !info.IsDir() {
				printFail("Profile directory", fmt.Sprintf("not a directory: %s", cfg.General.ProfilesDir))
				failed++
			} else {
				store := profile.NewStore(cfg.General.ProfilesDir, logger)
				profiles, err := store.Load()
				if err != nil {
					printFail("Profiles", err.Error())
					failed++
				} else {
					printPass("Profiles", fmt.Sprintf("%d profile(s) in %s", len(profiles), cfg.General.ProfilesDir))
					passed++
				}
			}

			// 4. Daemon socket present
			socketOK := false
			if _, err := os.Stat(cfg.Daemon.SocketPath); err != nil {
				printWarn("Daemon socket", fmt.Sprintf("not found at %s (is burrowd running?)", cfg.Daemon.SocketPath))
				warned++
			} else {
				printPass("Daemon socket", cfg.Daemon.SocketPath)
				passed++
				socketOK = true
			}

			// 5. Daemon round-trip
			if socketOK {
				if err := checkDaemon(cfg); err != nil {
					printFail("Daemon round-trip", err.Error())
					failed++
				} else {
					printPass("Daemon round-trip", "list_sandboxes ok")
					passed++
				}
			}

			// 6. History database writable
			if cfg.History.Enabled {
				if err := checkDatabase(cfg.History.DBPath); err != nil {
					printFail("History database", err.Error())
					failed++
				} else {
					printPass("History database", cfg.History.DBPath)
					passed++
				}
			} else {
				printWarn("History database", "disabled in config")
				warned++
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running burrow.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nBurrow should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Burrow is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDaemon(cfg *config.Config) error {
	cl, err := daemon.Dial(daemon.ClientConfig{
		SocketPath: cfg.Daemon.SocketPath,
		Timeout:    5 * time.Second,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cl.ListSandboxes(ctx, false); err != nil {
		return err
	}
	return nil
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
