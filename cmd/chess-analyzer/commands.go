package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/cheese-analyzer/internal/chess"
	"github.com/park285/cheese-analyzer/internal/config"
	"github.com/park285/cheese-analyzer/internal/obslog"
)

// --- Global flags ---
var (
	configPath  string
	enginePath  string
	profileName string
	multiPV     int
	budgets     string
	logLevel    string

	rootCmd = &cobra.Command{
		Use:           "chess-analyzer",
		Short:         "Continuous incremental chess move analysis over a UCI engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file (overrides "+config.ConfigPathEnv+")")
	pf.StringVar(&enginePath, "engine", "", "UCI engine executable (overrides STOCKFISH_PATH)")
	pf.StringVar(&profileName, "profile", "", "analysis profile: "+strings.Join(chess.ProfileNames(), ", "))
	pf.IntVar(&multiPV, "multipv", 0, "number of engine lines")
	pf.StringVar(&budgets, "budgets", "", "comma separated per-step budgets in seconds")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(serveCmd, analyzeCmd, watchCmd)
}

// loadConfig layers defaults, file, env and finally the command line.
func loadConfig(extra func(*config.AppConfig)) (*config.AppConfig, error) {
	if configPath != "" {
		// LoadWith reads the file named by the env var.
		if err := os.Setenv(config.ConfigPathEnv, configPath); err != nil {
			return nil, err
		}
	}
	return config.LoadWith(func(c *config.AppConfig) error {
		if profileName != "" {
			if err := c.ApplyProfile(profileName); err != nil {
				return err
			}
		}
		if enginePath != "" {
			c.Engine.Path = enginePath
		}
		if multiPV > 0 {
			c.Engine.MultiPV = multiPV
		}
		if budgets != "" {
			b, err := config.ParseBudgets(budgets)
			if err != nil {
				return fmt.Errorf("--budgets: %w", err)
			}
			c.Analysis.BudgetsSec = b
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		if extra != nil {
			extra(c)
		}
		return nil
	})
}

func initLogger(cfg *config.AppConfig) (*zap.Logger, error) {
	return obslog.Init(obslog.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Console: cfg.Log.Console,
		File:    cfg.Log.File,
	})
}
