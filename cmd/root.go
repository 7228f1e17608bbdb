package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chriserin/ftplan/internal/config"
	"github.com/chriserin/ftplan/internal/db"
	"github.com/chriserin/ftplan/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "ftplan",
	Short:        "ftplan: compile Gherkin features into test plans and track their results",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFile, "path to the ftplan config file")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return logging.Nop()
	}
	return log
}

// openStore opens the configured database, which `ftplan init` creates.
func openStore(cfg *config.Config) (*db.Store, func(), error) {
	if cfg.Database == "" {
		return nil, nil, errors.New("no database configured")
	}
	if _, err := os.Stat(cfg.Database); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("run `ftplan init` first")
	}
	sqlDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return db.NewStore(sqlDB, newLogger(cfg)), func() { sqlDB.Close() }, nil
}
