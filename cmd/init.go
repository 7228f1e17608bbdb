package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chriserin/ftplan/internal/config"
	"github.com/chriserin/ftplan/internal/db"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize ftplan in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunInit(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

const defaultConfig = `features:
  - features/**/*.feature
default_timeout: 30s
tags: ""
retries: 0
database: .ftplan/ftplan.db
logging:
  level: info
  format: console
`

func RunInit(w io.Writer) error {
	// features/ directory
	_, err := os.Stat("features")
	featuresExist := err == nil
	if err := os.MkdirAll("features", 0o755); err != nil {
		return fmt.Errorf("creating features directory: %w", err)
	}
	if featuresExist {
		fmt.Fprintln(w, "features/ already exists")
	} else {
		fmt.Fprintln(w, "features/ created")
	}

	// config
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(w, "%s already exists\n", configPath)
	} else {
		if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", configPath, err)
		}
		fmt.Fprintf(w, "%s created\n", configPath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database == "" {
		return nil
	}

	// database
	_, err = os.Stat(cfg.Database)
	dbExists := err == nil
	sqlDB, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	sqlDB.Close()
	if dbExists {
		fmt.Fprintf(w, "%s already exists\n", cfg.Database)
	} else {
		fmt.Fprintf(w, "%s created\n", cfg.Database)
	}

	// gitignore
	msgs, err := ensureGitignore(gitignoreEntry(cfg.Database))
	if err != nil {
		return fmt.Errorf("updating .gitignore: %w", err)
	}
	for _, msg := range msgs {
		fmt.Fprintln(w, msg)
	}

	return nil
}

// gitignoreEntry ignores the database's directory when it is the default
// .ftplan/ and the file itself otherwise.
func gitignoreEntry(database string) string {
	if database == config.DefaultDatabase {
		return filepath.ToSlash(filepath.Dir(database)) + "/"
	}
	return filepath.ToSlash(database)
}

func ensureGitignore(entry string) ([]string, error) {
	data, err := os.ReadFile(".gitignore")
	if os.IsNotExist(err) {
		if err := os.WriteFile(".gitignore", []byte(entry+"\n"), 0o644); err != nil {
			return nil, err
		}
		return []string{".gitignore created", entry + " added to .gitignore"}, nil
	}
	if err != nil {
		return nil, err
	}

	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == entry {
			return []string{entry + " already in .gitignore"}, nil
		}
	}

	content := string(data)
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += entry + "\n"

	if err := os.WriteFile(".gitignore", []byte(content), 0o644); err != nil {
		return nil, err
	}
	return []string{entry + " added to .gitignore"}, nil
}
