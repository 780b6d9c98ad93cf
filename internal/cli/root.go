package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gzhole/gameblocker/internal/config"
	"github.com/gzhole/gameblocker/internal/logger"
)

var (
	settingsPath string
	listsDir     string
	logLevel     string
	auditLogPath string
)

var rootCmd = &cobra.Command{
	Use:   "gameblocker",
	Short: "GameBlocker - detects and blocks game-like pages",
	Long: `GameBlocker watches a browsing session for game-like activity. It blocks
domains on the block list, samples key presses for movement-key cadence,
and scans loaded pages for banned words and banned connections.

Lists are read from ~/.gameblocker/lists by default.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", "", "Path to settings file (default: ~/.gameblocker/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&listsDir, "lists", "", "Directory holding the list documents (default: ~/.gameblocker/lists)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&auditLogPath, "audit-log", "", "Path to block audit log (default: ~/.gameblocker/blocks.jsonl)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadSettings reads the settings file and applies command-line overrides.
func loadSettings() (*config.Settings, error) {
	s, err := config.Load(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if listsDir != "" {
		s.ListsDir = listsDir
		s.ListsURL = ""
	}
	if logLevel != "" {
		s.LogLevel = logLevel
	}
	if auditLogPath != "" {
		s.AuditLogPath = auditLogPath
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func buildLogger(s *config.Settings) (*zap.Logger, error) {
	l, err := logger.New(s.LogLevel, s.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l, nil
}
