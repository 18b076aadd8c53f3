package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/user/gosec-mcp/pkg/config"
	"github.com/user/gosec-mcp/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "gosec-mcp",
	Short: "Multi-backend security scan orchestrator (MCP)",
	Long: `GoSec-MCP sends a source file to several remote security scanners
(bandit, semgrep, detect-secrets, pip-audit, policy compliance) over MCP,
merges their answers into one report and proposes a corrected file.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			config.SetConfigPath(configPath)
		}
		initLogging("")
	},
}

var (
	DebugMode  bool
	configPath string
	logFormat  string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&DebugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.gosec-mcp/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json (overrides config)")
}

// initLogging applies the configured level; --debug and --log-format win.
func initLogging(level string) {
	lvl := logging.ParseLevel(level)
	if DebugMode {
		lvl = slog.LevelDebug
	}
	logging.Init(lvl, logFormat)
}

// loadConfig reads the config file and re-applies its log settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if logFormat == "" {
		logFormat = cfg.Log.Format
	}
	initLogging(cfg.Log.Level)
	return cfg, nil
}
