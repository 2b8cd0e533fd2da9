package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/app"
	"github.com/ternarybob/credsync/internal/common"
)

var (
	// Command-line flags
	configFiles []string // later files override earlier ones
	serverPort  int
	serverHost  string
	jsonOutput  bool

	// Global state
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "credsync",
	Short: "Capture exchange session credentials and sync them to the backend",
	Long: `credsync follows a Chrome browser over the DevTools protocol, captures the
session credentials supported exchanges issue to it, and keeps them in sync with
the auth methods held by the account backend.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().IntVarP(&serverPort, "port", "p", 0, "Server port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "", "Server host (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(serveCmd, versionCmd)
	rootCmd.AddCommand(loginCmd, logoutCmd, sessionCmd)
	rootCmd.AddCommand(syncCmd, linkCmd, unlinkCmd, linksCmd, sweepCmd, methodsCmd)
}

func main() {
	defer common.RecoverWithCrashFile()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig runs the startup sequence: defaults -> files -> env -> flags, then logger
func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == versionCmd.Name() {
		return nil
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("credsync.toml"); err == nil {
			configFiles = append(configFiles, "credsync.toml")
		} else if _, err := os.Stat("deployments/local/credsync.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/credsync.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	common.ApplyFlagOverrides(config, serverPort, serverHost)

	if err := config.Validate(); err != nil {
		return err
	}

	logger = common.InitLogger(config)
	common.InstallCrashHandler(common.LogsDir(config))

	logger.Debug().
		Strs("config_files", configFiles).
		Str("badger_path", config.Storage.Badger.Path).
		Str("log_level", config.Logging.Level).
		Str("backend", config.Backend.BaseURL).
		Msg("Resolved configuration")

	return nil
}

// withApp builds the application for a one-shot command and closes it afterwards
func withApp(fn func(application *app.App) error) error {
	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	return fn(application)
}
