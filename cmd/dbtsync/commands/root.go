// Package commands provides the CLI commands for dbtsync.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dbt-portal/dbtsync/internal/config"
	"github.com/dbt-portal/dbtsync/internal/logging"
	"github.com/dbt-portal/dbtsync/pkg/types"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
	serverURL string
	dataDir   string
)

// appConfig is loaded before every subcommand runs.
var appConfig *types.Config

var rootCmd = &cobra.Command{
	Use:   "dbtsync",
	Short: "dbtsync - real-time content sync for the DBT citizen portal",
	Long: `dbtsync keeps a local cache of portal notices, awareness content and
community events in sync with the update server.

Run 'dbtsync relay' to start a local update server, 'dbtsync watch' to follow
updates as a citizen, and 'dbtsync notice create' to publish as an admin.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&workDir, "directory", "", "Directory to load project config from")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Update server URL")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Cache directory")

	rootCmd.SetVersionTemplate(fmt.Sprintf("dbtsync %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	for _, c := range types.Collections() {
		rootCmd.AddCommand(newContentCmd(c))
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads .env and the layered config, then initializes logging.
func setup(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serverURL != "" {
		cfg.ServerURL = serverURL
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	appConfig = cfg

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(level)
	if printLogs {
		logCfg.Pretty = true
	} else {
		logCfg.Output = io.Discard
		logCfg.LogToFile = true
		logCfg.LogDir = paths.LogPath()
	}
	logging.Init(logCfg)
	return nil
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
