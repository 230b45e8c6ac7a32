package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tsdiag/internal/diag"
	"tsdiag/internal/output"
	"tsdiag/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

// Set via Execute from main's ldflags.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "tsdiag",
	Short: "Touchscreen diagnostics - map ghost touches and dead zones",
	Long: `tsdiag diagnoses failing mobile touchscreens.
It records grid tap tests, ghost-touch monitoring windows, and multi-touch
captures, scores screen health, and maps faults to hardware zones with
repair guidance.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/tsdiag/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "tsdiag")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TSDIAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "tsdiag")

	viper.SetDefault("state_dir", defaultConfigDir)
	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "tsdiag.db"))
	viper.SetDefault("grid.rows", diag.DefaultGridRows)
	viper.SetDefault("grid.cols", diag.DefaultGridCols)
	viper.SetDefault("viewport.width", diag.DefaultViewportW)
	viper.SetDefault("viewport.height", diag.DefaultViewportH)
	viper.SetDefault("heatmap.cell_size", 40.0)
	viper.SetDefault("monitor.duration", "60s")
	viper.SetDefault("ghost.gap_ms", 150)
	viper.SetDefault("sync.endpoint", "")
	viper.SetDefault("sync.token", "")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.model", "claude-haiku-4-5-20251001")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is initialized lazily in getStore so config/version
	// commands run without touching a database.
}

// rootRun handles `tsdiag` with no subcommand: show the status overview when
// a database already exists, otherwise help. A bare invocation never creates
// the database.
func rootRun(cmd *cobra.Command) error {
	dbPath := viper.GetString("db_path")
	if _, err := os.Stat(dbPath); err != nil {
		return cmd.Help()
	}
	return statusOverviewRun()
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// managerConfig builds the lifecycle configuration from viper.
func managerConfig() diag.Config {
	return diag.Config{
		GridRows:  viper.GetInt("grid.rows"),
		GridCols:  viper.GetInt("grid.cols"),
		ViewportW: viper.GetFloat64("viewport.width"),
		ViewportH: viper.GetFloat64("viewport.height"),
		GhostGap:  time.Duration(viper.GetInt("ghost.gap_ms")) * time.Millisecond,
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(ui.Out, "tsdiag %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
