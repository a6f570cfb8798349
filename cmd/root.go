package cmd

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/navcompile-go/internal/config"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/pipeline"
)

// Version is set at build time
var Version = "dev"

var (
	cfg             = config.DefaultConfig()
	verbose         bool
	quiet           bool
	logFile         string
	profileFile     string
	metricsInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "navcompile",
	Short: "Compile flight simulator scenery into a navigation database",
	Long: `navcompile reads airports, navaids, procedures and airways from simulator
scenery and navdata tables and compiles them into one SQLite database.

Features:
  - FSX/P3D scenery.cfg libraries, scenery_packs.ini manifests and plain directories
  - BGL, X-Plane earth_*.dat and OSM aerodrome readers
  - Airway graph with nearest-candidate endpoint resolution
  - Referential integrity validation with CSV findings
  - PostGIS publish and Parquet export of the compiled layers`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg.Verbose = verbose
		cfg.LogFile = logFile
		cfg.MetricsInterval = metricsInterval
		pipeline.Version = Version

		logger.Init(logger.Options{Verbose: verbose, File: logFile, Quiet: quiet})

		if profileFile != "" {
			database := cfg.Database
			if err := cfg.LoadFile(profileFile); err != nil {
				return err
			}
			// an explicit flag wins over the profile
			if cmd.Flags().Changed("database") {
				cfg.Database = database
			}
			logger.Get().Debug("Loaded compile profile", zap.String("path", profileFile))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only print warnings and errors to the console")
	rootCmd.PersistentFlags().StringVarP(&profileFile, "config", "c", "", "YAML compile profile")
	rootCmd.PersistentFlags().StringVar(&cfg.Database, "database", cfg.Database, "Compiled SQLite database")
	rootCmd.PersistentFlags().IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel workers")

	// Logging and metrics flags
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&metricsInterval, "metrics-interval", 30*time.Second, "Interval for system metrics logging (e.g., 10s, 1m), 0 to disable")

	// PostgreSQL flags for publish
	rootCmd.PersistentFlags().StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	rootCmd.PersistentFlags().IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	rootCmd.PersistentFlags().StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
