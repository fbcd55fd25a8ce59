package cmd

import (
	"fmt"
	"os"
	"strings"

	"mysql-data-vault/internal/config"
	"mysql-data-vault/internal/display"
	"mysql-data-vault/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// Global flags
var (
	verbose bool
	quiet   bool
	noColor bool
	logFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mysql-data-vault",
	Short: "Back up and restore business data by domain",
	Long: `MySQL Data Vault snapshots the rows of selected business domains into a
compressed archive and replays archives into a live database.

Backups and restores run as background jobs with progress tracking. Restores
apply records in dependency order, update rows that already exist and keep
going when individual records fail.

Examples:
  # Back up two domains and watch progress
  mysql-data-vault backup create --name nightly --domains customers,sales

  # Restore an archive, replacing existing rows
  mysql-data-vault restore run ./archives/nightly_20260101_020000.json.gz --clear-existing

  # Run configured schedules in the foreground
  mysql-data-vault schedule run --config vault.yaml

  # Print a sample configuration file
  mysql-data-vault config > vault.yaml`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mysql-data-vault.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to a rotated file instead of stderr")

	rootCmd.PersistentFlags().String("archive-dir", "", "directory archives are written to")
	rootCmd.PersistentFlags().String("db-host", "", "database host")
	rootCmd.PersistentFlags().Int("db-port", 0, "database port")
	rootCmd.PersistentFlags().String("db-user", "", "database username")
	rootCmd.PersistentFlags().String("db-name", "", "database name")
	rootCmd.PersistentFlags().String("db-driver", "", "database driver (mysql, postgres)")

	viper.BindPFlag("archive.directory", rootCmd.PersistentFlags().Lookup("archive-dir"))
	viper.BindPFlag("database.host", rootCmd.PersistentFlags().Lookup("db-host"))
	viper.BindPFlag("database.port", rootCmd.PersistentFlags().Lookup("db-port"))
	viper.BindPFlag("database.username", rootCmd.PersistentFlags().Lookup("db-user"))
	viper.BindPFlag("database.database", rootCmd.PersistentFlags().Lookup("db-name"))
	viper.BindPFlag("database.driver", rootCmd.PersistentFlags().Lookup("db-driver"))
	viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mysql-data-vault")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadConfig builds and validates the configuration from the config file,
// environment and flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	switch {
	case verbose:
		cfg.Logging.Level = string(logging.LogLevelVerbose)
	case quiet:
		cfg.Logging.Level = string(logging.LogLevelQuiet)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newPrinter returns the stdout printer honoring --quiet and --no-color
func newPrinter() *display.Printer {
	colors := display.NewColorSystem(display.ThemeForBackground(), !noColor)
	return display.NewPrinter(rootCmd.OutOrStdout(), colors, quiet)
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for mysql-data-vault",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mysql-data-vault version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand creates the config subcommand for generating sample config
func createConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file that can be used with the --config flag.

Every setting can also be given as an environment variable with the
MYSQL_DATA_VAULT_ prefix, e.g. MYSQL_DATA_VAULT_DATABASE_PASSWORD.

Examples:
  mysql-data-vault config > vault.yaml`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), config.SampleConfig())
		},
	}
}
