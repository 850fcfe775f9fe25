package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"receipt-reconciliation-service/cmd/receiptmatch/config"
	"receipt-reconciliation-service/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// app carries the state shared by the commands of one invocation.
type app struct {
	v      *viper.Viper
	logger logger.Logger
	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand builds the receiptmatch command tree with its own viper
// instance.
func NewRootCommand() *cobra.Command {
	a := &app{
		v:      viper.New(),
		logger: logger.Discard(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	config.SetDefaults(a.v)

	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "receiptmatch",
		Short: "Receipt matching and merchant pattern learning",
		Long: `Receiptmatch learns merchant, sender and merchant/domain patterns from
historical transactions and emails, predicts which transactions should
have a receipt, and matches receipt emails to transactions.

Learned profiles are kept in a snapshot (JSON file, or SQLite when the path
ends in .db/.sqlite) that every command loads first.

Examples:
  receiptmatch learn --transactions history.csv --emails inbox.json
  receiptmatch predict --transactions june.csv --output-format json
  receiptmatch match --transactions june.csv --emails inbox.json --acceptance 0.75
  receiptmatch profiles --profiles profiles.db`,
		Version:       getVersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.stdout = cmd.OutOrStdout()
			a.stderr = cmd.ErrOrStderr()
			return a.initConfig(cfgFile)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional, yaml/json/toml)")
	flags.BoolP(config.KeyVerbose, "v", false, "verbose output")
	flags.StringP(config.KeyProfiles, "p", "profiles.json", "profile snapshot path (.json, .db, .sqlite)")
	flags.StringP(config.KeyOutputFormat, "f", "console", "output format: console, json, yaml, csv")
	flags.StringP(config.KeyOutputFile, "o", "", "output file path (default: stdout)")
	flags.String(config.KeyLogLevel, "warn", "log level: debug, info, warn, error")
	flags.String(config.KeyLogFormat, "text", "log format: text, json")
	flags.Int(config.KeyWorkers, 4, "files parsed concurrently")
	flags.Bool(config.KeyProgress, false, "show progress bars on stderr")

	for _, key := range []string{
		config.KeyVerbose, config.KeyProfiles, config.KeyOutputFormat,
		config.KeyOutputFile, config.KeyLogLevel, config.KeyLogFormat, config.KeyWorkers,
		config.KeyProgress,
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(key))
	}

	rootCmd.AddCommand(
		newLearnCommand(a),
		newPredictCommand(a),
		newMatchCommand(a),
		newProfilesCommand(a),
	)
	return rootCmd
}

// Execute runs the command tree and maps failures to exit codes.
func Execute() int {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		return NewCLIErrorHandler(rootCmd.ErrOrStderr(), isVerbose()).HandleError(err)
	}
	return 0
}

func isVerbose() bool {
	for _, arg := range os.Args[1:] {
		if arg == "-v" || arg == "--verbose" || arg == "--verbose=true" {
			return true
		}
	}
	return false
}

// initConfig reads the config file and environment, then sets up logging.
func (a *app) initConfig(cfgFile string) error {
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	a.v.SetEnvPrefix("RECEIPTMATCH")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()

	logConfig, err := config.CreateLoggerConfig(a.v)
	if err != nil {
		return err
	}
	logConfig.Output = logger.StderrOutput
	base, err := logger.NewLogger(logConfig)
	if err != nil {
		return err
	}
	a.logger = base.WithComponent("cli")
	logger.SetGlobalLogger(base)

	if cfgFile != "" {
		a.logger.WithField("config_file", a.v.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
