package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"vaultwarden-backup/internal/archive"
	"vaultwarden-backup/internal/backup"
	"vaultwarden-backup/internal/config"
	"vaultwarden-backup/internal/database"
	"vaultwarden-backup/internal/display"
	apperrors "vaultwarden-backup/internal/errors"
	"vaultwarden-backup/internal/logging"
	"vaultwarden-backup/internal/staging"
	"vaultwarden-backup/internal/workspace"
)

// options holds the global CLI flags
type options struct {
	configPath   string
	verbose      bool
	quiet        bool
	logFile      string
	logFormat    string
	noColor      bool
	theme        string
	askKey       bool
	outputFormat string
}

// newDumper is replaced in tests so no real dump utility is needed
var newDumper = func(logger *logging.Logger) backup.Dumper {
	return database.NewDumper(logger, database.DefaultDeps())
}

// keyInput is where --ask-key reads from
var keyInput io.Reader = os.Stdin

var rootCmd = newRootCommand()

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "vaultwarden-backup",
		Short: "Back up a Vaultwarden data directory and its database",
		Long: `vaultwarden-backup dumps the Vaultwarden database, stages the data directory
next to the dump and packs both into a single artifact in the backup location:
<runID>.tar.gz, or <runID>.zip protected with a password when encryption is on.

Configuration is read from --config, else $CONFIG_PATH, else ./config.toml.
Every key can be overridden from the environment, e.g. VWBACKUP_DB_PASSWORD.

Examples:
  # Run a backup with the default config.toml
  vaultwarden-backup

  # Encrypted backup, key typed at the terminal
  vaultwarden-backup --config /etc/vaultwarden-backup.toml --ask-key

  # Machine-readable summary for cron wrappers
  vaultwarden-backup --quiet --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default $CONFIG_PATH or ./config.toml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress non-error output")
	flags.StringVar(&opts.logFile, "log-file", "", "also write logs to this file")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format (text, json)")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable color output")
	flags.StringVar(&opts.theme, "theme", "", "color theme (dark, light, plain)")
	root.Flags().BoolVar(&opts.askKey, "ask-key", false, "read the encryption key from the terminal")
	root.Flags().StringVar(&opts.outputFormat, "format", string(display.FormatText), "summary format (text, json, yaml)")

	root.AddCommand(createCheckCommand(opts))
	root.AddCommand(createConfigCommand(opts))
	root.AddCommand(createVersionCommand())
	return root
}

// Execute runs the root command and exits with a status matching the failure kind.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// stage failures were already reported by the display service
		if apperrors.GetStage(err) == "" || apperrors.IsType(err, apperrors.ErrorTypeConfig) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", apperrors.FormatUserError(err))
		}
		os.Exit(apperrors.ExitCode(err))
	}
}

func runBackup(cmd *cobra.Command, opts *options) error {
	settings, err := loadSettings(cmd, opts)
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd, settings)
	if err != nil {
		return apperrors.NewConfigError("failed to initialize logging", err)
	}
	defer logger.Close()

	disp, err := newDisplay(cmd, opts, settings, logger)
	if err != nil {
		return err
	}

	runLogger, err := backup.NewRunLogger(backup.RunLoggerConfig{
		Logger:       logger,
		AuditLogFile: settings.Logging.AuditFile,
	})
	if err != nil {
		return apperrors.NewConfigError("failed to open audit log", err)
	}
	defer runLogger.Close()

	key, err := settings.EncryptionKey()
	if err != nil {
		return apperrors.NewConfigError("failed to read encryption key", err)
	}
	run, err := backup.NewRun(time.Now(), settings.BackupLocation, key)
	if err != nil {
		return apperrors.NewConfigError("invalid run", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := backup.NewRunner(backup.Dependencies{
		Dumper:    newDumper(logger),
		Prober:    database.NewProber(logger),
		Workspace: workspace.NewManager(logger),
		Stager:    staging.NewStager(logger),
		Archiver:  archive.NewBuilder(logger),
		Progress:  disp,
		Metrics:   backup.NewMetrics(),
	}, runLogger)

	disp.RunStarted(run)
	report, err := runner.Execute(ctx, run, newPlan(settings))
	disp.Summary(report, err)
	return err
}

func newPlan(settings *config.Settings) backup.Plan {
	return backup.Plan{
		Connection:       settings.Connection(),
		SourceDir:        settings.VaultwardenData,
		Exclusions:       staging.NewExclusionSet(settings.Exclusions()),
		Preflight:        settings.DB.Preflight,
		PreflightTimeout: settings.DB.PreflightTimeout,
		MetricsTextfile:  settings.Metrics.Textfile,
	}
}

// loadSettings resolves the config file and applies flag overrides on top of it
func loadSettings(cmd *cobra.Command, opts *options) (*config.Settings, error) {
	if opts.verbose && opts.quiet {
		return nil, apperrors.NewConfigError("--verbose and --quiet flags are mutually exclusive", nil)
	}

	loader := config.NewLoader()
	v := loader.Viper()
	switch {
	case opts.verbose:
		v.Set("logging.level", string(logging.LogLevelVerbose))
	case opts.quiet:
		v.Set("logging.level", string(logging.LogLevelQuiet))
	}
	if opts.logFile != "" {
		v.Set("logging.file", opts.logFile)
	}
	if opts.logFormat != "" {
		v.Set("logging.format", opts.logFormat)
	}
	if opts.theme != "" {
		v.Set("display.theme", opts.theme)
	}
	if opts.askKey {
		key, err := promptKey(cmd.ErrOrStderr())
		if err != nil {
			return nil, apperrors.NewConfigError("failed to read encryption key", err)
		}
		v.Set("encryption.enabled", true)
		v.Set("encryption.key", key)
		v.Set("encryption.key_file", "")
	}

	path, explicit := config.ResolvePath(opts.configPath)
	return loader.Load(path, explicit)
}

// promptKey reads the key without echo from a terminal, or one line from piped input
func promptKey(prompt io.Writer) (string, error) {
	if f, ok := keyInput.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Encryption key: ")
		key, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return string(key), nil
	}

	line, err := bufio.NewReader(keyInput).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	key := strings.TrimRight(line, "\r\n")
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	return key, nil
}

func newLogger(cmd *cobra.Command, settings *config.Settings) (*logging.Logger, error) {
	return logging.NewLogger(logging.Config{
		Level:   settings.LogLevel(),
		Output:  cmd.ErrOrStderr(),
		Format:  settings.Logging.Format,
		LogFile: settings.Logging.File,
	})
}

// newDisplay follows the resolved log level, so logging.level in the config file quiets it too
func newDisplay(cmd *cobra.Command, opts *options, settings *config.Settings, logger *logging.Logger) (display.DisplayService, error) {
	cfg := &display.DisplayConfig{
		ColorEnabled:  !opts.noColor,
		Theme:         settings.Display.Theme,
		UseIcons:      true,
		OutputFormat:  opts.outputFormat,
		VerboseMode:   logger.IsLevelEnabled(logging.LogLevelVerbose),
		QuietMode:     logger.GetLevel() == logging.LogLevelQuiet,
		Writer:        cmd.ErrOrStderr(),
		SummaryWriter: cmd.OutOrStdout(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.NewConfigError("invalid display options", err)
	}
	return display.NewDisplayService(cfg), nil
}
