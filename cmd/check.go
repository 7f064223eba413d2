package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vaultwarden-backup/internal/database"
	apperrors "vaultwarden-backup/internal/errors"
)

// createCheckCommand creates the check subcommand
func createCheckCommand(opts *options) *cobra.Command {
	var preflight bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration and the environment without writing a backup",
		Long: `Validate the configuration, make sure the dump utility for the configured
database engine is installed and the backup location is writable. With --preflight
(or db.preflight in the config file) the database server is pinged as well.`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			settings, err := loadSettings(cmd, opts)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd, settings)
			if err != nil {
				return apperrors.NewConfigError("failed to initialize logging", err)
			}
			defer logger.Close()

			done := logger.LogOperationStart("check", map[string]interface{}{"db_type": settings.DB.Type})
			defer func() { done(err) }()

			disp, err := newDisplay(cmd, opts, settings, logger)
			if err != nil {
				return err
			}
			disp.Success(fmt.Sprintf("Configuration valid (%s)", settings.DB.Type))

			conn := settings.Connection()
			if err := newDumper(logger).CheckCapability(conn.Kind); err != nil {
				disp.Error(apperrors.FormatUserError(err))
				return err
			}
			disp.Success(fmt.Sprintf("%s found", conn.Kind.Tool()))

			if err := checkWritable(settings.BackupLocation); err != nil {
				disp.Error(apperrors.FormatUserError(err))
				return err
			}
			disp.Success(fmt.Sprintf("Backup location %s is writable", settings.BackupLocation))

			if !preflight && !settings.DB.Preflight {
				return nil
			}
			prober := database.NewProber(logger)
			if err := prober.Probe(cmd.Context(), conn, settings.DB.PreflightTimeout); err != nil {
				disp.Error(apperrors.FormatUserError(err))
				return err
			}
			disp.Success(fmt.Sprintf("Database %s reachable", conn.Target()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&preflight, "preflight", false, "also ping the database server")
	return cmd
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".vaultwarden-backup-check-*")
	if err != nil {
		return apperrors.NewIOError(apperrors.StagePreflight, fmt.Sprintf("backup location %s is not writable", dir), err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
