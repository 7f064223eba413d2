package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	apperrors "vaultwarden-backup/internal/errors"
)

// createConfigCommand creates the config subcommand
func createConfigCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or generate configuration",
	}
	cmd.AddCommand(createConfigShowCommand(opts))
	cmd.AddCommand(createConfigSampleCommand())
	return cmd
}

func createConfigShowCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Long: `Print the configuration after the config file, environment overrides and
defaults have been applied. Passwords and keys are redacted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd, opts)
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(settings.Redacted())
			if err != nil {
				return apperrors.NewConfigError("failed to render configuration", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func createConfigSampleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sample",
		Short: "Print a sample configuration file",
		Long: `Print a complete configuration template. Redirect it to a file and adjust it:

  vaultwarden-backup config sample > config.toml`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), sampleConfig)
		},
	}
}

const sampleConfig = `# vaultwarden-backup configuration

vaultwarden_data = "/data"         # Vaultwarden data directory
backup_location = "/backups"       # must exist; artifacts are written here
exclude_files = ["icon_cache"]     # file names containing any entry are skipped

[db]
db_type = "sqlite"                 # postgresql, mysql, mariadb or sqlite
host = ""                          # required for server engines
port = 0                           # 0 means 5432 for postgresql, 3306 for mysql/mariadb
username = ""
password = ""                      # prefer VWBACKUP_DB_PASSWORD
db_name = ""                       # required for server engines
preflight = false                  # ping the server before dumping
preflight_timeout = "10s"

[encryption]
enabled = false                    # password-protected zip instead of tar.gz
key = ""                           # prefer VWBACKUP_ENCRYPTION_KEY or key_file
key_file = ""

[logging]
level = "normal"                   # quiet, normal, verbose or debug
format = "text"                    # text or json
file = ""
audit_file = ""                    # JSON audit trail of every run

[metrics]
textfile = ""                      # e.g. /var/lib/node_exporter/textfile/vaultwarden_backup.prom

[display]
theme = "dark"                     # dark, light or plain
`
