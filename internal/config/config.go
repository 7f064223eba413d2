// Package config resolves and validates the settings consumed by a backup run.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"vaultwarden-backup/internal/database"
	"vaultwarden-backup/internal/logging"
)

// Settings is the validated configuration of a backup run
type Settings struct {
	VaultwardenData string             `mapstructure:"vaultwarden_data" yaml:"vaultwarden_data" validate:"required"`
	BackupLocation  string             `mapstructure:"backup_location" yaml:"backup_location" validate:"required"`
	ExcludeFiles    []string           `mapstructure:"exclude_files" yaml:"exclude_files"`
	DB              DBSettings         `mapstructure:"db" yaml:"db"`
	Encryption      EncryptionSettings `mapstructure:"encryption" yaml:"encryption"`
	Logging         LoggingSettings    `mapstructure:"logging" yaml:"logging"`
	Metrics         MetricsSettings    `mapstructure:"metrics" yaml:"metrics"`
	Display         DisplaySettings    `mapstructure:"display" yaml:"display"`
}

// DBSettings describes the database to dump
type DBSettings struct {
	Type             string        `mapstructure:"db_type" yaml:"db_type" validate:"required,oneof=postgresql postgres mysql mariadb sqlite"`
	Host             string        `mapstructure:"host" yaml:"host,omitempty"`
	Port             int           `mapstructure:"port" yaml:"port,omitempty" validate:"gte=0,lte=65535"`
	Username         string        `mapstructure:"username" yaml:"username,omitempty"`
	Password         string        `mapstructure:"password" yaml:"password,omitempty"`
	Name             string        `mapstructure:"db_name" yaml:"db_name,omitempty"`
	Preflight        bool          `mapstructure:"preflight" yaml:"preflight"`
	PreflightTimeout time.Duration `mapstructure:"preflight_timeout" yaml:"preflight_timeout" validate:"gte=0"`
}

// EncryptionSettings controls the encrypted zip artifact
type EncryptionSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Key     string `mapstructure:"key" yaml:"key,omitempty"`
	KeyFile string `mapstructure:"key_file" yaml:"key_file,omitempty"`
}

// LoggingSettings configures diagnostics output
type LoggingSettings struct {
	Level     string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=quiet normal verbose debug"`
	Format    string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=text json"`
	File      string `mapstructure:"file" yaml:"file,omitempty"`
	AuditFile string `mapstructure:"audit_file" yaml:"audit_file,omitempty"`
}

// MetricsSettings configures the node_exporter textfile output
type MetricsSettings struct {
	Textfile string `mapstructure:"textfile" yaml:"textfile,omitempty"`
}

// DisplaySettings configures console output
type DisplaySettings struct {
	Theme string `mapstructure:"theme" yaml:"theme" validate:"omitempty,oneof=dark light plain"`
}

// Kind returns the parsed database kind
func (s *Settings) Kind() database.Kind {
	kind, _ := database.ParseKind(s.DB.Type)
	return kind
}

// Connection returns the dump connection descriptor
func (s *Settings) Connection() database.Connection {
	return database.Connection{
		Kind:     s.Kind(),
		Host:     s.DB.Host,
		Port:     s.DB.Port,
		Username: s.DB.Username,
		Password: s.DB.Password,
		Name:     s.DB.Name,
		DataDir:  s.VaultwardenData,
	}
}

// Exclusions returns the configured exclusion entries in order
func (s *Settings) Exclusions() []string {
	return append([]string(nil), s.ExcludeFiles...)
}

// EncryptionKey returns the key used for the zip artifact.
// A key_file takes effect only when key is empty; one trailing newline is stripped.
func (s *Settings) EncryptionKey() (string, error) {
	if !s.Encryption.Enabled {
		return "", nil
	}
	if s.Encryption.Key != "" {
		return s.Encryption.Key, nil
	}
	if s.Encryption.KeyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.Encryption.KeyFile)
	if err != nil {
		return "", fmt.Errorf("reading encryption key file: %w", err)
	}
	key := strings.TrimSuffix(strings.TrimSuffix(string(data), "\n"), "\r")
	return key, nil
}

// LogLevel returns the configured logging level
func (s *Settings) LogLevel() logging.LogLevel {
	level, err := logging.ParseLevel(s.Logging.Level)
	if err != nil {
		return logging.LogLevelNormal
	}
	return level
}

// Redacted returns a copy safe to print
func (s *Settings) Redacted() Settings {
	c := *s
	c.ExcludeFiles = s.Exclusions()
	c.DB.Password = logging.RedactSecret(s.DB.Password)
	c.Encryption.Key = logging.RedactSecret(s.Encryption.Key)
	return c
}

// SetDefaults fills in values that were left empty
func (s *Settings) SetDefaults() {
	s.DB.Type = strings.ToLower(strings.TrimSpace(s.DB.Type))
	if s.Logging.Level == "" {
		s.Logging.Level = string(logging.LogLevelNormal)
	}
	if s.Logging.Format == "" {
		s.Logging.Format = "text"
	}
	if s.Display.Theme == "" {
		s.Display.Theme = "dark"
	}
	if s.DB.PreflightTimeout == 0 {
		s.DB.PreflightTimeout = database.DefaultProbeTimeout
	}
}
