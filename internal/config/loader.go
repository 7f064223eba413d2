package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	apperrors "vaultwarden-backup/internal/errors"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. VWBACKUP_DB_PASSWORD
	EnvPrefix = "VWBACKUP"
	// PathEnv names the variable holding the config file path
	PathEnv = "CONFIG_PATH"
	// DefaultPath is used when neither a flag nor CONFIG_PATH is given
	DefaultPath = "config.toml"
)

// Loader reads settings from a TOML file and the environment
type Loader struct {
	viper *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{viper: v}
}

// Viper exposes the underlying instance so commands can bind flags
func (l *Loader) Viper() *viper.Viper {
	return l.viper
}

// every key needs a default so AutomaticEnv can override it during Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("vaultwarden_data", "")
	v.SetDefault("backup_location", "")
	v.SetDefault("exclude_files", []string{})
	v.SetDefault("db.db_type", "")
	v.SetDefault("db.host", "")
	v.SetDefault("db.port", 0)
	v.SetDefault("db.username", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.db_name", "")
	v.SetDefault("db.preflight", false)
	v.SetDefault("db.preflight_timeout", "10s")
	v.SetDefault("encryption.enabled", false)
	v.SetDefault("encryption.key", "")
	v.SetDefault("encryption.key_file", "")
	v.SetDefault("logging.level", "normal")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.audit_file", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("display.theme", "dark")
}

// ResolvePath picks the config file: explicit flag, then CONFIG_PATH, then config.toml.
// The second result reports whether the path was chosen explicitly.
func ResolvePath(flagValue string) (string, bool) {
	if flagValue != "" {
		return flagValue, true
	}
	if env := os.Getenv(PathEnv); env != "" {
		return env, true
	}
	return DefaultPath, false
}

// Load reads, defaults and validates settings from path
func (l *Loader) Load(path string, explicit bool) (*Settings, error) {
	if err := l.read(path, explicit); err != nil {
		return nil, err
	}

	var settings Settings
	if err := l.viper.Unmarshal(&settings); err != nil {
		return nil, apperrors.NewConfigError("error decoding configuration", err)
	}
	settings.SetDefaults()

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (l *Loader) read(path string, explicit bool) error {
	l.viper.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		l.viper.SetConfigType("toml")
	}

	err := l.viper.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	missing := errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
	if missing && !explicit {
		// environment-only configuration
		return nil
	}
	if missing {
		return apperrors.NewConfigError(fmt.Sprintf("config file %s not found", path), err)
	}
	return apperrors.NewConfigError(fmt.Sprintf("error reading config file %s", path), err)
}

// UsedFile returns the config file that was read, if any
func (l *Loader) UsedFile() string {
	return l.viper.ConfigFileUsed()
}
