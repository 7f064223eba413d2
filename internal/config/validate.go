package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"

	"vaultwarden-backup/internal/database"
	apperrors "vaultwarden-backup/internal/errors"
)

var validate = validator.New()

func init() {
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
}

// Validate checks struct rules, filesystem preconditions and engine-specific fields.
// All problems are reported together as a single ConfigError.
func (s *Settings) Validate() error {
	var problems []string

	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, describeFieldError(fe))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	destOK, dataOK := false, false
	if s.BackupLocation != "" {
		if err := requireDir(s.BackupLocation); err != nil {
			problems = append(problems, fmt.Sprintf("backup_location: %v", err))
		} else {
			destOK = true
		}
	}
	if s.VaultwardenData != "" {
		if err := requireDir(s.VaultwardenData); err != nil {
			problems = append(problems, fmt.Sprintf("vaultwarden_data: %v", err))
		} else {
			dataOK = true
		}
	}
	// earlier artifacts would otherwise be staged into every new one
	if destOK && dataOK && isWithin(s.BackupLocation, s.VaultwardenData) {
		problems = append(problems, fmt.Sprintf(
			"backup_location %s must not be inside vaultwarden_data %s", s.BackupLocation, s.VaultwardenData))
	}

	problems = append(problems, s.validateDB()...)
	problems = append(problems, s.validateEncryption()...)

	if len(problems) > 0 {
		return apperrors.NewConfigError(
			"invalid configuration: "+strings.Join(problems, "; "), nil).
			WithContext("problems", problems)
	}
	return nil
}

func (s *Settings) validateDB() []string {
	kind, err := database.ParseKind(s.DB.Type)
	if err != nil {
		// already reported by the oneof rule
		return nil
	}
	if !kind.IsServer() {
		return nil
	}

	var problems []string
	if strings.TrimSpace(s.DB.Host) == "" {
		problems = append(problems, fmt.Sprintf("db.host is required for %s", kind))
	}
	if strings.TrimSpace(s.DB.Name) == "" {
		problems = append(problems, fmt.Sprintf("db.db_name is required for %s", kind))
	}
	if len(problems) > 0 {
		return problems
	}

	if kind == database.KindPostgreSQL {
		if _, err := pgx.ParseConfig(s.Connection().PostgresURL()); err != nil {
			problems = append(problems, fmt.Sprintf("db: invalid postgresql connection: %v", err))
		}
	}
	return problems
}

func (s *Settings) validateEncryption() []string {
	if !s.Encryption.Enabled {
		return nil
	}
	if s.Encryption.Key == "" && s.Encryption.KeyFile == "" {
		return []string{"encryption.key or encryption.key_file is required when encryption is enabled"}
	}
	key, err := s.EncryptionKey()
	if err != nil {
		return []string{fmt.Sprintf("encryption.key_file: %v", err)}
	}
	if key == "" {
		return []string{"encryption key must not be empty"}
	}
	return nil
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s does not exist", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

// isWithin reports whether path is dir or below it, after resolving symlinks
func isWithin(path, dir string) bool {
	path, dir = canonical(path), canonical(dir)
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func canonical(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return path
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
