package database

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Kind identifies a supported database engine
type Kind string

const (
	KindPostgreSQL Kind = "postgresql"
	KindMySQL      Kind = "mysql"
	KindMariaDB    Kind = "mariadb"
	KindSQLite     Kind = "sqlite"
)

// Default server ports
const (
	DefaultPostgresPort = 5432
	DefaultMySQLPort    = 3306
)

// SQLiteFileName is the live database file inside the data directory
const SQLiteFileName = "db.sqlite3"

// ParseKind converts a configured db_type into a Kind
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindPostgreSQL, KindMySQL, KindMariaDB, KindSQLite:
		return k, nil
	case "postgres":
		return KindPostgreSQL, nil
	default:
		return "", fmt.Errorf("unsupported database type %q", s)
	}
}

// Tool returns the dump utility used for this engine
func (k Kind) Tool() string {
	switch k {
	case KindPostgreSQL:
		return "pg_dump"
	case KindMySQL, KindMariaDB:
		return "mysqldump"
	case KindSQLite:
		return "sqlite3"
	}
	return ""
}

// IsServer reports whether the engine is reached over the network
func (k Kind) IsServer() bool {
	return k == KindPostgreSQL || k == KindMySQL || k == KindMariaDB
}

// DumpExtension is the file extension of the dump produced for this engine
func (k Kind) DumpExtension() string {
	switch k {
	case KindPostgreSQL:
		return "dump"
	case KindMySQL, KindMariaDB:
		return "sql"
	case KindSQLite:
		return "sqlite3"
	}
	return ""
}

// Connection describes how to reach the database to dump
type Connection struct {
	Kind     Kind
	Host     string
	Port     int
	Username string
	Password string
	Name     string
	// DataDir holds the SQLite file for KindSQLite
	DataDir string
}

// HasCredentials reports whether both username and password are set.
// Dump tools only receive credentials when both are present.
func (c Connection) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// EffectivePort returns the configured port or the engine default
func (c Connection) EffectivePort() int {
	if c.Port > 0 {
		return c.Port
	}
	switch c.Kind {
	case KindPostgreSQL:
		return DefaultPostgresPort
	case KindMySQL, KindMariaDB:
		return DefaultMySQLPort
	}
	return 0
}

// PostgresURL returns the connection URL handed to pg_dump --dbname
func (c Connection) PostgresURL() string {
	u := url.URL{
		Scheme: "postgresql",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.EffectivePort())),
		Path:   "/" + c.Name,
	}
	if c.HasCredentials() {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String()
}

// MySQLDSN returns a go-sql-driver DSN for connectivity checks
func (c Connection) MySQLDSN(timeout time.Duration) string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.EffectivePort()))
	cfg.DBName = c.Name
	if c.HasCredentials() {
		cfg.User = c.Username
		cfg.Passwd = c.Password
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return cfg.FormatDSN()
}

// SQLitePath returns the path of the live SQLite database
func (c Connection) SQLitePath() string {
	return filepath.Join(c.DataDir, SQLiteFileName)
}

// Target returns a loggable description without secrets
func (c Connection) Target() string {
	if c.Kind == KindSQLite {
		return c.SQLitePath()
	}
	return fmt.Sprintf("%s/%s", net.JoinHostPort(c.Host, strconv.Itoa(c.EffectivePort())), c.Name)
}
