package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/jackc/pgx/v5"

	apperrors "vaultwarden-backup/internal/errors"
	"vaultwarden-backup/internal/logging"
)

// DefaultProbeTimeout bounds a connectivity preflight
const DefaultProbeTimeout = 10 * time.Second

type pgPinger interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Prober checks that the configured database is reachable before a dump
type Prober struct {
	logger     *logging.Logger
	classifier *apperrors.ErrorClassifier
	openSQL    func(driverName, dsn string) (*sql.DB, error)
	connectPG  func(ctx context.Context, connString string) (pgPinger, error)
}

// NewProber creates a prober using the MySQL driver and pgx
func NewProber(logger *logging.Logger) *Prober {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Prober{
		logger:     logger,
		classifier: apperrors.NewErrorClassifier(),
		openSQL:    sql.Open,
		connectPG: func(ctx context.Context, connString string) (pgPinger, error) {
			return pgx.Connect(ctx, connString)
		},
	}
}

// Probe pings the database described by conn within timeout
func (p *Prober) Probe(ctx context.Context, conn Connection, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var err error
	switch conn.Kind {
	case KindPostgreSQL:
		err = p.probePostgres(ctx, conn)
	case KindMySQL, KindMariaDB:
		err = p.probeMySQL(ctx, conn, timeout)
	case KindSQLite:
		_, err = os.Stat(conn.SQLitePath())
	default:
		return apperrors.NewConfigError(fmt.Sprintf("unsupported database type %q", conn.Kind), nil)
	}
	p.logger.LogDatabaseProbe(string(conn.Kind), conn.Host, conn.Name, time.Since(start), err)

	if err != nil {
		appErr := apperrors.NewDumpError("database is not reachable", err).
			WithStage(apperrors.StagePreflight).
			WithContext("target", conn.Target())
		appErr.UserMessage = p.classifier.Describe(err)
		return appErr
	}
	return nil
}

func (p *Prober) probeMySQL(ctx context.Context, conn Connection, timeout time.Duration) error {
	db, err := p.openSQL("mysql", conn.MySQLDSN(timeout))
	if err != nil {
		return err
	}
	defer db.Close()

	return db.PingContext(ctx)
}

func (p *Prober) probePostgres(ctx context.Context, conn Connection) error {
	pc, err := p.connectPG(ctx, conn.PostgresURL())
	if err != nil {
		return err
	}
	defer pc.Close(context.Background())

	return pc.Ping(ctx)
}
