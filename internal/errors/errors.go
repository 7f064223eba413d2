package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorType represents the category of a backup failure
type ErrorType string

const (
	// ErrorTypeConfig represents invalid or missing settings, detected before a run starts
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeDump represents a missing or failing database dump utility
	ErrorTypeDump ErrorType = "dump"
	// ErrorTypeIO represents filesystem failures in the workspace or while staging
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeArchive represents failures while writing the tar.gz or zip artifact
	ErrorTypeArchive ErrorType = "archive"
	// ErrorTypeInterruption represents a run stopped by a signal
	ErrorTypeInterruption ErrorType = "interruption"
	// ErrorTypeUnknown represents unknown errors
	ErrorTypeUnknown ErrorType = "unknown"
)

// Pipeline stage names used to tag errors.
const (
	StageConfig     = "config"
	StageCapability = "capability-check"
	StagePreflight  = "preflight"
	StageWorkspace  = "workspace"
	StageDump       = "database-dump"
	StageStaging    = "file-staging"
	StageArchive    = "archive"
	StageCleanup    = "cleanup"
)

// AppError represents a backup error tagged with its kind and the stage that raised it
type AppError struct {
	Type        ErrorType
	Stage       string
	Message     string
	Cause       error
	Context     map[string]interface{}
	UserMessage string
}

// Error implements the error interface
func (e *AppError) Error() string {
	prefix := string(e.Type)
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s [%s]", e.Type, e.Stage)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// GetUserMessage returns a user-friendly error message
func (e *AppError) GetUserMessage() string {
	msg := e.Message
	if e.UserMessage != "" {
		msg = e.UserMessage
	}
	if e.Cause != nil && e.UserMessage == "" {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s stage failed: %s", e.Stage, msg)
	}
	return msg
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithStage tags the error with the pipeline stage that raised it
func (e *AppError) WithStage(stage string) *AppError {
	e.Stage = stage
	return e
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeConfig, message, cause).WithStage(StageConfig)
}

func NewDumpError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeDump, message, cause).WithStage(StageDump)
}

func NewIOError(stage, message string, cause error) *AppError {
	return NewAppError(ErrorTypeIO, message, cause).WithStage(stage)
}

func NewArchiveError(message string, cause error) *AppError {
	return NewAppError(ErrorTypeArchive, message, cause).WithStage(StageArchive)
}

// ErrorClassifier turns database client and filesystem errors into user-facing messages
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// Describe returns a short explanation for err, or "" when nothing more specific is known
func (ec *ErrorClassifier) Describe(err error) string {
	if err == nil {
		return ""
	}
	for _, classify := range []func(error) string{
		ec.describeMySQLError,
		ec.describePostgresError,
		ec.describeContextError,
		ec.describeNetworkError,
		ec.describeFileSystemError,
	} {
		if msg := classify(err); msg != "" {
			return msg
		}
	}
	return ""
}

func (ec *ErrorClassifier) describeMySQLError(err error) string {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return ""
	}
	switch mysqlErr.Number {
	case 1044, 1045:
		return "database access denied - check username and password"
	case 1049:
		return "database does not exist"
	case 2003:
		return "cannot connect to MySQL server - server may be down or unreachable"
	case 2006:
		return "MySQL server connection lost"
	default:
		return fmt.Sprintf("MySQL error %d: %s", mysqlErr.Number, mysqlErr.Message)
	}
}

func (ec *ErrorClassifier) describePostgresError(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ""
	}
	switch pgErr.Code {
	case "28P01", "28000":
		return "database access denied - check username and password"
	case "3D000":
		return "database does not exist"
	case "57P03":
		return "PostgreSQL server is not accepting connections yet"
	default:
		return fmt.Sprintf("PostgreSQL error %s: %s", pgErr.Code, pgErr.Message)
	}
}

func (ec *ErrorClassifier) describeContextError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "operation timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "operation was canceled"
	}
	return ""
}

func (ec *ErrorClassifier) describeNetworkError(err error) string {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "failed to establish network connection"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("cannot resolve host %s", dnsErr.Name)
	}
	return ""
}

func (ec *ErrorClassifier) describeFileSystemError(err error) string {
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		return ""
	}
	switch {
	case errors.Is(pathErr.Err, syscall.ENOENT):
		return fmt.Sprintf("file or directory not found: %s", pathErr.Path)
	case errors.Is(pathErr.Err, syscall.EACCES), errors.Is(pathErr.Err, syscall.EPERM):
		return fmt.Sprintf("permission denied: %s", pathErr.Path)
	case errors.Is(pathErr.Err, syscall.ENOSPC):
		return "no space left on device"
	case errors.Is(pathErr.Err, syscall.EEXIST):
		return fmt.Sprintf("already exists: %s", pathErr.Path)
	}
	return ""
}

// GetErrorType returns the error type of an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeUnknown
}

// IsType reports whether err is an AppError of the given type
func IsType(err error, errorType ErrorType) bool {
	return err != nil && GetErrorType(err) == errorType
}

// GetStage returns the stage recorded on err, if any
func GetStage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Stage
	}
	return ""
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.GetUserMessage()
	}

	return err.Error()
}

// ExitCode maps an error to the process exit status
func ExitCode(err error) int {
	switch GetErrorType(err) {
	case ErrorTypeConfig:
		return 2
	case ErrorTypeDump:
		return 3
	case ErrorTypeIO:
		return 4
	case ErrorTypeArchive:
		return 5
	case ErrorTypeInterruption:
		return 130
	}
	if err != nil {
		return 1
	}
	return 0
}
