package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vaultwarden-backup/internal/archive"
	"vaultwarden-backup/internal/database"
	apperrors "vaultwarden-backup/internal/errors"
	"vaultwarden-backup/internal/staging"
)

// Dumper captures the database into the workspace
type Dumper interface {
	CheckCapability(kind database.Kind) error
	Dump(ctx context.Context, conn database.Connection, workspace, runID string) (string, error)
}

// Prober checks database connectivity before anything is written
type Prober interface {
	Probe(ctx context.Context, conn database.Connection, timeout time.Duration) error
}

// WorkspaceManager owns the workspace lifetime
type WorkspaceManager interface {
	Create(destinationRoot, runID string) (string, error)
	Delete(path string) error
}

// Stager copies the filtered data directory into the workspace
type Stager interface {
	Stage(ctx context.Context, sourceDir, workspacePath string, exclusions staging.ExclusionSet) (*staging.Result, error)
}

// Archiver converts the workspace into the artifact
type Archiver interface {
	Build(ctx context.Context, workspace, destination, runID string, opts archive.Options) (*archive.Artifact, error)
}

// Progress receives human-facing stage notifications
type Progress interface {
	StageStarted(stage string)
	StageFinished(stage string, err error)
	Warning(msg string)
}

// Dependencies are the collaborators of a Runner. Prober, Progress and Metrics are optional.
type Dependencies struct {
	Dumper    Dumper
	Prober    Prober
	Workspace WorkspaceManager
	Stager    Stager
	Archiver  Archiver
	Progress  Progress
	Metrics   *Metrics
}

// Plan carries the resolved inputs of a run
type Plan struct {
	Connection       database.Connection
	SourceDir        string
	Exclusions       staging.ExclusionSet
	Preflight        bool
	PreflightTimeout time.Duration
	MetricsTextfile  string
}

// StageResult records how long a stage took and whether it failed
type StageResult struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Report summarizes a run, successful or not
type Report struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	DumpPath      string
	WorkspacePath string
	WorkspaceKept bool
	ArtifactPath  string
	ArtifactSize  int64
	Format        archive.Format
	FilesStaged   int
	FilesSkipped  int
	BytesStaged   int64
	Skipped       []string
	Stages        []StageResult
	FailedStage   string
	Warnings      []string
}

// Runner executes the backup stages strictly in order
type Runner struct {
	deps Dependencies
	log  *RunLogger
	now  func() time.Time
}

// NewRunner creates a runner
func NewRunner(deps Dependencies, log *RunLogger) *Runner {
	if log == nil {
		log, _ = NewRunLogger(RunLoggerConfig{})
	}
	return &Runner{deps: deps, log: log, now: time.Now}
}

// Execute performs run according to plan. The returned report is never nil.
func (r *Runner) Execute(ctx context.Context, run *Run, plan Plan) (*Report, error) {
	report := &Report{
		RunID:     run.ID(),
		StartedAt: run.StartedAt(),
		Format:    archive.Options{Encrypt: run.Encrypted()}.Format(),
	}

	done := r.log.LogRunStart(run, map[string]interface{}{
		"db_type": string(plan.Connection.Kind),
		"source":  plan.SourceDir,
	})

	err := r.execute(ctx, run, plan, report)
	report.FinishedAt = r.now()
	if err != nil && report.WorkspacePath != "" {
		report.WorkspaceKept = true
		r.log.Warn(run.ID(), apperrors.GetStage(err),
			fmt.Sprintf("Workspace preserved for inspection at %s", report.WorkspacePath), nil)
	}
	done(err, report)

	r.publishMetrics(run, plan, report)
	return report, err
}

func (r *Runner) execute(ctx context.Context, run *Run, plan Plan, report *Report) error {
	kind := plan.Connection.Kind

	if err := r.stage(ctx, run, report, apperrors.StageCapability, func() (map[string]interface{}, error) {
		return map[string]interface{}{"tool": kind.Tool()}, r.deps.Dumper.CheckCapability(kind)
	}); err != nil {
		return err
	}

	if plan.Preflight && r.deps.Prober != nil {
		if err := r.stage(ctx, run, report, apperrors.StagePreflight, func() (map[string]interface{}, error) {
			return nil, r.deps.Prober.Probe(ctx, plan.Connection, plan.PreflightTimeout)
		}); err != nil {
			return err
		}
	}

	if err := r.stage(ctx, run, report, apperrors.StageWorkspace, func() (map[string]interface{}, error) {
		path, err := r.deps.Workspace.Create(run.Destination(), run.ID())
		report.WorkspacePath = path
		return map[string]interface{}{"path": path}, err
	}); err != nil {
		return err
	}

	if err := r.stage(ctx, run, report, apperrors.StageDump, func() (map[string]interface{}, error) {
		path, err := r.deps.Dumper.Dump(ctx, plan.Connection, report.WorkspacePath, run.ID())
		report.DumpPath = path
		return map[string]interface{}{"path": path}, err
	}); err != nil {
		return err
	}

	if err := r.stage(ctx, run, report, apperrors.StageStaging, func() (map[string]interface{}, error) {
		result, err := r.deps.Stager.Stage(ctx, plan.SourceDir, report.WorkspacePath, plan.Exclusions)
		if result != nil {
			report.FilesStaged = result.Files()
			report.FilesSkipped = len(result.Skipped)
			report.BytesStaged = result.Bytes
			report.Skipped = result.Skipped
		}
		return map[string]interface{}{
			"files_staged":  report.FilesStaged,
			"files_skipped": report.FilesSkipped,
			"bytes":         report.BytesStaged,
		}, err
	}); err != nil {
		return err
	}

	if err := r.stage(ctx, run, report, apperrors.StageArchive, func() (map[string]interface{}, error) {
		artifact, err := r.deps.Archiver.Build(ctx, report.WorkspacePath, run.Destination(), run.ID(),
			archive.Options{Encrypt: run.Encrypted(), Key: run.Key()})
		if err != nil {
			return nil, err
		}
		report.ArtifactPath = artifact.Path
		report.ArtifactSize = artifact.Size
		return map[string]interface{}{"path": artifact.Path, "size": artifact.Size, "entries": artifact.Entries}, nil
	}); err != nil {
		return err
	}

	// the artifact exists from here on, so cleanup problems are only warnings
	r.cleanup(run, report)
	return nil
}

func (r *Runner) cleanup(run *Run, report *Report) {
	r.progressStarted(apperrors.StageCleanup)
	finish := r.log.LogStageStart(run.ID(), apperrors.StageCleanup)
	start := r.now()

	err := r.deps.Workspace.Delete(report.WorkspacePath)
	report.Stages = append(report.Stages, StageResult{Name: apperrors.StageCleanup, Duration: r.now().Sub(start), Err: err})
	finish(nil, map[string]interface{}{"path": report.WorkspacePath})

	if err != nil {
		report.WorkspaceKept = true
		msg := fmt.Sprintf("Workspace %s could not be deleted: %s", report.WorkspacePath, apperrors.FormatUserError(err))
		report.Warnings = append(report.Warnings, msg)
		r.log.Warn(run.ID(), apperrors.StageCleanup, msg, err)
		r.progressWarning(msg)
	}
	r.progressFinished(apperrors.StageCleanup, nil)
}

// stage runs fn as the named stage and tags any error with it
func (r *Runner) stage(ctx context.Context, run *Run, report *Report, name string, fn func() (map[string]interface{}, error)) error {
	if err := ctx.Err(); err != nil {
		return r.fail(report, name, interrupted(name, err))
	}

	r.progressStarted(name)
	finish := r.log.LogStageStart(run.ID(), name)
	start := r.now()

	metadata, err := fn()
	if err != nil {
		if ctx.Err() != nil {
			err = interrupted(name, err)
		} else {
			err = tagStage(name, err)
		}
	}

	report.Stages = append(report.Stages, StageResult{Name: name, Duration: r.now().Sub(start), Err: err})
	finish(err, metadata)
	r.progressFinished(name, err)

	if err != nil {
		return r.fail(report, name, err)
	}
	return nil
}

func (r *Runner) fail(report *Report, name string, err error) error {
	report.FailedStage = name
	return err
}

func (r *Runner) publishMetrics(run *Run, plan Plan, report *Report) {
	if r.deps.Metrics == nil {
		return
	}
	r.deps.Metrics.Observe(report)
	if err := r.deps.Metrics.WriteTextfile(plan.MetricsTextfile); err != nil {
		msg := fmt.Sprintf("Metrics not written: %v", err)
		report.Warnings = append(report.Warnings, msg)
		r.log.Warn(run.ID(), "metrics", msg, err)
		r.progressWarning(msg)
	}
}

func (r *Runner) progressStarted(stage string) {
	if r.deps.Progress != nil {
		r.deps.Progress.StageStarted(stage)
	}
}

func (r *Runner) progressFinished(stage string, err error) {
	if r.deps.Progress != nil {
		r.deps.Progress.StageFinished(stage, err)
	}
}

func (r *Runner) progressWarning(msg string) {
	if r.deps.Progress != nil {
		r.deps.Progress.Warning(msg)
	}
}

func interrupted(stage string, err error) error {
	return apperrors.NewAppError(apperrors.ErrorTypeInterruption, "backup interrupted", err).WithStage(stage)
}

// tagStage makes sure every error names the stage it came from
func tagStage(stage string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Stage == "" {
			appErr.Stage = stage
		}
		return err
	}

	switch stage {
	case apperrors.StageCapability, apperrors.StageDump, apperrors.StagePreflight:
		return apperrors.NewDumpError("stage failed", err).WithStage(stage)
	case apperrors.StageArchive:
		return apperrors.NewArchiveError("stage failed", err)
	default:
		return apperrors.NewIOError(stage, "stage failed", err)
	}
}
