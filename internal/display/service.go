// Package display renders backup progress and results for humans.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"vaultwarden-backup/internal/backup"
	apperrors "vaultwarden-backup/internal/errors"
)

// DisplayService prints run progress. It satisfies backup.Progress.
type DisplayService interface {
	RunStarted(run *backup.Run)
	StageStarted(stage string)
	StageFinished(stage string, err error)
	Summary(report *backup.Report, err error)

	Success(message string)
	Warning(message string)
	Error(message string)
	Info(message string)

	SetOutput(writer io.Writer)
	GetConfig() *DisplayConfig
}

var stageLabels = map[string]string{
	apperrors.StageCapability: "Checking dump utility",
	apperrors.StagePreflight:  "Checking database connectivity",
	apperrors.StageWorkspace:  "Creating workspace",
	apperrors.StageDump:       "Dumping database",
	apperrors.StageStaging:    "Staging data files",
	apperrors.StageArchive:    "Building archive",
	apperrors.StageCleanup:    "Removing workspace",
}

type displayService struct {
	config      *DisplayConfig
	colorSystem ColorSystem
	icons       IconSet
	writer      io.Writer
	summary     io.Writer
	stageStart  map[string]time.Time
	now         func() time.Time
}

// NewDisplayService creates a display service with the given configuration
func NewDisplayService(config *DisplayConfig) DisplayService {
	if config == nil {
		config = DefaultDisplayConfig()
	}
	config.SetDefaults()

	return &displayService{
		config:      config,
		colorSystem: NewColorSystem(GetThemeByName(config.Theme), config.IsColorEnabled(), config.Writer),
		icons:       NewIconSet(config.IsIconsEnabled()),
		writer:      config.Writer,
		summary:     config.SummaryWriter,
		stageStart:  make(map[string]time.Time),
		now:         time.Now,
	}
}

// StageLabel returns the human description of a stage
func StageLabel(stage string) string {
	if label, ok := stageLabels[stage]; ok {
		return label
	}
	return stage
}

func (ds *displayService) RunStarted(run *backup.Run) {
	if !ds.textOutput() || ds.config.QuietMode {
		return
	}
	mode := "plain tar.gz"
	if run.Encrypted() {
		mode = "encrypted zip"
	}
	title := fmt.Sprintf("Vaultwarden backup %s", run.ID())
	fmt.Fprintln(ds.writer, ds.colorSystem.Colorize(title, ds.colorSystem.GetTheme().Primary))
	fmt.Fprintf(ds.writer, "  started:     %s\n", run.StartedAt().Format(time.RFC3339))
	fmt.Fprintf(ds.writer, "  destination: %s\n", run.Destination())
	fmt.Fprintf(ds.writer, "  format:      %s\n", mode)
}

func (ds *displayService) StageStarted(stage string) {
	ds.stageStart[stage] = ds.now()
	if !ds.textOutput() || ds.config.QuietMode {
		return
	}
	ds.printLine("stage", ds.colorSystem.GetTheme().Primary, StageLabel(stage)+"...")
}

func (ds *displayService) StageFinished(stage string, err error) {
	elapsed := ds.now().Sub(ds.stageStart[stage])
	delete(ds.stageStart, stage)

	if err != nil {
		ds.Error(fmt.Sprintf("%s failed: %s", StageLabel(stage), apperrors.FormatUserError(err)))
		return
	}
	if !ds.textOutput() || !ds.config.VerboseMode {
		return
	}
	ds.printLine("success", ds.colorSystem.GetTheme().Muted,
		fmt.Sprintf("%s done in %s", StageLabel(stage), elapsed.Round(time.Millisecond)))
}

// RunSummary is the machine-readable outcome of a run
type RunSummary struct {
	RunID         string   `json:"run_id" yaml:"run_id"`
	Success       bool     `json:"success" yaml:"success"`
	StartedAt     string   `json:"started_at" yaml:"started_at"`
	FinishedAt    string   `json:"finished_at" yaml:"finished_at"`
	Duration      string   `json:"duration" yaml:"duration"`
	Artifact      string   `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	ArtifactSize  int64    `json:"artifact_size,omitempty" yaml:"artifact_size,omitempty"`
	Format        string   `json:"format" yaml:"format"`
	FilesStaged   int      `json:"files_staged" yaml:"files_staged"`
	FilesSkipped  int      `json:"files_skipped" yaml:"files_skipped"`
	Skipped       []string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	FailedStage   string   `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	Error         string   `json:"error,omitempty" yaml:"error,omitempty"`
	WorkspaceKept string   `json:"workspace_kept,omitempty" yaml:"workspace_kept,omitempty"`
	Warnings      []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// NewRunSummary flattens a report and its error
func NewRunSummary(report *backup.Report, err error) RunSummary {
	s := RunSummary{
		RunID:        report.RunID,
		Success:      err == nil,
		StartedAt:    report.StartedAt.Format(time.RFC3339),
		FinishedAt:   report.FinishedAt.Format(time.RFC3339),
		Duration:     report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond).String(),
		Artifact:     report.ArtifactPath,
		ArtifactSize: report.ArtifactSize,
		Format:       string(report.Format),
		FilesStaged:  report.FilesStaged,
		FilesSkipped: report.FilesSkipped,
		Skipped:      report.Skipped,
		FailedStage:  report.FailedStage,
		Warnings:     report.Warnings,
	}
	if err != nil {
		s.Error = apperrors.FormatUserError(err)
	}
	if report.WorkspaceKept {
		s.WorkspaceKept = report.WorkspacePath
	}
	return s
}

// Summary prints the end banner, or the summary document for json and yaml output
func (ds *displayService) Summary(report *backup.Report, err error) {
	if report == nil {
		return
	}
	summary := NewRunSummary(report, err)

	switch OutputFormat(ds.config.OutputFormat) {
	case FormatJSON:
		data, mErr := json.MarshalIndent(summary, "", "  ")
		if mErr != nil {
			fmt.Fprintf(ds.writer, "Error formatting JSON: %v\n", mErr)
			return
		}
		fmt.Fprintln(ds.summary, string(data))
		return
	case FormatYAML:
		data, mErr := yaml.Marshal(summary)
		if mErr != nil {
			fmt.Fprintf(ds.writer, "Error formatting YAML: %v\n", mErr)
			return
		}
		fmt.Fprint(ds.summary, string(data))
		return
	}

	if summary.WorkspaceKept != "" && err != nil {
		ds.Warning(fmt.Sprintf("Workspace kept for inspection: %s", summary.WorkspaceKept))
	}
	if err != nil {
		ds.Error(fmt.Sprintf("Backup %s failed after %s", summary.RunID, summary.Duration))
		return
	}
	ds.Success(fmt.Sprintf("Backup %s finished at %s (%s)", summary.RunID, summary.FinishedAt, summary.Duration))
	if ds.config.QuietMode {
		return
	}
	fmt.Fprintf(ds.writer, "  artifact: %s (%s)\n", summary.Artifact, formatBytes(summary.ArtifactSize))
	fmt.Fprintf(ds.writer, "  files:    %d staged, %d skipped\n", summary.FilesStaged, summary.FilesSkipped)
}

// Success prints a success message
func (ds *displayService) Success(message string) {
	if ds.config.QuietMode {
		return
	}
	ds.printLine("success", ds.colorSystem.GetTheme().Success, message)
}

// Warning prints a warning message
func (ds *displayService) Warning(message string) {
	if ds.config.QuietMode {
		return
	}
	ds.printLine("warning", ds.colorSystem.GetTheme().Warning, message)
}

// Error prints an error message. Errors are shown even in quiet mode.
func (ds *displayService) Error(message string) {
	ds.printLine("error", ds.colorSystem.GetTheme().Error, message)
}

// Info prints an info message
func (ds *displayService) Info(message string) {
	if ds.config.QuietMode {
		return
	}
	ds.printLine("info", ds.colorSystem.GetTheme().Info, message)
}

func (ds *displayService) SetOutput(writer io.Writer) {
	ds.writer = writer
	ds.config.Writer = writer
}

func (ds *displayService) GetConfig() *DisplayConfig {
	return ds.config
}

func (ds *displayService) textOutput() bool {
	return OutputFormat(ds.config.OutputFormat) == FormatText
}

func (ds *displayService) printLine(icon string, clr Color, message string) {
	if prefix := ds.icons.Render(icon); prefix != "" {
		message = ds.colorSystem.Colorize(prefix, clr) + " " + message
	} else if clr != ColorReset {
		message = ds.colorSystem.Colorize(message, clr)
	}
	fmt.Fprintln(ds.writer, message)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
