package display

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"vaultwarden-backup/internal/archive"
	"vaultwarden-backup/internal/backup"
	apperrors "vaultwarden-backup/internal/errors"
)

func newTestService(t *testing.T, mutate func(*DisplayConfig)) (DisplayService, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	config := DefaultDisplayConfig()
	config.Writer = &buf
	config.UseIcons = false
	if mutate != nil {
		mutate(config)
	}
	return NewDisplayService(config), &buf
}

func sampleReport() *backup.Report {
	started := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	return &backup.Report{
		RunID:         "2024-03-01_02-00-00",
		StartedAt:     started,
		FinishedAt:    started.Add(3 * time.Second),
		ArtifactPath:  "/backups/2024-03-01_02-00-00.tar.gz",
		ArtifactSize:  2048,
		Format:        archive.FormatTarGz,
		FilesStaged:   4,
		FilesSkipped:  1,
		Skipped:       []string{"/data/icon_cache"},
		WorkspacePath: "/backups/2024-03-01_02-00-00",
	}
}

func TestBufferedWriterHasNoColor(t *testing.T) {
	service, buf := newTestService(t, nil)
	service.Success("done")

	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("Expected no ANSI escapes for a non-terminal writer, got %q", buf.String())
	}
	if buf.String() != "done\n" {
		t.Errorf("Expected plain message, got %q", buf.String())
	}
}

func TestRunStartedBanner(t *testing.T) {
	service, buf := newTestService(t, nil)
	run, err := backup.NewRun(time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC), "/backups", "secret")
	if err != nil {
		t.Fatal(err)
	}

	service.RunStarted(run)
	output := buf.String()
	for _, want := range []string{"Vaultwarden backup 2024-03-01_02-00-00", "2024-03-01T02:00:00Z", "/backups", "encrypted zip"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected banner to contain %q, got:\n%s", want, output)
		}
	}
}

func TestStageProgress(t *testing.T) {
	service, buf := newTestService(t, func(c *DisplayConfig) { c.VerboseMode = true })

	service.StageStarted(apperrors.StageArchive)
	service.StageFinished(apperrors.StageArchive, nil)

	output := buf.String()
	if !strings.Contains(output, "Building archive...") {
		t.Errorf("Expected stage start line, got:\n%s", output)
	}
	if !strings.Contains(output, "Building archive done in") {
		t.Errorf("Expected stage completion line in verbose mode, got:\n%s", output)
	}
}

func TestStageFailureShownInQuietMode(t *testing.T) {
	service, buf := newTestService(t, func(c *DisplayConfig) { c.QuietMode = true })

	service.StageStarted(apperrors.StageDump)
	service.Warning("ignored")
	service.StageFinished(apperrors.StageDump, apperrors.NewDumpError("database backup not created", nil))

	output := buf.String()
	if strings.Contains(output, "Dumping database...") || strings.Contains(output, "ignored") {
		t.Errorf("Expected quiet mode to hide progress and warnings, got:\n%s", output)
	}
	if !strings.Contains(output, "Dumping database failed: database-dump stage failed: database backup not created") {
		t.Errorf("Expected failure line, got:\n%s", output)
	}
}

func TestSummaryText(t *testing.T) {
	service, buf := newTestService(t, nil)
	service.Summary(sampleReport(), nil)

	output := buf.String()
	if !strings.Contains(output, "Backup 2024-03-01_02-00-00 finished at 2024-03-01T02:00:03Z (3s)") {
		t.Errorf("Expected end banner, got:\n%s", output)
	}
	if !strings.Contains(output, "/backups/2024-03-01_02-00-00.tar.gz (2.0 KiB)") {
		t.Errorf("Expected artifact line, got:\n%s", output)
	}
}

func TestSummaryFailureMentionsWorkspace(t *testing.T) {
	service, buf := newTestService(t, nil)
	report := sampleReport()
	report.ArtifactPath = ""
	report.WorkspaceKept = true
	report.FailedStage = apperrors.StageArchive

	service.Summary(report, apperrors.NewArchiveError("disk full", nil))

	output := buf.String()
	if !strings.Contains(output, "Workspace kept for inspection: /backups/2024-03-01_02-00-00") {
		t.Errorf("Expected workspace notice, got:\n%s", output)
	}
	if !strings.Contains(output, "failed after 3s") {
		t.Errorf("Expected failure banner, got:\n%s", output)
	}
}

func TestSummaryJSON(t *testing.T) {
	service, buf := newTestService(t, func(c *DisplayConfig) { c.OutputFormat = string(FormatJSON) })
	service.Summary(sampleReport(), nil)

	var summary RunSummary
	if err := json.Unmarshal(buf.Bytes(), &summary); err != nil {
		t.Fatalf("Expected valid JSON, got %v:\n%s", err, buf.String())
	}
	if !summary.Success || summary.FilesStaged != 4 || summary.Format != "tar.gz" {
		t.Errorf("Unexpected summary: %+v", summary)
	}
	if summary.WorkspaceKept != "" {
		t.Errorf("Expected no kept workspace, got %q", summary.WorkspaceKept)
	}
	if len(summary.Skipped) != 1 || summary.Skipped[0] != "/data/icon_cache" {
		t.Errorf("Expected skipped paths in the summary, got %v", summary.Skipped)
	}
}

func TestSummaryYAML(t *testing.T) {
	service, buf := newTestService(t, func(c *DisplayConfig) { c.OutputFormat = string(FormatYAML) })
	service.Summary(sampleReport(), errors.New("boom"))

	var summary RunSummary
	if err := yaml.Unmarshal(buf.Bytes(), &summary); err != nil {
		t.Fatalf("Expected valid YAML, got %v", err)
	}
	if summary.Success || summary.Error != "boom" {
		t.Errorf("Unexpected summary: %+v", summary)
	}
}

func TestStageLabel(t *testing.T) {
	if StageLabel(apperrors.StageStaging) != "Staging data files" {
		t.Errorf("Unexpected label %q", StageLabel(apperrors.StageStaging))
	}
	if StageLabel("metrics") != "metrics" {
		t.Errorf("Expected unknown stages to pass through")
	}
}

func TestDisplayConfigValidate(t *testing.T) {
	config := DefaultDisplayConfig()
	if err := config.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got %v", err)
	}

	config.Theme = "neon"
	config.VerboseMode = true
	config.QuietMode = true
	err := config.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !strings.Contains(err.Error(), "invalid theme 'neon'") || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("Expected all problems reported, got %v", err)
	}
}

func TestGetThemeByName(t *testing.T) {
	if GetThemeByName("light") != LightColorTheme() {
		t.Error("Expected the light theme")
	}
	if GetThemeByName("plain") != PlainTextTheme() {
		t.Error("Expected the plain theme")
	}
	if GetThemeByName("unknown") != DarkColorTheme() {
		t.Error("Expected unknown names to fall back to dark")
	}
}

func TestIconSet(t *testing.T) {
	t.Setenv("NO_UNICODE", "1")
	icons := NewIconSet(true)
	if icons.Render("success") != "[OK]" {
		t.Errorf("Expected ASCII fallback, got %q", icons.Render("success"))
	}
	if NewIconSet(false).Render("success") != "" {
		t.Error("Expected disabled icons to render nothing")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:         "512 B",
		2048:        "2.0 KiB",
		5 * 1 << 20: "5.0 MiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
