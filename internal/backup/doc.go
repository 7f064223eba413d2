// Package backup sequences a single Vaultwarden backup run.
//
// A run moves through fixed stages, each completing before the next starts:
//
//  1. capability check: the engine's dump utility must be on PATH
//  2. preflight (optional): the database server must answer a ping
//  3. workspace: <destination>/<runID>/ is created fresh
//  4. database dump: written into the workspace
//  5. file staging: the data directory is copied in, minus exclusions
//  6. archive: <destination>/<runID>.tar.gz, or .zip when encrypted
//  7. cleanup: the workspace is removed
//
// The first failing stage aborts the run. The workspace is kept for
// inspection whenever a stage after its creation fails; a failed cleanup only
// produces a warning because the artifact already exists.
//
// Example usage:
//
//	runner := backup.NewRunner(backup.Dependencies{
//		Dumper:    database.NewDumper(logger, database.DefaultDeps()),
//		Workspace: workspace.NewManager(logger),
//		Stager:    staging.NewStager(logger),
//		Archiver:  archive.NewBuilder(logger),
//	}, runLogger)
//
//	run, err := backup.NewRun(time.Now(), settings.BackupLocation, key)
//	if err != nil {
//		return err
//	}
//	report, err := runner.Execute(ctx, run, plan)
package backup
