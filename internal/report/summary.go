package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/tyemirov/pipegate/internal/scheduler"
)

const (
	pipelineSummaryMessageConstant  = "pipeline summary"
	jobSummaryMessageConstant       = "job summary"
	jobConfigurationMessageConstant = "job blocked by configuration error"
	runIDFieldNameConstant          = "run_id"
	pipelineFieldNameConstant       = "pipeline"
	statusFieldNameConstant         = "status"
	triggerFieldNameConstant        = "trigger"
	jobFieldNameConstant            = "job"
	failureKindFieldNameConstant    = "failure_kind"
	failedTaskFieldNameConstant     = "failed_task"
	instanceFieldNameConstant       = "instance"
	reasonFieldNameConstant         = "reason"
	releaseModeFieldNameConstant    = "release_mode"
	durationFieldNameConstant       = "duration"
	countsFieldNameConstant         = "jobs"
	reportFileCreateErrorTemplate   = "unable to create report directory %s: %w"
	reportFileWriteErrorTemplate    = "unable to write report file %s: %w"
	reportEncodeErrorTemplate       = "unable to encode run report: %w"
	reportFilePermissions           = 0o644
	reportDirectoryPermissions      = 0o755
)

// StatusCounts tallies jobs by terminal status.
type StatusCounts map[scheduler.JobStatus]int

// CountStatuses tallies the jobs of a run.
func CountStatuses(result scheduler.RunResult) StatusCounts {
	counts := make(StatusCounts)
	for _, job := range result.Jobs {
		counts[job.Status]++
	}
	return counts
}

// LogSummary emits one entry per job and a final pipeline entry. Jobs blocked
// by configuration errors are logged at error level apart from task failures.
func LogSummary(logger *zap.Logger, result scheduler.RunResult) {
	if logger == nil {
		return
	}
	runLogger := logger.With(zap.String(runIDFieldNameConstant, result.RunID))
	for _, job := range result.Jobs {
		fields := []zap.Field{
			zap.String(jobFieldNameConstant, job.Name),
			zap.String(statusFieldNameConstant, string(job.Status)),
		}
		if job.FailureKind != scheduler.FailureKindNone {
			fields = append(fields, zap.String(failureKindFieldNameConstant, string(job.FailureKind)))
		}
		if len(job.Reason) > 0 {
			fields = append(fields, zap.String(reasonFieldNameConstant, job.Reason))
		}
		if failure, exists := job.FirstFailure(); exists {
			fields = append(fields,
				zap.String(instanceFieldNameConstant, failure.ID),
				zap.String(failedTaskFieldNameConstant, failure.FailedTask),
			)
		}
		if job.FailureKind == scheduler.FailureKindConfigurationError {
			runLogger.Error(jobConfigurationMessageConstant, fields...)
			continue
		}
		runLogger.Info(jobSummaryMessageConstant, fields...)
	}

	fields := []zap.Field{
		zap.String(pipelineFieldNameConstant, result.Pipeline),
		zap.String(statusFieldNameConstant, string(result.Status)),
		zap.String(triggerFieldNameConstant, string(result.Trigger.Kind)),
		zap.Duration(durationFieldNameConstant, result.EndTime.Sub(result.StartTime)),
		zap.Any(countsFieldNameConstant, CountStatuses(result)),
	}
	if result.Release != nil && len(result.Release.ModeName) > 0 {
		fields = append(fields, zap.String(releaseModeFieldNameConstant, result.Release.ModeName))
	}
	runLogger.Info(pipelineSummaryMessageConstant, fields...)
}

// WriteJSONFile writes the run result as indented JSON.
func WriteJSONFile(filePath string, result scheduler.RunResult) error {
	encoded, encodeError := json.MarshalIndent(result, "", "  ")
	if encodeError != nil {
		return fmt.Errorf(reportEncodeErrorTemplate, encodeError)
	}
	directory := filepath.Dir(filePath)
	if mkdirError := os.MkdirAll(directory, reportDirectoryPermissions); mkdirError != nil {
		return fmt.Errorf(reportFileCreateErrorTemplate, directory, mkdirError)
	}
	if writeError := os.WriteFile(filePath, append(encoded, '\n'), reportFilePermissions); writeError != nil {
		return fmt.Errorf(reportFileWriteErrorTemplate, filePath, writeError)
	}
	return nil
}
