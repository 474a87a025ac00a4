package notify

import "time"

// Provider defines the notification contract for pipeline run events.
// This interface allows for different notification backends (Slack, email, etc.)
// and enables easier testing through mock implementations.
type Provider interface {
	// RunStarted sends notification when a pipeline run starts.
	RunStarted(runID, mode string, partitionCount int) error

	// RunCompleted sends notification when a run completes successfully.
	RunCompleted(runID string, startTime time.Time, duration time.Duration, partitionCount int, rowCount int64) error

	// RunFailed sends notification when a run fails outright.
	RunFailed(runID string, err error, duration time.Duration) error

	// RunCompletedWithErrors sends notification when a run completes with some partition failures.
	RunCompletedWithErrors(runID string, startTime time.Time, duration time.Duration, succeeded, failed int, rowCount int64, failures []string) error

	// PartitionFailed sends notification for an individual partition failure.
	PartitionFailed(runID, dataset string, year int, err error) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
