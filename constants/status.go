package constants

// PageStatus is the outcome of one page. Values are stored verbatim in the run store.
type PageStatus string

const (
	PageStatusPassedFirstTry   PageStatus = "passed-first-try"
	PageStatusPassedAfterRetry PageStatus = "passed-after-retry" // rendered with ":<strategy>"
	PageStatusFailedLowQuality PageStatus = "failed-low-quality"
	PageStatusFailed           PageStatus = "failed"  // stage error
	PageStatusAborted          PageStatus = "aborted" // timeout or cancellation
)

// DocumentStatus is the aggregate outcome of a document.
type DocumentStatus string

const (
	DocumentStatusSucceeded           DocumentStatus = "succeeded"
	DocumentStatusSucceededAfterRetry DocumentStatus = "succeeded-after-retry"
	DocumentStatusPartial             DocumentStatus = "partial"
	DocumentStatusFailed              DocumentStatus = "failed"
	DocumentStatusTimedOut            DocumentStatus = "timed-out"
	DocumentStatusAborted             DocumentStatus = "aborted" // cancelled while in flight
	DocumentStatusSkipped             DocumentStatus = "skipped" // never admitted
)

// RunStatus is the lifecycle of a batch run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusAborted   RunStatus = "ABORTED"
)

// InitialStrategy names the attempt run under the base configuration.
const InitialStrategy = "initial"

// Labels of the non-retried page phases. Attempts are labelled by strategy
// name, so these are reserved too.
const (
	PhaseBase  = "base"
	PhaseFinal = "final"
)
