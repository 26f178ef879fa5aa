package audit

import "errors"

// Browser pool acquisition failures.
var (
	ErrPoolExhausted = errors.New("browser pool exhausted")
	ErrLaunchFailed  = errors.New("browser launch failed")
)

// Fetch stage failures. The orchestrator retries navigation failures
// and timeouts; invalid responses are terminal.
var (
	ErrNavigationFailed  = errors.New("navigation failed")
	ErrNavigationTimeout = errors.New("navigation timed out")
	ErrInvalidResponse   = errors.New("invalid response")
)

// Module failures, isolated per module and never retried in-request.
var (
	ErrModuleTimeout = errors.New("module timed out")
	ErrModuleFailure = errors.New("module internal failure")
)

// Quota service failures.
var (
	ErrLimitReached    = errors.New("scan limit reached")
	ErrQuotaLookup     = errors.New("quota lookup failed")
	ErrVersionConflict = errors.New("quota record version conflict")
)

// Aggregation failures.
var ErrNoModulesCompleted = errors.New("no modules completed")

// Submission rejections; these requests are never enqueued.
var (
	ErrInvalidURL     = errors.New("invalid audit url")
	ErrPrivateAddress = errors.New("private or loopback address not allowed")
	ErrUnknownModule  = errors.New("unknown analysis module")
)

// Store lookups.
var (
	ErrRequestNotFound = errors.New("request not found")
	ErrReportNotFound  = errors.New("report not found")
)

// ErrAlreadyFinished rejects cancellation of terminal requests.
var ErrAlreadyFinished = errors.New("request already finished")

// RetryableFetch reports whether a fetch error warrants another attempt.
func RetryableFetch(err error) bool {
	return errors.Is(err, ErrNavigationFailed) || errors.Is(err, ErrNavigationTimeout)
}
