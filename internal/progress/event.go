// Package progress defines the event stream emitted by the audit
// pipeline. Workers emit fire-and-forget events; the Hub batches them
// and fans them out to sinks (logs, metrics, completion publishing).
package progress

import (
	"errors"
	"time"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Pipeline milestones.
const (
	StageRequestQueued Stage = "REQUEST_QUEUED"
	StageFetchStart    Stage = "FETCH_START"
	StageFetchDone     Stage = "FETCH_DONE"
	StageFetchError    Stage = "FETCH_ERROR"
	StageModuleStart   Stage = "MODULE_START"
	StageModuleDone    Stage = "MODULE_DONE"
	StageRequestDone   Stage = "REQUEST_DONE"
	StageRequestError  Stage = "REQUEST_ERROR"
)

// Event captures a single pipeline milestone for one audit request.
type Event struct {
	// RequestID identifies the audit request.
	RequestID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage is the milestone that occurred.
	Stage Stage
	// URL optionally scopes fetch events to the audited page.
	URL string
	// Module scopes MODULE_* events to an analyzer kind.
	Module audit.ModuleKind
	// ModuleStatus carries the analyzer outcome on MODULE_DONE.
	ModuleStatus audit.ModuleStatus
	// RequestStatus carries the terminal state on REQUEST_DONE.
	RequestStatus audit.RequestStatus
	// Score is the overall score on REQUEST_DONE, or the sub-score on
	// MODULE_DONE.
	Score int
	// Bytes is the transfer size observed by the fetch.
	Bytes int64
	// Dur captures latency for fetches, modules, and whole requests.
	Dur time.Duration
	// Note attaches low-volume context such as error text.
	Note string
}

// Validate performs coarse validation before an event enters the Hub.
func (e Event) Validate() error {
	if e.RequestID == "" {
		return errors.New("request id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRequestQueued, StageFetchStart, StageFetchDone, StageFetchError, StageRequestError:
	case StageModuleStart:
		if e.Module == "" {
			return errors.New("module start requires a module kind")
		}
	case StageModuleDone:
		if e.Module == "" {
			return errors.New("module done requires a module kind")
		}
		if e.ModuleStatus == "" {
			return errors.New("module done requires a module status")
		}
	case StageRequestDone:
		if e.RequestStatus == "" {
			return errors.New("request done requires a terminal status")
		}
	default:
		return errors.New("unknown stage")
	}
	return nil
}
