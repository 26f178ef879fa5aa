// Package orchestrator drives audit requests through their lifecycle:
// queued, fetching, analyzing, aggregating, then a terminal state.
package orchestrator

import "github.com/JakeFAU/site-auditor/internal/audit"

// maxFetchAttempts bounds requeues for retryable fetch failures and
// pool exhaustion before a request is declared failed.
const maxFetchAttempts = 3

// State is the orchestration state of one request. It carries only
// what transitions need; everything else lives in the store.
type State struct {
	Status  audit.RequestStatus
	Attempt int
	// ErrText is the failure detail persisted with terminal states.
	ErrText string
}

// EventKind names something that happened to a request.
type EventKind int

// Lifecycle events fed to Transition.
const (
	EventStart EventKind = iota
	EventFetchSucceeded
	EventFetchRetryable
	EventFetchFailed
	EventAnalysisDone
	EventAggregated
	EventAggregationFailed
	EventCanceled
)

// Event pairs an EventKind with its payload.
type Event struct {
	Kind EventKind
	// Final carries the aggregated terminal status on EventAggregated.
	Final audit.RequestStatus
	// ErrText carries failure detail for failure events.
	ErrText string
}

// CommandKind names a side effect the caller must perform.
type CommandKind int

// Side effects ordered by Transition.
const (
	// CommandSetStatus persists the new status (and error text).
	CommandSetStatus CommandKind = iota
	// CommandRequeue puts the job back on the queue with Attempt+1.
	CommandRequeue
	// CommandDiscard throws away any collected results.
	CommandDiscard
)

// Command is one side effect; the caller executes them in order.
type Command struct {
	Kind    CommandKind
	Status  audit.RequestStatus
	ErrText string
}

func setStatus(s State) Command {
	return Command{Kind: CommandSetStatus, Status: s.Status, ErrText: s.ErrText}
}

// Transition is the pure state machine: given the current state and an
// event it returns the next state and the side effects to run. It
// never touches storage, queues, or clocks, which keeps every path
// testable without fakes. Events against a terminal state are ignored.
func Transition(s State, ev Event) (State, []Command) {
	if s.Status.Terminal() {
		return s, nil
	}

	// Cancellation wins from any non-terminal state and discards
	// whatever the pipeline has produced so far.
	if ev.Kind == EventCanceled {
		s.Status = audit.StatusCanceled
		s.ErrText = ev.ErrText
		return s, []Command{{Kind: CommandDiscard}, setStatus(s)}
	}

	switch s.Status {
	case audit.StatusQueued:
		if ev.Kind == EventStart {
			s.Status = audit.StatusFetching
			return s, []Command{setStatus(s)}
		}
	case audit.StatusFetching:
		switch ev.Kind {
		case EventFetchSucceeded:
			s.Status = audit.StatusAnalyzing
			return s, []Command{setStatus(s)}
		case EventFetchRetryable:
			s.Attempt++
			if s.Attempt >= maxFetchAttempts {
				s.Status = audit.StatusFailed
				s.ErrText = ev.ErrText
				return s, []Command{setStatus(s)}
			}
			s.Status = audit.StatusQueued
			return s, []Command{setStatus(s), {Kind: CommandRequeue}}
		case EventFetchFailed:
			s.Status = audit.StatusFailed
			s.ErrText = ev.ErrText
			return s, []Command{setStatus(s)}
		}
	case audit.StatusAnalyzing:
		if ev.Kind == EventAnalysisDone {
			s.Status = audit.StatusAggregating
			return s, []Command{setStatus(s)}
		}
	case audit.StatusAggregating:
		switch ev.Kind {
		case EventAggregated:
			s.Status = ev.Final
			return s, []Command{setStatus(s)}
		case EventAggregationFailed:
			s.Status = audit.StatusFailed
			s.ErrText = ev.ErrText
			return s, []Command{setStatus(s)}
		}
	}
	return s, nil
}
