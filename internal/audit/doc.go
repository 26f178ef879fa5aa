// Package audit defines core types shared across the audit pipeline
// subsystems: requests, fetch artifacts, module results, reports, and
// the small interfaces the orchestrator is wired against.
package audit
