// Package fetch navigates a pooled browser session to a target URL and
// captures the immutable artifact (DOM snapshot, metadata, screenshots,
// timing) the analysis modules consume. A cheap HTTP probe runs first
// so unreachable targets fail without burning a browser session.
package fetch
