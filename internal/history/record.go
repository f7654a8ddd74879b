// Package history holds run records: presentation-facing summaries of past
// and active sandbox executions, plus a local sqlite cache of them.
package history

import (
	"strings"
	"time"

	"burrow/internal/daemon"
)

// Record summarizes one sandbox execution. Records are immutable once
// produced; a history refresh replaces the whole set.
type Record struct {
	SandboxID   string
	ProfileName string
	StartTime   string
	Duration    string
	ExitCode    int32
	Denied      []string
}

// FromSandbox translates a daemon sandbox record. Only the identifier is
// mapped today: profile attribution, timing, exit code, and denial data
// stay at their placeholder values until the daemon exposes them in a form
// this layer consumes.
func FromSandbox(s daemon.Sandbox) Record {
	return Record{
		SandboxID:   s.ID,
		ProfileName: "unknown",
		StartTime:   FormatTimestamp(0),
		Duration:    "unknown",
		ExitCode:    0,
		Denied:      nil,
	}
}

// FromSandboxes translates a batch in order.
func FromSandboxes(list []daemon.Sandbox) []Record {
	out := make([]Record, 0, len(list))
	for _, s := range list {
		out = append(out, FromSandbox(s))
	}
	return out
}

// FormatTimestamp renders unix seconds for display. Zero means the time is
// unknown.
func FormatTimestamp(secs int64) string {
	if secs == 0 {
		return "N/A"
	}
	return time.Unix(secs, 0).Local().Format("2006-01-02 15:04:05")
}

// Matches reports whether the record survives a history filter: an empty
// filter matches everything, otherwise a case-insensitive substring match
// against the sandbox id or profile name.
func (r Record) Matches(filter string) bool {
	if filter == "" {
		return true
	}
	f := strings.ToLower(filter)
	return strings.Contains(strings.ToLower(r.SandboxID), f) ||
		strings.Contains(strings.ToLower(r.ProfileName), f)
}

// Filter returns the records matching the filter, preserving order.
func Filter(records []Record, filter string) []Record {
	if filter == "" {
		return records
	}
	var out []Record
	for _, r := range records {
		if r.Matches(filter) {
			out = append(out, r)
		}
	}
	return out
}
