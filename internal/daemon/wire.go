package daemon

import (
	"fmt"
	"strconv"

	"burrow/internal/policy"
)

// Policy is the daemon-facing form of a profile: the capability grant plus
// the sandbox root, flattened for the run request.
type Policy struct {
	Network      string   `json:"network"`
	ReadPaths    []string `json:"read_paths,omitempty"`
	WritePaths   []string `json:"write_paths,omitempty"`
	ExecutePaths []string `json:"execute_paths,omitempty"`
	CPUs         int32    `json:"cpus"`
	MaxProcesses int32    `json:"max_processes"`
	Memory       string   `json:"memory"`
	Root         string   `json:"root"`
}

// RunRequest starts a sandboxed workload under an inline policy.
type RunRequest struct {
	Command          []string          `json:"command"`
	PolicyPath       string            `json:"policy_path,omitempty"`
	InlinePolicy     *Policy           `json:"inline_policy,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
	WorkingDirectory string            `json:"working_directory,omitempty"`
	Keep             bool              `json:"keep"`
	AllocateTTY      bool              `json:"allocate_tty"`
}

// RunResponse reports the launched sandbox.
type RunResponse struct {
	SandboxID string `json:"sandbox_id"`
	PID       int32  `json:"pid"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// StopRequest asks the daemon to stop one sandbox.
type StopRequest struct {
	Force bool `json:"force"`
}

// StopResponse reports the stop outcome.
type StopResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Sandbox is the daemon's record of one running or stopped sandbox.
type Sandbox struct {
	ID        string   `json:"id"`
	Profile   string   `json:"profile,omitempty"`
	State     string   `json:"state"`
	PID       int32    `json:"pid,omitempty"`
	ExitCode  int32    `json:"exit_code"`
	StartedAt int64    `json:"started_at"`
	Denied    []string `json:"denied,omitempty"`
}

// ListResponse is the body of a list call.
type ListResponse struct {
	Sandboxes []Sandbox `json:"sandboxes"`
}

// wirePolicy flattens a profile for transmission. Each filesystem flag that
// is present contributes the entire allowed-path list into its wire array;
// a path granted only read therefore appears solely in read_paths. Denied
// paths are not transmitted on run; denial enforcement is the daemon's
// policy engine reading the persisted profile, not this call.
func wirePolicy(p policy.Policy) Policy {
	w := Policy{
		Network:      string(p.Capabilities.Network),
		CPUs:         int32FromLimit32(p.Capabilities.Limits.CPUs),
		MaxProcesses: int32FromLimit32(p.Capabilities.Limits.MaxProcesses),
		Memory:       formatMemory(p.Capabilities.Limits.MemoryBytes),
		Root:         p.Sandbox.Root,
	}
	if p.Capabilities.HasFlag(policy.FSRead) {
		w.ReadPaths = append([]string(nil), p.Capabilities.AllowedPaths...)
	}
	if p.Capabilities.HasFlag(policy.FSWrite) {
		w.WritePaths = append([]string(nil), p.Capabilities.AllowedPaths...)
	}
	if p.Capabilities.HasFlag(policy.FSExecute) {
		w.ExecutePaths = append([]string(nil), p.Capabilities.AllowedPaths...)
	}
	return w
}

func int32FromLimit32(v *uint32) int32 {
	if v == nil {
		return 0
	}
	return int32(*v)
}

// formatMemory serializes a byte limit as a short magnitude string with a
// single-letter suffix, truncating to whole units: "2G", "512M", "64K", or
// the raw byte count below 1 KiB. Unset is "0". Truncation loses precision
// for limits that are not whole multiples of the chosen unit; the daemon
// side accepts only this short form.
func formatMemory(bytes *uint64) string {
	if bytes == nil {
		return "0"
	}
	b := *bytes
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%dG", b>>30)
	case b >= 1<<20:
		return fmt.Sprintf("%dM", b>>20)
	case b >= 1<<10:
		return fmt.Sprintf("%dK", b>>10)
	default:
		return strconv.FormatUint(b, 10)
	}
}
