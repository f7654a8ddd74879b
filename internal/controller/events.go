package controller

import (
	"context"

	"burrow/internal/daemon"
	"burrow/internal/history"
	"burrow/internal/policy"
	"burrow/internal/validate"
)

// ViewMode is which screen the presentation layer should render.
type ViewMode string

const (
	ViewProfileList   ViewMode = "profile_list"
	ViewProfileEditor ViewMode = "profile_editor"
	ViewRunHistory    ViewMode = "run_history"
)

// Loading is the coarse busy indicator exposed to the presentation layer.
type Loading string

const (
	LoadingIdle    Loading = "idle"
	LoadingHistory Loading = "loading_history"
	LoadingRun     Loading = "running_sandbox"
)

// DaemonStatus is the last observed connectivity to burrowd.
type DaemonStatus string

const (
	DaemonUnknown   DaemonStatus = "unknown"
	DaemonConnected DaemonStatus = "connected"
	DaemonOffline   DaemonStatus = "offline"
)

// DaemonClient is the RPC surface the controller drives. *daemon.Client
// satisfies it; tests substitute fakes.
type DaemonClient interface {
	RunSandbox(ctx context.Context, p policy.Policy, argv []string, workdir string) (daemon.RunResponse, error)
	StopSandbox(ctx context.Context, id string, force bool) (daemon.StopResponse, error)
	ListSandboxes(ctx context.Context, includeStopped bool) ([]daemon.Sandbox, error)
	GetStatus(ctx context.Context, id string) (daemon.Sandbox, error)
}

// Event is a single input to the controller. Everything that changes state
// arrives as an Event through Dispatch and is applied strictly in arrival
// order by the Run loop. Completion events for daemon calls are produced
// only by the controller's own async tasks and are unexported, so outside
// callers cannot forge a completion.
type Event interface{ isEvent() }

// --- profile collection ---

// ProfilesLoaded replaces the whole collection, normally once at startup
// from the profile store.
type ProfilesLoaded struct{ Profiles []policy.Policy }

// ProfileSelected selects a profile by index and enters the editor.
type ProfileSelected struct{ Index int }

// CreateProfile appends a default profile named profile-{count+1} and
// selects it.
type CreateProfile struct{}

// DeleteProfile removes the profile at Index. Selection follows the index
// shift: deleting the selected profile clears selection and returns to the
// list view, deleting below it decrements the selection.
type DeleteProfile struct{ Index int }

// DuplicateProfile appends a deep copy with "-copy" appended to the name.
// Selection is unchanged.
type DuplicateProfile struct{ Index int }

// --- editor edits (no-ops unless a profile is selected) ---

type NameChanged struct{ Value string }

type DescriptionChanged struct{ Value string }

type NetworkChanged struct{ Level policy.NetworkLevel }

type FilesystemToggled struct{ Flag policy.FSFlag }

// PathInputChanged updates the staging buffer for one path list.
type PathInputChanged struct {
	List  validate.PathList
	Value string
}

// AddPath validates the staged input for a path list and appends it.
type AddPath struct{ List validate.PathList }

// RemovePath drops one entry from a path list by position.
type RemovePath struct {
	List  validate.PathList
	Index int
}

// CPUChanged sets or clears (nil) the CPU limit directly; the editor's CPU
// control produces whole numbers, so no text validation applies.
type CPUChanged struct{ CPUs *uint32 }

type MemoryValueChanged struct{ Value string }

type MemoryUnitChanged struct{ Unit validate.MemoryUnit }

type MaxProcessesChanged struct{ Value string }

// SaveProfile persists the selected profile unless any validation error is
// outstanding, in which case it is a silent no-op.
type SaveProfile struct{}

// --- view and history ---

type SwitchView struct{ Mode ViewMode }

type HistoryFilterChanged struct{ Value string }

// StatusRequested fetches the current record for one sandbox and upserts it
// into the history buffer.
type StatusRequested struct{ SandboxID string }

// --- daemon lifecycle ---

// ClientConnected delivers the outcome of a connection attempt. On success
// Client is stored and the daemon is marked connected; on failure the
// daemon is marked offline. The controller never retries on its own.
type ClientConnected struct {
	Client DaemonClient
	Err    error
}

// RunSandbox starts Command (split on whitespace) under the profile at
// Index. Dropped silently when the client handle is absent.
type RunSandbox struct {
	Index   int
	Command string
}

// StopSandbox stops one sandbox. Dropped silently when the client handle is
// absent.
type StopSandbox struct {
	SandboxID string
	Force     bool
}

// --- completions, dispatched by the async tasks only ---

type runCompleted struct {
	client DaemonClient
	resp   daemon.RunResponse
	err    error
}

type stopCompleted struct {
	client DaemonClient
	resp   daemon.StopResponse
	err    error
}

type historyLoaded struct {
	client  DaemonClient
	records []history.Record
	err     error
}

type statusLoaded struct {
	client DaemonClient
	id     string
	record history.Record
	err    error
}

func (ProfilesLoaded) isEvent()      {}
func (ProfileSelected) isEvent()     {}
func (CreateProfile) isEvent()       {}
func (DeleteProfile) isEvent()       {}
func (DuplicateProfile) isEvent()    {}
func (NameChanged) isEvent()         {}
func (DescriptionChanged) isEvent()  {}
func (NetworkChanged) isEvent()      {}
func (FilesystemToggled) isEvent()   {}
func (PathInputChanged) isEvent()    {}
func (AddPath) isEvent()             {}
func (RemovePath) isEvent()          {}
func (CPUChanged) isEvent()          {}
func (MemoryValueChanged) isEvent()  {}
func (MemoryUnitChanged) isEvent()   {}
func (MaxProcessesChanged) isEvent() {}
func (SaveProfile) isEvent()         {}
func (SwitchView) isEvent()          {}
func (HistoryFilterChanged) isEvent() {}
func (StatusRequested) isEvent()     {}
func (ClientConnected) isEvent()     {}
func (RunSandbox) isEvent()          {}
func (StopSandbox) isEvent()         {}
func (runCompleted) isEvent()        {}
func (stopCompleted) isEvent()       {}
func (historyLoaded) isEvent()       {}
func (statusLoaded) isEvent()        {}
