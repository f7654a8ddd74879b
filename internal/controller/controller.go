// Package controller is the application state machine. It owns the profile
// collection, the editor state, the run history, and the daemon client
// handle, and mutates them only in response to dispatched events.
//
// The client handle is the one shared resource. It is moved out of the
// controller for the duration of an in-flight daemon call and moved back by
// the completion event, so at most one call is ever in flight and no mutex
// guards the handle itself. Events that would issue a call while the handle
// is absent are silent no-ops; they are not queued and not retried.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"burrow/internal/history"
	"burrow/internal/metrics"
	"burrow/internal/policy"
	"burrow/internal/profile"
	"burrow/internal/validate"
)

const (
	defaultEventBuffer = 100
	dispatchTimeout    = 10 * time.Second
)

// Config holds the controller's collaborators. Store and Cache may be nil
// (no persistence, no history cache); Logger defaults to slog.Default().
type Config struct {
	Store      *profile.Store
	Cache      *history.Store
	Logger     *slog.Logger
	BufferSize int
}

// Controller applies events to state. All mutation happens on the Run
// goroutine; the read accessors take snapshots under an RWMutex so the
// presentation layer can render from any goroutine.
type Controller struct {
	mu           sync.RWMutex
	profiles     []policy.Policy
	selected     int // -1 = none
	mode         ViewMode
	errs         validate.Errors
	historyBuf   []history.Record
	filter       string
	loading      Loading
	daemonStatus DaemonStatus
	client       DaemonClient // nil while disconnected or a call is in flight

	pathInput   map[validate.PathList]string
	memoryInput string
	memoryUnit  validate.MemoryUnit
	procsInput  string

	store  *profile.Store
	cache  *history.Store
	events chan Event
	logger *slog.Logger
}

// New creates a controller in its initial state: no profiles, nothing
// selected, list view, idle, daemon connectivity unknown.
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultEventBuffer
	}
	return &Controller{
		selected:     -1,
		mode:         ViewProfileList,
		errs:         validate.NewErrors(),
		loading:      LoadingIdle,
		daemonStatus: DaemonUnknown,
		pathInput:    make(map[validate.PathList]string),
		memoryUnit:   validate.UnitMB,
		store:        cfg.Store,
		cache:        cfg.Cache,
		events:       make(chan Event, cfg.BufferSize),
		logger:       cfg.Logger,
	}
}

// Dispatch queues one event. It is the single entry point for the
// presentation layer and for the controller's own async completions.
// Blocks up to 10 seconds if the queue is full instead of dropping.
func (c *Controller) Dispatch(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("event queue full, waiting...", "event", fmt.Sprintf("%T", ev))
		timer := time.NewTimer(dispatchTimeout)
		defer timer.Stop()
		select {
		case c.events <- ev:
		case <-timer.C:
			metrics.EventsDropped.Inc()
			c.logger.Error("event dropped: queue full for 10s", "event", fmt.Sprintf("%T", ev))
		}
	}
}

// Run consumes the event queue until ctx is cancelled. Events are applied
// strictly in arrival order; a completion for call A is processed before
// anything that could only be dispatched after A's hand-off finished.
func (c *Controller) Run(ctx context.Context) {
	c.logger.Info("controller started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopping")
			return
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

// handle applies one event under the lock and spawns the pending daemon
// call, if the transition produced one, outside it.
func (c *Controller) handle(ctx context.Context, ev Event) {
	c.mu.Lock()
	task := c.apply(ev)
	c.mu.Unlock()

	metrics.EventsTotal.Inc()

	if task != nil {
		go task(ctx)
	}
}

// apply is the transition function: (state, event) -> (new state, optional
// pending call). Called with c.mu held. Tasks returned here must not touch
// controller state directly; they deliver results by dispatching a
// completion event carrying the client handle back.
func (c *Controller) apply(ev Event) func(context.Context) {
	switch ev := ev.(type) {

	case ProfilesLoaded:
		c.profiles = ev.Profiles
		if c.selected >= len(c.profiles) {
			c.selected = -1
			c.mode = ViewProfileList
		}
		metrics.ProfilesLoaded.Set(int64(len(c.profiles)))
		c.logger.Info("profiles loaded", "count", len(c.profiles))

	case ProfileSelected:
		if ev.Index < 0 || ev.Index >= len(c.profiles) {
			c.logger.Debug("select ignored: index out of range", "index", ev.Index)
			return nil
		}
		c.selected = ev.Index
		c.mode = ViewProfileEditor
		c.resetEditorInputs(&c.profiles[ev.Index])

	case CreateProfile:
		p := policy.Default()
		p.Name = fmt.Sprintf("profile-%d", len(c.profiles)+1)
		c.profiles = append(c.profiles, p)
		c.selected = len(c.profiles) - 1
		c.mode = ViewProfileEditor
		c.resetEditorInputs(&c.profiles[c.selected])
		metrics.ProfilesLoaded.Set(int64(len(c.profiles)))

	case DeleteProfile:
		if ev.Index < 0 || ev.Index >= len(c.profiles) {
			return nil
		}
		name := c.profiles[ev.Index].Name
		c.profiles = append(c.profiles[:ev.Index], c.profiles[ev.Index+1:]...)
		switch {
		case c.selected == ev.Index:
			c.selected = -1
			c.mode = ViewProfileList
		case c.selected > ev.Index:
			c.selected--
		}
		if c.store != nil {
			if err := c.store.Delete(name); err != nil {
				c.logger.Warn("delete profile file", "name", name, "err", err)
			}
		}
		metrics.ProfilesLoaded.Set(int64(len(c.profiles)))

	case DuplicateProfile:
		if ev.Index < 0 || ev.Index >= len(c.profiles) {
			return nil
		}
		c.profiles = append(c.profiles, c.profiles[ev.Index].CloneAsDuplicate())
		metrics.ProfilesLoaded.Set(int64(len(c.profiles)))

	case NameChanged:
		p := c.selectedProfile()
		if p == nil {
			return nil
		}
		if name, ok := validate.Name(c.errs, ev.Value); ok {
			p.Name = name
		}

	case DescriptionChanged:
		if p := c.selectedProfile(); p != nil {
			p.Description = ev.Value
		}

	case NetworkChanged:
		if p := c.selectedProfile(); p != nil {
			p.Capabilities.Network = ev.Level
		}

	case FilesystemToggled:
		if p := c.selectedProfile(); p != nil {
			p.Capabilities.ToggleFlag(ev.Flag)
		}

	case PathInputChanged:
		c.pathInput[ev.List] = ev.Value

	case AddPath:
		p := c.selectedProfile()
		if p == nil {
			return nil
		}
		pth, ok := validate.Path(c.errs, ev.List, c.pathInput[ev.List])
		if !ok {
			return nil
		}
		switch ev.List {
		case validate.AllowedPaths:
			p.Capabilities.AllowedPaths = append(p.Capabilities.AllowedPaths, pth)
		case validate.DeniedPaths:
			p.Capabilities.DeniedPaths = append(p.Capabilities.DeniedPaths, pth)
		}
		c.pathInput[ev.List] = ""

	case RemovePath:
		p := c.selectedProfile()
		if p == nil {
			return nil
		}
		switch ev.List {
		case validate.AllowedPaths:
			if ev.Index >= 0 && ev.Index < len(p.Capabilities.AllowedPaths) {
				p.Capabilities.AllowedPaths = append(
					p.Capabilities.AllowedPaths[:ev.Index], p.Capabilities.AllowedPaths[ev.Index+1:]...)
			}
		case validate.DeniedPaths:
			if ev.Index >= 0 && ev.Index < len(p.Capabilities.DeniedPaths) {
				p.Capabilities.DeniedPaths = append(
					p.Capabilities.DeniedPaths[:ev.Index], p.Capabilities.DeniedPaths[ev.Index+1:]...)
			}
		}

	case CPUChanged:
		p := c.selectedProfile()
		if p == nil {
			return nil
		}
		if ev.CPUs == nil {
			p.Capabilities.Limits.CPUs = nil
		} else {
			v := *ev.CPUs
			p.Capabilities.Limits.CPUs = &v
		}

	case MemoryValueChanged:
		c.memoryInput = ev.Value
		p := c.selectedProfile()
		if p == nil {
			return nil
		}
		if bytes, ok := validate.Memory(c.errs, ev.Value, c.memoryUnit); ok {
			p.Capabilities.Limits.MemoryBytes = bytes
		}

	case MemoryUnitChanged:
		c.memoryUnit = ev.Unit
		if p := c.selectedProfile(); p != nil && p.Capabilities.Limits.MemoryBytes != nil {
			c.memoryInput = ev.Unit.FormatFromBytes(*p.Capabilities.Limits.MemoryBytes)
		}

	case MaxProcessesChanged:
		c.procsInput = ev.Value
		p := c.selectedProfile()
		if p == nil {
			return nil
		}
		if v, ok := validate.MaxProcesses(c.errs, ev.Value); ok {
			p.Capabilities.Limits.MaxProcesses = &v
		}

	case SaveProfile:
		p := c.selectedProfile()
		if p == nil {
			return nil
		}
		if !c.errs.Empty() {
			c.logger.Debug("save skipped: validation errors outstanding", "fields", len(c.errs))
			return nil
		}
		if c.store == nil {
			return nil
		}
		if err := c.store.Save(*p); err != nil {
			c.logger.Warn("save profile", "name", p.Name, "err", err)
		}

	case SwitchView:
		switch ev.Mode {
		case ViewProfileList:
			c.mode = ViewProfileList
			c.selected = -1
		case ViewProfileEditor:
			if c.selected < 0 {
				return nil
			}
			c.mode = ViewProfileEditor
		case ViewRunHistory:
			c.mode = ViewRunHistory
			cl, ok := c.takeClient()
			if !ok {
				return nil
			}
			c.loading = LoadingHistory
			return c.listTask(cl)
		}

	case HistoryFilterChanged:
		c.filter = ev.Value

	case StatusRequested:
		cl, ok := c.takeClient()
		if !ok {
			return nil
		}
		return c.statusTask(cl, ev.SandboxID)

	case ClientConnected:
		if ev.Err != nil || ev.Client == nil {
			c.daemonStatus = DaemonOffline
			c.logger.Warn("daemon connection failed", "err", ev.Err)
			return nil
		}
		c.client = ev.Client
		c.daemonStatus = DaemonConnected
		c.logger.Info("daemon connected")

	case RunSandbox:
		if ev.Index < 0 || ev.Index >= len(c.profiles) {
			return nil
		}
		cl, ok := c.takeClient()
		if !ok {
			return nil
		}
		pol := c.profiles[ev.Index].Clone()
		c.loading = LoadingRun
		return c.runTask(cl, pol, strings.Fields(ev.Command))

	case StopSandbox:
		cl, ok := c.takeClient()
		if !ok {
			return nil
		}
		return c.stopTask(cl, ev.SandboxID, ev.Force)

	case runCompleted:
		c.client = ev.client
		c.loading = LoadingIdle
		// Run outcomes are not folded into state; the record shows up on
		// the next history refresh.
		if ev.err != nil {
			c.logger.Warn("run sandbox failed", "err", ev.err)
		} else {
			c.logger.Info("sandbox started", "sandbox_id", ev.resp.SandboxID, "pid", ev.resp.PID)
		}

	case stopCompleted:
		c.client = ev.client
		if ev.err != nil {
			c.logger.Warn("stop sandbox failed", "err", ev.err)
		} else if !ev.resp.Success {
			c.logger.Warn("stop sandbox rejected", "daemon_error", ev.resp.Error)
		}

	case historyLoaded:
		c.client = ev.client
		c.loading = LoadingIdle
		if ev.err != nil {
			c.logger.Warn("history load failed", "err", ev.err)
			return nil
		}
		c.historyBuf = ev.records

	case statusLoaded:
		c.client = ev.client
		if ev.err != nil {
			c.logger.Warn("status load failed", "sandbox_id", ev.id, "err", ev.err)
			return nil
		}
		c.upsertRecord(ev.record)

	default:
		c.logger.Warn("unhandled event", "event", fmt.Sprintf("%T", ev))
	}

	return nil
}

// takeClient moves the client handle out of the controller, leaving the
// slot empty for the duration of the call. Reports false when the slot is
// already empty, which covers both "not connected" and "call in flight".
func (c *Controller) takeClient() (DaemonClient, bool) {
	if c.client == nil {
		if c.daemonStatus == DaemonConnected {
			metrics.BusyDiscards.Inc()
			c.logger.Debug("daemon call skipped: client busy")
		} else {
			c.logger.Debug("daemon call skipped: not connected")
		}
		return nil, false
	}
	cl := c.client
	c.client = nil
	return cl, true
}

// selectedProfile returns the selected profile in place, or nil. Only valid
// while c.mu is held.
func (c *Controller) selectedProfile() *policy.Policy {
	if c.selected < 0 || c.selected >= len(c.profiles) {
		return nil
	}
	return &c.profiles[c.selected]
}

// resetEditorInputs clears validation errors and staging buffers, then
// recomputes the limit displays from the profile using the current unit.
func (c *Controller) resetEditorInputs(p *policy.Policy) {
	c.errs = validate.NewErrors()
	c.pathInput = make(map[validate.PathList]string)

	c.memoryInput = ""
	if p != nil && p.Capabilities.Limits.MemoryBytes != nil {
		c.memoryInput = c.memoryUnit.FormatFromBytes(*p.Capabilities.Limits.MemoryBytes)
	}
	c.procsInput = ""
	if p != nil && p.Capabilities.Limits.MaxProcesses != nil {
		c.procsInput = strconv.FormatUint(uint64(*p.Capabilities.Limits.MaxProcesses), 10)
	}
}

// upsertRecord replaces the buffered record with the same sandbox id, or
// appends when the sandbox was not listed yet.
func (c *Controller) upsertRecord(r history.Record) {
	for i := range c.historyBuf {
		if c.historyBuf[i].SandboxID == r.SandboxID {
			c.historyBuf[i] = r
			return
		}
	}
	c.historyBuf = append(c.historyBuf, r)
}

// --- async daemon tasks ---
//
// Each task runs on its own goroutine, owns the client handle for its
// duration, and hands it back inside the completion event it dispatches.

func observeRPC(start time.Time, err error) {
	metrics.RPCRequestsTotal.Inc()
	metrics.RPCLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RPCFailuresTotal.Inc()
	}
}

func (c *Controller) listTask(cl DaemonClient) func(context.Context) {
	return func(ctx context.Context) {
		start := time.Now()
		sandboxes, err := cl.ListSandboxes(ctx, true)
		observeRPC(start, err)

		var records []history.Record
		if err == nil {
			records = history.FromSandboxes(sandboxes)
			var running int64
			for _, s := range sandboxes {
				if s.State == "running" {
					running++
				}
			}
			metrics.SandboxesRunning.Set(running)
			if err := c.cache.SaveAll(ctx, records); err != nil {
				c.logger.Warn("history cache update failed", "err", err)
			}
		}
		c.Dispatch(historyLoaded{client: cl, records: records, err: err})
	}
}

func (c *Controller) runTask(cl DaemonClient, pol policy.Policy, argv []string) func(context.Context) {
	return func(ctx context.Context) {
		start := time.Now()
		resp, err := cl.RunSandbox(ctx, pol, argv, pol.Sandbox.Workdir)
		observeRPC(start, err)
		c.Dispatch(runCompleted{client: cl, resp: resp, err: err})
	}
}

func (c *Controller) stopTask(cl DaemonClient, id string, force bool) func(context.Context) {
	return func(ctx context.Context) {
		start := time.Now()
		resp, err := cl.StopSandbox(ctx, id, force)
		observeRPC(start, err)
		c.Dispatch(stopCompleted{client: cl, resp: resp, err: err})
	}
}

func (c *Controller) statusTask(cl DaemonClient, id string) func(context.Context) {
	return func(ctx context.Context) {
		start := time.Now()
		sb, err := cl.GetStatus(ctx, id)
		observeRPC(start, err)

		var rec history.Record
		if err == nil {
			rec = history.FromSandbox(sb)
			if err := c.cache.Save(ctx, rec); err != nil {
				c.logger.Warn("history cache update failed", "err", err)
			}
		}
		c.Dispatch(statusLoaded{client: cl, id: id, record: rec, err: err})
	}
}

// --- read accessors (presentation surface) ---

// Profiles returns a deep-copied snapshot of the collection.
func (c *Controller) Profiles() []policy.Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]policy.Policy, len(c.profiles))
	for i := range c.profiles {
		out[i] = c.profiles[i].Clone()
	}
	return out
}

// ProfileCount returns the number of profiles without copying them.
func (c *Controller) ProfileCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.profiles)
}

// Profile returns a deep copy of one profile by index.
func (c *Controller) Profile(i int) (policy.Policy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.profiles) {
		return policy.Policy{}, false
	}
	return c.profiles[i].Clone(), true
}

// Selected returns the selected index, or false when nothing is selected.
func (c *Controller) Selected() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selected, c.selected >= 0
}

// SelectedProfile returns a deep copy of the selected profile.
func (c *Controller) SelectedProfile() (policy.Policy, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.selected < 0 || c.selected >= len(c.profiles) {
		return policy.Policy{}, false
	}
	return c.profiles[c.selected].Clone(), true
}

func (c *Controller) Mode() ViewMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

func (c *Controller) Loading() Loading {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

func (c *Controller) DaemonStatus() DaemonStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.daemonStatus
}

// ClientHeld reports whether the controller currently holds the client
// handle, i.e. the daemon is connected and no call is in flight.
func (c *Controller) ClientHeld() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

// ValidationErrors returns a copy of the current field error map.
func (c *Controller) ValidationErrors() validate.Errors {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errs.Clone()
}

// History returns the buffered run records from the last completed load.
func (c *Controller) History() []history.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]history.Record, len(c.historyBuf))
	copy(out, c.historyBuf)
	return out
}

// FilteredHistory returns the buffered records matching the current filter.
func (c *Controller) FilteredHistory() []history.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.filter == "" {
		out := make([]history.Record, len(c.historyBuf))
		copy(out, c.historyBuf)
		return out
	}
	return history.Filter(c.historyBuf, c.filter)
}

func (c *Controller) HistoryFilter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

// PathInput returns the staging buffer for one path list.
func (c *Controller) PathInput(list validate.PathList) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pathInput[list]
}

func (c *Controller) MemoryInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.memoryInput
}

func (c *Controller) MemoryUnit() validate.MemoryUnit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.memoryUnit
}

func (c *Controller) MaxProcessesInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.procsInput
}
