package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"burrow/internal/config"
	"burrow/internal/controller"
	"burrow/internal/daemon"
	"burrow/internal/history"
	"burrow/internal/metrics"
	"burrow/internal/policy"
	"burrow/internal/profile"
	"burrow/internal/validate"
)

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive profile editor and sandbox console",
		Long: `Starts an interactive shell over the burrow controller. Profiles are loaded
from the profile directory and the daemon is dialed once at startup; use
'connect' to retry after starting burrowd. Type 'help' inside the shell for
the command list.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadOrDefaults()
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runShell(ctx, cfg, os.Stdin, os.Stdout)
		},
	}
}

type shell struct {
	ctrl *controller.Controller
	cfg  *config.Config
	out  io.Writer
}

func runShell(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	store := profile.NewStore(cfg.General.ProfilesDir, logger)

	var cache *history.Store
	if cfg.History.Enabled {
		var err error
		cache, err = history.NewStore(cfg.History.DBPath, logger)
		if err != nil {
			logger.Warn("history cache unavailable", "path", cfg.History.DBPath, "err", err)
		} else {
			defer cache.Close()
		}
	}

	ctrl := controller.New(controller.Config{
		Store:  store,
		Cache:  cache,
		Logger: logger,
	})
	go ctrl.Run(ctx)

	profiles, err := store.Load()
	if err != nil {
		logger.Warn("cannot load profiles", "dir", store.Dir(), "err", err)
	}
	ctrl.Dispatch(controller.ProfilesLoaded{Profiles: profiles})

	s := &shell{ctrl: ctrl, cfg: cfg, out: out}
	s.connect()
	s.settle()

	fmt.Fprintf(out, "burrow shell (v%s). %d profile(s) loaded, daemon %s.\n",
		version, ctrl.ProfileCount(), ctrl.DaemonStatus())
	fmt.Fprintln(out, "Type 'help' for commands, 'quit' to exit.")
	fmt.Fprint(out, "burrow> ")

	scanner := bufio.NewScanner(in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(out, "burrow> ")
			continue
		}
		if line == "quit" || line == "exit" || line == "q" {
			logger.Info("shell exit requested")
			return nil
		}

		s.exec(line)
		fmt.Fprint(out, "burrow> ")
	}
}

// settle gives the controller goroutine a beat to drain the mailbox before
// state is read back for display.
func (s *shell) settle() { time.Sleep(50 * time.Millisecond) }

func (s *shell) exec(line string) {
	fields := strings.Fields(line)
	cmd := fields[0]
	arg := strings.TrimSpace(strings.TrimPrefix(line, cmd))

	switch cmd {
	case "help":
		s.printHelp()
	case "list":
		s.printList()
	case "new":
		s.ctrl.Dispatch(controller.CreateProfile{})
		s.settle()
		s.printEditor()
	case "select":
		s.selectProfile(arg)
	case "name":
		s.editField(controller.NameChanged{Value: arg}, validate.FieldName)
	case "desc":
		s.ctrl.Dispatch(controller.DescriptionChanged{Value: arg})
		s.settle()
		s.printEditor()
	case "net":
		s.setNetwork(arg)
	case "fs":
		s.toggleFlag(arg)
	case "allow":
		s.addPath(validate.AllowedPaths, arg)
	case "deny":
		s.addPath(validate.DeniedPaths, arg)
	case "rmpath":
		s.removePath(fields[1:])
	case "mem":
		s.editField(controller.MemoryValueChanged{Value: arg}, validate.FieldMemory)
	case "unit":
		s.setUnit(arg)
	case "cpus":
		s.setCPUs(arg)
	case "procs":
		s.editField(controller.MaxProcessesChanged{Value: arg}, validate.FieldMaxProcesses)
	case "save":
		s.saveProfile()
	case "dup":
		s.duplicate(arg)
	case "del":
		s.deleteProfile(arg)
	case "run":
		s.runSandbox(fields[1:])
	case "stop":
		s.stopSandbox(fields[1:])
	case "status":
		s.requestStatus(arg)
	case "history":
		s.showHistory()
	case "filter":
		s.ctrl.Dispatch(controller.HistoryFilterChanged{Value: arg})
		s.settle()
		printHistoryTable(s.out, s.ctrl.FilteredHistory())
	case "connect":
		s.connect()
		s.settle()
		fmt.Fprintf(s.out, "daemon %s\n", s.ctrl.DaemonStatus())
	case "errors":
		printErrors(s.out, s.ctrl.ValidationErrors())
	case "stats":
		fmt.Fprint(s.out, metrics.Collector.Render())
	default:
		fmt.Fprintf(s.out, "unknown command %q (try 'help')\n", cmd)
	}
}

// connect dials burrowd and hands the outcome to the controller. The client
// field stays unset on failure so the controller sees a clean offline signal.
func (s *shell) connect() {
	cl, err := daemon.Dial(daemon.ClientConfig{
		SocketPath: s.cfg.Daemon.SocketPath,
		Timeout:    time.Duration(s.cfg.Daemon.RequestTimeoutSeconds) * time.Second,
		Logger:     logger,
	})
	if err != nil {
		s.ctrl.Dispatch(controller.ClientConnected{Err: err})
		return
	}
	s.ctrl.Dispatch(controller.ClientConnected{Client: cl})
}

func (s *shell) selectProfile(arg string) {
	i, err := strconv.Atoi(arg)
	if err != nil {
		fmt.Fprintf(s.out, "usage: select <index> (0..%d)\n", s.ctrl.ProfileCount()-1)
		return
	}
	if i < 0 || i >= s.ctrl.ProfileCount() {
		fmt.Fprintf(s.out, "no profile at index %d\n", i)
		return
	}
	s.ctrl.Dispatch(controller.ProfileSelected{Index: i})
	s.settle()
	s.printEditor()
}

// editField dispatches an editor event and echoes the field's validation
// outcome.
func (s *shell) editField(ev controller.Event, field string) {
	if _, ok := s.ctrl.Selected(); !ok {
		fmt.Fprintln(s.out, "no profile selected (use 'select <index>')")
		return
	}
	s.ctrl.Dispatch(ev)
	s.settle()
	if msg := s.ctrl.ValidationErrors().Get(field); msg != "" {
		fmt.Fprintf(s.out, "invalid: %s\n", msg)
		return
	}
	s.printEditor()
}

func (s *shell) setNetwork(arg string) {
	level, err := policy.ParseNetworkLevel(arg)
	if err != nil {
		fmt.Fprintf(s.out, "usage: net <%s>\n", joinLevels())
		return
	}
	s.ctrl.Dispatch(controller.NetworkChanged{Level: level})
	s.settle()
	s.printEditor()
}

func (s *shell) toggleFlag(arg string) {
	flag, err := policy.ParseFSFlag(arg)
	if err != nil {
		fmt.Fprintf(s.out, "usage: fs <%s>\n", joinFlags())
		return
	}
	s.ctrl.Dispatch(controller.FilesystemToggled{Flag: flag})
	s.settle()
	s.printEditor()
}

func (s *shell) addPath(list validate.PathList, arg string) {
	if _, ok := s.ctrl.Selected(); !ok {
		fmt.Fprintln(s.out, "no profile selected (use 'select <index>')")
		return
	}
	s.ctrl.Dispatch(controller.PathInputChanged{List: list, Value: arg})
	s.ctrl.Dispatch(controller.AddPath{List: list})
	s.settle()
	if msg := s.ctrl.ValidationErrors().Get(list.ErrorKey()); msg != "" {
		fmt.Fprintf(s.out, "invalid: %s\n", msg)
		return
	}
	s.printEditor()
}

func (s *shell) removePath(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.out, "usage: rmpath <allow|deny> <index>")
		return
	}
	var list validate.PathList
	switch args[0] {
	case "allow":
		list = validate.AllowedPaths
	case "deny":
		list = validate.DeniedPaths
	default:
		fmt.Fprintln(s.out, "usage: rmpath <allow|deny> <index>")
		return
	}
	i, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintln(s.out, "usage: rmpath <allow|deny> <index>")
		return
	}
	s.ctrl.Dispatch(controller.RemovePath{List: list, Index: i})
	s.settle()
	s.printEditor()
}

func (s *shell) setUnit(arg string) {
	unit, ok := validate.ParseUnit(arg)
	if !ok {
		fmt.Fprintf(s.out, "usage: unit <%s>\n", joinUnits())
		return
	}
	s.ctrl.Dispatch(controller.MemoryUnitChanged{Unit: unit})
	s.settle()
	s.printEditor()
}

func (s *shell) setCPUs(arg string) {
	if _, ok := s.ctrl.Selected(); !ok {
		fmt.Fprintln(s.out, "no profile selected (use 'select <index>')")
		return
	}
	if arg == "" || arg == "clear" {
		s.ctrl.Dispatch(controller.CPUChanged{})
		s.settle()
		s.printEditor()
		return
	}
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || n == 0 {
		fmt.Fprintln(s.out, "usage: cpus <positive number|clear>")
		return
	}
	v := uint32(n)
	s.ctrl.Dispatch(controller.CPUChanged{CPUs: &v})
	s.settle()
	s.printEditor()
}

func (s *shell) saveProfile() {
	p, ok := s.ctrl.SelectedProfile()
	if !ok {
		fmt.Fprintln(s.out, "no profile selected (use 'select <index>')")
		return
	}
	s.ctrl.Dispatch(controller.SaveProfile{})
	s.settle()
	if errs := s.ctrl.ValidationErrors(); !errs.Empty() {
		fmt.Fprintln(s.out, "not saved: fix validation errors first")
		printErrors(s.out, errs)
		return
	}
	fmt.Fprintf(s.out, "saved profile %q to %s\n", p.Name, s.cfg.General.ProfilesDir)
}

func (s *shell) duplicate(arg string) {
	i, ok := s.resolveIndex(arg)
	if !ok {
		return
	}
	s.ctrl.Dispatch(controller.DuplicateProfile{Index: i})
	s.settle()
	s.printList()
}

func (s *shell) deleteProfile(arg string) {
	i, ok := s.resolveIndex(arg)
	if !ok {
		return
	}
	p, _ := s.ctrl.Profile(i)
	s.ctrl.Dispatch(controller.DeleteProfile{Index: i})
	s.settle()
	fmt.Fprintf(s.out, "deleted profile %q\n", p.Name)
	s.printList()
}

// resolveIndex parses an explicit index or falls back to the selection.
func (s *shell) resolveIndex(arg string) (int, bool) {
	if arg == "" {
		i, ok := s.ctrl.Selected()
		if !ok {
			fmt.Fprintln(s.out, "no profile selected (use 'select <index>')")
		}
		return i, ok
	}
	i, err := strconv.Atoi(arg)
	if err != nil || i < 0 || i >= s.ctrl.ProfileCount() {
		fmt.Fprintf(s.out, "no profile at index %q\n", arg)
		return 0, false
	}
	return i, true
}

func (s *shell) runSandbox(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "usage: run [index] <command...>")
		return
	}

	index, hasSelection := s.ctrl.Selected()
	command := strings.Join(args, " ")
	if i, err := strconv.Atoi(args[0]); err == nil && len(args) > 1 {
		index = i
		hasSelection = true
		command = strings.Join(args[1:], " ")
	}
	if !hasSelection {
		fmt.Fprintln(s.out, "no profile selected (use 'select <index>' or 'run <index> <command...>')")
		return
	}
	if index < 0 || index >= s.ctrl.ProfileCount() {
		fmt.Fprintf(s.out, "no profile at index %d\n", index)
		return
	}
	if s.ctrl.DaemonStatus() != controller.DaemonConnected {
		fmt.Fprintln(s.out, "daemon offline (use 'connect' after starting burrowd)")
		return
	}

	p, _ := s.ctrl.Profile(index)
	s.ctrl.Dispatch(controller.RunSandbox{Index: index, Command: command})
	fmt.Fprintf(s.out, "run requested with profile %q; check 'history' for the result\n", p.Name)
}

func (s *shell) stopSandbox(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(s.out, "usage: stop <sandbox-id> [--force]")
		return
	}
	if s.ctrl.DaemonStatus() != controller.DaemonConnected {
		fmt.Fprintln(s.out, "daemon offline (use 'connect' after starting burrowd)")
		return
	}
	force := false
	for _, a := range args[1:] {
		if a == "--force" || a == "-f" {
			force = true
		}
	}
	s.ctrl.Dispatch(controller.StopSandbox{SandboxID: args[0], Force: force})
	fmt.Fprintf(s.out, "stop requested for %s (force=%v)\n", args[0], force)
}

func (s *shell) requestStatus(arg string) {
	if arg == "" {
		fmt.Fprintln(s.out, "usage: status <sandbox-id>")
		return
	}
	if s.ctrl.DaemonStatus() != controller.DaemonConnected {
		fmt.Fprintln(s.out, "daemon offline (use 'connect' after starting burrowd)")
		return
	}
	s.ctrl.Dispatch(controller.StatusRequested{SandboxID: arg})
	fmt.Fprintf(s.out, "status requested for %s; check 'history' once it lands\n", arg)
}

func (s *shell) showHistory() {
	s.ctrl.Dispatch(controller.SwitchView{Mode: controller.ViewRunHistory})
	// A refresh only starts when the controller holds the client; give it a
	// short window to kick off, then wait for completion.
	if waitState(250*time.Millisecond, func() bool { return s.ctrl.Loading() == controller.LoadingHistory }) {
		timeout := time.Duration(s.cfg.Daemon.RequestTimeoutSeconds+5) * time.Second
		if !waitState(timeout, func() bool { return s.ctrl.Loading() == controller.LoadingIdle }) {
			fmt.Fprintln(s.out, "history refresh still running; showing cached records")
		}
	}
	printHistoryTable(s.out, s.ctrl.FilteredHistory())
}

func (s *shell) printHelp() {
	fmt.Fprint(s.out, `Profiles:
  list                     show all profiles
  new                      create a profile and select it
  select <i>               select profile by index
  dup [i]                  duplicate profile (default: selected)
  del [i]                  delete profile and its file (default: selected)
  save                     persist the selected profile

Editor (selected profile):
  name <text>              set profile name
  desc <text>              set description
  net <level>              set network level (`+joinLevels()+`)
  fs <flag>                toggle filesystem flag (`+joinFlags()+`)
  allow <path>             add an allowed path
  deny <path>              add a denied path
  rmpath <allow|deny> <i>  remove a path by index
  mem [value]              set memory limit (empty clears)
  unit <`+joinUnits()+`>      set memory display unit
  cpus <n|clear>           set or clear the CPU limit
  procs <n>                set max process count
  errors                   show outstanding validation errors

Daemon:
  connect                  (re)dial burrowd
  run [i] <command...>     run a command in a sandbox
  stop <id> [--force]      stop a sandbox
  status <id>              fetch one sandbox's status
  history                  refresh and show run history
  filter <text>            filter the history view

Other:
  stats                    controller metrics
  quit                     exit
`)
}

func (s *shell) printList() {
	count := s.ctrl.ProfileCount()
	if count == 0 {
		fmt.Fprintln(s.out, "no profiles (use 'new' or 'burrow wizard')")
		return
	}
	selected, hasSelection := s.ctrl.Selected()
	for i, p := range s.ctrl.Profiles() {
		marker := " "
		if hasSelection && i == selected {
			marker = "*"
		}
		fmt.Fprintf(s.out, "%s [%d] %-20s net=%-8s fs=%s\n", marker, i, p.Name, p.Capabilities.Network, flagSummary(p))
	}
}

func (s *shell) printEditor() {
	p, ok := s.ctrl.SelectedProfile()
	if !ok {
		fmt.Fprintln(s.out, "no profile selected")
		return
	}
	i, _ := s.ctrl.Selected()
	fmt.Fprintf(s.out, "[%d] %s\n", i, p.Name)
	printProfileDetail(s.out, p)
	fmt.Fprintf(s.out, "  editor:  mem=%q unit=%s procs=%q\n",
		s.ctrl.MemoryInput(), s.ctrl.MemoryUnit(), s.ctrl.MaxProcessesInput())
	if errs := s.ctrl.ValidationErrors(); !errs.Empty() {
		printErrors(s.out, errs)
	}
}

func printProfileDetail(w io.Writer, p policy.Policy) {
	if p.Description != "" {
		fmt.Fprintf(w, "  desc:    %s\n", p.Description)
	}
	fmt.Fprintf(w, "  network: %s\n", p.Capabilities.Network)
	fmt.Fprintf(w, "  fs:      %s\n", flagSummary(p))
	fmt.Fprintf(w, "  allowed: %s\n", pathSummary(p.Capabilities.AllowedPaths))
	fmt.Fprintf(w, "  denied:  %s\n", pathSummary(p.Capabilities.DeniedPaths))
	fmt.Fprintf(w, "  limits:  %s\n", limitSummary(p.Capabilities.Limits))
	fmt.Fprintf(w, "  sandbox: root=%s workdir=%s\n", p.Sandbox.Root, p.Sandbox.Workdir)
}

func flagSummary(p policy.Policy) string {
	var on []string
	for _, f := range policy.FSFlags() {
		if p.Capabilities.HasFlag(f) {
			on = append(on, string(f))
		}
	}
	if len(on) == 0 {
		return "none"
	}
	return strings.Join(on, ",")
}

func pathSummary(paths []string) string {
	if len(paths) == 0 {
		return "(none)"
	}
	parts := make([]string, len(paths))
	for i, p := range paths {
		parts[i] = fmt.Sprintf("[%d] %s", i, p)
	}
	return strings.Join(parts, "  ")
}

func limitSummary(l policy.ResourceLimits) string {
	var parts []string
	if l.CPUs != nil {
		parts = append(parts, fmt.Sprintf("cpus=%d", *l.CPUs))
	}
	if l.MemoryBytes != nil {
		parts = append(parts, fmt.Sprintf("mem=%s", humanSize(int64(*l.MemoryBytes))))
	}
	if l.MaxProcesses != nil {
		parts = append(parts, fmt.Sprintf("procs=%d", *l.MaxProcesses))
	}
	if len(parts) == 0 {
		return "unlimited"
	}
	return strings.Join(parts, " ")
}

func printErrors(w io.Writer, errs validate.Errors) {
	if errs.Empty() {
		fmt.Fprintln(w, "no validation errors")
		return
	}
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		fmt.Fprintf(w, "  %-16s %s\n", f+":", errs.Get(f))
	}
}

func printHistoryTable(w io.Writer, records []history.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no run history")
		return
	}
	fmt.Fprintf(w, "%-14s %-16s %-20s %-10s %-5s %s\n", "SANDBOX", "PROFILE", "START", "DURATION", "EXIT", "DENIED")
	for _, r := range records {
		fmt.Fprintf(w, "%-14s %-16s %-20s %-10s %-5d %d\n",
			r.SandboxID, r.ProfileName, r.StartTime, r.Duration, r.ExitCode, len(r.Denied))
	}
}

func joinLevels() string {
	levels := policy.NetworkLevels()
	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = string(l)
	}
	return strings.Join(parts, "|")
}

func joinFlags() string {
	flags := policy.FSFlags()
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = string(f)
	}
	return strings.Join(parts, "|")
}

func joinUnits() string {
	units := validate.Units()
	parts := make([]string, len(units))
	for i, u := range units {
		parts[i] = string(u)
	}
	return strings.Join(parts, "|")
}
