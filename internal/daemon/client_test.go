package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"burrow/internal/policy"
)

// startDaemon serves the handler on a unix socket and returns the socket path.
func startDaemon(t *testing.T, handler http.Handler) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "burrowd.sock")
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })
	return socketPath
}

func dialTest(t *testing.T, socketPath string) *Client {
	t.Helper()
	c, err := Dial(ClientConfig{
		SocketPath: socketPath,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func TestDial_SocketMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such.sock")
	_, err := Dial(ClientConfig{SocketPath: missing})
	if err == nil {
		t.Fatal("expected dial to fail fast")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), missing) || !strings.Contains(err.Error(), "burrowd") {
		t.Fatalf("error should name the socket and the daemon: %v", err)
	}
}

func TestRunSandbox_PostsTranslatedPolicy(t *testing.T) {
	var got RunRequest
	var reqID string
	socketPath := startDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/sandboxes" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		reqID = r.Header.Get("X-Request-ID")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(RunResponse{SandboxID: "box-7", PID: 4242, Success: true})
	}))

	c := dialTest(t, socketPath)
	p := defaultRunProfile()
	resp, err := c.RunSandbox(context.Background(), p, []string{"python3", "job.py"}, "/")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if resp.SandboxID != "box-7" || resp.PID != 4242 || !resp.Success {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if reqID == "" {
		t.Fatal("expected an X-Request-ID header")
	}
	if len(got.Command) != 2 || got.Command[0] != "python3" || got.Command[1] != "job.py" {
		t.Fatalf("unexpected command: %v", got.Command)
	}
	if got.WorkingDirectory != "/" {
		t.Fatalf("unexpected working directory: %q", got.WorkingDirectory)
	}
	if got.Keep || got.AllocateTTY {
		t.Fatal("keep and allocate_tty must be off")
	}
	if got.InlinePolicy == nil {
		t.Fatal("expected an inline policy")
	}
	if got.InlinePolicy.Network != "loopback" {
		t.Fatalf("unexpected network: %q", got.InlinePolicy.Network)
	}
	if len(got.InlinePolicy.ReadPaths) != 1 || got.InlinePolicy.ReadPaths[0] != "/srv" {
		t.Fatalf("unexpected read_paths: %v", got.InlinePolicy.ReadPaths)
	}
	if len(got.InlinePolicy.WritePaths) != 0 {
		t.Fatalf("write_paths should be empty without the write flag: %v", got.InlinePolicy.WritePaths)
	}
	if got.InlinePolicy.Memory != "512M" {
		t.Fatalf("unexpected memory: %q", got.InlinePolicy.Memory)
	}
}

func TestStopSandbox_PathAndForce(t *testing.T) {
	var gotPath string
	var got StopRequest
	socketPath := startDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(StopResponse{Success: true})
	}))

	c := dialTest(t, socketPath)
	resp, err := c.StopSandbox(context.Background(), "box-9", true)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if gotPath != "/v1/sandboxes/box-9/stop" {
		t.Fatalf("unexpected path: %q", gotPath)
	}
	if !got.Force {
		t.Fatal("expected force flag in the body")
	}
	if !resp.Success {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestListSandboxes_IncludeStopped(t *testing.T) {
	var gotQuery string
	socketPath := startDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(ListResponse{Sandboxes: []Sandbox{
			{ID: "box-1", State: "running"},
			{ID: "box-2", State: "exited", ExitCode: 3},
		}})
	}))

	c := dialTest(t, socketPath)
	records, err := c.ListSandboxes(context.Background(), true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotQuery != "all=true" {
		t.Fatalf("expected all=true query, got %q", gotQuery)
	}
	if len(records) != 2 || records[0].ID != "box-1" || records[1].ExitCode != 3 {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestListSandboxes_RunningOnlyOmitsQuery(t *testing.T) {
	var gotQuery string
	socketPath := startDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(ListResponse{})
	}))

	c := dialTest(t, socketPath)
	if _, err := c.ListSandboxes(context.Background(), false); err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotQuery != "" {
		t.Fatalf("expected no query, got %q", gotQuery)
	}
}

func TestGetStatus(t *testing.T) {
	socketPath := startDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sandboxes/box-5" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Sandbox{ID: "box-5", State: "running", PID: 99})
	}))

	c := dialTest(t, socketPath)
	rec, err := c.GetStatus(context.Background(), "box-5")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rec.ID != "box-5" || rec.PID != 99 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestDoJSON_DaemonErrorStatus(t *testing.T) {
	socketPath := startDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such sandbox", http.StatusNotFound)
	}))

	c := dialTest(t, socketPath)
	_, err := c.GetStatus(context.Background(), "gone")
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected ErrRequestFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "no such sandbox") {
		t.Fatalf("error should carry the daemon's message: %v", err)
	}
}

func TestDoJSON_MalformedBody(t *testing.T) {
	socketPath := startDaemon(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "this is not json")
	}))

	c := dialTest(t, socketPath)
	_, err := c.ListSandboxes(context.Background(), true)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func defaultRunProfile() policy.Policy {
	mem := uint64(512 << 20)
	p := policy.Default()
	p.Name = "etl"
	p.Capabilities.Network = policy.NetworkLoopback
	p.Capabilities.ToggleFlag(policy.FSRead)
	p.Capabilities.AllowedPaths = []string{"/srv"}
	p.Capabilities.Limits.MemoryBytes = &mem
	return p
}
