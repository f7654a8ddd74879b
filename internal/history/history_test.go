package history

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"burrow/internal/daemon"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFromSandbox_PlaceholderTranslation(t *testing.T) {
	rec := FromSandbox(daemon.Sandbox{
		ID:        "box-3",
		Profile:   "etl",
		State:     "exited",
		ExitCode:  7,
		StartedAt: 1755800000,
		Denied:    []string{"net.connect"},
	})

	if rec.SandboxID != "box-3" {
		t.Fatalf("expected the sandbox id carried over, got %q", rec.SandboxID)
	}
	if rec.ProfileName != "unknown" {
		t.Fatalf("expected placeholder profile name, got %q", rec.ProfileName)
	}
	if rec.StartTime != "N/A" {
		t.Fatalf("expected N/A start time, got %q", rec.StartTime)
	}
	if rec.Duration != "unknown" {
		t.Fatalf("expected unknown duration, got %q", rec.Duration)
	}
	if rec.ExitCode != 0 {
		t.Fatalf("expected placeholder exit code 0, got %d", rec.ExitCode)
	}
	if rec.Denied != nil {
		t.Fatalf("expected no denied entries, got %v", rec.Denied)
	}
}

func TestFromSandboxes_PreservesOrder(t *testing.T) {
	recs := FromSandboxes([]daemon.Sandbox{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	if len(recs) != 3 || recs[0].SandboxID != "a" || recs[2].SandboxID != "c" {
		t.Fatalf("unexpected translation: %+v", recs)
	}
}

func TestFormatTimestamp_ZeroIsNA(t *testing.T) {
	if got := FormatTimestamp(0); got != "N/A" {
		t.Fatalf("expected N/A, got %q", got)
	}
	if got := FormatTimestamp(1755800000); got == "N/A" || got == "" {
		t.Fatalf("expected a rendered time, got %q", got)
	}
}

func TestMatches(t *testing.T) {
	r := Record{SandboxID: "box-42", ProfileName: "Workers"}

	if !r.Matches("") {
		t.Fatal("empty filter must match")
	}
	if !r.Matches("box-4") {
		t.Fatal("id substring should match")
	}
	if !r.Matches("work") {
		t.Fatal("profile substring match should be case-insensitive")
	}
	if r.Matches("zzz") {
		t.Fatal("unrelated filter should not match")
	}
}

func TestFilter(t *testing.T) {
	records := []Record{
		{SandboxID: "box-1", ProfileName: "etl"},
		{SandboxID: "box-2", ProfileName: "web"},
		{SandboxID: "web-3", ProfileName: "etl"},
	}
	got := Filter(records, "web")
	if len(got) != 2 || got[0].SandboxID != "box-2" || got[1].SandboxID != "web-3" {
		t.Fatalf("unexpected filtered set: %+v", got)
	}
}

// --- sqlite cache ---

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "cache", "burrow.db"), discardLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SaveAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	records := []Record{
		{SandboxID: "box-1", ProfileName: "unknown", StartTime: "N/A", Duration: "unknown"},
		{SandboxID: "box-2", ProfileName: "unknown", StartTime: "N/A", Duration: "unknown", Denied: []string{"fs.write /etc"}},
	}
	if err := store.SaveAll(ctx, records); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}

	byID := map[string]Record{}
	for _, r := range got {
		byID[r.SandboxID] = r
	}
	if byID["box-1"].StartTime != "N/A" || byID["box-1"].Duration != "unknown" {
		t.Fatalf("placeholders not preserved: %+v", byID["box-1"])
	}
	if len(byID["box-2"].Denied) != 1 || byID["box-2"].Denied[0] != "fs.write /etc" {
		t.Fatalf("denied list did not round-trip: %+v", byID["box-2"].Denied)
	}
}

func TestStore_UpsertReplaces(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, Record{SandboxID: "box-1", ProfileName: "unknown"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, Record{SandboxID: "box-1", ProfileName: "etl", ExitCode: 2}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := store.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("upsert should keep one row per sandbox, got %d", len(got))
	}
	if got[0].ProfileName != "etl" || got[0].ExitCode != 2 {
		t.Fatalf("expected the refreshed values, got %+v", got[0])
	}
}

func TestStore_ListFilter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.Save(ctx, Record{SandboxID: "box-1", ProfileName: "etl"})
	store.Save(ctx, Record{SandboxID: "box-2", ProfileName: "web"})

	got, err := store.List(ctx, "web", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].SandboxID != "box-2" {
		t.Fatalf("unexpected filtered rows: %+v", got)
	}
}

func TestStore_NilIsNoOp(t *testing.T) {
	var store *Store
	ctx := context.Background()

	if err := store.Save(ctx, Record{SandboxID: "x"}); err != nil {
		t.Fatalf("nil save: %v", err)
	}
	got, err := store.List(ctx, "", 0)
	if err != nil || got != nil {
		t.Fatalf("nil list: got %v err %v", got, err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}
