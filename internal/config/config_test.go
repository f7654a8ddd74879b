package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_TimeoutTooLow(t *testing.T) {
	cfg := Defaults()
	cfg.Daemon.RequestTimeoutSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for requestTimeoutSeconds=0")
	}
}

func TestValidate_TimeoutTooHigh(t *testing.T) {
	cfg := Defaults()
	cfg.Daemon.RequestTimeoutSeconds = 601
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for requestTimeoutSeconds=601")
	}
}

func TestValidate_TimeoutBoundary(t *testing.T) {
	cfg := Defaults()

	cfg.Daemon.RequestTimeoutSeconds = 1
	if err := Validate(cfg); err != nil {
		t.Fatalf("requestTimeoutSeconds=1 should be valid: %v", err)
	}

	cfg.Daemon.RequestTimeoutSeconds = 600
	if err := Validate(cfg); err != nil {
		t.Fatalf("requestTimeoutSeconds=600 should be valid: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestValidate_ValidLogLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		cfg := Defaults()
		cfg.General.LogLevel = level
		if err := Validate(cfg); err != nil {
			t.Fatalf("log level %q should be valid: %v", level, err)
		}
	}
}

func TestValidate_EmptySocketPath(t *testing.T) {
	cfg := Defaults()
	cfg.Daemon.SocketPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty socket path")
	}
}

func TestValidate_EmptyProfilesDir(t *testing.T) {
	cfg := Defaults()
	cfg.General.ProfilesDir = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty profiles dir")
	}
}

func TestValidate_HistoryEnabledNeedsDBPath(t *testing.T) {
	cfg := Defaults()
	cfg.History.Enabled = true
	cfg.History.DBPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when history is enabled without a db path")
	}

	// Disabled history does not need a db path.
	cfg.History.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled history should not require dbPath: %v", err)
	}
}

func TestValidate_HistoryLimit(t *testing.T) {
	cfg := Defaults()
	cfg.History.Limit = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for history.limit=0")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.General.ProfilesDir = ""
	cfg.Daemon.SocketPath = ""
	cfg.Daemon.RequestTimeoutSeconds = 0

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"profilesDir", "socketPath", "requestTimeoutSeconds"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Daemon.SocketPath = "/run/burrowd/test.sock"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Daemon.SocketPath != "/run/burrowd/test.sock" {
		t.Fatalf("expected '/run/burrowd/test.sock', got %q", loaded.Daemon.SocketPath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_AbsentKeysKeepDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"daemon": {"socketPath": "/tmp/custom.sock"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Daemon.SocketPath != "/tmp/custom.sock" {
		t.Fatalf("expected overridden socket path, got %q", cfg.Daemon.SocketPath)
	}
	if cfg.Daemon.RequestTimeoutSeconds != 30 {
		t.Fatalf("absent timeout should keep default 30, got %d", cfg.Daemon.RequestTimeoutSeconds)
	}
	if !cfg.History.Enabled {
		t.Fatal("absent history section should keep enabled default")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	// Invalid: requestTimeoutSeconds=0
	content := `{
		"daemon": {
			"requestTimeoutSeconds": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for requestTimeoutSeconds=0")
	}
}

func TestLoad_ExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir in this environment")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"general": {"profilesDir": "~/profiles-test"}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := filepath.Join(home, "profiles-test")
	if cfg.General.ProfilesDir != want {
		t.Fatalf("expected %q, got %q", want, cfg.General.ProfilesDir)
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "general.logLevel")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "info" {
		t.Fatalf("expected 'info', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "general.logLevel", "debug"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.General.LogLevel != "debug" {
		t.Fatalf("expected 'debug', got %q", cfg.General.LogLevel)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "history.enabled", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.History.Enabled {
		t.Fatal("expected history.enabled=false")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "daemon.requestTimeoutSeconds", "120"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.Daemon.RequestTimeoutSeconds != 120 {
		t.Fatalf("expected 120, got %d", cfg.Daemon.RequestTimeoutSeconds)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	// Check some known paths exist
	for _, expected := range []string{"general.profilesDir", "daemon.socketPath", "history.enabled"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_SOCKET_DIR", "/run/burrowd")
	result := ExpandEnvVars(`{"socketPath": "${TEST_SOCKET_DIR}/d.sock"}`)
	expected := `{"socketPath": "/run/burrowd/d.sock"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	// Ensure the var is unset
	os.Unsetenv("NONEXISTENT_VAR_12345")
	result := ExpandEnvVars(`{"logLevel": "${NONEXISTENT_VAR_12345:-warn}"}`)
	expected := `{"logLevel": "warn"}`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("BURROW_LOG", "debug")
	result := ExpandEnvVars(`"${BURROW_LOG:-info}"`)
	expected := `"debug"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_MultipleVars(t *testing.T) {
	t.Setenv("RUN_DIR", "/run")
	t.Setenv("SOCK_NAME", "burrowd.sock")
	result := ExpandEnvVars(`"${RUN_DIR}/${SOCK_NAME}"`)
	expected := `"/run/burrowd.sock"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")
	result := ExpandEnvVars(`"${TOTALLY_UNSET_VAR_XYZ}"`)
	expected := `"${TOTALLY_UNSET_VAR_XYZ}"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	result := ExpandEnvVars(`"${EMPTY_VAR:-fallback}"`)
	expected := `"fallback"`
	if result != expected {
		t.Fatalf("expected %q, got %q", expected, result)
	}
}

func TestExpandEnvVars_NoVarsInInput(t *testing.T) {
	input := `{"key": "value", "number": 42}`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change, got %q", result)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_BURROW_SOCKET", "/tmp/test-burrowd.sock")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"daemon": {
			"socketPath": "${TEST_BURROW_SOCKET}",
			"requestTimeoutSeconds": 30
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Daemon.SocketPath != "/tmp/test-burrowd.sock" {
		t.Fatalf("expected socket '/tmp/test-burrowd.sock', got %q", cfg.Daemon.SocketPath)
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if cfg == nil {
		t.Fatal("defaults returned nil")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.General.ProfilesDir == "" {
		t.Fatal("profilesDir should not be empty")
	}
	if cfg.Daemon.RequestTimeoutSeconds != 30 {
		t.Fatalf("default timeout should be 30, got %d", cfg.Daemon.RequestTimeoutSeconds)
	}
}
