// Package profile persists policies as one yaml file per profile in a
// directory. The filename stem is the profile's name: the name is never
// written into the file, and on load it is overwritten from the filename.
package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"burrow/internal/policy"
)

// Store reads and writes profiles under one directory. The directory is
// explicit configuration; nothing here consults ambient process state.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore returns a store over dir. The directory is created lazily on the
// first save.
func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the profile directory.
func (s *Store) Dir() string { return s.dir }

// Path returns where a profile of the given name is stored.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

// Load returns every parseable profile in the directory, ordered by
// filename. A missing directory means no profiles. Files that cannot be
// read or parsed are skipped with a warning; a half-broken directory still
// yields the profiles that do parse.
func (s *Store) Load() ([]policy.Policy, error) {
	if _, err := os.Stat(s.dir); os.IsNotExist(err) {
		s.logger.Debug("profile directory does not exist yet", "dir", s.dir)
		return nil, nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read profile dir: %w", err)
	}

	var profiles []policy.Policy
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("cannot read profile file", "path", path, "err", err)
			continue
		}

		var p policy.Policy
		if err := yaml.Unmarshal(data, &p); err != nil {
			s.logger.Warn("cannot parse profile file", "path", path, "err", err)
			continue
		}

		p.Name = strings.TrimSuffix(name, filepath.Ext(name))
		profiles = append(profiles, p)
	}

	return profiles, nil
}

// Save writes a profile to {dir}/{name}.yaml. The write is atomic: a temp
// file in the same directory is renamed over the target, so a crash never
// leaves a half-written profile for Load to skip.
func (s *Store) Save(p policy.Policy) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", p.Name, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".profile-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write profile %s: %w", p.Name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync profile %s: %w", p.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod profile %s: %w", p.Name, err)
	}
	if err := os.Rename(tmpPath, s.Path(p.Name)); err != nil {
		return fmt.Errorf("rename profile %s into place: %w", p.Name, err)
	}
	return nil
}

// Delete removes a profile's file. Deleting a profile that has never been
// saved is not an error.
func (s *Store) Delete(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete profile %s: %w", name, err)
	}
	return nil
}
