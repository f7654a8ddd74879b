// Package policy defines the sandbox policy model: what a profile grants,
// what it mounts, and what it limits. Values only, no I/O, no daemon calls.
package policy

import "fmt"

// Version assigned to newly created policies.
const CurrentVersion = "1.0.0"

// NetworkLevel is the network access granted to a sandbox, ordered from most
// to least restrictive. Levels never coerce into one another.
type NetworkLevel string

const (
	NetworkDisabled NetworkLevel = "disabled"
	NetworkLoopback NetworkLevel = "loopback"
	NetworkOutbound NetworkLevel = "outbound"
	NetworkFull     NetworkLevel = "full"
)

// NetworkLevels lists all levels in increasing permissiveness.
func NetworkLevels() []NetworkLevel {
	return []NetworkLevel{NetworkDisabled, NetworkLoopback, NetworkOutbound, NetworkFull}
}

// ParseNetworkLevel converts a string form back to a level.
func ParseNetworkLevel(s string) (NetworkLevel, error) {
	switch NetworkLevel(s) {
	case NetworkDisabled, NetworkLoopback, NetworkOutbound, NetworkFull:
		return NetworkLevel(s), nil
	}
	return "", fmt.Errorf("unknown network level %q", s)
}

// FSFlag is a filesystem capability. Presence-only; order carries no meaning.
type FSFlag string

const (
	FSRead    FSFlag = "read"
	FSWrite   FSFlag = "write"
	FSExecute FSFlag = "execute"
)

// FSFlags lists all filesystem capabilities.
func FSFlags() []FSFlag {
	return []FSFlag{FSRead, FSWrite, FSExecute}
}

// ParseFSFlag converts a string form back to a flag.
func ParseFSFlag(s string) (FSFlag, error) {
	switch FSFlag(s) {
	case FSRead, FSWrite, FSExecute:
		return FSFlag(s), nil
	}
	return "", fmt.Errorf("unknown filesystem capability %q", s)
}

// ResourceLimits bounds a sandbox. A nil field means unlimited; nil must
// survive a save/load cycle without turning into zero.
type ResourceLimits struct {
	CPUs         *uint32 `yaml:"cpus,omitempty" json:"cpus,omitempty"`
	MemoryBytes  *uint64 `yaml:"memory_bytes,omitempty" json:"memory_bytes,omitempty"`
	MaxProcesses *uint32 `yaml:"max_processes,omitempty" json:"max_processes,omitempty"`
}

// CapabilityGrant is the permission portion of a policy. Allowed and denied
// paths are inert strings at this layer; precedence between them belongs to
// the daemon's policy engine.
type CapabilityGrant struct {
	Network      NetworkLevel    `yaml:"network" json:"network"`
	Filesystem   map[FSFlag]bool `yaml:"filesystem,omitempty" json:"filesystem,omitempty"`
	AllowedPaths []string        `yaml:"allowed_paths,omitempty" json:"allowed_paths,omitempty"`
	DeniedPaths  []string        `yaml:"denied_paths,omitempty" json:"denied_paths,omitempty"`
	Limits       ResourceLimits  `yaml:"resource_limits" json:"resource_limits"`
}

// HasFlag reports whether the grant carries a filesystem capability.
func (g CapabilityGrant) HasFlag(f FSFlag) bool { return g.Filesystem[f] }

// ToggleFlag flips a filesystem capability on or off. An empty set is kept
// as a nil map so that toggling never changes the serialized form of a
// policy that grants nothing.
func (g *CapabilityGrant) ToggleFlag(f FSFlag) {
	if g.Filesystem[f] {
		delete(g.Filesystem, f)
		if len(g.Filesystem) == 0 {
			g.Filesystem = nil
		}
		return
	}
	if g.Filesystem == nil {
		g.Filesystem = make(map[FSFlag]bool)
	}
	g.Filesystem[f] = true
}

// MountKind is the filesystem type of a mount entry.
type MountKind string

const (
	MountBind     MountKind = "bind"
	MountTmpfs    MountKind = "tmpfs"
	MountDevtmpfs MountKind = "devtmpfs"
	MountProc     MountKind = "proc"
	MountSysfs    MountKind = "sysfs"
)

// MountMode is read-only or read-write.
type MountMode string

const (
	MountRO MountMode = "ro"
	MountRW MountMode = "rw"
)

// Mount is one mount descriptor inside a sandbox.
type Mount struct {
	Source  string    `yaml:"source" json:"source"`
	Dest    string    `yaml:"dest" json:"dest"`
	Kind    MountKind `yaml:"kind" json:"kind"`
	Mode    MountMode `yaml:"mode" json:"mode"`
	Options []string  `yaml:"options,omitempty" json:"options,omitempty"`
}

// SandboxConfig describes the execution environment a policy sets up.
type SandboxConfig struct {
	Root     string            `yaml:"root" json:"root"`
	Mounts   []Mount           `yaml:"mounts,omitempty" json:"mounts,omitempty"`
	Hostname string            `yaml:"hostname,omitempty" json:"hostname,omitempty"`
	Workdir  string            `yaml:"workdir" json:"workdir"`
	Env      map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Policy is one named sandbox profile. The name is the in-memory identity:
// it is derived from the storage filename on load and excluded from the
// serialized form, so two loads of the same file under different names
// produce policies differing only in Name.
type Policy struct {
	Name         string            `yaml:"-" json:"-"`
	Version      string            `yaml:"version" json:"version"`
	Description  string            `yaml:"description,omitempty" json:"description,omitempty"`
	Capabilities CapabilityGrant   `yaml:"capabilities" json:"capabilities"`
	Sandbox      SandboxConfig     `yaml:"sandbox" json:"sandbox"`
	Metadata     map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Default returns the canonical starting policy: version 1.0.0, network
// disabled, no filesystem capabilities, no paths, unlimited resources,
// root and workdir at "/".
func Default() Policy {
	return Policy{
		Version: CurrentVersion,
		Capabilities: CapabilityGrant{
			Network: NetworkDisabled,
		},
		Sandbox: SandboxConfig{
			Root:    "/",
			Workdir: "/",
		},
	}
}

// CloneAsDuplicate returns a deep copy with "-copy" appended to the name and
// every other field unchanged. Name uniqueness is the caller's concern.
func (p Policy) CloneAsDuplicate() Policy {
	dup := p.Clone()
	dup.Name = p.Name + "-copy"
	return dup
}

// Clone returns a deep copy sharing no slices, maps, or limit pointers with
// the receiver.
func (p Policy) Clone() Policy {
	out := p
	out.Capabilities = p.Capabilities.Clone()
	out.Sandbox = p.Sandbox.clone()
	out.Metadata = cloneStringMap(p.Metadata)
	return out
}

// Clone returns a deep copy of the grant.
func (g CapabilityGrant) Clone() CapabilityGrant {
	out := g
	if g.Filesystem != nil {
		out.Filesystem = make(map[FSFlag]bool, len(g.Filesystem))
		for f, set := range g.Filesystem {
			out.Filesystem[f] = set
		}
	}
	out.AllowedPaths = append([]string(nil), g.AllowedPaths...)
	out.DeniedPaths = append([]string(nil), g.DeniedPaths...)
	out.Limits = g.Limits.clone()
	return out
}

func (r ResourceLimits) clone() ResourceLimits {
	var out ResourceLimits
	if r.CPUs != nil {
		v := *r.CPUs
		out.CPUs = &v
	}
	if r.MemoryBytes != nil {
		v := *r.MemoryBytes
		out.MemoryBytes = &v
	}
	if r.MaxProcesses != nil {
		v := *r.MaxProcesses
		out.MaxProcesses = &v
	}
	return out
}

func (s SandboxConfig) clone() SandboxConfig {
	out := s
	if s.Mounts != nil {
		out.Mounts = make([]Mount, len(s.Mounts))
		for i, m := range s.Mounts {
			m.Options = append([]string(nil), m.Options...)
			out.Mounts[i] = m
		}
	}
	out.Env = cloneStringMap(s.Env)
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
