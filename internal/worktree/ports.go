package worktree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/0xPD33/hydra-tools/internal/herr"
)

// PortRegistry tracks the port allocated to each worktree branch,
// persisted at .hydra/wt-ports.json. Grounded on hydra-wt/src/ports.rs.
type PortRegistry struct {
	path        string
	Allocations map[string]uint16 `json:"-"`
}

// portsFile is the on-disk shape: a flat branch->port map, matching the
// original's #[serde(flatten)] HashMap.
type portsFile map[string]uint16

func portsPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".hydra", "wt-ports.json")
}

// LoadPortRegistry reads the registry for projectRoot, returning an
// empty registry if the file doesn't exist yet.
func LoadPortRegistry(projectRoot string) (*PortRegistry, error) {
	path := portsPath(projectRoot)
	r := &PortRegistry{path: path, Allocations: map[string]uint16{}}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, herr.Wrap(herr.SubprocessFailed, "read port registry", err)
	}

	var f portsFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, herr.Wrap(herr.SubprocessFailed, "parse port registry", err)
	}
	r.Allocations = f
	return r, nil
}

// Save writes the registry back to disk.
func (r *PortRegistry) Save() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return herr.Wrap(herr.SubprocessFailed, "create .hydra directory", err)
	}
	b, err := json.MarshalIndent(portsFile(r.Allocations), "", "  ")
	if err != nil {
		return herr.Wrap(herr.SubprocessFailed, "serialize port registry", err)
	}
	if err := os.WriteFile(r.path, b, 0o644); err != nil {
		return herr.Wrap(herr.SubprocessFailed, "write port registry", err)
	}
	return nil
}

// Allocate assigns branch the first free port in [rangeStart, rangeEnd],
// failing if branch already has one or the range is exhausted.
func (r *PortRegistry) Allocate(branch string, rangeStart, rangeEnd uint16) (uint16, error) {
	if port, ok := r.Allocations[branch]; ok {
		return 0, herr.New(herr.SubprocessFailed, fmt.Sprintf("branch %q already has port %d allocated", branch, port))
	}

	used := make(map[uint16]struct{}, len(r.Allocations))
	for _, p := range r.Allocations {
		used[p] = struct{}{}
	}

	for port := rangeStart; ; port++ {
		if _, taken := used[port]; !taken {
			r.Allocations[branch] = port
			return port, nil
		}
		if port == rangeEnd {
			break
		}
	}

	return 0, herr.New(herr.SubprocessFailed, fmt.Sprintf("no free ports in range %d-%d", rangeStart, rangeEnd))
}

// Free releases branch's allocated port.
func (r *PortRegistry) Free(branch string) (uint16, error) {
	port, ok := r.Allocations[branch]
	if !ok {
		return 0, herr.New(herr.SubprocessFailed, fmt.Sprintf("no port allocated for branch %q", branch))
	}
	delete(r.Allocations, branch)
	return port, nil
}

// Get returns branch's allocated port, if any.
func (r *PortRegistry) Get(branch string) (uint16, bool) {
	port, ok := r.Allocations[branch]
	return port, ok
}

// List returns all branch/port allocations sorted by branch name.
func (r *PortRegistry) List() []BranchPort {
	out := make([]BranchPort, 0, len(r.Allocations))
	for branch, port := range r.Allocations {
		out = append(out, BranchPort{Branch: branch, Port: port})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Branch < out[j].Branch })
	return out
}

// BranchPort is one entry from PortRegistry.List.
type BranchPort struct {
	Branch string
	Port   uint16
}

// InitPortRegistry creates an empty registry file if one doesn't
// already exist, matching ports.rs::init's idempotence.
func InitPortRegistry(projectRoot string) error {
	path := portsPath(projectRoot)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	r := &PortRegistry{path: path, Allocations: map[string]uint16{}}
	return r.Save()
}
