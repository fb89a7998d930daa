// Package devices tracks the targets a verification run can fan out to.
package devices

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/A-ryanVAT-S/Provify/internal/logging"
	"github.com/A-ryanVAT-S/Provify/internal/types"
)

// Discoverer lists the targets currently reachable
type Discoverer interface {
	Discover(ctx context.Context) ([]types.Target, error)
}

// Registry is the set of known targets, keyed by id.
type Registry struct {
	mu         sync.Mutex
	targets    map[string]types.Target
	discoverer Discoverer
	log        *slog.Logger
}

// NewRegistry creates an empty registry backed by d
func NewRegistry(d Discoverer) *Registry {
	return &Registry{
		targets:    make(map[string]types.Target),
		discoverer: d,
		log:        logging.New("devices"),
	}
}

// Refresh syncs the registry with the discoverer: vanished targets are
// removed, new ones added, known ones keep their name. A discovery error
// empties nothing, is logged and reported as zero devices.
func (r *Registry) Refresh(ctx context.Context) int {
	found, err := r.discoverer.Discover(ctx)
	if err != nil {
		r.log.Error("device refresh failed", "error", err)
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := make(map[string]types.Target, len(found))
	for _, t := range found {
		if t.ID != "" {
			current[t.ID] = t
		}
	}
	for id := range r.targets {
		if _, ok := current[id]; !ok {
			delete(r.targets, id)
			r.log.Info("device disconnected", "target", id)
		}
	}
	for id, t := range current {
		if _, ok := r.targets[id]; !ok {
			if t.Name == "" {
				t.Name = id
			}
			r.targets[id] = t
			r.log.Info("device connected", "target", id, "name", t.Name)
		}
	}
	return len(r.targets)
}

// Targets returns the known targets sorted by id
func (r *Registry) Targets() []types.Target {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]types.Target, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Available returns the known targets, refreshing first when none are known.
func (r *Registry) Available(ctx context.Context) []types.Target {
	if r.Count() == 0 {
		r.Refresh(ctx)
	}
	return r.Targets()
}

// Count returns the number of known targets
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.targets)
}

// Name returns the display name for id, or id itself when unknown.
func (r *Registry) Name(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.targets[id]; ok {
		return t.DisplayName()
	}
	return id
}

// ADBDiscoverer lists devices with "adb devices -l".
type ADBDiscoverer struct {
	// Command is the adb binary (default "adb")
	Command string
}

func (d ADBDiscoverer) Discover(ctx context.Context) ([]types.Target, error) {
	command := d.Command
	if command == "" {
		command = "adb"
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, "devices", "-l")
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s devices failed: %w: %s", command, err, strings.TrimSpace(stderr.String()))
	}
	return ParseADBDevices(out), nil
}

// ParseADBDevices parses "adb devices -l" output. Only devices in the
// "device" state are returned; unauthorized and offline entries are skipped.
func ParseADBDevices(out []byte) []types.Target {
	var targets []types.Target
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != "device" {
			continue
		}
		t := types.Target{ID: fields[0]}
		for _, f := range fields[2:] {
			if model, ok := strings.CutPrefix(f, "model:"); ok {
				t.Name = strings.ReplaceAll(model, "_", " ")
			}
		}
		targets = append(targets, t)
	}
	return targets
}

// StaticDiscoverer serves a fixed list of "serial" or "serial=Name" entries.
type StaticDiscoverer []string

func (s StaticDiscoverer) Discover(context.Context) ([]types.Target, error) {
	return ParseStatic(s), nil
}

// ParseStatic parses "serial" and "serial=Name" entries, skipping blanks.
func ParseStatic(entries []string) []types.Target {
	var targets []types.Target
	for _, e := range entries {
		id, name, _ := strings.Cut(e, "=")
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		targets = append(targets, types.Target{ID: id, Name: strings.TrimSpace(name)})
	}
	return targets
}

// FromConfig returns a StaticDiscoverer when static entries are configured,
// otherwise an ADBDiscoverer running command.
func FromConfig(command string, static []string) Discoverer {
	if len(static) > 0 {
		return StaticDiscoverer(static)
	}
	return ADBDiscoverer{Command: command}
}
