package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Descriptor is one entry of skill_library.json (§6 Skill library layout).
type Descriptor struct {
	FunctionName  string      `json:"function_name" yaml:"function_name"`
	Tag           string      `json:"tag" yaml:"tag"`
	Description   string      `json:"description" yaml:"description"`
	Parameters    []ParamSpec `json:"parameters" yaml:"parameters"`
	WorkflowCount int         `json:"workflow_count" yaml:"workflow_count"`
	WorkflowTasks []string    `json:"workflow_tasks" yaml:"workflow_tasks"`
	CreatedTime   string      `json:"created_time" yaml:"created_time"`
	FilePath      string      `json:"file_path" yaml:"file_path"`
}

// ParamSpec is one skill parameter, with an optional default.
type ParamSpec struct {
	Name    string `json:"name" yaml:"name"`
	Default any    `json:"default,omitempty" yaml:"default,omitempty"`
}

type library struct {
	Version     string                 `json:"version"`
	CreatedTime string                 `json:"created_time"`
	UpdatedTime string                 `json:"updated_time"`
	Skills      map[string]*Descriptor `json:"skills"`
}

// overlayFile is the optional skills/skills.yaml layer: hand-authored action
// lists for skills that don't have a generated <fn>.py backing them yet, or
// that override one.
type overlayFile struct {
	Skills map[string][]Action `yaml:"skills"`
}

// Registry loads skill_library.json (and an optional skills.yaml overlay),
// and hot-reloads both on change via fsnotify (§6, DOMAIN STACK).
type Registry struct {
	dir string

	mu       sync.RWMutex
	skills   map[string]*Descriptor
	overlays map[string][]Action

	watcher *fsnotify.Watcher
}

// NewRegistry loads the registry once from dir (expects skill_library.json,
// and optionally skills.yaml, directly inside it).
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{dir: dir}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) libraryPath() string { return filepath.Join(r.dir, "skill_library.json") }
func (r *Registry) overlayPath() string { return filepath.Join(r.dir, "skills.yaml") }

func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.libraryPath())
	if err != nil {
		return fmt.Errorf("skill: read %s: %w", r.libraryPath(), err)
	}
	var lib library
	if err := json.Unmarshal(raw, &lib); err != nil {
		return fmt.Errorf("skill: parse %s: %w", r.libraryPath(), err)
	}

	overlays := map[string][]Action{}
	if raw, err := os.ReadFile(r.overlayPath()); err == nil {
		var ov overlayFile
		if err := yaml.Unmarshal(raw, &ov); err != nil {
			slog.Warn("skill: malformed skills.yaml overlay, ignoring", "path", r.overlayPath(), "error", err)
		} else {
			overlays = ov.Skills
		}
	}

	r.mu.Lock()
	r.skills = lib.Skills
	r.overlays = overlays
	r.mu.Unlock()
	return nil
}

// Lookup returns a skill's descriptor by function name, if registered.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.skills[name]
	return d, ok
}

// Descriptors returns every registered skill, for building the router
// prompt's skill library listing (§4.6).
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.skills))
	for _, d := range r.skills {
		out = append(out, *d)
	}
	return out
}

// Overlay returns the skills.yaml action list for name, if an override
// layer defines one. This lets an operator patch a skill's behavior without
// regenerating its source function.
func (r *Registry) Overlay(name string) ([]Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actions, ok := r.overlays[name]
	return actions, ok
}

// Watch starts an fsnotify watch on the registry directory and reloads on
// any write/create touching skill_library.json or skills.yaml, debounced to
// coalesce rapid writes (e.g. an editor's save-as-temp-then-rename).
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skill: create watcher: %w", err)
	}
	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("skill: watch %s: %w", r.dir, err)
	}
	r.watcher = watcher

	go r.watchLoop(ctx, watcher)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	const debounce = 150 * time.Millisecond
	var timer *time.Timer

	relevant := func(name string) bool {
		base := filepath.Base(name)
		return base == "skill_library.json" || base == "skills.yaml"
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !relevant(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if err := r.reload(); err != nil {
					slog.Warn("skill: reload after change failed", "error", err)
				} else {
					slog.Info("skill: registry reloaded", "dir", r.dir)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("skill: watcher error", "error", err)
		}
	}
}

// Close stops the registry's filesystem watch, if one was started.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}
