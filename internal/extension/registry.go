package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"luna-dine/internal/core"
	"luna-dine/internal/settings"
	"luna-dine/pkg/logger"
)

const manifestFile = "manifest.json"

func enabledKey(name string) string   { return "extension_" + name + "_enabled" }
func installedKey(name string) string { return "extension_" + name + "_installed" }
func settingsPrefix(name string) string {
	return "extension_" + name + "_"
}

type entry struct {
	manifest  Manifest
	ext       Extension
	enabled   bool
	installed bool
}

// Info is the admin-facing view of a discovered extension.
type Info struct {
	Manifest  Manifest `json:"manifest"`
	Enabled   bool     `json:"enabled"`
	Installed bool     `json:"installed"`
}

type hookRef struct {
	owner   string
	handler Handler
}

type Registry struct {
	dir       string
	store     settings.Store
	deps      Deps
	log       *logger.Logger
	factories map[string]Factory

	mu      sync.RWMutex
	entries map[string]*entry
	names   []string // discovery order
	hooks   map[string][]hookRef
}

func NewRegistry(dir string, store settings.Store, deps Deps, log *logger.Logger) *Registry {
	return &Registry{
		dir:       dir,
		store:     store,
		deps:      deps,
		log:       log,
		factories: make(map[string]Factory),
		entries:   make(map[string]*entry),
		hooks:     make(map[string][]hookRef),
	}
}

// RegisterFactory links a compiled-in code unit to a manifest name. Must be
// called before Discover.
func (r *Registry) RegisterFactory(name string, factory Factory) {
	r.factories[name] = factory
}

// Discover scans the extension directory, reads each manifest and restores
// the persisted enabled state. Manifests missing required fields are
// skipped without error. Extensions enabled in a prior run are loaded
// immediately.
func (r *Registry) Discover(ctx context.Context) error {
	dirEntries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.log.Warn("", "extension_discovery", fmt.Sprintf("Extension directory %s does not exist", r.dir))
			return nil
		}
		return fmt.Errorf("scan extension dir: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dirEntry := range dirEntries {
		if !dirEntry.IsDir() {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.dir, dirEntry.Name(), manifestFile))
		if err != nil {
			r.log.Debug("", "extension_discovery",
				fmt.Sprintf("Skipping %s: no readable manifest", dirEntry.Name()))
			continue
		}

		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil || !m.valid() {
			r.log.Debug("", "extension_discovery",
				fmt.Sprintf("Skipping %s: invalid manifest", dirEntry.Name()))
			continue
		}
		if _, exists := r.entries[m.Name]; exists {
			r.log.Warn("", "extension_discovery",
				fmt.Sprintf("Duplicate extension name %s, keeping first", m.Name))
			continue
		}

		e := &entry{
			manifest:  m,
			installed: settings.GetBool(ctx, r.store, installedKey(m.Name), false),
		}
		r.entries[m.Name] = e
		r.names = append(r.names, m.Name)

		if settings.GetBool(ctx, r.store, enabledKey(m.Name), false) {
			if err := r.loadLocked(ctx, e); err != nil {
				r.log.Error("", "extension_load",
					fmt.Sprintf("Failed to load enabled extension %s", m.Name), err)
				continue
			}
			e.enabled = true
		}
	}

	r.log.Info("", "extension_discovery",
		fmt.Sprintf("Discovered %d extensions", len(r.entries)))
	return nil
}

// Enable turns an extension on: dependency check, persisted state, hook
// registration and the Init entry point. Either the whole enable succeeds
// or no state changes.
func (r *Registry) Enable(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownExtension, name)
	}
	if e.enabled {
		return nil
	}

	for _, dep := range e.manifest.Dependencies {
		depEntry, ok := r.entries[dep]
		if !ok || !depEntry.enabled {
			return fmt.Errorf("%w: %s requires %s", core.ErrUnmetDependency, name, dep)
		}
	}

	if err := r.store.Set(ctx, enabledKey(name), "true"); err != nil {
		return fmt.Errorf("persist enable state: %w", err)
	}

	if err := r.loadLocked(ctx, e); err != nil {
		// Roll the settings write back so the failed enable leaves no trace.
		if serr := r.store.Set(ctx, enabledKey(name), "false"); serr != nil {
			r.log.Error("", "extension_enable", "Failed to roll back enable state", serr)
		}
		return err
	}

	e.enabled = true
	r.log.Info("", "extension_enabled", fmt.Sprintf("Extension %s enabled", name))
	return nil
}

// loadLocked instantiates the extension, registers its hooks and runs Init.
// Caller holds r.mu.
func (r *Registry) loadLocked(ctx context.Context, e *entry) error {
	name := e.manifest.Name

	factory, ok := r.factories[name]
	if !ok {
		return fmt.Errorf("no code unit registered for extension %s", name)
	}

	ext := factory(r.deps)
	for _, hook := range ext.Hooks() {
		r.hooks[hook.Event] = append(r.hooks[hook.Event], hookRef{owner: name, handler: hook.Handler})
	}

	if init, ok := ext.(Initializer); ok {
		if err := init.Init(ctx); err != nil {
			r.removeHooksLocked(name)
			return fmt.Errorf("init extension %s: %w", name, err)
		}
	}

	e.ext = ext
	return nil
}

// Disable turns an extension off: dependent check, persisted state, hook
// removal and the Destroy entry point. Hooks stop firing immediately.
func (r *Registry) Disable(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disableLocked(ctx, name)
}

func (r *Registry) disableLocked(ctx context.Context, name string) error {
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownExtension, name)
	}
	if !e.enabled {
		return nil
	}

	for otherName, other := range r.entries {
		if otherName == name || !other.enabled {
			continue
		}
		for _, dep := range other.manifest.Dependencies {
			if dep == name {
				return fmt.Errorf("%w: %s depends on %s", core.ErrDependentsStillEnabled, otherName, name)
			}
		}
	}

	if err := r.store.Set(ctx, enabledKey(name), "false"); err != nil {
		return fmt.Errorf("persist disable state: %w", err)
	}

	r.removeHooksLocked(name)
	e.enabled = false

	if destroy, ok := e.ext.(Destroyer); ok {
		if err := destroy.Destroy(ctx); err != nil {
			r.log.Error("", "extension_disable",
				fmt.Sprintf("Destroy entry point of %s failed", name), err)
		}
	}
	e.ext = nil

	r.log.Info("", "extension_disabled", fmt.Sprintf("Extension %s disabled", name))
	return nil
}

func (r *Registry) removeHooksLocked(name string) {
	for event, refs := range r.hooks {
		kept := refs[:0]
		for _, ref := range refs {
			if ref.owner != name {
				kept = append(kept, ref)
			}
		}
		if len(kept) == 0 {
			delete(r.hooks, event)
		} else {
			r.hooks[event] = kept
		}
	}
}

// Install runs the extension's one-time setup. Installing twice is a no-op.
func (r *Registry) Install(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownExtension, name)
	}
	if e.installed {
		return nil
	}

	if factory, ok := r.factories[name]; ok {
		ext := factory(r.deps)
		if installer, ok := ext.(Installer); ok {
			if err := installer.Install(ctx); err != nil {
				return fmt.Errorf("install extension %s: %w", name, err)
			}
		}
	}

	if err := r.store.Set(ctx, installedKey(name), "true"); err != nil {
		return fmt.Errorf("persist install state: %w", err)
	}
	e.installed = true

	r.log.Info("", "extension_installed", fmt.Sprintf("Extension %s installed", name))
	return nil
}

// Uninstall forces disable, runs teardown, then purges every settings key
// namespaced to the extension. Uninstalling twice is a no-op.
func (r *Registry) Uninstall(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownExtension, name)
	}

	if e.enabled {
		if err := r.disableLocked(ctx, name); err != nil {
			return err
		}
	}
	if !e.installed {
		return nil
	}

	if factory, ok := r.factories[name]; ok {
		ext := factory(r.deps)
		if uninstaller, ok := ext.(Uninstaller); ok {
			if err := uninstaller.Uninstall(ctx); err != nil {
				return fmt.Errorf("uninstall extension %s: %w", name, err)
			}
		}
	}

	if err := r.store.PurgePrefix(ctx, settingsPrefix(name)); err != nil {
		return fmt.Errorf("purge extension settings: %w", err)
	}
	e.installed = false

	r.log.Info("", "extension_uninstalled", fmt.Sprintf("Extension %s uninstalled", name))
	return nil
}

// Dispatch invokes every handler registered for the event in registration
// order. A handler error is logged and collected but never prevents the
// remaining handlers from running.
func (r *Registry) Dispatch(ctx context.Context, event string, payload any) ([]any, error) {
	r.mu.RLock()
	refs := make([]hookRef, len(r.hooks[event]))
	copy(refs, r.hooks[event])
	r.mu.RUnlock()

	var results []any
	var errs []error
	for _, ref := range refs {
		result, err := ref.handler.Handle(ctx, event, payload)
		if err != nil {
			r.log.Error("", "hook_failed",
				fmt.Sprintf("Handler of %s failed on %s", ref.owner, event), err)
			errs = append(errs, fmt.Errorf("%s: %w", ref.owner, err))
			continue
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

// List returns all discovered extensions in discovery order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.names))
	for _, name := range r.names {
		e := r.entries[name]
		infos = append(infos, Info{
			Manifest:  e.manifest,
			Enabled:   e.enabled,
			Installed: e.installed,
		})
	}
	return infos
}
