// Package extension implements the extension registry: discovery of
// installable extensions from on-disk manifests, enable/disable with
// dependency constraints, install/uninstall lifecycle and named-event hook
// dispatch.
package extension

import (
	"context"

	"luna-dine/internal/settings"
	"luna-dine/pkg/logger"
)

// Manifest is the JSON file each extension directory carries. Name,
// version, description and author are mandatory; a manifest missing any of
// them is silently skipped during discovery.
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Description  string            `json:"description"`
	Author       string            `json:"author"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Hooks        map[string]string `json:"hooks,omitempty"`
}

func (m Manifest) valid() bool {
	return m.Name != "" && m.Version != "" && m.Description != "" && m.Author != ""
}

// Handler is a typed hook handler. Handlers are trusted first-party code,
// but a handler error never aborts the other handlers of the same event.
type Handler interface {
	Handle(ctx context.Context, event string, payload any) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event string, payload any) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, event string, payload any) (any, error) {
	return f(ctx, event, payload)
}

// Hook pairs an event name with its handler. Extensions declare hooks as
// an ordered list; registration order is preserved across dispatch.
type Hook struct {
	Event   string
	Handler Handler
}

// Extension is a compiled-in code unit. Discovery pairs an on-disk
// manifest with the factory registered under the same name.
type Extension interface {
	Hooks() []Hook
}

// Optional lifecycle entry points.
type Initializer interface {
	Init(ctx context.Context) error
}

type Destroyer interface {
	Destroy(ctx context.Context) error
}

type Installer interface {
	Install(ctx context.Context) error
}

type Uninstaller interface {
	Uninstall(ctx context.Context) error
}

// Notifier is the slice of the notification dispatcher extensions get to
// see.
type Notifier interface {
	Send(ctx context.Context, channel, event string, data map[string]string) (bool, error)
}

// Deps is what a factory receives when its extension is loaded.
type Deps struct {
	Settings settings.Store
	Notifier Notifier
	Log      *logger.Logger
}

type Factory func(deps Deps) Extension
