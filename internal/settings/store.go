package settings

import (
	"context"
	"strconv"
	"strings"
)

// Store is the key/value configuration backend shared by the extension
// registry, the notification dispatcher and the admin surface. Keys are
// namespaced by convention (extension_<name>_enabled, site_name, ...).
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	PurgePrefix(ctx context.Context, prefix string) error
	Export(ctx context.Context) (map[string]string, error)
	Import(ctx context.Context, values map[string]string) error
}

var secretSuffixes = []string{"_secret", "_password", "_api_key"}

// IsSecret reports whether a key holds a credential. Secret keys are
// skipped by Export.
func IsSecret(key string) bool {
	for _, suffix := range secretSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

func GetDefault(ctx context.Context, s Store, key, def string) string {
	value, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def
	}
	return value
}

func GetBool(ctx context.Context, s Store, key string, def bool) bool {
	value, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func GetInt(ctx context.Context, s Store, key string, def int) int {
	value, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func GetFloat(ctx context.Context, s Store, key string, def float64) float64 {
	value, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
