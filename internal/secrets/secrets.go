// Package secrets provides unified secret resolution for API keys.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Provider is the interface for secret backends.
type Provider interface {
	// Get retrieves a secret by key.
	Get(ctx context.Context, key string) (string, error)
	// Name returns the provider name.
	Name() string
}

// Manager resolves secrets through a primary provider with an env fallback.
type Manager struct {
	primary  Provider
	fallback Provider
	cache    map[string]string
	cacheMu  sync.RWMutex
	useCache bool
}

// NewManager creates a secrets manager. A nil primary means env-only.
func NewManager(primary Provider) *Manager {
	if primary == nil {
		primary = NewEnvProvider()
	}
	return &Manager{
		primary:  primary,
		fallback: NewEnvProvider(),
		cache:    make(map[string]string),
		useCache: true,
	}
}

// Get retrieves a secret, trying primary then fallback.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	if m.useCache {
		m.cacheMu.RLock()
		if val, ok := m.cache[key]; ok {
			m.cacheMu.RUnlock()
			return val, nil
		}
		m.cacheMu.RUnlock()
	}

	val, err := m.primary.Get(ctx, key)
	if err == nil && val != "" {
		m.cacheSet(key, val)
		return val, nil
	}

	if m.fallback != nil {
		val, err = m.fallback.Get(ctx, key)
		if err == nil && val != "" {
			m.cacheSet(key, val)
			return val, nil
		}
	}

	return "", fmt.Errorf("secret not found: %s", key)
}

// GetOrDefault retrieves a secret or returns a default value.
func (m *Manager) GetOrDefault(ctx context.Context, key, defaultVal string) string {
	val, err := m.Get(ctx, key)
	if err != nil || val == "" {
		return defaultVal
	}
	return val
}

// ClearCache clears the secrets cache.
func (m *Manager) ClearCache() {
	m.cacheMu.Lock()
	m.cache = make(map[string]string)
	m.cacheMu.Unlock()
}

// DisableCache disables caching (useful for testing).
func (m *Manager) DisableCache() {
	m.useCache = false
}

func (m *Manager) cacheSet(key, value string) {
	if m.useCache {
		m.cacheMu.Lock()
		m.cache[key] = value
		m.cacheMu.Unlock()
	}
}

// EnvProvider reads secrets from environment variables, with <KEY>_FILE
// indirection for values mounted as files (docker/k8s secrets).
type EnvProvider struct{}

// NewEnvProvider creates an environment-based secrets provider.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	envKey := strings.ToUpper(key)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	if path := os.Getenv(envKey + "_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading %s_FILE: %w", envKey, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("env var not found: %s", envKey)
}

// Global manager instance
var (
	globalManager *Manager
	managerOnce   sync.Once
)

func global() *Manager {
	managerOnce.Do(func() {
		globalManager = newDefaultManager()
	})
	return globalManager
}

// newDefaultManager picks the primary provider. SECRETS_FILE names a JSON
// file of key/value secrets for local development; env vars keep working as
// the fallback, and values already set in the environment are resolved
// before the manager is consulted at all.
func newDefaultManager() *Manager {
	if path := os.Getenv("SECRETS_FILE"); path != "" {
		fp, err := NewFileProvider(path)
		if err == nil {
			return NewManager(fp)
		}
		slog.Warn("secrets file unusable, falling back to env", "path", path, "error", err)
	}
	return NewManager(nil)
}

// Get retrieves a secret using the global manager.
func Get(ctx context.Context, key string) (string, error) {
	return global().Get(ctx, key)
}

// ClearCache clears the global manager's cache so changed environment
// variables are observed again.
func ClearCache() {
	global().ClearCache()
}

// Resolve returns current when already set, otherwise looks the key up via the
// global manager. Config loading uses this so env and file-mounted secrets
// fill in whatever the config file left empty.
func Resolve(ctx context.Context, key, current string) string {
	if current != "" {
		return current
	}
	return global().GetOrDefault(ctx, key, "")
}
