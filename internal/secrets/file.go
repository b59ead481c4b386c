package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileProvider reads secrets from a JSON file. Intended for local development;
// deployments should use env vars or file-mounted secrets instead.
type FileProvider struct {
	path string
	mu   sync.RWMutex
	data map[string]string
}

// NewFileProvider creates a file-based secrets provider.
func NewFileProvider(path string) (*FileProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("file path required")
	}

	p := &FileProvider{
		path: path,
		data: make(map[string]string),
	}
	if err := p.load(); err != nil {
		return nil, fmt.Errorf("load secrets file: %w", err)
	}
	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	val, ok := p.data[key]
	if !ok {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return val, nil
}

func (p *FileProvider) load() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return json.Unmarshal(raw, &p.data)
}
