package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sindelabs/weaviate-mcp/internal/secrets"
)

// loadClean loads config with a fresh secrets cache so t.Setenv changes
// between tests are observed.
func loadClean(t *testing.T) *Config {
	t.Helper()
	secrets.ClearCache()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadClean(t)

	if cfg.Server.Port != 10000 {
		t.Fatalf("expected default port 10000, got %d", cfg.Server.Port)
	}
	if cfg.Server.MCPPath != "/mcp/" {
		t.Fatalf("expected default mcp_path /mcp/, got %s", cfg.Server.MCPPath)
	}
	if cfg.Search.DefaultAlpha != 0.5 {
		t.Fatalf("expected default alpha 0.5, got %v", cfg.Search.DefaultAlpha)
	}
	if cfg.Search.DefaultLimit != 10 {
		t.Fatalf("expected default limit 10, got %d", cfg.Search.DefaultLimit)
	}
	if cfg.Images.TTL != time.Hour {
		t.Fatalf("expected 1h image TTL, got %v", cfg.Images.TTL)
	}
	if len(cfg.Search.ReturnProperties) != 4 {
		t.Fatalf("expected 4 default return properties, got %v", cfg.Search.ReturnProperties)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("MCP_PATH", "/connector/")
	t.Setenv("WEAVIATE_URL", "https://example.weaviate.network")
	t.Setenv("WEAVIATE_API_KEY", "wv-key")
	t.Setenv("DEFAULT_COLLECTION", "Sinde")

	cfg := loadClean(t)

	if cfg.Server.Port != 8080 {
		t.Fatalf("PORT not applied: %d", cfg.Server.Port)
	}
	if cfg.Server.MCPPath != "/connector/" {
		t.Fatalf("MCP_PATH not applied: %s", cfg.Server.MCPPath)
	}
	if cfg.Weaviate.URL != "https://example.weaviate.network" {
		t.Fatalf("WEAVIATE_URL not applied: %s", cfg.Weaviate.URL)
	}
	if cfg.Weaviate.APIKey != "wv-key" {
		t.Fatalf("WEAVIATE_API_KEY not applied: %s", cfg.Weaviate.APIKey)
	}
	if cfg.Search.DefaultCollection != "Sinde" {
		t.Fatalf("DEFAULT_COLLECTION not applied: %s", cfg.Search.DefaultCollection)
	}
}

func TestLoad_ClusterURLWins(t *testing.T) {
	t.Setenv("WEAVIATE_URL", "https://generic.example")
	t.Setenv("WEAVIATE_CLUSTER_URL", "https://cluster.example")

	cfg := loadClean(t)
	if cfg.Weaviate.URL != "https://cluster.example" {
		t.Fatalf("expected cluster URL to win, got %s", cfg.Weaviate.URL)
	}
}

func TestLoad_SecretFileIndirection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weaviate-key")
	if err := os.WriteFile(path, []byte("file-key\n"), 0o600); err != nil {
		t.Fatalf("writing secret file: %v", err)
	}
	t.Setenv("WEAVIATE_API_KEY_FILE", path)

	cfg := loadClean(t)
	if cfg.Weaviate.APIKey != "file-key" {
		t.Fatalf("expected key from file, got %q", cfg.Weaviate.APIKey)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	s := ServerConfig{Port: 10000}
	if got := s.Addr(); got != ":10000" {
		t.Fatalf("expected :10000, got %q", got)
	}

	s.BindAddr = "127.0.0.1:8080"
	if got := s.Addr(); got != "127.0.0.1:8080" {
		t.Fatalf("bind address should win over port, got %q", got)
	}
}

func TestHostScheme(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantHost   string
		wantScheme string
		wantErr    bool
	}{
		{"https url", "https://abc.weaviate.network", "abc.weaviate.network", "https", false},
		{"http url", "http://localhost:8080", "localhost:8080", "http", false},
		{"bare host", "abc.weaviate.network", "abc.weaviate.network", "https", false},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := WeaviateConfig{URL: tt.url}
			host, scheme, err := w.HostScheme()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if host != tt.wantHost || scheme != tt.wantScheme {
				t.Fatalf("got %s/%s, want %s/%s", host, scheme, tt.wantHost, tt.wantScheme)
			}
		})
	}
}

func TestModuleHeaders(t *testing.T) {
	w := WeaviateConfig{OpenAIAPIKey: "oai", CohereAPIKey: "coh"}
	headers := w.ModuleHeaders()
	if headers["X-OpenAI-Api-Key"] != "oai" || headers["X-Cohere-Api-Key"] != "coh" {
		t.Fatalf("unexpected headers: %v", headers)
	}

	if len(WeaviateConfig{}.ModuleHeaders()) != 0 {
		t.Fatal("expected no headers without keys")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Search: SearchConfig{DefaultAlpha: 1.5, DefaultLimit: -1},
		Vertex: VertexConfig{UseOAuth: true},
	}

	warnings := cfg.Validate()
	if len(warnings) != 5 {
		t.Fatalf("expected 5 warnings, got %d: %v", len(warnings), warnings)
	}
}

func TestValidate_Clean(t *testing.T) {
	cfg := &Config{
		Weaviate: WeaviateConfig{URL: "https://x.example", APIKey: "k"},
		Search:   SearchConfig{DefaultAlpha: 0.5, DefaultLimit: 10},
		Images:   ImagesConfig{TTL: time.Hour},
	}
	if warnings := cfg.Validate(); len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}

func TestRedacted(t *testing.T) {
	cfg := &Config{
		Weaviate: WeaviateConfig{URL: "https://x.example", APIKey: "secret"},
		Vertex:   VertexConfig{APIKey: "vx", Location: "us-central1"},
		Server:   ServerConfig{MCPPath: "/mcp/"},
		Images:   ImagesConfig{TTL: time.Hour},
		Search:   SearchConfig{DefaultCollection: "Sinde"},
	}

	view := cfg.Redacted()
	if view["weaviate_url"] != "https://x.example" {
		t.Fatalf("unexpected url: %v", view["weaviate_url"])
	}
	if view["weaviate_api_key_set"] != true {
		t.Fatal("expected weaviate_api_key_set true")
	}
	if view["vertex_configured"] != true {
		t.Fatal("expected vertex_configured true")
	}
	if view["image_ttl_seconds"] != 3600 {
		t.Fatalf("unexpected ttl: %v", view["image_ttl_seconds"])
	}
	for _, v := range view {
		if s, ok := v.(string); ok && s == "secret" {
			t.Fatal("api key leaked into redacted view")
		}
	}
}
