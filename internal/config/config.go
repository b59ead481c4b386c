// Package config loads server configuration from file and environment.
package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sindelabs/weaviate-mcp/internal/secrets"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Weaviate WeaviateConfig `mapstructure:"weaviate"`
	Vertex   VertexConfig   `mapstructure:"vertex"`
	Images   ImagesConfig   `mapstructure:"images"`
	Search   SearchConfig   `mapstructure:"search"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port    int    `mapstructure:"port"`
	MCPPath string `mapstructure:"mcp_path"`

	// BindAddr, when set, wins over Port. The serve --addr flag lands here.
	BindAddr string `mapstructure:"bind_addr"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	if s.BindAddr != "" {
		return s.BindAddr
	}
	return fmt.Sprintf(":%d", s.Port)
}

type WeaviateConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`

	// Module keys forwarded to Weaviate as request headers so that
	// cluster-side vectorizers can call their providers.
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	CohereAPIKey string `mapstructure:"cohere_api_key"`

	Timeout time.Duration `mapstructure:"timeout"`
}

// HostScheme splits the configured URL into host and scheme as the
// Weaviate client wants them. A bare hostname defaults to https.
func (w WeaviateConfig) HostScheme() (host, scheme string, err error) {
	raw := w.URL
	if raw == "" {
		return "", "", fmt.Errorf("weaviate URL not configured (set WEAVIATE_URL or WEAVIATE_CLUSTER_URL)")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing weaviate URL %q: %w", w.URL, err)
	}
	return u.Host, u.Scheme, nil
}

// ModuleHeaders returns the per-request headers for Weaviate vectorizer modules.
func (w WeaviateConfig) ModuleHeaders() map[string]string {
	headers := map[string]string{}
	if w.OpenAIAPIKey != "" {
		headers["X-OpenAI-Api-Key"] = w.OpenAIAPIKey
	}
	if w.CohereAPIKey != "" {
		headers["X-Cohere-Api-Key"] = w.CohereAPIKey
	}
	return headers
}

type VertexConfig struct {
	APIKey      string `mapstructure:"api_key"`
	BearerToken string `mapstructure:"bearer_token"`
	UseOAuth    bool   `mapstructure:"use_oauth"`
	// SAPath is the service account JSON file; CredentialsJSON is the same
	// material inline and wins over the path when both are set.
	SAPath          string `mapstructure:"sa_path"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	ProjectID       string `mapstructure:"project_id"`
	Location        string `mapstructure:"location"`
	Model           string `mapstructure:"model"`
	// RequestsPerMinute caps embedding calls against Vertex quotas.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// Enabled reports whether any Vertex auth mechanism is configured.
func (v VertexConfig) Enabled() bool {
	return v.APIKey != "" || v.BearerToken != "" || v.UseOAuth
}

type ImagesConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
	MaxEntries   int           `mapstructure:"max_entries"`
	AllowPaths   bool          `mapstructure:"allow_paths"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

type SearchConfig struct {
	DefaultCollection string   `mapstructure:"default_collection"`
	DefaultAlpha      float64  `mapstructure:"default_alpha"`
	DefaultLimit      int      `mapstructure:"default_limit"`
	ReturnProperties  []string `mapstructure:"return_properties"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Weaviate.URL == "" {
		warnings = append(warnings, "weaviate URL is empty; set WEAVIATE_URL or WEAVIATE_CLUSTER_URL")
	}
	if c.Weaviate.URL != "" && c.Weaviate.APIKey == "" {
		warnings = append(warnings, "weaviate api_key is empty; cloud clusters reject anonymous access")
	}
	if c.Search.DefaultAlpha < 0 || c.Search.DefaultAlpha > 1 {
		warnings = append(warnings, fmt.Sprintf("search default_alpha %.2f is outside [0.0, 1.0]", c.Search.DefaultAlpha))
	}
	if c.Search.DefaultLimit < 0 {
		warnings = append(warnings, fmt.Sprintf("search default_limit %d is negative", c.Search.DefaultLimit))
	}
	if c.Images.TTL <= 0 {
		warnings = append(warnings, "images ttl must be positive")
	}
	if c.Vertex.UseOAuth && c.Vertex.ProjectID == "" {
		warnings = append(warnings, "vertex use_oauth is set but project_id is empty")
	}

	return warnings
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 10000)
	v.SetDefault("server.mcp_path", "/mcp/")
	v.SetDefault("weaviate.timeout", 30*time.Second)
	v.SetDefault("vertex.location", "us-central1")
	v.SetDefault("vertex.model", "multimodalembedding@001")
	v.SetDefault("vertex.requests_per_minute", 60)
	v.SetDefault("images.ttl", time.Hour)
	v.SetDefault("images.max_bytes", int64(20<<20))
	v.SetDefault("images.max_entries", 256)
	v.SetDefault("images.fetch_timeout", 15*time.Second)
	v.SetDefault("search.default_alpha", 0.5)
	v.SetDefault("search.default_limit", 10)
	v.SetDefault("search.return_properties", []string{"name", "source_pdf", "page_index", "mediaType"})
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// bindEnv wires the connector's published environment variable names. These
// are the names deployments already use, so they bind explicitly rather than
// through a prefix.
func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("server.mcp_path", "MCP_PATH")
	// Cluster URL wins over the generic URL when both are set.
	_ = v.BindEnv("weaviate.url", "WEAVIATE_CLUSTER_URL", "WEAVIATE_URL")
	_ = v.BindEnv("weaviate.api_key", "WEAVIATE_API_KEY")
	_ = v.BindEnv("weaviate.openai_api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("weaviate.cohere_api_key", "COHERE_API_KEY")
	_ = v.BindEnv("vertex.api_key", "VERTEX_APIKEY")
	_ = v.BindEnv("vertex.bearer_token", "VERTEX_BEARER_TOKEN")
	_ = v.BindEnv("vertex.use_oauth", "VERTEX_USE_OAUTH")
	_ = v.BindEnv("vertex.sa_path", "VERTEX_SA_PATH", "GOOGLE_APPLICATION_CREDENTIALS")
	_ = v.BindEnv("vertex.credentials_json", "GOOGLE_APPLICATION_CREDENTIALS_JSON")
	_ = v.BindEnv("vertex.project_id", "VERTEX_PROJECT_ID")
	_ = v.BindEnv("vertex.location", "VERTEX_LOCATION")
	_ = v.BindEnv("search.default_collection", "DEFAULT_COLLECTION")
	_ = v.BindEnv("tracing.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
}

// Load reads configuration from an optional file plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	resolveSecrets(&cfg)

	return &cfg, nil
}

// resolveSecrets routes API keys through the secrets manager so that
// <VAR>_FILE indirection works in container deployments.
func resolveSecrets(cfg *Config) {
	ctx := context.Background()
	cfg.Weaviate.APIKey = secrets.Resolve(ctx, "WEAVIATE_API_KEY", cfg.Weaviate.APIKey)
	cfg.Weaviate.OpenAIAPIKey = secrets.Resolve(ctx, "OPENAI_API_KEY", cfg.Weaviate.OpenAIAPIKey)
	cfg.Weaviate.CohereAPIKey = secrets.Resolve(ctx, "COHERE_API_KEY", cfg.Weaviate.CohereAPIKey)
	cfg.Vertex.APIKey = secrets.Resolve(ctx, "VERTEX_APIKEY", cfg.Vertex.APIKey)
	cfg.Vertex.BearerToken = secrets.Resolve(ctx, "VERTEX_BEARER_TOKEN", cfg.Vertex.BearerToken)
}

// Redacted returns the non-sensitive configuration view served by the
// get_config tool. Key material is reported only as present/absent.
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"weaviate_url":         c.Weaviate.URL,
		"weaviate_api_key_set": c.Weaviate.APIKey != "",
		"openai_api_key_set":   c.Weaviate.OpenAIAPIKey != "",
		"cohere_api_key_set":   c.Weaviate.CohereAPIKey != "",
		"vertex_configured":    c.Vertex.Enabled(),
		"vertex_location":      c.Vertex.Location,
		"default_collection":   c.Search.DefaultCollection,
		"mcp_path":             c.Server.MCPPath,
		"image_ttl_seconds":    int(c.Images.TTL.Seconds()),
		"return_properties":    c.Search.ReturnProperties,
		"default_alpha":        c.Search.DefaultAlpha,
		"default_limit":        c.Search.DefaultLimit,
	}
}
