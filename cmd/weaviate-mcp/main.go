package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/sindelabs/weaviate-mcp/internal/config"
	"github.com/sindelabs/weaviate-mcp/internal/images"
	"github.com/sindelabs/weaviate-mcp/internal/observability"
	"github.com/sindelabs/weaviate-mcp/internal/server"
	"github.com/sindelabs/weaviate-mcp/internal/tools"
	"github.com/sindelabs/weaviate-mcp/internal/vertex"
	"github.com/sindelabs/weaviate-mcp/internal/weaviate"
)

const (
	serviceName = "weaviate-mcp-http"
	version     = "0.3.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var serveOpts serveOptions

	rootCmd := &cobra.Command{
		Use:   "weaviate-mcp",
		Short: "MCP connector for Weaviate hybrid search",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (optional, env vars win)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over streamable HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, serveOpts)
		},
	}
	serveCmd.Flags().StringVar(&serveOpts.addr, "addr", "", "Listen address, e.g. :8080 (overrides PORT)")
	serveCmd.Flags().StringVar(&serveOpts.mcpPath, "mcp-path", "", "MCP endpoint path (overrides MCP_PATH)")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Verify connectivity to Weaviate and the Vertex embedder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(configPath)
		},
	}

	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the MCP tool definitions as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTools()
		},
	}

	rootCmd.AddCommand(serveCmd, checkCmd, toolsCmd)
	return rootCmd
}

// serveOptions carries serve flag overrides, which win over env and config
// file values.
type serveOptions struct {
	addr    string
	mcpPath string
}

func (o serveOptions) apply(cfg *config.Config) {
	if o.addr != "" {
		cfg.Server.BindAddr = o.addr
	}
	if o.mcpPath != "" {
		cfg.Server.MCPPath = o.mcpPath
	}
}

func runServe(configPath string, opts serveOptions) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	opts.apply(cfg)

	log := buildLogger(cfg.Log)
	slog.SetDefault(log)

	for _, warning := range cfg.Validate() {
		log.Warn("config", "warning", warning)
	}

	ctx := context.Background()

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		Environment:    cfg.Tracing.Environment,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	repo, err := buildRepository(cfg)
	if err != nil {
		return err
	}

	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	authMode := ""
	if embedder != nil {
		authMode = embedder.AuthMode()
		log.Info("vertex embedder configured", "auth_mode", authMode)
	} else {
		log.Info("vertex embedder not configured, image-augmented hybrid search disabled")
	}

	store := images.NewStore(&images.StoreConfig{
		TTL:        cfg.Images.TTL,
		MaxBytes:   cfg.Images.MaxBytes,
		MaxEntries: cfg.Images.MaxEntries,
	})
	fetcher := images.NewFetcher(&images.FetcherConfig{
		MaxBytes:   cfg.Images.MaxBytes,
		AllowPaths: cfg.Images.AllowPaths,
		Timeout:    cfg.Images.FetchTimeout,
	})

	metrics := observability.NewConnectorMetrics()
	// Sampled at scrape time so janitor evictions show up without an upload.
	metrics.ImagesStored.SetFunc(func() float64 { return float64(store.Len()) })

	toolset := tools.New(tools.Deps{
		Repo:     repo,
		Images:   store,
		Fetcher:  fetcher,
		Embedder: asEmbedder(embedder),
		Defaults: tools.SearchDefaults{
			Collection:       cfg.Search.DefaultCollection,
			Alpha:            cfg.Search.DefaultAlpha,
			Limit:            cfg.Search.DefaultLimit,
			ReturnProperties: cfg.Search.ReturnProperties,
		},
		ConfigView: cfg.Redacted,
		Metrics:    metrics,
		Log:        log,
	})

	mcpSrv := mcpserver.NewMCPServer(serviceName, version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	if err := toolset.Register(mcpSrv); err != nil {
		return fmt.Errorf("registering tools: %w", err)
	}

	mcpPath := strings.TrimSuffix(cfg.Server.MCPPath, "/")
	if mcpPath == "" {
		mcpPath = "/mcp"
	}
	streamable := mcpserver.NewStreamableHTTPServer(mcpSrv,
		mcpserver.WithEndpointPath(mcpPath),
		mcpserver.WithStateLess(true),
	)

	health := server.NewHealth(serviceName, version)
	health.RegisterCheck("weaviate", server.WeaviateHealthChecker(repo.Ready))
	health.RegisterCheck("vertex", server.VertexHealthChecker(authMode))
	health.RegisterCheck("images", server.ImageStoreHealthChecker(store.Len))

	srv := server.New(server.Options{
		Addr:    cfg.Server.Addr(),
		MCPPath: cfg.Server.MCPPath,
		Health:  health,
		Upload:  server.NewUploadHandler(store, cfg.Images.MaxBytes, metrics, log),
		Metrics: metrics.Registry.Handler(),
		MCP:     streamable,
		Log:     log,
	})

	shutdown := server.NewShutdownHandler(&server.ShutdownConfig{
		Timeout: 30 * time.Second,
		Log:     log,
	})
	shutdown.RegisterHook("readiness", 0, func(ctx context.Context) error {
		health.SetReady(false)
		return nil
	})
	shutdown.RegisterHook("http-server", 10, srv.Shutdown)
	shutdown.RegisterHook("image-store", 80, func(ctx context.Context) error {
		store.Close()
		return nil
	})
	shutdown.RegisterHook("tracing", 90, tp.Shutdown)
	shutdown.Start()

	health.SetReady(true)
	log.Info("serving",
		"addr", cfg.Server.Addr(),
		"mcp_path", cfg.Server.MCPPath,
		"weaviate_url", cfg.Weaviate.URL,
	)

	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	shutdown.Wait()
	log.Info("shutdown complete")
	return nil
}

func runCheck(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	for _, warning := range cfg.Validate() {
		fmt.Printf("%s %s\n", yellow("warn"), warning)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	repo, err := buildRepository(cfg)
	if err != nil {
		fmt.Printf("%s weaviate: %v\n", red("fail"), err)
		return err
	}

	ready, err := repo.Ready(ctx)
	switch {
	case err != nil:
		fmt.Printf("%s weaviate: %v\n", red("fail"), err)
	case !ready:
		fmt.Printf("%s weaviate: cluster reports not ready\n", red("fail"))
	default:
		fmt.Printf("%s weaviate: ready (%s)\n", green("ok"), cfg.Weaviate.URL)
	}

	collections, err := repo.ListCollections(ctx)
	if err != nil {
		fmt.Printf("%s collections: %v\n", red("fail"), err)
	} else {
		fmt.Printf("%s collections: %d found\n", green("ok"), len(collections))
		for _, name := range collections {
			fmt.Printf("     %s\n", name)
		}
	}

	if cfg.Vertex.Enabled() {
		embedder, err := buildEmbedder(ctx, cfg)
		if err != nil {
			fmt.Printf("%s vertex: %v\n", red("fail"), err)
		} else {
			fmt.Printf("%s vertex: configured (auth %s)\n", green("ok"), embedder.AuthMode())
		}
	} else {
		fmt.Printf("%s vertex: not configured, image embedding disabled\n", yellow("warn"))
	}

	return nil
}

func runTools() error {
	defs := tools.New(tools.Deps{}).Definitions()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(defs)
}

func buildLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func buildRepository(cfg *config.Config) (weaviate.Repository, error) {
	host, scheme, err := cfg.Weaviate.HostScheme()
	if err != nil {
		return nil, fmt.Errorf("weaviate url: %w", err)
	}

	client, err := weaviate.NewClient(weaviate.Options{
		Host:    host,
		Scheme:  scheme,
		APIKey:  cfg.Weaviate.APIKey,
		Headers: cfg.Weaviate.ModuleHeaders(),
		Timeout: cfg.Weaviate.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("weaviate client: %w", err)
	}

	return weaviate.WithRetry(client, nil), nil
}

func buildEmbedder(ctx context.Context, cfg *config.Config) (*vertex.Client, error) {
	if !cfg.Vertex.Enabled() {
		return nil, nil
	}
	client, err := vertex.NewClient(ctx, vertex.Config{
		APIKey:            cfg.Vertex.APIKey,
		BearerToken:       cfg.Vertex.BearerToken,
		UseOAuth:          cfg.Vertex.UseOAuth,
		SAPath:            cfg.Vertex.SAPath,
		CredentialsJSON:   cfg.Vertex.CredentialsJSON,
		ProjectID:         cfg.Vertex.ProjectID,
		Location:          cfg.Vertex.Location,
		Model:             cfg.Vertex.Model,
		RequestsPerMinute: cfg.Vertex.RequestsPerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex client: %w", err)
	}
	return client, nil
}

// asEmbedder converts a possibly nil *vertex.Client into the tools interface
// without producing a non-nil interface holding a nil pointer.
func asEmbedder(c *vertex.Client) tools.ImageEmbedder {
	if c == nil {
		return nil
	}
	return c
}
