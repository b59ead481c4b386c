// Package tools defines the MCP tool surface of the connector.
package tools

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sindelabs/weaviate-mcp/internal/images"
	"github.com/sindelabs/weaviate-mcp/internal/observability"
	"github.com/sindelabs/weaviate-mcp/internal/weaviate"
)

// ImageEmbedder turns raw image bytes into a query vector.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
	AuthMode() string
}

// SearchDefaults fill in omitted tool arguments.
type SearchDefaults struct {
	Collection       string
	Alpha            float64
	Limit            int
	ReturnProperties []string
}

// Deps wires the tool handlers to the rest of the server.
type Deps struct {
	Repo     weaviate.Repository
	Images   *images.Store
	Fetcher  *images.Fetcher
	Embedder ImageEmbedder // nil when Vertex is not configured
	Defaults SearchDefaults
	// ConfigView returns the redacted configuration for get_config.
	ConfigView func() map[string]any
	Metrics    *observability.ConnectorMetrics
	Log        *slog.Logger
}

// Toolset holds the registered tools and their handlers.
type Toolset struct {
	deps  Deps
	tools []mcp.Tool
}

// New builds the toolset.
func New(deps Deps) *Toolset {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewConnectorMetrics()
	}
	t := &Toolset{deps: deps}
	t.tools = definitions()
	return t
}

// Definitions returns the tool definitions, in registration order.
func (t *Toolset) Definitions() []mcp.Tool {
	return t.tools
}

// Register adds every tool to the MCP server.
func (t *Toolset) Register(s *server.MCPServer) error {
	handlers := map[string]server.ToolHandlerFunc{
		"hybrid_search":    t.handleHybridSearch,
		"semantic_search":  t.handleSemanticSearch,
		"keyword_search":   t.handleKeywordSearch,
		"upload_image":     t.handleUploadImage,
		"get_schema":       t.handleGetSchema,
		"list_collections": t.handleListCollections,
		"check_connection": t.handleCheckConnection,
		"get_config":       t.handleGetConfig,
	}

	for _, tool := range t.tools {
		handler, ok := handlers[tool.Name]
		if !ok {
			continue
		}
		wrapped, err := t.wrap(tool, handler)
		if err != nil {
			return err
		}
		s.AddTool(tool, wrapped)
	}
	return nil
}

func definitions() []mcp.Tool {
	collectionArg := func(required bool) mcp.ToolOption {
		if required {
			return mcp.WithString("collection", mcp.Required(),
				mcp.Description("Collection (class) to query."))
		}
		return mcp.WithString("collection",
			mcp.Description("Collection (class) to query. Falls back to the server's default collection."))
	}
	limitArg := mcp.WithNumber("limit",
		mcp.Description("Maximum number of results (default 10)."))
	returnPropsArg := mcp.WithArray("return_properties",
		mcp.Description("Properties to return for each result. Defaults to name, source_pdf, page_index, mediaType."),
		mcp.Items(map[string]any{"type": "string"}))

	return []mcp.Tool{
		mcp.NewTool("hybrid_search",
			mcp.WithDescription("Hybrid search (BM25 + vector). alpha weights the blend: 0 = keyword only, 1 = vector only. Pass image_id from upload_image to augment the query with an image embedding."),
			collectionArg(false),
			mcp.WithString("query", mcp.Description("Search text. Required unless image_id is set.")),
			mcp.WithNumber("alpha", mcp.Description("Blend between BM25 (0) and vector (1) scoring. Default 0.5.")),
			limitArg,
			mcp.WithArray("query_properties",
				mcp.Description("Restrict the BM25 leg to these properties."),
				mcp.Items(map[string]any{"type": "string"})),
			mcp.WithString("image_id", mcp.Description("Id of a previously uploaded image (valid for one hour).")),
			returnPropsArg,
		),
		mcp.NewTool("semantic_search",
			mcp.WithDescription("Semantic (vector) search via nearText. Requires a vectorized collection. Pass image_id to search by image instead."),
			collectionArg(false),
			mcp.WithString("query", mcp.Description("Search text. Required unless image_id is set.")),
			limitArg,
			mcp.WithString("image_id", mcp.Description("Id of a previously uploaded image (valid for one hour).")),
			returnPropsArg,
		),
		mcp.NewTool("keyword_search",
			mcp.WithDescription("Keyword search (BM25F) in a collection."),
			collectionArg(false),
			mcp.WithString("query", mcp.Required(), mcp.Description("Search text.")),
			limitArg,
			mcp.WithArray("query_properties",
				mcp.Description("Restrict the search to these properties."),
				mcp.Items(map[string]any{"type": "string"})),
			returnPropsArg,
		),
		mcp.NewTool("upload_image",
			mcp.WithDescription("Store an image for use in image-augmented searches. Provide exactly one of image_url, image_path or image_b64. The returned image_id is valid for one hour."),
			mcp.WithString("image_url", mcp.Description("HTTP(S) URL to download the image from. Preferred over image_b64.")),
			mcp.WithString("image_path", mcp.Description("Path on the server's filesystem. Disabled unless the deployment enables it.")),
			mcp.WithString("image_b64", mcp.Description("Base64-encoded image bytes (raw or data URI). Use only when no URL is available.")),
		),
		mcp.NewTool("get_schema",
			mcp.WithDescription("Get schema/config of a collection."),
			collectionArg(true),
		),
		mcp.NewTool("list_collections",
			mcp.WithDescription("List existing collections (classes)."),
		),
		mcp.NewTool("check_connection",
			mcp.WithDescription("Check if the Weaviate cluster responds."),
		),
		mcp.NewTool("get_config",
			mcp.WithDescription("Show current connector config. Sensitive values are reported as set/unset only."),
		),
	}
}
