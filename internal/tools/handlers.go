package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sindelabs/weaviate-mcp/internal/images"
	"github.com/sindelabs/weaviate-mcp/internal/observability"
	"github.com/sindelabs/weaviate-mcp/internal/weaviate"
)

// searchResponse is the JSON payload every search tool returns. count is
// explicit so agents can detect empty result sets without parsing results.
type searchResponse struct {
	Count   int               `json:"count"`
	Results []weaviate.Object `json:"results"`
}

func (t *Toolset) handleHybridSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection, err := t.collection(req)
	if err != nil {
		return nil, err
	}
	query := req.GetString("query", "")
	imageID := req.GetString("image_id", "")
	if query == "" && imageID == "" {
		return nil, fmt.Errorf("hybrid_search needs a query or an image_id")
	}

	q := weaviate.HybridQuery{
		Collection:       collection,
		Query:            query,
		Alpha:            req.GetFloat("alpha", t.deps.Defaults.Alpha),
		Limit:            req.GetInt("limit", t.deps.Defaults.Limit),
		QueryProperties:  req.GetStringSlice("query_properties", nil),
		ReturnProperties: t.returnProperties(req),
	}
	if q.Alpha < 0 || q.Alpha > 1 {
		return nil, fmt.Errorf("alpha must be within [0, 1], got %.2f", q.Alpha)
	}

	if imageID != "" {
		vec, err := t.embedStoredImage(ctx, imageID)
		if err != nil {
			return nil, err
		}
		q.Vector = vec
	}

	start := time.Now()
	ctx, span := observability.StartQuerySpan(ctx, "hybrid", collection)
	defer span.End()

	objects, err := t.deps.Repo.Hybrid(ctx, q)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordQueryResult(span, len(objects), time.Since(start))
	t.recordSearch(len(objects))

	return jsonResult(searchResponse{Count: len(objects), Results: objects})
}

func (t *Toolset) handleSemanticSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection, err := t.collection(req)
	if err != nil {
		return nil, err
	}
	query := req.GetString("query", "")
	imageID := req.GetString("image_id", "")
	if query == "" && imageID == "" {
		return nil, fmt.Errorf("semantic_search needs a query or an image_id")
	}

	q := weaviate.SemanticQuery{
		Collection:       collection,
		Query:            query,
		Limit:            req.GetInt("limit", t.deps.Defaults.Limit),
		ReturnProperties: t.returnProperties(req),
	}

	if imageID != "" {
		img, err := t.deps.Images.Get(imageID)
		if err != nil {
			return nil, err
		}
		// Prefer a precomputed vector; without an embedder fall back to
		// the cluster's image module.
		if t.deps.Embedder != nil {
			vec, err := t.embedImage(ctx, img)
			if err != nil {
				return nil, err
			}
			q.Vector = vec
			q.Query = ""
		} else {
			q.ImageB64 = base64.StdEncoding.EncodeToString(img.Data)
			q.Query = ""
		}
	}

	start := time.Now()
	ctx, span := observability.StartQuerySpan(ctx, "semantic", collection)
	defer span.End()

	objects, err := t.deps.Repo.Semantic(ctx, q)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordQueryResult(span, len(objects), time.Since(start))
	t.recordSearch(len(objects))

	return jsonResult(searchResponse{Count: len(objects), Results: objects})
}

func (t *Toolset) handleKeywordSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection, err := t.collection(req)
	if err != nil {
		return nil, err
	}
	query, err := req.RequireString("query")
	if err != nil {
		return nil, err
	}

	q := weaviate.KeywordQuery{
		Collection:       collection,
		Query:            query,
		Limit:            req.GetInt("limit", t.deps.Defaults.Limit),
		QueryProperties:  req.GetStringSlice("query_properties", nil),
		ReturnProperties: t.returnProperties(req),
	}

	start := time.Now()
	ctx, span := observability.StartQuerySpan(ctx, "keyword", collection)
	defer span.End()

	objects, err := t.deps.Repo.Keyword(ctx, q)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordQueryResult(span, len(objects), time.Since(start))
	t.recordSearch(len(objects))

	return jsonResult(searchResponse{Count: len(objects), Results: objects})
}

func (t *Toolset) handleUploadImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	imageURL := req.GetString("image_url", "")
	imagePath := req.GetString("image_path", "")
	imageB64 := req.GetString("image_b64", "")

	provided := 0
	for _, v := range []string{imageURL, imagePath, imageB64} {
		if v != "" {
			provided++
		}
	}
	if provided != 1 {
		return nil, fmt.Errorf("upload_image needs exactly one of image_url, image_path or image_b64")
	}

	var (
		data        []byte
		contentType string
		source      string
		err         error
	)
	switch {
	case imageURL != "":
		source = "url"
		data, contentType, err = t.deps.Fetcher.FromURL(ctx, imageURL)
	case imagePath != "":
		source = "path"
		data, contentType, err = t.deps.Fetcher.FromPath(imagePath)
	default:
		source = "b64"
		data, contentType, err = t.deps.Fetcher.FromBase64(imageB64)
	}
	if err != nil {
		return nil, err
	}

	_, span := observability.StartUploadSpan(ctx, source)
	defer span.End()

	img, err := t.deps.Images.Put(data, contentType, source)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	t.deps.Metrics.UploadsTotal.Inc()
	t.deps.Metrics.UploadBytesTotal.Add(float64(len(data)))
	t.deps.Log.Info("image stored", "image_id", img.ID, "source", source, "bytes", len(data))

	return jsonResult(map[string]any{
		"image_id":     img.ID,
		"content_type": img.ContentType,
		"expires_at":   img.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (t *Toolset) handleGetSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection, err := req.RequireString("collection")
	if err != nil {
		return nil, err
	}

	class, err := t.deps.Repo.GetSchema(ctx, collection)
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{
		"collection": collection,
		"config":     class,
	})
}

func (t *Toolset) handleListCollections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	names, err := t.deps.Repo.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResult(names)
}

func (t *Toolset) handleCheckConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ready, err := t.deps.Repo.Ready(ctx)
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]bool{"ready": ready})
}

func (t *Toolset) handleGetConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.deps.ConfigView == nil {
		return nil, fmt.Errorf("config view not wired")
	}
	return jsonResult(t.deps.ConfigView())
}

// collection resolves the collection argument against the configured default.
func (t *Toolset) collection(req mcp.CallToolRequest) (string, error) {
	collection := req.GetString("collection", "")
	if collection == "" {
		collection = t.deps.Defaults.Collection
	}
	if collection == "" {
		return "", fmt.Errorf("collection is required (no default collection configured)")
	}
	return collection, nil
}

func (t *Toolset) returnProperties(req mcp.CallToolRequest) []string {
	props := req.GetStringSlice("return_properties", nil)
	if len(props) == 0 {
		return t.deps.Defaults.ReturnProperties
	}
	return props
}

// embedStoredImage resolves an image_id into a query vector.
func (t *Toolset) embedStoredImage(ctx context.Context, imageID string) ([]float32, error) {
	img, err := t.deps.Images.Get(imageID)
	if err != nil {
		return nil, err
	}
	if t.deps.Embedder == nil {
		return nil, fmt.Errorf("image-augmented hybrid search needs a configured Vertex embedder; use semantic_search for module-side image search")
	}
	return t.embedImage(ctx, img)
}

func (t *Toolset) embedImage(ctx context.Context, img images.Image) ([]float32, error) {
	start := time.Now()
	ctx, span := observability.StartEmbedSpan(ctx, t.deps.Embedder.AuthMode(), len(img.Data))
	defer span.End()

	vec, err := t.deps.Embedder.EmbedImage(ctx, img.Data)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("embedding image %s: %w", img.ID, err)
	}

	t.deps.Metrics.EmbedsTotal.Inc()
	t.deps.Metrics.EmbedDuration.ObserveDuration(start)
	return vec, nil
}

func (t *Toolset) recordSearch(resultCount int) {
	t.deps.Metrics.SearchesTotal.Inc()
	t.deps.Metrics.SearchResultCount.Observe(float64(resultCount))
	if resultCount == 0 {
		t.deps.Metrics.SearchEmptyTotal.Inc()
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
