package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/sindelabs/weaviate-mcp/internal/images"
	"github.com/sindelabs/weaviate-mcp/internal/weaviate"
)

type fakeRepo struct {
	ready       bool
	readyErr    error
	collections []string
	class       *models.Class
	objects     []weaviate.Object
	err         error

	lastHybrid   *weaviate.HybridQuery
	lastKeyword  *weaviate.KeywordQuery
	lastSemantic *weaviate.SemanticQuery
}

func (f *fakeRepo) Ready(ctx context.Context) (bool, error) { return f.ready, f.readyErr }

func (f *fakeRepo) ListCollections(ctx context.Context) ([]string, error) {
	return f.collections, f.err
}

func (f *fakeRepo) GetSchema(ctx context.Context, collection string) (*models.Class, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.class, nil
}

func (f *fakeRepo) Hybrid(ctx context.Context, q weaviate.HybridQuery) ([]weaviate.Object, error) {
	f.lastHybrid = &q
	return f.objects, f.err
}

func (f *fakeRepo) Keyword(ctx context.Context, q weaviate.KeywordQuery) ([]weaviate.Object, error) {
	f.lastKeyword = &q
	return f.objects, f.err
}

func (f *fakeRepo) Semantic(ctx context.Context, q weaviate.SemanticQuery) ([]weaviate.Object, error) {
	f.lastSemantic = &q
	return f.objects, f.err
}

type fakeEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (f *fakeEmbedder) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	f.calls++
	return f.vector, f.err
}

func (f *fakeEmbedder) AuthMode() string { return "api_key" }

func newTestToolset(t *testing.T, repo *fakeRepo, embedder ImageEmbedder) *Toolset {
	t.Helper()
	store := images.NewStore(&images.StoreConfig{
		TTL:        time.Hour,
		MaxBytes:   1 << 20,
		MaxEntries: 8,
	})
	t.Cleanup(store.Close)

	return New(Deps{
		Repo:     repo,
		Images:   store,
		Fetcher:  images.NewFetcher(&images.FetcherConfig{MaxBytes: 1 << 20}),
		Embedder: embedder,
		Defaults: SearchDefaults{
			Collection:       "Sinde",
			Alpha:            0.5,
			Limit:            10,
			ReturnProperties: []string{"name", "source_pdf", "page_index", "mediaType"},
		},
		ConfigView: func() map[string]any {
			return map[string]any{"weaviate_url": "https://example.weaviate.network"}
		},
		Log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func callRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("expected a result with content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	return tc.Text
}

func decodeSearch(t *testing.T, result *mcp.CallToolResult) searchResponse {
	t.Helper()
	var resp searchResponse
	if err := json.Unmarshal([]byte(resultText(t, result)), &resp); err != nil {
		t.Fatalf("decoding search response: %v", err)
	}
	return resp
}

func TestHybridSearch_Defaults(t *testing.T) {
	repo := &fakeRepo{objects: []weaviate.Object{
		{Properties: map[string]any{"name": "diagram"}},
	}}
	ts := newTestToolset(t, repo, nil)

	result, err := ts.handleHybridSearch(context.Background(), callRequest(map[string]any{
		"query": "installation steps",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q := repo.lastHybrid
	if q == nil {
		t.Fatal("hybrid query never reached the repository")
	}
	if q.Collection != "Sinde" {
		t.Fatalf("expected default collection, got %q", q.Collection)
	}
	if q.Alpha != 0.5 {
		t.Fatalf("expected default alpha 0.5, got %v", q.Alpha)
	}
	if q.Limit != 10 {
		t.Fatalf("expected default limit 10, got %d", q.Limit)
	}
	if len(q.ReturnProperties) != 4 || q.ReturnProperties[0] != "name" {
		t.Fatalf("unexpected return properties: %v", q.ReturnProperties)
	}

	resp := decodeSearch(t, result)
	if resp.Count != 1 || len(resp.Results) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHybridSearch_ExplicitArguments(t *testing.T) {
	repo := &fakeRepo{}
	ts := newTestToolset(t, repo, nil)

	_, err := ts.handleHybridSearch(context.Background(), callRequest(map[string]any{
		"collection":        "Manuals",
		"query":             "wiring",
		"alpha":             0.9,
		"limit":             3,
		"query_properties":  []any{"title"},
		"return_properties": []any{"title", "page_index"},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q := repo.lastHybrid
	if q.Collection != "Manuals" || q.Alpha != 0.9 || q.Limit != 3 {
		t.Fatalf("arguments not forwarded: %+v", q)
	}
	if len(q.QueryProperties) != 1 || q.QueryProperties[0] != "title" {
		t.Fatalf("query_properties not forwarded: %v", q.QueryProperties)
	}
	if len(q.ReturnProperties) != 2 {
		t.Fatalf("return_properties not forwarded: %v", q.ReturnProperties)
	}
}

func TestHybridSearch_AlphaOutOfRange(t *testing.T) {
	ts := newTestToolset(t, &fakeRepo{}, nil)

	_, err := ts.handleHybridSearch(context.Background(), callRequest(map[string]any{
		"query": "x",
		"alpha": 1.5,
	}))
	if err == nil || !strings.Contains(err.Error(), "alpha") {
		t.Fatalf("expected alpha range error, got %v", err)
	}
}

func TestHybridSearch_NeedsQueryOrImage(t *testing.T) {
	ts := newTestToolset(t, &fakeRepo{}, nil)

	_, err := ts.handleHybridSearch(context.Background(), callRequest(nil))
	if err == nil {
		t.Fatal("expected an error for missing query and image_id")
	}
}

func TestHybridSearch_ImageNeedsEmbedder(t *testing.T) {
	ts := newTestToolset(t, &fakeRepo{}, nil)

	img, err := ts.deps.Images.Put([]byte("fake-image"), "image/png", "test")
	if err != nil {
		t.Fatalf("storing image: %v", err)
	}

	_, err = ts.handleHybridSearch(context.Background(), callRequest(map[string]any{
		"query":    "similar pages",
		"image_id": img.ID,
	}))
	if err == nil || !strings.Contains(err.Error(), "embedder") {
		t.Fatalf("expected embedder error, got %v", err)
	}
}

func TestHybridSearch_ImageVector(t *testing.T) {
	repo := &fakeRepo{}
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}}
	ts := newTestToolset(t, repo, embedder)

	img, err := ts.deps.Images.Put([]byte("fake-image"), "image/png", "test")
	if err != nil {
		t.Fatalf("storing image: %v", err)
	}

	_, err = ts.handleHybridSearch(context.Background(), callRequest(map[string]any{
		"query":    "similar pages",
		"image_id": img.ID,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if embedder.calls != 1 {
		t.Fatalf("expected one embed call, got %d", embedder.calls)
	}
	if len(repo.lastHybrid.Vector) != 3 {
		t.Fatalf("vector not forwarded: %v", repo.lastHybrid.Vector)
	}
}

func TestHybridSearch_UnknownImage(t *testing.T) {
	ts := newTestToolset(t, &fakeRepo{}, &fakeEmbedder{})

	_, err := ts.handleHybridSearch(context.Background(), callRequest(map[string]any{
		"image_id": "nope",
	}))
	if !errors.Is(err, images.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSemanticSearch_ImageFallsBackToNearImage(t *testing.T) {
	repo := &fakeRepo{}
	ts := newTestToolset(t, repo, nil)

	raw := []byte("fake-image-bytes")
	img, err := ts.deps.Images.Put(raw, "image/png", "test")
	if err != nil {
		t.Fatalf("storing image: %v", err)
	}

	_, err = ts.handleSemanticSearch(context.Background(), callRequest(map[string]any{
		"image_id": img.ID,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	q := repo.lastSemantic
	if q.ImageB64 != base64.StdEncoding.EncodeToString(raw) {
		t.Fatal("expected base64 image payload for nearImage")
	}
	if q.Query != "" {
		t.Fatalf("query should be cleared for image search, got %q", q.Query)
	}
}

func TestSemanticSearch_ImageUsesEmbedderWhenPresent(t *testing.T) {
	repo := &fakeRepo{}
	embedder := &fakeEmbedder{vector: []float32{1, 2}}
	ts := newTestToolset(t, repo, embedder)

	img, err := ts.deps.Images.Put([]byte("fake"), "image/png", "test")
	if err != nil {
		t.Fatalf("storing image: %v", err)
	}

	_, err = ts.handleSemanticSearch(context.Background(), callRequest(map[string]any{
		"image_id": img.ID,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.lastSemantic.Vector) != 2 || repo.lastSemantic.ImageB64 != "" {
		t.Fatalf("expected vectorized query, got %+v", repo.lastSemantic)
	}
}

func TestKeywordSearch_RequiresQuery(t *testing.T) {
	ts := newTestToolset(t, &fakeRepo{}, nil)

	_, err := ts.handleKeywordSearch(context.Background(), callRequest(map[string]any{
		"collection": "Sinde",
	}))
	if err == nil {
		t.Fatal("expected an error for missing query")
	}
}

func TestKeywordSearch_Forwarding(t *testing.T) {
	repo := &fakeRepo{objects: []weaviate.Object{}}
	ts := newTestToolset(t, repo, nil)

	result, err := ts.handleKeywordSearch(context.Background(), callRequest(map[string]any{
		"query": "voltage",
		"limit": 5,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lastKeyword.Query != "voltage" || repo.lastKeyword.Limit != 5 {
		t.Fatalf("arguments not forwarded: %+v", repo.lastKeyword)
	}

	resp := decodeSearch(t, result)
	if resp.Count != 0 {
		t.Fatalf("expected empty result, got %+v", resp)
	}
}

func TestUploadImage_Base64(t *testing.T) {
	ts := newTestToolset(t, &fakeRepo{}, nil)

	raw := []byte("\x89PNG\r\n\x1a\nrest")
	result, err := ts.handleUploadImage(context.Background(), callRequest(map[string]any{
		"image_b64": base64.StdEncoding.EncodeToString(raw),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp map[string]any
	if err := json.Unmarshal([]byte(resultText(t, result)), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	id, _ := resp["image_id"].(string)
	if id == "" {
		t.Fatal("expected an image_id")
	}
	if _, err := ts.deps.Images.Get(id); err != nil {
		t.Fatalf("uploaded image not retrievable: %v", err)
	}
}

func TestUploadImage_ExactlyOneSource(t *testing.T) {
	ts := newTestToolset(t, &fakeRepo{}, nil)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"none", map[string]any{}},
		{"two", map[string]any{"image_url": "https://x/y.png", "image_b64": "aGk="}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.handleUploadImage(context.Background(), callRequest(tt.args))
			if err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestGetSchema(t *testing.T) {
	repo := &fakeRepo{class: &models.Class{Class: "Sinde"}}
	ts := newTestToolset(t, repo, nil)

	result, err := ts.handleGetSchema(context.Background(), callRequest(map[string]any{
		"collection": "Sinde",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := resultText(t, result)
	if !strings.Contains(text, `"Sinde"`) {
		t.Fatalf("schema missing from result: %s", text)
	}
}

func TestGetSchema_RequiresCollection(t *testing.T) {
	ts := newTestToolset(t, &fakeRepo{}, nil)

	_, err := ts.handleGetSchema(context.Background(), callRequest(nil))
	if err == nil {
		t.Fatal("expected an error for missing collection")
	}
}

func TestListCollections(t *testing.T) {
	repo := &fakeRepo{collections: []string{"Manuals", "Sinde"}}
	ts := newTestToolset(t, repo, nil)

	result, err := ts.handleListCollections(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var names []string
	if err := json.Unmarshal([]byte(resultText(t, result)), &names); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(names) != 2 || names[1] != "Sinde" {
		t.Fatalf("unexpected collections: %v", names)
	}
}

func TestCheckConnection(t *testing.T) {
	ts := newTestToolset(t, &fakeRepo{ready: true}, nil)

	result, err := ts.handleCheckConnection(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resultText(t, result), `"ready":true`) {
		t.Fatalf("unexpected result: %s", resultText(t, result))
	}
}

func TestGetConfig(t *testing.T) {
	ts := newTestToolset(t, &fakeRepo{}, nil)

	result, err := ts.handleGetConfig(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(resultText(t, result), "weaviate_url") {
		t.Fatalf("unexpected result: %s", resultText(t, result))
	}
}

func TestWrap_RejectsWrongArgumentTypes(t *testing.T) {
	ts := newTestToolset(t, &fakeRepo{}, nil)

	var hybrid mcp.Tool
	for _, tool := range ts.Definitions() {
		if tool.Name == "hybrid_search" {
			hybrid = tool
		}
	}

	wrapped, err := ts.wrap(hybrid, ts.handleHybridSearch)
	if err != nil {
		t.Fatalf("wrapping: %v", err)
	}

	result, err := wrapped(context.Background(), callRequest(map[string]any{
		"query": "x",
		"alpha": "not-a-number",
	}))
	if err != nil {
		t.Fatalf("validation failures must not be protocol errors: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result")
	}
	if !strings.Contains(resultText(t, result), "invalid arguments") {
		t.Fatalf("unexpected message: %s", resultText(t, result))
	}
}

func TestWrap_HandlerErrorBecomesToolError(t *testing.T) {
	repo := &fakeRepo{err: errors.New("weaviate unreachable")}
	ts := newTestToolset(t, repo, nil)

	var listTool mcp.Tool
	for _, tool := range ts.Definitions() {
		if tool.Name == "list_collections" {
			listTool = tool
		}
	}

	wrapped, err := ts.wrap(listTool, ts.handleListCollections)
	if err != nil {
		t.Fatalf("wrapping: %v", err)
	}

	result, err := wrapped(context.Background(), callRequest(nil))
	if err != nil {
		t.Fatalf("handler failures must not be protocol errors: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result")
	}
	if ts.deps.Metrics.ToolErrorsTotal.Value() != 1 {
		t.Fatalf("expected one tool error, got %v", ts.deps.Metrics.ToolErrorsTotal.Value())
	}
}

func TestDefinitions_CoverAllTools(t *testing.T) {
	ts := newTestToolset(t, &fakeRepo{}, nil)

	want := []string{
		"hybrid_search", "semantic_search", "keyword_search", "upload_image",
		"get_schema", "list_collections", "check_connection", "get_config",
	}
	defs := ts.Definitions()
	if len(defs) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(defs))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Fatalf("tool %d: expected %s, got %s", i, name, defs[i].Name)
		}
	}
}
