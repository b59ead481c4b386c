package weaviate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	wvt "github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// Options configures the cluster connection.
type Options struct {
	Host   string
	Scheme string
	APIKey string
	// Headers are forwarded on every request (vectorizer module keys).
	Headers map[string]string
	// Timeout bounds each cluster call (default 30s).
	Timeout time.Duration
}

// Client implements Repository against a Weaviate cluster using the
// official Go client.
type Client struct {
	c       *wvt.Client
	timeout time.Duration
}

// NewClient connects to a Weaviate cluster.
func NewClient(opts Options) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("weaviate host required")
	}
	scheme := opts.Scheme
	if scheme == "" {
		scheme = "https"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cfg := wvt.Config{
		Host:    opts.Host,
		Scheme:  scheme,
		Headers: opts.Headers,
	}
	if opts.APIKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: opts.APIKey}
	}

	c, err := wvt.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("weaviate connect: %w", err)
	}
	return &Client{c: c, timeout: timeout}, nil
}

func (r *Client) Ready(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ready, err := r.c.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return false, fmt.Errorf("weaviate ready check: %w", err)
	}
	return ready, nil
}

func (r *Client) ListCollections(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	dump, err := r.c.Schema().Getter().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate schema: %w", err)
	}

	seen := make(map[string]bool, len(dump.Classes))
	names := make([]string, 0, len(dump.Classes))
	for _, class := range dump.Classes {
		if class == nil || seen[class.Class] {
			continue
		}
		seen[class.Class] = true
		names = append(names, class.Class)
	}
	sort.Strings(names)
	return names, nil
}

func (r *Client) GetSchema(ctx context.Context, collection string) (*models.Class, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	class, err := r.c.Schema().ClassGetter().WithClassName(collection).Do(ctx)
	if err != nil {
		var clientErr *fault.WeaviateClientError
		if errors.As(err, &clientErr) && clientErr.StatusCode == 404 {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		return nil, fmt.Errorf("weaviate class %s: %w", collection, err)
	}
	return class, nil
}

func (r *Client) Hybrid(ctx context.Context, q HybridQuery) ([]Object, error) {
	if q.Query == "" && len(q.Vector) == 0 {
		return nil, fmt.Errorf("hybrid search needs a query or a vector")
	}

	hybrid := (&graphql.HybridArgumentBuilder{}).
		WithQuery(q.Query).
		WithAlpha(float32(q.Alpha))
	if len(q.QueryProperties) > 0 {
		hybrid = hybrid.WithProperties(q.QueryProperties)
	}
	if len(q.Vector) > 0 {
		hybrid = hybrid.WithVector(q.Vector)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.c.GraphQL().Get().
		WithClassName(q.Collection).
		WithFields(resultFields(q.ReturnProperties, withScore)...).
		WithLimit(q.Limit).
		WithHybrid(hybrid).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate hybrid search: %w", err)
	}
	return decodeObjects(resp, q.Collection)
}

func (r *Client) Keyword(ctx context.Context, q KeywordQuery) ([]Object, error) {
	if q.Query == "" {
		return nil, fmt.Errorf("keyword search needs a query")
	}

	bm25 := (&graphql.BM25ArgumentBuilder{}).WithQuery(q.Query)
	if len(q.QueryProperties) > 0 {
		bm25 = bm25.WithProperties(q.QueryProperties...)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.c.GraphQL().Get().
		WithClassName(q.Collection).
		WithFields(resultFields(q.ReturnProperties, withScore)...).
		WithLimit(q.Limit).
		WithBM25(bm25).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate keyword search: %w", err)
	}
	return decodeObjects(resp, q.Collection)
}

func (r *Client) Semantic(ctx context.Context, q SemanticQuery) ([]Object, error) {
	builder := r.c.GraphQL().Get().
		WithClassName(q.Collection).
		WithFields(resultFields(q.ReturnProperties, withDistance)...).
		WithLimit(q.Limit)

	switch {
	case len(q.Vector) > 0:
		builder = builder.WithNearVector((&graphql.NearVectorArgumentBuilder{}).WithVector(q.Vector))
	case q.ImageB64 != "":
		builder = builder.WithNearImage((&graphql.NearImageArgumentBuilder{}).WithImage(q.ImageB64))
	case q.Query != "":
		builder = builder.WithNearText((&graphql.NearTextArgumentBuilder{}).WithConcepts([]string{q.Query}))
	default:
		return nil, fmt.Errorf("semantic search needs a query, an image or a vector")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := builder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate semantic search: %w", err)
	}
	return decodeObjects(resp, q.Collection)
}

type additionalKind int

const (
	withScore additionalKind = iota
	withDistance
)

// resultFields builds the GraphQL field selection. The _additional block
// differs per query kind: BM25/hybrid expose score, near* expose distance,
// and asking for the wrong one fails the whole query.
func resultFields(props []string, kind additionalKind) []graphql.Field {
	fields := make([]graphql.Field, 0, len(props)+1)
	for _, p := range props {
		if p == "" {
			continue
		}
		fields = append(fields, graphql.Field{Name: p})
	}

	additional := graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}}
	switch kind {
	case withScore:
		additional.Fields = append(additional.Fields, graphql.Field{Name: "score"})
	case withDistance:
		additional.Fields = append(additional.Fields, graphql.Field{Name: "distance"})
	}
	return append(fields, additional)
}

// decodeObjects flattens a GraphQL Get response into Objects.
func decodeObjects(resp *models.GraphQLResponse, collection string) ([]Object, error) {
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		joined := strings.Join(msgs, "; ")
		if strings.Contains(joined, "Cannot query field") {
			return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		return nil, fmt.Errorf("weaviate graphql: %s", joined)
	}

	get, ok := resp.Data["Get"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("weaviate graphql: response has no Get data")
	}
	rows, ok := get[collection].([]any)
	if !ok {
		// A valid query with zero matches still yields an (empty) list;
		// a missing key means the class name never resolved.
		if get[collection] == nil {
			return []Object{}, nil
		}
		return nil, fmt.Errorf("weaviate graphql: unexpected shape for collection %s", collection)
	}

	objects := make([]Object, 0, len(rows))
	for _, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		obj := Object{Properties: make(map[string]any, len(row))}
		for k, v := range row {
			if k == "_additional" {
				decodeAdditional(v, &obj)
				continue
			}
			obj.Properties[k] = v
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func decodeAdditional(v any, obj *Object) {
	additional, ok := v.(map[string]any)
	if !ok {
		return
	}
	if id, ok := additional["id"].(string); ok {
		obj.ID = id
	}
	// score arrives as a string, distance as a JSON number.
	switch s := additional["score"].(type) {
	case string:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			obj.Score = &f
		}
	case float64:
		obj.Score = &s
	}
	if d, ok := additional["distance"].(float64); ok {
		obj.Distance = &d
	}
}
