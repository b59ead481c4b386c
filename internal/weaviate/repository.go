// Package weaviate provides query access to a Weaviate cluster.
package weaviate

import (
	"context"
	"errors"

	"github.com/weaviate/weaviate/entities/models"
)

// ErrCollectionNotFound is returned when a query names an unknown collection.
var ErrCollectionNotFound = errors.New("collection not found")

// Object is a single record returned from a search.
type Object struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	// Score is the BM25 or hybrid relevance score, when the query kind
	// produces one.
	Score *float64 `json:"score,omitempty"`
	// Distance is the vector distance, when the query kind produces one.
	Distance *float64 `json:"distance,omitempty"`
}

// HybridQuery combines BM25 and vector similarity, weighted by Alpha
// (0 = keyword only, 1 = vector only).
type HybridQuery struct {
	Collection string
	Query      string
	Alpha      float64
	Limit      int
	// QueryProperties restricts which properties the BM25 leg searches.
	QueryProperties []string
	// ReturnProperties names the properties to fetch for each result.
	ReturnProperties []string
	// Vector replaces the module-computed query vector; used for
	// image-augmented searches.
	Vector []float32
}

// KeywordQuery is a BM25F search.
type KeywordQuery struct {
	Collection       string
	Query            string
	Limit            int
	QueryProperties  []string
	ReturnProperties []string
}

// SemanticQuery is a vector similarity search. Exactly one of Query,
// ImageB64 or Vector drives it.
type SemanticQuery struct {
	Collection       string
	Query            string
	Limit            int
	ReturnProperties []string
	// ImageB64 searches by image through the cluster's image module.
	ImageB64 string
	// Vector searches by a precomputed embedding.
	Vector []float32
}

// Repository provides read access to a Weaviate cluster.
type Repository interface {
	// Ready reports whether the cluster responds.
	Ready(ctx context.Context) (bool, error)
	// ListCollections returns sorted, deduplicated collection names.
	ListCollections(ctx context.Context) ([]string, error)
	// GetSchema returns the configuration of a single collection.
	GetSchema(ctx context.Context, collection string) (*models.Class, error)
	// Hybrid runs a combined BM25 + vector search.
	Hybrid(ctx context.Context, q HybridQuery) ([]Object, error)
	// Keyword runs a BM25F search.
	Keyword(ctx context.Context, q KeywordQuery) ([]Object, error)
	// Semantic runs a vector similarity search.
	Semantic(ctx context.Context, q SemanticQuery) ([]Object, error)
}
