package weaviate

import (
	"errors"
	"testing"

	"github.com/weaviate/weaviate/entities/models"
)

func TestResultFields(t *testing.T) {
	fields := resultFields([]string{"name", "", "page_index"}, withScore)
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(fields))
	}
	if fields[0].Name != "name" || fields[1].Name != "page_index" {
		t.Fatalf("unexpected property fields: %+v", fields)
	}

	additional := fields[2]
	if additional.Name != "_additional" {
		t.Fatalf("expected _additional last, got %s", additional.Name)
	}
	if len(additional.Fields) != 2 || additional.Fields[1].Name != "score" {
		t.Fatalf("expected id+score, got %+v", additional.Fields)
	}

	fields = resultFields(nil, withDistance)
	if len(fields) != 1 || fields[0].Fields[1].Name != "distance" {
		t.Fatalf("expected distance for near queries, got %+v", fields)
	}
}

func graphQLResponse(collection string, rows []any) *models.GraphQLResponse {
	return &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{collection: rows},
		},
	}
}

func TestDecodeObjects(t *testing.T) {
	resp := graphQLResponse("Sinde", []any{
		map[string]any{
			"name":       "wiring diagram",
			"page_index": float64(12),
			"_additional": map[string]any{
				"id":    "abc-123",
				"score": "0.87",
			},
		},
	})

	objects, err := decodeObjects(resp, "Sinde")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(objects))
	}

	obj := objects[0]
	if obj.ID != "abc-123" {
		t.Fatalf("expected id abc-123, got %q", obj.ID)
	}
	if obj.Score == nil || *obj.Score != 0.87 {
		t.Fatalf("score not parsed: %v", obj.Score)
	}
	if obj.Properties["name"] != "wiring diagram" {
		t.Fatalf("properties not kept: %+v", obj.Properties)
	}
	if _, ok := obj.Properties["_additional"]; ok {
		t.Fatal("_additional must not leak into properties")
	}
}

func TestDecodeObjects_DistanceAsNumber(t *testing.T) {
	resp := graphQLResponse("Sinde", []any{
		map[string]any{
			"_additional": map[string]any{"id": "x", "distance": 0.21},
		},
	})

	objects, err := decodeObjects(resp, "Sinde")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if objects[0].Distance == nil || *objects[0].Distance != 0.21 {
		t.Fatalf("distance not parsed: %v", objects[0].Distance)
	}
	if objects[0].Score != nil {
		t.Fatal("score should stay nil for near queries")
	}
}

func TestDecodeObjects_EmptyResult(t *testing.T) {
	resp := graphQLResponse("Sinde", []any{})

	objects, err := decodeObjects(resp, "Sinde")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(objects) != 0 {
		t.Fatalf("expected empty slice, got %d objects", len(objects))
	}
}

func TestDecodeObjects_MissingCollectionKey(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]any{},
		},
	}

	objects, err := decodeObjects(resp, "Sinde")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(objects) != 0 {
		t.Fatalf("expected empty slice, got %d", len(objects))
	}
}

func TestDecodeObjects_UnknownFieldError(t *testing.T) {
	resp := &models.GraphQLResponse{
		Errors: []*models.GraphQLError{
			{Message: `Cannot query field "Nope" on type "GetObjectsObj"`},
		},
	}

	_, err := decodeObjects(resp, "Nope")
	if !errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestDecodeObjects_GraphQLError(t *testing.T) {
	resp := &models.GraphQLResponse{
		Errors: []*models.GraphQLError{
			{Message: "vectorizer module not configured"},
		},
	}

	_, err := decodeObjects(resp, "Sinde")
	if err == nil || errors.Is(err, ErrCollectionNotFound) {
		t.Fatalf("expected a generic graphql error, got %v", err)
	}
}

func TestNewClient_RequiresHost(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatal("expected an error for missing host")
	}
}
