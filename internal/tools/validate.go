package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/xeipuuv/gojsonschema"

	"github.com/sindelabs/weaviate-mcp/internal/observability"
)

// wrap adds argument validation, tracing and metrics around a tool handler.
// Malformed arguments and handler failures both surface as tool error
// results, never as protocol errors, so agents can read them.
func (t *Toolset) wrap(tool mcp.Tool, handler server.ToolHandlerFunc) (server.ToolHandlerFunc, error) {
	schemaData, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s input schema: %w", tool.Name, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaData))
	if err != nil {
		return nil, fmt.Errorf("compiling %s input schema: %w", tool.Name, err)
	}

	name := tool.Name
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		ctx, span := observability.StartToolSpan(ctx, name)
		defer span.End()

		t.deps.Metrics.ToolCallsTotal.Inc()
		defer t.deps.Metrics.ToolDuration.ObserveDuration(start)

		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}
		if msg := validateArgs(schema, args); msg != "" {
			t.deps.Metrics.ToolErrorsTotal.Inc()
			observability.RecordError(span, errors.New(msg))
			t.deps.Log.Warn("tool arguments rejected", "tool", name, "reason", msg)
			return mcp.NewToolResultError("invalid arguments: " + msg), nil
		}

		result, err := handler(ctx, req)
		if err != nil {
			t.deps.Metrics.ToolErrorsTotal.Inc()
			observability.RecordError(span, err)
			t.deps.Log.Error("tool failed", "tool", name, "error", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		if result != nil && result.IsError {
			t.deps.Metrics.ToolErrorsTotal.Inc()
		}
		t.deps.Log.Debug("tool completed", "tool", name, "duration", time.Since(start))
		return result, nil
	}, nil
}

func validateArgs(schema *gojsonschema.Schema, args map[string]any) string {
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err.Error()
	}
	if result.Valid() {
		return ""
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}
