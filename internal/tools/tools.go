// Package tools exposes the workspace engine as MCP tools. Positions are
// zero-based lines and byte columns, the same as in every result.
package tools

import (
	"context"
	"fmt"

	"phpscope/internal/extract"
	"phpscope/internal/mcp"
	"phpscope/internal/workspace"
)

// RegisterAll registers all available tools on the MCP server
func RegisterAll(server *mcp.Server, engine *workspace.Engine) {
	registerResolveDefinition(server, engine)
	registerSignatureAt(server, engine)
	registerTypeAt(server, engine)
	RegisterSymbolTools(server, engine)
	registerRouteLookup(server, engine)
	registerIndexStats(server, engine)
}

var positionProperties = map[string]mcp.Property{
	"file": {
		Type:        "string",
		Description: "Workspace-relative path of the PHP file",
	},
	"line": {
		Type:        "number",
		Description: "Zero-based line of the cursor",
	},
	"column": {
		Type:        "number",
		Description: "Zero-based byte column of the cursor",
	},
}

func position(args map[string]any) (string, extract.Position, error) {
	file, ok := args["file"].(string)
	if !ok || file == "" {
		return "", extract.Position{}, fmt.Errorf("file is required")
	}
	line, ok := args["line"].(float64)
	if !ok || line < 0 {
		return "", extract.Position{}, fmt.Errorf("line is required")
	}
	col, _ := args["column"].(float64)
	if col < 0 {
		return "", extract.Position{}, fmt.Errorf("column must not be negative")
	}
	return file, extract.Position{Line: int(line), Column: int(col)}, nil
}

func stringArg(args map[string]any, name string) (string, error) {
	s, ok := args[name].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return s, nil
}

func registerResolveDefinition(server *mcp.Server, engine *workspace.Engine) {
	tool := mcp.Tool{
		Name:        "resolve_definition",
		Description: "Find where the PHP name under a cursor is declared: classes, functions, constants, methods, properties and route names.",
		InputSchema: mcp.InputSchema{
			Type:       "object",
			Properties: positionProperties,
			Required:   []string{"file", "line", "column"},
		},
	}

	handler := func(ctx context.Context, args map[string]any) (*mcp.ToolsCallResult, error) {
		file, pos, err := position(args)
		if err != nil {
			return nil, err
		}
		return mcp.JSONResult(map[string]any{
			"locations": engine.ResolveDefinition(ctx, file, pos),
		})
	}

	server.RegisterTool(tool, handler)
}

func registerSignatureAt(server *mcp.Server, engine *workspace.Engine) {
	tool := mcp.Tool{
		Name:        "signature_at",
		Description: "Show the signature of the call surrounding a cursor and which argument the cursor is in.",
		InputSchema: mcp.InputSchema{
			Type:       "object",
			Properties: positionProperties,
			Required:   []string{"file", "line", "column"},
		},
	}

	handler := func(ctx context.Context, args map[string]any) (*mcp.ToolsCallResult, error) {
		file, pos, err := position(args)
		if err != nil {
			return nil, err
		}
		help, ok := engine.SignatureAt(ctx, file, pos)
		if !ok {
			return mcp.JSONResult(map[string]any{"found": false})
		}
		return mcp.JSONResult(map[string]any{"found": true, "signatures": help.Signatures, "active_param": help.ActiveParam})
	}

	server.RegisterTool(tool, handler)
}

func registerTypeAt(server *mcp.Server, engine *workspace.Engine) {
	tool := mcp.Tool{
		Name:        "type_at",
		Description: "Infer the class of the PHP variable under a cursor.",
		InputSchema: mcp.InputSchema{
			Type:       "object",
			Properties: positionProperties,
			Required:   []string{"file", "line", "column"},
		},
	}

	handler := func(ctx context.Context, args map[string]any) (*mcp.ToolsCallResult, error) {
		file, pos, err := position(args)
		if err != nil {
			return nil, err
		}
		typ, ok := engine.TypeAt(ctx, file, pos)
		return mcp.JSONResult(map[string]any{"found": ok, "type": typ})
	}

	server.RegisterTool(tool, handler)
}

func registerRouteLookup(server *mcp.Server, engine *workspace.Engine) {
	tool := mcp.Tool{
		Name:        "route_lookup",
		Description: "Find where a named route is declared. Without a name, list every route name.",
		InputSchema: mcp.InputSchema{
			Type: "object",
			Properties: map[string]mcp.Property{
				"name": {
					Type:        "string",
					Description: "Route name, as passed to ->name() or route()",
				},
			},
		},
	}

	handler := func(ctx context.Context, args map[string]any) (*mcp.ToolsCallResult, error) {
		name, _ := args["name"].(string)
		if name == "" {
			return mcp.JSONResult(map[string]any{"routes": engine.RouteNames(ctx)})
		}
		return mcp.JSONResult(map[string]any{"locations": engine.Routes(ctx, name)})
	}

	server.RegisterTool(tool, handler)
}

func registerIndexStats(server *mcp.Server, engine *workspace.Engine) {
	tool := mcp.Tool{
		Name:        "index_stats",
		Description: "Report index sizes, versions and pending updates.",
		InputSchema: mcp.InputSchema{Type: "object"},
	}

	handler := func(ctx context.Context, args map[string]any) (*mcp.ToolsCallResult, error) {
		return mcp.JSONResult(engine.Stats())
	}

	server.RegisterTool(tool, handler)
}
