package tools

import (
	"context"
	"slices"

	"phpscope/internal/mcp"
	"phpscope/internal/search/symbols"
	"phpscope/internal/workspace"
)

// RegisterSymbolTools registers the name-based symbol tools
func RegisterSymbolTools(server *mcp.Server, engine *workspace.Engine) {
	registerWorkspaceSymbols(server, engine)
	registerMembersOf(server, engine)
	registerSignatureFor(server, engine)
	registerHierarchy(server, engine)
	registerReferenceCount(server, engine)
}

func registerWorkspaceSymbols(server *mcp.Server, engine *workspace.Engine) {
	tool := mcp.Tool{
		Name:        "workspace_symbols",
		Description: "Search symbol keys such as App\\User, User::save or User->$name. Uses fuzzy matching.",
		InputSchema: mcp.InputSchema{
			Type: "object",
			Properties: map[string]mcp.Property{
				"query": {
					Type:        "string",
					Description: "Name or partial name to search for",
				},
				"limit": {
					Type:        "number",
					Description: "Maximum number of results (default: 50)",
				},
			},
			Required: []string{"query"},
		},
	}

	handler := func(ctx context.Context, args map[string]any) (*mcp.ToolsCallResult, error) {
		query, err := stringArg(args, "query")
		if err != nil {
			return nil, err
		}
		limit := symbols.DefaultSearchLimit
		if l, ok := args["limit"].(float64); ok && l > 0 {
			limit = int(l)
		}
		results := engine.Search(ctx, query, limit)
		return mcp.JSONResult(map[string]any{"results": results, "count": len(results)})
	}

	server.RegisterTool(tool, handler)
}

func registerMembersOf(server *mcp.Server, engine *workspace.Engine) {
	tool := mcp.Tool{
		Name:        "members_of",
		Description: "List the methods, properties and constants of a class, optionally including inherited ones.",
		InputSchema: mcp.InputSchema{
			Type: "object",
			Properties: map[string]mcp.Property{
				"class": {
					Type:        "string",
					Description: "Short or fully-qualified class name",
				},
				"inherited": {
					Type:        "boolean",
					Description: "Include members from parent classes, interfaces and traits",
				},
			},
			Required: []string{"class"},
		},
	}

	handler := func(ctx context.Context, args map[string]any) (*mcp.ToolsCallResult, error) {
		class, err := stringArg(args, "class")
		if err != nil {
			return nil, err
		}
		if inherited, _ := args["inherited"].(bool); inherited {
			return mcp.JSONResult(map[string]any{"members": engine.InheritedMembers(ctx, class)})
		}
		return mcp.JSONResult(engine.MembersOf(ctx, class))
	}

	server.RegisterTool(tool, handler)
}

func registerSignatureFor(server *mcp.Server, engine *workspace.Engine) {
	tool := mcp.Tool{
		Name:        "signature_for",
		Description: "Show the parameters and return type of a function or method key such as App\\helper or User::save. Unknown names fall back to PHP's built-in functions.",
		InputSchema: mcp.InputSchema{
			Type: "object",
			Properties: map[string]mcp.Property{
				"key": {
					Type:        "string",
					Description: "Function or Class::method key",
				},
			},
			Required: []string{"key"},
		},
	}

	handler := func(ctx context.Context, args map[string]any) (*mcp.ToolsCallResult, error) {
		key, err := stringArg(args, "key")
		if err != nil {
			return nil, err
		}
		return mcp.JSONResult(map[string]any{"signatures": engine.SignatureFor(ctx, key)})
	}

	server.RegisterTool(tool, handler)
}

func registerHierarchy(server *mcp.Server, engine *workspace.Engine) {
	tool := mcp.Tool{
		Name:        "type_hierarchy",
		Description: "Show the direct supertypes and subtypes of a class or interface.",
		InputSchema: mcp.InputSchema{
			Type: "object",
			Properties: map[string]mcp.Property{
				"class": {
					Type:        "string",
					Description: "Short or fully-qualified class name",
				},
			},
			Required: []string{"class"},
		},
	}

	handler := func(ctx context.Context, args map[string]any) (*mcp.ToolsCallResult, error) {
		class, err := stringArg(args, "class")
		if err != nil {
			return nil, err
		}
		return mcp.JSONResult(map[string]any{
			"supertypes": nonNil(engine.Supertypes(ctx, class)),
			"subtypes":   nonNil(engine.Subtypes(ctx, class)),
		})
	}

	server.RegisterTool(tool, handler)
}

func registerReferenceCount(server *mcp.Server, engine *workspace.Engine) {
	tool := mcp.Tool{
		Name:        "reference_count",
		Description: "Count the call sites of a function or method key. Counts are approximate and may lag recent edits briefly.",
		InputSchema: mcp.InputSchema{
			Type: "object",
			Properties: map[string]mcp.Property{
				"key": {
					Type:        "string",
					Description: "Declaration key such as App\\helper or User::save",
				},
			},
			Required: []string{"key"},
		},
	}

	handler := func(ctx context.Context, args map[string]any) (*mcp.ToolsCallResult, error) {
		key, err := stringArg(args, "key")
		if err != nil {
			return nil, err
		}
		locs := engine.ReferenceCount(ctx, key)
		files := make([]string, 0, len(locs))
		for _, l := range locs {
			if !slices.Contains(files, l.File) {
				files = append(files, l.File)
			}
		}
		return mcp.JSONResult(map[string]any{"count": len(locs), "files": files, "locations": nonNil(locs)})
	}

	server.RegisterTool(tool, handler)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
