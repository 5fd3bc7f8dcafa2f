package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"testing"

	"phpscope/internal/mcp"
	"phpscope/internal/workspace"
)

type memSource map[string]string

func (m memSource) ListFiles(context.Context) ([]string, error) {
	return slices.Sorted(maps.Keys(m)), nil
}

func (m memSource) ReadFile(_ context.Context, id string) (string, error) {
	if text, ok := m[id]; ok {
		return text, nil
	}
	return "", errors.New("no such file")
}

func (m memSource) Contains(id string) bool { return strings.HasPrefix(id, "routes/") }

var workspaceFiles = memSource{
	"app/User.php": `<?php
namespace App;

class Model { public function save(): bool { } }

class User extends Model {
    public string $email;
}
`,
	"app/use.php": `<?php
use App\User;

$u = new User();
$u->save();
`,
	"routes/web.php": "<?php\nRoute::get('/')->name('home');\n",
}

func newServer(t *testing.T) *mcp.Server {
	t.Helper()
	engine := workspace.New(workspace.Options{Source: workspaceFiles, Routes: workspaceFiles})
	t.Cleanup(engine.Close)
	server := mcp.NewServer("phpscope", "test", nil)
	RegisterAll(server, engine)
	return server
}

// call invokes one tool and decodes its text result.
func call(t *testing.T, server *mcp.Server, name string, args map[string]any) (map[string]any, bool) {
	t.Helper()
	req, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": "tools/call",
		"params": map[string]any{"name": name, "arguments": args},
	})
	var out bytes.Buffer
	if err := server.Serve(context.Background(), bytes.NewReader(append(req, '\n')), &out); err != nil {
		t.Fatal(err)
	}
	var resp struct {
		Result mcp.ToolsCallResult `json:"result"`
		Error  *mcp.Error          `json:"error"`
	}
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decoding %s: %v", out.String(), err)
	}
	if resp.Error != nil || len(resp.Result.Content) != 1 {
		t.Fatalf("%s: %+v", name, resp)
	}
	if resp.Result.IsError {
		return map[string]any{"error": resp.Result.Content[0].Text}, false
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(resp.Result.Content[0].Text), &body); err != nil {
		t.Fatal(err)
	}
	return body, true
}

func TestToolsRegistered(t *testing.T) {
	var names []string
	for _, tool := range newServer(t).Tools() {
		names = append(names, tool.Name)
	}
	want := []string{"resolve_definition", "signature_at", "type_at", "workspace_symbols", "members_of",
		"signature_for", "type_hierarchy", "reference_count", "route_lookup", "index_stats"}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v", names)
	}
}

func TestTools(t *testing.T) {
	server := newServer(t)

	tests := []struct {
		tool string
		args map[string]any
		want string // substring of the JSON result
	}{
		{"resolve_definition", map[string]any{"file": "app/use.php", "line": 4, "column": 6}, `"file":"app/User.php"`},
		{"signature_at", map[string]any{"file": "app/use.php", "line": 4, "column": 9}, `"label":"save(): bool"`},
		{"type_at", map[string]any{"file": "app/use.php", "line": 4, "column": 1}, `"type":"App\\User"`},
		{"workspace_symbols", map[string]any{"query": "user"}, `"key":"User"`},
		{"members_of", map[string]any{"class": "User"}, `"name":"email"`},
		{"members_of", map[string]any{"class": "User", "inherited": true}, `"name":"save"`},
		{"signature_for", map[string]any{"key": "Model::save"}, `"return_type":"bool"`},
		{"type_hierarchy", map[string]any{"class": "Model"}, `"fqn":"App\\User"`},
		{"reference_count", map[string]any{"key": `App\Model::save`}, `"count":1`},
		{"route_lookup", map[string]any{}, `"routes":["home"]`},
		{"route_lookup", map[string]any{"name": "home"}, `"file":"routes/web.php"`},
		{"index_stats", nil, `"built":true`},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %v", tt.tool, tt.args), func(t *testing.T) {
			body, ok := call(t, server, tt.tool, tt.args)
			if !ok {
				t.Fatalf("tool error: %v", body["error"])
			}
			data, _ := json.Marshal(body)
			if !strings.Contains(string(data), tt.want) {
				t.Errorf("result %s does not contain %s", data, tt.want)
			}
		})
	}
}

func TestToolArgumentErrors(t *testing.T) {
	server := newServer(t)
	tests := []struct {
		tool string
		args map[string]any
	}{
		{"resolve_definition", map[string]any{"line": 1}},
		{"resolve_definition", map[string]any{"file": "a.php"}},
		{"workspace_symbols", map[string]any{}},
		{"members_of", map[string]any{"class": ""}},
		{"reference_count", map[string]any{"key": 3}},
	}
	for _, tt := range tests {
		if body, ok := call(t, server, tt.tool, tt.args); ok {
			t.Errorf("%s(%v) succeeded: %v", tt.tool, tt.args, body)
		}
	}
}
