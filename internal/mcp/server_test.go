package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func run(t *testing.T, s *Server, input string) []Response {
	t.Helper()
	var out bytes.Buffer
	if err := s.Serve(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatal(err)
	}
	var resps []Response
	dec := json.NewDecoder(&out)
	for dec.More() {
		var r Response
		if err := dec.Decode(&r); err != nil {
			t.Fatal(err)
		}
		resps = append(resps, r)
	}
	return resps
}

func echoServer() *Server {
	s := NewServer("phpscope", "test", nil)
	s.RegisterTool(Tool{Name: "echo", InputSchema: InputSchema{Type: "object"}},
		func(ctx context.Context, args map[string]any) (*ToolsCallResult, error) {
			msg, ok := args["msg"].(string)
			if !ok {
				return nil, fmt.Errorf("msg is required")
			}
			return JSONResult(map[string]string{"msg": msg})
		})
	return s
}

func TestServe(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		code    int
		isError bool
		text    string
	}{
		{"initialize", `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, 0, false, ""},
		{"ping", `{"jsonrpc":"2.0","id":2,"method":"ping"}`, 0, false, ""},
		{"unknown method", `{"jsonrpc":"2.0","id":3,"method":"nope"}`, MethodNotFound, false, ""},
		{"parse error", `{not json`, ParseError, false, ""},
		{"unknown tool", `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope"}}`, MethodNotFound, false, ""},
		{"tool result", `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"echo","arguments":{"msg":"hi"}}}`, 0, false, `{"msg":"hi"}`},
		{"tool error", `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"echo"}}`, 0, true, "msg is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resps := run(t, echoServer(), tt.input+"\n")
			if len(resps) != 1 {
				t.Fatalf("got %d responses", len(resps))
			}
			r := resps[0]
			if tt.code != 0 {
				if r.Error == nil || r.Error.Code != tt.code {
					t.Errorf("error = %+v, want code %d", r.Error, tt.code)
				}
				return
			}
			if r.Error != nil {
				t.Fatalf("unexpected error %+v", r.Error)
			}
			if tt.text == "" {
				return
			}
			data, _ := json.Marshal(r.Result)
			var res ToolsCallResult
			if err := json.Unmarshal(data, &res); err != nil {
				t.Fatal(err)
			}
			if res.IsError != tt.isError || len(res.Content) != 1 || res.Content[0].Text != tt.text {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestNotificationsGetNoResponse(t *testing.T) {
	input := `{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n" +
		`{"jsonrpc":"2.0","method":"notifications/cancelled"}` + "\n" +
		"\n" +
		`{"jsonrpc":"2.0","id":"a","method":"tools/list"}` // no trailing newline
	resps := run(t, echoServer(), input)
	if len(resps) != 1 || string(resps[0].ID) != `"a"` {
		t.Fatalf("responses = %+v", resps)
	}
	data, _ := json.Marshal(resps[0].Result)
	if !strings.Contains(string(data), `"name":"echo"`) {
		t.Errorf("tools/list = %s", data)
	}
}
