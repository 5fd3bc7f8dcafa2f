// Package mcp implements the subset of the Model Context Protocol the
// phpscope server needs: initialize, tools/list and tools/call over
// newline-delimited JSON-RPC.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"phpscope/internal/logging"
)

const ProtocolVersion = "2024-11-05"

// ToolHandler is the function signature for handling tool calls
type ToolHandler func(ctx context.Context, args map[string]any) (*ToolsCallResult, error)

// Server handles MCP JSON-RPC communication over a byte stream
type Server struct {
	name     string
	version  string
	tools    []Tool
	handlers map[string]ToolHandler
	logger   *slog.Logger

	writeMu sync.Mutex
}

// NewServer creates a new MCP server
func NewServer(name, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		name:     name,
		version:  version,
		tools:    []Tool{},
		handlers: make(map[string]ToolHandler),
		logger:   logger,
	}
}

// RegisterTool adds a tool to the server
func (s *Server) RegisterTool(tool Tool, handler ToolHandler) {
	s.tools = append(s.tools, tool)
	s.handlers[tool.Name] = handler
}

// Tools returns the registered tools in registration order.
func (s *Server) Tools() []Tool {
	return s.tools
}

// Serve reads requests from r and writes responses to w until r is
// exhausted or ctx ends. Requests are handled one at a time.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && string(line) != "\n" {
			if response := s.handleMessage(ctx, line); response != nil {
				if err := s.writeResponse(w, response); err != nil {
					s.logger.Error("error writing response", "error", err)
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading requests: %w", err)
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Error("parse error", "error", err)
		return &Response{
			JSONRPC: "2.0",
			Error: &Error{
				Code:    ParseError,
				Message: "Parse error",
				Data:    err.Error(),
			},
		}
	}

	s.logger.Debug("received request", "method", req.Method, "id", string(req.ID))

	switch req.Method {
	case "initialize":
		return s.result(&req, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: ServerCapabilities{
				Tools: &ToolsCapability{ListChanged: false},
			},
			ServerInfo: ServerInfo{Name: s.name, Version: s.version},
		})
	case "initialized", "notifications/initialized":
		// Notification, no response needed
		return nil
	case "tools/list":
		return s.result(&req, ToolsListResult{Tools: s.tools})
	case "tools/call":
		return s.handleToolsCall(ctx, &req)
	case "ping":
		return s.result(&req, map[string]any{})
	default:
		if req.IsNotification() {
			return nil
		}
		return s.fail(&req, MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.fail(req, InvalidParams, "Invalid params")
	}

	handler, ok := s.handlers[params.Name]
	if !ok {
		return s.fail(req, MethodNotFound, fmt.Sprintf("Tool not found: %s", params.Name))
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	result, err := handler(ctx, params.Arguments)
	if err != nil {
		s.logger.Debug("tool failed", "tool", params.Name, "error", err)
		return s.result(req, &ToolsCallResult{
			Content: []Content{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
	}
	return s.result(req, result)
}

func (s *Server) result(req *Request, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) fail(req *Request, code int, msg string) *Response {
	return &Response{JSONRPC: "2.0", ID: req.ID, Error: &Error{Code: code, Message: msg}}
}

func (s *Server) writeResponse(w io.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
