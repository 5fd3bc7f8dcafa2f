package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"phpscope/internal/extract"
)

// Command represents a request from the CLI to the daemon
type Command struct {
	Action string `json:"action"` // status, stop, rebuild, define, members, refs, search
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
	Name   string `json:"name,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Response represents a response from the daemon to the CLI
type Response struct {
	Status  string          `json:"status"` // ok, error
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// queryTimeout bounds one IPC request.
const queryTimeout = 30 * time.Second

// IPCServer answers queries against a running daemon over a unix socket.
type IPCServer struct {
	socketPath string
	listener   net.Listener
	daemon     *Daemon
	conns      sync.WaitGroup
}

// NewIPCServer creates a new IPC server
func NewIPCServer(socketPath string, daemon *Daemon) (*IPCServer, error) {
	// Remove stale socket if it exists
	os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on socket: %w", err)
	}
	return &IPCServer{
		socketPath: socketPath,
		listener:   listener,
		daemon:     daemon,
	}, nil
}

// Close shuts down the IPC server and waits for open connections.
func (s *IPCServer) Close() error {
	err := s.listener.Close()
	os.Remove(s.socketPath)
	s.conns.Wait()
	return err
}

// Serve handles incoming connections until the listener closes.
func (s *IPCServer) Serve(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection processes a single client connection
func (s *IPCServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(queryTimeout))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return
	}

	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		s.sendResponse(conn, Response{Status: "error", Message: "invalid command"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	s.sendResponse(conn, s.handleCommand(ctx, cmd))
}

// handleCommand processes a command and returns a response
func (s *IPCServer) handleCommand(ctx context.Context, cmd Command) Response {
	e := s.daemon.Engine()
	switch cmd.Action {
	case "status":
		return ok(s.daemon.Status())

	case "stop":
		s.daemon.Stop()
		return Response{Status: "ok", Message: "daemon stopping"}

	case "rebuild":
		if err := e.Rebuild(ctx); err != nil {
			return Response{Status: "error", Message: err.Error()}
		}
		return Response{Status: "ok", Message: "index rebuilt"}

	case "define":
		if cmd.File == "" {
			return Response{Status: "error", Message: "file required"}
		}
		pos := extract.Position{Line: cmd.Line, Column: cmd.Column}
		return ok(e.ResolveDefinition(ctx, cmd.File, pos))

	case "members":
		if cmd.Name == "" {
			return Response{Status: "error", Message: "name required"}
		}
		return ok(e.MembersOf(ctx, cmd.Name))

	case "refs":
		if cmd.Name == "" {
			return Response{Status: "error", Message: "name required"}
		}
		return ok(e.ReferenceCount(ctx, cmd.Name))

	case "search":
		return ok(e.Search(ctx, cmd.Name, cmd.Limit))

	default:
		return Response{Status: "error", Message: "unknown action"}
	}
}

func ok(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return Response{Status: "error", Message: err.Error()}
	}
	return Response{Status: "ok", Data: data}
}

// sendResponse sends a JSON response to the client
func (s *IPCServer) sendResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	conn.Write(append(data, '\n'))
}

// IPCClient is used by CLI to communicate with daemon
type IPCClient struct {
	socketPath string
}

// NewIPCClient creates a new IPC client
func NewIPCClient(socketPath string) *IPCClient {
	return &IPCClient{socketPath: socketPath}
}

// Send sends a command to the daemon and returns the response
func (c *IPCClient) Send(cmd Command) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(queryTimeout))

	data, _ := json.Marshal(cmd)
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// Query sends cmd and decodes the response data into out.
func (c *IPCClient) Query(cmd Command, out any) error {
	resp, err := c.Send(cmd)
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("%s", resp.Message)
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Data, out)
}

// IsRunning checks if the daemon is running
func (c *IPCClient) IsRunning() bool {
	resp, err := c.Send(Command{Action: "status"})
	return err == nil && resp.Status == "ok"
}

// Stop tells the daemon to shut down
func (c *IPCClient) Stop() error {
	return c.Query(Command{Action: "stop"}, nil)
}

// Status returns the daemon status
func (c *IPCClient) Status() (*Status, error) {
	var status Status
	if err := c.Query(Command{Action: "status"}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
