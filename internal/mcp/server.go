// Package mcp provides the MCP (Model Context Protocol) server for vectorcache.
package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/vectorcache/internal/resources"
	"github.com/thebtf/vectorcache/internal/search"
	"github.com/thebtf/vectorcache/internal/storage"
)

const (
	protocolVersion = "2024-11-05"
	maxLineSize     = 4 << 20
)

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeToolError      = -32000
)

// Server is the MCP server that exposes the cache's tools and resources.
type Server struct {
	stdin     io.Reader
	stdout    io.Writer
	searchMgr *search.Manager
	storage   *storage.Manager
	resources *resources.Handler
	logger    zerolog.Logger
	version   string
}

// NewServer creates a new MCP server speaking on stdin and stdout.
func NewServer(searchMgr *search.Manager, storageMgr *storage.Manager, res *resources.Handler, version string) *Server {
	return &Server{
		searchMgr: searchMgr,
		storage:   storageMgr,
		resources: res,
		version:   version,
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		logger:    log.With().Str("component", "mcp").Logger(),
	}
}

// Request represents a JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	JSONRPC string `json:"jsonrpc"`
}

// Error represents a JSON-RPC error.
type Error struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ToolCallParams represents parameters for tools/call method.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ResourceReadParams represents parameters for resources/read method.
type ResourceReadParams struct {
	URI string `json:"uri"`
}

// Run starts the MCP server loop.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.stdin)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.sendError(nil, codeParseError, "Parse error", err.Error())
			continue
		}

		if resp := s.handleRequest(ctx, &req); resp != nil {
			s.sendResponse(resp)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

// handleRequest dispatches the request to the appropriate handler. It
// returns nil for notifications.
func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return s.result(req, s.initializeResult())
	case "ping":
		return s.result(req, map[string]any{})
	case "tools/list":
		return s.result(req, map[string]any{"tools": toolDefinitions()})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "resources/list":
		return s.result(req, map[string]any{"resources": s.resources.List()})
	case "resources/templates/list":
		return s.result(req, map[string]any{"resourceTemplates": resources.Templates()})
	case "resources/read":
		return s.handleResourcesRead(ctx, req)
	}
	if req.ID == nil {
		return nil
	}
	return s.failure(req, codeMethodNotFound, "Method not found", nil)
}

func (s *Server) initializeResult() map[string]any {
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "vectorcache",
			"version": s.version,
		},
	}
}

// handleToolsCall handles tool invocations.
func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.failure(req, codeInvalidParams, "Invalid params", err.Error())
	}

	result, err := s.callTool(ctx, params.Name, params.Arguments)
	if err != nil {
		return s.failure(req, codeToolError, "Tool error", err.Error())
	}

	output, err := json.Marshal(result)
	if err != nil {
		return s.failure(req, codeToolError, "Tool error", fmt.Sprintf("marshal result: %v", err))
	}
	return s.result(req, map[string]any{
		"content": []map[string]any{
			{
				"type": "text",
				"text": string(output),
			},
		},
	})
}

// handleResourcesRead serves qdrant:// URIs through the resource hook.
func (s *Server) handleResourcesRead(ctx context.Context, req *Request) *Response {
	var params ResourceReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.failure(req, codeInvalidParams, "Invalid params", err.Error())
	}
	resp, ok := s.resources.Intercept(ctx, params.URI)
	if !ok {
		return s.failure(req, codeInvalidParams, "Unsupported resource", params.URI)
	}
	text, err := json.Marshal(resp)
	if err != nil {
		return s.failure(req, codeToolError, "Resource error", err.Error())
	}
	return s.result(req, map[string]any{
		"contents": []map[string]any{
			{
				"uri":      params.URI,
				"mimeType": "application/json",
				"text":     string(text),
			},
		},
	})
}

func (s *Server) result(req *Request, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) failure(req *Request, code int, message string, data any) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Error:   &Error{Code: code, Message: message, Data: data},
	}
}

// sendResponse sends a JSON-RPC response.
func (s *Server) sendResponse(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal response")
		return
	}
	fmt.Fprintln(s.stdout, string(data))
}

// sendError sends a JSON-RPC error response.
func (s *Server) sendError(id any, code int, message string, data any) {
	s.sendResponse(&Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}
