package mcp

import (
	"net/http"

	"github.com/goccy/go-json"
)

const maxStreamableBody = 4 << 20

// StreamableHandler serves the MCP Streamable HTTP transport: one POST
// endpoint taking a JSON-RPC request and answering inline.
type StreamableHandler struct {
	server *Server
}

// NewStreamableHandler creates a new Streamable HTTP handler.
func NewStreamableHandler(server *Server) *StreamableHandler {
	return &StreamableHandler{server: server}
}

// ServeHTTP handles POST requests with JSON-RPC MCP messages.
func (h *StreamableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.writeCORS(w)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStreamableBody)).Decode(&req); err != nil {
		h.server.logger.Warn().Err(err).Msg("Failed to decode MCP HTTP request")
		writeJSONError(w, nil, codeParseError, "Parse error")
		return
	}

	response := h.server.handleRequest(r.Context(), &req)
	h.writeCORS(w)

	// Notifications get no JSON-RPC response.
	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.server.logger.Error().Err(err).Msg("Failed to encode MCP HTTP response")
	}
}

func (h *StreamableHandler) writeCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
}

func writeJSONError(w http.ResponseWriter, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	})
}
