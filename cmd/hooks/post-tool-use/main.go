// Package main provides the post-tool-use hook: it forwards each completed
// tool call to the worker for caching.
package main

import (
	"os"
	"strings"

	"github.com/thebtf/vectorcache/pkg/hooks"
)

// Input is the PostToolUse hook payload.
type Input struct {
	hooks.BaseInput
	ToolInput    map[string]any `json:"tool_input"`
	ToolResponse any            `json:"tool_response"`
	ToolName     string         `json:"tool_name"`
	ToolUseID    string         `json:"tool_use_id"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
}

// skipTools are local tools whose output is not worth caching.
var skipTools = map[string]bool{
	"Task":            true,
	"TaskOutput":      true,
	"Glob":            true,
	"LS":              true,
	"Read":            true,
	"Grep":            true,
	"AskUserQuestion": true,
	"EnterPlanMode":   true,
	"ExitPlanMode":    true,
	"TodoWrite":       true,
}

func main() {
	hooks.RunHook("PostToolUse", handlePostToolUse)
}

func handlePostToolUse(ctx *hooks.HookContext, input *Input) error {
	if input.ToolName == "" || skipTools[input.ToolName] {
		return nil
	}
	return ctx.Client.CaptureToolResponse(ctx.Ctx, toolResponse(input))
}

// toolResponse maps the hook payload to the capture request. MCP tool names
// arrive as mcp__<server>__<tool>; the bare tool name is cached.
func toolResponse(input *Input) hooks.ToolResponse {
	name := input.ToolName
	if strings.HasPrefix(name, "mcp__") {
		if i := strings.LastIndex(name, "__"); i > len("mcp_") {
			name = name[i+2:]
		}
	}
	return hooks.ToolResponse{
		ToolName:        name,
		Arguments:       input.ToolInput,
		Response:        input.ToolResponse,
		SessionID:       input.SessionID,
		UserEmail:       os.Getenv("VECTORCACHE_USER_EMAIL"),
		UserID:          os.Getenv("VECTORCACHE_USER_ID"),
		ExecutionTimeMs: input.DurationMs,
	}
}
