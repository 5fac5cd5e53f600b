package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thebtf/vectorcache/pkg/hooks"
)

func TestToolResponse(t *testing.T) {
	t.Setenv("VECTORCACHE_USER_EMAIL", "a@b.com")

	tests := []struct {
		name string
		tool string
		want string
	}{
		{"mcp tool", "mcp__google__search_gmail_messages", "search_gmail_messages"},
		{"plain tool", "list_drive_files", "list_drive_files"},
		{"malformed mcp prefix", "mcp__", "mcp__"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &Input{
				BaseInput:    hooks.BaseInput{SessionID: "s1"},
				ToolName:     tt.tool,
				ToolInput:    map[string]any{"q": "x"},
				ToolResponse: "ok",
				DurationMs:   12,
			}
			got := toolResponse(in)
			assert.Equal(t, tt.want, got.ToolName)
			assert.Equal(t, "s1", got.SessionID)
			assert.Equal(t, "a@b.com", got.UserEmail)
			assert.Equal(t, int64(12), got.ExecutionTimeMs)
			assert.Equal(t, "ok", got.Response)
		})
	}
}

func TestHandlePostToolUse_SkipsLocalTools(t *testing.T) {
	// A nil client would panic if the skip list were ignored.
	ctx := &hooks.HookContext{}
	assert.NoError(t, handlePostToolUse(ctx, &Input{ToolName: "Read"}))
	assert.NoError(t, handlePostToolUse(ctx, &Input{}))
}
