package hooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetWorkerPort(t *testing.T) {
	assert.Equal(t, DefaultWorkerPort, GetWorkerPort())

	t.Setenv(portEnv, "12345")
	assert.Equal(t, 12345, GetWorkerPort())

	t.Setenv(portEnv, "invalid")
	assert.Equal(t, DefaultWorkerPort, GetWorkerPort())

	t.Setenv(portEnv, "70000")
	assert.Equal(t, DefaultWorkerPort, GetWorkerPort())
}

func TestIsPortInUse(t *testing.T) {
	assert.False(t, IsPortInUse(99999))
}

func TestVersionsCompatible(t *testing.T) {
	tests := []struct {
		v1, v2 string
		want   bool
	}{
		{"dev", "v1.2.3", true},
		{"v1.2.3", "v1.2.3-4-gabc-dirty", true},
		{"1.2.3", "v1.2.3", true},
		{"v1.2.3", "v1.2.4", false},
	}
	for _, tt := range tests {
		t.Run(tt.v1+"_"+tt.v2, func(t *testing.T) {
			assert.Equal(t, tt.want, versionsCompatible(tt.v1, tt.v2))
		})
	}
}

func TestClient_CaptureToolResponse(t *testing.T) {
	var got ToolResponse
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/tool-responses", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"status":"queued"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	err := c.CaptureToolResponse(context.Background(), ToolResponse{
		ToolName:  "search_gmail_messages",
		Arguments: map[string]any{"q": "invoice"},
		Response:  "3 messages",
		SessionID: "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, "search_gmail_messages", got.ToolName)
	assert.Equal(t, "3 messages", got.Response)
	assert.Equal(t, "invoice", got.Arguments["q"])
}

func TestClient_HealthAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = io.WriteString(w, `{"status":"ready","version":"v1.0.0"}`)
		default:
			http.Error(w, "service initializing", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	assert.True(t, c.Healthy(context.Background()))
	assert.Equal(t, "v1.0.0", c.Version(context.Background()))

	err := c.Do(context.Background(), http.MethodGet, "/api/search", nil, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Status)
	assert.Equal(t, "service initializing", se.Body)

	assert.False(t, NewClient("http://127.0.0.1:1").Healthy(context.Background()))
}

type testInput struct {
	BaseInput
	ToolName string `json:"tool_name"`
}

func TestRunHook(t *testing.T) {
	client := NewClient("http://worker")
	connect := func(context.Context) (*Client, error) { return client, nil }

	var seen *HookContext
	var tool string
	err := runHook(context.Background(), strings.NewReader(`{"session_id":"s1","cwd":"/tmp","tool_name":"x"}`), connect,
		func(hc *HookContext, in *testInput) error {
			seen = hc
			tool = in.ToolName
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "s1", seen.SessionID)
	assert.Equal(t, "/tmp", seen.CWD)
	assert.Same(t, client, seen.Client)
	assert.Equal(t, "x", tool)

	err = runHook(context.Background(), strings.NewReader(`not json`), connect,
		func(*HookContext, *testInput) error { return nil })
	assert.ErrorContains(t, err, "decode hook input")

	down := func(context.Context) (*Client, error) { return nil, errors.New("no worker") }
	err = runHook(context.Background(), strings.NewReader(`{}`), down,
		func(*HookContext, *testInput) error { return nil })
	assert.ErrorContains(t, err, "worker unavailable")
}
