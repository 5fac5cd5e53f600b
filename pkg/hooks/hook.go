package hooks

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
)

// HookTimeout bounds a whole hook invocation.
const HookTimeout = 5 * time.Second

// BaseInput holds the fields every hook payload carries.
type BaseInput struct {
	SessionID      string `json:"session_id"`
	TranscriptPath string `json:"transcript_path,omitempty"`
	CWD            string `json:"cwd,omitempty"`
	HookEventName  string `json:"hook_event_name"`
}

// HookContext is passed to hook handlers.
type HookContext struct {
	Ctx       context.Context
	Client    *Client
	SessionID string
	CWD       string
}

// Sessioned is implemented by inputs embedding BaseInput.
type Sessioned interface {
	Base() BaseInput
}

// Base returns the common fields.
func (b BaseInput) Base() BaseInput { return b }

// ParseInput decodes a hook payload.
func ParseInput[T any](r io.Reader) (*T, error) {
	var in T
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode hook input: %w", err)
	}
	return &in, nil
}

// RunHook reads the payload from stdin, ensures a worker is running and calls
// handler. Hooks never block the host tool: failures are reported on stderr
// and the process exits 0.
func RunHook[T Sessioned](name string, handler func(*HookContext, *T) error) {
	ctx, cancel := context.WithTimeout(context.Background(), HookTimeout)
	defer cancel()

	if err := runHook(ctx, os.Stdin, EnsureWorkerRunning, handler); err != nil {
		fmt.Fprintf(os.Stderr, "[vectorcache] %s: %v\n", name, err)
	}
}

func runHook[T Sessioned](ctx context.Context, r io.Reader, connect func(context.Context) (*Client, error), handler func(*HookContext, *T) error) error {
	in, err := ParseInput[T](r)
	if err != nil {
		return err
	}
	client, err := connect(ctx)
	if err != nil {
		return fmt.Errorf("worker unavailable: %w", err)
	}
	base := (*in).Base()
	return handler(&HookContext{Ctx: ctx, Client: client, SessionID: base.SessionID, CWD: base.CWD}, in)
}
