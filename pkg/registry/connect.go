package registry

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/germanamz/mcpbind/pkg/eventloop"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Separator divides an alias from a backend tool name in a qualified tool
// name. Aliases are rejected at registration if they contain it.
const Separator = "::"

// ErrConnectionFailed wraps every handshake, spawn, and connect failure
// surfaced by EnsureConnected.
var ErrConnectionFailed = errors.New("registry: connection failed")

// clientImpl identifies the binding to servers during the initialize handshake.
var clientImpl = &mcp.Implementation{
	Name:    "mcpbind",
	Version: "0.1.0",
}

// EnsureConnected returns the descriptor's live session, establishing it first
// if needed. The handshake runs on the loop; the calling goroutine blocks
// until the descriptor reaches ready or failed, bounded by timeout. Callers
// racing on the same descriptor serialize on its mutex, so a successful
// attempt is performed once and observed by all of them. A descriptor left in
// failed state is retried on the next call.
func (d *Descriptor) EnsureConnected(loop *eventloop.Loop, timeout time.Duration) (*mcp.ClientSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateReady {
		return d.session, nil
	}

	d.state = StateConnecting

	res, err := loop.RunAndWait(func(ctx context.Context) (any, error) {
		transport, err := d.transport()
		if err != nil {
			return nil, err
		}

		// Connect performs the initialize handshake before returning. On
		// failure the SDK tears the transport down, including any spawned
		// process, so there is nothing to roll back here.
		client := mcp.NewClient(clientImpl, nil)
		return client.Connect(ctx, transport, nil)
	}, timeout)
	if err != nil {
		d.state = StateFailed
		d.session = nil
		return nil, fmt.Errorf("%w: %q: %w", ErrConnectionFailed, d.Alias, err)
	}

	d.session = res.(*mcp.ClientSession)
	d.state = StateReady

	return d.session, nil
}

// transport builds a fresh transport for one connection attempt.
func (d *Descriptor) transport() (mcp.Transport, error) {
	if d.Dial != nil {
		return d.Dial()
	}

	switch d.Kind {
	case TransportSubprocess:
		argv := append(append([]string{}, d.Command[1:]...), d.Args...)
		cmd := exec.Command(d.Command[0], argv...) //nolint:gosec // command is caller-provided by design
		cmd.Dir = d.Cwd
		return &mcp.CommandTransport{Command: cmd}, nil
	case TransportNetwork:
		return &mcp.SSEClientTransport{Endpoint: d.BaseURL}, nil
	default:
		return nil, fmt.Errorf("registry: server %q: unknown transport kind %d", d.Alias, int(d.Kind))
	}
}

// CloseSession closes the descriptor's session, if any, on the loop. Closing a
// subprocess session also terminates the child process; the SDK escalates
// through stdin close, SIGTERM and SIGKILL. The descriptor returns to
// uninitialized so a later call may reconnect.
func (d *Descriptor) CloseSession(loop *eventloop.Loop, timeout time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session == nil {
		return nil
	}

	session := d.session
	d.session = nil
	d.state = StateUninitialized

	_, err := loop.RunAndWait(func(context.Context) (any, error) {
		return nil, session.Close()
	}, timeout)
	if err != nil {
		return fmt.Errorf("registry: close %q: %w", d.Alias, err)
	}

	return nil
}
