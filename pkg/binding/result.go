package binding

import (
	"errors"
	"fmt"

	"github.com/germanamz/mcpbind/pkg/catalog"
	"github.com/germanamz/mcpbind/pkg/eventloop"
	"github.com/germanamz/mcpbind/pkg/registry"
)

// ErrUnknownServer is returned when a qualified tool name references an alias
// that is not registered.
var ErrUnknownServer = errors.New("binding: unknown server alias")

// RemoteToolError is a failure reported by the backend tool itself, as opposed
// to a transport or dispatch failure.
type RemoteToolError struct {
	Tool    string
	Message string
}

func (e *RemoteToolError) Error() string {
	return fmt.Sprintf("binding: tool %s failed: %s", e.Tool, e.Message)
}

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Coarse error codes carried by error results.
const (
	CodeInvalidToolName  = "invalid_tool_name"
	CodeUnknownServer    = "unknown_server"
	CodeConnectionFailed = "connection_failed"
	CodeTimeout          = "timeout"
	CodeRemoteToolError  = "remote_tool_error"
	CodeInternal         = "internal_error"
)

// Result is what every ExecuteTool call returns. Callers always receive one;
// failures of any kind are folded into an error status rather than surfaced
// as a raw error.
type Result struct {
	Status  string `json:"status"`
	Output  any    `json:"output,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

func successResult(output any) Result {
	return Result{Status: StatusSuccess, Output: output}
}

func errorResult(err error) Result {
	return Result{Status: StatusError, Message: err.Error(), Code: classify(err)}
}

// classify maps an error to its coarse code. Connection failures are checked
// before timeouts because a timed-out handshake wraps both sentinels and
// counts as a connection failure.
func classify(err error) string {
	var remote *RemoteToolError

	switch {
	case errors.Is(err, catalog.ErrInvalidToolName):
		return CodeInvalidToolName
	case errors.Is(err, ErrUnknownServer):
		return CodeUnknownServer
	case errors.Is(err, registry.ErrConnectionFailed):
		return CodeConnectionFailed
	case errors.Is(err, eventloop.ErrTimeout):
		return CodeTimeout
	case errors.As(err, &remote):
		return CodeRemoteToolError
	default:
		return CodeInternal
	}
}
