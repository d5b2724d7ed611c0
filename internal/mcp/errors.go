package mcp

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// TransportError reports a failure on the network path: connection errors,
// timeouts, or a non-2xx status from the upstream server. When a status is
// present the body was not interpreted as JSON-RPC.
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream request failed: %v", e.Err)
	}
	return fmt.Sprintf("upstream returned HTTP %d: %s", e.Status, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsGatewayTimeout distinguishes a load-balancer/proxy timeout from an
// application error, so callers can tell "the network path timed out" apart
// from a failing remote tool.
func (e *TransportError) IsGatewayTimeout() bool {
	return e.Status == http.StatusGatewayTimeout
}

// ProtocolError means the HTTP exchange succeeded but the body could not be
// interpreted as a JSON-RPC response.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// RemoteError carries the error payload returned by the server inside a
// well-formed JSON-RPC response. The payload is passed through unchanged.
type RemoteError struct {
	Payload json.RawMessage
}

func (e *RemoteError) Error() string {
	return "remote error: " + string(e.Payload)
}
