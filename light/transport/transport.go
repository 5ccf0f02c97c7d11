package transport

import (
	"context"
	"errors"
	"fmt"
)

// Transport sends a serialized JSON-RPC payload to a node and returns the raw
// response body. Implementations never retry; retries and fallback belong to
// the light client.
type Transport interface {
	// Send posts payload to url.
	//
	// If the node does not answer before ctx is done, ErrNoResponse is
	// returned (wrapped). Any other failure to obtain a body is returned as
	// is. A returned body is not interpreted in any way.
	Send(ctx context.Context, url string, payload []byte) ([]byte, error)
}

var (
	// ErrNoResponse is returned if the node doesn't respond to the request
	// in the given time.
	ErrNoResponse = errors.New("node failed to respond")
	// ErrUnknownNode is returned by test transports for urls they have no
	// answer for.
	ErrUnknownNode = errors.New("unknown node")
)

// ErrBadStatus is returned when a node answers with a non-2xx status.
type ErrBadStatus struct {
	StatusCode int
	Body       string
}

func (e ErrBadStatus) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Func adapts a plain function to Transport.
type Func func(ctx context.Context, url string, payload []byte) ([]byte, error)

// Send calls f.
func (f Func) Send(ctx context.Context, url string, payload []byte) ([]byte, error) {
	return f(ctx, url, payload)
}
