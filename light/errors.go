package light

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/incubed/in3-go/types"
)

// ErrClosed is returned for calls on a closed client.
var ErrClosed = errors.New("client is closed")

// ErrTransport means the node could not be reached, timed out or answered
// with something that is not a JSON-RPC response.
type ErrTransport struct {
	Node   string
	Reason error
}

func (e ErrTransport) Error() string {
	return fmt.Sprintf("transport to %s failed: %v", e.Node, e.Reason)
}

// Unwrap returns underlying reason.
func (e ErrTransport) Unwrap() error {
	return e.Reason
}

// ErrVerification means the node's response failed verification. Reason
// wraps one of the verifier.Err* kinds.
type ErrVerification struct {
	Node   string
	Reason error
}

func (e ErrVerification) Error() string {
	return fmt.Sprintf("response of %s failed verification: %v", e.Node, e.Reason)
}

// Unwrap returns underlying reason.
func (e ErrVerification) Unwrap() error {
	return e.Reason
}

// ErrRPC means the node answered with a JSON-RPC error.
type ErrRPC struct {
	Node string
	Err  types.RPCError
	// Server is set for errors the node is to blame for. Other errors are
	// caused by the request.
	Server bool
}

func (e ErrRPC) Error() string {
	return fmt.Sprintf("node %s returned error %d: %s", e.Node, e.Err.Code, e.Err.Message)
}

// ErrConfig means the request can not be executed as configured, e.g. an
// unknown chain, an unsupported method or a missing signer.
type ErrConfig struct {
	Reason error
}

func (e ErrConfig) Error() string {
	return fmt.Sprintf("invalid configuration: %v", e.Reason)
}

// Unwrap returns underlying reason.
func (e ErrConfig) Unwrap() error {
	return e.Reason
}

// ErrExhaustedRetries is returned when no node delivered a verified
// response. Last is the failure of the final attempt, Errors holds the
// failures of all attempts in order.
type ErrExhaustedRetries struct {
	Attempts int
	Last     error
	Errors   *multierror.Error
}

func (e ErrExhaustedRetries) Error() string {
	return fmt.Sprintf("no verified response after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last failure.
func (e ErrExhaustedRetries) Unwrap() error {
	return e.Last
}
