package signer

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNoSigner is returned when a request has to be signed but no signer was
// configured.
var ErrNoSigner = errors.New("no signer configured")

// Signer signs outgoing requests. It is injected into the client; the client
// only calls it for requests that require a signature.
type Signer interface {
	// Sign returns a 65 byte [R || S || V] signature over payload.
	Sign(ctx context.Context, payload []byte) ([]byte, error)

	// Address returns the address derived from the signing key.
	Address() common.Address
}
