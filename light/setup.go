package light

import (
	"github.com/incubed/in3-go/light/transport/http"
	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/light/verifier/btc"
	"github.com/incubed/in3-go/light/verifier/eth1"
	"github.com/incubed/in3-go/light/verifier/ipfs"
	"github.com/incubed/in3-go/types"
)

// DefaultVerifiers returns a registry holding the eth, btc and ipfs
// verifiers. Proofs of blocks more than maxBlockAge blocks behind the anchor
// are rejected (0 selects verifier.DefaultMaxBlockAge).
func DefaultVerifiers(maxBlockAge uint64) *verifier.Registry {
	if maxBlockAge == 0 {
		maxBlockAge = verifier.DefaultMaxBlockAge
	}
	return verifier.NewRegistry(
		eth1.New(eth1.MaxBlockAge(maxBlockAge)),
		btc.New(btc.MaxBlockAge(maxBlockAge)),
		ipfs.New(),
	)
}

// NewHTTPClient initiates an instance of a light client talking to nodes over
// HTTP and verifying responses with the DefaultVerifiers. If no chains are
// given, the builtin chains are used.
//
// See all Option(s) for the additional configuration.
// See NewClient.
func NewHTTPClient(chains []types.ChainSpec, maxBlockAge uint64, options ...Option) (*Client, error) {
	if len(chains) == 0 {
		chains = types.BuiltinChains()
	}
	return NewClient(chains, http.New(), DefaultVerifiers(maxBlockAge), options...)
}
