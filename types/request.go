package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// ProofMode selects how much proof a node has to attach.
type ProofMode int

const (
	// ProofNone accepts unverified responses.
	ProofNone ProofMode = iota
	// ProofStandard requires a proof of the requested value.
	ProofStandard
	// ProofFull additionally requires full receipts/transactions for
	// log and receipt proofs.
	ProofFull
)

func (m ProofMode) String() string {
	switch m {
	case ProofNone:
		return "none"
	case ProofStandard:
		return "standard"
	case ProofFull:
		return "full"
	default:
		return fmt.Sprintf("ProofMode(%d)", int(m))
	}
}

// ParseProofMode parses "none", "standard" or "full".
func ParseProofMode(s string) (ProofMode, error) {
	switch s {
	case "none", "never":
		return ProofNone, nil
	case "standard", "proof", "":
		return ProofStandard, nil
	case "full":
		return ProofFull, nil
	default:
		return 0, fmt.Errorf("unknown proof mode %q", s)
	}
}

// Verification is the wire name used in the in3 request section.
func (m ProofMode) Verification(signed bool) string {
	switch {
	case m == ProofNone:
		return "never"
	case signed:
		return "proofWithSignature"
	default:
		return "proof"
	}
}

// Request is a single JSON-RPC call against one chain. A Request must not be
// modified after it has been handed to the client.
type Request struct {
	ID      uint64
	Method  string
	Params  json.RawMessage
	ChainID ChainID
	Proof   ProofMode

	// Sign requires the request to be signed by the configured signer.
	Sign bool
	// Historic allows proofs for blocks older than the staleness window.
	Historic bool
	// Finality is the number of blocks on top of the proven block the node
	// has to deliver.
	Finality uint64
	// Signatures is the number of signer nodes asked to sign the block hash.
	Signatures int
	// Signers are the nodes asked to sign. The client picks them on its own
	// copy of the request before dispatching it.
	Signers []common.Address
}

// NewRequest builds a Request by marshalling params into a JSON array.
func NewRequest(chainID ChainID, method string, params ...interface{}) (*Request, error) {
	if params == nil {
		params = []interface{}{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params of %s: %w", method, err)
	}
	return &Request{
		ID:      1,
		Method:  method,
		Params:  raw,
		ChainID: chainID,
		Proof:   ProofStandard,
	}, nil
}

// ValidateBasic performs basic validation.
func (r *Request) ValidateBasic() error {
	if r == nil {
		return errors.New("nil request")
	}
	if r.Method == "" {
		return errors.New("empty method")
	}
	if r.ChainID == 0 {
		return errors.New("zero chain id")
	}
	if len(r.Params) > 0 && !json.Valid(r.Params) {
		return fmt.Errorf("params of %s are not valid json", r.Method)
	}
	if r.Signatures < 0 {
		return errors.New("negative signature count")
	}
	return nil
}

// ParamsArray decodes the params as JSON array.
func (r *Request) ParamsArray() ([]json.RawMessage, error) {
	if len(r.Params) == 0 {
		return nil, nil
	}
	var out []json.RawMessage
	if err := json.Unmarshal(r.Params, &out); err != nil {
		return nil, fmt.Errorf("params of %s: %w", r.Method, err)
	}
	return out, nil
}

// SigningPayload returns the bytes a signer signs when Sign is set: the
// decimal id followed by method and params.
func (r *Request) SigningPayload() []byte {
	out := make([]byte, 0, 20+len(r.Method)+len(r.Params))
	out = strconv.AppendUint(out, r.ID, 10)
	out = append(out, r.Method...)
	return append(out, r.Params...)
}
