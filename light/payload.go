package light

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/incubed/in3-go/types"
)

var emptyParams = json.RawMessage("[]")

// buildPayload serializes req together with its in3 section. The bytes are
// built once per call and sent unchanged to every node tried.
func (c *Client) buildPayload(ctx context.Context, req *types.Request) ([]byte, error) {
	params := req.Params
	if len(params) == 0 {
		params = emptyParams
	}

	rpc := types.NewRPCRequest(types.JSONRPCIntID(req.ID), req.Method, params)
	rpc.In3 = &types.In3Request{
		Verification: req.Proof.Verification(len(req.Signers) > 0),
		Version:      c.clientVersion,
		ChainID:      req.ChainID,
		Signers:      req.Signers,
		Finality:     req.Finality,
		UseFullProof: req.Proof == types.ProofFull,
	}

	if req.Sign {
		sig, err := c.signer.Sign(ctx, req.SigningPayload())
		if err != nil {
			return nil, fmt.Errorf("sign %s: %w", req.Method, err)
		}
		rpc.In3.Sig = sig
	}

	bz, err := json.Marshal(rpc)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", req.Method, err)
	}
	return bz, nil
}
