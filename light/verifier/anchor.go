package verifier

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/incubed/in3-go/types"
)

// DefaultMaxBlockAge is the number of blocks a proven block may lag behind
// the anchor before it counts as stale.
const DefaultMaxBlockAge = 256

// Block identifies the block a proof refers to.
type Block struct {
	Number uint64
	Hash   common.Hash
	Bits   uint32
	Time   time.Time
}

// Attestation is the evidence that a block belongs to the canonical chain.
type Attestation struct {
	// Linked is set when a verified chain of headers connects the block to
	// the anchor (or, without an anchor, when the block carries enough
	// self-evident proof of work).
	Linked bool
	// Signers are the addresses whose signatures over the block hash have
	// been verified.
	Signers []common.Address
}

// CheckBlock verifies that block is attested relative to anchor and not
// stale. On success it returns the anchor the block establishes if it is
// newer than anchor, or nil.
func CheckBlock(req *types.Request, block Block, anchor *types.TrustAnchor, att Attestation, maxBlockAge uint64) (*types.TrustAnchor, error) {
	next := &types.TrustAnchor{
		ChainID: req.ChainID,
		Number:  block.Number,
		Hash:    block.Hash,
		Bits:    block.Bits,
		Time:    block.Time,
	}

	if anchor != nil {
		switch {
		case block.Number == anchor.Number:
			if block.Hash != anchor.Hash {
				return nil, fmt.Errorf("%w: block #%d is %s, anchor is %s",
					ErrHashMismatch, block.Number, block.Hash.Hex(), anchor.Hash.Hex())
			}
			return nil, nil
		case block.Number < anchor.Number && anchor.Number-block.Number > maxBlockAge && !req.Historic:
			return nil, fmt.Errorf("%w: block #%d is more than %d blocks behind anchor #%d",
				ErrStaleAnchor, block.Number, maxBlockAge, anchor.Number)
		}
	}

	if !att.Linked {
		if err := checkSigners(req, block, att.Signers); err != nil {
			return nil, err
		}
	}

	if next.NewerThan(anchor) {
		return next, nil
	}
	return nil, nil
}

func checkSigners(req *types.Request, block Block, signers []common.Address) error {
	required := req.Signatures
	if required < 1 {
		required = 1
	}

	requested := make(map[common.Address]struct{}, len(req.Signers))
	for _, a := range req.Signers {
		requested[a] = struct{}{}
	}

	valid := make(map[common.Address]struct{}, len(signers))
	for _, a := range signers {
		if _, ok := requested[a]; ok {
			valid[a] = struct{}{}
		}
	}
	if len(valid) < required {
		return fmt.Errorf("%w: block #%d signed by %d of %d required signers",
			ErrSignatureMismatch, block.Number, len(valid), required)
	}
	return nil
}
