package eth1

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/types"
)

type blockResult struct {
	Hash         common.Hash       `json:"hash"`
	Transactions []json.RawMessage `json:"transactions"`
}

func (v *Verifier) verifyBlock(req *types.Request, params []json.RawMessage, p *Proof, resp *types.Response, anchor *types.TrustAnchor) (*types.TrustAnchor, error) {
	if len(params) < 1 {
		return nil, fmt.Errorf("%w: missing block parameter", verifier.ErrMalformedProof)
	}
	if isNull(resp.Result) {
		return nil, fmt.Errorf("%w: absence of block %s", verifier.ErrUnsupported, params[0])
	}

	header := new(ethtypes.Header)
	if err := header.UnmarshalJSON(resp.Result); err != nil {
		return nil, fmt.Errorf("%w: block header: %v", verifier.ErrMalformedProof, err)
	}
	var res blockResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		return nil, err
	}
	hash := header.Hash()
	if res.Hash != hash {
		return nil, fmt.Errorf("%w: block fields hash to %s, result says %s", verifier.ErrHashMismatch, hash.Hex(), res.Hash.Hex())
	}

	if req.Method == MethodGetBlockByHash {
		want, err := hashParam(params)
		if err != nil {
			return nil, err
		}
		if want != hash {
			return nil, fmt.Errorf("%w: requested block %s, got %s", verifier.ErrHashMismatch, want.Hex(), hash.Hex())
		}
		req = historic(req)
	} else {
		if err := checkBlockParam(params[0], header); err != nil {
			return nil, err
		}
		if explicitBlock(params[0]) {
			req = historic(req)
		}
	}

	if len(p.Block) > 0 {
		proven, err := decodeHeader(p.Block)
		if err != nil {
			return nil, err
		}
		if proven.Hash() != hash {
			return nil, fmt.Errorf("%w: proof is for block %s", verifier.ErrHashMismatch, proven.Hash().Hex())
		}
	}

	if err := verifyBlockTransactions(header, res.Transactions, p.Transactions); err != nil {
		return nil, err
	}

	return v.checkHeader(req, p, header, anchor)
}

// verifyBlockTransactions checks the transactions of a block result against
// the transactions root. Full transaction objects are checked directly;
// lists of hashes need the raw transactions in the proof.
func verifyBlockTransactions(header *ethtypes.Header, results []json.RawMessage, raw []hexutil.Bytes) error {
	if len(results) == 0 {
		if header.TxHash != ethtypes.EmptyTxsHash {
			return fmt.Errorf("%w: empty transaction list for non-empty block", verifier.ErrValueMismatch)
		}
		return nil
	}

	var (
		txs    = make(ethtypes.Transactions, len(results))
		hashes = make([]common.Hash, len(results))
		full   = len(results[0]) > 0 && results[0][0] == '{'
	)
	for i, r := range results {
		if full {
			tx := new(ethtypes.Transaction)
			if err := tx.UnmarshalJSON(r); err != nil {
				return fmt.Errorf("%w: transaction #%d: %v", verifier.ErrMalformedProof, i, err)
			}
			txs[i] = tx
			continue
		}
		if err := json.Unmarshal(r, &hashes[i]); err != nil {
			return fmt.Errorf("%w: transaction hash #%d: %v", verifier.ErrMalformedProof, i, err)
		}
	}

	if !full {
		if len(raw) != len(results) {
			return fmt.Errorf("%w: %d raw transactions for %d hashes", verifier.ErrMissingProof, len(raw), len(results))
		}
		for i, r := range raw {
			tx := new(ethtypes.Transaction)
			if err := tx.UnmarshalBinary(r); err != nil {
				return fmt.Errorf("%w: raw transaction #%d: %v", verifier.ErrMalformedProof, i, err)
			}
			if tx.Hash() != hashes[i] {
				return fmt.Errorf("%w: transaction #%d", verifier.ErrHashMismatch, i)
			}
			txs[i] = tx
		}
	}

	if root := ethtypes.DeriveSha(txs, trie.NewStackTrie(nil)); root != header.TxHash {
		return fmt.Errorf("%w: transactions hash to %s, header has %s", verifier.ErrHashMismatch, root.Hex(), header.TxHash.Hex())
	}
	return nil
}
