// Package btc verifies responses of bitcoin nodes. Headers are checked by
// their proof of work and by the finality headers built on top of them;
// transactions are proven by merkle branches and the block height by the
// BIP34 commitment in the coinbase.
package btc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/types"
)

// Supported methods.
const (
	MethodGetBlockHeader    = "getblockheader"
	MethodGetRawTransaction = "getrawtransaction"
	MethodGetBlockCount     = "getblockcount"
)

// Option sets a parameter for the verifier.
type Option func(*Verifier)

// Params sets the network parameters. Defaults to mainnet.
func Params(p *chaincfg.Params) Option {
	return func(v *Verifier) {
		v.params = p
	}
}

// MaxBlockAge sets how many blocks a proven block may lag behind the anchor.
func MaxBlockAge(n uint64) Option {
	return func(v *Verifier) {
		v.maxBlockAge = n
	}
}

// Verifier checks bitcoin responses. It is safe for concurrent use.
type Verifier struct {
	params      *chaincfg.Params
	maxBlockAge uint64
}

var _ verifier.Verifier = (*Verifier)(nil)

// New returns a bitcoin verifier.
func New(opts ...Option) *Verifier {
	v := &Verifier{
		params:      &chaincfg.MainNetParams,
		maxBlockAge: verifier.DefaultMaxBlockAge,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// ChainType implements verifier.Verifier.
func (v *Verifier) ChainType() types.ChainType { return types.ChainTypeBtc }

// SupportedMethods returns the methods the verifier can prove.
func (v *Verifier) SupportedMethods() []string {
	return []string{MethodGetBlockHeader, MethodGetRawTransaction, MethodGetBlockCount}
}

// headerResult is the verbose form of getblockheader.
type headerResult struct {
	Hash              string `json:"hash"`
	Height            uint64 `json:"height"`
	MerkleRoot        string `json:"merkleroot"`
	PreviousBlockHash string `json:"previousblockhash"`
}

// txResult is the verbose form of getrawtransaction.
type txResult struct {
	Hex       string `json:"hex"`
	TxID      string `json:"txid"`
	BlockHash string `json:"blockhash"`
}

// Verify implements verifier.Verifier.
func (v *Verifier) Verify(ctx context.Context, req *types.Request, resp *types.Response, anchor *types.TrustAnchor) verifier.Result {
	if err := ctx.Err(); err != nil {
		return verifier.RejectErr(err)
	}
	if resp.Error != nil {
		return verifier.Reject(verifier.ErrMissingProof, "error responses carry no proof")
	}
	if resp.In3 == nil || len(resp.In3.Proof) == 0 {
		return verifier.Reject(verifier.ErrMissingProof, "response carries no proof")
	}
	var p Proof
	if err := json.Unmarshal(resp.In3.Proof, &p); err != nil {
		return verifier.RejectErr(err)
	}
	params, err := req.ParamsArray()
	if err != nil {
		return verifier.RejectErr(err)
	}

	var header *wire.BlockHeader
	switch req.Method {
	case MethodGetBlockHeader:
		header, err = v.verifyHeader(params, &p, resp)
	case MethodGetRawTransaction:
		header, err = v.verifyTransaction(params, &p, resp)
	case MethodGetBlockCount:
		header, err = blockHeader(&p)
	default:
		return verifier.Reject(verifier.ErrUnsupported, "method %s", req.Method)
	}
	if err != nil {
		return verifier.RejectErr(err)
	}

	height, err := blockHeight(header, &p)
	if err != nil {
		return verifier.RejectErr(err)
	}
	if req.Method == MethodGetBlockCount {
		var count uint64
		if err := json.Unmarshal(resp.Result, &count); err != nil {
			return verifier.RejectErr(err)
		}
		if count != height {
			return verifier.Reject(verifier.ErrValueMismatch, "block count is %d, proof is for #%d", count, height)
		}
	}
	if hr, ok := verboseHeader(resp); ok && hr.Height != height {
		return verifier.Reject(verifier.ErrValueMismatch, "height is %d, coinbase says %d", hr.Height, height)
	}

	if req.Method != MethodGetBlockCount && !req.Historic {
		// headers and transactions are named by hash, old blocks are fine
		r := *req
		r.Historic = true
		req = &r
	}
	next, err := v.attest(req, &p, header, height, anchor)
	if err != nil {
		return verifier.RejectErr(err)
	}
	return verifier.Accept(next)
}

// attest checks the proof of work of the header and its finality headers and
// returns the anchor it establishes.
func (v *Verifier) attest(req *types.Request, p *Proof, h *wire.BlockHeader, height uint64, anchor *types.TrustAnchor) (*types.TrustAnchor, error) {
	if err := v.checkPoW(h); err != nil {
		return nil, err
	}
	var final []*wire.BlockHeader
	if p.Final != "" {
		raw, err := decodeHex("final", p.Final)
		if err != nil {
			return nil, err
		}
		if final, err = parseHeaders(raw); err != nil {
			return nil, err
		}
	}
	if err := v.checkFinality(h, final, req.Finality); err != nil {
		return nil, err
	}
	if anchor != nil {
		if err := v.checkTarget(h, height, anchor.Bits, anchor.Number); err != nil {
			return nil, err
		}
	}

	return verifier.CheckBlock(req, verifier.Block{
		Number: height,
		Hash:   DisplayHash(h.BlockHash()),
		Bits:   h.Bits,
		Time:   h.Timestamp.UTC(),
	}, anchor, verifier.Attestation{Linked: true}, v.maxBlockAge)
}

func blockHeader(p *Proof) (*wire.BlockHeader, error) {
	if p.Block == "" {
		return nil, fmt.Errorf("%w: no block header", verifier.ErrMissingProof)
	}
	raw, err := decodeHex("block", p.Block)
	if err != nil {
		return nil, err
	}
	return parseHeader(raw)
}

func hashParam(params []json.RawMessage, i int) (*chainhash.Hash, error) {
	if len(params) <= i {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(params[i], &s); err != nil {
		return nil, fmt.Errorf("%w: hash parameter: %v", verifier.ErrMalformedProof, err)
	}
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return nil, fmt.Errorf("%w: hash parameter: %v", verifier.ErrMalformedProof, err)
	}
	return h, nil
}

func verboseHeader(resp *types.Response) (*headerResult, bool) {
	if len(resp.Result) == 0 || resp.Result[0] != '{' {
		return nil, false
	}
	var hr headerResult
	if err := json.Unmarshal(resp.Result, &hr); err != nil || hr.MerkleRoot == "" {
		return nil, false
	}
	return &hr, true
}

func (v *Verifier) verifyHeader(params []json.RawMessage, p *Proof, resp *types.Response) (*wire.BlockHeader, error) {
	want, err := hashParam(params, 0)
	if err != nil {
		return nil, err
	}
	if want == nil {
		return nil, fmt.Errorf("%w: missing block hash", verifier.ErrMalformedProof)
	}

	var header *wire.BlockHeader
	if hr, ok := verboseHeader(resp); ok {
		if header, err = blockHeader(p); err != nil {
			return nil, err
		}
		hash := header.BlockHash()
		switch {
		case hr.Hash != hash.String():
			return nil, fmt.Errorf("%w: hash is %s, proof is for %s", verifier.ErrHashMismatch, hr.Hash, hash)
		case hr.MerkleRoot != header.MerkleRoot.String():
			return nil, fmt.Errorf("%w: merkle root", verifier.ErrValueMismatch)
		case hr.PreviousBlockHash != "" && hr.PreviousBlockHash != header.PrevBlock.String():
			return nil, fmt.Errorf("%w: previous block hash", verifier.ErrValueMismatch)
		}
	} else {
		var s string
		if err := json.Unmarshal(resp.Result, &s); err != nil {
			return nil, fmt.Errorf("%w: header result: %v", verifier.ErrMalformedProof, err)
		}
		raw, err := decodeHex("result", s)
		if err != nil {
			return nil, err
		}
		if header, err = parseHeader(raw); err != nil {
			return nil, err
		}
		if p.Block != "" {
			proven, err := blockHeader(p)
			if err != nil {
				return nil, err
			}
			if proven.BlockHash() != header.BlockHash() {
				return nil, fmt.Errorf("%w: proof is for another block", verifier.ErrHashMismatch)
			}
		}
	}

	if header.BlockHash() != *want {
		return nil, fmt.Errorf("%w: requested %s, got %s", verifier.ErrHashMismatch, want, header.BlockHash())
	}
	return header, nil
}

func (v *Verifier) verifyTransaction(params []json.RawMessage, p *Proof, resp *types.Response) (*wire.BlockHeader, error) {
	txid, err := hashParam(params, 0)
	if err != nil {
		return nil, err
	}
	if txid == nil {
		return nil, fmt.Errorf("%w: missing txid", verifier.ErrMalformedProof)
	}
	blockHash, err := hashParam(params, 2)
	if err != nil {
		return nil, err
	}

	var rawHex string
	if len(resp.Result) > 0 && resp.Result[0] == '{' {
		var tr txResult
		if err := json.Unmarshal(resp.Result, &tr); err != nil {
			return nil, fmt.Errorf("%w: transaction result: %v", verifier.ErrMalformedProof, err)
		}
		if tr.TxID != txid.String() {
			return nil, fmt.Errorf("%w: result is transaction %s", verifier.ErrHashMismatch, tr.TxID)
		}
		if tr.BlockHash != "" {
			if blockHash, err = chainhash.NewHashFromStr(tr.BlockHash); err != nil {
				return nil, fmt.Errorf("%w: blockhash: %v", verifier.ErrMalformedProof, err)
			}
		}
		rawHex = tr.Hex
	} else if err := json.Unmarshal(resp.Result, &rawHex); err != nil {
		return nil, fmt.Errorf("%w: transaction result: %v", verifier.ErrMalformedProof, err)
	}

	raw, err := decodeHex("result", rawHex)
	if err != nil {
		return nil, err
	}
	tx, err := parseTx(raw)
	if err != nil {
		return nil, err
	}
	if tx.TxHash() != *txid {
		return nil, fmt.Errorf("%w: result hashes to %s, requested %s", verifier.ErrHashMismatch, tx.TxHash(), txid)
	}

	header, err := blockHeader(p)
	if err != nil {
		return nil, err
	}
	if blockHash != nil && header.BlockHash() != *blockHash {
		return nil, fmt.Errorf("%w: proof is for block %s, want %s", verifier.ErrHashMismatch, header.BlockHash(), blockHash)
	}
	branch, err := decodeHex("merkleProof", p.MerkleProof)
	if err != nil {
		return nil, err
	}
	if err := checkInclusion(header, tx.TxHash(), p.TxIndex, branch); err != nil {
		return nil, err
	}
	return header, nil
}

// EncodeHeader serializes h the way it is sent in proofs.
func EncodeHeader(h *wire.BlockHeader) ([]byte, error) {
	var buf bytes.Buffer
	if err := h.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
