// Package eth1 verifies responses of ethereum compatible chains. Values are
// proven by merkle proofs against a block header, and the header itself is
// attested by signer nodes or by linking it to the trust anchor.
package eth1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/types"
)

// Supported methods.
const (
	MethodBlockNumber         = "eth_blockNumber"
	MethodChainID             = "eth_chainId"
	MethodGetBalance          = "eth_getBalance"
	MethodGetTransactionCount = "eth_getTransactionCount"
	MethodGetCode             = "eth_getCode"
	MethodGetStorageAt        = "eth_getStorageAt"
	MethodGetBlockByNumber    = "eth_getBlockByNumber"
	MethodGetBlockByHash      = "eth_getBlockByHash"
	MethodGetTransaction      = "eth_getTransactionByHash"
	MethodGetReceipt          = "eth_getTransactionReceipt"
	MethodSendRawTransaction  = "eth_sendRawTransaction"
	MethodNodeList            = "in3_nodeList"
)

var supportedMethods = []string{
	MethodBlockNumber, MethodChainID, MethodGetBalance, MethodGetTransactionCount,
	MethodGetCode, MethodGetStorageAt, MethodGetBlockByNumber, MethodGetBlockByHash,
	MethodGetTransaction, MethodGetReceipt, MethodSendRawTransaction, MethodNodeList,
}

// Option sets a parameter for the verifier.
type Option func(*Verifier)

// MaxBlockAge sets how many blocks a proven block may lag behind the anchor.
func MaxBlockAge(n uint64) Option {
	return func(v *Verifier) {
		v.maxBlockAge = n
	}
}

// Verifier checks eth responses. It is safe for concurrent use.
type Verifier struct {
	maxBlockAge uint64
	contracts   map[types.ChainID]common.Address
}

var _ verifier.Verifier = (*Verifier)(nil)

// New returns an eth verifier.
func New(opts ...Option) *Verifier {
	v := &Verifier{
		maxBlockAge: verifier.DefaultMaxBlockAge,
		contracts:   make(map[types.ChainID]common.Address),
	}
	for _, c := range types.BuiltinChains() {
		if c.Type == types.ChainTypeEth && c.Contract != (common.Address{}) {
			v.contracts[c.ID] = c.Contract
		}
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// ChainType implements verifier.Verifier.
func (v *Verifier) ChainType() types.ChainType { return types.ChainTypeEth }

// SupportedMethods returns the methods the verifier can prove.
func (v *Verifier) SupportedMethods() []string {
	out := make([]string, len(supportedMethods))
	copy(out, supportedMethods)
	return out
}

// Verify implements verifier.Verifier.
func (v *Verifier) Verify(ctx context.Context, req *types.Request, resp *types.Response, anchor *types.TrustAnchor) verifier.Result {
	if err := ctx.Err(); err != nil {
		return verifier.RejectErr(err)
	}
	if resp.Error != nil {
		return verifier.Reject(verifier.ErrMissingProof, "error responses carry no proof")
	}

	params, err := req.ParamsArray()
	if err != nil {
		return verifier.RejectErr(err)
	}

	switch req.Method {
	// checked without a proof
	case MethodChainID:
		return v.verifyChainID(req, resp)
	case MethodSendRawTransaction:
		return v.verifySendRawTransaction(params, resp)
	}

	p, err := decodeProof(resp)
	if err != nil {
		return verifier.RejectErr(err)
	}

	var (
		next *types.TrustAnchor
		nl   *types.NodeList
	)
	switch req.Method {
	case MethodBlockNumber:
		next, err = v.verifyBlockNumber(req, p, resp, anchor)
	case MethodGetBalance, MethodGetTransactionCount, MethodGetCode, MethodGetStorageAt:
		next, err = v.verifyAccount(req, params, p, resp, anchor)
	case MethodGetBlockByNumber, MethodGetBlockByHash:
		next, err = v.verifyBlock(req, params, p, resp, anchor)
	case MethodGetTransaction:
		next, err = v.verifyTransaction(req, params, p, resp, anchor)
	case MethodGetReceipt:
		next, err = v.verifyReceipt(req, params, p, resp, anchor)
	case MethodNodeList:
		next, nl, err = v.verifyNodeList(req, p, resp, anchor)
	default:
		return verifier.Reject(verifier.ErrUnsupported, "method %s", req.Method)
	}
	if err != nil {
		return verifier.RejectErr(err)
	}

	res := verifier.Accept(next)
	res.NodeList = nl
	return res
}

func (v *Verifier) verifyChainID(req *types.Request, resp *types.Response) verifier.Result {
	var got hexutil.Uint64
	if err := json.Unmarshal(resp.Result, &got); err != nil {
		return verifier.RejectErr(err)
	}
	if types.ChainID(got) != req.ChainID {
		return verifier.Reject(verifier.ErrValueMismatch, "node serves chain %v, want %v", types.ChainID(got), req.ChainID)
	}
	return verifier.Accept(nil)
}

// verifySendRawTransaction checks that the returned hash is the hash of the
// submitted transaction.
func (v *Verifier) verifySendRawTransaction(params []json.RawMessage, resp *types.Response) verifier.Result {
	if len(params) < 1 {
		return verifier.Reject(verifier.ErrMalformedProof, "missing raw transaction")
	}
	var raw hexutil.Bytes
	if err := json.Unmarshal(params[0], &raw); err != nil {
		return verifier.RejectErr(err)
	}
	var tx ethtypes.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return verifier.RejectErr(err)
	}
	var got common.Hash
	if err := json.Unmarshal(resp.Result, &got); err != nil {
		return verifier.RejectErr(err)
	}
	if got != tx.Hash() {
		return verifier.Reject(verifier.ErrHashMismatch, "transaction hash is %s, node returned %s", tx.Hash().Hex(), got.Hex())
	}
	return verifier.Accept(nil)
}

func (v *Verifier) verifyBlockNumber(req *types.Request, p *Proof, resp *types.Response, anchor *types.TrustAnchor) (*types.TrustAnchor, error) {
	var number hexutil.Uint64
	if err := json.Unmarshal(resp.Result, &number); err != nil {
		return nil, err
	}
	header, err := decodeHeader(p.Block)
	if err != nil {
		return nil, err
	}
	if header.Number.Uint64() != uint64(number) {
		return nil, fmt.Errorf("%w: result is #%d, proof is for #%d", verifier.ErrValueMismatch, uint64(number), header.Number.Uint64())
	}
	return v.checkHeader(req, p, header, anchor)
}

// checkBlockParam verifies that the block the proof is for matches the block
// parameter of the request. Tags like "latest" match any block.
func checkBlockParam(raw json.RawMessage, header *ethtypes.Header) error {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("block parameter: %w", err)
	}
	switch s {
	case "latest", "pending", "safe", "finalized", "":
		return nil
	case "earliest":
		s = "0x0"
	}
	n, err := parseQuantity(s)
	if err != nil {
		return fmt.Errorf("block parameter: %w", err)
	}
	if n.Cmp(header.Number) != 0 {
		return fmt.Errorf("%w: requested block #%s, proof is for #%s", verifier.ErrValueMismatch, n, header.Number)
	}
	return nil
}

// explicitBlock reports whether raw names a block by number instead of by
// tag. Such requests ask for historic state.
func explicitBlock(raw json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false
	}
	switch s {
	case "latest", "pending", "safe", "finalized", "":
		return false
	}
	return true
}

// historic returns req exempt from the staleness window.
func historic(req *types.Request) *types.Request {
	if req.Historic {
		return req
	}
	r := *req
	r.Historic = true
	return &r
}

func unixTime(sec uint64) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}

func equalBig(a, b *big.Int) bool {
	if a == nil {
		a = new(big.Int)
	}
	if b == nil {
		b = new(big.Int)
	}
	return a.Cmp(b) == 0
}

func equalBytes(a, b []byte) bool { return bytes.Equal(a, b) }
