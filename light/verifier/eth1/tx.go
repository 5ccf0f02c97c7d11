package eth1

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/types"
)

// txLocation is the part of transaction and receipt results that places
// them in a block.
type txLocation struct {
	Hash             *common.Hash    `json:"hash"`
	TransactionHash  *common.Hash    `json:"transactionHash"`
	BlockHash        common.Hash     `json:"blockHash"`
	BlockNumber      hexutil.Uint64  `json:"blockNumber"`
	TransactionIndex hexutil.Uint64  `json:"transactionIndex"`
	From             *common.Address `json:"from"`
}

type receiptResult struct {
	txLocation
	Status            *hexutil.Uint64 `json:"status"`
	CumulativeGasUsed hexutil.Uint64  `json:"cumulativeGasUsed"`
	Logs              []logResult     `json:"logs"`
}

type logResult struct {
	Address common.Address `json:"address"`
	Topics  []common.Hash  `json:"topics"`
	Data    hexutil.Bytes  `json:"data"`
}

func hashParam(params []json.RawMessage) (common.Hash, error) {
	var h common.Hash
	if len(params) < 1 {
		return h, fmt.Errorf("%w: missing hash parameter", verifier.ErrMalformedProof)
	}
	if err := json.Unmarshal(params[0], &h); err != nil {
		return h, fmt.Errorf("hash parameter: %w", err)
	}
	return h, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// provenTransaction proves the transaction at index against the
// transactions root of header.
func provenTransaction(header *ethtypes.Header, index uint64, nodes []hexutil.Bytes) (*ethtypes.Transaction, error) {
	key, err := rlp.EncodeToBytes(index)
	if err != nil {
		return nil, err
	}
	val, err := verifyTrie(header.TxHash, key, nodes)
	if err != nil {
		return nil, fmt.Errorf("transaction #%d: %w", index, err)
	}
	if len(val) == 0 {
		return nil, fmt.Errorf("%w: no transaction #%d in block #%s", verifier.ErrValueMismatch, index, header.Number)
	}
	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(val); err != nil {
		return nil, fmt.Errorf("%w: transaction #%d: %v", verifier.ErrMalformedProof, index, err)
	}
	return tx, nil
}

func checkLocation(loc txLocation, header *ethtypes.Header, index uint64) error {
	switch {
	case loc.BlockHash != header.Hash():
		return fmt.Errorf("%w: block hash is %s, proof is for %s", verifier.ErrHashMismatch, loc.BlockHash.Hex(), header.Hash().Hex())
	case uint64(loc.BlockNumber) != header.Number.Uint64():
		return fmt.Errorf("%w: block number is #%d, proof is for #%s", verifier.ErrValueMismatch, uint64(loc.BlockNumber), header.Number)
	case uint64(loc.TransactionIndex) != index:
		return fmt.Errorf("%w: transaction index is %d, proof is for %d", verifier.ErrValueMismatch, uint64(loc.TransactionIndex), index)
	}
	return nil
}

func checkSender(tx *ethtypes.Transaction, from *common.Address, chainID types.ChainID) error {
	if from == nil {
		return nil
	}
	signer := ethtypes.LatestSignerForChainID(new(big.Int).SetUint64(uint64(chainID)))
	sender, err := ethtypes.Sender(signer, tx)
	if err != nil {
		return fmt.Errorf("%w: sender: %v", verifier.ErrSignatureMismatch, err)
	}
	if sender != *from {
		return fmt.Errorf("%w: sender is %s, result says %s", verifier.ErrValueMismatch, sender.Hex(), from.Hex())
	}
	return nil
}

func (v *Verifier) verifyTransaction(req *types.Request, params []json.RawMessage, p *Proof, resp *types.Response, anchor *types.TrustAnchor) (*types.TrustAnchor, error) {
	hash, err := hashParam(params)
	if err != nil {
		return nil, err
	}
	if isNull(resp.Result) {
		return nil, fmt.Errorf("%w: absence of transaction %s", verifier.ErrUnsupported, hash.Hex())
	}

	header, err := decodeHeader(p.Block)
	if err != nil {
		return nil, err
	}
	tx, err := provenTransaction(header, p.TxIndex, p.MerkleProof)
	if err != nil {
		return nil, err
	}
	if tx.Hash() != hash {
		return nil, fmt.Errorf("%w: proven transaction is %s", verifier.ErrHashMismatch, tx.Hash().Hex())
	}

	var loc txLocation
	if err := json.Unmarshal(resp.Result, &loc); err != nil {
		return nil, err
	}
	if loc.Hash == nil || *loc.Hash != hash {
		return nil, fmt.Errorf("%w: result is not transaction %s", verifier.ErrHashMismatch, hash.Hex())
	}
	if err := checkLocation(loc, header, p.TxIndex); err != nil {
		return nil, err
	}

	// every field of the result has to hash to the proven transaction
	var claimed ethtypes.Transaction
	if err := claimed.UnmarshalJSON(resp.Result); err != nil {
		return nil, fmt.Errorf("%w: transaction result: %v", verifier.ErrMalformedProof, err)
	}
	if claimed.Hash() != hash {
		return nil, fmt.Errorf("%w: transaction fields do not match %s", verifier.ErrValueMismatch, hash.Hex())
	}
	if err := checkSender(tx, loc.From, req.ChainID); err != nil {
		return nil, err
	}

	// the hash names the block of the transaction
	return v.checkHeader(historic(req), p, header, anchor)
}

func (v *Verifier) verifyReceipt(req *types.Request, params []json.RawMessage, p *Proof, resp *types.Response, anchor *types.TrustAnchor) (*types.TrustAnchor, error) {
	hash, err := hashParam(params)
	if err != nil {
		return nil, err
	}
	if isNull(resp.Result) {
		return nil, fmt.Errorf("%w: absence of receipt %s", verifier.ErrUnsupported, hash.Hex())
	}

	header, err := decodeHeader(p.Block)
	if err != nil {
		return nil, err
	}
	tx, err := provenTransaction(header, p.TxIndex, p.TxProof)
	if err != nil {
		return nil, err
	}
	if tx.Hash() != hash {
		return nil, fmt.Errorf("%w: proven transaction is %s", verifier.ErrHashMismatch, tx.Hash().Hex())
	}

	key, err := rlp.EncodeToBytes(p.TxIndex)
	if err != nil {
		return nil, err
	}
	val, err := verifyTrie(header.ReceiptHash, key, p.MerkleProof)
	if err != nil {
		return nil, fmt.Errorf("receipt #%d: %w", p.TxIndex, err)
	}
	if len(val) == 0 {
		return nil, fmt.Errorf("%w: no receipt #%d in block #%s", verifier.ErrValueMismatch, p.TxIndex, header.Number)
	}
	receipt := new(ethtypes.Receipt)
	if err := receipt.UnmarshalBinary(val); err != nil {
		return nil, fmt.Errorf("%w: receipt: %v", verifier.ErrMalformedProof, err)
	}

	var res receiptResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		return nil, err
	}
	if res.TransactionHash == nil || *res.TransactionHash != hash {
		return nil, fmt.Errorf("%w: result is not the receipt of %s", verifier.ErrHashMismatch, hash.Hex())
	}
	if err := checkLocation(res.txLocation, header, p.TxIndex); err != nil {
		return nil, err
	}
	if err := compareReceipt(receipt, &res); err != nil {
		return nil, err
	}
	if err := checkSender(tx, res.From, req.ChainID); err != nil {
		return nil, err
	}

	// the hash names the block of the transaction
	return v.checkHeader(historic(req), p, header, anchor)
}

func compareReceipt(proven *ethtypes.Receipt, res *receiptResult) error {
	if res.Status != nil && uint64(*res.Status) != proven.Status {
		return fmt.Errorf("%w: status", verifier.ErrValueMismatch)
	}
	if uint64(res.CumulativeGasUsed) != proven.CumulativeGasUsed {
		return fmt.Errorf("%w: cumulative gas used", verifier.ErrValueMismatch)
	}
	if len(res.Logs) != len(proven.Logs) {
		return fmt.Errorf("%w: %d logs, proof has %d", verifier.ErrValueMismatch, len(res.Logs), len(proven.Logs))
	}
	for i, l := range res.Logs {
		want := proven.Logs[i]
		if l.Address != want.Address || !equalBytes(l.Data, want.Data) || len(l.Topics) != len(want.Topics) {
			return fmt.Errorf("%w: log #%d", verifier.ErrValueMismatch, i)
		}
		for j := range l.Topics {
			if l.Topics[j] != want.Topics[j] {
				return fmt.Errorf("%w: topic #%d of log #%d", verifier.ErrValueMismatch, j, i)
			}
		}
	}
	return nil
}
