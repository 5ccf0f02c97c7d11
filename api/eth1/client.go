// Package eth1 is a typed Ethereum API on top of the light client. Every
// value it returns has been verified against the proofs delivered by the
// node that answered.
package eth1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/incubed/in3-go/light"
	eth1v "github.com/incubed/in3-go/light/verifier/eth1"
	"github.com/incubed/in3-go/types"
)

// ErrNotFound is returned when the node knows nothing about the requested
// block or transaction.
var ErrNotFound = errors.New("not found")

// Option sets a parameter for the requests of a Client.
type Option func(*Client)

// Proof sets the proof mode (default: ProofStandard).
func Proof(mode types.ProofMode) Option {
	return func(c *Client) {
		c.proof = mode
	}
}

// Finality is the number of blocks the node has to deliver on top of the
// proven one.
func Finality(blocks uint64) Option {
	return func(c *Client) {
		c.finality = blocks
	}
}

// Signatures is the number of signer nodes asked to sign the proven block
// hash. 0 leaves the choice to the light client.
func Signatures(n int) Option {
	return func(c *Client) {
		c.signatures = n
	}
}

// Client is an Ethereum API backed by a verifying executor.
type Client struct {
	exec    light.Executor
	chainID types.ChainID

	proof      types.ProofMode
	finality   uint64
	signatures int
}

// New returns a Client sending requests for chainID to exec.
func New(exec light.Executor, chainID types.ChainID, options ...Option) *Client {
	c := &Client{
		exec:    exec,
		chainID: chainID,
		proof:   types.ProofStandard,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

func (c *Client) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	return c.do(ctx, out, false, method, params...)
}

// callAt is call for requests at block number. Explicit numbers ask for
// historic state, which may lie far behind the trust anchor.
func (c *Client) callAt(ctx context.Context, out interface{}, number *big.Int, method string, params ...interface{}) error {
	return c.do(ctx, out, number != nil, method, params...)
}

func (c *Client) do(ctx context.Context, out interface{}, historic bool, method string, params ...interface{}) error {
	req, err := types.NewRequest(c.chainID, method, params...)
	if err != nil {
		return err
	}
	req.Historic = historic
	req.Proof = c.proof
	req.Finality = c.finality
	req.Signatures = c.signatures

	res, err := c.exec.Execute(ctx, req)
	if err != nil {
		return err
	}
	if len(res.Value) == 0 || bytes.Equal(res.Value, []byte("null")) {
		return ErrNotFound
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return fmt.Errorf("decoding result of %s: %w", method, err)
	}
	return nil
}

func toBlockNumArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	return hexutil.EncodeBig(number)
}

// BlockNumber returns the number of the most recent block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var n hexutil.Uint64
	err := c.call(ctx, &n, eth1v.MethodBlockNumber)
	return uint64(n), err
}

// ChainID returns the id the node reports for its chain.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := c.call(ctx, &id, eth1v.MethodChainID); err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}

// BalanceAt returns the wei balance of account at block number. A nil number
// selects the latest block.
func (c *Client) BalanceAt(ctx context.Context, account common.Address, number *big.Int) (*big.Int, error) {
	var bal hexutil.Big
	if err := c.callAt(ctx, &bal, number, eth1v.MethodGetBalance, account, toBlockNumArg(number)); err != nil {
		return nil, err
	}
	return (*big.Int)(&bal), nil
}

// NonceAt returns the nonce of account at block number.
func (c *Client) NonceAt(ctx context.Context, account common.Address, number *big.Int) (uint64, error) {
	var nonce hexutil.Uint64
	err := c.callAt(ctx, &nonce, number, eth1v.MethodGetTransactionCount, account, toBlockNumArg(number))
	return uint64(nonce), err
}

// CodeAt returns the contract code of account at block number.
func (c *Client) CodeAt(ctx context.Context, account common.Address, number *big.Int) ([]byte, error) {
	var code hexutil.Bytes
	err := c.callAt(ctx, &code, number, eth1v.MethodGetCode, account, toBlockNumArg(number))
	return code, err
}

// StorageAt returns the value of key in the storage of account at block
// number.
func (c *Client) StorageAt(ctx context.Context, account common.Address, key common.Hash, number *big.Int) (common.Hash, error) {
	var value hexutil.Bytes
	if err := c.callAt(ctx, &value, number, eth1v.MethodGetStorageAt, account, key, toBlockNumArg(number)); err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(value), nil
}

// HeaderByNumber returns the header of block number. A nil number selects
// the latest block.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	var head *ethtypes.Header
	if err := c.callAt(ctx, &head, number, eth1v.MethodGetBlockByNumber, toBlockNumArg(number), false); err != nil {
		return nil, err
	}
	return head, nil
}

// HeaderByHash returns the header of the block with the given hash.
func (c *Client) HeaderByHash(ctx context.Context, hash common.Hash) (*ethtypes.Header, error) {
	var head *ethtypes.Header
	if err := c.do(ctx, &head, true, eth1v.MethodGetBlockByHash, hash, false); err != nil {
		return nil, err
	}
	if head.Hash() != hash {
		return nil, fmt.Errorf("header hashes to %s, requested %s", head.Hash(), hash)
	}
	return head, nil
}

// RPCTransaction is a transaction together with its position in the chain.
type RPCTransaction struct {
	Tx *ethtypes.Transaction
	TxExtraDetail
}

// TxExtraDetail holds the fields of a transaction result not covered by the
// transaction itself. They are nil for pending transactions.
type TxExtraDetail struct {
	BlockNumber *hexutil.Big    `json:"blockNumber,omitempty"`
	BlockHash   *common.Hash    `json:"blockHash,omitempty"`
	From        *common.Address `json:"from,omitempty"`
}

func (tx *RPCTransaction) UnmarshalJSON(b []byte) error {
	if err := json.Unmarshal(b, &tx.Tx); err != nil {
		return err
	}
	return json.Unmarshal(b, &tx.TxExtraDetail)
}

// TransactionByHash returns the transaction with the given hash.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*RPCTransaction, error) {
	var tx *RPCTransaction
	if err := c.call(ctx, &tx, eth1v.MethodGetTransaction, hash); err != nil {
		return nil, err
	}
	if tx.Tx.Hash() != hash {
		return nil, fmt.Errorf("transaction hashes to %s, requested %s", tx.Tx.Hash(), hash)
	}
	return tx, nil
}

// TransactionReceipt returns the receipt of a mined transaction.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	var r *ethtypes.Receipt
	if err := c.call(ctx, &r, eth1v.MethodGetReceipt, hash); err != nil {
		return nil, err
	}
	return r, nil
}

// SendTransaction submits a signed transaction and returns its hash.
func (c *Client) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) (common.Hash, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	if err := c.call(ctx, &hash, eth1v.MethodSendRawTransaction, hexutil.Encode(raw)); err != nil {
		return common.Hash{}, err
	}
	if hash != tx.Hash() {
		return common.Hash{}, fmt.Errorf("node returned hash %s for transaction %s", hash, tx.Hash())
	}
	return hash, nil
}
