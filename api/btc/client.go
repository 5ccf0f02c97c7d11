// Package btc is a typed Bitcoin API on top of the light client.
package btc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/incubed/in3-go/light"
	btcv "github.com/incubed/in3-go/light/verifier/btc"
	"github.com/incubed/in3-go/types"
)

// Client is a Bitcoin API backed by a verifying executor.
type Client struct {
	exec     light.Executor
	chainID  types.ChainID
	finality uint64
}

// New returns a Client for the bitcoin chain chainID. finality is the number
// of headers the node has to deliver on top of a proven block.
func New(exec light.Executor, chainID types.ChainID, finality uint64) *Client {
	return &Client{exec: exec, chainID: chainID, finality: finality}
}

func (c *Client) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	req, err := types.NewRequest(c.chainID, method, params...)
	if err != nil {
		return err
	}
	req.Finality = c.finality
	res, err := c.exec.Execute(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return fmt.Errorf("decoding result of %s: %w", method, err)
	}
	return nil
}

func (c *Client) callHex(ctx context.Context, method string, params ...interface{}) ([]byte, error) {
	var s string
	if err := c.call(ctx, &s, method, params...); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding result of %s: %w", method, err)
	}
	return raw, nil
}

// BlockCount returns the height of the most recent block.
func (c *Client) BlockCount(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.call(ctx, &n, btcv.MethodGetBlockCount)
	return n, err
}

// BlockHeader returns the header of the block with the given hash.
func (c *Client) BlockHeader(ctx context.Context, hash chainhash.Hash) (*wire.BlockHeader, error) {
	raw, err := c.callHex(ctx, btcv.MethodGetBlockHeader, hash.String(), false)
	if err != nil {
		return nil, err
	}
	var h wire.BlockHeader
	if err := h.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return &h, nil
}

// RawTransaction returns the transaction txid. blockHash may be nil; if it
// is set the transaction is proven to be part of that block.
func (c *Client) RawTransaction(ctx context.Context, txid chainhash.Hash, blockHash *chainhash.Hash) (*btcutil.Tx, error) {
	params := []interface{}{txid.String(), false}
	if blockHash != nil {
		params = append(params, blockHash.String())
	}
	raw, err := c.callHex(ctx, btcv.MethodGetRawTransaction, params...)
	if err != nil {
		return nil, err
	}
	return btcutil.NewTxFromBytes(raw)
}

// TotalOutput sums the values of all outputs of tx.
func TotalOutput(tx *btcutil.Tx) btcutil.Amount {
	var total btcutil.Amount
	for _, out := range tx.MsgTx().TxOut {
		total += btcutil.Amount(out.Value)
	}
	return total
}
