package eth1_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incubed/in3-go/api/eth1"
	"github.com/incubed/in3-go/light"
	"github.com/incubed/in3-go/types"
)

// fakeExecutor answers with a fixed result and remembers the last request.
type fakeExecutor struct {
	result string
	err    error
	last   *types.Request
}

func (f *fakeExecutor) Execute(_ context.Context, req *types.Request) (*light.Result, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &light.Result{Value: []byte(f.result)}, nil
}

func (f *fakeExecutor) params(t *testing.T) []interface{} {
	t.Helper()
	var out []interface{}
	require.NoError(t, json.Unmarshal(f.last.Params, &out))
	return out
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	bz, err := json.Marshal(v)
	require.NoError(t, err)
	return string(bz)
}

var account = common.HexToAddress("0x000000000000000000000000000000000000c0de")

func TestBalanceAt(t *testing.T) {
	exec := &fakeExecutor{result: `"0xde0b6b3a7640000"`}
	c := eth1.New(exec, types.ChainMainnet, eth1.Finality(2))

	bal, err := c.BalanceAt(context.Background(), account, nil)
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", bal.String())

	assert.Equal(t, "eth_getBalance", exec.last.Method)
	assert.Equal(t, types.ChainMainnet, exec.last.ChainID)
	assert.Equal(t, types.ProofStandard, exec.last.Proof)
	assert.EqualValues(t, 2, exec.last.Finality)
	assert.Equal(t, []interface{}{account.Hex(), "latest"}, exec.params(t))

	assert.False(t, exec.last.Historic)

	_, err = c.BalanceAt(context.Background(), account, big.NewInt(255))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{account.Hex(), "0xff"}, exec.params(t))
	assert.True(t, exec.last.Historic)
}

func TestExplicitBlocksAreHistoric(t *testing.T) {
	ctx := context.Background()
	old := big.NewInt(1)

	testCases := []struct {
		name string
		call func(c *eth1.Client) error
	}{
		{"nonce", func(c *eth1.Client) error { _, err := c.NonceAt(ctx, account, old); return err }},
		{"code", func(c *eth1.Client) error { _, err := c.CodeAt(ctx, account, old); return err }},
		{"storage", func(c *eth1.Client) error { _, err := c.StorageAt(ctx, account, common.Hash{}, old); return err }},
		{"header", func(c *eth1.Client) error { _, err := c.HeaderByNumber(ctx, old); return err }},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			exec := &fakeExecutor{err: errors.New("no node")}
			require.Error(t, tc.call(eth1.New(exec, types.ChainMainnet)))
			assert.True(t, exec.last.Historic)
		})
	}

	exec := &fakeExecutor{err: errors.New("no node")}
	_, err := eth1.New(exec, types.ChainMainnet).NonceAt(ctx, account, nil)
	require.Error(t, err)
	assert.False(t, exec.last.Historic)
}

func TestScalarResults(t *testing.T) {
	exec := &fakeExecutor{}
	c := eth1.New(exec, types.ChainGoerli, eth1.Proof(types.ProofNone))
	ctx := context.Background()

	exec.result = `"0x10"`
	n, err := c.BlockNumber(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 16, n)
	assert.Equal(t, types.ProofNone, exec.last.Proof)

	exec.result = `"0x5"`
	id, err := c.ChainID(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, id.Int64())

	exec.result = `"0x3"`
	nonce, err := c.NonceAt(ctx, account, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, nonce)

	exec.result = `"0x6001"`
	code, err := c.CodeAt(ctx, account, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x01}, code)

	exec.result = `"0x2a"`
	key := common.HexToHash("0x01")
	value, err := c.StorageAt(ctx, account, key, nil)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x2a"), value)
	assert.Equal(t, []interface{}{account.Hex(), key.Hex(), "latest"}, exec.params(t))
}

func TestHeaderByHash(t *testing.T) {
	head := &ethtypes.Header{
		ParentHash: common.HexToHash("0x01"),
		Number:     big.NewInt(100),
		Difficulty: big.NewInt(1),
		GasLimit:   30_000_000,
		Time:       1672671845,
		Extra:      []byte{},
	}
	exec := &fakeExecutor{result: mustJSON(t, head)}
	c := eth1.New(exec, types.ChainMainnet)

	got, err := c.HeaderByHash(context.Background(), head.Hash())
	require.NoError(t, err)
	assert.Equal(t, head.Hash(), got.Hash())
	assert.Equal(t, []interface{}{head.Hash().Hex(), false}, exec.params(t))

	_, err = c.HeaderByHash(context.Background(), common.HexToHash("0xbad"))
	assert.Error(t, err)

	got, err = c.HeaderByNumber(context.Background(), big.NewInt(100))
	require.NoError(t, err)
	assert.EqualValues(t, 100, got.Number.Int64())
	assert.Equal(t, []interface{}{"0x64", false}, exec.params(t))
}

func signedTx(t *testing.T) *ethtypes.Transaction {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	tx, err := ethtypes.SignTx(ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    7,
		GasPrice: big.NewInt(1e9),
		Gas:      21000,
		To:       &account,
		Value:    big.NewInt(1),
	}), ethtypes.HomesteadSigner{}, key)
	require.NoError(t, err)
	return tx
}

func TestTransactionByHash(t *testing.T) {
	tx := signedTx(t)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(mustJSON(t, tx)), &fields))
	fields["blockNumber"] = "0x64"
	fields["blockHash"] = common.HexToHash("0x64").Hex()

	exec := &fakeExecutor{result: mustJSON(t, fields)}
	c := eth1.New(exec, types.ChainMainnet)

	got, err := c.TransactionByHash(context.Background(), tx.Hash())
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), got.Tx.Hash())
	require.NotNil(t, got.BlockNumber)
	assert.EqualValues(t, 100, got.BlockNumber.ToInt().Int64())
	assert.Equal(t, common.HexToHash("0x64"), *got.BlockHash)
}

func TestTransactionReceipt(t *testing.T) {
	tx := signedTx(t)
	r := &ethtypes.Receipt{
		Type:              ethtypes.LegacyTxType,
		Status:            ethtypes.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21000,
		Logs:              []*ethtypes.Log{},
		TxHash:            tx.Hash(),
		GasUsed:           21000,
		BlockNumber:       big.NewInt(100),
	}
	exec := &fakeExecutor{result: mustJSON(t, r)}
	c := eth1.New(exec, types.ChainMainnet)

	got, err := c.TransactionReceipt(context.Background(), tx.Hash())
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), got.TxHash)
	assert.Equal(t, ethtypes.ReceiptStatusSuccessful, got.Status)
}

func TestSendTransaction(t *testing.T) {
	tx := signedTx(t)
	exec := &fakeExecutor{result: mustJSON(t, tx.Hash())}
	c := eth1.New(exec, types.ChainMainnet)

	hash, err := c.SendTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), hash)

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{hexutil.Encode(raw)}, exec.params(t))

	exec.result = mustJSON(t, common.HexToHash("0x01"))
	_, err = c.SendTransaction(context.Background(), tx)
	assert.Error(t, err)
}

func TestErrors(t *testing.T) {
	exec := &fakeExecutor{result: `null`}
	c := eth1.New(exec, types.ChainMainnet)

	_, err := c.TransactionReceipt(context.Background(), common.HexToHash("0x01"))
	assert.ErrorIs(t, err, eth1.ErrNotFound)

	exec.err = light.ErrExhaustedRetries{Attempts: 3}
	_, err = c.BlockNumber(context.Background())
	var exhausted light.ErrExhaustedRetries
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}
