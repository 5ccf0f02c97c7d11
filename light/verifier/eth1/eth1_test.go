package eth1_test

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/rawdb"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/light/verifier/eth1"
	"github.com/incubed/in3-go/types"
)

var (
	alice    = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	registry = common.HexToAddress("0x00000000000000000000000000000000000c0de5")
	balance  = big.NewInt(1_000_000_000_000_000_000)
)

// proofList collects the nodes of a merkle proof.
type proofList []hexutil.Bytes

func (l *proofList) Put(_ []byte, value []byte) error {
	*l = append(*l, common.CopyBytes(value))
	return nil
}

func (l *proofList) Delete([]byte) error { panic("not supported") }

func newTrie() *trie.Trie {
	return trie.NewEmpty(trie.NewDatabase(rawdb.NewMemoryDatabase(), nil))
}

func prove(t *testing.T, tr *trie.Trie, key []byte) []hexutil.Bytes {
	t.Helper()
	var l proofList
	require.NoError(t, tr.Prove(key, &l))
	return l
}

// chain builds proven state for a single block.
type chain struct {
	t      *testing.T
	key    *ecdsa.PrivateKey
	signer common.Address

	state    *trie.Trie
	storage  *trie.Trie
	accounts map[common.Address]*ethtypes.StateAccount
	slots    map[string]*big.Int // registry storage
}

func newChain(t *testing.T) *chain {
	key, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)

	c := &chain{
		t:        t,
		key:      key,
		signer:   crypto.PubkeyToAddress(key.PublicKey),
		state:    newTrie(),
		storage:  newTrie(),
		accounts: make(map[common.Address]*ethtypes.StateAccount),
		slots:    make(map[string]*big.Int),
	}

	c.addAccount(alice, &ethtypes.StateAccount{
		Nonce: 7, Balance: balance, Root: ethtypes.EmptyRootHash, CodeHash: ethtypes.EmptyCodeHash.Bytes(),
	})
	// registry with 3 nodes in slot 0
	c.setSlot(new(big.Int), big.NewInt(3))
	c.updateRegistry()
	return c
}

func (c *chain) setSlot(slot, value *big.Int) {
	enc, err := rlp.EncodeToBytes(value.Bytes())
	require.NoError(c.t, err)
	require.NoError(c.t, c.storage.Update(crypto.Keccak256(common.BigToHash(slot).Bytes()), enc))
	c.slots[slot.String()] = value
}

func (c *chain) updateRegistry() {
	c.addAccount(registry, &ethtypes.StateAccount{
		Nonce: 1, Balance: new(big.Int), Root: c.storage.Hash(), CodeHash: crypto.Keccak256([]byte{0x60, 0x00}),
	})
}

// registerNodes writes the registry entries of nodes. Headers built
// afterwards commit to them.
func (c *chain) registerNodes(nodes ...types.Node) {
	for _, n := range nodes {
		slots, values := eth1.NodeSlots(n)
		for i := range slots {
			c.setSlot(slots[i], values[i])
		}
	}
	c.updateRegistry()
}

func (c *chain) addAccount(addr common.Address, acc *ethtypes.StateAccount) {
	enc, err := rlp.EncodeToBytes(acc)
	require.NoError(c.t, err)
	require.NoError(c.t, c.state.Update(crypto.Keccak256(addr.Bytes()), enc))
	c.accounts[addr] = acc
}

func (c *chain) header(number int64) *ethtypes.Header {
	return &ethtypes.Header{
		ParentHash:  common.HexToHash("0xfeed"),
		UncleHash:   ethtypes.EmptyUncleHash,
		Root:        c.state.Hash(),
		TxHash:      ethtypes.EmptyTxsHash,
		ReceiptHash: ethtypes.EmptyReceiptsHash,
		Difficulty:  big.NewInt(1),
		Number:      big.NewInt(number),
		GasLimit:    30_000_000,
		Time:        1_600_000_000,
		Extra:       []byte("in3"),
	}
}

func (c *chain) sign(h *ethtypes.Header) eth1.Signature {
	msg := eth1.SignedMessage(h.Hash(), h.Number.Uint64())
	sig, err := crypto.Sign(msg.Bytes(), c.key)
	require.NoError(c.t, err)
	return eth1.Signature{
		BlockHash: h.Hash(),
		Block:     hexutil.Uint64(h.Number.Uint64()),
		R:         common.BytesToHash(sig[:32]),
		S:         common.BytesToHash(sig[32:64]),
		V:         hexutil.Uint64(sig[64]) + 27,
		MsgHash:   msg,
	}
}

func (c *chain) accountProof(addr common.Address, slots ...*big.Int) *eth1.AccountProof {
	acc := c.accounts[addr]
	ap := &eth1.AccountProof{
		Address:      addr,
		AccountProof: prove(c.t, c.state, crypto.Keccak256(addr.Bytes())),
		CodeHash:     common.BytesToHash(acc.CodeHash),
		StorageHash:  acc.Root,
	}
	ap.Balance.Set(acc.Balance)
	ap.Nonce.SetUint64(acc.Nonce)
	for _, slot := range slots {
		sp := eth1.StorageProof{Proof: prove(c.t, c.storage, crypto.Keccak256(common.BigToHash(slot).Bytes()))}
		sp.Key.Set(slot)
		if v, ok := c.slots[slot.String()]; ok {
			sp.Value.Set(v)
		}
		ap.StorageProof = append(ap.StorageProof, sp)
	}
	return ap
}

func encodeHeader(t *testing.T, h *ethtypes.Header) hexutil.Bytes {
	bz, err := rlp.EncodeToBytes(h)
	require.NoError(t, err)
	return bz
}

func response(t *testing.T, result interface{}, p *eth1.Proof) *types.Response {
	res, err := json.Marshal(result)
	require.NoError(t, err)
	resp := &types.Response{Result: res, Node: "http://node"}
	if p != nil {
		proof, err := json.Marshal(p)
		require.NoError(t, err)
		resp.In3 = &types.In3Response{Proof: proof}
	}
	return resp
}

func (c *chain) request(method string, params ...interface{}) *types.Request {
	req, err := types.NewRequest(types.ChainMainnet, method, params...)
	require.NoError(c.t, err)
	req.Signatures = 1
	req.Signers = []common.Address{c.signer}
	return req
}

func (c *chain) balanceProof(h *ethtypes.Header) *eth1.Proof {
	return &eth1.Proof{
		Type:       "accountProof",
		Block:      encodeHeader(c.t, h),
		Accounts:   map[common.Address]*eth1.AccountProof{alice: c.accountProof(alice)},
		Signatures: []eth1.Signature{c.sign(h)},
	}
}

func TestVerifyBalance(t *testing.T) {
	c := newChain(t)
	v := eth1.New()
	h := c.header(100)
	req := c.request(eth1.MethodGetBalance, alice, "latest")

	res := v.Verify(context.Background(), req, response(t, hexutil.EncodeBig(balance), c.balanceProof(h)), nil)
	require.NoError(t, res.Reason)
	require.True(t, res.Accepted)
	require.NotNil(t, res.Anchor)
	assert.EqualValues(t, 100, res.Anchor.Number)
	assert.Equal(t, h.Hash(), res.Anchor.Hash)
	assert.Equal(t, types.ChainMainnet, res.Anchor.ChainID)

	// the same block again does not advance the anchor
	res = v.Verify(context.Background(), req, response(t, hexutil.EncodeBig(balance), c.balanceProof(h)), res.Anchor)
	require.True(t, res.Accepted)
	assert.Nil(t, res.Anchor)
}

func TestVerifyBalanceRejectsTampering(t *testing.T) {
	c := newChain(t)
	v := eth1.New()
	h := c.header(100)
	ctx := context.Background()

	t.Run("tampered result", func(t *testing.T) {
		req := c.request(eth1.MethodGetBalance, alice, "latest")
		res := v.Verify(ctx, req, response(t, "0x1", c.balanceProof(h)), nil)
		assert.False(t, res.Accepted)
		assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)
	})

	t.Run("tampered proof node", func(t *testing.T) {
		req := c.request(eth1.MethodGetBalance, alice, "latest")
		p := c.balanceProof(h)
		nodes := p.Accounts[alice].AccountProof
		last := nodes[len(nodes)-1]
		last[len(last)-1] ^= 0xff
		res := v.Verify(ctx, req, response(t, hexutil.EncodeBig(balance), p), nil)
		assert.False(t, res.Accepted)
		assert.Error(t, res.Reason)
	})

	t.Run("claimed balance differs from proof", func(t *testing.T) {
		req := c.request(eth1.MethodGetBalance, alice, "latest")
		p := c.balanceProof(h)
		p.Accounts[alice].Balance.SetUint64(1)
		res := v.Verify(ctx, req, response(t, "0x1", p), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)
	})

	t.Run("wrong block", func(t *testing.T) {
		req := c.request(eth1.MethodGetBalance, alice, "0x63")
		res := v.Verify(ctx, req, response(t, hexutil.EncodeBig(balance), c.balanceProof(h)), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)
	})

	t.Run("no signature", func(t *testing.T) {
		req := c.request(eth1.MethodGetBalance, alice, "latest")
		p := c.balanceProof(h)
		p.Signatures = nil
		res := v.Verify(ctx, req, response(t, hexutil.EncodeBig(balance), p), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrSignatureMismatch)
	})

	t.Run("signer not requested", func(t *testing.T) {
		req := c.request(eth1.MethodGetBalance, alice, "latest")
		req.Signers = []common.Address{common.HexToAddress("0x1234")}
		res := v.Verify(ctx, req, response(t, hexutil.EncodeBig(balance), c.balanceProof(h)), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrSignatureMismatch)
	})

	t.Run("signature for another block", func(t *testing.T) {
		req := c.request(eth1.MethodGetBalance, alice, "latest")
		p := c.balanceProof(h)
		p.Signatures = []eth1.Signature{c.sign(c.header(101))}
		res := v.Verify(ctx, req, response(t, hexutil.EncodeBig(balance), p), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrSignatureMismatch)
	})

	t.Run("missing proof", func(t *testing.T) {
		req := c.request(eth1.MethodGetBalance, alice, "latest")
		res := v.Verify(ctx, req, response(t, hexutil.EncodeBig(balance), nil), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrMissingProof)
	})

	t.Run("missing account", func(t *testing.T) {
		req := c.request(eth1.MethodGetBalance, alice, "latest")
		p := c.balanceProof(h)
		p.Accounts = nil
		res := v.Verify(ctx, req, response(t, hexutil.EncodeBig(balance), p), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrMissingProof)
	})
}

func TestVerifyAgainstAnchor(t *testing.T) {
	c := newChain(t)
	v := eth1.New(eth1.MaxBlockAge(256))
	ctx := context.Background()

	t.Run("stale", func(t *testing.T) {
		anchor := &types.TrustAnchor{ChainID: types.ChainMainnet, Number: 1000, Hash: common.HexToHash("0x1000")}
		req := c.request(eth1.MethodGetBalance, alice, "latest")
		res := v.Verify(ctx, req, response(t, hexutil.EncodeBig(balance), c.balanceProof(c.header(100))), anchor)
		assert.ErrorIs(t, res.Reason, verifier.ErrStaleAnchor)

		req.Historic = true
		res = v.Verify(ctx, req, response(t, hexutil.EncodeBig(balance), c.balanceProof(c.header(100))), anchor)
		require.True(t, res.Accepted)
		assert.Nil(t, res.Anchor)
	})

	t.Run("explicit old block", func(t *testing.T) {
		anchor := &types.TrustAnchor{ChainID: types.ChainMainnet, Number: 1000, Hash: common.HexToHash("0x1000")}
		req := c.request(eth1.MethodGetBalance, alice, "0x64")
		res := v.Verify(ctx, req, response(t, hexutil.EncodeBig(balance), c.balanceProof(c.header(100))), anchor)
		require.NoError(t, res.Reason)
		require.True(t, res.Accepted)
		assert.Nil(t, res.Anchor)
		assert.False(t, req.Historic)

		// signatures are still required
		p := c.balanceProof(c.header(100))
		p.Signatures = nil
		res = v.Verify(ctx, req, response(t, hexutil.EncodeBig(balance), p), anchor)
		assert.ErrorIs(t, res.Reason, verifier.ErrSignatureMismatch)
	})

	t.Run("child of anchor needs no signature", func(t *testing.T) {
		anchor := &types.TrustAnchor{ChainID: types.ChainMainnet, Number: 99, Hash: common.HexToHash("0xfeed")}
		req := c.request(eth1.MethodGetBalance, alice, "latest")
		p := c.balanceProof(c.header(100))
		p.Signatures = nil
		res := v.Verify(ctx, req, response(t, hexutil.EncodeBig(balance), p), anchor)
		require.NoError(t, res.Reason)
		require.NotNil(t, res.Anchor)
		assert.EqualValues(t, 100, res.Anchor.Number)
	})

	t.Run("conflicting block at anchor height", func(t *testing.T) {
		anchor := &types.TrustAnchor{ChainID: types.ChainMainnet, Number: 100, Hash: common.HexToHash("0xbad")}
		req := c.request(eth1.MethodGetBalance, alice, "latest")
		res := v.Verify(ctx, req, response(t, hexutil.EncodeBig(balance), c.balanceProof(c.header(100))), anchor)
		assert.ErrorIs(t, res.Reason, verifier.ErrHashMismatch)
	})
}

func TestVerifyFinality(t *testing.T) {
	c := newChain(t)
	v := eth1.New()
	h := c.header(100)

	child := c.header(101)
	child.ParentHash = h.Hash()

	req := c.request(eth1.MethodGetBalance, alice, "latest")
	req.Finality = 1

	p := c.balanceProof(h)
	res := v.Verify(context.Background(), req, response(t, hexutil.EncodeBig(balance), p), nil)
	assert.ErrorIs(t, res.Reason, verifier.ErrMissingProof)

	p.FinalityBlocks = []hexutil.Bytes{encodeHeader(t, child)}
	res = v.Verify(context.Background(), req, response(t, hexutil.EncodeBig(balance), p), nil)
	require.NoError(t, res.Reason)

	// unlinked finality block
	p.FinalityBlocks = []hexutil.Bytes{encodeHeader(t, c.header(101))}
	res = v.Verify(context.Background(), req, response(t, hexutil.EncodeBig(balance), p), nil)
	assert.ErrorIs(t, res.Reason, verifier.ErrHashMismatch)
}

func TestVerifyAccountMethods(t *testing.T) {
	c := newChain(t)
	v := eth1.New()
	h := c.header(100)
	ctx := context.Background()

	proof := &eth1.Proof{
		Block: encodeHeader(t, h),
		Accounts: map[common.Address]*eth1.AccountProof{
			alice:    c.accountProof(alice),
			registry: c.accountProof(registry, new(big.Int)),
		},
		Signatures: []eth1.Signature{c.sign(h)},
	}

	testCases := []struct {
		name    string
		req     *types.Request
		result  interface{}
		wantErr error
	}{
		{"nonce", c.request(eth1.MethodGetTransactionCount, alice, "latest"), "0x7", nil},
		{"wrong nonce", c.request(eth1.MethodGetTransactionCount, alice, "latest"), "0x8", verifier.ErrValueMismatch},
		{"code", c.request(eth1.MethodGetCode, registry, "latest"), "0x6000", nil},
		{"wrong code", c.request(eth1.MethodGetCode, registry, "latest"), "0x6001", verifier.ErrHashMismatch},
		{"empty code", c.request(eth1.MethodGetCode, alice, "latest"), "0x", nil},
		{"storage", c.request(eth1.MethodGetStorageAt, registry, "0x0", "latest"), "0x0000000000000000000000000000000000000000000000000000000000000003", nil},
		{"wrong storage", c.request(eth1.MethodGetStorageAt, registry, "0x0", "latest"), "0x4", verifier.ErrValueMismatch},
		{"unproven slot", c.request(eth1.MethodGetStorageAt, registry, "0x1", "latest"), "0x0", verifier.ErrMissingProof},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			res := v.Verify(ctx, tc.req, response(t, tc.result, proof), nil)
			if tc.wantErr != nil {
				assert.False(t, res.Accepted)
				assert.ErrorIs(t, res.Reason, tc.wantErr)
				return
			}
			require.NoError(t, res.Reason)
			assert.True(t, res.Accepted)
		})
	}
}

func TestVerifyBlockNumber(t *testing.T) {
	c := newChain(t)
	v := eth1.New()
	h := c.header(100)
	p := &eth1.Proof{Block: encodeHeader(t, h), Signatures: []eth1.Signature{c.sign(h)}}

	res := v.Verify(context.Background(), c.request(eth1.MethodBlockNumber), response(t, "0x64", p), nil)
	require.NoError(t, res.Reason)
	assert.EqualValues(t, 100, res.Anchor.Number)

	res = v.Verify(context.Background(), c.request(eth1.MethodBlockNumber), response(t, "0x65", p), nil)
	assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)
}

func signedTx(t *testing.T, key *ecdsa.PrivateKey) *ethtypes.Transaction {
	tx := ethtypes.NewTransaction(0, alice, big.NewInt(1000), 21000, big.NewInt(1_000_000_000), nil)
	signed, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(big.NewInt(1)), key)
	require.NoError(t, err)
	return signed
}

func txResult(t *testing.T, tx *ethtypes.Transaction, h *ethtypes.Header, from common.Address) map[string]interface{} {
	bz, err := tx.MarshalJSON()
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(bz, &out))
	out["blockHash"] = h.Hash()
	out["blockNumber"] = hexutil.Uint64(h.Number.Uint64())
	out["transactionIndex"] = "0x0"
	out["from"] = from
	return out
}

func TestVerifyTransactionAndReceipt(t *testing.T) {
	c := newChain(t)
	v := eth1.New()
	ctx := context.Background()
	tx := signedTx(t, c.key)

	key, err := rlp.EncodeToBytes(uint64(0))
	require.NoError(t, err)

	txs := newTrie()
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, txs.Update(key, raw))

	receipt := &ethtypes.Receipt{
		Status:            ethtypes.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21000,
		Logs: []*ethtypes.Log{{
			Address: registry,
			Topics:  []common.Hash{common.HexToHash("0x01")},
			Data:    []byte{0xca, 0xfe},
		}},
	}
	receipt.Bloom = ethtypes.CreateBloom(ethtypes.Receipts{receipt})
	receipts := newTrie()
	rawReceipt, err := receipt.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, receipts.Update(key, rawReceipt))

	h := c.header(100)
	h.TxHash = txs.Hash()
	h.ReceiptHash = receipts.Hash()

	t.Run("transaction", func(t *testing.T) {
		p := &eth1.Proof{
			Block:       encodeHeader(t, h),
			MerkleProof: prove(t, txs, key),
			Signatures:  []eth1.Signature{c.sign(h)},
		}
		req := c.request(eth1.MethodGetTransaction, tx.Hash())

		res := v.Verify(ctx, req, response(t, txResult(t, tx, h, c.signer), p), nil)
		require.NoError(t, res.Reason)
		assert.True(t, res.Accepted)

		// wrong sender
		res = v.Verify(ctx, req, response(t, txResult(t, tx, h, alice), p), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)

		// tampered value
		result := txResult(t, tx, h, c.signer)
		result["value"] = "0x1"
		res = v.Verify(ctx, req, response(t, result, p), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)

		// a different transaction
		other := c.request(eth1.MethodGetTransaction, common.HexToHash("0x1234"))
		res = v.Verify(ctx, other, response(t, txResult(t, tx, h, c.signer), p), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrHashMismatch)

		// absence can not be proven
		res = v.Verify(ctx, req, response(t, nil, p), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrUnsupported)
	})

	t.Run("receipt", func(t *testing.T) {
		p := &eth1.Proof{
			Block:       encodeHeader(t, h),
			TxProof:     prove(t, txs, key),
			MerkleProof: prove(t, receipts, key),
			Signatures:  []eth1.Signature{c.sign(h)},
		}
		req := c.request(eth1.MethodGetReceipt, tx.Hash())
		result := map[string]interface{}{
			"transactionHash":   tx.Hash(),
			"blockHash":         h.Hash(),
			"blockNumber":       "0x64",
			"transactionIndex":  "0x0",
			"from":              c.signer,
			"status":            "0x1",
			"cumulativeGasUsed": "0x5208",
			"logs": []map[string]interface{}{{
				"address": registry,
				"topics":  []common.Hash{common.HexToHash("0x01")},
				"data":    "0xcafe",
			}},
		}

		res := v.Verify(ctx, req, response(t, result, p), nil)
		require.NoError(t, res.Reason)
		assert.True(t, res.Accepted)

		result["status"] = "0x0"
		res = v.Verify(ctx, req, response(t, result, p), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)

		result["status"] = "0x1"
		result["logs"] = []interface{}{}
		res = v.Verify(ctx, req, response(t, result, p), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)
	})
}

func blockResult(t *testing.T, h *ethtypes.Header, txs []interface{}) map[string]interface{} {
	bz, err := json.Marshal(h)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(bz, &out))
	out["transactions"] = txs
	return out
}

func TestVerifyBlock(t *testing.T) {
	c := newChain(t)
	v := eth1.New()
	ctx := context.Background()
	tx := signedTx(t, c.key)

	h := c.header(100)
	h.TxHash = ethtypes.DeriveSha(ethtypes.Transactions{tx}, trie.NewStackTrie(nil))
	p := &eth1.Proof{Signatures: []eth1.Signature{c.sign(h)}}

	t.Run("full transactions", func(t *testing.T) {
		req := c.request(eth1.MethodGetBlockByNumber, "0x64", true)
		res := v.Verify(ctx, req, response(t, blockResult(t, h, []interface{}{tx}), p), nil)
		require.NoError(t, res.Reason)
		assert.EqualValues(t, 100, res.Anchor.Number)
	})

	t.Run("hashes with raw transactions", func(t *testing.T) {
		raw, err := tx.MarshalBinary()
		require.NoError(t, err)
		withRaw := *p
		withRaw.Transactions = []hexutil.Bytes{raw}

		req := c.request(eth1.MethodGetBlockByHash, h.Hash(), false)
		res := v.Verify(ctx, req, response(t, blockResult(t, h, []interface{}{tx.Hash()}), &withRaw), nil)
		require.NoError(t, res.Reason)

		// hashes alone can not be checked
		res = v.Verify(ctx, req, response(t, blockResult(t, h, []interface{}{tx.Hash()}), p), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrMissingProof)
	})

	t.Run("missing transaction", func(t *testing.T) {
		req := c.request(eth1.MethodGetBlockByNumber, "0x64", true)
		res := v.Verify(ctx, req, response(t, blockResult(t, h, []interface{}{}), p), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)
	})

	t.Run("tampered header field", func(t *testing.T) {
		req := c.request(eth1.MethodGetBlockByNumber, "0x64", true)
		result := blockResult(t, h, []interface{}{tx})
		result["gasUsed"] = "0x1"
		res := v.Verify(ctx, req, response(t, result, p), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrHashMismatch)
	})

	t.Run("other block requested", func(t *testing.T) {
		req := c.request(eth1.MethodGetBlockByHash, common.HexToHash("0x1"), true)
		res := v.Verify(ctx, req, response(t, blockResult(t, h, []interface{}{tx}), p), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrHashMismatch)
	})
}

func TestVerifyNodeList(t *testing.T) {
	c := newChain(t)
	v := eth1.New(eth1.Contract(types.ChainMainnet, registry))
	ctx := context.Background()

	registered := []types.Node{
		{URL: "https://a.example", Address: common.HexToAddress("0xa"), Props: types.PropProof | types.PropSigner,
			Deposit: (*hexutil.Big)(big.NewInt(10_000)), Timeout: 3600, RegisterTime: 1_500_000_000, Weight: 2000},
		{URL: "https://b.example", Address: common.HexToAddress("0xb"), Index: 1, Props: types.PropProof,
			Deposit: (*hexutil.Big)(big.NewInt(20_000)), Timeout: 3600, RegisterTime: 1_500_000_100, Weight: 1000},
		{URL: "https://c.example", Address: common.HexToAddress("0xc"), Index: 2, Props: types.PropProof,
			Deposit: (*hexutil.Big)(big.NewInt(30_000)), Timeout: 7200, RegisterTime: 1_500_000_200, Weight: 500},
	}
	c.registerNodes(registered...)

	h := c.header(100)
	nodeList := func(nodes ...types.Node) types.NodeList {
		return types.NodeList{
			Nodes:           nodes,
			Contract:        registry,
			LastBlockNumber: 90,
			TotalServers:    3,
		}
	}
	proofFor := func(nodes ...types.Node) *eth1.Proof {
		slots := []*big.Int{new(big.Int)}
		for _, n := range nodes {
			s, _ := eth1.NodeSlots(n)
			slots = append(slots, s...)
		}
		return &eth1.Proof{
			Block:      encodeHeader(t, h),
			Accounts:   map[common.Address]*eth1.AccountProof{registry: c.accountProof(registry, slots...)},
			Signatures: []eth1.Signature{c.sign(h)},
		}
	}
	req := c.request(eth1.MethodNodeList, 0, "0x", []common.Address{})

	nl := nodeList(registered[0], registered[1])
	p := proofFor(registered[0], registered[1])
	res := v.Verify(ctx, req, response(t, nl, p), nil)
	require.NoError(t, res.Reason)
	require.NotNil(t, res.NodeList)
	assert.Len(t, res.NodeList.Nodes, 2)

	wrongCount := nl
	wrongCount.TotalServers = 4
	res = v.Verify(ctx, req, response(t, wrongCount, p), nil)
	assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)

	foreign := nl
	foreign.Contract = alice
	res = v.Verify(ctx, req, response(t, foreign, p), nil)
	assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)

	future := nl
	future.LastBlockNumber = 101
	res = v.Verify(ctx, req, response(t, future, p), nil)
	assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)

	t.Run("tampered entries", func(t *testing.T) {
		evil := common.HexToAddress("0xbad0000000000000000000000000000000000bad")
		testCases := []struct {
			name   string
			tamper func(*types.Node)
		}{
			{"url", func(n *types.Node) { n.URL = "https://evil.example" }},
			{"signer", func(n *types.Node) { n.Address = evil }},
			{"props", func(n *types.Node) { n.Props |= types.PropSigner }},
			{"deposit", func(n *types.Node) { n.Deposit = (*hexutil.Big)(big.NewInt(1)) }},
			{"weight", func(n *types.Node) { n.Weight = 1 << 20 }},
			{"register time", func(n *types.Node) { n.RegisterTime++ }},
		}
		for _, tc := range testCases {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				n := registered[1]
				tc.tamper(&n)
				// the node delivers proofs for the slots of the claimed entry
				res := v.Verify(ctx, req, response(t, nodeList(registered[0], n), proofFor(registered[0], n)), nil)
				assert.False(t, res.Accepted)
				assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)
			})
		}
	})

	t.Run("made up nodes", func(t *testing.T) {
		evil := common.HexToAddress("0xbad0000000000000000000000000000000000bad")
		var nodes []types.Node
		for i := 0; i < 3; i++ {
			nodes = append(nodes, types.Node{
				URL: fmt.Sprintf("https://evil-%d.example", i), Address: evil, Index: uint64(i), Props: types.PropSigner,
			})
		}
		res := v.Verify(ctx, req, response(t, nodeList(nodes...), proofFor(registered...)), nil)
		assert.False(t, res.Accepted)
		assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)
	})

	t.Run("index out of range", func(t *testing.T) {
		n := registered[2]
		n.Index = 3
		res := v.Verify(ctx, req, response(t, nodeList(n), proofFor(registered[2])), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)
	})

	t.Run("duplicate index", func(t *testing.T) {
		n := registered[1]
		n.URL = "https://b2.example"
		n.Address = common.HexToAddress("0xb2")
		res := v.Verify(ctx, req, response(t, nodeList(registered[1], n), proofFor(registered[1])), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)
	})

	t.Run("missing slot proof", func(t *testing.T) {
		res := v.Verify(ctx, req, response(t, nl, proofFor(registered[0])), nil)
		assert.ErrorIs(t, res.Reason, verifier.ErrMissingProof)
	})
}

func TestVerifyWithoutProof(t *testing.T) {
	c := newChain(t)
	v := eth1.New()
	ctx := context.Background()

	res := v.Verify(ctx, c.request(eth1.MethodChainID), response(t, "0x1", nil), nil)
	require.NoError(t, res.Reason)
	res = v.Verify(ctx, c.request(eth1.MethodChainID), response(t, "0x5", nil), nil)
	assert.ErrorIs(t, res.Reason, verifier.ErrValueMismatch)

	tx := signedTx(t, c.key)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	req := c.request(eth1.MethodSendRawTransaction, hexutil.Bytes(raw))
	res = v.Verify(ctx, req, response(t, tx.Hash(), nil), nil)
	require.NoError(t, res.Reason)
	res = v.Verify(ctx, req, response(t, common.HexToHash("0x1"), nil), nil)
	assert.ErrorIs(t, res.Reason, verifier.ErrHashMismatch)

	res = v.Verify(ctx, c.request("eth_mining"), response(t, true, &eth1.Proof{}), nil)
	assert.ErrorIs(t, res.Reason, verifier.ErrUnsupported)
}
