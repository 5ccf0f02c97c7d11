package store_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incubed/in3-go/light/nodelist"
	"github.com/incubed/in3-go/light/store"
	"github.com/incubed/in3-go/light/store/db"
	"github.com/incubed/in3-go/types"
)

var bigComparer = cmp.Comparer(func(a, b *hexutil.Big) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ToInt().Cmp(b.ToInt()) == 0
})

func testSnapshot() nodelist.Snapshot {
	now := time.Date(2021, 3, 4, 5, 6, 7, 8, time.UTC)
	return nodelist.Snapshot{
		ChainID:    types.ChainMainnet,
		LastBlock:  12345,
		Contract:   common.HexToAddress("0xac1b824795e1eb1f6e609fe0da9b9af8beaab60f"),
		RegistryID: common.HexToHash("0x23d5345c5c13180a8080bd5ddbe7cde64683755dcce6e734d95b7b573845facb"),
		Entries: []nodelist.Entry{
			{
				Node: types.Node{
					URL:     "https://a.example",
					Address: common.HexToAddress("0x01"),
					Index:   0,
					Deposit: (*hexutil.Big)(big.NewInt(1e18)),
					Props:   types.PropProof | types.PropSigner,
					Weight:  3,
				},
				Weight:       2.5,
				LastSuccess:  now,
				Responses:    4,
				ResponseTime: 2 * time.Second,
				Seed:         true,
			},
			{
				Node:             types.Node{URL: "https://b.example", Index: 1},
				Weight:           0,
				BlacklistedUntil: now.Add(time.Hour),
				Failures:         3,
				Delisted:         true,
			},
		},
	}
}

func TestNodeListCache(t *testing.T) {
	s := db.NewMem()

	_, err := store.LoadNodeList(s, types.ChainMainnet)
	require.ErrorIs(t, err, store.ErrNotFound)

	snap := testSnapshot()
	require.NoError(t, store.SaveNodeList(s, snap))

	loaded, err := store.LoadNodeList(s, types.ChainMainnet)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, loaded, bigComparer); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	// other chains are not affected
	_, err = store.LoadNodeList(s, types.ChainGoerli)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestAnchorCache(t *testing.T) {
	s := db.NewMem()

	anchor := types.TrustAnchor{
		ChainID: types.ChainBTC,
		Number:  700000,
		Hash:    common.HexToHash("0x0000000000000000000590fc0f3eba193a278534220b2b37e9849e1a770ca959"),
		Bits:    0x170ed0eb,
		Time:    time.Unix(1631333672, 0).UTC(),
	}
	require.NoError(t, store.SaveAnchor(s, anchor))

	loaded, err := store.LoadAnchor(s, types.ChainBTC)
	require.NoError(t, err)
	assert.Equal(t, anchor, *loaded)
}

func TestCacheRejectsForeignData(t *testing.T) {
	s := db.NewMem()
	key := store.NodeListKey(types.ChainMainnet)

	require.NoError(t, store.SaveNodeList(s, testSnapshot()))
	bz, err := s.Get(key)
	require.NoError(t, err)

	// older cache version
	old := append([]byte{store.CacheVersion - 1}, bz[1:]...)
	require.NoError(t, s.Set(key, old))
	_, err = store.LoadNodeList(s, types.ChainMainnet)
	require.ErrorIs(t, err, store.ErrVersionMismatch)

	// garbage
	require.NoError(t, s.Set(key, []byte{store.CacheVersion, 0xff, 0x00, 0x13}))
	_, err = store.LoadNodeList(s, types.ChainMainnet)
	require.ErrorIs(t, err, store.ErrCorrupted)

	// snapshot of another chain stored under the wrong key
	goerli := testSnapshot()
	goerli.ChainID = types.ChainGoerli
	require.NoError(t, store.SaveNodeList(s, goerli))
	bz, err = s.Get(store.NodeListKey(types.ChainGoerli))
	require.NoError(t, err)
	require.NoError(t, s.Set(key, bz))
	_, err = store.LoadNodeList(s, types.ChainMainnet)
	require.ErrorIs(t, err, store.ErrCorrupted)
}
