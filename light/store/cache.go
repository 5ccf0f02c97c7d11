package store

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fxamacker/cbor/v2"

	"github.com/incubed/in3-go/light/nodelist"
	"github.com/incubed/in3-go/types"
)

// CacheVersion is the first byte of every cached value. Values written by a
// different version are ignored.
const CacheVersion byte = 3

var (
	// ErrVersionMismatch is returned for values written by another cache
	// version.
	ErrVersionMismatch = errors.New("cache version mismatch")
	// ErrCorrupted is returned for values that can not be decoded.
	ErrCorrupted = errors.New("corrupted cache entry")
)

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// NodeListKey is the key the node list of chainID is cached under.
func NodeListKey(chainID types.ChainID) []byte {
	return []byte("nodelist_" + chainID.String())
}

// AnchorKey is the key the trust anchor of chainID is cached under.
func AnchorKey(chainID types.ChainID) []byte {
	return []byte("anchor_" + chainID.String())
}

type cachedEntry struct {
	URL          string `cbor:"1,keyasint"`
	Address      []byte `cbor:"2,keyasint"`
	Index        uint64 `cbor:"3,keyasint"`
	Deposit      []byte `cbor:"4,keyasint,omitempty"`
	Props        uint64 `cbor:"5,keyasint"`
	Timeout      uint64 `cbor:"6,keyasint,omitempty"`
	RegisterTime uint64 `cbor:"7,keyasint,omitempty"`
	Capacity     uint64 `cbor:"8,keyasint,omitempty"`

	Weight           float64 `cbor:"9,keyasint"`
	BlacklistedUntil int64   `cbor:"10,keyasint,omitempty"`
	Failures         int     `cbor:"11,keyasint,omitempty"`
	LastSuccess      int64   `cbor:"12,keyasint,omitempty"`
	Seed             bool    `cbor:"13,keyasint,omitempty"`
	Delisted         bool    `cbor:"14,keyasint,omitempty"`
	Responses        uint64  `cbor:"15,keyasint,omitempty"`
	ResponseTime     int64   `cbor:"16,keyasint,omitempty"`
}

type cachedNodeList struct {
	ChainID    uint64        `cbor:"1,keyasint"`
	LastBlock  uint64        `cbor:"2,keyasint"`
	Contract   []byte        `cbor:"3,keyasint,omitempty"`
	RegistryID []byte        `cbor:"4,keyasint,omitempty"`
	Entries    []cachedEntry `cbor:"5,keyasint"`
}

type cachedAnchor struct {
	ChainID uint64 `cbor:"1,keyasint"`
	Number  uint64 `cbor:"2,keyasint"`
	Hash    []byte `cbor:"3,keyasint"`
	Bits    uint32 `cbor:"4,keyasint,omitempty"`
	Time    int64  `cbor:"5,keyasint,omitempty"`
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// SaveNodeList caches a registry snapshot.
func SaveNodeList(s Store, snap nodelist.Snapshot) error {
	c := cachedNodeList{
		ChainID:    uint64(snap.ChainID),
		LastBlock:  snap.LastBlock,
		Contract:   snap.Contract.Bytes(),
		RegistryID: snap.RegistryID.Bytes(),
		Entries:    make([]cachedEntry, len(snap.Entries)),
	}
	for i, e := range snap.Entries {
		n := e.Node
		ce := cachedEntry{
			URL:              n.URL,
			Address:          n.Address.Bytes(),
			Index:            n.Index,
			Props:            uint64(n.Props),
			Timeout:          n.Timeout,
			RegisterTime:     n.RegisterTime,
			Capacity:         n.Weight,
			Weight:           e.Weight,
			BlacklistedUntil: unixNano(e.BlacklistedUntil),
			Failures:         e.Failures,
			LastSuccess:      unixNano(e.LastSuccess),
			Seed:             e.Seed,
			Delisted:         e.Delisted,
			Responses:        e.Responses,
			ResponseTime:     int64(e.ResponseTime),
		}
		if n.Deposit != nil {
			ce.Deposit = n.Deposit.ToInt().Bytes()
		}
		c.Entries[i] = ce
	}
	return save(s, NodeListKey(snap.ChainID), c)
}

// LoadNodeList loads the cached registry snapshot of chainID.
func LoadNodeList(s Store, chainID types.ChainID) (nodelist.Snapshot, error) {
	var c cachedNodeList
	if err := load(s, NodeListKey(chainID), &c); err != nil {
		return nodelist.Snapshot{}, err
	}
	if types.ChainID(c.ChainID) != chainID {
		return nodelist.Snapshot{}, fmt.Errorf("%w: node list of chain %v stored for %v",
			ErrCorrupted, types.ChainID(c.ChainID), chainID)
	}

	snap := nodelist.Snapshot{
		ChainID:    chainID,
		LastBlock:  c.LastBlock,
		Contract:   common.BytesToAddress(c.Contract),
		RegistryID: common.BytesToHash(c.RegistryID),
		Entries:    make([]nodelist.Entry, len(c.Entries)),
	}
	for i, ce := range c.Entries {
		n := types.Node{
			URL:          ce.URL,
			Address:      common.BytesToAddress(ce.Address),
			Index:        ce.Index,
			Props:        types.NodeProps(ce.Props),
			Timeout:      ce.Timeout,
			RegisterTime: ce.RegisterTime,
			Weight:       ce.Capacity,
		}
		if len(ce.Deposit) > 0 {
			n.Deposit = (*hexutil.Big)(new(big.Int).SetBytes(ce.Deposit))
		}
		snap.Entries[i] = nodelist.Entry{
			Node:             n,
			Weight:           ce.Weight,
			BlacklistedUntil: fromUnixNano(ce.BlacklistedUntil),
			Failures:         ce.Failures,
			LastSuccess:      fromUnixNano(ce.LastSuccess),
			Seed:             ce.Seed,
			Delisted:         ce.Delisted,
			Responses:        ce.Responses,
			ResponseTime:     time.Duration(ce.ResponseTime),
		}
	}
	return snap, nil
}

// SaveAnchor caches a trust anchor.
func SaveAnchor(s Store, a types.TrustAnchor) error {
	return save(s, AnchorKey(a.ChainID), cachedAnchor{
		ChainID: uint64(a.ChainID),
		Number:  a.Number,
		Hash:    a.Hash.Bytes(),
		Bits:    a.Bits,
		Time:    unixNano(a.Time),
	})
}

// LoadAnchor loads the cached trust anchor of chainID.
func LoadAnchor(s Store, chainID types.ChainID) (*types.TrustAnchor, error) {
	var c cachedAnchor
	if err := load(s, AnchorKey(chainID), &c); err != nil {
		return nil, err
	}
	if types.ChainID(c.ChainID) != chainID || len(c.Hash) != common.HashLength {
		return nil, fmt.Errorf("%w: bad anchor for chain %v", ErrCorrupted, chainID)
	}
	return &types.TrustAnchor{
		ChainID: chainID,
		Number:  c.Number,
		Hash:    common.BytesToHash(c.Hash),
		Bits:    c.Bits,
		Time:    fromUnixNano(c.Time),
	}, nil
}

func save(s Store, key []byte, v interface{}) error {
	bz, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(key, append([]byte{CacheVersion}, bz...))
}

func load(s Store, key []byte, v interface{}) error {
	bz, err := s.Get(key)
	if err != nil {
		return err
	}
	if len(bz) == 0 {
		return fmt.Errorf("%w: empty value for %s", ErrCorrupted, key)
	}
	if bz[0] != CacheVersion {
		return fmt.Errorf("%w: %s has version %d, want %d", ErrVersionMismatch, key, bz[0], CacheVersion)
	}
	if err := cbor.Unmarshal(bz[1:], v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupted, key, err)
	}
	return nil
}
