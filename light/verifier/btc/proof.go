package btc

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"

	"github.com/incubed/in3-go/light/verifier"
)

const headerSize = 80

// Proof is the proof section a node attaches to bitcoin responses. All
// fields are hex encoded in bitcoin's serialization.
type Proof struct {
	// Block is the header of the block the result is taken from.
	Block string `json:"block,omitempty"`
	// Final are the headers built on top of Block, concatenated.
	Final string `json:"final,omitempty"`
	// Cbtx is the coinbase transaction of Block. It carries the block height.
	Cbtx string `json:"cbtx,omitempty"`
	// CbtxMerkleProof are the merkle siblings of the coinbase, concatenated.
	CbtxMerkleProof string `json:"cbtxMerkleProof,omitempty"`
	TxIndex         uint32 `json:"txIndex,omitempty"`
	// MerkleProof are the merkle siblings of the requested transaction.
	MerkleProof string `json:"merkleProof,omitempty"`
}

func decodeHex(field, s string) ([]byte, error) {
	bz, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", verifier.ErrMalformedProof, field, err)
	}
	return bz, nil
}

func parseHeader(raw []byte) (*wire.BlockHeader, error) {
	if len(raw) != headerSize {
		return nil, fmt.Errorf("%w: header is %d bytes, want %d", verifier.ErrMalformedProof, len(raw), headerSize)
	}
	h := new(wire.BlockHeader)
	if err := h.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: header: %v", verifier.ErrMalformedProof, err)
	}
	return h, nil
}

func parseHeaders(raw []byte) ([]*wire.BlockHeader, error) {
	if len(raw)%headerSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes of headers", verifier.ErrMalformedProof, len(raw))
	}
	out := make([]*wire.BlockHeader, 0, len(raw)/headerSize)
	for i := 0; i < len(raw); i += headerSize {
		h, err := parseHeader(raw[i : i+headerSize])
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func parseTx(raw []byte) (*wire.MsgTx, error) {
	tx := new(wire.MsgTx)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: transaction: %v", verifier.ErrMalformedProof, err)
	}
	return tx, nil
}

// DisplayHash converts a hash to the byte order bitcoin uses to display it.
func DisplayHash(h chainhash.Hash) common.Hash {
	var out common.Hash
	for i := range h {
		out[len(h)-1-i] = h[i]
	}
	return out
}

// checkPoW verifies that the header hash meets the target encoded in its
// bits and that the target is within the limit of the network.
func (v *Verifier) checkPoW(h *wire.BlockHeader) error {
	target := blockchain.CompactToBig(h.Bits)
	if target.Sign() <= 0 || target.Cmp(v.params.PowLimit) > 0 {
		return fmt.Errorf("%w: target %064x out of range", verifier.ErrHashMismatch, target)
	}
	hash := h.BlockHash()
	if blockchain.HashToBig(&hash).Cmp(target) > 0 {
		return fmt.Errorf("%w: block %s does not meet its target", verifier.ErrHashMismatch, hash)
	}
	return nil
}

// checkTarget verifies that the target of h is in reach of the anchor. The
// target changes by at most a factor of 4 per retarget interval.
func (v *Verifier) checkTarget(h *wire.BlockHeader, height uint64, anchorBits uint32, anchorHeight uint64) error {
	if anchorBits == 0 {
		return nil
	}
	distance := height - anchorHeight
	if anchorHeight > height {
		distance = anchorHeight - height
	}
	interval := uint64(v.params.TargetTimespan / v.params.TargetTimePerBlock)
	periods := distance/interval + 1
	if periods > 16 {
		return nil
	}

	factor := new(big.Int).Lsh(big.NewInt(1), uint(2*periods))
	target := blockchain.CompactToBig(h.Bits)
	reference := blockchain.CompactToBig(anchorBits)
	upper := new(big.Int).Mul(reference, factor)
	lower := new(big.Int).Div(reference, factor)
	if target.Cmp(upper) > 0 || target.Cmp(lower) < 0 {
		return fmt.Errorf("%w: target of block #%d is out of reach of the anchor", verifier.ErrHashMismatch, height)
	}
	return nil
}

// checkFinality verifies that the finality headers build a valid chain on
// top of h.
func (v *Verifier) checkFinality(h *wire.BlockHeader, final []*wire.BlockHeader, want uint64) error {
	if uint64(len(final)) < want {
		return fmt.Errorf("%w: %d finality headers, want %d", verifier.ErrMissingProof, len(final), want)
	}
	prev := h.BlockHash()
	for i, f := range final {
		if f.PrevBlock != prev {
			return fmt.Errorf("%w: finality header #%d does not link to its parent", verifier.ErrHashMismatch, i)
		}
		if err := v.checkPoW(f); err != nil {
			return fmt.Errorf("finality header #%d: %w", i, err)
		}
		prev = f.BlockHash()
	}
	return nil
}

// merkleRoot computes the root of the branch proving leaf at index.
func merkleRoot(leaf chainhash.Hash, index uint32, branch []byte) (chainhash.Hash, error) {
	if len(branch)%chainhash.HashSize != 0 {
		return chainhash.Hash{}, fmt.Errorf("%w: merkle branch of %d bytes", verifier.ErrMalformedProof, len(branch))
	}
	var buf [2 * chainhash.HashSize]byte
	h := leaf
	for i := 0; i < len(branch); i += chainhash.HashSize {
		sibling := branch[i : i+chainhash.HashSize]
		if index&1 == 0 {
			copy(buf[:chainhash.HashSize], h[:])
			copy(buf[chainhash.HashSize:], sibling)
		} else {
			copy(buf[:chainhash.HashSize], sibling)
			copy(buf[chainhash.HashSize:], h[:])
		}
		h = chainhash.DoubleHashH(buf[:])
		index >>= 1
	}
	return h, nil
}

func checkInclusion(h *wire.BlockHeader, txHash chainhash.Hash, index uint32, branch []byte) error {
	root, err := merkleRoot(txHash, index, branch)
	if err != nil {
		return err
	}
	if root != h.MerkleRoot {
		return fmt.Errorf("%w: transaction %s is not in block %s", verifier.ErrHashMismatch, txHash, h.BlockHash())
	}
	return nil
}

// blockHeight proves the coinbase of h and reads the height it commits to.
func blockHeight(h *wire.BlockHeader, p *Proof) (uint64, error) {
	if p.Cbtx == "" {
		return 0, fmt.Errorf("%w: no coinbase transaction", verifier.ErrMissingProof)
	}
	raw, err := decodeHex("cbtx", p.Cbtx)
	if err != nil {
		return 0, err
	}
	branch, err := decodeHex("cbtxMerkleProof", p.CbtxMerkleProof)
	if err != nil {
		return 0, err
	}
	cb, err := parseTx(raw)
	if err != nil {
		return 0, err
	}
	if err := checkInclusion(h, cb.TxHash(), 0, branch); err != nil {
		return 0, fmt.Errorf("coinbase: %w", err)
	}
	if len(cb.TxIn) == 0 {
		return 0, fmt.Errorf("%w: coinbase without inputs", verifier.ErrMalformedProof)
	}
	height, err := blockchain.ExtractCoinbaseHeight(btcutil.NewTx(cb))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", verifier.ErrMalformedProof, err)
	}
	return uint64(height), nil
}
