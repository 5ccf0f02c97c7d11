package eth1

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"

	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/types"
)

// Proof is the proof section a node attaches to eth responses.
type Proof struct {
	Type           string                           `json:"type"`
	Block          hexutil.Bytes                    `json:"block,omitempty"`
	FinalityBlocks []hexutil.Bytes                  `json:"finalityBlocks,omitempty"`
	Accounts       map[common.Address]*AccountProof `json:"accounts,omitempty"`
	TxProof        []hexutil.Bytes                  `json:"txProof,omitempty"`
	MerkleProof    []hexutil.Bytes                  `json:"merkleProof,omitempty"`
	TxIndex        uint64                           `json:"txIndex"`
	Transactions   []hexutil.Bytes                  `json:"transactions,omitempty"`
	Signatures     []Signature                      `json:"signatures,omitempty"`
}

// AccountProof is an eth_getProof style account proof.
type AccountProof struct {
	Address      common.Address  `json:"address"`
	AccountProof []hexutil.Bytes `json:"accountProof"`
	Balance      Quantity        `json:"balance"`
	CodeHash     common.Hash     `json:"codeHash"`
	Nonce        Quantity        `json:"nonce"`
	StorageHash  common.Hash     `json:"storageHash"`
	StorageProof []StorageProof  `json:"storageProof,omitempty"`
}

// StorageProof proves one storage slot of an account.
type StorageProof struct {
	Key   Quantity        `json:"key"`
	Value Quantity        `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

// Signature is a signer node's signature over a block hash.
type Signature struct {
	BlockHash common.Hash    `json:"blockHash"`
	Block     hexutil.Uint64 `json:"block"`
	R         common.Hash    `json:"r"`
	S         common.Hash    `json:"s"`
	V         hexutil.Uint64 `json:"v"`
	MsgHash   common.Hash    `json:"msgHash"`
}

// Quantity is a hex encoded unsigned integer that, unlike hexutil.Big,
// accepts leading zeros as used for storage keys.
type Quantity struct{ big.Int }

func (q *Quantity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := parseQuantity(s)
	if err != nil {
		return err
	}
	q.Int = *v
	return nil
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(hexutil.EncodeBig(&q.Int))
}

// Big returns the value as *big.Int.
func (q *Quantity) Big() *big.Int { return &q.Int }

func parseQuantity(s string) (*big.Int, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if digits == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(digits, 16)
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	return v, nil
}

func decodeProof(resp *types.Response) (*Proof, error) {
	if resp.In3 == nil || len(resp.In3.Proof) == 0 {
		return nil, fmt.Errorf("%w: response carries no proof", verifier.ErrMissingProof)
	}
	var p Proof
	if err := json.Unmarshal(resp.In3.Proof, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", verifier.ErrMalformedProof, err)
	}
	return &p, nil
}

func decodeHeader(raw []byte) (*ethtypes.Header, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no block header", verifier.ErrMissingProof)
	}
	var h ethtypes.Header
	if err := rlp.DecodeBytes(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", verifier.ErrMalformedProof, err)
	}
	return &h, nil
}

// SignedMessage is what signer nodes sign: keccak256(blockHash || uint256(number)).
func SignedMessage(blockHash common.Hash, number uint64) common.Hash {
	var buf [64]byte
	copy(buf[:32], blockHash.Bytes())
	new(big.Int).SetUint64(number).FillBytes(buf[32:])
	return crypto.Keccak256Hash(buf[:])
}

// recoverSigners returns the addresses of all signatures that sign header.
func recoverSigners(header *ethtypes.Header, sigs []Signature) ([]common.Address, error) {
	hash := header.Hash()
	number := header.Number.Uint64()
	msg := SignedMessage(hash, number)

	out := make([]common.Address, 0, len(sigs))
	for i, s := range sigs {
		if s.BlockHash != hash || uint64(s.Block) != number {
			return nil, fmt.Errorf("%w: signature #%d is for block #%d %s",
				verifier.ErrSignatureMismatch, i, uint64(s.Block), s.BlockHash.Hex())
		}
		if s.MsgHash != (common.Hash{}) && s.MsgHash != msg {
			return nil, fmt.Errorf("%w: signature #%d has wrong message hash", verifier.ErrSignatureMismatch, i)
		}
		v := uint64(s.V)
		if v >= 27 {
			v -= 27
		}
		if v > 1 {
			return nil, fmt.Errorf("%w: signature #%d has invalid v %d", verifier.ErrSignatureMismatch, i, uint64(s.V))
		}
		sig := make([]byte, crypto.SignatureLength)
		copy(sig[:32], s.R.Bytes())
		copy(sig[32:64], s.S.Bytes())
		sig[64] = byte(v)
		pub, err := crypto.SigToPub(msg.Bytes(), sig)
		if err != nil {
			return nil, fmt.Errorf("%w: signature #%d: %v", verifier.ErrSignatureMismatch, i, err)
		}
		out = append(out, crypto.PubkeyToAddress(*pub))
	}
	return out, nil
}

// checkFinality verifies that the finality headers build a chain on top of
// header and that there are at least finality of them.
func checkFinality(header *ethtypes.Header, raw []hexutil.Bytes, finality uint64) error {
	if uint64(len(raw)) < finality {
		return fmt.Errorf("%w: %d finality blocks, want %d", verifier.ErrMissingProof, len(raw), finality)
	}
	parent := header
	for i, r := range raw {
		h, err := decodeHeader(r)
		if err != nil {
			return fmt.Errorf("finality block #%d: %w", i, err)
		}
		if h.ParentHash != parent.Hash() || h.Number.Uint64() != parent.Number.Uint64()+1 {
			return fmt.Errorf("%w: finality block #%d does not link to its parent", verifier.ErrHashMismatch, i)
		}
		parent = h
	}
	return nil
}

// checkHeader attests header against anchor and returns the anchor it
// establishes.
func (v *Verifier) checkHeader(req *types.Request, p *Proof, header *ethtypes.Header, anchor *types.TrustAnchor) (*types.TrustAnchor, error) {
	if err := checkFinality(header, p.FinalityBlocks, req.Finality); err != nil {
		return nil, err
	}

	signers, err := recoverSigners(header, p.Signatures)
	if err != nil {
		return nil, err
	}

	att := verifier.Attestation{Signers: signers}
	// a direct child of the anchor is linked by its parent hash
	if anchor != nil && header.Number.Uint64() == anchor.Number+1 && header.ParentHash == anchor.Hash {
		att.Linked = true
	}

	return verifier.CheckBlock(req, verifier.Block{
		Number: header.Number.Uint64(),
		Hash:   header.Hash(),
		Time:   unixTime(header.Time),
	}, anchor, att, v.maxBlockAge)
}

func proofDB(nodes []hexutil.Bytes) *memorydb.Database {
	db := memorydb.New()
	for _, n := range nodes {
		// Put only fails on a closed database
		_ = db.Put(crypto.Keccak256(n), n)
	}
	return db
}

// verifyTrie proves key against root and returns the value (nil if absent).
func verifyTrie(root common.Hash, key []byte, nodes []hexutil.Bytes) ([]byte, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: empty merkle proof", verifier.ErrMissingProof)
	}
	val, err := trie.VerifyProof(root, key, proofDB(nodes))
	if err != nil {
		return nil, fmt.Errorf("%w: merkle proof: %v", verifier.ErrHashMismatch, err)
	}
	return val, nil
}
