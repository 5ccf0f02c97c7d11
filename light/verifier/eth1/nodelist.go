package eth1

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/types"
)

// nodeCountSlot is the storage slot of the registry contract holding the
// length of the node array.
var nodeCountSlot = new(big.Int)

// Every node of the registry is a struct of nodeStructSize slots starting at
// keccak(nodeCountSlot) + index*nodeStructSize. The slot at offset
// nodeSignerSlot packs signer and weight, the one at nodeProofHashSlot holds
// the hash of all other registered values.
const (
	nodeStructSize    = 5
	nodeSignerSlot    = 3
	nodeProofHashSlot = 4
)

var nodeArrayStart = new(big.Int).SetBytes(crypto.Keccak256(common.BigToHash(nodeCountSlot).Bytes()))

func nodeSlot(index uint64, field int64) *big.Int {
	s := new(big.Int).SetUint64(index)
	s.Mul(s, big.NewInt(nodeStructSize))
	s.Add(s, nodeArrayStart)
	s.Add(s, big.NewInt(field))
	return math.U256(s)
}

// NodeProofHash returns the hash the registry stores for n: keccak256 of the
// packed deposit, timeout, register time, props, signer and url.
func NodeProofHash(n types.Node) common.Hash {
	buf := make([]byte, 0, 92+len(n.URL))
	buf = append(buf, common.BigToHash(n.DepositInt()).Bytes()...)
	buf = binary.BigEndian.AppendUint64(buf, n.Timeout)
	buf = binary.BigEndian.AppendUint64(buf, n.RegisterTime)
	props := make([]byte, 24) // uint192
	binary.BigEndian.PutUint64(props[16:], uint64(n.Props))
	buf = append(buf, props...)
	buf = append(buf, n.Address.Bytes()...)
	buf = append(buf, n.URL...)
	return crypto.Keccak256Hash(buf)
}

// NodeSlots returns the registry storage slots proving n together with the
// values they hold for it.
func NodeSlots(n types.Node) (slots, values []*big.Int) {
	packed := new(big.Int).SetBytes(n.Address.Bytes())
	packed.Lsh(packed, 64)
	packed.Or(packed, new(big.Int).SetUint64(n.Weight))

	slots = []*big.Int{nodeSlot(n.Index, nodeSignerSlot), nodeSlot(n.Index, nodeProofHashSlot)}
	values = []*big.Int{packed, new(big.Int).SetBytes(NodeProofHash(n).Bytes())}
	return slots, values
}

// Contract sets the registry contract expected for node lists of chain id.
func Contract(id types.ChainID, addr common.Address) Option {
	return func(v *Verifier) {
		v.contracts[id] = addr
	}
}

func (v *Verifier) verifyNodeList(req *types.Request, p *Proof, resp *types.Response, anchor *types.TrustAnchor) (*types.TrustAnchor, *types.NodeList, error) {
	var nl types.NodeList
	if err := json.Unmarshal(resp.Result, &nl); err != nil {
		return nil, nil, fmt.Errorf("%w: node list: %v", verifier.ErrMalformedProof, err)
	}
	if err := nl.ValidateBasic(); err != nil {
		return nil, nil, fmt.Errorf("%w: node list: %v", verifier.ErrValueMismatch, err)
	}
	if want, ok := v.contracts[req.ChainID]; ok && nl.Contract != want {
		return nil, nil, fmt.Errorf("%w: node list of contract %s, want %s", verifier.ErrValueMismatch, nl.Contract.Hex(), want.Hex())
	}

	header, err := decodeHeader(p.Block)
	if err != nil {
		return nil, nil, err
	}
	if nl.LastBlockNumber > header.Number.Uint64() {
		return nil, nil, fmt.Errorf("%w: node list changed at #%d, proof is for #%s",
			verifier.ErrValueMismatch, nl.LastBlockNumber, header.Number)
	}

	ap, ok := p.Accounts[nl.Contract]
	if !ok || ap == nil {
		return nil, nil, fmt.Errorf("%w: no account proof for registry %s", verifier.ErrMissingProof, nl.Contract.Hex())
	}
	acc, err := verifyAccountProof(header.Root, nl.Contract, ap)
	if err != nil {
		return nil, nil, err
	}
	count, err := verifyStorage(acc.Root, ap, nodeCountSlot)
	if err != nil {
		return nil, nil, err
	}
	if !count.IsUint64() || count.Uint64() != nl.TotalServers {
		return nil, nil, fmt.Errorf("%w: registry holds %s nodes, list says %d", verifier.ErrValueMismatch, count, nl.TotalServers)
	}

	if err := verifyNodes(acc.Root, ap, nl.Nodes, count.Uint64()); err != nil {
		return nil, nil, err
	}

	next, err := v.checkHeader(req, p, header, anchor)
	if err != nil {
		return nil, nil, err
	}
	return next, &nl, nil
}

// verifyNodes proves every node against its entry in the registry storage.
func verifyNodes(storageRoot common.Hash, ap *AccountProof, nodes []types.Node, total uint64) error {
	indexes := make(map[uint64]struct{}, len(nodes))
	signers := make(map[common.Address]struct{}, len(nodes))
	for _, n := range nodes {
		if n.Index >= total {
			return fmt.Errorf("%w: node %s has index %d, registry holds %d nodes", verifier.ErrValueMismatch, n.URL, n.Index, total)
		}
		if _, ok := indexes[n.Index]; ok {
			return fmt.Errorf("%w: duplicate index %d", verifier.ErrValueMismatch, n.Index)
		}
		indexes[n.Index] = struct{}{}
		if _, ok := signers[n.Address]; ok {
			return fmt.Errorf("%w: duplicate signer %s", verifier.ErrValueMismatch, n.Address.Hex())
		}
		signers[n.Address] = struct{}{}

		slots, want := NodeSlots(n)
		for i, slot := range slots {
			got, err := verifyStorage(storageRoot, ap, slot)
			if err != nil {
				return fmt.Errorf("node %s: %w", n.URL, err)
			}
			if got.Cmp(want[i]) != 0 {
				return fmt.Errorf("%w: node %s does not match registry entry #%d", verifier.ErrValueMismatch, n.URL, n.Index)
			}
		}
	}
	return nil
}
