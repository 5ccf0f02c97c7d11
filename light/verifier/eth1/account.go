package eth1

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/types"
)

// verifyAccount handles eth_getBalance, eth_getTransactionCount, eth_getCode
// and eth_getStorageAt.
func (v *Verifier) verifyAccount(req *types.Request, params []json.RawMessage, p *Proof, resp *types.Response, anchor *types.TrustAnchor) (*types.TrustAnchor, error) {
	want := 2
	if req.Method == MethodGetStorageAt {
		want = 3
	}
	if len(params) < 1 {
		return nil, fmt.Errorf("%w: missing address parameter", verifier.ErrMalformedProof)
	}
	var addr common.Address
	if err := json.Unmarshal(params[0], &addr); err != nil {
		return nil, fmt.Errorf("address parameter: %w", err)
	}

	header, err := decodeHeader(p.Block)
	if err != nil {
		return nil, err
	}
	if len(params) >= want {
		if err := checkBlockParam(params[want-1], header); err != nil {
			return nil, err
		}
		if explicitBlock(params[want-1]) {
			req = historic(req)
		}
	}

	ap, ok := p.Accounts[addr]
	if !ok || ap == nil {
		return nil, fmt.Errorf("%w: no account proof for %s", verifier.ErrMissingProof, addr.Hex())
	}
	acc, err := verifyAccountProof(header.Root, addr, ap)
	if err != nil {
		return nil, err
	}

	switch req.Method {
	case MethodGetBalance:
		var got Quantity
		if err := json.Unmarshal(resp.Result, &got); err != nil {
			return nil, err
		}
		if !equalBig(got.Big(), acc.Balance) {
			return nil, fmt.Errorf("%w: balance is %s, proof says %s", verifier.ErrValueMismatch, got.Big(), acc.Balance)
		}
	case MethodGetTransactionCount:
		var got Quantity
		if err := json.Unmarshal(resp.Result, &got); err != nil {
			return nil, err
		}
		if !got.Big().IsUint64() || got.Big().Uint64() != acc.Nonce {
			return nil, fmt.Errorf("%w: nonce is %s, proof says %d", verifier.ErrValueMismatch, got.Big(), acc.Nonce)
		}
	case MethodGetCode:
		var code hexutil.Bytes
		if err := json.Unmarshal(resp.Result, &code); err != nil {
			return nil, err
		}
		if !equalBytes(crypto.Keccak256(code), acc.CodeHash) {
			return nil, fmt.Errorf("%w: code does not match code hash", verifier.ErrHashMismatch)
		}
	case MethodGetStorageAt:
		if len(params) < 2 {
			return nil, fmt.Errorf("%w: missing slot parameter", verifier.ErrMalformedProof)
		}
		var s string
		if err := json.Unmarshal(params[1], &s); err != nil {
			return nil, fmt.Errorf("slot parameter: %w", err)
		}
		slot, err := parseQuantity(s)
		if err != nil {
			return nil, err
		}
		val, err := verifyStorage(acc.Root, ap, slot)
		if err != nil {
			return nil, err
		}
		var got Quantity
		if err := json.Unmarshal(resp.Result, &got); err != nil {
			return nil, err
		}
		if !equalBig(got.Big(), val) {
			return nil, fmt.Errorf("%w: slot %s is %s, proof says %s", verifier.ErrValueMismatch, slot, got.Big(), val)
		}
	}

	return v.checkHeader(req, p, header, anchor)
}

// verifyAccountProof proves the account against the state root and checks
// the values the node claims for it.
func verifyAccountProof(stateRoot common.Hash, addr common.Address, ap *AccountProof) (*ethtypes.StateAccount, error) {
	val, err := verifyTrie(stateRoot, crypto.Keccak256(addr.Bytes()), ap.AccountProof)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", addr.Hex(), err)
	}

	acc := &ethtypes.StateAccount{
		Balance:  new(big.Int),
		Root:     ethtypes.EmptyRootHash,
		CodeHash: ethtypes.EmptyCodeHash.Bytes(),
	}
	if len(val) > 0 {
		if err := rlp.DecodeBytes(val, acc); err != nil {
			return nil, fmt.Errorf("%w: account %s: %v", verifier.ErrMalformedProof, addr.Hex(), err)
		}
	}

	switch {
	case !equalBig(ap.Balance.Big(), acc.Balance):
		return nil, fmt.Errorf("%w: balance of %s", verifier.ErrValueMismatch, addr.Hex())
	case !ap.Nonce.Big().IsUint64() || ap.Nonce.Big().Uint64() != acc.Nonce:
		return nil, fmt.Errorf("%w: nonce of %s", verifier.ErrValueMismatch, addr.Hex())
	case ap.StorageHash != acc.Root:
		return nil, fmt.Errorf("%w: storage hash of %s", verifier.ErrHashMismatch, addr.Hex())
	case !equalBytes(ap.CodeHash.Bytes(), acc.CodeHash):
		return nil, fmt.Errorf("%w: code hash of %s", verifier.ErrHashMismatch, addr.Hex())
	}
	return acc, nil
}

// verifyStorage proves the value of slot against the storage root.
func verifyStorage(storageRoot common.Hash, ap *AccountProof, slot *big.Int) (*big.Int, error) {
	for _, sp := range ap.StorageProof {
		if sp.Key.Big().Cmp(slot) != 0 {
			continue
		}
		key := common.BigToHash(slot)
		val, err := verifyTrie(storageRoot, crypto.Keccak256(key.Bytes()), sp.Proof)
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", slot, err)
		}
		out := new(big.Int)
		if len(val) > 0 {
			var raw []byte
			if err := rlp.DecodeBytes(val, &raw); err != nil {
				return nil, fmt.Errorf("%w: slot %s: %v", verifier.ErrMalformedProof, slot, err)
			}
			out.SetBytes(raw)
		}
		if !equalBig(out, sp.Value.Big()) {
			return nil, fmt.Errorf("%w: slot %s", verifier.ErrValueMismatch, slot)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: no storage proof for slot %s", verifier.ErrMissingProof, slot)
}
