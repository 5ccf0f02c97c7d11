package pk

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"

	"github.com/incubed/in3-go/light/signer"
)

// pkSigner signs with a raw secp256k1 private key held in memory.
type pkSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

var _ signer.Signer = (*pkSigner)(nil)

// New returns a Signer for key.
func New(key *ecdsa.PrivateKey) (signer.Signer, error) {
	if key == nil {
		return nil, errors.New("nil private key")
	}
	return &pkSigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// FromHex parses a hex encoded private key (with or without 0x prefix).
func FromHex(hexkey string) (signer.Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexkey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return New(key)
}

// Hash returns the Keccak-256 digest that is signed for payload.
func Hash(payload []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(payload)
	return h.Sum(nil)
}

// Sign signs the Keccak-256 hash of payload. V is returned as 27 or 28.
func (s *pkSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(Hash(payload), s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

func (s *pkSigner) Address() common.Address { return s.addr }

// Recover returns the address that produced sig over payload.
func Recover(payload, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := append([]byte(nil), sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(Hash(payload), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
