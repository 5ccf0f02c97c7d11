package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TrustAnchor is the most recent block the client accepts as ground truth
// for a chain. Proofs are verified against it.
type TrustAnchor struct {
	ChainID ChainID     `json:"chainId"`
	Number  uint64      `json:"number"`
	Hash    common.Hash `json:"hash"`
	// Bits holds the compact difficulty target of the block (btc only).
	Bits uint32    `json:"bits,omitempty"`
	Time time.Time `json:"time"`
}

// ValidateBasic performs basic validation.
func (a TrustAnchor) ValidateBasic() error {
	if a.ChainID == 0 {
		return errors.New("zero chain id")
	}
	if a.Hash == (common.Hash{}) && a.Number != 0 {
		return fmt.Errorf("anchor #%d without hash", a.Number)
	}
	return nil
}

// NewerThan reports whether a refers to a strictly higher block than b. Any
// anchor is newer than nil.
func (a *TrustAnchor) NewerThan(b *TrustAnchor) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Number > b.Number
}

func (a TrustAnchor) String() string {
	return fmt.Sprintf("TrustAnchor{%v #%d %s}", a.ChainID, a.Number, a.Hash.TerminalString())
}
