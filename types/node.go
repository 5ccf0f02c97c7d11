package types

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NodeProps is the capability bit set a node registers with.
type NodeProps uint64

const (
	PropProof      NodeProps = 1 << 0
	PropMultichain NodeProps = 1 << 1
	PropArchive    NodeProps = 1 << 2
	PropHTTP       NodeProps = 1 << 3
	PropBinary     NodeProps = 1 << 4
	PropOnion      NodeProps = 1 << 5
	PropSigner     NodeProps = 1 << 6
	PropData       NodeProps = 1 << 7
	PropStats      NodeProps = 1 << 8
)

// Has reports whether all bits of f are set.
func (p NodeProps) Has(f NodeProps) bool { return p&f == f }

// MinBlockHeight is the minimum number of blocks a signer node wants to
// stay behind the head before signing. It is stored in bits 32-39.
func (p NodeProps) MinBlockHeight() uint64 { return (uint64(p) >> 32) & 0xff }

func (p NodeProps) MarshalText() ([]byte, error) {
	return hexutil.Uint64(p).MarshalText()
}

func (p *NodeProps) UnmarshalJSON(data []byte) error {
	// nodes report props either as hex string or as plain number
	if len(data) > 0 && data[0] != '"' {
		var v uint64
		if _, err := fmt.Sscan(string(data), &v); err != nil {
			return fmt.Errorf("invalid props %s: %w", data, err)
		}
		*p = NodeProps(v)
		return nil
	}
	var v hexutil.Uint64
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	*p = NodeProps(v)
	return nil
}

// Node is a data provider as registered in the node registry contract.
type Node struct {
	URL          string         `json:"url"`
	Address      common.Address `json:"address"`
	Index        uint64         `json:"index"`
	Deposit      *hexutil.Big   `json:"deposit,omitempty"`
	Props        NodeProps      `json:"props"`
	Timeout      uint64         `json:"timeout,omitempty"`
	RegisterTime uint64         `json:"registerTime,omitempty"`
	Weight       uint64         `json:"weight,omitempty"`
}

// DepositInt returns the deposit as big.Int (zero if not set).
func (n Node) DepositInt() *big.Int {
	if n.Deposit == nil {
		return new(big.Int)
	}
	return n.Deposit.ToInt()
}

// ValidateBasic performs basic validation.
func (n Node) ValidateBasic() error {
	if n.URL == "" {
		return errors.New("empty url")
	}
	u, err := url.Parse(n.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", n.URL, err)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", n.URL)
	}
	if n.Deposit != nil && n.Deposit.ToInt().Sign() < 0 {
		return fmt.Errorf("node %s: negative deposit", n.URL)
	}
	return nil
}

func (n Node) String() string {
	return fmt.Sprintf("Node{%s %s}", n.URL, n.Address.Hex())
}

// NodeList is the verified content of a chain's node registry.
type NodeList struct {
	Nodes           []Node         `json:"nodes"`
	Contract        common.Address `json:"contract"`
	RegistryID      common.Hash    `json:"registryId"`
	LastBlockNumber uint64         `json:"lastBlockNumber"`
	TotalServers    uint64         `json:"totalServers"`
}

// ValidateBasic performs basic validation.
func (nl NodeList) ValidateBasic() error {
	if len(nl.Nodes) == 0 {
		return errors.New("empty node list")
	}
	if nl.TotalServers != 0 && uint64(len(nl.Nodes)) > nl.TotalServers {
		return fmt.Errorf("node list contains %d nodes but claims %d servers", len(nl.Nodes), nl.TotalServers)
	}
	seen := make(map[string]struct{}, len(nl.Nodes))
	for i, n := range nl.Nodes {
		if err := n.ValidateBasic(); err != nil {
			return fmt.Errorf("node #%d: %w", i, err)
		}
		if _, ok := seen[n.URL]; ok {
			return fmt.Errorf("duplicate node %s", n.URL)
		}
		seen[n.URL] = struct{}{}
	}
	return nil
}
