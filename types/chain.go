package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ChainID identifies a chain. It is encoded as a 0x-prefixed hex quantity on
// the wire.
type ChainID uint64

// Well known chains.
const (
	ChainMainnet ChainID = 0x1
	ChainGoerli  ChainID = 0x5
	ChainLocal   ChainID = 0x11
	ChainBTC     ChainID = 0x99
	ChainIPFS    ChainID = 0x7d0
)

func (id ChainID) String() string {
	return hexutil.EncodeUint64(uint64(id))
}

// MarshalText implements encoding.TextMarshaler.
func (id ChainID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Both hex quantities and
// chain names are accepted.
func (id *ChainID) UnmarshalText(text []byte) error {
	parsed, err := ParseChainID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseChainID parses a chain name ("mainnet", "btc", ...), a 0x-prefixed hex
// quantity or a decimal number.
func ParseChainID(s string) (ChainID, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, errors.New("empty chain id")
	}
	for _, spec := range builtinChains {
		if spec.Name == s {
			return spec.ID, nil
		}
	}
	if strings.HasPrefix(s, "0x") {
		v, err := hexutil.DecodeUint64(s)
		if err != nil {
			return 0, fmt.Errorf("invalid chain id %q: %w", s, err)
		}
		return ChainID(v), nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q: %w", s, err)
	}
	return ChainID(v), nil
}

// ChainType selects the verification strategy for a chain.
type ChainType int

const (
	ChainTypeEth ChainType = iota + 1
	ChainTypeBtc
	ChainTypeIpfs
)

func (t ChainType) String() string {
	switch t {
	case ChainTypeEth:
		return "eth"
	case ChainTypeBtc:
		return "btc"
	case ChainTypeIpfs:
		return "ipfs"
	default:
		return fmt.Sprintf("ChainType(%d)", int(t))
	}
}

// ChainSpec describes a chain the client can talk to: how responses are
// verified, where its node registry lives and which boot nodes are used
// before a registry is known.
type ChainSpec struct {
	ID         ChainID
	Name       string
	Type       ChainType
	Contract   common.Address
	RegistryID common.Hash
	BlockTime  time.Duration
	BootNodes  []Node
}

// ValidateBasic performs basic validation.
func (c ChainSpec) ValidateBasic() error {
	if c.ID == 0 {
		return errors.New("zero chain id")
	}
	switch c.Type {
	case ChainTypeEth, ChainTypeBtc, ChainTypeIpfs:
	default:
		return fmt.Errorf("chain %v: unknown type %v", c.ID, c.Type)
	}
	if len(c.BootNodes) == 0 {
		return fmt.Errorf("chain %v: no boot nodes", c.ID)
	}
	seen := make(map[string]struct{}, len(c.BootNodes))
	for i, n := range c.BootNodes {
		if err := n.ValidateBasic(); err != nil {
			return fmt.Errorf("chain %v: boot node #%d: %w", c.ID, i, err)
		}
		if _, ok := seen[n.URL]; ok {
			return fmt.Errorf("chain %v: duplicate boot node %s", c.ID, n.URL)
		}
		seen[n.URL] = struct{}{}
	}
	return nil
}

func bootNode(url, addr string, props NodeProps) Node {
	return Node{
		URL:     url,
		Address: common.HexToAddress(addr),
		Props:   props,
		Weight:  1,
	}
}

const defaultBootProps = PropProof | PropMultichain | PropArchive | PropHTTP | PropData

var builtinChains = []ChainSpec{
	{
		ID:         ChainMainnet,
		Name:       "mainnet",
		Type:       ChainTypeEth,
		Contract:   common.HexToAddress("0xac1b824795e1eb1f6e609fe0da9b9af8beaab60f"),
		RegistryID: common.HexToHash("0x23d5345c5c13180a8080bd5ddbe7cde64683755dcce6e734d95b7b573845facb"),
		BlockTime:  12 * time.Second,
		BootNodes: []Node{
			bootNode("https://in3-v2.slock.it/mainnet/nd-1", "0x45d45e6ff99e6c34a235d263965910298985fcfe", defaultBootProps|PropSigner),
			bootNode("https://in3-v2.slock.it/mainnet/nd-2", "0x1fe2e9bf29aa1938859af64c413361227d04059a", defaultBootProps|PropSigner),
		},
	},
	{
		ID:         ChainGoerli,
		Name:       "goerli",
		Type:       ChainTypeEth,
		Contract:   common.HexToAddress("0x5f51e413581dd76759e9eed51e63d14c8d1379c8"),
		RegistryID: common.HexToHash("0x67c02e5e272f9d6b4a33716614061dd298283f86351079ef903bf0d4410a44ea"),
		BlockTime:  15 * time.Second,
		BootNodes: []Node{
			bootNode("https://in3-v2.slock.it/goerli/nd-1", "0x45d45e6ff99e6c34a235d263965910298985fcfe", defaultBootProps|PropSigner),
			bootNode("https://in3-v2.slock.it/goerli/nd-2", "0x1fe2e9bf29aa1938859af64c413361227d04059a", defaultBootProps|PropSigner),
		},
	},
	{
		ID:        ChainBTC,
		Name:      "btc",
		Type:      ChainTypeBtc,
		BlockTime: 10 * time.Minute,
		BootNodes: []Node{
			bootNode("https://in3-v2.slock.it/btc/nd-1", "0x45d45e6ff99e6c34a235d263965910298985fcfe", defaultBootProps),
			bootNode("https://in3-v2.slock.it/btc/nd-2", "0x1fe2e9bf29aa1938859af64c413361227d04059a", defaultBootProps),
		},
	},
	{
		ID:        ChainIPFS,
		Name:      "ipfs",
		Type:      ChainTypeIpfs,
		BlockTime: 0,
		BootNodes: []Node{
			bootNode("https://in3-v2.slock.it/ipfs/nd-1", "0x45d45e6ff99e6c34a235d263965910298985fcfe", defaultBootProps),
			bootNode("https://in3-v2.slock.it/ipfs/nd-2", "0x1fe2e9bf29aa1938859af64c413361227d04059a", defaultBootProps),
		},
	},
	{
		ID:        ChainLocal,
		Name:      "local",
		Type:      ChainTypeEth,
		BlockTime: time.Second,
		BootNodes: []Node{
			bootNode("http://localhost:8545", "0x0000000000000000000000000000000000000000", PropHTTP),
		},
	},
}

// BuiltinChains returns a copy of the chains known out of the box.
func BuiltinChains() []ChainSpec {
	out := make([]ChainSpec, len(builtinChains))
	for i, c := range builtinChains {
		c.BootNodes = append([]Node(nil), c.BootNodes...)
		out[i] = c
	}
	return out
}

// BuiltinChain returns the builtin spec for id.
func BuiltinChain(id ChainID) (ChainSpec, bool) {
	for _, c := range BuiltinChains() {
		if c.ID == id {
			return c, true
		}
	}
	return ChainSpec{}, false
}
