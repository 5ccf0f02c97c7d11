package verifier_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/types"
)

var (
	signerA = common.HexToAddress("0xa")
	signerB = common.HexToAddress("0xb")
	hash100 = common.HexToHash("0x100")
)

func TestCheckBlock(t *testing.T) {
	anchor := &types.TrustAnchor{ChainID: types.ChainMainnet, Number: 100, Hash: hash100}
	req := &types.Request{ChainID: types.ChainMainnet, Method: "eth_getBalance", Signers: []common.Address{signerA, signerB}}
	signed := verifier.Attestation{Signers: []common.Address{signerA}}

	testCases := []struct {
		name       string
		req        *types.Request
		block      verifier.Block
		anchor     *types.TrustAnchor
		att        verifier.Attestation
		wantErr    error
		wantAnchor uint64
	}{
		{"same block as anchor", req, verifier.Block{Number: 100, Hash: hash100}, anchor, verifier.Attestation{}, nil, 0},
		{"same number other hash", req, verifier.Block{Number: 100, Hash: common.HexToHash("0x1")}, anchor, signed, verifier.ErrHashMismatch, 0},
		{"newer and signed", req, verifier.Block{Number: 120, Hash: common.HexToHash("0x120")}, anchor, signed, nil, 120},
		{"newer and linked", req, verifier.Block{Number: 120}, anchor, verifier.Attestation{Linked: true}, nil, 120},
		{"newer unsigned", req, verifier.Block{Number: 120}, anchor, verifier.Attestation{}, verifier.ErrSignatureMismatch, 0},
		{"signed by someone else", req, verifier.Block{Number: 120}, anchor,
			verifier.Attestation{Signers: []common.Address{common.HexToAddress("0xc")}}, verifier.ErrSignatureMismatch, 0},
		{"older within window", req, verifier.Block{Number: 90}, anchor, signed, nil, 0},
		{"older beyond window", req, verifier.Block{Number: 10}, anchor, signed, verifier.ErrStaleAnchor, 0},
		{"older beyond window, historic", &types.Request{ChainID: types.ChainMainnet, Historic: true, Signers: req.Signers},
			verifier.Block{Number: 10}, anchor, signed, nil, 0},
		{"no anchor, signed", req, verifier.Block{Number: 5, Hash: common.HexToHash("0x5")}, nil, signed, nil, 5},
		{"no anchor, unsigned", req, verifier.Block{Number: 5}, nil, verifier.Attestation{}, verifier.ErrSignatureMismatch, 0},
		{"quorum not reached", &types.Request{ChainID: types.ChainMainnet, Signatures: 2, Signers: req.Signers},
			verifier.Block{Number: 120}, anchor, signed, verifier.ErrSignatureMismatch, 0},
		{"quorum reached", &types.Request{ChainID: types.ChainMainnet, Signatures: 2, Signers: req.Signers},
			verifier.Block{Number: 120}, anchor, verifier.Attestation{Signers: []common.Address{signerA, signerB, signerA}}, nil, 120},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			next, err := verifier.CheckBlock(tc.req, tc.block, tc.anchor, tc.att, 50)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, next)
				return
			}
			require.NoError(t, err)
			if tc.wantAnchor == 0 {
				assert.Nil(t, next)
				return
			}
			require.NotNil(t, next)
			assert.Equal(t, tc.wantAnchor, next.Number)
			assert.Equal(t, tc.block.Hash, next.Hash)
		})
	}
}

type stubVerifier struct {
	typ     types.ChainType
	methods []string
}

func (s stubVerifier) Verify(context.Context, *types.Request, *types.Response, *types.TrustAnchor) verifier.Result {
	return verifier.Accept(nil)
}
func (s stubVerifier) SupportedMethods() []string { return s.methods }
func (s stubVerifier) ChainType() types.ChainType  { return s.typ }

func TestRegistryLookup(t *testing.T) {
	r := verifier.NewRegistry(
		stubVerifier{types.ChainTypeEth, []string{"eth_getBalance", "eth_blockNumber"}},
		stubVerifier{types.ChainTypeIpfs, []string{"ipfs_get"}},
	)

	v, err := r.Lookup(types.ChainTypeEth, "eth_getBalance")
	require.NoError(t, err)
	assert.Equal(t, types.ChainTypeEth, v.ChainType())

	_, err = r.Lookup(types.ChainTypeEth, "eth_mining")
	require.ErrorIs(t, err, verifier.ErrUnsupported)

	_, err = r.Lookup(types.ChainTypeBtc, "getblockcount")
	require.ErrorIs(t, err, verifier.ErrUnsupported)

	assert.Equal(t, []string{"eth_blockNumber", "eth_getBalance"}, r.Methods(types.ChainTypeEth))
}

func TestRejectErr(t *testing.T) {
	res := verifier.RejectErr(errors.New("boom"))
	assert.False(t, res.Accepted)
	assert.ErrorIs(t, res.Reason, verifier.ErrMalformedProof)

	res = verifier.Reject(verifier.ErrHashMismatch, "block %d", 1)
	assert.ErrorIs(t, res.Reason, verifier.ErrHashMismatch)
	assert.EqualError(t, res.Reason, "hash mismatch: block 1")

	res = verifier.RejectErr(res.Reason)
	assert.ErrorIs(t, res.Reason, verifier.ErrHashMismatch)
	assert.NotErrorIs(t, res.Reason, verifier.ErrMalformedProof)
}
