// Package ipfs verifies content returned by ipfs nodes by recomputing its
// content identifier.
package ipfs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ipfs/boxo/ipld/merkledag"
	"github.com/ipfs/boxo/ipld/unixfs"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/types"
)

// Supported methods.
const (
	MethodGet = "ipfs_get"
	MethodPut = "ipfs_put"
)

// MaxContentSize is the largest content that fits into a single block.
// Larger content is chunked by ipfs and can not be checked from the
// content alone.
const MaxContentSize = 256 * 1024

// Encodings of content in params and results.
const (
	EncodingHex    = "hex"
	EncodingUTF8   = "utf8"
	EncodingBase64 = "base64"
)

// Verifier checks ipfs responses. It holds no state.
type Verifier struct{}

var _ verifier.Verifier = Verifier{}

// New returns an ipfs verifier.
func New() Verifier { return Verifier{} }

// ChainType implements verifier.Verifier.
func (Verifier) ChainType() types.ChainType { return types.ChainTypeIpfs }

// SupportedMethods returns the methods the verifier can prove.
func (Verifier) SupportedMethods() []string { return []string{MethodGet, MethodPut} }

// Verify implements verifier.Verifier. Content needs no proof: it is checked
// against the hash it is stored under.
func (Verifier) Verify(ctx context.Context, req *types.Request, resp *types.Response, _ *types.TrustAnchor) verifier.Result {
	if err := ctx.Err(); err != nil {
		return verifier.RejectErr(err)
	}
	if resp.Error != nil {
		return verifier.Reject(verifier.ErrMissingProof, "error responses carry no content")
	}
	params, err := req.ParamsArray()
	if err != nil {
		return verifier.RejectErr(err)
	}
	if len(params) < 1 {
		return verifier.Reject(verifier.ErrMalformedProof, "missing parameters")
	}
	var first, encoding, result string
	if err := json.Unmarshal(params[0], &first); err != nil {
		return verifier.RejectErr(err)
	}
	encoding = EncodingBase64
	if len(params) > 1 {
		if err := json.Unmarshal(params[1], &encoding); err != nil {
			return verifier.RejectErr(err)
		}
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return verifier.RejectErr(err)
	}

	var content, hash string
	switch req.Method {
	case MethodGet:
		hash, content = first, result
	case MethodPut:
		content, hash = first, result
	default:
		return verifier.Reject(verifier.ErrUnsupported, "method %s", req.Method)
	}

	data, err := Decode(content, encoding)
	if err != nil {
		return verifier.RejectErr(err)
	}
	if err := VerifyHash(data, hash); err != nil {
		return verifier.RejectErr(err)
	}
	return verifier.Accept(nil)
}

// Decode decodes content given in encoding.
func Decode(content, encoding string) ([]byte, error) {
	switch encoding {
	case EncodingHex:
		bz, err := hex.DecodeString(strings.TrimPrefix(content, "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: hex content: %v", verifier.ErrMalformedProof, err)
		}
		return bz, nil
	case EncodingUTF8:
		return []byte(content), nil
	case EncodingBase64:
		bz, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("%w: base64 content: %v", verifier.ErrMalformedProof, err)
		}
		return bz, nil
	default:
		return nil, fmt.Errorf("%w: encoding %q", verifier.ErrUnsupported, encoding)
	}
}

// Hash returns the CIDv0 ipfs assigns to data added as a single file.
func Hash(data []byte) (cid.Cid, error) {
	if len(data) > MaxContentSize {
		return cid.Undef, fmt.Errorf("%w: content of %d bytes spans several blocks", verifier.ErrUnsupported, len(data))
	}
	nd := merkledag.NodeWithData(unixfs.FilePBData(data, uint64(len(data))))
	return nd.Cid(), nil
}

// VerifyHash checks that data is stored under hash.
func VerifyHash(data []byte, hash string) error {
	want, err := cid.Decode(hash)
	if err != nil {
		return fmt.Errorf("%w: hash %q: %v", verifier.ErrMalformedProof, hash, err)
	}
	dec, err := mh.Decode(want.Hash())
	if err != nil {
		return fmt.Errorf("%w: multihash of %s: %v", verifier.ErrMalformedProof, hash, err)
	}
	if dec.Code != mh.SHA2_256 {
		return fmt.Errorf("%w: hash function %s", verifier.ErrUnsupported, mh.Codes[dec.Code])
	}

	got, err := Hash(data)
	if err != nil {
		return err
	}
	if !bytes.Equal(got.Hash(), want.Hash()) {
		return fmt.Errorf("%w: content hashes to %s, want %s", verifier.ErrHashMismatch, got, hash)
	}
	return nil
}
