package ipfs_test

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/light/verifier/ipfs"
	"github.com/incubed/in3-go/types"
)

// added with `echo "hello world" | ipfs add`
const helloHash = "QmT78zSuBmuS4z925WZfrqQ1qHaJ56DQaTfyMUF7F8ff5o"

func request(t *testing.T, method string, params ...interface{}) *types.Request {
	req, err := types.NewRequest(types.ChainIPFS, method, params...)
	require.NoError(t, err)
	return req
}

func response(t *testing.T, result string) *types.Response {
	bz, err := json.Marshal(result)
	require.NoError(t, err)
	return &types.Response{Result: bz}
}

func TestHash(t *testing.T) {
	c, err := ipfs.Hash([]byte("hello world\n"))
	require.NoError(t, err)
	assert.Equal(t, helloHash, c.String())

	_, err = ipfs.Hash(make([]byte, ipfs.MaxContentSize+1))
	assert.ErrorIs(t, err, verifier.ErrUnsupported)
}

func TestVerify(t *testing.T) {
	content := []byte("hello world\n")
	v := ipfs.New()
	ctx := context.Background()

	testCases := []struct {
		name    string
		req     *types.Request
		result  string
		wantErr error
	}{
		{"get utf8", request(t, ipfs.MethodGet, helloHash, "utf8"), string(content), nil},
		{"get hex", request(t, ipfs.MethodGet, helloHash, "hex"), "0x" + hex.EncodeToString(content), nil},
		{"get base64", request(t, ipfs.MethodGet, helloHash, "base64"), base64.StdEncoding.EncodeToString(content), nil},
		{"get default encoding", request(t, ipfs.MethodGet, helloHash), base64.StdEncoding.EncodeToString(content), nil},
		{"get tampered", request(t, ipfs.MethodGet, helloHash, "utf8"), "hello world!\n", verifier.ErrHashMismatch},
		{"get bad hex", request(t, ipfs.MethodGet, helloHash, "hex"), "zz", verifier.ErrMalformedProof},
		{"get unknown encoding", request(t, ipfs.MethodGet, helloHash, "ascii85"), "x", verifier.ErrUnsupported},
		{"get bad hash", request(t, ipfs.MethodGet, "not-a-cid", "utf8"), string(content), verifier.ErrMalformedProof},
		{"put", request(t, ipfs.MethodPut, string(content), "utf8"), helloHash, nil},
		{"put wrong hash", request(t, ipfs.MethodPut, "hello", "utf8"), helloHash, verifier.ErrHashMismatch},
		{"unsupported method", request(t, "ipfs_cat", helloHash), "", verifier.ErrUnsupported},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			res := v.Verify(ctx, tc.req, response(t, tc.result), nil)
			if tc.wantErr != nil {
				assert.False(t, res.Accepted)
				assert.ErrorIs(t, res.Reason, tc.wantErr)
				return
			}
			require.NoError(t, res.Reason)
			assert.True(t, res.Accepted)
			assert.Nil(t, res.Anchor)
		})
	}
}

func TestVerifyLargeContent(t *testing.T) {
	data := strings.Repeat("a", ipfs.MaxContentSize+1)
	res := ipfs.New().Verify(context.Background(), request(t, ipfs.MethodPut, data, "utf8"), response(t, helloHash), nil)
	assert.ErrorIs(t, res.Reason, verifier.ErrUnsupported)
}
