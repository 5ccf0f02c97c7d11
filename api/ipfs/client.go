// Package ipfs stores and fetches content through the light client. Content
// is checked against its hash, so no proof is needed.
package ipfs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/incubed/in3-go/light"
	ipfsv "github.com/incubed/in3-go/light/verifier/ipfs"
	"github.com/incubed/in3-go/types"
)

// Client is an ipfs API backed by a verifying executor.
type Client struct {
	exec    light.Executor
	chainID types.ChainID
}

func New(exec light.Executor, chainID types.ChainID) *Client {
	return &Client{exec: exec, chainID: chainID}
}

func (c *Client) call(ctx context.Context, method string, params ...interface{}) (string, error) {
	req, err := types.NewRequest(c.chainID, method, params...)
	if err != nil {
		return "", err
	}
	res, err := c.exec.Execute(ctx, req)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(res.Value, &s); err != nil {
		return "", fmt.Errorf("decoding result of %s: %w", method, err)
	}
	return s, nil
}

// Get fetches the content stored under id.
func (c *Client) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	content, err := c.call(ctx, ipfsv.MethodGet, id.String(), ipfsv.EncodingBase64)
	if err != nil {
		return nil, err
	}
	return ipfsv.Decode(content, ipfsv.EncodingBase64)
}

// Put stores data and returns the id it is stored under.
func (c *Client) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	s, err := c.call(ctx, ipfsv.MethodPut, base64.StdEncoding.EncodeToString(data), ipfsv.EncodingBase64)
	if err != nil {
		return cid.Undef, err
	}
	return cid.Decode(s)
}
