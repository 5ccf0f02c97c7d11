package light_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/incubed/in3-go/libs/log"
	"github.com/incubed/in3-go/light"
	"github.com/incubed/in3-go/light/nodelist"
	"github.com/incubed/in3-go/light/store"
	"github.com/incubed/in3-go/light/transport/mock"
	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/types"
)

const (
	chainID = types.ChainLocal

	nodeA = "http://node-a.test"
	nodeB = "http://node-b.test"
	nodeC = "http://node-c.test"
	nodeD = "http://node-d.test"

	balance  = `"0x64"`
	tampered = `"0x65"`
)

var (
	bTime = time.Date(2023, 1, 2, 15, 4, 5, 0, time.UTC)

	anchor100 = &types.TrustAnchor{
		ChainID: chainID,
		Number:  100,
		Hash:    common.HexToHash("0x64"),
		Time:    bTime,
	}
)

func testNode(url string, i int) types.Node {
	return types.Node{
		URL:     url,
		Address: common.BytesToAddress([]byte{byte(i + 1)}),
		Index:   uint64(i),
		Props:   types.PropProof | types.PropHTTP | types.PropSigner,
		Weight:  1,
	}
}

// testChain returns a chain whose boot nodes are urls.
func testChain(urls ...string) types.ChainSpec {
	nodes := make([]types.Node, len(urls))
	for i, u := range urls {
		nodes[i] = testNode(u, i)
	}
	return types.ChainSpec{
		ID:        chainID,
		Name:      "test",
		Type:      types.ChainTypeEth,
		BlockTime: time.Second,
		BootNodes: nodes,
	}
}

// testVerifier accepts responses equal to the values in truth and claims
// anchor for them.
type testVerifier struct {
	truth  map[string]string
	anchor *types.TrustAnchor

	mtx     sync.Mutex
	anchors []*types.TrustAnchor
}

var _ verifier.Verifier = (*testVerifier)(nil)

func newTestVerifier(anchor *types.TrustAnchor) *testVerifier {
	return &testVerifier{
		truth:  map[string]string{"eth_getBalance": balance, "eth_blockNumber": `"0x64"`},
		anchor: anchor,
	}
}

func (v *testVerifier) ChainType() types.ChainType { return types.ChainTypeEth }

func (v *testVerifier) SupportedMethods() []string {
	return []string{"eth_getBalance", "eth_blockNumber", "in3_nodeList"}
}

func (v *testVerifier) Verify(ctx context.Context, req *types.Request, resp *types.Response, anchor *types.TrustAnchor) verifier.Result {
	v.mtx.Lock()
	v.anchors = append(v.anchors, anchor)
	v.mtx.Unlock()

	if req.Method == "in3_nodeList" {
		var nl types.NodeList
		if err := json.Unmarshal(resp.Result, &nl); err != nil {
			return verifier.RejectErr(err)
		}
		if err := nl.ValidateBasic(); err != nil {
			return verifier.Reject(verifier.ErrValueMismatch, "%v", err)
		}
		res := verifier.Accept(nil)
		res.NodeList = &nl
		return res
	}

	if string(resp.Result) != v.truth[req.Method] {
		return verifier.Reject(verifier.ErrValueMismatch, "%s is %s", req.Method, resp.Result)
	}
	return verifier.Accept(v.anchor)
}

// seen returns the anchors Verify was called with.
func (v *testVerifier) seen() []*types.TrustAnchor {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	return append([]*types.TrustAnchor(nil), v.anchors...)
}

// reply is the body of a successful node response.
func reply(result string, in3 *types.In3Response) []byte {
	bz, err := json.Marshal(types.RPCResponse{
		JSONRPC: "2.0",
		ID:      types.JSONRPCIntID(1),
		Result:  json.RawMessage(result),
		In3:     in3,
	})
	if err != nil {
		panic(err)
	}
	return bz
}

// errorReply is the body of a node response carrying an RPC error.
func errorReply(msg string) []byte {
	bz, err := json.Marshal(types.NewRPCErrorResponse(types.JSONRPCIntID(1), -32000, msg))
	if err != nil {
		panic(err)
	}
	return bz
}

// methodHandler answers with the body registered for the requested method.
func methodHandler(bodies map[string][]byte) mock.Handler {
	return func(payload []byte) mock.Reply {
		var req types.RPCRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return mock.Reply{Err: err}
		}
		body, ok := bodies[req.Method]
		if !ok {
			return mock.Reply{Body: errorReply("method not found")}
		}
		return mock.Reply{Body: body}
	}
}

// nodeListReply returns the in3_nodeList answer listing urls.
func nodeListReply(t *testing.T, lastBlock uint64, urls ...string) []byte {
	t.Helper()
	nl := types.NodeList{LastBlockNumber: lastBlock, TotalServers: uint64(len(urls))}
	for i, u := range urls {
		nl.Nodes = append(nl.Nodes, testNode(u, i))
	}
	bz, err := json.Marshal(nl)
	require.NoError(t, err)
	return reply(string(bz), nil)
}

// orderedStore returns a store holding a registry snapshot in which urls
// have equal weight and were successful in the given order, so the client
// tries them in exactly that order.
func orderedStore(t *testing.T, st store.Store, urls ...string) store.Store {
	t.Helper()
	snap := nodelist.Snapshot{ChainID: chainID}
	for i, u := range urls {
		snap.Entries = append(snap.Entries, nodelist.Entry{
			Node:        testNode(u, i),
			Weight:      1,
			LastSuccess: bTime.Add(-time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, store.SaveNodeList(st, snap))
	return st
}

func newClient(t *testing.T, spec types.ChainSpec, tr *mock.Mock, v verifier.Verifier, opts ...light.Option) *light.Client {
	t.Helper()
	opts = append([]light.Option{
		light.Logger(log.TestingLogger()),
		light.RequestTimeout(time.Second),
		light.RegistryOptions(nodelist.RandSource(rand.NewSource(1))),
	}, opts...)
	c, err := light.NewClient([]types.ChainSpec{spec}, tr, verifier.NewRegistry(v), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func balanceRequest(t *testing.T) *types.Request {
	t.Helper()
	req, err := types.NewRequest(chainID, "eth_getBalance", common.HexToAddress("0x01").Hex(), "latest")
	require.NoError(t, err)
	return req
}

func entry(t *testing.T, c *light.Client, url string) nodelist.Entry {
	t.Helper()
	entries, err := c.Nodes(chainID)
	require.NoError(t, err)
	for _, e := range entries {
		if e.Node.URL == url {
			return e
		}
	}
	require.FailNow(t, fmt.Sprintf("node %s is unknown", url))
	return nodelist.Entry{}
}
