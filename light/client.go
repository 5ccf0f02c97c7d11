package light

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/incubed/in3-go/libs/log"
	"github.com/incubed/in3-go/light/nodelist"
	"github.com/incubed/in3-go/light/signer"
	"github.com/incubed/in3-go/light/store"
	"github.com/incubed/in3-go/light/transport"
	"github.com/incubed/in3-go/light/verifier"
	"github.com/incubed/in3-go/types"
	"github.com/incubed/in3-go/version"
)

const (
	defaultMaxAttempts    = 7
	defaultRequestTimeout = 10 * time.Second
	defaultSignatureCount = 1

	// methodNodeList returns the registered nodes of a chain.
	methodNodeList = "in3_nodeList"

	// serverErrorPrefix marks RPC errors caused by the node itself.
	serverErrorPrefix = "Error:"
)

// ErrNoNodes is the failure reported when no node of a chain is available,
// even after refreshing its node list.
var ErrNoNodes = errors.New("no node available")

// Option sets a parameter for the light client.
type Option func(*Client)

// Logger option can be used to set a logger for the client.
func Logger(l log.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics option sets the metrics the client reports to.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// Store option sets where node lists and trust anchors are cached across
// restarts. Nothing is cached by default.
func Store(s store.Store) Option {
	return func(c *Client) {
		c.store = s
	}
}

// Signer option sets the signer used for requests with Sign set.
func Signer(s signer.Signer) Option {
	return func(c *Client) {
		c.signer = s
	}
}

// MaxAttempts option sets how many nodes are tried per call. Default: 7.
func MaxAttempts(n int) Option {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

// RequestTimeout option sets how long a single node is given to answer.
// Default: 10s.
func RequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = d
	}
}

// WeightConfig option sets how node weights react to outcomes.
func WeightConfig(cfg nodelist.WeightConfig) Option {
	return func(c *Client) {
		c.weights = cfg
	}
}

// SignatureCount option sets how many signer nodes are asked to sign the
// proven block of eth requests that do not ask for signatures themselves.
// Default: 1.
func SignatureCount(n int) Option {
	return func(c *Client) {
		c.signatureCount = n
	}
}

// ClientVersion option sets the version announced in the in3 section.
func ClientVersion(v string) Option {
	return func(c *Client) {
		c.clientVersion = v
	}
}

// RegistryOptions are passed to the node registry of every chain. Used by
// tests to fix the randomness and the clock.
func RegistryOptions(opts ...nodelist.Option) Option {
	return func(c *Client) {
		c.registryOpts = append(c.registryOpts, opts...)
	}
}

// Executor runs verified requests. *Client implements it.
type Executor interface {
	Execute(ctx context.Context, req *types.Request) (*Result, error)
}

var _ Executor = (*Client)(nil)

// Result is a verified response.
type Result struct {
	Value []byte
	// Node is the url of the node that delivered the value.
	Node string
	// Anchor is the trust anchor of the chain after the call.
	Anchor *types.TrustAnchor
}

// chain holds the per chain state of the client.
type chain struct {
	spec     types.ChainSpec
	registry *nodelist.Registry
	anchor   anchorCell

	mtx sync.Mutex
	// pending is the block of a newer node list advertised by node
	// advertiser. The next call refreshes before selecting nodes.
	pending    uint64
	advertiser string
}

func (ch *chain) markRefresh(block uint64, node string) bool {
	ch.mtx.Lock()
	defer ch.mtx.Unlock()
	if block <= ch.pending {
		return false
	}
	ch.pending = block
	ch.advertiser = node
	return true
}

func (ch *chain) takeRefresh() (string, bool) {
	ch.mtx.Lock()
	defer ch.mtx.Unlock()
	if ch.pending == 0 {
		return "", false
	}
	node := ch.advertiser
	ch.pending, ch.advertiser = 0, ""
	return node, true
}

// callMode restricts how a call selects nodes.
type callMode int

const (
	modeNormal callMode = iota
	// modeRefresh only asks seed nodes and never triggers another refresh.
	modeRefresh
)

// Client executes JSON-RPC requests against untrusted nodes and only returns
// responses whose proofs verify against the trust anchor it holds. A failing
// node is penalised and the next one tried.
//
// A Client is safe for concurrent use. Calls share the node registries and
// the trust anchors.
type Client struct {
	chains    map[types.ChainID]*chain
	transport transport.Transport
	verifiers *verifier.Registry

	maxAttempts    int
	requestTimeout time.Duration
	weights        nodelist.WeightConfig
	signatureCount int
	clientVersion  string
	registryOpts   []nodelist.Option

	store   store.Store
	signer  signer.Signer
	refresh singleflight.Group
	closed  atomic.Bool

	logger  log.Logger
	metrics *Metrics
}

// NewClient returns a client for the given chains. Boot nodes of every chain
// become the seeds of its registry. If a store is configured, cached node
// lists and anchors are restored; unreadable entries are ignored.
//
// See all Option(s) for the additional configuration.
func NewClient(
	chains []types.ChainSpec,
	tr transport.Transport,
	verifiers *verifier.Registry,
	options ...Option) (*Client, error) {

	if len(chains) == 0 {
		return nil, errors.New("no chains configured")
	}
	if tr == nil {
		return nil, errors.New("nil transport")
	}
	if verifiers == nil {
		verifiers = verifier.NewRegistry()
	}

	c := &Client{
		chains:         make(map[types.ChainID]*chain, len(chains)),
		transport:      tr,
		verifiers:      verifiers,
		maxAttempts:    defaultMaxAttempts,
		requestTimeout: defaultRequestTimeout,
		weights:        nodelist.DefaultWeightConfig(),
		signatureCount: defaultSignatureCount,
		clientVersion:  version.ProtocolVersion,
		logger:         log.NewNopLogger(),
		metrics:        NopMetrics(),
	}
	for _, o := range options {
		o(c)
	}

	if c.maxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", c.maxAttempts)
	}
	if c.requestTimeout <= 0 {
		return nil, fmt.Errorf("request timeout must be positive, got %v", c.requestTimeout)
	}
	if c.signatureCount < 0 {
		return nil, fmt.Errorf("negative signature count %d", c.signatureCount)
	}

	for _, spec := range chains {
		if err := spec.ValidateBasic(); err != nil {
			return nil, err
		}
		if _, ok := c.chains[spec.ID]; ok {
			return nil, fmt.Errorf("chain %v configured twice", spec.ID)
		}
		reg, err := nodelist.NewRegistry(spec.ID, spec.BootNodes, c.weights, c.registryOpts...)
		if err != nil {
			return nil, fmt.Errorf("chain %v: %w", spec.ID, err)
		}
		ch := &chain{spec: spec, registry: reg}
		c.chains[spec.ID] = ch
		c.restore(ch)
	}

	return c, nil
}

// restore loads the cached state of ch.
func (c *Client) restore(ch *chain) {
	if c.store == nil {
		return
	}
	id := ch.spec.ID

	snap, err := store.LoadNodeList(c.store, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		c.logger.Error("Ignoring cached node list", "chain", id, "err", err)
	default:
		if err := ch.registry.Restore(snap); err != nil {
			c.logger.Error("Can't restore cached node list", "chain", id, "err", err)
		} else {
			c.logger.Info("Restored node list", "chain", id, "lastBlock", snap.LastBlock, "nodes", ch.registry.Len())
		}
	}

	anchor, err := store.LoadAnchor(c.store, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		c.logger.Error("Ignoring cached trust anchor", "chain", id, "err", err)
	default:
		ch.anchor.Reset(anchor)
		c.metrics.AnchorHeight.With("chain", id.String()).Set(float64(anchor.Number))
		c.logger.Info("Restored trust anchor", "chain", id, "number", anchor.Number, "hash", anchor.Hash)
	}
}

func (c *Client) chain(id types.ChainID) (*chain, error) {
	ch, ok := c.chains[id]
	if !ok {
		return nil, ErrConfig{Reason: fmt.Errorf("unknown chain %v", id)}
	}
	return ch, nil
}

// Chains returns the specs of all configured chains ordered by id.
func (c *Client) Chains() []types.ChainSpec {
	out := make([]types.ChainSpec, 0, len(c.chains))
	for _, ch := range c.chains {
		out = append(out, ch.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Execute sends req to the nodes of its chain until one returns a response
// that verifies, and returns its result.
//
// Only configuration errors, ErrExhaustedRetries and context errors are
// returned. No unverified data is returned unless req asks for no proof.
func (c *Client) Execute(ctx context.Context, req *types.Request) (*Result, error) {
	start := time.Now()
	res, err := c.execute(ctx, req)

	outcome := "success"
	var (
		errConfig    ErrConfig
		errExhausted ErrExhaustedRetries
	)
	switch {
	case err == nil:
	case errors.As(err, &errConfig):
		outcome = "config"
	case errors.As(err, &errExhausted):
		outcome = "exhausted"
	default:
		outcome = "canceled"
	}
	if req != nil {
		chainLabel := req.ChainID.String()
		c.metrics.Requests.With("chain", chainLabel, "outcome", outcome).Add(1)
		c.metrics.RequestDuration.With("chain", chainLabel).Observe(time.Since(start).Seconds())
	}
	return res, err
}

func (c *Client) execute(ctx context.Context, req *types.Request) (*Result, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := req.ValidateBasic(); err != nil {
		return nil, ErrConfig{Reason: err}
	}
	ch, err := c.chain(req.ChainID)
	if err != nil {
		return nil, err
	}

	if node, ok := ch.takeRefresh(); ok {
		if _, err := c.RefreshNodeList(ctx, req.ChainID); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Error("Node list update failed, blacklisting advertiser",
				"chain", req.ChainID, "node", node, "err", err)
			c.blacklist(ch, node)
		}
	}

	res, _, err := c.call(ctx, ch, req, modeNormal)
	return res, err
}

// call runs the fallback loop for req on ch.
func (c *Client) call(ctx context.Context, ch *chain, req *types.Request, mode callMode) (*Result, *types.NodeList, error) {
	id := ch.spec.ID
	logger := c.logger.With("call", uuid.NewString(), "chain", id, "method", req.Method)

	var v verifier.Verifier
	if req.Proof != types.ProofNone {
		var err error
		if v, err = c.verifiers.Lookup(ch.spec.Type, req.Method); err != nil {
			return nil, nil, ErrConfig{Reason: err}
		}
	}
	if req.Sign && c.signer == nil {
		return nil, nil, ErrConfig{Reason: signer.ErrNoSigner}
	}

	candidates := c.candidates(ctx, ch, mode)
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}
	if len(candidates) == 0 {
		return nil, nil, ErrExhaustedRetries{Last: fmt.Errorf("%w for chain %v", ErrNoNodes, id)}
	}

	r := c.prepare(ch, req, candidates[0].URL)
	payload, err := c.buildPayload(ctx, r)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, ErrConfig{Reason: err}
	}

	var (
		errs  *multierror.Error
		last  error
		label = id.String()
	)
	for i, node := range candidates {
		url := node.URL
		c.metrics.Attempts.With("chain", label).Add(1)
		logger.Debug("Sending request", "attempt", i+1, "node", url)

		body, elapsed, err := c.send(ctx, url, payload)
		if ctx.Err() != nil {
			// abandoned attempts are not held against the node
			return nil, nil, ctx.Err()
		}
		if err != nil {
			last = ErrTransport{Node: url, Reason: err}
			errs = multierror.Append(errs, last)
			c.metrics.TransportFailures.With("chain", label).Add(1)
			logger.Info("Node failed to answer", "node", url, "err", err)
			c.penalize(ch, url)
			continue
		}
		if err := ch.registry.RecordResponseTime(url, elapsed); err != nil {
			logger.Error("Can't record response time", "node", url, "err", err)
		}

		resps, err := types.DecodeResponses(url, body, 1)
		if err != nil {
			last = ErrVerification{Node: url, Reason: fmt.Errorf("%w: %v", verifier.ErrMalformedProof, err)}
			errs = multierror.Append(errs, last)
			c.metrics.VerificationFailures.With("chain", label).Add(1)
			logger.Info("Malformed response", "node", url, "err", err)
			c.penalize(ch, url)
			continue
		}
		resp := resps[0]

		if resp.Error != nil {
			server := strings.HasPrefix(resp.Error.Message, serverErrorPrefix)
			last = ErrRPC{Node: url, Err: *resp.Error, Server: server}
			errs = multierror.Append(errs, last)
			logger.Info("Node returned an error", "node", url, "code", resp.Error.Code,
				"msg", resp.Error.Message, "server", server)
			if server {
				c.penalize(ch, url)
			}
			continue
		}

		var vr verifier.Result
		if v != nil {
			vr = v.Verify(ctx, r, resp, ch.anchor.Load())
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			if !vr.Accepted {
				last = ErrVerification{Node: url, Reason: vr.Reason}
				errs = multierror.Append(errs, last)
				c.metrics.VerificationFailures.With("chain", label).Add(1)
				logger.Info("Response failed verification", "node", url, "err", vr.Reason)
				c.penalize(ch, url)
				continue
			}
		}

		if err := ch.registry.RecordOutcome(url, nodelist.OutcomeSuccess); err != nil {
			logger.Error("Can't record outcome", "node", url, "err", err)
		}
		if ch.anchor.Advance(vr.Anchor) {
			c.metrics.AnchorHeight.With("chain", label).Set(float64(vr.Anchor.Number))
			logger.Debug("Advanced trust anchor", "number", vr.Anchor.Number, "hash", vr.Anchor.Hash)
		}
		if mode == modeNormal {
			c.checkNodeList(ch, resp, logger)
		}

		logger.Debug("Verified response", "node", url, "attempt", i+1)
		return &Result{Value: resp.Result, Node: url, Anchor: ch.anchor.Load()}, vr.NodeList, nil
	}

	return nil, nil, ErrExhaustedRetries{Attempts: len(candidates), Last: last, Errors: errs}
}

// candidates selects the nodes tried for one call. In normal mode an empty
// selection triggers a refresh of the node list first.
func (c *Client) candidates(ctx context.Context, ch *chain, mode callMode) []types.Node {
	if mode == modeRefresh {
		return ch.registry.SelectSeeds(c.maxAttempts)
	}
	nodes := ch.registry.Select(c.maxAttempts)
	if len(nodes) > 0 {
		return nodes
	}
	c.logger.Info("No node available, refreshing node list", "chain", ch.spec.ID)
	if _, err := c.RefreshNodeList(ctx, ch.spec.ID); err != nil {
		c.logger.Error("Node list refresh failed", "chain", ch.spec.ID, "err", err)
		return nil
	}
	return ch.registry.Select(c.maxAttempts)
}

// prepare returns the copy of req that is dispatched. Eth requests asking for
// a proof get signer nodes assigned unless the caller chose them.
func (c *Client) prepare(ch *chain, req *types.Request, first string) *types.Request {
	r := *req
	if ch.spec.Type != types.ChainTypeEth || r.Proof == types.ProofNone || len(r.Signers) > 0 {
		return &r
	}
	if r.Signatures == 0 {
		r.Signatures = c.signatureCount
	}
	for _, n := range ch.registry.SelectSigners(r.Signatures, first) {
		r.Signers = append(r.Signers, n.Address)
	}
	return &r
}

// send runs one attempt. The transport call is abandoned when ctx is done
// or the node does not answer within the request timeout.
func (c *Client) send(ctx context.Context, url string, payload []byte) ([]byte, time.Duration, error) {
	actx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	type reply struct {
		body []byte
		err  error
	}
	replies := make(chan reply, 1)
	start := time.Now()
	go func() {
		body, err := c.transport.Send(actx, url, payload)
		replies <- reply{body, err}
	}()

	select {
	case r := <-replies:
		return r.body, time.Since(start), r.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		return nil, time.Since(start), fmt.Errorf("%w within %v", transport.ErrNoResponse, c.requestTimeout)
	}
}

func (c *Client) penalize(ch *chain, url string) {
	if err := ch.registry.RecordOutcome(url, nodelist.OutcomeFailure); err != nil {
		c.logger.Error("Can't record outcome", "node", url, "err", err)
		return
	}
	if e, ok := ch.registry.Entry(url); ok && e.Weight == 0 {
		c.metrics.BlacklistedNodes.With("chain", ch.spec.ID.String()).Add(1)
		c.logger.Info("Blacklisted node", "chain", ch.spec.ID, "node", url, "until", e.BlacklistedUntil)
	}
}

func (c *Client) blacklist(ch *chain, url string) {
	if err := ch.registry.Blacklist(url, c.weights.BlacklistDuration); err != nil {
		c.logger.Error("Can't blacklist node", "node", url, "err", err)
		return
	}
	c.metrics.BlacklistedNodes.With("chain", ch.spec.ID.String()).Add(1)
}

// checkNodeList marks ch for a refresh if resp advertises a node list newer
// than the one the registry holds.
func (c *Client) checkNodeList(ch *chain, resp *types.Response, logger log.Logger) {
	if resp.In3 == nil || resp.In3.LastNodeList == 0 {
		return
	}
	advertised := resp.In3.LastNodeList
	if advertised <= ch.registry.LastBlock() {
		return
	}
	if resp.In3.CurrentBlock != 0 && advertised > resp.In3.CurrentBlock {
		return
	}
	if _, err := c.verifiers.Lookup(ch.spec.Type, methodNodeList); err != nil {
		return
	}
	if ch.markRefresh(advertised, resp.Node) {
		logger.Info("Node advertised newer node list", "node", resp.Node, "lastNodeList", advertised)
	}
}

// RefreshNodeList fetches the node list of chain id from its seed nodes,
// verifies it and merges it into the registry. Concurrent refreshes of the
// same chain share one fetch.
func (c *Client) RefreshNodeList(ctx context.Context, id types.ChainID) (types.NodeList, error) {
	if c.closed.Load() {
		return types.NodeList{}, ErrClosed
	}
	ch, err := c.chain(id)
	if err != nil {
		return types.NodeList{}, err
	}

	v, err, shared := c.refresh.Do(id.String(), func() (interface{}, error) {
		return c.refreshNodeList(ctx, ch)
	})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	if !shared || err != nil {
		c.metrics.NodeListRefreshes.With("chain", id.String(), "outcome", outcome).Add(1)
	}
	if err != nil {
		return types.NodeList{}, err
	}
	return v.(types.NodeList), nil
}

func (c *Client) refreshNodeList(ctx context.Context, ch *chain) (types.NodeList, error) {
	req, err := types.NewRequest(ch.spec.ID, methodNodeList)
	if err != nil {
		return types.NodeList{}, err
	}

	_, nl, err := c.call(ctx, ch, req, modeRefresh)
	if err != nil {
		return types.NodeList{}, err
	}
	if nl == nil {
		return types.NodeList{}, ErrConfig{Reason: fmt.Errorf("%w: %s returned no node list", verifier.ErrUnsupported, methodNodeList)}
	}

	if err := ch.registry.Refresh(*nl); err != nil {
		if errors.Is(err, nodelist.ErrStaleNodeList) {
			return ch.registry.NodeList(), nil
		}
		return types.NodeList{}, err
	}
	c.logger.Info("Updated node list", "chain", ch.spec.ID, "lastBlock", nl.LastBlockNumber, "nodes", len(nl.Nodes))

	if c.store != nil {
		if err := store.SaveNodeList(c.store, ch.registry.Snapshot()); err != nil {
			c.logger.Error("Can't cache node list", "chain", ch.spec.ID, "err", err)
		}
	}
	return ch.registry.NodeList(), nil
}

// NodeList returns the registered nodes of chain id.
func (c *Client) NodeList(id types.ChainID) (types.NodeList, error) {
	ch, err := c.chain(id)
	if err != nil {
		return types.NodeList{}, err
	}
	return ch.registry.NodeList(), nil
}

// Nodes returns all nodes of chain id together with their reputation.
func (c *Client) Nodes(id types.ChainID) ([]nodelist.Entry, error) {
	ch, err := c.chain(id)
	if err != nil {
		return nil, err
	}
	return ch.registry.Entries(), nil
}

// TrustAnchor returns the current trust anchor of chain id, or nil if the
// client does not hold one yet.
func (c *Client) TrustAnchor(id types.ChainID) (*types.TrustAnchor, error) {
	ch, err := c.chain(id)
	if err != nil {
		return nil, err
	}
	return ch.anchor.Load(), nil
}

// ResetAnchor replaces the trust anchor of chain id, even with an older
// block. A nil anchor makes the client bootstrap from signatures again.
func (c *Client) ResetAnchor(id types.ChainID, anchor *types.TrustAnchor) error {
	ch, err := c.chain(id)
	if err != nil {
		return err
	}
	if anchor != nil {
		if anchor.ChainID != id {
			return ErrConfig{Reason: fmt.Errorf("anchor of chain %v given for %v", anchor.ChainID, id)}
		}
		if err := anchor.ValidateBasic(); err != nil {
			return ErrConfig{Reason: err}
		}
	}
	ch.anchor.Reset(anchor)

	height := 0.0
	if anchor != nil {
		height = float64(anchor.Number)
	}
	c.metrics.AnchorHeight.With("chain", id.String()).Set(height)
	c.logger.Info("Reset trust anchor", "chain", id, "anchor", anchor)
	return nil
}

// Close writes the node lists and trust anchors to the store. Calls issued
// after Close fail with ErrClosed.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.store == nil {
		return nil
	}

	var errs *multierror.Error
	for _, spec := range c.Chains() {
		ch := c.chains[spec.ID]
		if err := store.SaveNodeList(c.store, ch.registry.Snapshot()); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("chain %v: %w", spec.ID, err))
		}
		if a := ch.anchor.Load(); a != nil {
			if err := store.SaveAnchor(c.store, *a); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("chain %v: %w", spec.ID, err))
			}
		}
	}
	return errs.ErrorOrNil()
}
