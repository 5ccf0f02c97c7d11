package nodelist

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mroth/weightedrand"

	"github.com/incubed/in3-go/types"
)

// weightScale converts trust weights into the integer weights used for
// selection. Any positive weight maps to at least 1.
const weightScale = 100

var (
	// ErrUnknownNode is returned for urls the registry has never seen.
	ErrUnknownNode = errors.New("unknown node")
	// ErrStaleNodeList is returned by Refresh for a list older than the one
	// already known.
	ErrStaleNodeList = errors.New("node list is older than the current one")
)

// Outcome of a single request against a node.
type Outcome int

const (
	// OutcomeSuccess is recorded for a verified response.
	OutcomeSuccess Outcome = iota + 1
	// OutcomeFailure is recorded for transport errors, timeouts, malformed
	// responses and rejected proofs.
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Entry is a node together with the reputation the client learned about it.
type Entry struct {
	Node types.Node

	Weight           float64
	BlacklistedUntil time.Time
	Failures         int
	LastSuccess      time.Time

	// Responses counts answered requests, ResponseTime is their total
	// round trip time.
	Responses    uint64
	ResponseTime time.Duration

	// Seed nodes are the boot nodes of the chain. They are the only nodes
	// used to refresh the node list.
	Seed bool
	// Delisted nodes are no longer part of the registered node list.
	Delisted bool
}

// AvgResponseTime returns the mean round trip time of the node.
func (e Entry) AvgResponseTime() time.Duration {
	if e.Responses == 0 {
		return 0
	}
	return e.ResponseTime / time.Duration(e.Responses)
}

// Blacklisted reports whether the entry must not be selected at now.
func (e Entry) Blacklisted(now time.Time) bool {
	return e.Delisted || now.Before(e.BlacklistedUntil)
}

// Option configures a Registry.
type Option func(*Registry)

// Clock sets the time source. Used by tests.
func Clock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// RandSource sets the source of randomness for selection.
func RandSource(src rand.Source) Option {
	return func(r *Registry) { r.rnd = rand.New(src) }
}

// Registry holds the nodes of one chain and their trust weights. All methods
// are safe for concurrent use; updates for a node are applied atomically.
type Registry struct {
	chainID types.ChainID
	cfg     WeightConfig
	now     func() time.Time

	mtx        sync.Mutex
	rnd        *rand.Rand
	entries    map[string]*Entry
	order      []string // insertion order, keeps iteration deterministic
	lastBlock  uint64
	contract   common.Address
	registryID common.Hash
}

// NewRegistry creates a registry for chainID, bootstrapped with the given
// seed nodes.
func NewRegistry(chainID types.ChainID, seeds []types.Node, cfg WeightConfig, opts ...Option) (*Registry, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid weight config: %w", err)
	}
	if len(seeds) == 0 {
		return nil, errors.New("no seed nodes")
	}

	r := &Registry{
		chainID: chainID,
		cfg:     cfg,
		now:     time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec
		entries: make(map[string]*Entry, len(seeds)),
	}
	for _, o := range opts {
		o(r)
	}

	for i, n := range seeds {
		if err := n.ValidateBasic(); err != nil {
			return nil, fmt.Errorf("seed #%d: %w", i, err)
		}
		if _, ok := r.entries[n.URL]; ok {
			return nil, fmt.Errorf("duplicate seed %s", n.URL)
		}
		r.add(&Entry{Node: n, Weight: r.initialWeight(n), Seed: true})
	}
	return r, nil
}

// ChainID returns the chain the registry belongs to.
func (r *Registry) ChainID() types.ChainID { return r.chainID }

// Len returns the number of listed nodes, blacklisted ones included.
func (r *Registry) Len() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	n := 0
	for _, e := range r.entries {
		if !e.Delisted {
			n++
		}
	}
	return n
}

// Config returns the weight configuration.
func (r *Registry) Config() WeightConfig { return r.cfg }

// Select returns up to n distinct nodes by weighted random selection. Nodes
// with a higher trust weight are more likely to come first; blacklisted and
// delisted nodes are never returned. Exactly min(n, Available()) nodes are
// returned.
func (r *Registry) Select(n int) []types.Node {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	now := r.now()
	return r.pick(n, func(e *Entry) bool { return !e.Blacklisted(now) })
}

// SelectSeeds is like Select, but only considers seed nodes. Seeds removed
// from the registered list stay usable here.
func (r *Registry) SelectSeeds(n int) []types.Node {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	now := r.now()
	return r.pick(n, func(e *Entry) bool { return e.Seed && !now.Before(e.BlacklistedUntil) })
}

// SelectSigners picks up to n nodes that are able to sign block hashes,
// excluding the node with url exclude.
func (r *Registry) SelectSigners(n int, exclude string) []types.Node {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	now := r.now()
	return r.pick(n, func(e *Entry) bool {
		return e.Node.URL != exclude && e.Node.Props.Has(types.PropSigner) && !e.Blacklisted(now)
	})
}

// Available returns the number of nodes that can currently be selected.
func (r *Registry) Available() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	now := r.now()
	cnt := 0
	for _, url := range r.order {
		e := r.entries[url]
		r.expire(e, now)
		if !e.Blacklisted(now) {
			cnt++
		}
	}
	return cnt
}

// must be called with mtx held.
func (r *Registry) pick(n int, eligible func(*Entry) bool) []types.Node {
	if n <= 0 {
		return nil
	}

	now := r.now()
	candidates := make([]*Entry, 0, len(r.order))
	for _, url := range r.order {
		e := r.entries[url]
		r.expire(e, now)
		if eligible(e) {
			candidates = append(candidates, e)
		}
	}

	picked := make([]*Entry, 0, n)
	for len(picked) < n && len(candidates) > 0 {
		idx := r.pickOne(candidates)
		picked = append(picked, candidates[idx])
		candidates = append(candidates[:idx], candidates[idx+1:]...)
	}

	// among picks with equal weight, the most recently successful node goes
	// first.
	for i := 0; i < len(picked); {
		j := i + 1
		for j < len(picked) && selectionWeight(picked[j].Weight) == selectionWeight(picked[i].Weight) {
			j++
		}
		run := picked[i:j]
		sort.SliceStable(run, func(a, b int) bool {
			return run[a].LastSuccess.After(run[b].LastSuccess)
		})
		i = j
	}

	out := make([]types.Node, len(picked))
	for i, e := range picked {
		out[i] = e.Node
	}
	return out
}

func (r *Registry) pickOne(candidates []*Entry) int {
	if len(candidates) == 1 {
		return 0
	}
	choices := make([]weightedrand.Choice, len(candidates))
	for i, e := range candidates {
		choices[i] = weightedrand.NewChoice(i, selectionWeight(e.Weight))
	}
	chooser, err := weightedrand.NewChooser(choices...)
	if err != nil {
		// only possible on overflow; fall back to uniform choice
		return r.rnd.Intn(len(candidates))
	}
	return chooser.PickSource(r.rnd).(int)
}

func selectionWeight(w float64) uint {
	if w <= 0 {
		return 1
	}
	return uint(math.Max(1, math.Round(w*weightScale)))
}

// RecordOutcome applies the result of a request to the node's trust weight.
func (r *Registry) RecordOutcome(url string, o Outcome) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	e, ok := r.entries[url]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, url)
	}

	now := r.now()
	r.expire(e, now)

	switch o {
	case OutcomeSuccess:
		if now.Before(e.BlacklistedUntil) {
			// late answer of a node blacklisted in the meantime
			e.LastSuccess = now
			break
		}
		w := math.Max(e.Weight, r.cfg.Floor) * r.cfg.SuccessFactor
		e.Weight = math.Min(r.cfg.Ceiling, w)
		e.Failures = 0
		e.LastSuccess = now
	case OutcomeFailure:
		e.Weight *= r.cfg.FailureFactor
		e.Failures++
		if e.Weight < r.cfg.Floor || e.Failures >= r.cfg.MaxConsecutiveFailures {
			r.blacklist(e, now.Add(r.cfg.BlacklistDuration))
		}
	default:
		return fmt.Errorf("unknown outcome %v", o)
	}
	return nil
}

// RecordResponseTime adds the round trip time of an answered request to the
// node's statistics.
func (r *Registry) RecordResponseTime(url string, d time.Duration) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	e, ok := r.entries[url]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, url)
	}
	e.Responses++
	e.ResponseTime += d
	return nil
}

// Blacklist excludes the node from selection for d.
func (r *Registry) Blacklist(url string, d time.Duration) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	e, ok := r.entries[url]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, url)
	}
	r.blacklist(e, r.now().Add(d))
	return nil
}

func (r *Registry) blacklist(e *Entry, until time.Time) {
	if until.After(e.BlacklistedUntil) {
		e.BlacklistedUntil = until
	}
	e.Weight = 0
}

// expire puts a node whose blacklist window has passed back on probation.
func (r *Registry) expire(e *Entry, now time.Time) {
	if e.BlacklistedUntil.IsZero() || now.Before(e.BlacklistedUntil) {
		return
	}
	e.BlacklistedUntil = time.Time{}
	e.Weight = r.cfg.Floor
	e.Failures = 0
}

func (r *Registry) initialWeight(n types.Node) float64 {
	capacity := float64(n.Weight)
	if capacity < 1 {
		capacity = 1
	}
	return math.Min(r.cfg.Ceiling, r.cfg.InitialWeight*capacity)
}

func (r *Registry) add(e *Entry) {
	r.entries[e.Node.URL] = e
	r.order = append(r.order, e.Node.URL)
}

// Refresh merges a verified node list into the registry. Known nodes keep
// their reputation and get their registration data updated, new nodes start
// with the initial weight and nodes missing from the list are delisted.
func (r *Registry) Refresh(nl types.NodeList) error {
	if err := nl.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid node list: %w", err)
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	if nl.LastBlockNumber < r.lastBlock {
		return fmt.Errorf("%w: #%d < #%d", ErrStaleNodeList, nl.LastBlockNumber, r.lastBlock)
	}

	listed := make(map[string]struct{}, len(nl.Nodes))
	for _, n := range nl.Nodes {
		listed[n.URL] = struct{}{}
		if e, ok := r.entries[n.URL]; ok {
			e.Node = n
			e.Delisted = false
			continue
		}
		r.add(&Entry{Node: n, Weight: r.initialWeight(n)})
	}
	for _, url := range r.order {
		if _, ok := listed[url]; !ok {
			r.entries[url].Delisted = true
		}
	}

	r.lastBlock = nl.LastBlockNumber
	r.contract = nl.Contract
	r.registryID = nl.RegistryID
	return nil
}

// LastBlock returns the block number of the last merged node list (0 if the
// registry only knows its seeds).
func (r *Registry) LastBlock() uint64 {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.lastBlock
}

// NodeList returns the currently registered (not delisted) nodes.
func (r *Registry) NodeList() types.NodeList {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	nl := types.NodeList{
		Contract:        r.contract,
		RegistryID:      r.registryID,
		LastBlockNumber: r.lastBlock,
	}
	for _, url := range r.order {
		if e := r.entries[url]; !e.Delisted {
			nl.Nodes = append(nl.Nodes, e.Node)
		}
	}
	nl.TotalServers = uint64(len(nl.Nodes))
	return nl
}

// Entry returns a copy of the entry for url.
func (r *Registry) Entry(url string) (Entry, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	e, ok := r.entries[url]
	if !ok {
		return Entry{}, false
	}
	r.expire(e, r.now())
	return *e, true
}

// Entries returns copies of all entries in insertion order.
func (r *Registry) Entries() []Entry {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	now := r.now()
	out := make([]Entry, 0, len(r.order))
	for _, url := range r.order {
		e := r.entries[url]
		r.expire(e, now)
		out = append(out, *e)
	}
	return out
}

// Snapshot is the persistable state of a registry.
type Snapshot struct {
	ChainID    types.ChainID
	LastBlock  uint64
	Contract   common.Address
	RegistryID common.Hash
	Entries    []Entry
}

// Snapshot returns the current state.
func (r *Registry) Snapshot() Snapshot {
	entries := r.Entries()

	r.mtx.Lock()
	defer r.mtx.Unlock()
	return Snapshot{
		ChainID:    r.chainID,
		LastBlock:  r.lastBlock,
		Contract:   r.contract,
		RegistryID: r.registryID,
		Entries:    entries,
	}
}

// Restore replaces the registry's state with s. Seeds of the registry stay
// seeds. A snapshot of another chain or older than the current state is
// rejected.
func (r *Registry) Restore(s Snapshot) error {
	if s.ChainID != r.chainID {
		return fmt.Errorf("snapshot of chain %v cannot be restored into %v", s.ChainID, r.chainID)
	}
	if len(s.Entries) == 0 {
		return errors.New("empty snapshot")
	}

	for i, e := range s.Entries {
		if err := e.Node.ValidateBasic(); err != nil {
			return fmt.Errorf("snapshot entry #%d: %w", i, err)
		}
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	if s.LastBlock < r.lastBlock {
		return fmt.Errorf("%w: #%d < #%d", ErrStaleNodeList, s.LastBlock, r.lastBlock)
	}

	var seeds []*Entry
	isSeed := make(map[string]bool)
	for _, url := range r.order {
		if e := r.entries[url]; e.Seed {
			seeds = append(seeds, e)
			isSeed[url] = true
		}
	}

	r.entries = make(map[string]*Entry, len(s.Entries)+len(seeds))
	r.order = nil
	for _, e := range s.Entries {
		if _, dup := r.entries[e.Node.URL]; dup {
			continue
		}
		e := e
		e.Seed = isSeed[e.Node.URL]
		e.Weight = math.Min(math.Max(e.Weight, 0), r.cfg.Ceiling)
		r.add(&e)
	}
	// seeds unknown to the snapshot are kept
	for _, e := range seeds {
		if _, ok := r.entries[e.Node.URL]; !ok {
			r.add(e)
		}
	}

	r.lastBlock = s.LastBlock
	r.contract = s.Contract
	r.registryID = s.RegistryID
	return nil
}
