package verifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/incubed/in3-go/types"
)

// Reasons a response is rejected. Rejections wrap one of them, so callers can
// tell them apart with errors.Is.
var (
	ErrStaleAnchor       = errors.New("stale anchor")
	ErrMalformedProof    = errors.New("malformed proof")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrHashMismatch      = errors.New("hash mismatch")
	ErrMissingProof      = errors.New("missing proof")
	ErrValueMismatch     = errors.New("value mismatch")
	ErrUnsupported       = errors.New("unsupported")
)

// Result is the outcome of verifying one response.
type Result struct {
	Accepted bool
	// Anchor is set if the proof advanced the chain beyond the anchor it was
	// verified against.
	Anchor *types.TrustAnchor
	// NodeList is set for verified node list responses.
	NodeList *types.NodeList
	// Reason is set for rejected responses.
	Reason error
}

// Accept returns an accepting result that advances the anchor to anchor (may
// be nil).
func Accept(anchor *types.TrustAnchor) Result {
	return Result{Accepted: true, Anchor: anchor}
}

// Reject returns a rejection of the given kind.
func Reject(kind error, format string, args ...interface{}) Result {
	return Result{Reason: fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))}
}

// RejectErr returns a rejection for err. Errors that do not carry a reason
// are treated as malformed proofs.
func RejectErr(err error) Result {
	for _, kind := range []error{
		ErrStaleAnchor, ErrMalformedProof, ErrSignatureMismatch,
		ErrHashMismatch, ErrMissingProof, ErrValueMismatch, ErrUnsupported,
	} {
		if errors.Is(err, kind) {
			return Result{Reason: err}
		}
	}
	return Result{Reason: fmt.Errorf("%w: %v", ErrMalformedProof, err)}
}

// Verifier checks responses of one chain type.
type Verifier interface {
	// Verify checks resp against req and anchor. anchor may be nil if the
	// client holds no anchor for the chain yet.
	//
	// Verify never returns an accepting result for a partially proven
	// response.
	Verify(ctx context.Context, req *types.Request, resp *types.Response, anchor *types.TrustAnchor) Result

	// SupportedMethods lists the methods Verify can check.
	SupportedMethods() []string

	// ChainType is the chain type the verifier handles.
	ChainType() types.ChainType
}

// Registry dispatches requests to the verifier of their chain type.
type Registry struct {
	mtx       sync.RWMutex
	verifiers map[types.ChainType]Verifier
	methods   map[types.ChainType]map[string]struct{}
}

// NewRegistry returns a registry holding vs.
func NewRegistry(vs ...Verifier) *Registry {
	r := &Registry{
		verifiers: make(map[types.ChainType]Verifier),
		methods:   make(map[types.ChainType]map[string]struct{}),
	}
	for _, v := range vs {
		r.Register(v)
	}
	return r
}

// Register adds v, replacing any verifier of the same chain type.
func (r *Registry) Register(v Verifier) {
	methods := make(map[string]struct{})
	for _, m := range v.SupportedMethods() {
		methods[m] = struct{}{}
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.verifiers[v.ChainType()] = v
	r.methods[v.ChainType()] = methods
}

// Lookup returns the verifier for method on chains of type t.
func (r *Registry) Lookup(t types.ChainType, method string) (Verifier, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	v, ok := r.verifiers[t]
	if !ok {
		return nil, fmt.Errorf("%w: no verifier for %v chains", ErrUnsupported, t)
	}
	if _, ok := r.methods[t][method]; !ok {
		return nil, fmt.Errorf("%w: method %s on %v chains", ErrUnsupported, method, t)
	}
	return v, nil
}

// Methods returns the sorted list of methods supported on chains of type t.
func (r *Registry) Methods(t types.ChainType) []string {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	out := make([]string, 0, len(r.methods[t]))
	for m := range r.methods[t] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
