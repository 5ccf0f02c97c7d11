package light

import (
	"go.uber.org/atomic"

	"github.com/incubed/in3-go/types"
)

// anchorCell holds the trust anchor of one chain. Readers get an immutable
// snapshot; writers only ever replace it with a newer one.
type anchorCell struct {
	p atomic.Pointer[types.TrustAnchor]
}

func (c *anchorCell) Load() *types.TrustAnchor {
	return c.p.Load()
}

// Advance installs next if it is newer than the current anchor and reports
// whether it did. Concurrent advances are resolved in favour of the higher
// block.
func (c *anchorCell) Advance(next *types.TrustAnchor) bool {
	if next == nil {
		return false
	}
	for {
		cur := c.p.Load()
		if !next.NewerThan(cur) {
			return false
		}
		cp := *next
		if c.p.CompareAndSwap(cur, &cp) {
			return true
		}
	}
}

// Reset replaces the anchor unconditionally.
func (c *anchorCell) Reset(a *types.TrustAnchor) {
	if a == nil {
		c.p.Store(nil)
		return
	}
	cp := *a
	c.p.Store(&cp)
}
