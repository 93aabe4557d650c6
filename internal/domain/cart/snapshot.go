package cart

import (
	"context"

	"github.com/go-faster/errors"
	"golang.org/x/sync/singleflight"
)

// Snapshot is an immutable view of a buyer's cart at one point in time.
type Snapshot struct {
	BuyerID string
	Lines   []Line
}

// Empty reports whether the snapshot holds no lines at all.
func (s *Snapshot) Empty() bool {
	return len(s.Lines) == 0
}

// Removed returns lines whose product or seller no longer resolves. They
// cannot be priced and are never settled.
func (s *Snapshot) Removed() []Line {
	var out []Line
	for _, l := range s.Lines {
		if !l.Resolved() {
			out = append(out, l)
		}
	}
	return out
}

// Resolved returns the lines that can be priced, in snapshot order.
func (s *Snapshot) Resolved() []Line {
	out := make([]Line, 0, len(s.Lines))
	for _, l := range s.Lines {
		if l.Resolved() {
			out = append(out, l)
		}
	}
	return out
}

// ProductIDs returns the product ids of all resolved lines.
func (s *Snapshot) ProductIDs() []string {
	ids := make([]string, 0, len(s.Lines))
	for _, l := range s.Lines {
		if l.Resolved() {
			ids = append(ids, l.ProductID)
		}
	}
	return ids
}

// Reader loads cart snapshots.
type Reader struct {
	repo  Repository
	group singleflight.Group
}

// NewReader creates a Reader backed by the given Repository.
func NewReader(repo Repository) *Reader {
	return &Reader{repo: repo}
}

// Snapshot reads the buyer's current cart from the repository. The read is
// never shared with other callers, so anything written before the call is
// visible in the result.
func (r *Reader) Snapshot(ctx context.Context, buyerID string) (*Snapshot, error) {
	lines, err := r.repo.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart lines")
	}
	return &Snapshot{BuyerID: buyerID, Lines: lines}, nil
}

// SharedSnapshot is Snapshot for display paths: concurrent calls for the
// same buyer share one repository read. The shared read is detached from
// any single caller's context, so a cancelled caller only abandons its own
// wait. Use Forget after mutating the cart.
func (r *Reader) SharedSnapshot(ctx context.Context, buyerID string) (*Snapshot, error) {
	ch := r.group.DoChan(buyerID, func() (any, error) {
		return r.repo.ListByBuyer(context.WithoutCancel(ctx), buyerID)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, errors.Wrap(res.Err, "list cart lines")
	}

	shared := res.Val.([]Line)
	lines := make([]Line, len(shared))
	for i, l := range shared {
		if l.Product != nil {
			p := *l.Product
			l.Product = &p
		}
		lines[i] = l
	}
	return &Snapshot{BuyerID: buyerID, Lines: lines}, nil
}

// Forget drops any in-flight shared read for buyerID so the next
// SharedSnapshot starts a new one.
func (r *Reader) Forget(buyerID string) {
	r.group.Forget(buyerID)
}
