// Package pricing groups cart lines by seller and computes order totals.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/campusmart/marketplace/internal/domain/cart"
)

// Partition is the set of cart lines sold by one seller.
type Partition struct {
	SellerID string
	Lines    []cart.Line
}

// Subtotal returns Σ price × quantity over the partition's lines.
func (p Partition) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range p.Lines {
		sum = sum.Add(l.LineTotal())
	}
	return sum
}

// PartitionBySeller groups lines by seller id in first-seen order. Lines
// without a resolvable seller are dropped; callers that must not lose them
// check cart.Snapshot.Removed first.
func PartitionBySeller(lines []cart.Line) []Partition {
	index := make(map[string]int)
	var parts []Partition
	for _, l := range lines {
		seller := l.SellerID()
		if seller == "" {
			continue
		}
		i, ok := index[seller]
		if !ok {
			i = len(parts)
			index[seller] = i
			parts = append(parts, Partition{SellerID: seller})
		}
		parts[i].Lines = append(parts[i].Lines, l)
	}
	return parts
}

// SellerIDs returns the distinct seller ids of parts in order.
func SellerIDs(parts []Partition) []string {
	ids := make([]string, len(parts))
	for i, p := range parts {
		ids[i] = p.SellerID
	}
	return ids
}
