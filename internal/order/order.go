// Package order holds the order records consumed by cost backfill and margin
// reporting. Orders arrive from the surrounding application; nothing here
// persists them.
package order

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/catalog-pricing/internal/pricing"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Cancelled reports whether s is a cancelled status. Both spellings are
// accepted since upstream systems disagree.
func (s Status) Cancelled() bool {
	switch Status(strings.ToLower(strings.TrimSpace(string(s)))) {
	case StatusCancelled, "canceled":
		return true
	}
	return false
}

// Line is one product line of an order.
type Line struct {
	ProductID string        `json:"productId" validate:"required"`
	Name      string        `json:"name,omitempty"`
	Qty       int           `json:"qty" validate:"gte=0"`
	Variant   string        `json:"variant,omitempty"`
	Mode      pricing.Mode  `json:"unitMode,omitempty"`
	UnitPrice pricing.Money `json:"unitPrice"`
	// UnitCost is nil until a cost has been attributed to the line.
	UnitCost *pricing.Money `json:"unitCost,omitempty"`
}

// Revenue is the line's sale amount.
func (l Line) Revenue() pricing.Money {
	return l.UnitPrice * pricing.Money(l.Qty)
}

// Cost returns the known line cost, or the fixed-ratio estimate of the line
// revenue when no unit cost is attributed. known is false for estimates.
func (l Line) Cost() (cost pricing.Money, known bool) {
	if l.UnitCost != nil {
		return *l.UnitCost * pricing.Money(l.Qty), true
	}
	return pricing.EstimateCost(l.Revenue()), false
}

// Order is a placed order.
type Order struct {
	ID        uuid.UUID     `json:"id"`
	CreatedAt time.Time     `json:"createdAt" validate:"required"`
	Status    Status        `json:"status"`
	Total     pricing.Money `json:"total"`
	Lines     []Line        `json:"lines" validate:"dive"`
}

// New returns a pending order with a fresh identifier.
func New(createdAt time.Time, lines ...Line) Order {
	o := Order{ID: uuid.New(), CreatedAt: createdAt, Status: StatusPending, Lines: lines}
	for _, l := range lines {
		o.Total += l.Revenue()
	}
	return o
}

// Cost sums the line costs. estimated counts lines priced by the fallback ratio.
func (o Order) Cost() (cost pricing.Money, estimated int) {
	for _, l := range o.Lines {
		c, known := l.Cost()
		cost += c
		if !known {
			estimated++
		}
	}
	return cost, estimated
}

// Clone returns a copy of o whose lines and unit costs can be modified
// without affecting o.
func (o Order) Clone() Order {
	out := o
	if o.Lines == nil {
		return out
	}
	out.Lines = make([]Line, len(o.Lines))
	for i, l := range o.Lines {
		if l.UnitCost != nil {
			c := *l.UnitCost
			l.UnitCost = &c
		}
		out.Lines[i] = l
	}
	return out
}
