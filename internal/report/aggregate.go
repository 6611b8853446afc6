// Package report builds margin reports over orders.
package report

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/catalog-pricing/internal/order"
	"github.com/noah-isme/catalog-pricing/internal/pricing"
)

// Granularity is the bucket width of a report.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ErrInvalidRange is returned when a range ends before it starts or names an
// unknown granularity.
var ErrInvalidRange = errors.New("report: invalid range")

// DefaultMaxBuckets bounds a Range whose MaxBuckets is zero: a year of days.
const DefaultMaxBuckets = 366

// ParseGranularity normalises s. Empty input selects Day.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return Day, nil
	case Day, Week, Month:
		return g, nil
	}
	return "", ErrInvalidRange
}

// Range is an inclusive span of calendar dates. Only the date part of From
// and To matters; both are interpreted in Location (From's location when nil).
type Range struct {
	From        time.Time
	To          time.Time
	Granularity Granularity
	Location    *time.Location
	// MaxBuckets caps the number of periods; zero means DefaultMaxBuckets.
	MaxBuckets int
}

func (r Range) location() *time.Location {
	if r.Location != nil {
		return r.Location
	}
	return r.From.Location()
}

// Totals are revenue, cost and margin figures for a set of orders.
type Totals struct {
	Orders    int           `json:"orders"`
	Revenue   pricing.Money `json:"revenue"`
	Cost      pricing.Money `json:"cost"`
	Margin    pricing.Money `json:"margin"`
	MarginPct int64         `json:"marginPct"`
	// EstimatedLines counts lines whose cost came from the fixed-ratio estimate.
	EstimatedLines int `json:"estimatedLines"`
}

// Bucket is the Totals of one period.
type Bucket struct {
	Start time.Time `json:"start"`
	Label string    `json:"label"`
	Totals
}

// Report is the result of Aggregate.
type Report struct {
	From        string      `json:"from"`
	To          string      `json:"to"`
	Granularity Granularity `json:"granularity"`
	Buckets     []Bucket    `json:"buckets"`
	Totals      Totals      `json:"totals"`
	Cancelled   int         `json:"cancelled"`
	OutOfRange  int         `json:"outOfRange"`
}

type bounds struct {
	gran        Granularity
	first, last time.Time
	loc         *time.Location
}

// Validate reports ErrInvalidRange for a reversed range, an unknown
// granularity, or a span wider than MaxBuckets periods.
func (r Range) Validate() error {
	_, err := r.bounds()
	return err
}

func (r Range) bounds() (bounds, error) {
	gran, err := ParseGranularity(string(r.Granularity))
	if err != nil {
		return bounds{}, err
	}
	loc := r.location()
	b := bounds{gran: gran, first: startOfDay(r.From, loc), last: startOfDay(r.To, loc), loc: loc}
	if b.last.Before(b.first) {
		return bounds{}, ErrInvalidRange
	}
	limit := r.MaxBuckets
	if limit <= 0 {
		limit = DefaultMaxBuckets
	}
	n := 0
	for start := bucketStart(b.first, gran); !start.After(b.last); start = nextBucket(start, gran) {
		if n++; n > limit {
			return bounds{}, fmt.Errorf("%w: more than %d %s buckets", ErrInvalidRange, limit, gran)
		}
	}
	return b, nil
}

// Aggregate buckets orders over rng. Orders outside the range are counted as
// OutOfRange; in-range orders with a cancelled status are counted as
// Cancelled. Neither contributes to the totals. Order revenue is its Total;
// order cost is the sum of known line costs with unknown ones estimated from
// the line price.
func Aggregate(orders []order.Order, rng Range) (Report, error) {
	bd, err := rng.bounds()
	if err != nil {
		return Report{}, err
	}
	gran, loc, first, last := bd.gran, bd.loc, bd.first, bd.last

	rep := Report{
		From:        first.Format(time.DateOnly),
		To:          last.Format(time.DateOnly),
		Granularity: gran,
	}
	index := make(map[string]int)
	for start := bucketStart(first, gran); !start.After(last); start = nextBucket(start, gran) {
		label := bucketLabel(start, gran)
		index[label] = len(rep.Buckets)
		rep.Buckets = append(rep.Buckets, Bucket{Start: start, Label: label})
	}

	for _, o := range orders {
		day := startOfDay(o.CreatedAt, loc)
		if day.Before(first) || day.After(last) {
			rep.OutOfRange++
			continue
		}
		if o.Status.Cancelled() {
			rep.Cancelled++
			continue
		}
		cost, estimated := o.Cost()
		b := &rep.Buckets[index[bucketLabel(bucketStart(day, gran), gran)]]
		b.add(o.Total, cost, estimated)
		rep.Totals.add(o.Total, cost, estimated)
	}

	for i := range rep.Buckets {
		rep.Buckets[i].finish()
	}
	rep.Totals.finish()
	return rep, nil
}

func (t *Totals) add(revenue, cost pricing.Money, estimated int) {
	t.Orders++
	t.Revenue += revenue
	t.Cost += cost
	t.EstimatedLines += estimated
}

func (t *Totals) finish() {
	t.Margin = max(0, t.Revenue-t.Cost)
	t.MarginPct = 0
	if t.Revenue > 0 {
		t.MarginPct = pricing.Round(float64(t.Margin) / float64(t.Revenue) * 100)
	}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func bucketStart(day time.Time, g Granularity) time.Time {
	switch g {
	case Week:
		// ISO weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Month:
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
	}
	return day
}

func nextBucket(start time.Time, g Granularity) time.Time {
	switch g {
	case Week:
		return start.AddDate(0, 0, 7)
	case Month:
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 1)
}

func bucketLabel(start time.Time, g Granularity) string {
	switch g {
	case Week:
		year, week := start.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case Month:
		return start.Format("2006-01")
	}
	return start.Format(time.DateOnly)
}
