// Package analyser turns the canonical dataset into monthly completeness
// summaries per sensor.
package analyser

import (
	"sort"
	"strconv"
	"time"

	"github.com/brensch/lscollection/internal/config"
	"github.com/brensch/lscollection/internal/harvest"
)

// Options select between the two summary policies.
type Options struct {
	// PQDenominator is config.PQDenominatorNBAR (pq / nbar) or
	// config.PQDenominatorL1 (pq / (L1T + L1Gt)).
	PQDenominator string
	// IncludeSystem adds system records to the pass grouping. They carry no
	// products but do contribute their pass counters.
	IncludeSystem bool
}

// DefaultOptions matches the plain collection summary.
func DefaultOptions() Options {
	return Options{PQDenominator: config.PQDenominatorNBAR, IncludeSystem: true}
}

// Ratio is a percentage that is undefined when its denominator is zero.
type Ratio struct {
	Value float64
	Valid bool
}

// Percent returns num / den * 100, or an undefined Ratio if den is zero.
func Percent(num, den int64) Ratio {
	if den == 0 {
		return Ratio{}
	}
	return Ratio{Value: float64(num) / float64(den) * 100, Valid: true}
}

func (r Ratio) String() string {
	if !r.Valid {
		return "undefined"
	}
	return strconv.FormatFloat(r.Value, 'f', -1, 64)
}

// Nullable returns the value for a nullable DOUBLE column.
func (r Ratio) Nullable() any {
	if !r.Valid {
		return nil
	}
	return r.Value
}

// Counters are the summed quantities of a pass or a month.
type Counters struct {
	L0Success, L0Fail int64
	L1Success, L1Fail int64
	L1G, L1Gt, L1T    int64
	NBAR, NBART, PQ   int64
}

func (c *Counters) add(o Counters) {
	c.L0Success += o.L0Success
	c.L0Fail += o.L0Fail
	c.L1Success += o.L1Success
	c.L1Fail += o.L1Fail
	c.L1G += o.L1G
	c.L1Gt += o.L1Gt
	c.L1T += o.L1T
	c.NBAR += o.NBAR
	c.NBART += o.NBART
	c.PQ += o.PQ
}

// Bucket is one calendar month of a sensor.
type Bucket struct {
	Month  time.Time // first day of the month, UTC
	Passes int
	Counters

	L0Completeness    Ratio
	L1Completeness    Ratio
	NBARCompleteness  Ratio
	NBARTCompleteness Ratio
	PQCompleteness    Ratio
	PQRelative        Ratio // pq / nbar regardless of the configured denominator
	OtherPercent      Ratio // (L1T + L1Gt) / L1Success
}

// MonthlySummary is the contiguous run of months for one sensor.
type MonthlySummary struct {
	Sensor  string
	Buckets []Bucket
}

// Summary is the result of Summarise. Sensors are sorted by name.
type Summary struct {
	Sensors      []MonthlySummary
	Passes       int
	ExcludedRows int // rows whose pass id did not parse
}

type pass struct {
	sensor string
	date   time.Time
	Counters
}

// Summarise groups the dataset by pass name, then by sensor and month.
//
// The L0 and L1 counters of a pass are taken from its first row, since every
// row of a pass repeats them. Product counts are summed across the pass's
// rows. Other records come before system records when deciding which row is
// first.
func Summarise(ds harvest.Dataset, opts Options) Summary {
	var out Summary
	passes := make(map[string]*pass)
	var order []string

	visit := func(e harvest.Entry) {
		if !e.Pass.Valid {
			out.ExcludedRows++
			return
		}
		p, ok := passes[e.PassName]
		if !ok {
			p = &pass{
				sensor: e.Pass.Sensor,
				date:   e.Pass.Date,
				Counters: Counters{
					L0Success: e.L0Success,
					L0Fail:    e.L0Fail,
					L1Success: e.L1Success,
					L1Fail:    e.L1Fail,
					L1G:       e.L1G,
					L1Gt:      e.L1Gt,
					L1T:       e.L1T,
				},
			}
			passes[e.PassName] = p
			order = append(order, e.PassName)
		}
		if e.Products.NBARExists {
			p.NBAR++
		}
		if e.Products.NBARTExists {
			p.NBART++
		}
		if e.Products.PQExists {
			p.PQ++
		}
	}
	for _, e := range ds.OthAndChildren {
		visit(e)
	}
	if opts.IncludeSystem {
		for _, e := range ds.SysProducts {
			// system rows never carry products
			e.Products.NBARExists, e.Products.NBARTExists, e.Products.PQExists = false, false, false
			visit(e)
		}
	}
	out.Passes = len(order)

	bySensor := make(map[string][]*pass)
	for _, name := range order {
		p := passes[name]
		bySensor[p.sensor] = append(bySensor[p.sensor], p)
	}
	sensors := make([]string, 0, len(bySensor))
	for s := range bySensor {
		sensors = append(sensors, s)
	}
	sort.Strings(sensors)

	for _, s := range sensors {
		out.Sensors = append(out.Sensors, MonthlySummary{Sensor: s, Buckets: monthly(bySensor[s], opts)})
	}
	return out
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// monthly buckets passes into every calendar month from the earliest to the
// latest pass, inclusive. Months without passes have zero counters.
func monthly(passes []*pass, opts Options) []Bucket {
	if len(passes) == 0 {
		return nil
	}
	first, last := monthStart(passes[0].date), monthStart(passes[0].date)
	for _, p := range passes[1:] {
		m := monthStart(p.date)
		if m.Before(first) {
			first = m
		}
		if m.After(last) {
			last = m
		}
	}

	index := make(map[time.Time]int)
	var buckets []Bucket
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		index[m] = len(buckets)
		buckets = append(buckets, Bucket{Month: m})
	}
	for _, p := range passes {
		b := &buckets[index[monthStart(p.date)]]
		b.Passes++
		b.add(p.Counters)
	}
	for i := range buckets {
		buckets[i].derive(opts)
	}
	return buckets
}

func (b *Bucket) derive(opts Options) {
	l1 := b.L1T + b.L1Gt
	b.L0Completeness = Percent(b.L0Success, b.L0Success+b.L0Fail)
	b.L1Completeness = Percent(b.L1Success, b.L1Success+b.L1Fail)
	b.NBARCompleteness = Percent(b.NBAR, l1)
	b.NBARTCompleteness = Percent(b.NBART, l1)
	b.PQRelative = Percent(b.PQ, b.NBAR)
	b.OtherPercent = Percent(l1, b.L1Success)
	if opts.PQDenominator == config.PQDenominatorL1 {
		b.PQCompleteness = Percent(b.PQ, l1)
	} else {
		b.PQCompleteness = b.PQRelative
	}
}
