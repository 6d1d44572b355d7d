// Package harvest holds the row types shared by the harvest workers, the
// partial store and the aggregator.
package harvest

import (
	"github.com/brensch/lscollection/internal/lpgs"
	"github.com/brensch/lscollection/internal/products"
)

// Entry is one harvested log with its derived fields. Products is only
// populated for other (non system) records whose name could be predicted.
type Entry struct {
	lpgs.Record
	Pass      lpgs.Pass
	Predicted bool
	Products  products.Reference
}

// PartialResult is everything one worker harvested from its partition.
type PartialResult struct {
	Index          int
	RunID          string
	Fingerprint    string // identifies the input paths the partial was built from
	SysProducts    []Entry
	OthAndChildren []Entry
	Failures       []string
	PackageTemp    []string
}

// Rows is the number of entries across all four bags.
func (p PartialResult) Rows() int {
	return len(p.SysProducts) + len(p.OthAndChildren) + len(p.Failures) + len(p.PackageTemp)
}

// Dataset is the merged result of all present partials.
type Dataset struct {
	SysProducts    []Entry
	OthAndChildren []Entry
	Present        []int
	Missing        []int
}
