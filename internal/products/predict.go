package products

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/brensch/lscollection/internal/config"
	"github.com/brensch/lscollection/internal/lpgs"
)

// ErrNoPrediction is returned when a name does not follow the primary product
// naming grammar. It is informational: the record simply has no products.
var ErrNoPrediction = errors.New("no product prediction")

// primaryName is the primary product naming grammar, anchored at the start
// of the base name.
var primaryName = regexp.MustCompile(`^(?P<spacecraft>LS\d)_(?P<sensor>\w+)_` +
	`(?P<type>\w+)_(?P<pid>P\d+.*)_GA(?P<code>.*)-` +
	`(?P<station>\d+)_(?P<path>\d+)_(?P<row>\d+)_(?P<date>\d{8})`)

// Reference holds the predicted derived product paths of a primary product and
// whether each existed when last probed.
type Reference struct {
	NBARPath    string
	NBARTPath   string
	PQPath      string
	NBARExists  bool
	NBARTExists bool
	PQExists    bool
}

// Name is the decomposed primary product name.
type Name struct {
	Spacecraft string
	Sensor     string
	Type       string
	ProductID  string
	Code       string
	Station    string
	Path       string
	Row        string
	Date       time.Time
}

// ParseName decomposes the base name of level1Name. Names that do not match
// the grammar, or carry an impossible acquisition date, give ErrNoPrediction.
func ParseName(level1Name string) (Name, error) {
	m := primaryName.FindStringSubmatch(filepath.Base(level1Name))
	if m == nil {
		return Name{}, ErrNoPrediction
	}
	group := func(name string) string { return m[primaryName.SubexpIndex(name)] }
	date, err := time.Parse(lpgs.DateLayout, group("date"))
	if err != nil {
		return Name{}, fmt.Errorf("%w: acquisition date %s: %v", ErrNoPrediction, group("date"), err)
	}
	return Name{
		Spacecraft: group("spacecraft"),
		Sensor:     group("sensor"),
		Type:       group("type"),
		ProductID:  group("pid"),
		Code:       group("code"),
		Station:    group("station"),
		Path:       group("path"),
		Row:        group("row"),
		Date:       date,
	}, nil
}

// Scene builds the derived product name for kind, keeping the station, tile
// and date of the primary product.
func (n Name) Scene(kind config.ProductKind) string {
	return fmt.Sprintf("%s_%s_%s_%s_GA%s-%s_%s_%s_%s",
		n.Spacecraft, n.Sensor, kind.Type, kind.ID, kind.Code,
		n.Station, n.Path, n.Row, n.Date.Format(lpgs.DateLayout))
}

// Predictor maps primary product names to derived product paths.
type Predictor struct {
	products config.Products
}

// NewPredictor returns a predictor using the product templates in products.
func NewPredictor(products config.Products) *Predictor {
	return &Predictor{products: products}
}

// Predict returns the three predicted paths for level1Name. Existence flags
// are left false; see Probe.
func (p *Predictor) Predict(level1Name string) (Reference, error) {
	name, err := ParseName(level1Name)
	if err != nil {
		return Reference{}, err
	}
	return Reference{
		NBARPath:  p.path(name, p.products.NBAR),
		NBARTPath: p.path(name, p.products.NBART),
		PQPath:    p.path(name, p.products.PQ),
	}, nil
}

func (p *Predictor) path(name Name, kind config.ProductKind) string {
	r := strings.NewReplacer(
		"{sensor}", strings.ToLower(name.Spacecraft),
		"{year}", fmt.Sprintf("%d", name.Date.Year()),
		"{month}", fmt.Sprintf("%02d", int(name.Date.Month())),
		"{scene}", name.Scene(kind),
	)
	return r.Replace(kind.Template)
}
