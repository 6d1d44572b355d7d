package lpgs

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Record is the completeness metadata harvested from one lpgs_out.xml.
type Record struct {
	Level1Name string // directory of the primary product
	Path       int64
	Row        int64
	PassID     string
	PassName   string
	L0Success  int64
	L0Fail     int64
	L1Success  int64
	L1Fail     int64
	L1G        int64
	L1Gt       int64
	L1T        int64
}

// Element names read from the processing log.
const (
	requestElement   = "LandsatProcessingRequest"
	level0Element    = "L0RpProcessing"
	level1Element    = "L1Processing"
	workingFolderTag = "WorkingFolder"
)

// node is a generic XML element; the log has no published schema so the
// tree is decoded whole and searched by tag.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func (n *node) attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// child returns the last direct child named name.
func (n *node) child(name string) *node {
	var found *node
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == name {
			found = &n.Nodes[i]
		}
	}
	return found
}

// counter reads a non-negative integer from an attribute, falling back to a
// child element carrying the same name.
func (n *node) counter(name string) (int64, error) {
	raw, ok := n.attr(name)
	if !ok {
		c := n.child(name)
		if c == nil {
			return 0, fmt.Errorf("%s: missing counter %q", n.XMLName.Local, name)
		}
		raw = c.Text
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: counter %q: %w", n.XMLName.Local, name, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s: counter %q is negative (%d)", n.XMLName.Local, name, v)
	}
	return v, nil
}

// lastText returns the text of the last element named tag in a depth-first
// walk of n, including n itself.
func (n *node) lastText(tag string) (string, bool) {
	text, found := "", false
	if n.XMLName.Local == tag {
		text, found = strings.TrimSpace(n.Text), true
	}
	for i := range n.Nodes {
		if t, ok := n.Nodes[i].lastText(tag); ok {
			text, found = t, true
		}
	}
	return text, found
}

// ParseFile reads and parses the log at path.
func ParseFile(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, &ParseError{Path: path, Cause: err}
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse decodes a log document read from r. path is the location the log was
// found at; the tile coordinates and Level1Name come from it.
func Parse(r io.Reader, path string) (Record, error) {
	rec, err := parse(r, path)
	if err != nil {
		return Record{}, &ParseError{Path: path, Cause: err}
	}
	return rec, nil
}

func parse(r io.Reader, path string) (Record, error) {
	rec := Record{Level1Name: filepath.Dir(filepath.Dir(path))}

	var err error
	if rec.Path, rec.Row, err = TileFromLevel1Name(rec.Level1Name); err != nil {
		return Record{}, err
	}

	var root node
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return Record{}, fmt.Errorf("decode xml: %w", err)
	}

	req := root.child(requestElement)
	if req == nil {
		return Record{}, fmt.Errorf("no %s element", requestElement)
	}
	id, ok := req.attr("id")
	if !ok || id == "" {
		return Record{}, fmt.Errorf("%s has no id", requestElement)
	}
	rec.PassID = id

	folder, ok := req.lastText(workingFolderTag)
	if !ok || folder == "" {
		return Record{}, fmt.Errorf("%s has no %s", requestElement, workingFolderTag)
	}
	rec.PassName = filepath.Base(filepath.Dir(filepath.Dir(folder)))

	l0 := root.child(level0Element)
	if l0 == nil {
		return Record{}, fmt.Errorf("no %s element", level0Element)
	}
	l1 := root.child(level1Element)
	if l1 == nil {
		return Record{}, fmt.Errorf("no %s element", level1Element)
	}

	counters := []struct {
		n    *node
		name string
		dst  *int64
	}{
		{l0, "success", &rec.L0Success},
		{l0, "fail", &rec.L0Fail},
		{l1, "success", &rec.L1Success},
		{l1, "fail", &rec.L1Fail},
		{l1, "L1G", &rec.L1G},
		{l1, "L1Gt", &rec.L1Gt},
		{l1, "L1T", &rec.L1T},
	}
	var errs []error
	for _, c := range counters {
		v, err := c.n.counter(c.name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*c.dst = v
	}
	if err := errors.Join(errs...); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// TileFromLevel1Name extracts the WRS path and row from the primary product
// directory name (fields 5 and 6 of the underscore separated base name).
func TileFromLevel1Name(level1Name string) (path, row int64, err error) {
	fields := strings.Split(filepath.Base(level1Name), "_")
	if len(fields) < 7 {
		return 0, 0, fmt.Errorf("level1 name %q has %d fields, want at least 7", filepath.Base(level1Name), len(fields))
	}
	if path, err = strconv.ParseInt(fields[5], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("level1 name path field: %w", err)
	}
	if row, err = strconv.ParseInt(fields[6], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("level1 name row field: %w", err)
	}
	if path < 0 || row < 0 {
		return 0, 0, fmt.Errorf("level1 name has negative tile %d/%d", path, row)
	}
	return path, row, nil
}
