package lpgs

import (
	"strings"
	"time"
)

// DateLayout is the acquisition date encoding used in pass ids and product names.
const DateLayout = "20060102"

// Pass holds the fields derived from a pass id such as "LS5-19910115".
// Valid is false when the id could not be parsed; Sensor and Date are then zero.
type Pass struct {
	Sensor string
	Date   time.Time
	Valid  bool
}

// ParsePassID splits id on '-' into a sensor code and an 8 digit calendar date.
func ParsePassID(id string) (Pass, error) {
	parts := strings.Split(id, "-")
	if len(parts) < 2 {
		return Pass{}, &InvalidPassIDError{PassID: id, Reason: "no '-' separator"}
	}
	sensor, date := parts[0], parts[1]
	if sensor == "" {
		return Pass{}, &InvalidPassIDError{PassID: id, Reason: "empty sensor"}
	}
	if len(date) != 8 || strings.Trim(date, "0123456789") != "" {
		return Pass{}, &InvalidPassIDError{PassID: id, Reason: "date is not 8 digits"}
	}
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return Pass{}, &InvalidPassIDError{PassID: id, Reason: "not a calendar date"}
	}
	return Pass{Sensor: sensor, Date: t, Valid: true}, nil
}

// Class is the classification of a harvested record.
type Class string

const (
	ClassSystem Class = "system"
	ClassOther  Class = "other"
)

// Classify reports ClassSystem when level1Name contains marker.
func Classify(level1Name, marker string) Class {
	if strings.Contains(level1Name, marker) {
		return ClassSystem
	}
	return ClassOther
}
