// Package record decodes the positional postal record layout into named
// fields. Positions: 1 code (key), 2 place, 3 state (group), 4 county,
// 5 latitude, 6 longitude.
package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FieldCount is the width of a postal record.
const FieldCount = 6

const (
	posCode = iota
	posPlace
	posState
	posCounty
	posLatitude
	posLongitude
)

// ErrFieldCount is returned when a row does not have FieldCount values.
var ErrFieldCount = errors.New("wrong number of fields")

// FieldError reports a value that could not be converted. The record keeps
// the zero value for that field.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: cannot parse %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Postal is one decoded record.
type Postal struct {
	Code      string
	Place     string
	State     string
	County    string
	Latitude  float64
	Longitude float64
}

// Decode maps positional fields to a Postal. Structural problems return an
// error and no record. Numeric faults default the value to zero and are
// returned alongside a usable record.
func Decode(fields []string) (Postal, []*FieldError, error) {
	if len(fields) != FieldCount {
		return Postal{}, nil, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(fields), FieldCount)
	}

	p := Postal{
		Code:   fields[posCode],
		Place:  fields[posPlace],
		State:  fields[posState],
		County: fields[posCounty],
	}

	var faults []*FieldError
	p.Latitude, faults = parseCoordinate("latitude", fields[posLatitude], faults)
	p.Longitude, faults = parseCoordinate("longitude", fields[posLongitude], faults)

	return p, faults, nil
}

// DecodeLine splits a comma-joined record and decodes it.
func DecodeLine(line string) (Postal, []*FieldError, error) {
	return Decode(strings.Split(line, ","))
}

func parseCoordinate(name, value string, faults []*FieldError) (float64, []*FieldError) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, append(faults, &FieldError{Field: name, Value: value, Err: err})
	}
	return f, faults
}

// Fields renders the record positionally.
func (p Postal) Fields() []string {
	return []string{
		p.Code,
		p.Place,
		p.State,
		p.County,
		strconv.FormatFloat(p.Latitude, 'f', -1, 64),
		strconv.FormatFloat(p.Longitude, 'f', -1, 64),
	}
}

// String formats the record for console output.
func (p Postal) String() string {
	return fmt.Sprintf("%s %s %s %s %g %g", p.Code, p.Place, p.State, p.County, p.Latitude, p.Longitude)
}
