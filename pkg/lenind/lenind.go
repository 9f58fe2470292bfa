// Package lenind implements the length-indicated text encoding used by the
// header record and the flat record file. Every value is written as a two
// digit decimal byte length followed by the raw bytes, so values may contain
// the field delimiter.
package lenind

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MaxFieldLen is the largest value a two digit indicator can describe.
	MaxFieldLen = 99
	// IndicatorLen is the width of the length prefix.
	IndicatorLen = 2
	// FieldDelim separates fields on a line.
	FieldDelim = ','
)

var (
	// ErrFieldTooLong is returned when a value cannot be described by the indicator.
	ErrFieldTooLong = errors.New("field exceeds two digit length indicator")
	// ErrMalformed matches every DecodeError.
	ErrMalformed = errors.New("malformed length-indicated data")
)

// Kind classifies a decoding fault.
type Kind int

const (
	// KindBadLength means the indicator was not two ASCII digits.
	KindBadLength Kind = iota + 1
	// KindShortValue means fewer bytes remained than the indicator declared.
	KindShortValue
	// KindBadDelimiter means a value was followed by something other than a delimiter.
	KindBadDelimiter
	// KindBadNumber means a numeric field did not parse as an integer.
	KindBadNumber
	// KindMissingField means the line ended before an expected field.
	KindMissingField
)

func (k Kind) String() string {
	switch k {
	case KindBadLength:
		return "bad length indicator"
	case KindShortValue:
		return "value shorter than indicator"
	case KindBadDelimiter:
		return "missing delimiter"
	case KindBadNumber:
		return "non-numeric value"
	case KindMissingField:
		return "missing field"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DecodeError reports where and why decoding stopped.
type DecodeError struct {
	Kind  Kind
	Pos   int
	Value string
}

func (e *DecodeError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("lenind: %s at byte %d: %q", e.Kind, e.Pos, e.Value)
	}
	return fmt.Sprintf("lenind: %s at byte %d", e.Kind, e.Pos)
}

// Is lets errors.Is(err, ErrMalformed) match any decode fault.
func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformed
}

// KindOf returns the decode fault kind wrapped in err, or 0.
func KindOf(err error) Kind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// AppendField appends value as a header-style field: indicator, value and a
// trailing delimiter.
func AppendField(dst []byte, value string) ([]byte, error) {
	if len(value) > MaxFieldLen {
		return dst, fmt.Errorf("%w: %d bytes", ErrFieldTooLong, len(value))
	}
	dst = appendIndicator(dst, len(value))
	dst = append(dst, value...)
	return append(dst, FieldDelim), nil
}

func appendIndicator(dst []byte, n int) []byte {
	return append(dst, byte('0'+n/10), byte('0'+n%10))
}

// Decoder reads length-indicated fields from one line.
type Decoder struct {
	data string
	pos  int
}

// NewDecoder returns a Decoder over line. A trailing newline is ignored.
func NewDecoder(line string) *Decoder {
	return &Decoder{data: strings.TrimRight(line, "\r\n")}
}

// Done reports whether the whole line was consumed.
func (d *Decoder) Done() bool {
	return d.pos >= len(d.data)
}

// Pos returns the current byte position.
func (d *Decoder) Pos() int {
	return d.pos
}

// Rest returns the unconsumed remainder of the line.
func (d *Decoder) Rest() string {
	return d.data[d.pos:]
}

// Field decodes the next value and consumes the delimiter following it.
func (d *Decoder) Field() (string, error) {
	if d.Done() {
		return "", &DecodeError{Kind: KindMissingField, Pos: d.pos}
	}
	if d.pos+IndicatorLen > len(d.data) {
		return "", &DecodeError{Kind: KindBadLength, Pos: d.pos, Value: d.data[d.pos:]}
	}

	ind := d.data[d.pos : d.pos+IndicatorLen]
	if !isDigit(ind[0]) || !isDigit(ind[1]) {
		return "", &DecodeError{Kind: KindBadLength, Pos: d.pos, Value: ind}
	}
	n := int(ind[0]-'0')*10 + int(ind[1]-'0')

	start := d.pos + IndicatorLen
	if start+n > len(d.data) {
		return "", &DecodeError{Kind: KindShortValue, Pos: start, Value: d.data[start:]}
	}
	value := d.data[start : start+n]
	d.pos = start + n

	if !d.Done() {
		if d.data[d.pos] != FieldDelim {
			return "", &DecodeError{Kind: KindBadDelimiter, Pos: d.pos, Value: d.data[d.pos : d.pos+1]}
		}
		d.pos++
	}

	return value, nil
}

// Int decodes the next value as a decimal integer.
func (d *Decoder) Int() (int, error) {
	pos := d.pos
	s, err := d.Field()
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &DecodeError{Kind: KindBadNumber, Pos: pos + IndicatorLen, Value: s}
	}
	return n, nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// EncodeRecord renders fields as one record line without the newline. Values
// over MaxFieldLen are truncated; the indexes of truncated fields are returned
// so the caller can report them.
func EncodeRecord(fields []string) (string, []int) {
	var b strings.Builder
	var truncated []int
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(FieldDelim)
		}
		if len(f) > MaxFieldLen {
			f = f[:MaxFieldLen]
			truncated = append(truncated, i)
		}
		b.Write(appendIndicator(nil, len(f)))
		b.WriteString(f)
	}
	return b.String(), truncated
}

// DecodeRecord splits a record line back into its values. Delimiters inside
// values survive because decoding is driven by the indicators.
func DecodeRecord(line string) ([]string, error) {
	d := NewDecoder(line)
	var fields []string
	for !d.Done() {
		f, err := d.Field()
		if err != nil {
			return fields, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// RecordSize returns the encoded byte size of a record line including its
// newline: per field the indicator plus payload, plus one delimiter between
// fields and the line terminator.
func RecordSize(fields []string) int {
	if len(fields) == 0 {
		return 1
	}
	size := 0
	for _, f := range fields {
		size += IndicatorLen + len(f)
	}
	return size + len(fields)
}

// NormalizeDecimal rewrites numeric values containing a decimal point with
// six fixed decimals. Anything else is returned unchanged.
func NormalizeDecimal(s string) string {
	if !strings.Contains(s, ".") || s == "" {
		return s
	}
	if c := s[0]; !isDigit(c) && c != '-' {
		return s
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', 6, 64)
}
