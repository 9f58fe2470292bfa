// Package block defines the unit of storage in a sequence set file and the
// text line each block is persisted as: "RBN:rec1,rec2,...".
package block

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// None marks an absent RBN link.
const None = -1

// RecordDelim separates records, and the fields inside them, on a block line.
const RecordDelim = ","

// ErrMalformedLine is returned for lines that are not "RBN:data".
var ErrMalformedLine = errors.New("malformed block line")

// List names the chain a block belongs to.
type List int

const (
	// Active blocks hold live records.
	Active List = iota
	// Avail blocks are free for reuse.
	Avail
)

func (l List) String() string {
	if l == Avail {
		return "avail"
	}
	return "active"
}

// Block is a bounded group of records plus its chain links.
type Block struct {
	RBN     int
	List    List
	Records []string
	Prev    int
	Next    int
}

// New returns an unlinked block.
func New(rbn int, list List, records []string) *Block {
	return &Block{
		RBN:     rbn,
		List:    list,
		Records: records,
		Prev:    None,
		Next:    None,
	}
}

// Clone returns a copy that shares nothing with b.
func (b *Block) Clone() Block {
	c := *b
	c.Records = append([]string(nil), b.Records...)
	return c
}

// Size is the packed byte cost of the block's records.
func (b *Block) Size() int {
	n := 0
	for _, r := range b.Records {
		n += RecordCost(r)
	}
	return n
}

// RecordCost is the budget a record consumes when packed: its length plus
// one separator byte.
func RecordCost(record string) int {
	return len(record) + 1
}

// EncodeLine renders a block line without the trailing newline.
func EncodeLine(rbn int, records []string) string {
	var sb strings.Builder
	sb.WriteString(strconv.Itoa(rbn))
	sb.WriteByte(':')
	for i, r := range records {
		if i > 0 {
			sb.WriteString(RecordDelim)
		}
		sb.WriteString(r)
	}
	return sb.String()
}

// DecodeLine parses a block line. The data after the first colon is split on
// commas and regrouped into records of fieldCount fields each. A fieldCount
// below one leaves every comma-separated value as its own record.
func DecodeLine(line string, fieldCount int) (int, []string, error) {
	line = strings.TrimRight(line, "\r\n")

	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return 0, nil, fmt.Errorf("%w: no colon in %q", ErrMalformedLine, line)
	}

	rbn, err := strconv.Atoi(strings.TrimSpace(line[:idx]))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: bad RBN %q", ErrMalformedLine, line[:idx])
	}

	data := line[idx+1:]
	if data == "" {
		return rbn, nil, nil
	}

	fields := strings.Split(data, RecordDelim)
	if fieldCount < 1 {
		return rbn, fields, nil
	}
	if len(fields)%fieldCount != 0 {
		return 0, nil, fmt.Errorf("%w: block %d has %d fields, not a multiple of %d",
			ErrMalformedLine, rbn, len(fields), fieldCount)
	}

	records := make([]string, 0, len(fields)/fieldCount)
	for i := 0; i < len(fields); i += fieldCount {
		records = append(records, strings.Join(fields[i:i+fieldCount], RecordDelim))
	}
	return rbn, records, nil
}

// Fields splits a record into its positional fields.
func Fields(record string) []string {
	return strings.Split(record, RecordDelim)
}

// Field returns the n-th field of a record, if present.
func Field(record string, n int) (string, bool) {
	fields := Fields(record)
	if n < 0 || n >= len(fields) {
		return "", false
	}
	return fields[n], true
}
