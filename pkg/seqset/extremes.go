package seqset

import (
	"fmt"
	"io"
	"sort"

	"github.com/KevoDB/seqset/pkg/record"
)

// Extremes holds the outermost records of one group. North and South are the
// largest and smallest latitude, East and West the largest and smallest
// longitude.
type Extremes struct {
	Group string
	North record.Postal
	South record.Postal
	East  record.Postal
	West  record.Postal
}

func newExtremes(p record.Postal) *Extremes {
	return &Extremes{Group: p.State, North: p, South: p, East: p, West: p}
}

// observe keeps the first record seen on ties.
func (e *Extremes) observe(p record.Postal) {
	if p.Latitude > e.North.Latitude {
		e.North = p
	}
	if p.Latitude < e.South.Latitude {
		e.South = p
	}
	if p.Longitude > e.East.Longitude {
		e.East = p
	}
	if p.Longitude < e.West.Longitude {
		e.West = p
	}
}

// Extremes scans every record in ascending RBN order and returns one entry
// per group, sorted by group. Records that do not decode are skipped and bad
// coordinates count as zero; both are logged.
func (s *Store) Extremes() []Extremes {
	groups := make(map[string]*Extremes)

	for _, rbn := range s.RBNs() {
		for _, rec := range s.blocks[rbn].Records {
			p, faults, err := record.DecodeLine(rec)
			if err != nil {
				s.logger.WithField("rbn", rbn).Warn("skipping record %q: %v", rec, err)
				continue
			}
			for _, f := range faults {
				s.logger.WithField("rbn", rbn).Warn("record %s: %v", p.Code, f)
			}

			if e, ok := groups[p.State]; ok {
				e.observe(p)
			} else {
				groups[p.State] = newExtremes(p)
			}
		}
	}

	out := make([]Extremes, 0, len(groups))
	for _, e := range groups {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out
}

// ListMost prints one row per group: group, then the keys of the eastern,
// western, northern and southern extremes.
func (s *Store) ListMost(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "State,Easternmost,Westernmost,Northernmost,Southernmost"); err != nil {
		return err
	}
	for _, e := range s.Extremes() {
		if _, err := fmt.Fprintf(w, "%s,%s,%s,%s,%s\n",
			e.Group, e.East.Code, e.West.Code, e.North.Code, e.South.Code); err != nil {
			return err
		}
	}
	return nil
}
