package seqset

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/KevoDB/seqset/pkg/seqset/block"
)

// ChainReport lists chain membership in traversal order.
type ChainReport struct {
	Active   []int
	Avail    []int
	Unlinked []int
}

// Validate walks both chains and checks that each is acyclic, that every link
// resolves, that back links agree with forward links, that each block sits on
// the chain its list kind names, and that no block is on both chains. Blocks
// reachable from neither head are reported as unlinked.
func (s *Store) Validate() (ChainReport, error) {
	var report ChainReport

	activeSet, err := s.validateChain(s.active, &report.Active)
	if err != nil {
		return report, err
	}
	availSet, err := s.validateChain(s.avail, &report.Avail)
	if err != nil {
		return report, err
	}

	if shared := roaring.And(activeSet, availSet); !shared.IsEmpty() {
		return report, fmt.Errorf("%w: blocks %v on both chains", ErrCorruption, shared.ToArray())
	}

	linked := roaring.Or(activeSet, availSet)
	for _, rbn := range s.RBNs() {
		if !linked.Contains(uint32(rbn)) {
			report.Unlinked = append(report.Unlinked, rbn)
		}
	}
	return report, nil
}

func (s *Store) validateChain(c chain, order *[]int) (*roaring.Bitmap, error) {
	members := roaring.New()
	prev := block.None

	err := s.walk(c.head, func(b *block.Block) error {
		if b.List != c.kind {
			return fmt.Errorf("%w: %s block %d on %s chain", ErrCorruption, b.List, b.RBN, c.kind)
		}
		if b.Prev != prev {
			return fmt.Errorf("%w: block %d links back to %d, expected %d", ErrCorruption, b.RBN, b.Prev, prev)
		}
		members.Add(uint32(b.RBN))
		*order = append(*order, b.RBN)
		prev = b.RBN
		return nil
	})
	return members, err
}
