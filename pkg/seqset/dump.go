package seqset

import (
	"fmt"
	"io"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/KevoDB/seqset/pkg/seqset/block"
)

func writeBlock(w io.Writer, b *block.Block) error {
	_, err := fmt.Fprintf(w, "RBN: %d %s\n", b.RBN, strings.Join(b.Records, " "))
	return err
}

// DumpPhysical prints every block in ascending RBN order.
func (s *Store) DumpPhysical(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "Dumping Blocks by Physical Order:"); err != nil {
		return err
	}
	for _, rbn := range s.RBNs() {
		if err := writeBlock(w, s.blocks[rbn]); err != nil {
			return err
		}
	}
	return nil
}

// DumpLogical prints the active chain from its head along successor links.
// Each block is printed once; reaching a block twice, or a link to a missing
// block, returns ErrCorruption. An empty chain prints only the title.
func (s *Store) DumpLogical(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "Dumping Blocks by Logical Order:"); err != nil {
		return err
	}

	return s.walk(s.active.head, func(b *block.Block) error {
		return writeBlock(w, b)
	})
}

// walk follows Next links from head, calling fn for each block.
func (s *Store) walk(head int, fn func(*block.Block) error) error {
	visited := roaring.New()
	for rbn := head; rbn != block.None; {
		if rbn < 0 {
			return fmt.Errorf("%w: invalid link %d", ErrCorruption, rbn)
		}
		if !visited.CheckedAdd(uint32(rbn)) {
			return fmt.Errorf("%w: block %d visited twice", ErrCorruption, rbn)
		}
		b, ok := s.blocks[rbn]
		if !ok {
			return fmt.Errorf("%w: link to missing block %d", ErrCorruption, rbn)
		}
		if err := fn(b); err != nil {
			return err
		}
		rbn = b.Next
	}
	return nil
}

// Describe prints the details of one block. It reports false when the block
// does not exist.
func (s *Store) Describe(w io.Writer, rbn int) (bool, error) {
	b, ok := s.blocks[rbn]
	if !ok {
		_, err := fmt.Fprintf(w, "Block with RBN %d not found.\n", rbn)
		return false, err
	}

	available := "No"
	if b.List == block.Avail {
		available = "Yes"
	}
	_, err := fmt.Fprintf(w, "Details of Block RBN %d:\nAvailable: %s\nRecords: %s\nPredecessor RBN: %d\nSuccessor RBN: %d\n",
		rbn, available, strings.Join(b.Records, " "), b.Prev, b.Next)
	return true, err
}
