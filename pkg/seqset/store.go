// Package seqset holds the blocked sequence set: an RBN-addressed table of
// blocks threaded into an active chain and an avail chain.
package seqset

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/KevoDB/seqset/pkg/common/log"
	"github.com/KevoDB/seqset/pkg/header"
	"github.com/KevoDB/seqset/pkg/seqset/block"
)

var (
	// ErrNotFound is returned when a requested block does not exist
	ErrNotFound = errors.New("block not found")
	// ErrCorruption is returned when a chain revisits or loses a block
	ErrCorruption = errors.New("chain corrupted")
	// ErrInvalidRBN is returned for block numbers outside [0, MaxRBN]
	ErrInvalidRBN = errors.New("invalid RBN")
)

// MaxRBN is the largest block number a store accepts. Chain bitmaps are
// keyed by uint32.
const MaxRBN = math.MaxUint32

// chain is the head of one linked list of blocks.
type chain struct {
	kind block.List
	head int
}

// Store owns the RBN table and both chain heads. It is not safe for
// concurrent use.
type Store struct {
	blocks map[int]*block.Block
	active chain
	avail  chain
	header *header.Record
	logger log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		blocks: make(map[int]*block.Block),
		active: chain{kind: block.Active, head: block.None},
		avail:  chain{kind: block.Avail, head: block.None},
		logger: log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", "seqset")
	return s
}

func (s *Store) chainFor(list block.List) *chain {
	if list == block.Avail {
		return &s.avail
	}
	return &s.active
}

// CreateBlock inserts or overwrites the block at rbn and sets the head of its
// chain if that chain has none yet.
func (s *Store) CreateBlock(rbn int, available bool, records []string, prev, next int) error {
	if rbn < 0 || rbn > MaxRBN {
		return fmt.Errorf("%w: %d", ErrInvalidRBN, rbn)
	}

	list := block.Active
	if available {
		list = block.Avail
	}

	b := block.New(rbn, list, append([]string(nil), records...))
	b.Prev = prev
	b.Next = next
	s.blocks[rbn] = b

	if c := s.chainFor(list); c.head == block.None {
		c.head = rbn
	}
	return nil
}

// Block returns a copy of the block at rbn.
func (s *Store) Block(rbn int) (block.Block, bool) {
	b, ok := s.blocks[rbn]
	if !ok {
		return block.Block{}, false
	}
	return b.Clone(), true
}

// Len returns the number of blocks in the table.
func (s *Store) Len() int {
	return len(s.blocks)
}

// RecordCount returns the number of records across all blocks.
func (s *Store) RecordCount() int {
	n := 0
	for _, b := range s.blocks {
		n += len(b.Records)
	}
	return n
}

// RBNs returns every block number in ascending order.
func (s *Store) RBNs() []int {
	rbns := make([]int, 0, len(s.blocks))
	for rbn := range s.blocks {
		rbns = append(rbns, rbn)
	}
	sort.Ints(rbns)
	return rbns
}

// ActiveHead returns the first block of the active chain, or block.None.
func (s *Store) ActiveHead() int {
	return s.active.head
}

// AvailHead returns the first block of the avail chain, or block.None.
func (s *Store) AvailHead() int {
	return s.avail.head
}

// Header returns the header of the last loaded file, if any.
func (s *Store) Header() *header.Record {
	return s.header
}

// Reset drops all blocks and both chain heads.
func (s *Store) Reset() {
	s.blocks = make(map[int]*block.Block)
	s.active.head = block.None
	s.avail.head = block.None
	s.header = nil
}

// Relink threads active blocks in ascending RBN order and points the active
// head at the lowest one. Avail blocks are left alone.
func (s *Store) Relink() {
	var prev *block.Block
	s.active.head = block.None

	for _, rbn := range s.RBNs() {
		b := s.blocks[rbn]
		if b.List != block.Active {
			continue
		}
		b.Next = block.None
		if prev == nil {
			s.active.head = rbn
			b.Prev = block.None
		} else {
			prev.Next = rbn
			b.Prev = prev.RBN
		}
		prev = b
	}
}
