package queue

import (
	"strconv"
	"strings"

	"github.com/ValentinKolb/nsKV/lib/db"
)

// --------------------------------------------------------------------------
// Position
// --------------------------------------------------------------------------

const (
	positionBase  = 36
	positionWidth = 6

	// RingSize is the number of distinct positions (36^6)
	RingSize uint64 = positionBase * positionBase * positionBase * positionBase * positionBase * positionBase

	// MaxPosition is the largest position, Next wraps it to 0
	MaxPosition Position = Position(RingSize - 1)

	// DefaultMaxSize is the default capacity of a queue. A few slots of the
	// ring stay unused so a full queue never has head == tail.
	DefaultMaxSize = RingSize - 3
)

// Position is a slot of the queue ring. It is stored as a fixed width,
// zero padded, base 36 string so positions sort like numbers.
type Position uint64

// ParsePosition parses a 6 character base 36 position
func ParsePosition(s string) (Position, error) {
	if len(s) != positionWidth {
		return 0, db.NewError(db.ErrCInvalidArgument, "position %q must have %d characters", s, positionWidth)
	}
	v, err := strconv.ParseUint(s, positionBase, 64)
	if err != nil || v >= RingSize {
		return 0, db.NewError(db.ErrCInvalidArgument, "position %q is not a base 36 number", s)
	}
	return Position(v), nil
}

// String returns the fixed width key of the position
func (p Position) String() string {
	s := strconv.FormatUint(uint64(p)%RingSize, positionBase)
	if len(s) < positionWidth {
		s = strings.Repeat("0", positionWidth-len(s)) + s
	}
	return strings.ToUpper(s)
}

// Next returns the following position, MaxPosition wraps to 0
func (p Position) Next() Position {
	return Position((uint64(p) + 1) % RingSize)
}

// Previous returns the preceding position, 0 wraps to MaxPosition
func (p Position) Previous() Position {
	if p == 0 {
		return MaxPosition
	}
	return p - 1
}

// Add returns the position n slots after p
func (p Position) Add(n uint64) Position {
	return Position((uint64(p) + n%RingSize) % RingSize)
}

// DistanceToHead returns the number of slots from p (the tail) forward to
// head, passing through the wrap point if head is numerically behind p.
func (p Position) DistanceToHead(head Position) uint64 {
	if head >= p {
		return uint64(head - p)
	}
	return RingSize - uint64(p) + uint64(head)
}
