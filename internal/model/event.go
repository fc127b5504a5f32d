package model

import (
	"math/big"

	"github.com/google/uuid"
)

// TimelineID identifies a timeline for the lifetime of one run.
type TimelineID uuid.UUID

// NewTimelineID allocates a fresh random timeline id.
func NewTimelineID() TimelineID {
	return TimelineID(uuid.New())
}

// ParseTimelineID parses the canonical string form of a timeline id.
func ParseTimelineID(s string) (TimelineID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TimelineID{}, err
	}
	return TimelineID(u), nil
}

// String returns the canonical UUID form.
func (id TimelineID) String() string {
	return uuid.UUID(id).String()
}

// Signature is the (key, value) pair that determines timeline identity.
type Signature struct {
	Key   string
	Value AttrValue
}

// Identity returns a comparable encoding of the signature.
func (s Signature) Identity() string {
	return s.Key + "\x00" + s.Value.Identity()
}

// Ordering is an unsigned 128-bit event position within one input.
type Ordering struct {
	Hi uint64
	Lo uint64
}

// Next returns o+1, wrapping at 2^128.
func (o Ordering) Next() Ordering {
	lo := o.Lo + 1
	hi := o.Hi
	if lo == 0 {
		hi++
	}
	return Ordering{Hi: hi, Lo: lo}
}

// Big returns the ordering as a big integer.
func (o Ordering) Big() *big.Int {
	v := new(big.Int).SetUint64(o.Hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(o.Lo))
}

// String returns the decimal form.
func (o Ordering) String() string {
	return o.Big().String()
}

// OrderingFromUint64 returns an ordering with the given low word.
func OrderingFromUint64(n uint64) Ordering {
	return Ordering{Lo: n}
}

// PreparedEvent is a fully assembled record ready for the sink.
type PreparedEvent struct {
	TimelineID    TimelineID
	TimelineAttrs KVs
	Ordering      Ordering
	EventAttrs    KVs
}
