// Package tid implements the store's Temporal Identifier: a 12-byte,
// time-ordered value used both as a record's primary identity and as a
// dataset's own identity.
package tid

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Size is the wire size of a TID: 4 bytes of UNIX-seconds timestamp
// (big-endian) followed by 8 bytes of counter/entropy.
const Size = 12

// TID is a 12-byte time-ordered identifier. The zero value is Empty, the
// root dataset's identity, and compares less than every other TID.
type TID [Size]byte

// Empty is the root dataset's TID. It is also used on the wire as "no
// value" for fields the caller leaves unset; the public surface should
// still prefer *TID/optional semantics (see dsresolver for the pattern)
// and reserve Empty strictly for the root dataset's identity.
var Empty = TID{}

// IsEmpty reports whether t is the zero/root TID.
func (t TID) IsEmpty() bool { return t == Empty }

// Compare returns -1, 0 or 1 as t is less than, equal to, or greater than o,
// using plain byte-order comparison. Byte order was chosen specifically so
// this matches wall-clock order to one-second resolution.
func (t TID) Compare(o TID) int { return bytes.Compare(t[:], o[:]) }

// Less reports whether t sorts before o.
func (t TID) Less(o TID) bool { return t.Compare(o) < 0 }

// Seconds returns the UNIX-seconds timestamp encoded in the high 4 bytes.
func (t TID) Seconds() int64 { return int64(binary.BigEndian.Uint32(t[:4])) }

func (t TID) String() string { return hex.EncodeToString(t[:]) }

// Bytes returns the 12-byte wire representation.
func (t TID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, t[:])
	return b
}

// FromBytes decodes a wire representation previously produced by Bytes.
func FromBytes(b []byte) (TID, error) {
	var t TID
	if len(b) != Size {
		return t, fmt.Errorf("tid: want %d bytes, got %d", Size, len(b))
	}
	copy(t[:], b)
	return t, nil
}

// MinOrNil returns the smaller of a and b, treating a nil argument as
// absent. It returns nil only when both arguments are nil.
func MinOrNil(a, b *TID) *TID {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.Compare(*b) <= 0:
		return a
	default:
		return b
	}
}

// Allocator mints strictly-increasing TIDs. A single Allocator instance is
// the only contended object on the write path; every mint is guarded by a
// mutex rather than left to a lock-free scheme, since the hot path here is
// "one compare-and-bump every write", not a tight loop worth optimizing
// further.
type Allocator struct {
	mu         sync.Mutex
	lastSecond uint32
	lastLow    uint64
}

// NewAllocator returns an Allocator seeded with process-local entropy, so
// that two Allocators started in the same wall-clock second still produce
// different low bytes (they are not required to be ordered against each
// other within that second: TIDs from different Allocators are ordered
// against each other only by their seconds prefix).
func NewAllocator() *Allocator {
	return &Allocator{lastLow: randomLow()}
}

// New mints a fresh TID, strictly greater than any TID previously minted
// by this Allocator. If the wall-clock second has not advanced since the
// last mint, the low 8 bytes are incremented; otherwise they are reset to
// a fresh random value, which is safe because the timestamp prefix alone
// already orders the new TID after the previous one.
func (a *Allocator) New() TID {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := uint32(time.Now().Unix())
	if now <= a.lastSecond {
		now = a.lastSecond
		a.lastLow++
	} else {
		a.lastSecond = now
		a.lastLow = randomLow()
	}

	var out TID
	binary.BigEndian.PutUint32(out[:4], now)
	binary.BigEndian.PutUint64(out[4:], a.lastLow)
	return out
}

func randomLow() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[:8])
}
