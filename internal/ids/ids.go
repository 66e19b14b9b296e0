// Package ids generates lexicographically sortable, time-prefixed, 26
// character identifiers, monotonic within a process (spec.md §3).
//
// No ULID/KSUID library appears anywhere in the retrieval pack, so the
// sortable encoding is hand-rolled: a 48-bit millisecond timestamp followed
// by an 80-bit tail taken from the first ten bytes of a google/uuid v4 value
// (74 of those bits random, 6 fixed version/variant bits), both Crockford
// base32-encoded. Monotonicity within a millisecond is enforced by
// incrementing the random tail instead of redrawing it, the same trick ULID
// libraries use.
package ids

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const encoding = "0123456789ABCDEFGHJKMNPQRSTVWXYZ" // Crockford base32, no I/L/O/U

type generator struct {
	mu       sync.Mutex
	lastMs   int64
	lastTail [10]byte // 80 bits
}

var global = &generator{}

// New returns a new monotonic, sortable id.
func New() string {
	return global.next(time.Now())
}

func (g *generator) next(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := now.UnixMilli()
	if ms <= g.lastMs {
		ms = g.lastMs
		incTail(&g.lastTail)
	} else {
		g.lastMs = ms
		randTail(&g.lastTail)
	}

	var buf [16]byte // 48 bits time + 80 bits random = 128 bits = 16 bytes
	buf[0] = byte(ms >> 40)
	buf[1] = byte(ms >> 32)
	buf[2] = byte(ms >> 24)
	buf[3] = byte(ms >> 16)
	buf[4] = byte(ms >> 8)
	buf[5] = byte(ms)
	copy(buf[6:], g.lastTail[:])

	return encode(buf)
}

func randTail(tail *[10]byte) {
	u := uuid.New()
	copy(tail[:], u[:10])
}

// incTail increments the random tail as a big-endian integer, carrying over
// on overflow, so ids minted within the same millisecond still sort after
// one another.
func incTail(tail *[10]byte) {
	for i := len(tail) - 1; i >= 0; i-- {
		tail[i]++
		if tail[i] != 0 {
			return
		}
	}
}

// encode renders 16 bytes (128 bits) as 26 Crockford base32 characters.
func encode(buf [16]byte) string {
	// Bit-accumulator over the 16 bytes, 5 bits at a time, producing
	// ceil(128/5) = 26 characters (last char carries 2 padding zero bits).
	var out [26]byte
	idx := 0
	var bitBuf uint32
	var bitCount uint
	for _, b := range buf {
		bitBuf = (bitBuf << 8) | uint32(b)
		bitCount += 8
		for bitCount >= 5 {
			bitCount -= 5
			out[idx] = encoding[(bitBuf>>bitCount)&0x1F]
			idx++
		}
	}
	if bitCount > 0 {
		out[idx] = encoding[(bitBuf<<(5-bitCount))&0x1F]
		idx++
	}
	return string(out[:idx])
}
