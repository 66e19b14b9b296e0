package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_Length(t *testing.T) {
	id := New()
	assert.Len(t, id, 26)
}

func TestNew_MonotonicWithinSameMillisecond(t *testing.T) {
	g := &generator{}
	now := time.Now()

	a := g.next(now)
	b := g.next(now)
	c := g.next(now)

	assert.Less(t, a, b)
	assert.Less(t, b, c)
}

func TestNew_SortsByTime(t *testing.T) {
	g := &generator{}
	t1 := time.Now()
	t2 := t1.Add(5 * time.Millisecond)

	a := g.next(t1)
	b := g.next(t2)

	assert.Less(t, a, b)
}

func TestNew_GloballyUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		assert.False(t, seen[id], "duplicate id generated")
		seen[id] = true
	}
}
