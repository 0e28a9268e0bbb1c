package market

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

// checkLinks asserts the doubly linked list invariant of b.
func checkLinks(t *testing.T, b *Semibook) {
	t.Helper()
	heads := 0
	for id, o := range b.offers {
		require.Equal(t, id, o.ID)
		if o.Prev == 0 {
			heads++
			require.Equal(t, b.best, id, "head must be best")
		} else {
			p, ok := b.offers[o.Prev]
			require.True(t, ok, "offer %d: prev %d missing", id, o.Prev)
			require.Equal(t, id, p.Next, "offer %d: prev.next", id)
		}
		if o.Next != 0 {
			n, ok := b.offers[o.Next]
			require.True(t, ok, "offer %d: next %d missing", id, o.Next)
			require.Equal(t, id, n.Prev, "offer %d: next.prev", id)
		}
	}
	if len(b.offers) == 0 {
		require.Zero(t, b.best)
		require.Zero(t, heads)
	} else {
		require.Equal(t, 1, heads)
	}
	require.Len(t, b.Offers(), len(b.offers))
}

// insertAfter mimics OfferWrite handling: resolve next from prev, then link.
func insertAfter(b *Semibook, id, prev uint64) {
	b.remove(id)
	next, _ := b.nextAfter(prev)
	b.insert(&Offer{ID: id, Prev: prev, Next: next})
}

func TestSemibookInsertRemove(t *testing.T) {
	b := newSemibook(0, 0)
	checkLinks(t, b)

	insertAfter(b, 1, 0)
	insertAfter(b, 2, 1)
	insertAfter(b, 3, 0)
	insertAfter(b, 4, 1)
	checkLinks(t, b)
	require.Equal(t, []uint64{3, 1, 4, 2}, ids(b.Offers()))

	require.Nil(t, b.remove(42))

	removed := b.remove(3)
	require.NotNil(t, removed)
	require.EqualValues(t, 3, removed.ID)
	require.EqualValues(t, 1, b.Best())
	checkLinks(t, b)

	b.remove(2)
	checkLinks(t, b)
	require.Equal(t, []uint64{1, 4}, ids(b.Offers()))

	// update moves 1 behind 4
	insertAfter(b, 1, 4)
	checkLinks(t, b)
	require.Equal(t, []uint64{4, 1}, ids(b.Offers()))

	b.remove(4)
	b.remove(1)
	checkLinks(t, b)
	require.Empty(t, b.Offers())
}

func TestSemibookRandomOperations(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	b := newSemibook(0, 0)
	var order []uint64

	for step := 0; step < 500; step++ {
		id := uint64(r.IntN(30) + 1)
		if r.IntN(3) == 0 {
			b.remove(id)
			for i, v := range order {
				if v == id {
					order = append(order[:i], order[i+1:]...)
					break
				}
			}
		} else {
			for i, v := range order {
				if v == id {
					order = append(order[:i], order[i+1:]...)
					break
				}
			}
			pos := r.IntN(len(order) + 1)
			prev := uint64(0)
			if pos > 0 {
				prev = order[pos-1]
			}
			insertAfter(b, id, prev)
			order = append(order[:pos], append([]uint64{id}, order[pos:]...)...)
		}
		checkLinks(t, b)
		require.Equal(t, order, ids(b.Offers()), "step %d", step)
	}
}

func TestSemibookPartialView(t *testing.T) {
	b := newSemibook(0, 0)
	// a truncated read: the last known offer points past the local view
	b.insert(&Offer{ID: 5, Prev: 0, Next: 3})
	b.insert(&Offer{ID: 3, Prev: 5, Next: 8})
	require.Equal(t, []uint64{5, 3}, ids(b.Offers()))

	next, ok := b.nextAfter(3)
	require.True(t, ok)
	require.EqualValues(t, 8, next)
	_, ok = b.nextAfter(8)
	require.False(t, ok)

	c := b.clone()
	c.remove(5)
	require.Equal(t, []uint64{5, 3}, ids(b.Offers()))
	require.Equal(t, []uint64{3}, ids(c.Offers()))
}
