package coro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRingFIFO(t *testing.T) {
	r := NewRing[int](4)

	_, ok := r.TryRead()
	require.False(t, ok)

	// several laps to cover index wrap
	next := 0
	for lap := 0; lap < 3; lap++ {
		for i := 0; i < 4; i++ {
			r.Write(next + i)
		}
		for i := 0; i < 4; i++ {
			v, ok := r.TryRead()
			require.True(t, ok)
			require.Equal(t, next+i, v)
		}
		next += 4
	}

	_, ok = r.TryRead()
	require.False(t, ok)
}

func TestRingRoundsUpCapacity(t *testing.T) {
	r := NewRing[int](5)
	require.Len(t, r.slots, 8)
	require.EqualValues(t, 7, r.mask)
}

func TestRingWriterParksWhenFull(t *testing.T) {
	r := NewRing[int](1)
	r.Write(1)

	wrote := make(chan struct{})
	go func() {
		r.Write(2)
		close(wrote)
	}()

	select {
	case <-wrote:
		t.Fatal("write completed on a full ring")
	case <-time.After(50 * time.Millisecond):
	}

	v, ok := r.TryRead()
	require.True(t, ok)
	require.Equal(t, 1, v)

	select {
	case <-wrote:
	case <-time.After(time.Second):
		t.Fatal("writer did not wake after the slot was freed")
	}

	v, ok = r.TryRead()
	require.True(t, ok)
	require.Equal(t, 2, v)
}
