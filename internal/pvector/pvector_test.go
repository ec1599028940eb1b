package pvector_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asadovsky/wavedoc/internal/pvector"
)

func TestEmptyIsSharedAndZero(t *testing.T) {
	a := pvector.Empty[int]()
	var b pvector.Vector[int]
	require.Equal(t, 0, a.Len())
	require.Equal(t, a, b)
}

func TestAppendGetLen(t *testing.T) {
	v := pvector.Empty[string]()
	for i := 0; i < 200; i++ {
		v = v.Append("x")
	}
	require.Equal(t, 200, v.Len())
	for i := 0; i < 200; i++ {
		got, ok := v.Get(i)
		require.True(t, ok)
		require.Equal(t, "x", got)
	}
	_, ok := v.Get(200)
	require.False(t, ok)
}

func TestSetPreservesLengthAndSharing(t *testing.T) {
	v := pvector.Empty[int]()
	for i := 0; i < 100; i++ {
		v = v.Append(i)
	}
	v2 := v.Set(50, 999)
	require.Equal(t, v.Len(), v2.Len())
	got, _ := v2.Get(50)
	require.Equal(t, 999, got)
	orig, _ := v.Get(50)
	require.Equal(t, 50, orig, "original vector must be unaffected by Set")
}

func TestSetBeyondLengthFills(t *testing.T) {
	v := pvector.Empty[int]()
	v = v.Set(3, 7)
	require.Equal(t, 4, v.Len())
	for i := 0; i < 3; i++ {
		got, ok := v.Get(i)
		require.True(t, ok)
		require.Equal(t, 0, got)
	}
	got, _ := v.Get(3)
	require.Equal(t, 7, got)
}

func TestPopShrinksAndRoundtrips(t *testing.T) {
	v := pvector.Empty[int]()
	const n = 500
	for i := 0; i < n; i++ {
		v = v.Append(i)
	}
	for i := n - 1; i >= 0; i-- {
		last, ok := v.Last()
		require.True(t, ok)
		require.Equal(t, i, last)
		v = v.Pop()
	}
	require.Equal(t, 0, v.Len())
	require.Equal(t, pvector.Empty[int](), v)
}

func TestFilterAndFind(t *testing.T) {
	v := pvector.Empty[int]()
	for i := 0; i < 20; i++ {
		v = v.Append(i)
	}
	evens := v.Filter(func(x int) bool { return x%2 == 0 })
	require.Equal(t, 10, evens.Len())
	found, ok := v.Find(func(x int) bool { return x > 15 })
	require.True(t, ok)
	require.Equal(t, 16, found)
}

func TestEachStopsEarly(t *testing.T) {
	v := pvector.Empty[int]()
	for i := 0; i < 10; i++ {
		v = v.Append(i)
	}
	var seen []int
	v.Each(func(i, val int) bool {
		seen = append(seen, val)
		return val < 3
	})
	require.Equal(t, []int{0, 1, 2, 3}, seen)
}
