package text_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asadovsky/wavedoc/text"
)

func TestNewAndValue(t *testing.T) {
	tx := text.New("hello")
	require.Equal(t, "hello", tx.Value())
	require.Equal(t, 5, tx.Len())
}

func TestInsertStringAtTail(t *testing.T) {
	tx := text.New("hello")
	tx, r := tx.InsertString(tx.Tail(), " world")
	require.Equal(t, "hello world", tx.Value())
	require.False(t, r.Collapsed())
}

func TestInsertEmptyStringIsNoOpAndCollapsed(t *testing.T) {
	tx := text.New("hello")
	before := tx.Value()
	tx, r := tx.InsertString(tx.Tail(), "")
	require.Equal(t, before, tx.Value())
	require.True(t, r.Collapsed())
}

func TestDeleteRangeRemovesInsertedSpan(t *testing.T) {
	tx := text.New("abc")
	tx, r := tx.InsertString(tx.Tail(), "def")
	tx, _ = tx.InsertString(tx.Tail(), "ghi")
	require.Equal(t, "abcdefghi", tx.Value())

	tx = tx.DeleteRange(r)
	require.Equal(t, "abcghi", tx.Value())
	require.Equal(t, 6, tx.Len())
}

func TestDeleteRangeIsIdempotentOnAlreadyDeletedEntries(t *testing.T) {
	tx := text.New("abc")
	tx, r := tx.InsertString(tx.Tail(), "def")
	tx = tx.DeleteRange(r)
	require.Equal(t, "abc", tx.Value())
	// Deleting the same range again touches no live entries and must not panic.
	tx = tx.DeleteRange(r)
	require.Equal(t, "abc", tx.Value())
}

func TestInsertAtUnresolvableCursorIsNoOp(t *testing.T) {
	tx := text.New("abc")
	other := text.New("xyz")
	before := tx.Value()
	// other's tail cursor doesn't resolve against tx's log.
	tx, r := tx.InsertString(other.Tail(), "zzz")
	require.Equal(t, before, tx.Value())
	require.True(t, r.Collapsed())
}
