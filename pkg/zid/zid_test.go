package zid

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	id := New()
	require.False(t, id.IsZero())

	parsed, err := FromString(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = FromString("not an id")
	require.Error(t, err)
}

func TestZero(t *testing.T) {
	var id ID
	require.True(t, id.IsZero())
}

func TestStringFormSortsByTime(t *testing.T) {
	base := time.Now()
	ids := []string{
		NewAt(base.Add(3 * time.Second)).String(),
		NewAt(base).String(),
		NewAt(base.Add(1 * time.Second)).String(),
		NewAt(base.Add(2 * time.Second)).String(),
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	require.Equal(t, []string{ids[1], ids[2], ids[3], ids[0]}, sorted)
}

func TestSQLRoundTrip(t *testing.T) {
	id := New()

	v, err := id.Value()
	require.NoError(t, err)

	var scanned ID
	require.NoError(t, scanned.Scan(v))
	require.Equal(t, id, scanned)
}

func TestTimePart(t *testing.T) {
	at := time.Now().Add(-time.Hour).Truncate(time.Second)
	id := NewAt(at)
	require.True(t, id.Time().Equal(at))
}
