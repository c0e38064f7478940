package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDay(t *testing.T) {
	day, err := ParseDay(" 2024-01-31 ")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), day)

	_, err = ParseDay("31/01/2024")
	require.ErrorIs(t, err, ErrInvalidDate)
}

func TestEachDayInclusiveAcrossMonth(t *testing.T) {
	start := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)

	days := EachDay(start, end)
	require.Len(t, days, 3)
	require.Equal(t, 29, days[1].Day())
	require.Equal(t, time.March, days[2].Month())

	require.Empty(t, EachDay(end, start))
}
