package runlog

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T, size int64) (*Log, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, size, nil), mr
}

func TestAppendKeepsNewestEntries(t *testing.T) {
	log, _ := newTestLog(t, 3)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		log.Append(ctx, KindRun, i, "2024-01-01", map[string]int64{"n": i})
	}

	entries, err := log.Recent(ctx, KindRun, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, int64(5), entries[0].TenantID)
	require.Equal(t, int64(3), entries[2].TenantID)
	require.JSONEq(t, `{"n":5}`, string(entries[0].Data))
	require.NotEmpty(t, entries[0].ID)
}

func TestLogsAreSeparatedByKind(t *testing.T) {
	log, _ := newTestLog(t, 10)
	ctx := context.Background()
	log.Append(ctx, KindSync, 1, "2024-01-01", nil)

	runs, err := log.Recent(ctx, KindRun, 10)
	require.NoError(t, err)
	require.Empty(t, runs)

	syncs, err := log.Recent(ctx, KindSync, 10)
	require.NoError(t, err)
	require.Len(t, syncs, 1)
	require.Equal(t, KindSync, syncs[0].Kind)

	_, err = log.Recent(ctx, Kind("other"), 10)
	require.Error(t, err)
}

func TestSizeIsClamped(t *testing.T) {
	require.Equal(t, int64(MaxEntries), New(nil, 1000, nil).size)
	require.Equal(t, int64(MaxEntries), New(nil, 0, nil).size)
	require.Equal(t, int64(7), New(nil, 7, nil).size)
}

func TestAppendIsBestEffort(t *testing.T) {
	log, mr := newTestLog(t, 10)
	mr.Close()

	id := log.Append(context.Background(), KindRun, 1, "2024-01-01", map[string]string{"state": "done"})
	require.NotEmpty(t, id)

	var nilLog *Log
	require.NotEmpty(t, nilLog.Append(context.Background(), KindRun, 1, "2024-01-01", nil))
	entries, err := nilLog.Recent(context.Background(), KindRun, 5)
	require.NoError(t, err)
	require.Empty(t, entries)
}
