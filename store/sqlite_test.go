package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-t2sa/alignment"
	"github.com/arloliu/go-t2sa/t2sa"
)

func openTestSink(t *testing.T) *SQLiteSink {
	t.Helper()

	sink, err := Open(context.Background(), filepath.Join(t.TempDir(), "alignment.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	return sink
}

func TestSQLiteSink_Pragmas(t *testing.T) {
	require := require.New(t)
	sink := openTestSink(t)

	var journalMode string
	require.NoError(sink.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	require.Equal("wal", journalMode)

	var busyTimeout int
	require.NoError(sink.db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	require.Equal(5000, busyTimeout)
}

func TestSQLiteSink_Measurements(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	sink := openTestSink(t)

	base := time.Unix(1_700_000_000, 0)
	position := alignment.Measurement{
		ID:         uuid.New(),
		Kind:       alignment.KindPosition,
		Target:     "M2",
		Reference:  "FRAMEM1M3",
		DX:         0.25,
		DY:         -1.5,
		DZ:         3000.125,
		MeasuredAt: base,
	}
	offset := alignment.Measurement{
		ID:         uuid.New(),
		Kind:       alignment.KindOffset,
		Target:     "CAM",
		Reference:  "M1M3",
		DX:         0.001,
		DRZ:        -0.0042,
		MeasuredAt: base.Add(time.Second),
	}

	require.NoError(sink.PublishPosition(ctx, position))
	require.NoError(sink.PublishOffset(ctx, offset))

	// duplicate IDs are rejected
	require.Error(sink.PublishPosition(ctx, position))

	got, err := sink.Recent(ctx, 10)
	require.NoError(err)
	if diff := cmp.Diff([]alignment.Measurement{offset, position}, got); diff != "" {
		t.Errorf("Recent() mismatch (-want +got):\n%s", diff)
	}

	got, err = sink.Recent(ctx, 1)
	require.NoError(err)
	require.Len(got, 1)
	require.Equal(offset.ID, got[0].ID)
}

func TestSQLiteSink_StatusChanges(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	sink := openTestSink(t)

	for _, status := range []t2sa.TrackerStatus{
		t2sa.StatusReady, t2sa.StatusReady, t2sa.StatusMeasuring, t2sa.StatusMeasuring, t2sa.StatusReady,
	} {
		require.NoError(sink.PublishT2SAStatus(ctx, status))
	}
	require.NoError(sink.PublishLaserStatus(ctx, t2sa.LaserWarming))
	require.NoError(sink.PublishLaserStatus(ctx, t2sa.LaserOn))

	history, err := sink.StatusHistory(ctx, SourceT2SA)
	require.NoError(err)

	statuses := make([]string, len(history))
	for i, c := range history {
		statuses[i] = c.Status
	}
	require.Equal([]string{"READY", "EMP", "READY"}, statuses)

	history, err = sink.StatusHistory(ctx, SourceLaser)
	require.NoError(err)
	require.Len(history, 2)
	require.Equal("ON", history[1].Status)
	require.False(history[1].ChangedAt.Before(history[0].ChangedAt))
}

func TestSQLiteSink_Reopen(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "alignment.db")

	sink, err := Open(ctx, path)
	require.NoError(err)
	m := alignment.Measurement{
		ID:         uuid.New(),
		Kind:       alignment.KindOffset,
		Target:     "M2",
		Reference:  "M1M3",
		MeasuredAt: time.Unix(0, 42),
	}
	require.NoError(sink.PublishOffset(ctx, m))
	require.NoError(sink.Close())

	sink, err = Open(ctx, path)
	require.NoError(err)
	defer sink.Close()

	got, err := sink.Recent(ctx, 5)
	require.NoError(err)
	require.Len(got, 1)
	require.Equal(m.ID, got[0].ID)
	require.True(m.MeasuredAt.Equal(got[0].MeasuredAt))
}
