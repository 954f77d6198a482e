package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"codeberg.org/mutker/solo2d/internal/aggregate"
	"codeberg.org/mutker/solo2d/internal/errors"
	"codeberg.org/mutker/solo2d/internal/poller"
	"codeberg.org/mutker/solo2d/internal/record"
	"codeberg.org/mutker/solo2d/internal/store"
	"codeberg.org/mutker/solo2d/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDump(t *testing.T) {
	im := storetest.NewImage()
	im.Fill(0, 10, 0, func(i int) record.Slot {
		return record.Slot{Consumption: uint32(1000 + i*100), Temp1: 100, Temp2: 60}
	})
	im.Clear(7)

	m := storetest.NewMedium(im)
	st := store.New(m, store.WithEpoch(storetest.Epoch))
	now := time.Date(2024, time.January, 1, 2, 5, 0, 0, time.UTC)

	var out bytes.Buffer
	require.NoError(t, dump(context.Background(), &out, st, 3, now))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "INDEX")
	assert.Contains(t, lines[1], "2024-01-01T01:30:00Z")
	assert.Contains(t, lines[1], "1.600")
	assert.Contains(t, lines[1], "20.0")
	assert.Contains(t, lines[2], "uninitialized")
	assert.Contains(t, lines[3], "2024-01-01T02:00:00Z")
	assert.Contains(t, lines[3], "1.800")

	assert.False(t, st.IsOpen())
	_, _, closes, open := m.Stats()
	assert.Equal(t, 1, closes)
	assert.Zero(t, open)
}

func TestDumpUninitializedStore(t *testing.T) {
	st := store.New(storetest.NewMedium(storetest.NewImage()), store.WithEpoch(storetest.Epoch))

	err := dump(context.Background(), &bytes.Buffer{}, st, 3, time.Now())
	assert.True(t, errors.HasCode(err, store.ErrUninitializedStore))
}

func TestToSnapshot(t *testing.T) {
	at := time.Date(2024, time.January, 6, 12, 0, 0, 0, time.UTC)

	assert.Nil(t, toSnapshot(poller.Result{At: at, Err: errors.New().New(errors.ErrRefresh)}))
	assert.Nil(t, toSnapshot(poller.Result{At: at}))

	snapshot := toSnapshot(poller.Result{
		At: at,
		Records: map[int]record.Record{
			96: {Consumption: 24},
		},
		Coverage: map[int]aggregate.Coverage{
			1:  {Present: 0, Window: 1},
			96: {Present: 90, Window: 96},
		},
	})
	require.NotNil(t, snapshot)
	require.Len(t, snapshot.Entries, 1)

	e := snapshot.Entries[0]
	assert.Equal(t, at, e.At)
	assert.Equal(t, 96, e.Window)
	assert.Equal(t, 90, e.Present)
	assert.InDelta(t, 24.0, e.Record.Consumption, 1e-9)
}
