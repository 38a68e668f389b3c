package alarms

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkravtsov/wakewatch/internal/domain/alarm"
)

// TestFileStoreRoundtrip persists alarms and loads them back from disk.
func TestFileStoreRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alarms.json")
	ctx := context.Background()

	s, err := NewFileStore(path)
	require.NoError(t, err)
	require.Empty(t, s.All(ctx))

	a := alarm.Alarm{
		ID:         "a1",
		Label:      "workdays",
		Hour:       7,
		RepeatDays: []int{0, 1, 2, 3, 4},
		Enabled:    true,
	}
	require.NoError(t, s.Put(ctx, a))

	reloaded, err := NewFileStore(path)
	require.NoError(t, err)

	all := reloaded.All(ctx)
	require.Len(t, all, 1)
	require.Equal(t, a, all[0])

	got, ok := reloaded.Get(ctx, "a1")
	require.True(t, ok)
	require.Equal(t, a, got)
}

// TestFileStoreRejectsInvalid ensures Put enforces the alarm invariants.
func TestFileStoreRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alarms.json")

	s, err := NewFileStore(path)
	require.NoError(t, err)

	err = s.Put(context.Background(), alarm.Alarm{ID: "a1", Hour: 25})
	require.ErrorIs(t, err, alarm.ErrBadTime)
}

// TestFileStoreNotifiesSubscribers verifies mutation callbacks fire after
// successful writes only.
func TestFileStoreNotifiesSubscribers(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alarms.json")
	ctx := context.Background()

	s, err := NewFileStore(path)
	require.NoError(t, err)

	var (
		sets    []alarm.Alarm
		deletes []string
	)

	s.Subscribe(
		func(_ context.Context, a alarm.Alarm) { sets = append(sets, a) },
		func(_ context.Context, id string) { deletes = append(deletes, id) },
	)

	a := alarm.Alarm{ID: "a1", Hour: 6, Minute: 30}
	require.NoError(t, s.Put(ctx, a))
	require.Len(t, sets, 1)
	require.Equal(t, "a1", sets[0].ID)

	require.NoError(t, s.Delete(ctx, "a1"))
	require.Equal(t, []string{"a1"}, deletes)

	// Deleting a missing alarm neither errors silently nor notifies.
	err = s.Delete(ctx, "a1")
	require.ErrorIs(t, err, ErrNotFound)
	require.Len(t, deletes, 1)
}
