package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhenyuanlu/haybeat/internal"
)

func TestFileStorage_Contract(t *testing.T) {
	s, err := NewFileStorage(t.TempDir(), internal.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	runRepositoryContract(t, repositoriesFor(s))
}

func TestFileStorage_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStorage(dir, internal.NewNopLogger())
	require.NoError(t, err)

	h := &internal.Habit{ID: "h1", UserID: "u1", Name: "Walk", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateHabit(ctx, h))
	_, err = s.UpdateHabit(ctx, "h1", func(ctx context.Context, habit *internal.Habit, tx HabitTx) error {
		habit.Streak = 1
		return tx.PutCompletion(ctx, &internal.HabitCompletion{
			ID: internal.CompletionID("h1", "2024-06-01"), HabitID: "h1", UserID: "u1", Date: "2024-06-01", Completed: true,
		})
	})
	require.NoError(t, err)
	require.NoError(t, s.SaveProfile(ctx, &internal.UserProfile{ID: "u1", DisplayName: "Una"}))
	require.NoError(t, s.Close())

	info, err := os.Stat(filepath.Join(dir, "completions.json"))
	require.NoError(t, err)
	assert.True(t, info.Size() > 0)

	reopened, err := NewFileStorage(dir, internal.NewNopLogger())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetHabit(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Streak)
	completions, err := reopened.ListCompletions(ctx, CompletionQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, completions, 1)
	profile, err := reopened.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Una", profile.DisplayName)
}

func TestFileStorage_DebouncedSave(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStorage(dir, internal.NewNopLogger())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateHabit(context.Background(), &internal.Habit{ID: "h1", UserID: "u1", Name: "Walk"}))
	assert.Eventually(t, func() bool {
		info, err := os.Stat(filepath.Join(dir, "habits.json"))
		return err == nil && info.Size() > 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestFileStorage_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "habits.json"), []byte("{not json"), 0644))
	_, err := NewFileStorage(dir, internal.NewNopLogger())
	assert.Error(t, err)
}

func TestFileStorage_CloseIsIdempotent(t *testing.T) {
	s, err := NewFileStorage(t.TempDir(), internal.NewNopLogger())
	require.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
