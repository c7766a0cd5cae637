package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/storage"
	"github.com/zhenyuanlu/haybeat/internal/storage/mock"
	"go.uber.org/mock/gomock"
)

// fakeHistory holds completion dates in ascending order.
type fakeHistory []string

func (f fakeHistory) CompletionDatesBefore(ctx context.Context, date string, limit int) ([]string, error) {
	var out []string
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] >= date {
			continue
		}
		out = append(out, f[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func habitWithLast(t *testing.T, last string, streak, longest, total int) *internal.Habit {
	t.Helper()
	h := &internal.Habit{ID: "h1", UserID: "u1", Streak: streak, LongestStreak: longest, TotalCompletions: total}
	if last != "" {
		require.NoError(t, setLastCompletion(h, last, time.UTC))
	}
	return h
}

func TestApplyCompletion(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name        string
		last        string
		streak      int
		longest     int
		history     fakeHistory
		date        string
		wantStreak  int
		wantLongest int
		wantLast    string
	}{
		{"first completion", "", 0, 0, fakeHistory{"2024-05-06"}, "2024-05-06", 1, 1, "2024-05-06"},
		{"next day extends", "2024-05-06", 1, 1, nil, "2024-05-07", 2, 2, "2024-05-07"},
		{"gap resets", "2024-05-06", 4, 4, nil, "2024-05-09", 1, 4, "2024-05-09"},
		{"same day keeps", "2024-05-06", 2, 3, nil, "2024-05-06", 2, 3, "2024-05-06"},
		{"backfill bridges gap", "2024-05-08", 1, 1, fakeHistory{"2024-05-06", "2024-05-07", "2024-05-08"}, "2024-05-07", 3, 3, "2024-05-08"},
		{"backfill far behind", "2024-05-08", 2, 2, fakeHistory{"2024-05-01", "2024-05-07", "2024-05-08"}, "2024-05-01", 2, 2, "2024-05-08"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := habitWithLast(t, tc.last, tc.streak, tc.longest, 0)
			require.NoError(t, applyCompletion(ctx, h, tc.date, tc.history, time.UTC))
			assert.Equal(t, tc.wantStreak, h.Streak)
			assert.Equal(t, tc.wantLongest, h.LongestStreak)
			assert.Equal(t, 1, h.TotalCompletions)
			assert.Equal(t, tc.wantLast, lastCompletionKey(h, time.UTC))
		})
	}
}

func TestApplyRemoval(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name       string
		last       string
		streak     int
		history    fakeHistory
		date       string
		wantStreak int
		wantLast   string
	}{
		{"most recent of run", "2024-05-08", 3, fakeHistory{"2024-05-06", "2024-05-07"}, "2024-05-08", 2, "2024-05-07"},
		{"only completion", "2024-05-08", 1, nil, "2024-05-08", 0, ""},
		{"restores earlier run", "2024-05-10", 1, fakeHistory{"2024-05-06", "2024-05-07"}, "2024-05-10", 2, "2024-05-07"},
		{"inside run truncates", "2024-05-08", 3, fakeHistory{"2024-05-06", "2024-05-08"}, "2024-05-07", 1, "2024-05-08"},
		{"before run keeps", "2024-05-08", 2, fakeHistory{"2024-05-07", "2024-05-08"}, "2024-05-01", 2, "2024-05-08"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := habitWithLast(t, tc.last, tc.streak, 5, 3)
			require.NoError(t, applyRemoval(ctx, h, tc.date, tc.history, time.UTC))
			assert.Equal(t, tc.wantStreak, h.Streak)
			assert.Equal(t, 5, h.LongestStreak)
			assert.Equal(t, 2, h.TotalCompletions)
			assert.Equal(t, tc.wantLast, lastCompletionKey(h, time.UTC))
		})
	}
}

func TestApplyRemovalFloorsTotal(t *testing.T) {
	h := habitWithLast(t, "", 0, 0, 0)
	require.NoError(t, applyRemoval(context.Background(), h, "2024-05-08", fakeHistory{}, time.UTC))
	assert.Equal(t, 0, h.TotalCompletions)
	assert.Equal(t, 0, h.Streak)
}

var testNow = time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC)

func newTestRepos(t *testing.T) *storage.Repositories {
	t.Helper()
	repos, err := storage.NewFileRepositories(t.TempDir(), internal.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })
	return repos
}

func newHabitFixture(t *testing.T) (*HabitService, *internal.User, *internal.Habit) {
	t.Helper()
	repos := newTestRepos(t)
	svc := NewHabitService(repos.Habits, repos.Completions, nil, time.UTC, internal.NewNopLogger())
	svc.now = func() time.Time { return testNow }
	user := &internal.User{ID: "u1", Name: "Dana"}
	h, err := svc.CreateHabit(context.Background(), user, &HabitRequest{Name: "Read"})
	require.NoError(t, err)
	return svc, user, h
}

func day(n int) string {
	return internal.AddDays("2024-05-10", n)
}

func TestConsecutiveDaysBuildStreak(t *testing.T) {
	svc, user, h := newHabitFixture(t)
	ctx := context.Background()
	var got *internal.Habit
	var err error
	for i := 0; i < 3; i++ {
		got, err = svc.ToggleCompletion(ctx, user, h.ID, day(i), false)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, got.Streak)
	assert.Equal(t, 3, got.LongestStreak)
	assert.Equal(t, 3, got.TotalCompletions)
	assert.Equal(t, day(2), internal.DayKey(*got.LastCompletionDate, time.UTC))

	done, err := svc.CompletionStatus(ctx, user, h.ID, day(1))
	require.NoError(t, err)
	assert.True(t, done)
}

func TestToggleRoundTrip(t *testing.T) {
	// raisesLongest marks toggles that set a new record; the record stays
	// after the undo since the longest streak never decreases.
	scenarios := map[string]struct {
		seed          []int
		toggle        int
		raisesLongest bool
	}{
		"extend record run": {seed: []int{0, 1, 2}, toggle: 3, raisesLongest: true},
		"extend short run":  {seed: []int{0, 1, 2, 4}, toggle: 5},
		"after gap":         {seed: []int{0, 1, 2}, toggle: 6},
		"backfill bridge":   {seed: []int{0, 2}, toggle: 1, raisesLongest: true},
		"backfill before":   {seed: []int{3, 4}, toggle: 0},
		"first ever":        {seed: nil, toggle: 0, raisesLongest: true},
	}
	for name, sc := range scenarios {
		t.Run(name, func(t *testing.T) {
			svc, user, h := newHabitFixture(t)
			ctx := context.Background()
			before := h
			for _, d := range sc.seed {
				var err error
				before, err = svc.ToggleCompletion(ctx, user, h.ID, day(d), false)
				require.NoError(t, err)
			}

			toggled, err := svc.ToggleCompletion(ctx, user, h.ID, day(sc.toggle), false)
			require.NoError(t, err)
			after, err := svc.ToggleCompletion(ctx, user, h.ID, day(sc.toggle), true)
			require.NoError(t, err)

			assert.Equal(t, before.Streak, after.Streak)
			assert.Equal(t, before.TotalCompletions, after.TotalCompletions)
			if sc.raisesLongest {
				assert.Greater(t, toggled.LongestStreak, before.LongestStreak)
				assert.Equal(t, toggled.LongestStreak, after.LongestStreak)
			} else {
				assert.Equal(t, before.LongestStreak, after.LongestStreak)
			}
		})
	}
}

func TestUnmarkMostRecentDecrementsByOne(t *testing.T) {
	svc, user, h := newHabitFixture(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := svc.ToggleCompletion(ctx, user, h.ID, day(i), false)
		require.NoError(t, err)
	}
	got, err := svc.ToggleCompletion(ctx, user, h.ID, day(3), true)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Streak)
	assert.Equal(t, 4, got.LongestStreak)
	assert.Equal(t, 3, got.TotalCompletions)
}

func TestConcurrentTogglesOnOneHabitSerialize(t *testing.T) {
	svc, user, h := newHabitFixture(t)
	ctx := context.Background()
	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(d string) {
			defer wg.Done()
			_, err := svc.ToggleCompletion(ctx, user, h.ID, d, false)
			assert.NoError(t, err)
		}(day(i))
	}
	wg.Wait()

	got, err := svc.GetHabit(ctx, user, h.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.TotalCompletions)
	assert.Equal(t, n, got.Streak)
	assert.Equal(t, n, got.LongestStreak)
	assert.Equal(t, day(n-1), internal.DayKey(*got.LastCompletionDate, time.UTC))

	stored, err := svc.ListCompletions(ctx, user, h.ID, "", "")
	require.NoError(t, err)
	assert.Len(t, stored, n)
}

func TestToggleIsIdempotentAgainstStoredState(t *testing.T) {
	svc, user, h := newHabitFixture(t)
	ctx := context.Background()
	_, err := svc.ToggleCompletion(ctx, user, h.ID, day(0), false)
	require.NoError(t, err)
	got, err := svc.ToggleCompletion(ctx, user, h.ID, day(0), false)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalCompletions)
	assert.Equal(t, 1, got.Streak)

	got, err = svc.ToggleCompletion(ctx, user, h.ID, day(5), true)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalCompletions)
}

func TestToggleRejections(t *testing.T) {
	svc, user, h := newHabitFixture(t)
	ctx := context.Background()

	_, err := svc.ToggleCompletion(ctx, nil, h.ID, day(0), false)
	assert.ErrorIs(t, err, internal.ErrNotAuthenticated)

	_, err = svc.ToggleCompletion(ctx, &internal.User{ID: "intruder"}, h.ID, day(0), false)
	assert.ErrorIs(t, err, internal.ErrNotFound)

	_, err = svc.ToggleCompletion(ctx, user, "missing", day(0), false)
	assert.ErrorIs(t, err, internal.ErrNotFound)

	_, err = svc.ToggleCompletion(ctx, user, h.ID, "10/05/2024", false)
	assert.ErrorIs(t, err, internal.ErrValidation)

	_, err = svc.ToggleCompletion(ctx, user, h.ID, internal.DayKey(testNow.AddDate(0, 0, 1), time.UTC), false)
	assert.ErrorIs(t, err, internal.ErrValidation)

	got, err := svc.GetHabit(ctx, user, h.ID)
	require.NoError(t, err)
	assert.Zero(t, got.TotalCompletions)
}

func TestMarkDoneCompletesToday(t *testing.T) {
	svc, user, h := newHabitFixture(t)
	got, err := svc.MarkDone(context.Background(), user, h.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Streak)
	assert.Equal(t, "2024-05-20", internal.DayKey(*got.LastCompletionDate, time.UTC))
}

func TestToggleStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	habits := mock.NewMockHabitRepository(ctrl)
	completions := mock.NewMockCompletionRepository(ctrl)
	storeErr := fmt.Errorf("%w: transaction aborted", internal.ErrStore)
	habits.EXPECT().UpdateHabit(gomock.Any(), "h1", gomock.Any()).Return(nil, storeErr)

	svc := NewHabitService(habits, completions, nil, time.UTC, internal.NewNopLogger())
	svc.now = func() time.Time { return testNow }
	_, err := svc.ToggleCompletion(context.Background(), &internal.User{ID: "u1"}, "h1", day(0), false)
	assert.True(t, errors.Is(err, internal.ErrStore))
	assert.Contains(t, err.Error(), "transaction aborted")
}
