package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/storage"
	"github.com/zhenyuanlu/haybeat/internal/storage/mock"
	"go.uber.org/mock/gomock"
)

// Wednesday.
var statsNow = time.Date(2024, 5, 22, 18, 0, 0, 0, time.UTC)

func mondayCalendar() Calendar {
	return Calendar{Now: statsNow, Loc: time.UTC, FirstDayOfWeek: time.Monday}
}

func daily(id string, streak int) internal.Habit {
	return internal.Habit{ID: id, UserID: "u1", Streak: streak, Frequency: internal.Frequency{Type: internal.FrequencyDaily, WeeklyGoal: 7}}
}

func done(habitID string, dates ...string) []internal.HabitCompletion {
	out := make([]internal.HabitCompletion, 0, len(dates))
	for _, d := range dates {
		out = append(out, internal.HabitCompletion{ID: internal.CompletionID(habitID, d), HabitID: habitID, Date: d, Completed: true})
	}
	return out
}

func TestIsScheduled(t *testing.T) {
	monday := time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC)
	specific := internal.Habit{Frequency: internal.Frequency{Type: internal.FrequencySpecificDays, Days: []int{1, 7}}}
	for i := 0; i < 7; i++ {
		d := monday.AddDate(0, 0, i)
		wd := internal.ISOWeekday(d)
		assert.Equal(t, wd == 1 || wd == 7, IsScheduled(specific, d), d.Weekday().String())
		assert.True(t, IsScheduled(daily("h", 0), d))
		assert.True(t, IsScheduled(internal.Habit{Frequency: internal.Frequency{Type: internal.FrequencyWeekly, WeeklyGoal: 3}}, d))
	}
	assert.False(t, IsScheduled(internal.Habit{Frequency: internal.Frequency{Type: "monthly"}}, monday))
}

func TestOverallCompletion(t *testing.T) {
	cal := mondayCalendar()
	habits := []internal.Habit{daily("h1", 0)}

	all := IndexCompletions(done("h1", "2024-05-20", "2024-05-21", "2024-05-22"))
	assert.Equal(t, 100, OverallCompletion(habits, all, cal, 3))

	middle := IndexCompletions(done("h1", "2024-05-21"))
	assert.Equal(t, 33, OverallCompletion(habits, middle, cal, 3))

	twoOfThree := IndexCompletions(done("h1", "2024-05-20", "2024-05-21"))
	assert.Equal(t, 67, OverallCompletion(habits, twoOfThree, cal, 3))

	assert.Equal(t, 0, OverallCompletion(nil, all, cal, 30))
	assert.Equal(t, 0, OverallCompletion(habits, all, cal, 0))
}

func TestOverallCompletionIgnoresUncompletedRecords(t *testing.T) {
	records := done("h1", "2024-05-22")
	records[0].Completed = false
	ix := IndexCompletions(records)
	assert.Equal(t, 0, OverallCompletion([]internal.Habit{daily("h1", 0)}, ix, mondayCalendar(), 1))
}

func TestPercentRoundsHalfUp(t *testing.T) {
	assert.Equal(t, 50, percent(1, 2))
	assert.Equal(t, 13, percent(1, 8))
	assert.Equal(t, 0, percent(0, 0))
	assert.Equal(t, 100, percent(5, 5))
}

func TestCompletionTrend(t *testing.T) {
	habits := []internal.Habit{daily("h1", 0)}
	ix := IndexCompletions(done("h1", "2024-05-20", "2024-05-21", "2024-05-22", "2024-05-13"))

	points := CompletionTrend(habits, ix, mondayCalendar(), 4)
	require.Len(t, points, 4)
	assert.Equal(t, "2024-04-29", points[0].Start)
	assert.Equal(t, 1, points[0].Week)
	assert.Zero(t, points[0].Percent)
	assert.InDelta(t, 100.0/7.0, points[2].Percent, 0.001)
	assert.Equal(t, "2024-05-20", points[3].Start)
	assert.InDelta(t, 100.0, points[3].Percent, 0.001, "current week counts only days up to today")

	sunday := Calendar{Now: statsNow, Loc: time.UTC, FirstDayOfWeek: time.Sunday}
	points = CompletionTrend(habits, ix, sunday, 4)
	assert.Equal(t, "2024-04-28", points[0].Start)
	assert.Equal(t, "2024-05-19", points[3].Start)
	assert.InDelta(t, 75.0, points[3].Percent, 0.001)
}

func TestCompletionTrendNothingScheduled(t *testing.T) {
	for _, p := range CompletionTrend(nil, CompletionIndex{}, mondayCalendar(), 4) {
		assert.Zero(t, p.Percent)
	}
}

func TestCompletionByWeekday(t *testing.T) {
	cal := mondayCalendar()
	mondays := internal.Habit{ID: "m", Frequency: internal.Frequency{Type: internal.FrequencySpecificDays, Days: []int{1}}}
	ix := IndexCompletions(done("m", "2024-05-13", "2024-05-20"))

	rates, best := CompletionByWeekday([]internal.Habit{mondays}, ix, cal, 28)
	require.Len(t, rates, 7)
	assert.Equal(t, "Mon", rates[0].Day)
	assert.Equal(t, "Sun", rates[6].Day)
	assert.Equal(t, 50, rates[0].Percent)
	for _, r := range rates[1:] {
		assert.Zero(t, r.Percent)
	}
	require.NotNil(t, best)
	assert.Equal(t, "Mon", best.Day)

	_, best = CompletionByWeekday([]internal.Habit{mondays}, CompletionIndex{}, cal, 28)
	assert.Nil(t, best)
}

func TestMostEfficientDayTieGoesToEarliest(t *testing.T) {
	habits := []internal.Habit{daily("h1", 0)}
	// Thursday 2024-05-16 and Tuesday 2024-05-14.
	ix := IndexCompletions(done("h1", "2024-05-16", "2024-05-14"))
	rates, best := CompletionByWeekday(habits, ix, mondayCalendar(), 28)
	assert.Equal(t, 25, rates[1].Percent)
	assert.Equal(t, 25, rates[3].Percent)
	require.NotNil(t, best)
	assert.Equal(t, "Tue", best.Day)
}

func TestConsistencyScore(t *testing.T) {
	cal := mondayCalendar()
	score, factors, c7 := ConsistencyScore(nil, CompletionIndex{}, cal)
	assert.Zero(t, score)
	assert.Zero(t, c7)
	assert.Equal(t, "Streaks +0 pts, Last 7d +0%", factors)

	week := []string{"2024-05-16", "2024-05-17", "2024-05-18", "2024-05-19", "2024-05-20", "2024-05-21", "2024-05-22"}
	score, factors, c7 = ConsistencyScore([]internal.Habit{daily("h1", 7)}, IndexCompletions(done("h1", week...)), cal)
	assert.Equal(t, 100, score)
	assert.Equal(t, 100, c7)
	assert.Equal(t, "Streaks +10 pts, Last 7d +100%", factors)

	// streak factor 2/10*10 = 2 gives 6 pts, 7 of 14 done gives 35
	score, factors, _ = ConsistencyScore([]internal.Habit{daily("h1", 2), daily("h2", 0)}, IndexCompletions(append(done("h1", week[4:]...), done("h2", week[:4]...)...)), cal)
	assert.Equal(t, "Streaks +2 pts, Last 7d +50%", factors)
	assert.Equal(t, 41, score)
}

func TestConsistencyScoreBounds(t *testing.T) {
	cal := mondayCalendar()
	for _, streak := range []int{0, 1, 4, 5, 50, 1000} {
		for n := 1; n <= 3; n++ {
			var habits []internal.Habit
			var completions []internal.HabitCompletion
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("h%d", i)
				habits = append(habits, daily(id, streak))
				completions = append(completions, done(id, "2024-05-22", "2024-05-20")...)
			}
			score, _, _ := ConsistencyScore(habits, IndexCompletions(completions), cal)
			assert.GreaterOrEqual(t, score, 0)
			assert.LessOrEqual(t, score, 100)
		}
	}
}

func TestRankHabitsIsStable(t *testing.T) {
	habits := []internal.Habit{daily("a", 2), daily("b", 5), daily("c", 2), daily("d", 0)}
	ranked := RankHabits(habits)
	ids := make([]string, len(ranked))
	for i, h := range ranked {
		ids[i] = h.ID
	}
	assert.Equal(t, []string{"b", "a", "c", "d"}, ids)
	assert.Equal(t, "a", habits[0].ID, "input untouched")
}

func TestStatsForUserQueriesWindow(t *testing.T) {
	ctrl := gomock.NewController(t)
	habits := mock.NewMockHabitRepository(ctrl)
	completions := mock.NewMockCompletionRepository(ctrl)

	habits.EXPECT().ListHabits(gomock.Any(), "u1", false).Return([]internal.Habit{daily("h1", 1)}, nil)
	completions.EXPECT().ListCompletions(gomock.Any(), storage.CompletionQuery{
		UserID: "u1",
		From:   "2024-04-23",
		To:     "2024-05-22",
	}).Return(done("h1", "2024-05-22"), nil)

	svc := NewStatsService(habits, completions, time.UTC, time.Monday, internal.NewNopLogger())
	svc.now = func() time.Time { return statsNow }
	stats, err := svc.ForUser(context.Background(), &internal.User{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.HabitCount)
	assert.Equal(t, 3, stats.OverallCompletion)
	assert.Len(t, stats.Trend, TrendWeeks)
	assert.Len(t, stats.ByWeekday, 7)
	assert.Len(t, stats.Ranking, 1)
}

func TestStatsForUserStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	habits := mock.NewMockHabitRepository(ctrl)
	completions := mock.NewMockCompletionRepository(ctrl)
	habits.EXPECT().ListHabits(gomock.Any(), "u1", false).Return(nil, fmt.Errorf("%w: connection reset", internal.ErrStore))

	svc := NewStatsService(habits, completions, time.UTC, time.Monday, internal.NewNopLogger())
	_, err := svc.ForUser(context.Background(), &internal.User{ID: "u1"})
	assert.ErrorIs(t, err, internal.ErrStore)

	_, err = svc.ForUser(context.Background(), nil)
	assert.ErrorIs(t, err, internal.ErrNotAuthenticated)
}
