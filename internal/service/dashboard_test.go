package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/storage/mock"
	"go.uber.org/mock/gomock"
)

func newDashboardWithMocks(t *testing.T) (*DashboardService, *mock.MockHabitRepository, *mock.MockCompletionRepository, *mock.MockChallengeRepository) {
	t.Helper()
	ctrl := gomock.NewController(t)
	habits := mock.NewMockHabitRepository(ctrl)
	completions := mock.NewMockCompletionRepository(ctrl)
	challenges := mock.NewMockChallengeRepository(ctrl)
	users := mock.NewMockUserRepository(ctrl)
	logger := internal.NewNopLogger()

	stats := NewStatsService(habits, completions, time.UTC, time.Monday, logger)
	stats.now = func() time.Time { return statsNow }
	return NewDashboardService(stats, NewChallengeService(challenges, users, time.UTC, logger), logger), habits, completions, challenges
}

func TestDashboardLoadsBothHalves(t *testing.T) {
	svc, habits, completions, challenges := newDashboardWithMocks(t)
	habits.EXPECT().ListHabits(gomock.Any(), "u1", false).Return([]internal.Habit{daily("h1", 2)}, nil)
	completions.EXPECT().ListCompletions(gomock.Any(), gomock.Any()).Return(done("h1", "2024-05-22"), nil)
	challenges.EXPECT().ListActiveChallenges(gomock.Any()).Return([]internal.Challenge{{ID: "c1", Active: true}}, nil)

	d, err := svc.Load(context.Background(), &internal.User{ID: "u1"})
	require.NoError(t, err)
	require.NotNil(t, d.Stats)
	assert.Equal(t, 1, d.Stats.HabitCount)
	require.Len(t, d.Challenges, 1)
	assert.Empty(t, d.Errors)
}

func TestDashboardReportsHalvesIndependently(t *testing.T) {
	svc, habits, _, challenges := newDashboardWithMocks(t)
	habits.EXPECT().ListHabits(gomock.Any(), "u1", false).Return(nil, fmt.Errorf("%w: unavailable", internal.ErrStore))
	challenges.EXPECT().ListActiveChallenges(gomock.Any()).Return([]internal.Challenge{{ID: "c1"}}, nil)

	d, err := svc.Load(context.Background(), &internal.User{ID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, d.Stats)
	assert.Len(t, d.Challenges, 1)
	require.Len(t, d.Errors, 1)
	assert.Contains(t, d.Errors[0], "stats:")
}

func TestDashboardFailedHalfDoesNotCancelTheOther(t *testing.T) {
	svc, habits, _, challenges := newDashboardWithMocks(t)
	habits.EXPECT().ListHabits(gomock.Any(), "u1", false).Return(nil, fmt.Errorf("%w: unavailable", internal.ErrStore))
	challenges.EXPECT().ListActiveChallenges(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]internal.Challenge, error) {
		time.Sleep(20 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []internal.Challenge{{ID: "c1"}}, nil
	})

	d, err := svc.Load(context.Background(), &internal.User{ID: "u1"})
	require.NoError(t, err)
	assert.Len(t, d.Challenges, 1)
	require.Len(t, d.Errors, 1)
	assert.Contains(t, d.Errors[0], "stats:")
}

func TestDashboardRequiresUser(t *testing.T) {
	svc, _, _, _ := newDashboardWithMocks(t)
	_, err := svc.Load(context.Background(), nil)
	assert.ErrorIs(t, err, internal.ErrNotAuthenticated)
}
