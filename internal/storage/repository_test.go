package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhenyuanlu/haybeat/internal"
)

// runRepositoryContract exercises the behavior every backend must share.
// Ids and emails are random so shared databases need no cleanup.
func runRepositoryContract(t *testing.T, repos *Repositories) {
	ctx := context.Background()
	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	newHabit := func(userID string, offset int) *internal.Habit {
		return &internal.Habit{
			ID:        uuid.NewString(),
			UserID:    userID,
			Name:      "Read",
			Category:  internal.DefaultCategory,
			ColorHex:  internal.DefaultColorHex,
			Priority:  internal.DefaultPriority,
			Frequency: internal.Frequency{Type: internal.FrequencyDaily, WeeklyGoal: internal.DefaultWeeklyGoal},
			CreatedAt: created.Add(time.Duration(offset) * time.Minute),
		}
	}
	completion := func(h *internal.Habit, date string) *internal.HabitCompletion {
		return &internal.HabitCompletion{
			ID:        internal.CompletionID(h.ID, date),
			HabitID:   h.ID,
			UserID:    h.UserID,
			Date:      date,
			Completed: true,
			Timestamp: created,
		}
	}

	t.Run("habit create and get", func(t *testing.T) {
		h := newHabit(uuid.NewString(), 0)
		h.Frequency = internal.Frequency{Type: internal.FrequencySpecificDays, WeeklyGoal: 3, Days: []int{1, 3, 5}}
		require.NoError(t, repos.Habits.CreateHabit(ctx, h))

		got, err := repos.Habits.GetHabit(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, h.Name, got.Name)
		assert.Equal(t, []int{1, 3, 5}, got.Frequency.Days)
		assert.True(t, h.CreatedAt.Equal(got.CreatedAt))
		assert.Nil(t, got.LastCompletionDate)

		err = repos.Habits.CreateHabit(ctx, h)
		assert.True(t, errors.Is(err, internal.ErrConflict))

		_, err = repos.Habits.GetHabit(ctx, uuid.NewString())
		assert.True(t, errors.Is(err, internal.ErrNotFound))
	})

	t.Run("list habits", func(t *testing.T) {
		userID := uuid.NewString()
		first := newHabit(userID, 0)
		second := newHabit(userID, 1)
		second.Archived = true
		second.ReminderTime = "07:30"
		third := newHabit(userID, 2)
		third.ReminderTime = "21:00"
		for _, h := range []*internal.Habit{third, first, second} {
			require.NoError(t, repos.Habits.CreateHabit(ctx, h))
		}

		active, err := repos.Habits.ListHabits(ctx, userID, false)
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, first.ID, active[0].ID)
		assert.Equal(t, third.ID, active[1].ID)

		all, err := repos.Habits.ListHabits(ctx, userID, true)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		reminders, err := repos.Habits.ListHabitsWithReminders(ctx)
		require.NoError(t, err)
		var ids []string
		for _, h := range reminders {
			ids = append(ids, h.ID)
		}
		assert.Contains(t, ids, third.ID)
		assert.NotContains(t, ids, second.ID)
		assert.NotContains(t, ids, first.ID)
	})

	t.Run("update habit commits completions", func(t *testing.T) {
		h := newHabit(uuid.NewString(), 0)
		require.NoError(t, repos.Habits.CreateHabit(ctx, h))
		last := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

		updated, err := repos.Habits.UpdateHabit(ctx, h.ID, func(ctx context.Context, habit *internal.Habit, tx HabitTx) error {
			for _, d := range []string{"2024-03-03", "2024-03-04", "2024-03-05"} {
				if err := tx.PutCompletion(ctx, completion(habit, d)); err != nil {
					return err
				}
			}
			got, err := tx.Completion(ctx, "2024-03-04")
			if err != nil || got == nil {
				return errors.New("staged completion not visible")
			}
			habit.Streak = 3
			habit.LongestStreak = 3
			habit.TotalCompletions = 3
			habit.LastCompletionDate = &last
			habit.UserID = "someone-else"
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, updated.Streak)
		assert.Equal(t, h.UserID, updated.UserID)

		stored, err := repos.Habits.GetHabit(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, stored.TotalCompletions)
		require.NotNil(t, stored.LastCompletionDate)
		assert.True(t, last.Equal(*stored.LastCompletionDate))

		_, err = repos.Habits.UpdateHabit(ctx, h.ID, func(ctx context.Context, habit *internal.Habit, tx HabitTx) error {
			dates, err := tx.CompletionDatesBefore(ctx, "2024-03-05", 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"2024-03-04", "2024-03-03"}, dates)
			dates, err = tx.CompletionDatesBefore(ctx, "2024-03-06", 1)
			require.NoError(t, err)
			assert.Equal(t, []string{"2024-03-05"}, dates)
			missing, err := tx.Completion(ctx, "2024-03-01")
			require.NoError(t, err)
			assert.Nil(t, missing)
			return ErrNoChange
		})
		require.NoError(t, err)

		completions, err := repos.Completions.ListCompletions(ctx, CompletionQuery{UserID: h.UserID, HabitID: h.ID})
		require.NoError(t, err)
		require.Len(t, completions, 3)
		assert.Equal(t, "2024-03-03", completions[0].Date)
		assert.Equal(t, internal.CompletionID(h.ID, "2024-03-03"), completions[0].ID)
	})

	t.Run("concurrent updates serialize", func(t *testing.T) {
		h := newHabit(uuid.NewString(), 0)
		require.NoError(t, repos.Habits.CreateHabit(ctx, h))
		const n = 10
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(date string) {
				defer wg.Done()
				_, err := repos.Habits.UpdateHabit(ctx, h.ID, func(ctx context.Context, habit *internal.Habit, tx HabitTx) error {
					if err := tx.PutCompletion(ctx, completion(habit, date)); err != nil {
						return err
					}
					habit.TotalCompletions++
					return nil
				})
				assert.NoError(t, err)
			}(internal.AddDays("2024-04-01", i))
		}
		wg.Wait()

		stored, err := repos.Habits.GetHabit(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, n, stored.TotalCompletions)
		completions, err := repos.Completions.ListCompletions(ctx, CompletionQuery{UserID: h.UserID, HabitID: h.ID})
		require.NoError(t, err)
		assert.Len(t, completions, n)
	})

	t.Run("failed mutation writes nothing", func(t *testing.T) {
		h := newHabit(uuid.NewString(), 0)
		require.NoError(t, repos.Habits.CreateHabit(ctx, h))
		boom := errors.New("boom")

		_, err := repos.Habits.UpdateHabit(ctx, h.ID, func(ctx context.Context, habit *internal.Habit, tx HabitTx) error {
			habit.Streak = 9
			if err := tx.PutCompletion(ctx, completion(habit, "2024-03-10")); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		stored, err := repos.Habits.GetHabit(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, stored.Streak)
		completions, err := repos.Completions.ListCompletions(ctx, CompletionQuery{UserID: h.UserID})
		require.NoError(t, err)
		assert.Empty(t, completions)

		_, err = repos.Habits.UpdateHabit(ctx, uuid.NewString(), func(context.Context, *internal.Habit, HabitTx) error { return nil })
		assert.ErrorIs(t, err, internal.ErrNotFound)
	})

	t.Run("delete completion and habit", func(t *testing.T) {
		h := newHabit(uuid.NewString(), 0)
		require.NoError(t, repos.Habits.CreateHabit(ctx, h))
		_, err := repos.Habits.UpdateHabit(ctx, h.ID, func(ctx context.Context, habit *internal.Habit, tx HabitTx) error {
			if err := tx.PutCompletion(ctx, completion(habit, "2024-04-01")); err != nil {
				return err
			}
			return tx.PutCompletion(ctx, completion(habit, "2024-04-02"))
		})
		require.NoError(t, err)

		_, err = repos.Habits.UpdateHabit(ctx, h.ID, func(ctx context.Context, habit *internal.Habit, tx HabitTx) error {
			return tx.DeleteCompletion(ctx, "2024-04-02")
		})
		require.NoError(t, err)
		completions, err := repos.Completions.ListCompletions(ctx, CompletionQuery{UserID: h.UserID})
		require.NoError(t, err)
		require.Len(t, completions, 1)
		assert.Equal(t, "2024-04-01", completions[0].Date)

		require.NoError(t, repos.Habits.DeleteHabit(ctx, h.ID))
		completions, err = repos.Completions.ListCompletions(ctx, CompletionQuery{UserID: h.UserID})
		require.NoError(t, err)
		assert.Empty(t, completions)
		assert.ErrorIs(t, repos.Habits.DeleteHabit(ctx, h.ID), internal.ErrNotFound)
	})

	t.Run("list completions by range", func(t *testing.T) {
		userID := uuid.NewString()
		a, b := newHabit(userID, 0), newHabit(userID, 1)
		require.NoError(t, repos.Habits.CreateHabit(ctx, a))
		require.NoError(t, repos.Habits.CreateHabit(ctx, b))
		for _, h := range []*internal.Habit{a, b} {
			_, err := repos.Habits.UpdateHabit(ctx, h.ID, func(ctx context.Context, habit *internal.Habit, tx HabitTx) error {
				for _, d := range []string{"2024-05-01", "2024-05-02", "2024-05-03"} {
					if err := tx.PutCompletion(ctx, completion(habit, d)); err != nil {
						return err
					}
				}
				return nil
			})
			require.NoError(t, err)
		}

		got, err := repos.Completions.ListCompletions(ctx, CompletionQuery{UserID: userID, From: "2024-05-02", To: "2024-05-02"})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = repos.Completions.ListCompletions(ctx, CompletionQuery{UserID: userID, HabitID: a.ID, From: "2024-05-02"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "2024-05-02", got[0].Date)
		assert.Equal(t, "2024-05-03", got[1].Date)

		got, err = repos.Completions.ListCompletions(ctx, CompletionQuery{UserID: uuid.NewString()})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("challenges", func(t *testing.T) {
		owner := uuid.NewString()
		start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
		c := &internal.Challenge{
			ID:              uuid.NewString(),
			Name:            "30 days of running",
			GoalDescription: "Run every day",
			OwnerID:         owner,
			ParticipantIDs:  []string{owner},
			Progress:        []internal.ParticipantProgress{{UserID: owner, UserName: "Owner"}},
			StartDate:       start,
			Active:          true,
		}
		require.NoError(t, repos.Challenges.CreateChallenge(ctx, c))
		assert.ErrorIs(t, repos.Challenges.CreateChallenge(ctx, c), internal.ErrConflict)

		newer := &internal.Challenge{
			ID:              uuid.NewString(),
			Name:            "Newer",
			GoalDescription: "g",
			OwnerID:         owner,
			ParticipantIDs:  []string{owner},
			Progress:        []internal.ParticipantProgress{{UserID: owner}},
			StartDate:       start.Add(time.Hour),
			Active:          true,
		}
		require.NoError(t, repos.Challenges.CreateChallenge(ctx, newer))

		joiner := uuid.NewString()
		day := time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC)
		updated, err := repos.Challenges.UpdateChallenge(ctx, c.ID, func(ctx context.Context, ch *internal.Challenge) error {
			ch.ParticipantIDs = append(ch.ParticipantIDs, joiner)
			ch.Progress = append(ch.Progress, internal.ParticipantProgress{
				UserID: joiner, UserName: "Joiner", Progress: 4, CurrentStreak: 2, LongestStreak: 3, LastParticipationDate: &day,
			})
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, c.Version+1, updated.Version)

		got, err := repos.Challenges.GetChallenge(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{owner, joiner}, got.ParticipantIDs)
		require.Len(t, got.Progress, 2)
		p := got.Progress[got.ProgressIndex(joiner)]
		assert.Equal(t, 4, p.Progress)
		assert.Equal(t, 3, p.LongestStreak)
		require.NotNil(t, p.LastParticipationDate)
		assert.True(t, day.Equal(*p.LastParticipationDate))

		unchanged, err := repos.Challenges.UpdateChallenge(ctx, c.ID, func(context.Context, *internal.Challenge) error { return ErrNoChange })
		require.NoError(t, err)
		assert.Equal(t, got.Version, unchanged.Version)

		active, err := repos.Challenges.ListActiveChallenges(ctx)
		require.NoError(t, err)
		pos := map[string]int{}
		for i, ch := range active {
			pos[ch.ID] = i
		}
		require.Contains(t, pos, c.ID)
		require.Contains(t, pos, newer.ID)
		assert.Less(t, pos[newer.ID], pos[c.ID])

		_, err = repos.Challenges.GetChallenge(ctx, uuid.NewString())
		assert.ErrorIs(t, err, internal.ErrNotFound)
	})

	t.Run("profiles and accounts", func(t *testing.T) {
		userID := uuid.NewString()
		_, err := repos.Users.GetProfile(ctx, userID)
		assert.ErrorIs(t, err, internal.ErrNotFound)

		profile := &internal.UserProfile{ID: userID, DisplayName: "Sam", MembershipStatus: internal.MembershipFree}
		require.NoError(t, repos.Users.SaveProfile(ctx, profile))
		profile.AgeGroup = "25-34"
		require.NoError(t, repos.Users.SaveProfile(ctx, profile))
		got, err := repos.Users.GetProfile(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "25-34", got.AgeGroup)
		assert.Equal(t, "Sam", got.DisplayName)

		email := uuid.NewString() + "@Example.com"
		account := &internal.Account{UserID: userID, Email: email, PasswordHash: "hash", CreatedAt: created}
		require.NoError(t, repos.Users.CreateAccount(ctx, account))
		dup := &internal.Account{UserID: uuid.NewString(), Email: email, PasswordHash: "x", CreatedAt: created}
		assert.ErrorIs(t, repos.Users.CreateAccount(ctx, dup), internal.ErrConflict)

		found, err := repos.Users.GetAccountByEmail(ctx, strings.ToLower(email))
		require.NoError(t, err)
		assert.Equal(t, userID, found.UserID)
		_, err = repos.Users.GetAccountByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, internal.ErrNotFound)
	})
}
