package service

import (
	"context"
	"fmt"
	"time"

	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/storage"
)

// completionHistory is the part of a habit transaction the streak arithmetic
// reads from.
type completionHistory interface {
	CompletionDatesBefore(ctx context.Context, date string, limit int) ([]string, error)
}

func lastCompletionKey(h *internal.Habit, loc *time.Location) string {
	if h.LastCompletionDate == nil {
		return ""
	}
	return internal.DayKey(*h.LastCompletionDate, loc)
}

func setLastCompletion(h *internal.Habit, key string, loc *time.Location) error {
	if key == "" {
		h.LastCompletionDate = nil
		return nil
	}
	t, err := internal.ParseDay(key, loc)
	if err != nil {
		return err
	}
	h.LastCompletionDate = &t
	return nil
}

// runEndingAt counts the consecutive completed days ending at end, which is
// itself completed.
func runEndingAt(ctx context.Context, hist completionHistory, end string) (int, error) {
	dates, err := hist.CompletionDatesBefore(ctx, end, 0)
	if err != nil {
		return 0, err
	}
	run := 1
	expect := internal.AddDays(end, -1)
	for _, d := range dates {
		if d != expect {
			break
		}
		run++
		expect = internal.AddDays(expect, -1)
	}
	return run, nil
}

// applyCompletion updates the aggregates of h after date was marked done.
// The completion for date is already visible in hist.
func applyCompletion(ctx context.Context, h *internal.Habit, date string, hist completionHistory, loc *time.Location) error {
	h.TotalCompletions++
	last := lastCompletionKey(h, loc)
	switch {
	case last == "":
		h.Streak = 1
		last = date
	case date == last:
		if h.Streak == 0 {
			h.Streak = 1
		}
	case internal.AddDays(last, 1) == date:
		h.Streak++
		last = date
	case date > last:
		h.Streak = 1
		last = date
	default:
		// Backfill: the day may join runs that end at last.
		run, err := runEndingAt(ctx, hist, last)
		if err != nil {
			return err
		}
		h.Streak = run
	}
	if h.Streak > h.LongestStreak {
		h.LongestStreak = h.Streak
	}
	return setLastCompletion(h, last, loc)
}

// applyRemoval updates the aggregates of h after date was un-marked. The
// completion for date is already gone from hist. LongestStreak is never
// decreased.
func applyRemoval(ctx context.Context, h *internal.Habit, date string, hist completionHistory, loc *time.Location) error {
	if h.TotalCompletions > 0 {
		h.TotalCompletions--
	}
	last := lastCompletionKey(h, loc)
	switch {
	case last == "":
		h.Streak = 0
		return nil
	case date == last:
		prev, err := hist.CompletionDatesBefore(ctx, date, 1)
		if err != nil {
			return err
		}
		if len(prev) == 0 {
			h.Streak = 0
			return setLastCompletion(h, "", loc)
		}
		run, err := runEndingAt(ctx, hist, prev[0])
		if err != nil {
			return err
		}
		h.Streak = run
		return setLastCompletion(h, prev[0], loc)
	case date < last:
		if gap := internal.DaysBetween(date, last); gap < h.Streak {
			h.Streak = gap
		}
	}
	return nil
}

// ToggleCompletion flips the completion of habitID on date. The stored record
// decides the current state: when it already matches the requested one the
// habit is returned unchanged.
func (s *HabitService) ToggleCompletion(ctx context.Context, user *internal.User, habitID, date string, wasCompletedBefore bool) (*internal.Habit, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	day, err := internal.ParseDay(date, s.loc)
	if err != nil {
		return nil, err
	}
	if day.After(internal.StartOfDay(s.now(), s.loc)) {
		return nil, fmt.Errorf("%w: cannot complete a habit on a future day", internal.ErrValidation)
	}
	target := !wasCompletedBefore

	habit, err := s.habits.UpdateHabit(ctx, habitID, func(ctx context.Context, h *internal.Habit, tx storage.HabitTx) error {
		if h.UserID != user.ID {
			return fmt.Errorf("%w: habit %s", internal.ErrNotFound, habitID)
		}
		existing, err := tx.Completion(ctx, date)
		if err != nil {
			return err
		}
		if (existing != nil && existing.Completed) == target {
			return storage.ErrNoChange
		}
		if target {
			completion := &internal.HabitCompletion{
				ID:        internal.CompletionID(h.ID, date),
				HabitID:   h.ID,
				UserID:    h.UserID,
				Date:      date,
				Completed: true,
				Timestamp: s.now().UTC(),
			}
			if err := tx.PutCompletion(ctx, completion); err != nil {
				return err
			}
			return applyCompletion(ctx, h, date, tx, s.loc)
		}
		if err := tx.DeleteCompletion(ctx, date); err != nil {
			return err
		}
		return applyRemoval(ctx, h, date, tx, s.loc)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debugf("habit %s on %s completed=%t streak=%d", habitID, date, target, habit.Streak)
	return habit, nil
}

// Today is the current day key in the service's location.
func (s *HabitService) Today() string {
	return internal.DayKey(s.now(), s.loc)
}

// MarkDone completes habitID for today.
func (s *HabitService) MarkDone(ctx context.Context, user *internal.User, habitID string) (*internal.Habit, error) {
	return s.ToggleCompletion(ctx, user, habitID, s.Today(), false)
}
