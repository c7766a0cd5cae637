package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/zhenyuanlu/haybeat/internal"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func cloneHabit(h *internal.Habit) *internal.Habit {
	cp := *h
	if h.Frequency.Days != nil {
		cp.Frequency.Days = append([]int(nil), h.Frequency.Days...)
	}
	cp.LastCompletionDate = cloneTime(h.LastCompletionDate)
	return &cp
}

func cloneChallenge(c *internal.Challenge) *internal.Challenge {
	cp := *c
	cp.ParticipantIDs = append([]string{}, c.ParticipantIDs...)
	cp.Progress = make([]internal.ParticipantProgress, len(c.Progress))
	for i, p := range c.Progress {
		p.LastParticipationDate = cloneTime(p.LastParticipationDate)
		cp.Progress[i] = p
	}
	cp.EndDate = cloneTime(c.EndDate)
	return &cp
}

// sortHabits orders by creation time, then id, matching the SQL backends.
func sortHabits(habits []internal.Habit) {
	sort.SliceStable(habits, func(i, j int) bool {
		if !habits[i].CreatedAt.Equal(habits[j].CreatedAt) {
			return habits[i].CreatedAt.Before(habits[j].CreatedAt)
		}
		return habits[i].ID < habits[j].ID
	})
}

func sortCompletions(completions []internal.HabitCompletion) {
	sort.Slice(completions, func(i, j int) bool {
		if completions[i].Date != completions[j].Date {
			return completions[i].Date < completions[j].Date
		}
		return completions[i].HabitID < completions[j].HabitID
	})
}

func sortChallenges(challenges []internal.Challenge) {
	sort.SliceStable(challenges, func(i, j int) bool {
		return challenges[i].StartDate.After(challenges[j].StartDate)
	})
}

// participantRows yields one progress entry per distinct participant id, in
// join order. Ids without an entry get a zero entry; entries for users who
// are not participants are dropped.
func participantRows(c *internal.Challenge) []internal.ParticipantProgress {
	rows := make([]internal.ParticipantProgress, 0, len(c.ParticipantIDs))
	seen := make(map[string]bool, len(c.ParticipantIDs))
	for _, id := range c.ParticipantIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		p := internal.ParticipantProgress{UserID: id}
		if i := c.ProgressIndex(id); i >= 0 {
			p = c.Progress[i]
		}
		rows = append(rows, p)
	}
	return rows
}

// normalizeParticipants rewrites c the way the relational backends read it back.
func normalizeParticipants(c *internal.Challenge) *internal.Challenge {
	c.Progress = participantRows(c)
	c.ParticipantIDs = make([]string, len(c.Progress))
	for i, p := range c.Progress {
		c.ParticipantIDs[i] = p.UserID
	}
	return c
}

// encodeDays stores specific weekdays as a JSON array in a text column.
func encodeDays(days []int) (string, error) {
	if days == nil {
		days = []int{}
	}
	b, err := json.Marshal(days)
	return string(b), err
}

func decodeDays(s string) ([]int, error) {
	var days []int
	if err := json.Unmarshal([]byte(s), &days); err != nil {
		return nil, fmt.Errorf("decoding specific_days: %w", err)
	}
	if len(days) == 0 {
		return nil, nil
	}
	return days, nil
}
