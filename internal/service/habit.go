package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/reminder"
	"github.com/zhenyuanlu/haybeat/internal/storage"
)

type FrequencyRequest struct {
	Type       string `json:"type" validate:"required,oneof=daily weekly specific_days"`
	WeeklyGoal int    `json:"weekly_goal" validate:"omitempty,min=1,max=7"`
	Days       []int  `json:"days,omitempty" validate:"omitempty,dive,min=1,max=7"`
}

type HabitRequest struct {
	Name         string            `json:"name" validate:"required,max=100"`
	Category     string            `json:"category,omitempty" validate:"omitempty,max=50"`
	ColorHex     string            `json:"color_hex,omitempty" validate:"omitempty,hexcolor"`
	Priority     string            `json:"priority,omitempty" validate:"omitempty,oneof=high medium low"`
	Frequency    *FrequencyRequest `json:"frequency,omitempty"`
	ReminderTime string            `json:"reminder_time,omitempty" validate:"omitempty,datetime=15:04"`
}

func ValidateHabitRequest(req *HabitRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return validationError(err)
	}
	if req.Frequency != nil && req.Frequency.Type == string(internal.FrequencySpecificDays) && len(req.Frequency.Days) == 0 {
		return fmt.Errorf("%w: select at least one day for specific_days", internal.ErrValidation)
	}
	return nil
}

func (req *HabitRequest) frequency() internal.Frequency {
	if req.Frequency == nil {
		return internal.Frequency{Type: internal.FrequencyDaily, WeeklyGoal: internal.DefaultWeeklyGoal}
	}
	f := internal.Frequency{Type: internal.FrequencyType(req.Frequency.Type), WeeklyGoal: req.Frequency.WeeklyGoal}
	if f.WeeklyGoal == 0 {
		f.WeeklyGoal = internal.DefaultWeeklyGoal
	}
	if f.Type == internal.FrequencySpecificDays {
		seen := map[int]bool{}
		for _, d := range req.Frequency.Days {
			if !seen[d] {
				seen[d] = true
				f.Days = append(f.Days, d)
			}
		}
		sort.Ints(f.Days)
	}
	return f
}

// applyTo copies the editable attributes onto h, leaving aggregates alone.
func (req *HabitRequest) applyTo(h *internal.Habit) {
	h.Name = req.Name
	h.Category = strings.TrimSpace(req.Category)
	if h.Category == "" {
		h.Category = internal.DefaultCategory
	}
	h.ColorHex = req.ColorHex
	if h.ColorHex == "" {
		h.ColorHex = internal.DefaultColorHex
	}
	h.Priority = req.Priority
	if h.Priority == "" {
		h.Priority = internal.DefaultPriority
	}
	h.Frequency = req.frequency()
	h.ReminderTime = req.ReminderTime
}

// HabitService owns habit CRUD and the streak updater.
type HabitService struct {
	habits      storage.HabitRepository
	completions storage.CompletionRepository
	reminders   reminder.Scheduler
	loc         *time.Location
	now         func() time.Time
	logger      internal.Logger
}

func NewHabitService(habits storage.HabitRepository, completions storage.CompletionRepository, reminders reminder.Scheduler, loc *time.Location, logger internal.Logger) *HabitService {
	if reminders == nil {
		reminders = reminder.NopScheduler{}
	}
	return &HabitService{
		habits:      habits,
		completions: completions,
		reminders:   reminders,
		loc:         loc,
		now:         time.Now,
		logger:      logger,
	}
}

func (s *HabitService) syncReminder(h *internal.Habit) {
	r, ok, err := reminder.FromHabit(*h)
	if err != nil || !ok {
		s.reminders.Cancel(h.ID)
		return
	}
	if err := s.reminders.Schedule(r); err != nil {
		s.logger.Warnf("habit %s: scheduling reminder: %v", h.ID, err)
	}
}

func (s *HabitService) CreateHabit(ctx context.Context, user *internal.User, req *HabitRequest) (*internal.Habit, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	if err := ValidateHabitRequest(req); err != nil {
		return nil, err
	}
	habit := &internal.Habit{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		CreatedAt: s.now().UTC(),
	}
	req.applyTo(habit)
	if err := s.habits.CreateHabit(ctx, habit); err != nil {
		return nil, err
	}
	s.syncReminder(habit)
	return habit, nil
}

// GetHabit returns habitID when user owns it. Other users' habits are
// reported as not found.
func (s *HabitService) GetHabit(ctx context.Context, user *internal.User, habitID string) (*internal.Habit, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	h, err := s.habits.GetHabit(ctx, habitID)
	if err != nil {
		return nil, err
	}
	if h.UserID != user.ID {
		return nil, fmt.Errorf("%w: habit %s", internal.ErrNotFound, habitID)
	}
	return h, nil
}

func (s *HabitService) ListHabits(ctx context.Context, user *internal.User, includeArchived bool) ([]internal.Habit, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	return s.habits.ListHabits(ctx, user.ID, includeArchived)
}

func (s *HabitService) UpdateHabit(ctx context.Context, user *internal.User, habitID string, req *HabitRequest) (*internal.Habit, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	if err := ValidateHabitRequest(req); err != nil {
		return nil, err
	}
	h, err := s.habits.UpdateHabit(ctx, habitID, func(ctx context.Context, h *internal.Habit, tx storage.HabitTx) error {
		if h.UserID != user.ID {
			return fmt.Errorf("%w: habit %s", internal.ErrNotFound, habitID)
		}
		req.applyTo(h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.syncReminder(h)
	return h, nil
}

// ArchiveHabit hides the habit from the active list and cancels its reminder.
func (s *HabitService) ArchiveHabit(ctx context.Context, user *internal.User, habitID string) (*internal.Habit, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	h, err := s.habits.UpdateHabit(ctx, habitID, func(ctx context.Context, h *internal.Habit, tx storage.HabitTx) error {
		if h.UserID != user.ID {
			return fmt.Errorf("%w: habit %s", internal.ErrNotFound, habitID)
		}
		if h.Archived {
			return storage.ErrNoChange
		}
		h.Archived = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.reminders.Cancel(habitID)
	return h, nil
}

// DeleteHabit removes the habit and its completion history permanently.
func (s *HabitService) DeleteHabit(ctx context.Context, user *internal.User, habitID string) error {
	if _, err := s.GetHabit(ctx, user, habitID); err != nil {
		return err
	}
	if err := s.habits.DeleteHabit(ctx, habitID); err != nil {
		return err
	}
	s.reminders.Cancel(habitID)
	s.logger.Infof("habit %s deleted by %s", habitID, user.ID)
	return nil
}

// ListCompletions returns the completions of habitID between from and to,
// both optional yyyy-mm-dd bounds.
func (s *HabitService) ListCompletions(ctx context.Context, user *internal.User, habitID, from, to string) ([]internal.HabitCompletion, error) {
	if _, err := s.GetHabit(ctx, user, habitID); err != nil {
		return nil, err
	}
	for _, bound := range []string{from, to} {
		if bound == "" {
			continue
		}
		if _, err := internal.ParseDay(bound, s.loc); err != nil {
			return nil, err
		}
	}
	if from != "" && to != "" && from > to {
		return nil, fmt.Errorf("%w: from must not be after to", internal.ErrValidation)
	}
	return s.completions.ListCompletions(ctx, storage.CompletionQuery{UserID: user.ID, HabitID: habitID, From: from, To: to})
}

// CompletionStatus reports whether habitID is completed on date.
func (s *HabitService) CompletionStatus(ctx context.Context, user *internal.User, habitID, date string) (bool, error) {
	if date == "" {
		return false, fmt.Errorf("%w: date is required", internal.ErrValidation)
	}
	list, err := s.ListCompletions(ctx, user, habitID, date, date)
	if err != nil {
		return false, err
	}
	for _, c := range list {
		if c.Date == date && c.Completed {
			return true, nil
		}
	}
	return false, nil
}
