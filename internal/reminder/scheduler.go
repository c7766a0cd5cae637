package reminder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zhenyuanlu/haybeat/internal"
)

// Reminder is a daily trigger for one habit at Hour:Minute local time.
type Reminder struct {
	HabitID   string `json:"habit_id"`
	UserID    string `json:"user_id"`
	HabitName string `json:"habit_name"`
	Hour      int    `json:"hour"`
	Minute    int    `json:"minute"`
}

func (r Reminder) Time() string {
	return fmt.Sprintf("%02d:%02d", r.Hour, r.Minute)
}

type Scheduler interface {
	Schedule(r Reminder) error
	Cancel(habitID string)
}

type Notifier interface {
	Notify(ctx context.Context, r Reminder) error
}

// LogNotifier delivers reminders to the log.
type LogNotifier struct {
	logger internal.Logger
}

func NewLogNotifier(logger internal.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, r Reminder) error {
	n.logger.Infof("reminder: time for %q (habit=%s user=%s)", r.HabitName, r.HabitID, r.UserID)
	return nil
}

// ParseReminderTime parses an "HH:mm" reminder time.
func ParseReminderTime(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid reminder time %q, expected HH:mm", internal.ErrValidation, s)
	}
	return t.Hour(), t.Minute(), nil
}

// FromHabit builds the reminder of a habit. ok is false when the habit has
// no reminder or is archived.
func FromHabit(h internal.Habit) (Reminder, bool, error) {
	if h.ReminderTime == "" || h.Archived {
		return Reminder{}, false, nil
	}
	hour, minute, err := ParseReminderTime(h.ReminderTime)
	if err != nil {
		return Reminder{}, false, err
	}
	return Reminder{HabitID: h.ID, UserID: h.UserID, HabitName: h.Name, Hour: hour, Minute: minute}, true, nil
}

const DefaultInterval = 30 * time.Second

// TickerScheduler keeps reminders in memory and fires each one at most once
// per calendar day when a tick lands on its minute.
type TickerScheduler struct {
	notifier Notifier
	loc      *time.Location
	interval time.Duration
	logger   internal.Logger

	mu        sync.Mutex
	reminders map[string]Reminder
	lastFired map[string]string
}

func NewTickerScheduler(notifier Notifier, loc *time.Location, logger internal.Logger) *TickerScheduler {
	return &TickerScheduler{
		notifier:  notifier,
		loc:       loc,
		interval:  DefaultInterval,
		logger:    logger,
		reminders: make(map[string]Reminder),
		lastFired: make(map[string]string),
	}
}

func (s *TickerScheduler) Schedule(r Reminder) error {
	if r.HabitID == "" {
		return fmt.Errorf("%w: reminder without habit id", internal.ErrValidation)
	}
	if r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("%w: reminder time out of range", internal.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[r.HabitID] = r
	delete(s.lastFired, r.HabitID)
	s.logger.Debugf("reminder: scheduled habit %s at %s", r.HabitID, r.Time())
	return nil
}

func (s *TickerScheduler) Cancel(habitID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[habitID]; ok {
		s.logger.Debugf("reminder: cancelled habit %s", habitID)
	}
	delete(s.reminders, habitID)
	delete(s.lastFired, habitID)
}

// List returns the scheduled reminders ordered by time, then habit id.
func (s *TickerScheduler) List() []Reminder {
	s.mu.Lock()
	out := make([]Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		out = append(out, r)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Time() != out[j].Time() {
			return out[i].Time() < out[j].Time()
		}
		return out[i].HabitID < out[j].HabitID
	})
	return out
}

// Restore schedules the reminders of every habit that carries one and
// returns how many were scheduled.
func (s *TickerScheduler) Restore(habits []internal.Habit) int {
	n := 0
	for _, h := range habits {
		r, ok, err := FromHabit(h)
		if err != nil {
			s.logger.Warnf("reminder: skipping habit %s: %v", h.ID, err)
			continue
		}
		if !ok {
			continue
		}
		if err := s.Schedule(r); err != nil {
			s.logger.Warnf("reminder: skipping habit %s: %v", h.ID, err)
			continue
		}
		n++
	}
	return n
}

// Tick fires every reminder due at now and returns how many were delivered.
func (s *TickerScheduler) Tick(ctx context.Context, now time.Time) int {
	local := now.In(s.loc)
	day := internal.DayKey(local, s.loc)

	var due []Reminder
	s.mu.Lock()
	for id, r := range s.reminders {
		if r.Hour != local.Hour() || r.Minute != local.Minute() {
			continue
		}
		if s.lastFired[id] == day {
			continue
		}
		s.lastFired[id] = day
		due = append(due, r)
	}
	s.mu.Unlock()

	sent := 0
	for _, r := range due {
		if err := s.notifier.Notify(ctx, r); err != nil {
			s.logger.Errorf("reminder: notify habit %s: %v", r.HabitID, err)
			continue
		}
		sent++
	}
	return sent
}

// Run ticks until ctx is cancelled.
func (s *TickerScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Infof("reminder: scheduler running, checking every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder: scheduler stopped")
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// NopScheduler discards reminders, used when reminders are disabled.
type NopScheduler struct{}

func (NopScheduler) Schedule(Reminder) error { return nil }
func (NopScheduler) Cancel(string)           {}

var _ Scheduler = (*TickerScheduler)(nil)
var _ Scheduler = NopScheduler{}
var _ Notifier = (*LogNotifier)(nil)
