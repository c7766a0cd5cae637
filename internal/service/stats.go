package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/storage"
)

const (
	OverallWindowDays = 30
	TrendWeeks        = 4
	WeekdayWindowDays = 28
	StreakTarget      = 5
)

var weekdayNames = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Calendar fixes "today" and the calendar rules the aggregates are computed
// against.
type Calendar struct {
	Now            time.Time
	Loc            *time.Location
	FirstDayOfWeek time.Weekday
}

func (c Calendar) today() time.Time {
	return internal.StartOfDay(c.Now, c.Loc)
}

// day returns local midnight n days after t.
func (c Calendar) day(t time.Time, n int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+n, 0, 0, 0, 0, c.Loc)
}

// weekStart returns the first day of the week containing t.
func (c Calendar) weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) - int(c.FirstDayOfWeek) + 7) % 7
	return c.day(t, -offset)
}

// TrendStart is the first day of the oldest week of a weeks-long trend.
func (c Calendar) TrendStart(weeks int) time.Time {
	return c.day(c.weekStart(c.today()), -7*(weeks-1))
}

// CompletionIndex holds the completed (habit, day) pairs.
type CompletionIndex map[string]struct{}

func IndexCompletions(completions []internal.HabitCompletion) CompletionIndex {
	ix := make(CompletionIndex, len(completions))
	for _, c := range completions {
		if c.Completed {
			ix[internal.CompletionID(c.HabitID, c.Date)] = struct{}{}
		}
	}
	return ix
}

func (ix CompletionIndex) Done(habitID, day string) bool {
	_, ok := ix[internal.CompletionID(habitID, day)]
	return ok
}

// IsScheduled reports whether h is due on date. Weekly habits count as due
// every day; their goal is a count, not a day set.
func IsScheduled(h internal.Habit, date time.Time) bool {
	switch h.Frequency.Type {
	case internal.FrequencyDaily, internal.FrequencyWeekly:
		return true
	case internal.FrequencySpecificDays:
		wd := internal.ISOWeekday(date)
		for _, d := range h.Frequency.Days {
			if d == wd {
				return true
			}
		}
	}
	return false
}

func tally(habits []internal.Habit, ix CompletionIndex, cal Calendar, from, to time.Time) (done, scheduled int) {
	for d := from; !d.After(to); d = cal.day(d, 1) {
		key := internal.DayKey(d, cal.Loc)
		for _, h := range habits {
			if !IsScheduled(h, d) {
				continue
			}
			scheduled++
			if ix.Done(h.ID, key) {
				done++
			}
		}
	}
	return done, scheduled
}

// percent rounds half up; zero scheduled pairs give 0.
func percent(done, scheduled int) int {
	if scheduled == 0 {
		return 0
	}
	return (done*200 + scheduled) / (2 * scheduled)
}

// OverallCompletion is the completed share of scheduled (habit, day) pairs
// over the last days days, today included.
func OverallCompletion(habits []internal.Habit, ix CompletionIndex, cal Calendar, days int) int {
	if days <= 0 {
		return 0
	}
	today := cal.today()
	return percent(tally(habits, ix, cal, cal.day(today, -(days-1)), today))
}

type TrendPoint struct {
	Week    int     `json:"week"`
	Start   string  `json:"start"`
	Percent float64 `json:"percent"`
}

// CompletionTrend returns one point per calendar week, oldest first. The
// current week only counts days up to today.
func CompletionTrend(habits []internal.Habit, ix CompletionIndex, cal Calendar, weeks int) []TrendPoint {
	today := cal.today()
	start := cal.TrendStart(weeks)
	points := make([]TrendPoint, 0, weeks)
	for i := 0; i < weeks; i++ {
		from := cal.day(start, 7*i)
		to := cal.day(from, 6)
		if to.After(today) {
			to = today
		}
		done, scheduled := tally(habits, ix, cal, from, to)
		p := TrendPoint{Week: i + 1, Start: internal.DayKey(from, cal.Loc)}
		if scheduled > 0 {
			p.Percent = float64(done) / float64(scheduled) * 100
		}
		points = append(points, p)
	}
	return points
}

type WeekdayRate struct {
	Day     string `json:"day"`
	Percent int    `json:"percent"`
}

// CompletionByWeekday buckets the last days days by weekday, Monday first.
// The most efficient day is the highest nonzero rate, earliest weekday on
// ties, or nil.
func CompletionByWeekday(habits []internal.Habit, ix CompletionIndex, cal Calendar, days int) ([]WeekdayRate, *WeekdayRate) {
	var done, scheduled [7]int
	today := cal.today()
	for d := cal.day(today, -(days - 1)); !d.After(today); d = cal.day(d, 1) {
		key := internal.DayKey(d, cal.Loc)
		slot := internal.ISOWeekday(d) - 1
		for _, h := range habits {
			if !IsScheduled(h, d) {
				continue
			}
			scheduled[slot]++
			if ix.Done(h.ID, key) {
				done[slot]++
			}
		}
	}

	rates := make([]WeekdayRate, 7)
	var best *WeekdayRate
	for i := range rates {
		rates[i] = WeekdayRate{Day: weekdayNames[i], Percent: percent(done[i], scheduled[i])}
		if rates[i].Percent > 0 && (best == nil || rates[i].Percent > best.Percent) {
			r := rates[i]
			best = &r
		}
	}
	return rates, best
}

// ConsistencyScore blends the 7-day completion rate with the average
// current streak against a target of 5 days. It is a heuristic, not a
// validated metric. Zero habits score 0.
func ConsistencyScore(habits []internal.Habit, ix CompletionIndex, cal Calendar) (score int, factors string, completion7d int) {
	if len(habits) == 0 {
		return 0, "Streaks +0 pts, Last 7d +0%", 0
	}
	sum := 0
	for _, h := range habits {
		sum += h.Streak
	}
	target := len(habits) * StreakTarget
	if target < 1 {
		target = 1
	}
	streakFactor := math.Min(float64(sum)/float64(target), 1) * 10
	completion7d = OverallCompletion(habits, ix, cal, 7)

	score = int(math.Round(float64(completion7d)*0.7 + streakFactor*3))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	factors = fmt.Sprintf("Streaks +%d pts, Last 7d +%d%%", int(math.Round(streakFactor)), completion7d)
	return score, factors, completion7d
}

// RankHabits orders habits by current streak, longest first, keeping input
// order on ties.
func RankHabits(habits []internal.Habit) []internal.Habit {
	ranked := append([]internal.Habit(nil), habits...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Streak > ranked[j].Streak
	})
	return ranked
}

type HabitStats struct {
	HabitCount         int              `json:"habit_count"`
	OverallCompletion  int              `json:"overall_completion"`
	Completion7d       int              `json:"completion_7d"`
	Trend              []TrendPoint     `json:"trend"`
	ByWeekday          []WeekdayRate    `json:"by_weekday"`
	MostEfficientDay   *WeekdayRate     `json:"most_efficient_day,omitempty"`
	ConsistencyScore   int              `json:"consistency_score"`
	ConsistencyFactors string           `json:"consistency_factors"`
	Ranking            []internal.Habit `json:"ranking"`
}

// Compute derives every statistic from habits and their completions.
func Compute(habits []internal.Habit, completions []internal.HabitCompletion, cal Calendar) *HabitStats {
	ix := IndexCompletions(completions)
	byWeekday, best := CompletionByWeekday(habits, ix, cal, WeekdayWindowDays)
	score, factors, c7 := ConsistencyScore(habits, ix, cal)
	return &HabitStats{
		HabitCount:         len(habits),
		OverallCompletion:  OverallCompletion(habits, ix, cal, OverallWindowDays),
		Completion7d:       c7,
		Trend:              CompletionTrend(habits, ix, cal, TrendWeeks),
		ByWeekday:          byWeekday,
		MostEfficientDay:   best,
		ConsistencyScore:   score,
		ConsistencyFactors: factors,
		Ranking:            RankHabits(habits),
	}
}

type StatsService struct {
	habits         storage.HabitRepository
	completions    storage.CompletionRepository
	loc            *time.Location
	firstDayOfWeek time.Weekday
	now            func() time.Time
	logger         internal.Logger
}

func NewStatsService(habits storage.HabitRepository, completions storage.CompletionRepository, loc *time.Location, firstDayOfWeek time.Weekday, logger internal.Logger) *StatsService {
	return &StatsService{
		habits:         habits,
		completions:    completions,
		loc:            loc,
		firstDayOfWeek: firstDayOfWeek,
		now:            time.Now,
		logger:         logger,
	}
}

func (s *StatsService) calendar() Calendar {
	return Calendar{Now: s.now(), Loc: s.loc, FirstDayOfWeek: s.firstDayOfWeek}
}

// ForUser loads the user's active habits and the completions every
// statistic needs, then computes them.
func (s *StatsService) ForUser(ctx context.Context, user *internal.User) (*HabitStats, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	cal := s.calendar()
	habits, err := s.habits.ListHabits(ctx, user.ID, false)
	if err != nil {
		return nil, err
	}

	today := cal.today()
	from := cal.day(today, -(OverallWindowDays - 1))
	if ts := cal.TrendStart(TrendWeeks); ts.Before(from) {
		from = ts
	}
	completions, err := s.completions.ListCompletions(ctx, storage.CompletionQuery{
		UserID: user.ID,
		From:   internal.DayKey(from, s.loc),
		To:     internal.DayKey(today, s.loc),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debugf("stats for %s: %d habits, %d completions", user.ID, len(habits), len(completions))
	return Compute(habits, completions, cal), nil
}
