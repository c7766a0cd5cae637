package api

import (
	"time"

	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/auth"
	"github.com/zhenyuanlu/haybeat/internal/reminder"
	"github.com/zhenyuanlu/haybeat/internal/service"
	"github.com/zhenyuanlu/haybeat/internal/storage"
)

type App interface {
	Logger() internal.Logger
	Habits() *service.HabitService
	Stats() *service.StatsService
	Challenges() *service.ChallengeService
	Profiles() *service.ProfileService
	Dashboard() *service.DashboardService
	// Sessions is nil unless password sign-in is enabled.
	Sessions() *auth.PasswordService
}

type Options struct {
	Location       *time.Location
	FirstDayOfWeek time.Weekday
	Reminders      reminder.Scheduler
	Sessions       *auth.PasswordService
}

type services struct {
	logger     internal.Logger
	habits     *service.HabitService
	stats      *service.StatsService
	challenges *service.ChallengeService
	profiles   *service.ProfileService
	dashboard  *service.DashboardService
	sessions   *auth.PasswordService
}

// NewApp wires the services over one set of repositories.
func NewApp(repos *storage.Repositories, opts Options, logger internal.Logger) App {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	stats := service.NewStatsService(repos.Habits, repos.Completions, loc, opts.FirstDayOfWeek, logger)
	challenges := service.NewChallengeService(repos.Challenges, repos.Users, loc, logger)
	return &services{
		logger:     logger,
		habits:     service.NewHabitService(repos.Habits, repos.Completions, opts.Reminders, loc, logger),
		stats:      stats,
		challenges: challenges,
		profiles:   service.NewProfileService(repos.Users, logger),
		dashboard:  service.NewDashboardService(stats, challenges, logger),
		sessions:   opts.Sessions,
	}
}

func (s *services) Logger() internal.Logger               { return s.logger }
func (s *services) Habits() *service.HabitService         { return s.habits }
func (s *services) Stats() *service.StatsService          { return s.stats }
func (s *services) Challenges() *service.ChallengeService { return s.challenges }
func (s *services) Profiles() *service.ProfileService     { return s.profiles }
func (s *services) Dashboard() *service.DashboardService  { return s.dashboard }
func (s *services) Sessions() *auth.PasswordService       { return s.sessions }
