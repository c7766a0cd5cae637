package service

import (
	"context"

	"github.com/zhenyuanlu/haybeat/internal"
	"golang.org/x/sync/errgroup"
)

// Dashboard is the home screen: habit statistics and the active challenges.
// Each half is loaded independently; a failed half is reported in Errors and
// leaves the other populated.
type Dashboard struct {
	Stats      *HabitStats          `json:"stats,omitempty"`
	Challenges []internal.Challenge `json:"challenges"`
	Errors     []string             `json:"errors,omitempty"`
}

type DashboardService struct {
	stats      *StatsService
	challenges *ChallengeService
	logger     internal.Logger
}

func NewDashboardService(stats *StatsService, challenges *ChallengeService, logger internal.Logger) *DashboardService {
	return &DashboardService{stats: stats, challenges: challenges, logger: logger}
}

func (s *DashboardService) Load(ctx context.Context, user *internal.User) (*Dashboard, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	var (
		d                      Dashboard
		statsErr, challengeErr error
	)
	// The halves fail independently, so neither goroutine returns its error
	// to the group and one failure never cancels the other.
	var g errgroup.Group
	g.Go(func() error {
		d.Stats, statsErr = s.stats.ForUser(ctx, user)
		return nil
	})
	g.Go(func() error {
		d.Challenges, challengeErr = s.challenges.ListActive(ctx, user)
		return nil
	})
	_ = g.Wait()

	if statsErr != nil {
		s.logger.Errorf("dashboard: stats for %s: %v", user.ID, statsErr)
		d.Errors = append(d.Errors, "stats: "+statsErr.Error())
	}
	if challengeErr != nil {
		s.logger.Errorf("dashboard: challenges for %s: %v", user.ID, challengeErr)
		d.Errors = append(d.Errors, "challenges: "+challengeErr.Error())
	}
	if d.Challenges == nil {
		d.Challenges = []internal.Challenge{}
	}
	return &d, nil
}
