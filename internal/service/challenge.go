package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/auth"
	"github.com/zhenyuanlu/haybeat/internal/storage"
)

type ChallengeRequest struct {
	Name            string `json:"name" validate:"max=100"`
	Description     string `json:"description,omitempty" validate:"max=500"`
	GoalDescription string `json:"goal_description" validate:"max=200"`
	DurationDays    int    `json:"duration_days,omitempty" validate:"lte=365"`
}

func ValidateChallengeRequest(req *ChallengeRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.GoalDescription = strings.TrimSpace(req.GoalDescription)
	if req.Name == "" {
		return fmt.Errorf("%w: Challenge name cannot be empty.", internal.ErrValidation)
	}
	if req.GoalDescription == "" {
		return fmt.Errorf("%w: Goal description cannot be empty.", internal.ErrValidation)
	}
	if err := validate.Struct(req); err != nil {
		return validationError(err)
	}
	return nil
}

type ProgressRequest struct {
	Progress *int `json:"progress" validate:"required,gte=0"`
}

type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	Progress      int    `json:"progress"`
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
}

// ChallengeService tracks participants and their progress. Every change to a
// challenge goes through the repository's transactional merge.
type ChallengeService struct {
	challenges storage.ChallengeRepository
	users      storage.UserRepository
	loc        *time.Location
	now        func() time.Time
	logger     internal.Logger
}

func NewChallengeService(challenges storage.ChallengeRepository, users storage.UserRepository, loc *time.Location, logger internal.Logger) *ChallengeService {
	return &ChallengeService{
		challenges: challenges,
		users:      users,
		loc:        loc,
		now:        time.Now,
		logger:     logger,
	}
}

// displayName resolves the name stored on the caller's progress entry.
func (s *ChallengeService) displayName(ctx context.Context, user *internal.User) string {
	profile, err := s.users.GetProfile(ctx, user.ID)
	switch {
	case err == nil && strings.TrimSpace(profile.DisplayName) != "":
		return profile.DisplayName
	case err != nil && !errors.Is(err, internal.ErrNotFound):
		s.logger.Warnf("challenge: profile lookup for %s failed: %v", user.ID, err)
	}
	if user.Name != "" {
		return user.Name
	}
	if user.Email != "" {
		return auth.EmailLocalPart(user.Email)
	}
	return internal.AnonymousName
}

func (s *ChallengeService) CreateChallenge(ctx context.Context, user *internal.User, req *ChallengeRequest) (*internal.Challenge, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	if err := ValidateChallengeRequest(req); err != nil {
		return nil, err
	}
	start := s.now().UTC()
	c := &internal.Challenge{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Description:     strings.TrimSpace(req.Description),
		GoalDescription: req.GoalDescription,
		OwnerID:         user.ID,
		ParticipantIDs:  []string{user.ID},
		Progress:        []internal.ParticipantProgress{{UserID: user.ID, UserName: s.displayName(ctx, user)}},
		StartDate:       start,
		Active:          true,
	}
	if req.DurationDays > 0 {
		end := start.AddDate(0, 0, req.DurationDays)
		c.EndDate = &end
	}
	if err := s.challenges.CreateChallenge(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Infof("challenge %s created by %s", c.ID, user.ID)
	return c, nil
}

func (s *ChallengeService) GetChallenge(ctx context.Context, user *internal.User, id string) (*internal.Challenge, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	return s.challenges.GetChallenge(ctx, id)
}

func (s *ChallengeService) ListActive(ctx context.Context, user *internal.User) ([]internal.Challenge, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	return s.challenges.ListActiveChallenges(ctx)
}

// JoinChallenge adds the caller with a zeroed progress entry. Joining again
// leaves the challenge as it is.
func (s *ChallengeService) JoinChallenge(ctx context.Context, user *internal.User, id string) (*internal.Challenge, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	name := s.displayName(ctx, user)
	now := s.now()
	return s.challenges.UpdateChallenge(ctx, id, func(ctx context.Context, c *internal.Challenge) error {
		if !c.Active || (c.EndDate != nil && now.After(*c.EndDate)) {
			return fmt.Errorf("%w: Challenge is no longer active.", internal.ErrValidation)
		}
		listed := c.HasParticipant(user.ID)
		idx := c.ProgressIndex(user.ID)
		if listed && idx >= 0 {
			return storage.ErrNoChange
		}
		if !listed {
			c.ParticipantIDs = append(c.ParticipantIDs, user.ID)
		}
		if idx < 0 {
			if listed {
				s.logger.Warnf("challenge %s: participant %s had no progress entry, adding one", id, user.ID)
			}
			c.Progress = append(c.Progress, internal.ParticipantProgress{UserID: user.ID, UserName: name})
		}
		return nil
	})
}

// LeaveChallenge removes the caller's id and progress entry together. The
// owner cannot leave; leaving a challenge one is not part of is a no-op.
func (s *ChallengeService) LeaveChallenge(ctx context.Context, user *internal.User, id string) (*internal.Challenge, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	return s.challenges.UpdateChallenge(ctx, id, func(ctx context.Context, c *internal.Challenge) error {
		if c.OwnerID == user.ID {
			return fmt.Errorf("%w: Challenge owner cannot leave.", internal.ErrValidation)
		}
		if !c.HasParticipant(user.ID) && c.ProgressIndex(user.ID) < 0 {
			return storage.ErrNoChange
		}
		ids := c.ParticipantIDs[:0]
		for _, pid := range c.ParticipantIDs {
			if pid != user.ID {
				ids = append(ids, pid)
			}
		}
		c.ParticipantIDs = ids
		entries := c.Progress[:0]
		for _, p := range c.Progress {
			if p.UserID != user.ID {
				entries = append(entries, p)
			}
		}
		c.Progress = entries
		return nil
	})
}

// recordParticipation advances the participation streak of p for today.
func recordParticipation(p *internal.ParticipantProgress, now time.Time, loc *time.Location) {
	today := internal.StartOfDay(now, loc)
	todayKey := internal.DayKey(today, loc)
	switch {
	case p.LastParticipationDate == nil:
		p.CurrentStreak = 1
	case internal.DayKey(*p.LastParticipationDate, loc) == todayKey:
		if p.CurrentStreak == 0 {
			p.CurrentStreak = 1
		}
	case internal.AddDays(internal.DayKey(*p.LastParticipationDate, loc), 1) == todayKey:
		p.CurrentStreak++
	default:
		p.CurrentStreak = 1
	}
	if p.CurrentStreak > p.LongestStreak {
		p.LongestStreak = p.CurrentStreak
	}
	p.LastParticipationDate = &today
}

// UpdateProgress sets the caller's score and records today's participation.
func (s *ChallengeService) UpdateProgress(ctx context.Context, user *internal.User, id string, progress int) (*internal.Challenge, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}
	if progress < 0 {
		return nil, fmt.Errorf("%w: progress must not be negative", internal.ErrValidation)
	}
	name := s.displayName(ctx, user)
	now := s.now()
	return s.challenges.UpdateChallenge(ctx, id, func(ctx context.Context, c *internal.Challenge) error {
		if !c.HasParticipant(user.ID) {
			return fmt.Errorf("%w: %s is not a participant of challenge %s", internal.ErrNotFound, user.ID, id)
		}
		idx := c.ProgressIndex(user.ID)
		if idx < 0 {
			s.logger.Warnf("challenge %s: participant %s had no progress entry, adding one", id, user.ID)
			c.Progress = append(c.Progress, internal.ParticipantProgress{UserID: user.ID})
			idx = len(c.Progress) - 1
		}
		entry := &c.Progress[idx]
		entry.Progress = progress
		if entry.UserName == "" {
			entry.UserName = name
		}
		recordParticipation(entry, now, s.loc)
		return nil
	})
}

// Leaderboard ranks participants by progress, highest first, keeping entry
// order on ties.
func (s *ChallengeService) Leaderboard(ctx context.Context, user *internal.User, id string) ([]LeaderboardEntry, error) {
	c, err := s.GetChallenge(ctx, user, id)
	if err != nil {
		return nil, err
	}
	return BuildLeaderboard(c), nil
}

func BuildLeaderboard(c *internal.Challenge) []LeaderboardEntry {
	entries := append([]internal.ParticipantProgress(nil), c.Progress...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Progress > entries[j].Progress
	})
	board := make([]LeaderboardEntry, len(entries))
	for i, p := range entries {
		board[i] = LeaderboardEntry{
			Rank:          i + 1,
			UserID:        p.UserID,
			Name:          p.DisplayName(),
			Progress:      p.Progress,
			CurrentStreak: p.CurrentStreak,
			LongestStreak: p.LongestStreak,
		}
	}
	return board
}
