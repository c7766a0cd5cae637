package storage

//go:generate mockgen -destination=mock/repository.go -package=mock . HabitRepository,CompletionRepository,ChallengeRepository,UserRepository

import (
	"context"
	"errors"

	"github.com/zhenyuanlu/haybeat/internal"
)

// ErrNoChange aborts a mutation without writing anything. UpdateHabit and
// UpdateChallenge then return the stored record unchanged and a nil error.
var ErrNoChange = errors.New("storage: no change")

// HabitTx gives a habit mutation access to that habit's completion records
// inside the same transaction. Reads observe the transaction's own writes.
type HabitTx interface {
	// Completion returns the record for date, or nil when none exists.
	Completion(ctx context.Context, date string) (*internal.HabitCompletion, error)
	PutCompletion(ctx context.Context, c *internal.HabitCompletion) error
	DeleteCompletion(ctx context.Context, date string) error
	// CompletionDatesBefore lists completion dates strictly before date,
	// newest first. limit <= 0 means no limit.
	CompletionDatesBefore(ctx context.Context, date string, limit int) ([]string, error)
}

// HabitMutation edits habit in place. The habit and every completion write
// issued through tx are committed together, or not at all when it errors.
type HabitMutation func(ctx context.Context, habit *internal.Habit, tx HabitTx) error

// ChallengeMutation edits a challenge in place; participant ids and progress
// entries are persisted together.
type ChallengeMutation func(ctx context.Context, challenge *internal.Challenge) error

type HabitRepository interface {
	CreateHabit(ctx context.Context, habit *internal.Habit) error
	GetHabit(ctx context.Context, id string) (*internal.Habit, error)
	ListHabits(ctx context.Context, userID string, includeArchived bool) ([]internal.Habit, error)
	ListHabitsWithReminders(ctx context.Context) ([]internal.Habit, error)
	UpdateHabit(ctx context.Context, id string, fn HabitMutation) (*internal.Habit, error)
	// DeleteHabit removes the habit and all of its completions.
	DeleteHabit(ctx context.Context, id string) error
}

// CompletionQuery filters completions by owner, optionally by habit, and by
// an inclusive day-key range. Empty bounds are open.
type CompletionQuery struct {
	UserID  string
	HabitID string
	From    string
	To      string
}

type CompletionRepository interface {
	ListCompletions(ctx context.Context, q CompletionQuery) ([]internal.HabitCompletion, error)
}

type ChallengeRepository interface {
	CreateChallenge(ctx context.Context, challenge *internal.Challenge) error
	GetChallenge(ctx context.Context, id string) (*internal.Challenge, error)
	// ListActiveChallenges returns active challenges, newest start first.
	ListActiveChallenges(ctx context.Context) ([]internal.Challenge, error)
	UpdateChallenge(ctx context.Context, id string, fn ChallengeMutation) (*internal.Challenge, error)
}

type UserRepository interface {
	GetProfile(ctx context.Context, userID string) (*internal.UserProfile, error)
	SaveProfile(ctx context.Context, profile *internal.UserProfile) error
	// CreateAccount fails with internal.ErrConflict when the email is taken.
	CreateAccount(ctx context.Context, account *internal.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*internal.Account, error)
}

// Repositories bundles one backend's repositories.
type Repositories struct {
	Habits      HabitRepository
	Completions CompletionRepository
	Challenges  ChallengeRepository
	Users       UserRepository
	Close       func() error
}
