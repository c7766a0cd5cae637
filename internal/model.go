package internal

import "time"

// User is the authenticated identity attached to a request.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

type FrequencyType string

const (
	FrequencyDaily        FrequencyType = "daily"
	FrequencyWeekly       FrequencyType = "weekly"
	FrequencySpecificDays FrequencyType = "specific_days"
)

// Frequency describes how often a habit is due. Days uses 1=Monday..7=Sunday.
type Frequency struct {
	Type       FrequencyType `json:"type" bson:"type"`
	WeeklyGoal int           `json:"weekly_goal" bson:"weekly_goal"`
	Days       []int         `json:"days,omitempty" bson:"days,omitempty"`
}

const (
	DefaultCategory   = "Other"
	DefaultColorHex   = "#FF14B8A6"
	DefaultPriority   = "medium"
	DefaultWeeklyGoal = 7
)

type Habit struct {
	ID                 string     `json:"id" bson:"_id"`
	UserID             string     `json:"user_id" bson:"user_id"`
	Name               string     `json:"name" bson:"name"`
	Category           string     `json:"category" bson:"category"`
	ColorHex           string     `json:"color_hex" bson:"color_hex"`
	Priority           string     `json:"priority" bson:"priority"` // high, medium, low
	Frequency          Frequency  `json:"frequency" bson:"frequency"`
	ReminderTime       string     `json:"reminder_time,omitempty" bson:"reminder_time,omitempty"` // HH:mm
	Streak             int        `json:"streak" bson:"streak"`
	LongestStreak      int        `json:"longest_streak" bson:"longest_streak"`
	TotalCompletions   int        `json:"total_completions" bson:"total_completions"`
	LastCompletionDate *time.Time `json:"last_completion_date,omitempty" bson:"last_completion_date,omitempty"`
	CreatedAt          time.Time  `json:"created_at" bson:"created_at"`
	Archived           bool       `json:"archived" bson:"archived"`
}

// HabitCompletion marks a habit as done on one calendar day. At most one
// exists per habit and day; its ID is derived from both.
type HabitCompletion struct {
	ID        string    `json:"id" bson:"_id"`
	HabitID   string    `json:"habit_id" bson:"habit_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	Date      string    `json:"date" bson:"date"` // yyyy-MM-dd
	Completed bool      `json:"completed" bson:"completed"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

func CompletionID(habitID, date string) string {
	return habitID + "_" + date
}

type ParticipantProgress struct {
	UserID                string     `json:"user_id" bson:"user_id"`
	UserName              string     `json:"user_name,omitempty" bson:"user_name,omitempty"`
	Progress              int        `json:"progress" bson:"progress"`
	CurrentStreak         int        `json:"current_streak" bson:"current_streak"`
	LongestStreak         int        `json:"longest_streak" bson:"longest_streak"`
	LastParticipationDate *time.Time `json:"last_participation_date,omitempty" bson:"last_participation_date,omitempty"`
}

const AnonymousName = "Anonymous"

func (p ParticipantProgress) DisplayName() string {
	if p.UserName != "" {
		return p.UserName
	}
	return AnonymousName
}

type Challenge struct {
	ID              string                `json:"id" bson:"_id"`
	Name            string                `json:"name" bson:"name"`
	Description     string                `json:"description,omitempty" bson:"description,omitempty"`
	GoalDescription string                `json:"goal_description" bson:"goal_description"`
	OwnerID         string                `json:"owner_id" bson:"owner_id"`
	ParticipantIDs  []string              `json:"participant_ids" bson:"participant_ids"`
	Progress        []ParticipantProgress `json:"participants_progress" bson:"participants_progress"`
	StartDate       time.Time             `json:"start_date" bson:"start_date"`
	EndDate         *time.Time            `json:"end_date,omitempty" bson:"end_date,omitempty"`
	Active          bool                  `json:"active" bson:"active"`
	Version         int64                 `json:"version" bson:"version"`
}

func (c *Challenge) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// ProgressIndex returns the position of userID's progress entry, or -1.
func (c *Challenge) ProgressIndex(userID string) int {
	for i, p := range c.Progress {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

const (
	MembershipFree = "free"
	MembershipPro  = "pro"
)

type UserProfile struct {
	ID               string `json:"id" bson:"_id"`
	DisplayName      string `json:"display_name,omitempty" bson:"display_name,omitempty"`
	Email            string `json:"email,omitempty" bson:"email,omitempty"`
	PhotoURL         string `json:"photo_url,omitempty" bson:"photo_url,omitempty"`
	AgeGroup         string `json:"age_group,omitempty" bson:"age_group,omitempty"`
	MembershipStatus string `json:"membership_status" bson:"membership_status"`
}

// Account holds the credentials of the password auth provider.
type Account struct {
	UserID       string    `json:"user_id" bson:"_id"`
	Email        string    `json:"email" bson:"email"`
	PasswordHash string    `json:"password_hash" bson:"password_hash"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}
