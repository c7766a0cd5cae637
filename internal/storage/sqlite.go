package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zhenyuanlu/haybeat/internal"
	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so text columns sort chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// OpenSQLite opens the database at path with foreign keys enforced. The pool
// is limited to one connection so transactions serialize writers.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("storage: creating sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: enabling WAL: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: enabling foreign keys: %w", err)
	}
	return db, nil
}

type SQLiteStorage struct {
	db     *sql.DB
	logger internal.Logger
}

func NewSQLiteStorage(db *sql.DB, logger internal.Logger) *SQLiteStorage {
	return &SQLiteStorage{db: db, logger: logger}
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// sqlRunner is satisfied by both *sql.DB and *sql.Tx.
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", internal.ErrStore, op, err)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- HabitRepository ---
const sqliteHabitColumns = `id, user_id, name, category, color_hex, priority, frequency_type, weekly_goal,
	specific_days, reminder_time, streak, longest_streak, total_completions, last_completion_date, created_at, archived`

func scanSQLiteHabit(row rowScanner) (*internal.Habit, error) {
	var (
		h         internal.Habit
		freqType  string
		days      string
		last      sql.NullString
		createdAt string
		archived  int
	)
	if err := row.Scan(&h.ID, &h.UserID, &h.Name, &h.Category, &h.ColorHex, &h.Priority, &freqType,
		&h.Frequency.WeeklyGoal, &days, &h.ReminderTime, &h.Streak, &h.LongestStreak,
		&h.TotalCompletions, &last, &createdAt, &archived); err != nil {
		return nil, err
	}
	h.Frequency.Type = internal.FrequencyType(freqType)
	var err error
	if h.Frequency.Days, err = decodeDays(days); err != nil {
		return nil, err
	}
	if h.LastCompletionDate, err = parseNullTime(last); err != nil {
		return nil, err
	}
	if h.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	h.Archived = archived != 0
	return &h, nil
}

func (s *SQLiteStorage) CreateHabit(ctx context.Context, habit *internal.Habit) error {
	days, err := encodeDays(habit.Frequency.Days)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO habits (`+sqliteHabitColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		habit.ID, habit.UserID, habit.Name, habit.Category, habit.ColorHex, habit.Priority,
		string(habit.Frequency.Type), habit.Frequency.WeeklyGoal, days, habit.ReminderTime,
		habit.Streak, habit.LongestStreak, habit.TotalCompletions, formatNullTime(habit.LastCompletionDate),
		formatTime(habit.CreatedAt), boolToInt(habit.Archived))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: habit %s already exists", internal.ErrConflict, habit.ID)
		}
		s.logger.Errorf("failed to insert habit: %v", err)
		return storeErr("insert habit", err)
	}
	return nil
}

func (s *SQLiteStorage) getHabit(ctx context.Context, q sqlRunner, id string) (*internal.Habit, error) {
	h, err := scanSQLiteHabit(q.QueryRowContext(ctx, `SELECT `+sqliteHabitColumns+` FROM habits WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: habit %s", internal.ErrNotFound, id)
	}
	if err != nil {
		s.logger.Errorf("failed to load habit %s: %v", id, err)
		return nil, storeErr("get habit", err)
	}
	return h, nil
}

func (s *SQLiteStorage) GetHabit(ctx context.Context, id string) (*internal.Habit, error) {
	return s.getHabit(ctx, s.db, id)
}

func (s *SQLiteStorage) queryHabits(ctx context.Context, query string, args ...any) ([]internal.Habit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Errorf("failed to query habits: %v", err)
		return nil, storeErr("list habits", err)
	}
	defer rows.Close()

	habits := []internal.Habit{}
	for rows.Next() {
		h, err := scanSQLiteHabit(rows)
		if err != nil {
			s.logger.Errorf("failed to scan habit: %v", err)
			return nil, storeErr("scan habit", err)
		}
		habits = append(habits, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list habits", err)
	}
	return habits, nil
}

func (s *SQLiteStorage) ListHabits(ctx context.Context, userID string, includeArchived bool) ([]internal.Habit, error) {
	query := `SELECT ` + sqliteHabitColumns + ` FROM habits WHERE user_id = ?`
	if !includeArchived {
		query += ` AND archived = 0`
	}
	return s.queryHabits(ctx, query+` ORDER BY created_at, id`, userID)
}

func (s *SQLiteStorage) ListHabitsWithReminders(ctx context.Context) ([]internal.Habit, error) {
	return s.queryHabits(ctx, `SELECT `+sqliteHabitColumns+` FROM habits
		WHERE reminder_time <> '' AND archived = 0 ORDER BY created_at, id`)
}

func (s *SQLiteStorage) UpdateHabit(ctx context.Context, id string, fn HabitMutation) (*internal.Habit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin", err)
	}
	defer tx.Rollback()

	current, err := s.getHabit(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	working := cloneHabit(current)
	if err := fn(ctx, working, &sqliteHabitTx{tx: tx, habitID: id}); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current, nil
		}
		return nil, err
	}
	working.ID, working.UserID = current.ID, current.UserID

	days, err := encodeDays(working.Frequency.Days)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE habits SET name = ?, category = ?, color_hex = ?, priority = ?,
		frequency_type = ?, weekly_goal = ?, specific_days = ?, reminder_time = ?, streak = ?, longest_streak = ?,
		total_completions = ?, last_completion_date = ?, archived = ? WHERE id = ?`,
		working.Name, working.Category, working.ColorHex, working.Priority, string(working.Frequency.Type),
		working.Frequency.WeeklyGoal, days, working.ReminderTime, working.Streak, working.LongestStreak,
		working.TotalCompletions, formatNullTime(working.LastCompletionDate), boolToInt(working.Archived), id); err != nil {
		s.logger.Errorf("failed to update habit %s: %v", id, err)
		return nil, storeErr("update habit", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit", err)
	}
	return working, nil
}

func (s *SQLiteStorage) DeleteHabit(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM habits WHERE id = ?`, id)
	if err != nil {
		s.logger.Errorf("failed to delete habit %s: %v", id, err)
		return storeErr("delete habit", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: habit %s", internal.ErrNotFound, id)
	}
	return nil
}

type sqliteHabitTx struct {
	tx      *sql.Tx
	habitID string
}

func scanSQLiteCompletion(row rowScanner) (*internal.HabitCompletion, error) {
	var (
		c         internal.HabitCompletion
		completed int
		ts        string
	)
	if err := row.Scan(&c.ID, &c.HabitID, &c.UserID, &c.Date, &completed, &ts); err != nil {
		return nil, err
	}
	c.Completed = completed != 0
	t, err := parseTime(ts)
	if err != nil {
		return nil, err
	}
	c.Timestamp = t
	return &c, nil
}

func (t *sqliteHabitTx) Completion(ctx context.Context, date string) (*internal.HabitCompletion, error) {
	c, err := scanSQLiteCompletion(t.tx.QueryRowContext(ctx,
		`SELECT id, habit_id, user_id, date, completed, timestamp FROM completions WHERE habit_id = ? AND date = ?`,
		t.habitID, date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get completion", err)
	}
	return c, nil
}

func (t *sqliteHabitTx) PutCompletion(ctx context.Context, c *internal.HabitCompletion) error {
	if c.HabitID != t.habitID {
		return fmt.Errorf("%w: completion belongs to habit %s", internal.ErrValidation, c.HabitID)
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO completions (id, habit_id, user_id, date, completed, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (habit_id, date) DO UPDATE SET completed = excluded.completed, timestamp = excluded.timestamp`,
		c.ID, c.HabitID, c.UserID, c.Date, boolToInt(c.Completed), formatTime(c.Timestamp))
	if err != nil {
		return storeErr("put completion", err)
	}
	return nil
}

func (t *sqliteHabitTx) DeleteCompletion(ctx context.Context, date string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM completions WHERE habit_id = ? AND date = ?`, t.habitID, date); err != nil {
		return storeErr("delete completion", err)
	}
	return nil
}

func (t *sqliteHabitTx) CompletionDatesBefore(ctx context.Context, date string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT date FROM completions WHERE habit_id = ? AND date < ? ORDER BY date DESC LIMIT ?`,
		t.habitID, date, limit)
	if err != nil {
		return nil, storeErr("list completion dates", err)
	}
	defer rows.Close()
	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, storeErr("scan completion date", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// --- CompletionRepository ---
func (s *SQLiteStorage) ListCompletions(ctx context.Context, q CompletionQuery) ([]internal.HabitCompletion, error) {
	query := `SELECT id, habit_id, user_id, date, completed, timestamp FROM completions WHERE user_id = ?`
	args := []any{q.UserID}
	if q.HabitID != "" {
		query += ` AND habit_id = ?`
		args = append(args, q.HabitID)
	}
	if q.From != "" {
		query += ` AND date >= ?`
		args = append(args, q.From)
	}
	if q.To != "" {
		query += ` AND date <= ?`
		args = append(args, q.To)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY date, habit_id`, args...)
	if err != nil {
		s.logger.Errorf("failed to query completions: %v", err)
		return nil, storeErr("list completions", err)
	}
	defer rows.Close()

	completions := []internal.HabitCompletion{}
	for rows.Next() {
		c, err := scanSQLiteCompletion(rows)
		if err != nil {
			return nil, storeErr("scan completion", err)
		}
		completions = append(completions, *c)
	}
	return completions, rows.Err()
}

// --- ChallengeRepository ---
const sqliteChallengeColumns = `id, name, description, goal_description, owner_id, start_date, end_date, active, version`

func (s *SQLiteStorage) CreateChallenge(ctx context.Context, challenge *internal.Challenge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO challenges (`+sqliteChallengeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		challenge.ID, challenge.Name, challenge.Description, challenge.GoalDescription, challenge.OwnerID,
		formatTime(challenge.StartDate), formatNullTime(challenge.EndDate), boolToInt(challenge.Active), challenge.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: challenge %s already exists", internal.ErrConflict, challenge.ID)
		}
		s.logger.Errorf("failed to insert challenge: %v", err)
		return storeErr("insert challenge", err)
	}
	if err := writeSQLiteParticipants(ctx, tx, challenge); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

// writeSQLiteParticipants replaces the participant rows with one row per
// participant id, carrying that user's progress entry when present.
func writeSQLiteParticipants(ctx context.Context, tx *sql.Tx, c *internal.Challenge) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM challenge_participants WHERE challenge_id = ?`, c.ID); err != nil {
		return storeErr("clear participants", err)
	}
	for pos, p := range participantRows(c) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO challenge_participants
			(challenge_id, user_id, position, user_name, progress, current_streak, longest_streak, last_participation_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, p.UserID, pos, p.UserName, p.Progress, p.CurrentStreak, p.LongestStreak,
			formatNullTime(p.LastParticipationDate)); err != nil {
			return storeErr("insert participant", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) loadChallenge(ctx context.Context, q sqlRunner, row rowScanner) (*internal.Challenge, error) {
	var (
		c      internal.Challenge
		start  string
		end    sql.NullString
		active int
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.GoalDescription, &c.OwnerID, &start, &end, &active, &c.Version); err != nil {
		return nil, err
	}
	var err error
	if c.StartDate, err = parseTime(start); err != nil {
		return nil, err
	}
	if c.EndDate, err = parseNullTime(end); err != nil {
		return nil, err
	}
	c.Active = active != 0

	rows, err := q.QueryContext(ctx, `SELECT user_id, user_name, progress, current_streak, longest_streak, last_participation_date
		FROM challenge_participants WHERE challenge_id = ? ORDER BY position`, c.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	c.ParticipantIDs = []string{}
	c.Progress = []internal.ParticipantProgress{}
	for rows.Next() {
		var (
			p    internal.ParticipantProgress
			last sql.NullString
		)
		if err := rows.Scan(&p.UserID, &p.UserName, &p.Progress, &p.CurrentStreak, &p.LongestStreak, &last); err != nil {
			return nil, err
		}
		if p.LastParticipationDate, err = parseNullTime(last); err != nil {
			return nil, err
		}
		c.ParticipantIDs = append(c.ParticipantIDs, p.UserID)
		c.Progress = append(c.Progress, p)
	}
	return &c, rows.Err()
}

func (s *SQLiteStorage) getChallenge(ctx context.Context, q sqlRunner, id string) (*internal.Challenge, error) {
	c, err := s.loadChallenge(ctx, q, q.QueryRowContext(ctx, `SELECT `+sqliteChallengeColumns+` FROM challenges WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: challenge %s", internal.ErrNotFound, id)
	}
	if err != nil {
		s.logger.Errorf("failed to load challenge %s: %v", id, err)
		return nil, storeErr("get challenge", err)
	}
	return c, nil
}

func (s *SQLiteStorage) GetChallenge(ctx context.Context, id string) (*internal.Challenge, error) {
	return s.getChallenge(ctx, s.db, id)
}

func (s *SQLiteStorage) ListActiveChallenges(ctx context.Context) ([]internal.Challenge, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM challenges WHERE active = 1 ORDER BY start_date DESC, id`)
	if err != nil {
		s.logger.Errorf("failed to query challenges: %v", err)
		return nil, storeErr("list challenges", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, storeErr("scan challenge", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("list challenges", err)
	}

	// The single connection is released above before loading each challenge.
	challenges := []internal.Challenge{}
	for _, id := range ids {
		c, err := s.getChallenge(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, *c)
	}
	return challenges, nil
}

func (s *SQLiteStorage) UpdateChallenge(ctx context.Context, id string, fn ChallengeMutation) (*internal.Challenge, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin", err)
	}
	defer tx.Rollback()

	current, err := s.getChallenge(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	working := cloneChallenge(current)
	if err := fn(ctx, working); err != nil {
		if errors.Is(err, ErrNoChange) {
			return current, nil
		}
		return nil, err
	}
	working.ID = current.ID
	working.Version = current.Version + 1

	if _, err := tx.ExecContext(ctx, `UPDATE challenges SET name = ?, description = ?, goal_description = ?,
		end_date = ?, active = ?, version = ? WHERE id = ?`,
		working.Name, working.Description, working.GoalDescription, formatNullTime(working.EndDate),
		boolToInt(working.Active), working.Version, id); err != nil {
		s.logger.Errorf("failed to update challenge %s: %v", id, err)
		return nil, storeErr("update challenge", err)
	}
	if err := writeSQLiteParticipants(ctx, tx, working); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit", err)
	}
	return normalizeParticipants(working), nil
}

// --- UserRepository ---
func (s *SQLiteStorage) GetProfile(ctx context.Context, userID string) (*internal.UserProfile, error) {
	var p internal.UserProfile
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, email, photo_url, age_group, membership_status
		FROM profiles WHERE id = ?`, userID).Scan(&p.ID, &p.DisplayName, &p.Email, &p.PhotoURL, &p.AgeGroup, &p.MembershipStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: profile %s", internal.ErrNotFound, userID)
	}
	if err != nil {
		return nil, storeErr("get profile", err)
	}
	return &p, nil
}

func (s *SQLiteStorage) SaveProfile(ctx context.Context, profile *internal.UserProfile) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO profiles (id, display_name, email, photo_url, age_group, membership_status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET display_name = excluded.display_name, email = excluded.email,
			photo_url = excluded.photo_url, age_group = excluded.age_group, membership_status = excluded.membership_status`,
		profile.ID, profile.DisplayName, profile.Email, profile.PhotoURL, profile.AgeGroup, profile.MembershipStatus)
	if err != nil {
		s.logger.Errorf("failed to save profile %s: %v", profile.ID, err)
		return storeErr("save profile", err)
	}
	return nil
}

func (s *SQLiteStorage) CreateAccount(ctx context.Context, account *internal.Account) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO accounts (user_id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		account.UserID, account.Email, account.PasswordHash, formatTime(account.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: email already registered", internal.ErrConflict)
		}
		return storeErr("create account", err)
	}
	return nil
}

func (s *SQLiteStorage) GetAccountByEmail(ctx context.Context, email string) (*internal.Account, error) {
	var (
		a         internal.Account
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `SELECT user_id, email, password_hash, created_at FROM accounts WHERE email = ? COLLATE NOCASE`,
		email).Scan(&a.UserID, &a.Email, &a.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", internal.ErrNotFound, email)
	}
	if err != nil {
		return nil, storeErr("get account", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, storeErr("get account", err)
	}
	return &a, nil
}

// --- Compile-time assertions ---
var _ HabitRepository = (*SQLiteStorage)(nil)
var _ CompletionRepository = (*SQLiteStorage)(nil)
var _ ChallengeRepository = (*SQLiteStorage)(nil)
var _ UserRepository = (*SQLiteStorage)(nil)
var _ HabitTx = (*sqliteHabitTx)(nil)
