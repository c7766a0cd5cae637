package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zhenyuanlu/haybeat/internal"
)

type PostgresStorage struct {
	pool   *pgxpool.Pool
	logger internal.Logger
}

func NewPostgresStorage(ctx context.Context, dsn string, logger internal.Logger) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Errorf("failed to connect to postgres: %v", err)
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		logger.Errorf("failed to ping postgres: %v", err)
		return nil, err
	}
	return &PostgresStorage{pool: pool, logger: logger}, nil
}

func (p *PostgresStorage) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *PostgresStorage) Close() error {
	p.pool.Close()
	return nil
}

// pgRunner is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgRunner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- HabitRepository ---
const pgHabitColumns = `id, user_id, name, category, color_hex, priority, frequency_type, weekly_goal,
	specific_days, reminder_time, streak, longest_streak, total_completions, last_completion_date, created_at, archived`

func scanPgHabit(row rowScanner) (*internal.Habit, error) {
	var (
		h        internal.Habit
		freqType string
		days     string
	)
	if err := row.Scan(&h.ID, &h.UserID, &h.Name, &h.Category, &h.ColorHex, &h.Priority, &freqType,
		&h.Frequency.WeeklyGoal, &days, &h.ReminderTime, &h.Streak, &h.LongestStreak,
		&h.TotalCompletions, &h.LastCompletionDate, &h.CreatedAt, &h.Archived); err != nil {
		return nil, err
	}
	h.Frequency.Type = internal.FrequencyType(freqType)
	decoded, err := decodeDays(days)
	if err != nil {
		return nil, err
	}
	h.Frequency.Days = decoded
	return &h, nil
}

func (p *PostgresStorage) CreateHabit(ctx context.Context, habit *internal.Habit) error {
	days, err := encodeDays(habit.Frequency.Days)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `INSERT INTO habits (`+pgHabitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		habit.ID, habit.UserID, habit.Name, habit.Category, habit.ColorHex, habit.Priority,
		string(habit.Frequency.Type), habit.Frequency.WeeklyGoal, days, habit.ReminderTime,
		habit.Streak, habit.LongestStreak, habit.TotalCompletions, habit.LastCompletionDate,
		habit.CreatedAt, habit.Archived)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("%w: habit %s already exists", internal.ErrConflict, habit.ID)
		}
		p.logger.Errorf("failed to insert habit: %v", err)
		return storeErr("insert habit", err)
	}
	return nil
}

func (p *PostgresStorage) getHabit(ctx context.Context, q pgRunner, id string, forUpdate bool) (*internal.Habit, error) {
	query := `SELECT ` + pgHabitColumns + ` FROM habits WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	h, err := scanPgHabit(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: habit %s", internal.ErrNotFound, id)
	}
	if err != nil {
		p.logger.Errorf("failed to load habit %s: %v", id, err)
		return nil, storeErr("get habit", err)
	}
	return h, nil
}

func (p *PostgresStorage) GetHabit(ctx context.Context, id string) (*internal.Habit, error) {
	return p.getHabit(ctx, p.pool, id, false)
}

func (p *PostgresStorage) queryHabits(ctx context.Context, query string, args ...any) ([]internal.Habit, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		p.logger.Errorf("failed to query habits: %v", err)
		return nil, storeErr("list habits", err)
	}
	defer rows.Close()

	habits := []internal.Habit{}
	for rows.Next() {
		h, err := scanPgHabit(rows)
		if err != nil {
			p.logger.Errorf("failed to scan habit: %v", err)
			return nil, storeErr("scan habit", err)
		}
		habits = append(habits, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list habits", err)
	}
	return habits, nil
}

func (p *PostgresStorage) ListHabits(ctx context.Context, userID string, includeArchived bool) ([]internal.Habit, error) {
	query := `SELECT ` + pgHabitColumns + ` FROM habits WHERE user_id = $1`
	if !includeArchived {
		query += ` AND NOT archived`
	}
	return p.queryHabits(ctx, query+` ORDER BY created_at, id`, userID)
}

func (p *PostgresStorage) ListHabitsWithReminders(ctx context.Context) ([]internal.Habit, error) {
	return p.queryHabits(ctx, `SELECT `+pgHabitColumns+` FROM habits
		WHERE reminder_time <> '' AND NOT archived ORDER BY created_at, id`)
}

func (p *PostgresStorage) UpdateHabit(ctx context.Context, id string, fn HabitMutation) (*internal.Habit, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storeErr("begin", err)
	}
	defer tx.Rollback(ctx)

	current, err := p.getHabit(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	working := cloneHabit(current)
	if err := fn(ctx, working, &pgHabitTx{tx: tx, habitID: id}); err != nil {
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
	if _, err := tx.Exec(ctx, `UPDATE habits SET name = $1, category = $2, color_hex = $3, priority = $4,
		frequency_type = $5, weekly_goal = $6, specific_days = $7, reminder_time = $8, streak = $9,
		longest_streak = $10, total_completions = $11, last_completion_date = $12, archived = $13 WHERE id = $14`,
		working.Name, working.Category, working.ColorHex, working.Priority, string(working.Frequency.Type),
		working.Frequency.WeeklyGoal, days, working.ReminderTime, working.Streak, working.LongestStreak,
		working.TotalCompletions, working.LastCompletionDate, working.Archived, id); err != nil {
		p.logger.Errorf("failed to update habit %s: %v", id, err)
		return nil, storeErr("update habit", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit", err)
	}
	return working, nil
}

func (p *PostgresStorage) DeleteHabit(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM habits WHERE id = $1`, id)
	if err != nil {
		p.logger.Errorf("failed to delete habit %s: %v", id, err)
		return storeErr("delete habit", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: habit %s", internal.ErrNotFound, id)
	}
	return nil
}

type pgHabitTx struct {
	tx      pgx.Tx
	habitID string
}

func scanPgCompletion(row rowScanner) (*internal.HabitCompletion, error) {
	var c internal.HabitCompletion
	if err := row.Scan(&c.ID, &c.HabitID, &c.UserID, &c.Date, &c.Completed, &c.Timestamp); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgHabitTx) Completion(ctx context.Context, date string) (*internal.HabitCompletion, error) {
	c, err := scanPgCompletion(t.tx.QueryRow(ctx,
		`SELECT id, habit_id, user_id, date, completed, timestamp FROM completions WHERE habit_id = $1 AND date = $2`,
		t.habitID, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get completion", err)
	}
	return c, nil
}

func (t *pgHabitTx) PutCompletion(ctx context.Context, c *internal.HabitCompletion) error {
	if c.HabitID != t.habitID {
		return fmt.Errorf("%w: completion belongs to habit %s", internal.ErrValidation, c.HabitID)
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO completions (id, habit_id, user_id, date, completed, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (habit_id, date) DO UPDATE SET completed = EXCLUDED.completed, timestamp = EXCLUDED.timestamp`,
		c.ID, c.HabitID, c.UserID, c.Date, c.Completed, c.Timestamp)
	if err != nil {
		return storeErr("put completion", err)
	}
	return nil
}

func (t *pgHabitTx) DeleteCompletion(ctx context.Context, date string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM completions WHERE habit_id = $1 AND date = $2`, t.habitID, date); err != nil {
		return storeErr("delete completion", err)
	}
	return nil
}

func (t *pgHabitTx) CompletionDatesBefore(ctx context.Context, date string, limit int) ([]string, error) {
	query := `SELECT date FROM completions WHERE habit_id = $1 AND date < $2 ORDER BY date DESC`
	args := []any{t.habitID, date}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list completion dates", err)
	}
	dates, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeErr("scan completion date", err)
	}
	return dates, nil
}

// --- CompletionRepository ---
func (p *PostgresStorage) ListCompletions(ctx context.Context, q CompletionQuery) ([]internal.HabitCompletion, error) {
	query := `SELECT id, habit_id, user_id, date, completed, timestamp FROM completions WHERE user_id = $1`
	args := []any{q.UserID}
	if q.HabitID != "" {
		args = append(args, q.HabitID)
		query += fmt.Sprintf(` AND habit_id = $%d`, len(args))
	}
	if q.From != "" {
		args = append(args, q.From)
		query += fmt.Sprintf(` AND date >= $%d`, len(args))
	}
	if q.To != "" {
		args = append(args, q.To)
		query += fmt.Sprintf(` AND date <= $%d`, len(args))
	}
	rows, err := p.pool.Query(ctx, query+` ORDER BY date, habit_id`, args...)
	if err != nil {
		p.logger.Errorf("failed to query completions: %v", err)
		return nil, storeErr("list completions", err)
	}
	defer rows.Close()

	completions := []internal.HabitCompletion{}
	for rows.Next() {
		c, err := scanPgCompletion(rows)
		if err != nil {
			return nil, storeErr("scan completion", err)
		}
		completions = append(completions, *c)
	}
	return completions, rows.Err()
}

// --- ChallengeRepository ---
const pgChallengeColumns = `id, name, description, goal_description, owner_id, start_date, end_date, active, version`

func (p *PostgresStorage) CreateChallenge(ctx context.Context, challenge *internal.Challenge) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storeErr("begin", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO challenges (`+pgChallengeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		challenge.ID, challenge.Name, challenge.Description, challenge.GoalDescription, challenge.OwnerID,
		challenge.StartDate, challenge.EndDate, challenge.Active, challenge.Version)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("%w: challenge %s already exists", internal.ErrConflict, challenge.ID)
		}
		p.logger.Errorf("failed to insert challenge: %v", err)
		return storeErr("insert challenge", err)
	}
	if err := writePgParticipants(ctx, tx, challenge); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

func writePgParticipants(ctx context.Context, tx pgx.Tx, c *internal.Challenge) error {
	if _, err := tx.Exec(ctx, `DELETE FROM challenge_participants WHERE challenge_id = $1`, c.ID); err != nil {
		return storeErr("clear participants", err)
	}
	batch := &pgx.Batch{}
	for pos, pp := range participantRows(c) {
		batch.Queue(`INSERT INTO challenge_participants
			(challenge_id, user_id, position, user_name, progress, current_streak, longest_streak, last_participation_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, pp.UserID, pos, pp.UserName, pp.Progress, pp.CurrentStreak, pp.LongestStreak, pp.LastParticipationDate)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return storeErr("insert participants", err)
	}
	return nil
}

func (p *PostgresStorage) loadParticipants(ctx context.Context, q pgRunner, c *internal.Challenge) error {
	rows, err := q.Query(ctx, `SELECT user_id, user_name, progress, current_streak, longest_streak, last_participation_date
		FROM challenge_participants WHERE challenge_id = $1 ORDER BY position`, c.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	c.ParticipantIDs = []string{}
	c.Progress = []internal.ParticipantProgress{}
	for rows.Next() {
		var pp internal.ParticipantProgress
		if err := rows.Scan(&pp.UserID, &pp.UserName, &pp.Progress, &pp.CurrentStreak, &pp.LongestStreak, &pp.LastParticipationDate); err != nil {
			return err
		}
		c.ParticipantIDs = append(c.ParticipantIDs, pp.UserID)
		c.Progress = append(c.Progress, pp)
	}
	return rows.Err()
}

func scanPgChallenge(row rowScanner) (*internal.Challenge, error) {
	var c internal.Challenge
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.GoalDescription, &c.OwnerID,
		&c.StartDate, &c.EndDate, &c.Active, &c.Version); err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *PostgresStorage) getChallenge(ctx context.Context, q pgRunner, id string, forUpdate bool) (*internal.Challenge, error) {
	query := `SELECT ` + pgChallengeColumns + ` FROM challenges WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanPgChallenge(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: challenge %s", internal.ErrNotFound, id)
	}
	if err == nil {
		err = p.loadParticipants(ctx, q, c)
	}
	if err != nil {
		p.logger.Errorf("failed to load challenge %s: %v", id, err)
		return nil, storeErr("get challenge", err)
	}
	return c, nil
}

func (p *PostgresStorage) GetChallenge(ctx context.Context, id string) (*internal.Challenge, error) {
	return p.getChallenge(ctx, p.pool, id, false)
}

func (p *PostgresStorage) ListActiveChallenges(ctx context.Context) ([]internal.Challenge, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+pgChallengeColumns+` FROM challenges WHERE active ORDER BY start_date DESC, id`)
	if err != nil {
		p.logger.Errorf("failed to query challenges: %v", err)
		return nil, storeErr("list challenges", err)
	}
	var challenges []*internal.Challenge
	for rows.Next() {
		c, err := scanPgChallenge(rows)
		if err != nil {
			rows.Close()
			return nil, storeErr("scan challenge", err)
		}
		challenges = append(challenges, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("list challenges", err)
	}

	result := make([]internal.Challenge, 0, len(challenges))
	for _, c := range challenges {
		if err := p.loadParticipants(ctx, p.pool, c); err != nil {
			return nil, storeErr("list participants", err)
		}
		result = append(result, *c)
	}
	return result, nil
}

func (p *PostgresStorage) UpdateChallenge(ctx context.Context, id string, fn ChallengeMutation) (*internal.Challenge, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storeErr("begin", err)
	}
	defer tx.Rollback(ctx)

	current, err := p.getChallenge(ctx, tx, id, true)
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

	if _, err := tx.Exec(ctx, `UPDATE challenges SET name = $1, description = $2, goal_description = $3,
		end_date = $4, active = $5, version = $6 WHERE id = $7`,
		working.Name, working.Description, working.GoalDescription, working.EndDate, working.Active, working.Version, id); err != nil {
		p.logger.Errorf("failed to update challenge %s: %v", id, err)
		return nil, storeErr("update challenge", err)
	}
	if err := writePgParticipants(ctx, tx, working); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit", err)
	}
	return normalizeParticipants(working), nil
}

// --- UserRepository ---
func (p *PostgresStorage) GetProfile(ctx context.Context, userID string) (*internal.UserProfile, error) {
	var up internal.UserProfile
	err := p.pool.QueryRow(ctx, `SELECT id, display_name, email, photo_url, age_group, membership_status
		FROM profiles WHERE id = $1`, userID).Scan(&up.ID, &up.DisplayName, &up.Email, &up.PhotoURL, &up.AgeGroup, &up.MembershipStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: profile %s", internal.ErrNotFound, userID)
	}
	if err != nil {
		return nil, storeErr("get profile", err)
	}
	return &up, nil
}

func (p *PostgresStorage) SaveProfile(ctx context.Context, profile *internal.UserProfile) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO profiles (id, display_name, email, photo_url, age_group, membership_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, email = EXCLUDED.email,
			photo_url = EXCLUDED.photo_url, age_group = EXCLUDED.age_group, membership_status = EXCLUDED.membership_status`,
		profile.ID, profile.DisplayName, profile.Email, profile.PhotoURL, profile.AgeGroup, profile.MembershipStatus)
	if err != nil {
		p.logger.Errorf("failed to save profile %s: %v", profile.ID, err)
		return storeErr("save profile", err)
	}
	return nil
}

func (p *PostgresStorage) CreateAccount(ctx context.Context, account *internal.Account) error {
	_, err := p.pool.Exec(ctx, `INSERT INTO accounts (user_id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		account.UserID, account.Email, account.PasswordHash, account.CreatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("%w: email already registered", internal.ErrConflict)
		}
		return storeErr("create account", err)
	}
	return nil
}

func (p *PostgresStorage) GetAccountByEmail(ctx context.Context, email string) (*internal.Account, error) {
	var a internal.Account
	err := p.pool.QueryRow(ctx, `SELECT user_id, email, password_hash, created_at FROM accounts WHERE LOWER(email) = LOWER($1)`,
		email).Scan(&a.UserID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", internal.ErrNotFound, email)
	}
	if err != nil {
		return nil, storeErr("get account", err)
	}
	return &a, nil
}

// --- Compile-time assertions ---
var _ HabitRepository = (*PostgresStorage)(nil)
var _ CompletionRepository = (*PostgresStorage)(nil)
var _ ChallengeRepository = (*PostgresStorage)(nil)
var _ UserRepository = (*PostgresStorage)(nil)
var _ HabitTx = (*pgHabitTx)(nil)
