package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zhenyuanlu/haybeat/internal"
)

const fileSaveDelay = 500 * time.Millisecond

// FileStorage keeps every collection in memory and persists each one to its
// own JSON file. Writes are batched by a per-file save worker.
type FileStorage struct {
	habits      map[string]*internal.Habit                      // id -> Habit
	completions map[string]map[string]*internal.HabitCompletion // habitID -> date -> completion
	challenges  map[string]*internal.Challenge                  // id -> Challenge
	profiles    map[string]*internal.UserProfile                // userID -> profile
	accounts    map[string]*internal.Account                    // lower(email) -> account
	mu          sync.RWMutex

	habitsFile      *fileCollection
	completionsFile *fileCollection
	challengesFile  *fileCollection
	profilesFile    *fileCollection
	accountsFile    *fileCollection

	shutdownChan chan struct{}
	workers      sync.WaitGroup
	closeOnce    sync.Once
	logger       internal.Logger
}

type fileCollection struct {
	path     string
	saveChan chan struct{}
	snapshot func() interface{}
}

func NewFileStorage(dir string, logger internal.Logger) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("storage: creating data dir: %w", err)
	}
	s := &FileStorage{
		habits:       make(map[string]*internal.Habit),
		completions:  make(map[string]map[string]*internal.HabitCompletion),
		challenges:   make(map[string]*internal.Challenge),
		profiles:     make(map[string]*internal.UserProfile),
		accounts:     make(map[string]*internal.Account),
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}
	s.habitsFile = s.newCollection(filepath.Join(dir, "habits.json"), s.snapshotHabits)
	s.completionsFile = s.newCollection(filepath.Join(dir, "completions.json"), s.snapshotCompletions)
	s.challengesFile = s.newCollection(filepath.Join(dir, "challenges.json"), s.snapshotChallenges)
	s.profilesFile = s.newCollection(filepath.Join(dir, "profiles.json"), s.snapshotProfiles)
	s.accountsFile = s.newCollection(filepath.Join(dir, "accounts.json"), s.snapshotAccounts)

	if err := s.load(); err != nil {
		logger.Errorf("storage: failed to load data: %v", err)
		return nil, err
	}

	for _, c := range s.collections() {
		s.workers.Add(1)
		go s.saveWorker(c)
	}
	return s, nil
}

func (s *FileStorage) newCollection(path string, snapshot func() interface{}) *fileCollection {
	return &fileCollection{path: path, saveChan: make(chan struct{}, 1), snapshot: snapshot}
}

func (s *FileStorage) collections() []*fileCollection {
	return []*fileCollection{s.habitsFile, s.completionsFile, s.challengesFile, s.profilesFile, s.accountsFile}
}

func readJSONFile(path string, v interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()
	if err := json.NewDecoder(file).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func (s *FileStorage) load() error {
	var habits []*internal.Habit
	if err := readJSONFile(s.habitsFile.path, &habits); err != nil {
		return err
	}
	var completions []*internal.HabitCompletion
	if err := readJSONFile(s.completionsFile.path, &completions); err != nil {
		return err
	}
	var challenges []*internal.Challenge
	if err := readJSONFile(s.challengesFile.path, &challenges); err != nil {
		return err
	}
	var profiles []*internal.UserProfile
	if err := readJSONFile(s.profilesFile.path, &profiles); err != nil {
		return err
	}
	var accounts []*internal.Account
	if err := readJSONFile(s.accountsFile.path, &accounts); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range habits {
		s.habits[h.ID] = h
	}
	for _, c := range completions {
		s.putCompletionLocked(c)
	}
	for _, c := range challenges {
		s.challenges[c.ID] = c
	}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	for _, a := range accounts {
		s.accounts[strings.ToLower(a.Email)] = a
	}
	return nil
}

func atomicWriteFileJSON(filePath string, data interface{}) error {
	tempFile := filePath + ".tmp"
	f, err := os.Create(tempFile)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		f.Close()
		os.Remove(tempFile)
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempFile)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tempFile)
		return err
	}

	return os.Rename(tempFile, filePath)
}

func (s *FileStorage) snapshotHabits() interface{} {
	habits := make([]*internal.Habit, 0, len(s.habits))
	for _, h := range s.habits {
		habits = append(habits, h)
	}
	sort.Slice(habits, func(i, j int) bool { return habits[i].ID < habits[j].ID })
	return habits
}

func (s *FileStorage) snapshotCompletions() interface{} {
	completions := make([]*internal.HabitCompletion, 0)
	for _, byDate := range s.completions {
		for _, c := range byDate {
			completions = append(completions, c)
		}
	}
	sort.Slice(completions, func(i, j int) bool { return completions[i].ID < completions[j].ID })
	return completions
}

func (s *FileStorage) snapshotChallenges() interface{} {
	challenges := make([]*internal.Challenge, 0, len(s.challenges))
	for _, c := range s.challenges {
		challenges = append(challenges, c)
	}
	sort.Slice(challenges, func(i, j int) bool { return challenges[i].ID < challenges[j].ID })
	return challenges
}

func (s *FileStorage) snapshotProfiles() interface{} {
	profiles := make([]*internal.UserProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	return profiles
}

func (s *FileStorage) snapshotAccounts() interface{} {
	accounts := make([]*internal.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].UserID < accounts[j].UserID })
	return accounts
}

func (s *FileStorage) save(c *fileCollection) error {
	s.mu.RLock()
	data, err := json.Marshal(c.snapshot())
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return atomicWriteFileJSON(c.path, json.RawMessage(data))
}

// saveWorker batches save requests for one collection to avoid frequent
// disk writes.
func (s *FileStorage) saveWorker(c *fileCollection) {
	defer s.workers.Done()
	timer := time.NewTimer(fileSaveDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-c.saveChan:
			timer.Reset(fileSaveDelay)
		case <-timer.C:
			if err := s.save(c); err != nil {
				s.logger.Errorf("storage: error saving %s: %v", c.path, err)
			}
		case <-s.shutdownChan:
			return
		}
	}
}

func (s *FileStorage) signal(cs ...*fileCollection) {
	for _, c := range cs {
		select {
		case c.saveChan <- struct{}{}:
		default:
		}
	}
}

// Close stops the save workers and writes every collection synchronously.
func (s *FileStorage) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.shutdownChan)
		s.workers.Wait()
		for _, c := range s.collections() {
			if saveErr := s.save(c); saveErr != nil && err == nil {
				err = saveErr
			}
		}
	})
	return err
}

// --- HabitRepository ---
func (s *FileStorage) CreateHabit(ctx context.Context, habit *internal.Habit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.habits[habit.ID]; exists {
		return fmt.Errorf("%w: habit %s already exists", internal.ErrConflict, habit.ID)
	}
	s.habits[habit.ID] = cloneHabit(habit)
	s.signal(s.habitsFile)
	return nil
}

func (s *FileStorage) GetHabit(ctx context.Context, id string) (*internal.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.habits[id]
	if !ok {
		return nil, fmt.Errorf("%w: habit %s", internal.ErrNotFound, id)
	}
	return cloneHabit(h), nil
}

func (s *FileStorage) ListHabits(ctx context.Context, userID string, includeArchived bool) ([]internal.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	habits := []internal.Habit{}
	for _, h := range s.habits {
		if h.UserID != userID || (h.Archived && !includeArchived) {
			continue
		}
		habits = append(habits, *cloneHabit(h))
	}
	sortHabits(habits)
	return habits, nil
}

func (s *FileStorage) ListHabitsWithReminders(ctx context.Context) ([]internal.Habit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	habits := []internal.Habit{}
	for _, h := range s.habits {
		if h.ReminderTime == "" || h.Archived {
			continue
		}
		habits = append(habits, *cloneHabit(h))
	}
	sortHabits(habits)
	return habits, nil
}

func (s *FileStorage) UpdateHabit(ctx context.Context, id string, fn HabitMutation) (*internal.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.habits[id]
	if !ok {
		return nil, fmt.Errorf("%w: habit %s", internal.ErrNotFound, id)
	}

	working := cloneHabit(current)
	tx := &fileHabitTx{s: s, habitID: id, userID: current.UserID, staged: map[string]*internal.HabitCompletion{}}
	if err := fn(ctx, working, tx); err != nil {
		if errors.Is(err, ErrNoChange) {
			return cloneHabit(current), nil
		}
		return nil, err
	}
	working.ID, working.UserID = current.ID, current.UserID

	s.habits[id] = working
	for date, c := range tx.staged {
		if c == nil {
			s.deleteCompletionLocked(id, date)
		} else {
			s.putCompletionLocked(c)
		}
	}
	s.signal(s.habitsFile)
	if len(tx.staged) > 0 {
		s.signal(s.completionsFile)
	}
	return cloneHabit(working), nil
}

func (s *FileStorage) DeleteHabit(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.habits[id]; !ok {
		return fmt.Errorf("%w: habit %s", internal.ErrNotFound, id)
	}
	delete(s.habits, id)
	delete(s.completions, id)
	s.signal(s.habitsFile, s.completionsFile)
	return nil
}

func (s *FileStorage) putCompletionLocked(c *internal.HabitCompletion) {
	byDate := s.completions[c.HabitID]
	if byDate == nil {
		byDate = make(map[string]*internal.HabitCompletion)
		s.completions[c.HabitID] = byDate
	}
	byDate[c.Date] = c
}

func (s *FileStorage) deleteCompletionLocked(habitID, date string) {
	if byDate := s.completions[habitID]; byDate != nil {
		delete(byDate, date)
		if len(byDate) == 0 {
			delete(s.completions, habitID)
		}
	}
}

// fileHabitTx stages completion writes over the committed map. A nil
// staged entry is a pending delete.
type fileHabitTx struct {
	s       *FileStorage
	habitID string
	userID  string
	staged  map[string]*internal.HabitCompletion
}

func (tx *fileHabitTx) Completion(ctx context.Context, date string) (*internal.HabitCompletion, error) {
	if c, ok := tx.staged[date]; ok {
		if c == nil {
			return nil, nil
		}
		cp := *c
		return &cp, nil
	}
	if c, ok := tx.s.completions[tx.habitID][date]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (tx *fileHabitTx) PutCompletion(ctx context.Context, c *internal.HabitCompletion) error {
	if c.HabitID != tx.habitID {
		return fmt.Errorf("%w: completion belongs to habit %s", internal.ErrValidation, c.HabitID)
	}
	cp := *c
	tx.staged[c.Date] = &cp
	return nil
}

func (tx *fileHabitTx) DeleteCompletion(ctx context.Context, date string) error {
	tx.staged[date] = nil
	return nil
}

func (tx *fileHabitTx) CompletionDatesBefore(ctx context.Context, date string, limit int) ([]string, error) {
	var dates []string
	for d := range tx.s.completions[tx.habitID] {
		if _, overridden := tx.staged[d]; !overridden && d < date {
			dates = append(dates, d)
		}
	}
	for d, c := range tx.staged {
		if c != nil && d < date {
			dates = append(dates, d)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if limit > 0 && len(dates) > limit {
		dates = dates[:limit]
	}
	return dates, nil
}

// --- CompletionRepository ---
func (s *FileStorage) ListCompletions(ctx context.Context, q CompletionQuery) ([]internal.HabitCompletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	completions := []internal.HabitCompletion{}
	for habitID, byDate := range s.completions {
		if q.HabitID != "" && habitID != q.HabitID {
			continue
		}
		for date, c := range byDate {
			if c.UserID != q.UserID || (q.From != "" && date < q.From) || (q.To != "" && date > q.To) {
				continue
			}
			completions = append(completions, *c)
		}
	}
	sortCompletions(completions)
	return completions, nil
}

// --- ChallengeRepository ---
func (s *FileStorage) CreateChallenge(ctx context.Context, challenge *internal.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.challenges[challenge.ID]; exists {
		return fmt.Errorf("%w: challenge %s already exists", internal.ErrConflict, challenge.ID)
	}
	s.challenges[challenge.ID] = cloneChallenge(challenge)
	s.signal(s.challengesFile)
	return nil
}

func (s *FileStorage) GetChallenge(ctx context.Context, id string) (*internal.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.challenges[id]
	if !ok {
		return nil, fmt.Errorf("%w: challenge %s", internal.ErrNotFound, id)
	}
	return cloneChallenge(c), nil
}

func (s *FileStorage) ListActiveChallenges(ctx context.Context) ([]internal.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	challenges := []internal.Challenge{}
	for _, c := range s.challenges {
		if c.Active {
			challenges = append(challenges, *cloneChallenge(c))
		}
	}
	sortChallenges(challenges)
	return challenges, nil
}

func (s *FileStorage) UpdateChallenge(ctx context.Context, id string, fn ChallengeMutation) (*internal.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.challenges[id]
	if !ok {
		return nil, fmt.Errorf("%w: challenge %s", internal.ErrNotFound, id)
	}
	working := cloneChallenge(current)
	if err := fn(ctx, working); err != nil {
		if errors.Is(err, ErrNoChange) {
			return cloneChallenge(current), nil
		}
		return nil, err
	}
	working.ID = current.ID
	working.Version = current.Version + 1
	s.challenges[id] = working
	s.signal(s.challengesFile)
	return cloneChallenge(working), nil
}

// --- UserRepository ---
func (s *FileStorage) GetProfile(ctx context.Context, userID string) (*internal.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("%w: profile %s", internal.ErrNotFound, userID)
	}
	cp := *p
	return &cp, nil
}

func (s *FileStorage) SaveProfile(ctx context.Context, profile *internal.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *profile
	s.profiles[profile.ID] = &cp
	s.signal(s.profilesFile)
	return nil
}

func (s *FileStorage) CreateAccount(ctx context.Context, account *internal.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(account.Email)
	if _, exists := s.accounts[key]; exists {
		return fmt.Errorf("%w: email already registered", internal.ErrConflict)
	}
	cp := *account
	s.accounts[key] = &cp
	s.signal(s.accountsFile)
	return nil
}

func (s *FileStorage) GetAccountByEmail(ctx context.Context, email string) (*internal.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", internal.ErrNotFound, email)
	}
	cp := *a
	return &cp, nil
}

// --- Compile-time assertions ---
var _ HabitRepository = (*FileStorage)(nil)
var _ CompletionRepository = (*FileStorage)(nil)
var _ ChallengeRepository = (*FileStorage)(nil)
var _ UserRepository = (*FileStorage)(nil)
var _ HabitTx = (*fileHabitTx)(nil)
