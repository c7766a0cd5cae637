package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zhenyuanlu/haybeat/internal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// maxChallengeRetries bounds the compare-and-replace loop of UpdateChallenge.
const maxChallengeRetries = 5

// MongoStorage keeps each entity in its own collection. Habit mutations run
// in multi-document transactions, which need a replica set deployment.
type MongoStorage struct {
	client      *mongo.Client
	habits      *mongo.Collection
	completions *mongo.Collection
	challenges  *mongo.Collection
	profiles    *mongo.Collection
	accounts    *mongo.Collection
	logger      internal.Logger
}

type mongoAccount struct {
	internal.Account `bson:",inline"`
	EmailKey         string `bson:"email_key"`
}

func NewMongoStorage(ctx context.Context, uri, database string, logger internal.Logger) (*MongoStorage, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		logger.Errorf("failed to connect to mongo: %v", err)
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		logger.Errorf("failed to ping mongo: %v", err)
		return nil, err
	}
	db := client.Database(database)
	m := &MongoStorage{
		client:      client,
		habits:      db.Collection("habits"),
		completions: db.Collection("completions"),
		challenges:  db.Collection("challenges"),
		profiles:    db.Collection("profiles"),
		accounts:    db.Collection("accounts"),
		logger:      logger,
	}
	if err := m.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

func (m *MongoStorage) ensureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{m.habits, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}}}},
		{m.completions, mongo.IndexModel{
			Keys:    bson.D{{Key: "habit_id", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{m.completions, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: 1}}}},
		{m.challenges, mongo.IndexModel{Keys: bson.D{{Key: "active", Value: 1}, {Key: "start_date", Value: -1}}}},
		{m.accounts, mongo.IndexModel{
			Keys:    bson.D{{Key: "email_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			m.logger.Errorf("failed to create index on %s: %v", idx.coll.Name(), err)
			return storeErr("create index", err)
		}
	}
	return nil
}

func (m *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// inTransaction runs fn in a session transaction. fn may be retried by the
// driver on transient errors, so it must rebuild any state it mutates.
func (m *MongoStorage) inTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := m.client.StartSession()
	if err != nil {
		return storeErr("start session", err)
	}
	defer session.EndSession(ctx)
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// --- HabitRepository ---
func (m *MongoStorage) CreateHabit(ctx context.Context, habit *internal.Habit) error {
	if _, err := m.habits.InsertOne(ctx, habit); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: habit %s already exists", internal.ErrConflict, habit.ID)
		}
		m.logger.Errorf("failed to insert habit: %v", err)
		return storeErr("insert habit", err)
	}
	return nil
}

func (m *MongoStorage) GetHabit(ctx context.Context, id string) (*internal.Habit, error) {
	var h internal.Habit
	err := m.habits.FindOne(ctx, bson.M{"_id": id}).Decode(&h)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: habit %s", internal.ErrNotFound, id)
	}
	if err != nil {
		m.logger.Errorf("failed to load habit %s: %v", id, err)
		return nil, storeErr("get habit", err)
	}
	return &h, nil
}

func (m *MongoStorage) findHabits(ctx context.Context, filter bson.M) ([]internal.Habit, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := m.habits.Find(ctx, filter, opts)
	if err != nil {
		m.logger.Errorf("failed to query habits: %v", err)
		return nil, storeErr("list habits", err)
	}
	habits := []internal.Habit{}
	if err := cur.All(ctx, &habits); err != nil {
		return nil, storeErr("decode habits", err)
	}
	return habits, nil
}

func (m *MongoStorage) ListHabits(ctx context.Context, userID string, includeArchived bool) ([]internal.Habit, error) {
	filter := bson.M{"user_id": userID}
	if !includeArchived {
		filter["archived"] = false
	}
	return m.findHabits(ctx, filter)
}

func (m *MongoStorage) ListHabitsWithReminders(ctx context.Context) ([]internal.Habit, error) {
	return m.findHabits(ctx, bson.M{
		"reminder_time": bson.M{"$exists": true, "$ne": ""},
		"archived":      false,
	})
}

func (m *MongoStorage) UpdateHabit(ctx context.Context, id string, fn HabitMutation) (*internal.Habit, error) {
	var result *internal.Habit
	err := m.inTransaction(ctx, func(sc mongo.SessionContext) error {
		var current internal.Habit
		err := m.habits.FindOne(sc, bson.M{"_id": id}).Decode(&current)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("%w: habit %s", internal.ErrNotFound, id)
		}
		if err != nil {
			return storeErr("get habit", err)
		}
		working := cloneHabit(&current)
		if err := fn(sc, working, &mongoHabitTx{m: m, sc: sc, habitID: id}); err != nil {
			if errors.Is(err, ErrNoChange) {
				result = &current
			}
			return err
		}
		working.ID, working.UserID = current.ID, current.UserID
		if _, err := m.habits.ReplaceOne(sc, bson.M{"_id": id}, working); err != nil {
			return storeErr("update habit", err)
		}
		result = working
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return result, nil
	}
	if err != nil {
		if !errors.Is(err, internal.ErrNotFound) {
			m.logger.Errorf("failed to update habit %s: %v", id, err)
		}
		return nil, err
	}
	return result, nil
}

func (m *MongoStorage) DeleteHabit(ctx context.Context, id string) error {
	err := m.inTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := m.habits.DeleteOne(sc, bson.M{"_id": id})
		if err != nil {
			return storeErr("delete habit", err)
		}
		if res.DeletedCount == 0 {
			return fmt.Errorf("%w: habit %s", internal.ErrNotFound, id)
		}
		if _, err := m.completions.DeleteMany(sc, bson.M{"habit_id": id}); err != nil {
			return storeErr("delete completions", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, internal.ErrNotFound) {
		m.logger.Errorf("failed to delete habit %s: %v", id, err)
	}
	return err
}

type mongoHabitTx struct {
	m       *MongoStorage
	sc      mongo.SessionContext
	habitID string
}

func (t *mongoHabitTx) Completion(ctx context.Context, date string) (*internal.HabitCompletion, error) {
	var c internal.HabitCompletion
	err := t.m.completions.FindOne(t.sc, bson.M{"habit_id": t.habitID, "date": date}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get completion", err)
	}
	return &c, nil
}

func (t *mongoHabitTx) PutCompletion(ctx context.Context, c *internal.HabitCompletion) error {
	if c.HabitID != t.habitID {
		return fmt.Errorf("%w: completion belongs to habit %s", internal.ErrValidation, c.HabitID)
	}
	_, err := t.m.completions.ReplaceOne(t.sc, bson.M{"_id": c.ID}, c, options.Replace().SetUpsert(true))
	if err != nil {
		return storeErr("put completion", err)
	}
	return nil
}

func (t *mongoHabitTx) DeleteCompletion(ctx context.Context, date string) error {
	if _, err := t.m.completions.DeleteOne(t.sc, bson.M{"habit_id": t.habitID, "date": date}); err != nil {
		return storeErr("delete completion", err)
	}
	return nil
}

func (t *mongoHabitTx) CompletionDatesBefore(ctx context.Context, date string, limit int) ([]string, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: -1}}).
		SetProjection(bson.M{"date": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := t.m.completions.Find(t.sc, bson.M{"habit_id": t.habitID, "date": bson.M{"$lt": date}}, opts)
	if err != nil {
		return nil, storeErr("list completion dates", err)
	}
	var docs []struct {
		Date string `bson:"date"`
	}
	if err := cur.All(t.sc, &docs); err != nil {
		return nil, storeErr("decode completion dates", err)
	}
	dates := make([]string, len(docs))
	for i, d := range docs {
		dates[i] = d.Date
	}
	return dates, nil
}

// --- CompletionRepository ---
func (m *MongoStorage) ListCompletions(ctx context.Context, q CompletionQuery) ([]internal.HabitCompletion, error) {
	filter := bson.M{"user_id": q.UserID}
	if q.HabitID != "" {
		filter["habit_id"] = q.HabitID
	}
	dateRange := bson.M{}
	if q.From != "" {
		dateRange["$gte"] = q.From
	}
	if q.To != "" {
		dateRange["$lte"] = q.To
	}
	if len(dateRange) > 0 {
		filter["date"] = dateRange
	}
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "habit_id", Value: 1}})
	cur, err := m.completions.Find(ctx, filter, opts)
	if err != nil {
		m.logger.Errorf("failed to query completions: %v", err)
		return nil, storeErr("list completions", err)
	}
	completions := []internal.HabitCompletion{}
	if err := cur.All(ctx, &completions); err != nil {
		return nil, storeErr("decode completions", err)
	}
	return completions, nil
}

// --- ChallengeRepository ---
func (m *MongoStorage) CreateChallenge(ctx context.Context, challenge *internal.Challenge) error {
	if _, err := m.challenges.InsertOne(ctx, challenge); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: challenge %s already exists", internal.ErrConflict, challenge.ID)
		}
		m.logger.Errorf("failed to insert challenge: %v", err)
		return storeErr("insert challenge", err)
	}
	return nil
}

func (m *MongoStorage) GetChallenge(ctx context.Context, id string) (*internal.Challenge, error) {
	var c internal.Challenge
	err := m.challenges.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: challenge %s", internal.ErrNotFound, id)
	}
	if err != nil {
		m.logger.Errorf("failed to load challenge %s: %v", id, err)
		return nil, storeErr("get challenge", err)
	}
	return &c, nil
}

func (m *MongoStorage) ListActiveChallenges(ctx context.Context) ([]internal.Challenge, error) {
	opts := options.Find().SetSort(bson.D{{Key: "start_date", Value: -1}, {Key: "_id", Value: 1}})
	cur, err := m.challenges.Find(ctx, bson.M{"active": true}, opts)
	if err != nil {
		m.logger.Errorf("failed to query challenges: %v", err)
		return nil, storeErr("list challenges", err)
	}
	challenges := []internal.Challenge{}
	if err := cur.All(ctx, &challenges); err != nil {
		return nil, storeErr("decode challenges", err)
	}
	return challenges, nil
}

// UpdateChallenge replaces the document only if its version is unchanged
// since it was read, retrying a bounded number of times.
func (m *MongoStorage) UpdateChallenge(ctx context.Context, id string, fn ChallengeMutation) (*internal.Challenge, error) {
	for attempt := 0; attempt < maxChallengeRetries; attempt++ {
		current, err := m.GetChallenge(ctx, id)
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

		res, err := m.challenges.ReplaceOne(ctx, bson.M{"_id": id, "version": current.Version}, working)
		if err != nil {
			m.logger.Errorf("failed to update challenge %s: %v", id, err)
			return nil, storeErr("update challenge", err)
		}
		if res.MatchedCount == 1 {
			return working, nil
		}
		m.logger.Debugf("challenge %s changed concurrently, retrying (attempt %d)", id, attempt+1)
	}
	return nil, fmt.Errorf("%w: challenge %s was modified concurrently", internal.ErrConflict, id)
}

// --- UserRepository ---
func (m *MongoStorage) GetProfile(ctx context.Context, userID string) (*internal.UserProfile, error) {
	var p internal.UserProfile
	err := m.profiles.FindOne(ctx, bson.M{"_id": userID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: profile %s", internal.ErrNotFound, userID)
	}
	if err != nil {
		return nil, storeErr("get profile", err)
	}
	return &p, nil
}

func (m *MongoStorage) SaveProfile(ctx context.Context, profile *internal.UserProfile) error {
	_, err := m.profiles.ReplaceOne(ctx, bson.M{"_id": profile.ID}, profile, options.Replace().SetUpsert(true))
	if err != nil {
		m.logger.Errorf("failed to save profile %s: %v", profile.ID, err)
		return storeErr("save profile", err)
	}
	return nil
}

func (m *MongoStorage) CreateAccount(ctx context.Context, account *internal.Account) error {
	doc := mongoAccount{Account: *account, EmailKey: strings.ToLower(account.Email)}
	if _, err := m.accounts.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: email already registered", internal.ErrConflict)
		}
		return storeErr("create account", err)
	}
	return nil
}

func (m *MongoStorage) GetAccountByEmail(ctx context.Context, email string) (*internal.Account, error) {
	var doc mongoAccount
	err := m.accounts.FindOne(ctx, bson.M{"email_key": strings.ToLower(email)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: account %s", internal.ErrNotFound, email)
	}
	if err != nil {
		return nil, storeErr("get account", err)
	}
	return &doc.Account, nil
}

// --- Compile-time assertions ---
var _ HabitRepository = (*MongoStorage)(nil)
var _ CompletionRepository = (*MongoStorage)(nil)
var _ ChallengeRepository = (*MongoStorage)(nil)
var _ UserRepository = (*MongoStorage)(nil)
var _ HabitTx = (*mongoHabitTx)(nil)
