package storage

import (
	"context"
	"fmt"

	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/config"
)

type backend interface {
	HabitRepository
	CompletionRepository
	ChallengeRepository
	UserRepository
	Close() error
}

func repositoriesFor(b backend) *Repositories {
	return &Repositories{Habits: b, Completions: b, Challenges: b, Users: b, Close: b.Close}
}

func NewFileRepositories(dir string, logger internal.Logger) (*Repositories, error) {
	s, err := NewFileStorage(dir, logger)
	if err != nil {
		return nil, err
	}
	return repositoriesFor(s), nil
}

func NewSQLiteRepositories(path string, logger internal.Logger) (*Repositories, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := MigrateSQLite(db, logger); err != nil {
		db.Close()
		return nil, err
	}
	return repositoriesFor(NewSQLiteStorage(db, logger)), nil
}

func NewPostgresRepositories(ctx context.Context, dsn string, logger internal.Logger) (*Repositories, error) {
	s, err := NewPostgresStorage(ctx, dsn, logger)
	if err != nil {
		return nil, err
	}
	if err := MigratePostgres(ctx, s.Pool(), logger); err != nil {
		s.Close()
		return nil, err
	}
	return repositoriesFor(s), nil
}

func NewMongoRepositories(ctx context.Context, uri, database string, logger internal.Logger) (*Repositories, error) {
	s, err := NewMongoStorage(ctx, uri, database, logger)
	if err != nil {
		return nil, err
	}
	return repositoriesFor(s), nil
}

// Open builds the repositories of the configured backend, applying schema
// migrations where the backend has them.
func Open(ctx context.Context, cfg *config.Config, logger internal.Logger) (*Repositories, error) {
	logger.Infof("storage: opening %s backend", cfg.StorageBackend)
	switch cfg.StorageBackend {
	case "file":
		return NewFileRepositories(cfg.DataDir, logger)
	case "sqlite":
		return NewSQLiteRepositories(cfg.SQLitePath, logger)
	case "postgres":
		return NewPostgresRepositories(ctx, cfg.PostgresDSN, logger)
	case "mongo":
		return NewMongoRepositories(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.StorageBackend)
	}
}
