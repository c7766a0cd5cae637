package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zhenyuanlu/haybeat/internal"
)

func TestPostgresStorage_Contract(t *testing.T) {
	dsn := os.Getenv("HAYBEAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HAYBEAT_TEST_POSTGRES_DSN not set")
	}
	repos, err := NewPostgresRepositories(context.Background(), dsn, internal.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })
	runRepositoryContract(t, repos)
}
