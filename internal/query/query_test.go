package query

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"shapeshifter/internal/model"
)

func TestUnknownSource(t *testing.T) {
	r := NewSQLRunner(map[string]model.DataSource{}, time.Second)
	_, err := r.Run(context.Background(), "missing", "select 1")
	assert.ErrorContains(t, err, `unknown data source "missing"`)
}

func TestOpenFailureIsNotCached(t *testing.T) {
	calls := 0
	r := NewSQLRunner(map[string]model.DataSource{"db": {Driver: "postgres"}}, time.Second)
	r.Open = func(_ context.Context, _ model.DataSource) (*sql.DB, error) {
		calls++
		return nil, errors.New("connection refused")
	}

	_, err := r.Run(context.Background(), "db", "select 1")
	assert.ErrorContains(t, err, `data source "db": connection refused`)
	_, err = r.Run(context.Background(), "db", "select 1")
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, r.Close())
}

func TestPostgresRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("survey"),
		postgres.WithUsername("survey"),
		postgres.WithPassword("survey"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	r := NewSQLRunner(map[string]model.DataSource{"pg": {Driver: "postgres", DSN: dsn}}, 10*time.Second)
	t.Cleanup(func() { _ = r.Close() })

	ds, err := r.Run(ctx, "pg", `select 1::int as id, 'S1'::text as code, null::int as empty
	                             union all
	                             select 2, 'S2', 7 order by id`)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "code", "empty"}, ds.Columns)
	assert.Equal(t, [][]any{{int64(1), "S1", nil}, {int64(2), "S2", int64(7)}}, ds.Rows)

	_, err = r.Run(ctx, "pg", "select * from no_such_table")
	assert.ErrorContains(t, err, "42P01")
}
