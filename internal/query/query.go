// Package query is the boundary to external SQL sources: a query is an opaque string sent
// to a named data source, and the result comes back verbatim as columns plus rows.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"shapeshifter/internal/dataset"
	"shapeshifter/internal/datasource"
	"shapeshifter/internal/model"
)

// Runner выполняет запрос на именованном источнике.
type Runner interface {
	Run(ctx context.Context, dataSource, query string) (*dataset.Dataset, error)
}

// RunnerFunc: адаптер функции к Runner.
type RunnerFunc func(ctx context.Context, dataSource, query string) (*dataset.Dataset, error)

func (f RunnerFunc) Run(ctx context.Context, dataSource, query string) (*dataset.Dataset, error) {
	return f(ctx, dataSource, query)
}

// OpenFunc открывает пул соединений для источника.
type OpenFunc func(ctx context.Context, ds model.DataSource) (*sql.DB, error)

// SQLRunner держит по одному пулу на источник; пулы открываются лениво.
type SQLRunner struct {
	Sources map[string]model.DataSource
	Timeout time.Duration
	Open    OpenFunc

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewSQLRunner работает через database/sql и драйвер pgx.
func NewSQLRunner(sources map[string]model.DataSource, timeout time.Duration) *SQLRunner {
	return &SQLRunner{Sources: sources, Timeout: timeout, Open: datasource.Open, dbs: map[string]*sql.DB{}}
}

func (r *SQLRunner) db(ctx context.Context, name string) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.dbs[name]; ok {
		return db, nil
	}
	ds, ok := r.Sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown data source %q", name)
	}
	open := r.Open
	if open == nil {
		open = datasource.Open
	}
	db, err := open(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("data source %q: %w", name, err)
	}
	if r.dbs == nil {
		r.dbs = map[string]*sql.DB{}
	}
	r.dbs[name] = db
	return db, nil
}

// Run выполняет запрос с таймаутом и читает результат целиком.
func (r *SQLRunner) Run(ctx context.Context, dataSource, q string) (*dataset.Dataset, error) {
	db, err := r.db(ctx, dataSource)
	if err != nil {
		return nil, err
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, describe(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([][]any, 0, 64)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, describe(err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, describe(err)
	}
	return dataset.New(cols, out), nil
}

// Close закрывает все открытые пулы.
func (r *SQLRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, db := range r.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	r.dbs = map[string]*sql.DB{}
	return errors.Join(errs...)
}

// describe добавляет к ошибке код и сообщение сервера, если это ошибка Postgres.
func describe(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("query failed (%s): %s: %w", pgErr.Code, strings.TrimSpace(pgErr.Message), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("query timed out: %w", err)
	}
	return fmt.Errorf("query failed: %w", err)
}
