package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx

	"shapeshifter/internal/model"
)

// driverName сопоставляет driver из конфига с зарегистрированным database/sql драйвером.
func driverName(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "postgres", "postgresql", "pgx":
		return "pgx", nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

// Open открывает пул и проверяет соединение (ping с таймаутом).
func Open(ctx context.Context, ds model.DataSource) (*sql.DB, error) {
	drv, err := driverName(ds.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(drv, BuildDSN(ds))
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
