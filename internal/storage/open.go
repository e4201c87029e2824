// Package storage picks the ReviewStore backend named by configuration.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"github.com/mikolaj2268/review-radar/internal/domain"
	"github.com/mikolaj2268/review-radar/internal/shared"
	"github.com/mikolaj2268/review-radar/internal/storage/mysql"
	"github.com/mikolaj2268/review-radar/internal/storage/postgres"
	"github.com/mikolaj2268/review-radar/internal/storage/sqlite"
)

// Store is a ReviewStore that owns its connections.
type Store interface {
	domain.ReviewStore
	Close() error
}

type mysqlStore struct {
	*mysql.Repo
	db *sql.DB
}

func (m mysqlStore) Close() error { return m.db.Close() }

func Open(ctx context.Context, cfg shared.Config) (Store, error) {
	switch cfg.StoreDriver {
	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(8)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping mysql: %w", err)
		}
		log.Info().Str("driver", "mysql").Msg("store ready")
		return mysqlStore{Repo: mysql.New(db), db: db}, nil
	case "postgres":
		st, err := postgres.Open(ctx, postgres.Config{URI: cfg.PostgresURI, MinConns: 1, MaxConns: 8})
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", "postgres").Msg("store ready")
		return st, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("driver", "sqlite").Str("path", cfg.SQLitePath).Msg("store ready")
		return st, nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}
