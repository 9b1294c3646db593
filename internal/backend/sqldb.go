package backend

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/simpleflo/lattice/internal/config"
	"github.com/simpleflo/lattice/internal/observability"
	"github.com/simpleflo/lattice/pkg/models"
)

// SQLStore wraps the relational corpus connection. Every statement runs
// under its own deadline so one slow ranking query cannot stall a turn.
type SQLStore struct {
	db      *sql.DB
	timeout time.Duration
	logger  zerolog.Logger
}

// OpenSQLStore opens the configured database.
func OpenSQLStore(cfg config.SQLConfig) (*SQLStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite3"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, models.Wrap(models.ErrDatabaseConnection, "open database", err)
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SQLStore{
		db:      db,
		timeout: timeout,
		logger:  observability.Logger("backend.sql"),
	}, nil
}

// Query runs one read statement and materializes the full result set.
// Column order follows the statement; cell values keep driver types.
func (s *SQLStore) Query(ctx context.Context, query string, args ...any) (*models.SQLResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.Wrap(models.ErrSQLExecution, "query failed", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, models.Wrap(models.ErrSQLExecution, "read columns", err)
	}

	result := &models.SQLResult{
		Success: true,
		Columns: cols,
	}
	for rows.Next() {
		cells := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, models.Wrap(models.ErrSQLExecution, "scan row", err)
		}
		for i, c := range cells {
			if b, ok := c.([]byte); ok {
				cells[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Wrap(models.ErrSQLExecution, "iterate rows", err)
	}

	result.RowCount = len(result.Rows)
	result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000

	s.logger.Debug().
		Int("rows", result.RowCount).
		Float64("duration_ms", result.ExecutionTimeMs).
		Msg("sql query completed")
	return result, nil
}

// HealthCheck pings the database.
func (s *SQLStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return models.Wrap(models.ErrDatabaseConnection, "database ping failed", err)
	}
	return nil
}

// Close closes the pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
