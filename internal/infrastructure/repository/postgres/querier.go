package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/kmalykh/ragmesh/internal/core/domain"
)

// Querier executes generated read-only queries against registered data
// connections. Connections are opened lazily and pooled per DSN; queries run
// inside a read-only transaction so a query that slipped past the guard still
// cannot write.
type Querier struct {
	mu      sync.Mutex
	pools   map[string]*sql.DB
	open    func(driver, dsn string) (*sql.DB, error)
	timeout time.Duration
}

func NewQuerier(timeout time.Duration) *Querier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Querier{
		pools:   make(map[string]*sql.DB),
		open:    openPool,
		timeout: timeout,
	}
}

func openPool(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func (q *Querier) pool(conn domain.DataConnection) (*sql.DB, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if db, ok := q.pools[conn.ID]; ok {
		return db, nil
	}

	driver := conn.Driver
	if driver == "" {
		driver = "pgx"
	}
	db, err := q.open(driver, conn.DSN)
	if err != nil {
		return nil, fmt.Errorf("open connection %s: %w", conn.ID, err)
	}
	q.pools[conn.ID] = db
	return db, nil
}

func (q *Querier) Query(ctx context.Context, conn domain.DataConnection, query string, maxRows int) ([]string, [][]string, error) {
	db, err := q.pool(conn)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("begin read-only tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rs, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("execute query: %w", err)
	}
	defer rs.Close()

	columns, err := rs.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}

	var rows [][]string
	for rs.Next() {
		if maxRows > 0 && len(rows) >= maxRows {
			break
		}
		cells := make([]sql.NullString, len(columns))
		scan := make([]any, len(columns))
		for i := range cells {
			scan[i] = &cells[i]
		}
		if err := rs.Scan(scan...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}

		row := make([]string, len(columns))
		for i, cell := range cells {
			if cell.Valid {
				row[i] = cell.String
			} else {
				row[i] = "NULL"
			}
		}
		rows = append(rows, row)
	}
	if err := rs.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, rows, nil
}

// Close releases every pooled connection.
func (q *Querier) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var firstErr error
	for id, db := range q.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close connection %s: %w", id, err)
		}
		delete(q.pools, id)
	}
	return firstErr
}
