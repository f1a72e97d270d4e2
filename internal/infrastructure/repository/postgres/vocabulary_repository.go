package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// VocabularyRepository persists the per-collection BM25 term index.
// Term -> index bindings are write-once: Append only ever inserts new terms
// at the tail, under a per-collection advisory lock so concurrent growers
// cannot assign the same index twice.
type VocabularyRepository struct {
	db *sql.DB
}

func NewVocabularyRepository(db *sql.DB) *VocabularyRepository {
	return &VocabularyRepository{db: db}
}

func (r *VocabularyRepository) Load(ctx context.Context, collection string) (map[string]uint32, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT term, term_index FROM vocabulary_terms WHERE collection = $1`, collection)
	if err != nil {
		return nil, fmt.Errorf("load vocabulary: %w", err)
	}
	defer rows.Close()

	vocab := make(map[string]uint32)
	for rows.Next() {
		var term string
		var idx int64
		if err := rows.Scan(&term, &idx); err != nil {
			return nil, fmt.Errorf("scan vocabulary row: %w", err)
		}
		vocab[term] = uint32(idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vocabulary rows: %w", err)
	}
	return vocab, nil
}

func (r *VocabularyRepository) Append(ctx context.Context, collection string, terms []string, maxSize int) (map[string]uint32, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin vocabulary tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, collectionLockKey(collection)); err != nil {
		return nil, fmt.Errorf("acquire vocabulary lock: %w", err)
	}

	// Re-read inside the lock: another writer may have grown the vocabulary
	// since the caller computed its candidate terms.
	rows, err := tx.QueryContext(ctx,
		`SELECT term, term_index FROM vocabulary_terms WHERE collection = $1`, collection)
	if err != nil {
		return nil, fmt.Errorf("reload vocabulary: %w", err)
	}
	vocab := make(map[string]uint32)
	for rows.Next() {
		var term string
		var idx int64
		if err := rows.Scan(&term, &idx); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan vocabulary row: %w", err)
		}
		vocab[term] = uint32(idx)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate vocabulary rows: %w", err)
	}
	rows.Close()

	next := len(vocab)
	for _, term := range terms {
		if _, ok := vocab[term]; ok {
			continue
		}
		if maxSize > 0 && next >= maxSize {
			break
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vocabulary_terms (collection, term, term_index) VALUES ($1, $2, $3)`,
			collection, term, next); err != nil {
			return nil, fmt.Errorf("insert vocabulary term: %w", err)
		}
		vocab[term] = uint32(next)
		next++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit vocabulary tx: %w", err)
	}
	return vocab, nil
}
