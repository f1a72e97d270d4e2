package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestVocabularyAppendAssignsTailIndicesUnderLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT term, term_index FROM vocabulary_terms").
		WithArgs("kb_refunds").
		WillReturnRows(sqlmock.NewRows([]string{"term", "term_index"}).
			AddRow("refund", 0).
			AddRow("policy", 1))
	mock.ExpectExec("INSERT INTO vocabulary_terms").
		WithArgs("kb_refunds", "days", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewVocabularyRepository(db)
	// "refund" was concurrently inserted by another writer; only "days" is new.
	vocab, err := repo.Append(context.Background(), "kb_refunds", []string{"refund", "days"}, 0)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if vocab["days"] != 2 {
		t.Fatalf("expected tail index 2 for new term, got %d", vocab["days"])
	}
	if vocab["refund"] != 0 || vocab["policy"] != 1 {
		t.Fatalf("existing bindings must not move: %v", vocab)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestVocabularyAppendRespectsCap(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT term, term_index FROM vocabulary_terms").
		WithArgs("kb_full").
		WillReturnRows(sqlmock.NewRows([]string{"term", "term_index"}).
			AddRow("existing", 0))
	mock.ExpectCommit()

	repo := NewVocabularyRepository(db)
	vocab, err := repo.Append(context.Background(), "kb_full", []string{"overflow"}, 1)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, ok := vocab["overflow"]; ok {
		t.Fatalf("overflow term must be dropped at cap")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestVocabularyLoad(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT term, term_index FROM vocabulary_terms").
		WithArgs("kb_x").
		WillReturnRows(sqlmock.NewRows([]string{"term", "term_index"}).
			AddRow("alpha", 0))

	repo := NewVocabularyRepository(db)
	vocab, err := repo.Load(context.Background(), "kb_x")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if vocab["alpha"] != 0 {
		t.Fatalf("unexpected vocabulary: %v", vocab)
	}
}
