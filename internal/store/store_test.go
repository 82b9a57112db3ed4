package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestAppendTurnAssignsContiguousNumbers(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO conversations (id, owner, message_count, schema_version, compacted_up_to)
VALUES ($1,$2,0,$3,0)
ON CONFLICT (id) DO NOTHING`)).
		WithArgs("conv-1", "user-1", CurrentSchemaVersion).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT message_count FROM conversations WHERE id=$1 FOR UPDATE`)).
		WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows([]string{"message_count"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO messages (conversation_id, message_number, role, text) VALUES
($1,$2,$3,$4),
($1,$5,$6,$7)`)).
		WithArgs("conv-1", 5, RoleUser, "hi", 6, RoleAssistant, "hello").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE conversations SET message_count=$2, updated_at=now() WHERE id=$1`)).
		WithArgs("conv-1", 6).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	userNum, asstNum, err := st.AppendTurn(context.Background(), "conv-1", "user-1", "hi", "hello")
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if userNum != 5 || asstNum != 6 {
		t.Fatalf("expected numbers 5,6 got %d,%d", userNum, asstNum)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendTurnRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO conversations").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT message_count FROM conversations").
		WillReturnRows(sqlmock.NewRows([]string{"message_count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO messages").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, _, err := st.AppendTurn(context.Background(), "conv-1", "", "hi", "hello"); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitCompactionAdvancesWatermark(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE conversations
SET compact_summary=$3, compacted_up_to=$4, updated_at=now()
WHERE id=$1 AND compacted_up_to=$2`)).
		WithArgs("conv-1", 50, "merged", 100).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO compact_records (conversation_id, window_start, window_end, summary_text)
VALUES ($1,$2,$3,$4)`)).
		WithArgs("conv-1", 51, 100, "window").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.CommitCompaction(context.Background(), "conv-1", 51, 100, "merged", "window"); err != nil {
		t.Fatalf("CommitCompaction: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitCompactionConflictWhenWatermarkMoved(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conversations").
		WithArgs("conv-1", 50, "merged", 100).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = st.CommitCompaction(context.Background(), "conv-1", 51, 100, "merged", "window")
	if !errors.Is(err, ErrCompactionConflict) {
		t.Fatalf("expected ErrCompactionConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCommitCompactionRejectsInvalidWindow(t *testing.T) {
	st := &Store{}
	if err := st.CommitCompaction(context.Background(), "conv-1", 10, 9, "m", "w"); err == nil {
		t.Fatalf("expected error for inverted window")
	}
}

func TestReadCompactEmptyForUnknownConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectQuery("SELECT compact_summary, compacted_up_to FROM conversations").
		WithArgs("conv-x").
		WillReturnRows(sqlmock.NewRows([]string{"compact_summary", "compacted_up_to"}))

	summary, upTo, err := st.ReadCompact(context.Background(), "conv-x")
	if err != nil {
		t.Fatalf("ReadCompact: %v", err)
	}
	if summary != "" || upTo != 0 {
		t.Fatalf("expected empty read, got %q/%d", summary, upTo)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectQuery("SELECT id, owner, message_count").
		WithArgs("conv-x").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := st.GetConversation(context.Background(), "conv-x"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}
