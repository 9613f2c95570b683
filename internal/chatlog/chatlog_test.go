package chatlog

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/parquet-go/parquet-go"
)

func TestAppendWritesEntriesInOneTransaction(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewSQLRepository(db)
	sqlText := "SELECT COUNT(*) FROM assessments"
	latency := int64(812)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertEntrySQL)).
		WithArgs("default", RoleUser, "How many safe areas?", nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(insertEntrySQL)).
		WithArgs("default", RoleAssistant, "There is 1.", sqlText, latency).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := repo.Append(context.Background(),
		Entry{Role: RoleUser, Content: "How many safe areas?"},
		Entry{Role: RoleAssistant, Content: "There is 1.", SQLQuery: &sqlText, LatencyMS: &latency},
	)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestAppendRollsBackOnFailure(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewSQLRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertEntrySQL)).
		WithArgs("s1", RoleUser, "q", nil, nil).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Append(context.Background(), Entry{SessionID: "s1", Role: RoleUser, Content: "q"})
	if err == nil {
		t.Fatal("Append() expected error")
	}
	assertSQLMock(t, mock)
}

func TestHistoryReversesToChronologicalOrder(t *testing.T) {
	db, mock := newSQLMock(t)
	repo := NewSQLRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(historySQL)).
		WithArgs("s1", 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "role", "content", "sql_query", "latency_ms", "created_at"}).
			AddRow(int64(2), "s1", RoleAssistant, "answer", "SELECT 1", int64(40), fixedTime(2)).
			AddRow(int64(1), "s1", RoleUser, "question", nil, nil, fixedTime(1)))

	entries, err := repo.History(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Role != RoleUser || entries[1].Role != RoleAssistant {
		t.Fatalf("History() = %#v", entries)
	}
	if entries[0].SQLQuery != nil || entries[0].LatencyMS != nil {
		t.Fatal("user entry should have NULL sql and latency")
	}
	if entries[1].SQLQuery == nil || *entries[1].SQLQuery != "SELECT 1" || *entries[1].LatencyMS != 40 {
		t.Fatalf("assistant entry = %#v", entries[1])
	}
	assertSQLMock(t, mock)
}

func TestNormalizeLimit(t *testing.T) {
	for in, want := range map[int]int{0: 50, 1: 1, 500: 500} {
		got, err := NormalizeLimit(in)
		if err != nil || got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, %v", in, got, err)
		}
	}
	for _, in := range []int{-1, 501} {
		if _, err := NormalizeLimit(in); !errors.Is(err, ErrInvalidLimit) {
			t.Fatalf("NormalizeLimit(%d) error = %v", in, err)
		}
	}
}

func TestSQLRepositoryOnDuckDB(t *testing.T) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := EnsureDuckDBSchema(ctx, db); err != nil {
		t.Fatalf("EnsureDuckDBSchema() error = %v", err)
	}
	if err := EnsureDuckDBSchema(ctx, db); err != nil {
		t.Fatalf("EnsureDuckDBSchema() second run error = %v", err)
	}
	repo := NewSQLRepository(db)

	sqlText := "SELECT 1"
	latency := int64(5)
	for i := 0; i < 3; i++ {
		if err := repo.Append(ctx,
			Entry{SessionID: "s1", Role: RoleUser, Content: "q"},
			Entry{SessionID: "s1", Role: RoleAssistant, Content: "a", SQLQuery: &sqlText, LatencyMS: &latency},
		); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := repo.Append(ctx, Entry{SessionID: "other", Role: RoleUser, Content: "x"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	entries, err := repo.History(ctx, "s1", 4)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("History() returned %d entries", len(entries))
	}
	for i, entry := range entries {
		wantRole := RoleUser
		if i%2 == 1 {
			wantRole = RoleAssistant
		}
		if entry.Role != wantRole || entry.SessionID != "s1" {
			t.Fatalf("entry %d = %#v", i, entry)
		}
		if i > 0 && entry.ID < entries[i-1].ID {
			t.Fatalf("entries are not chronological: %#v", entries)
		}
	}
	if entries[0].SQLQuery != nil || entries[1].SQLQuery == nil {
		t.Fatalf("nullable columns not preserved: %#v", entries[:2])
	}
}

func TestEncodeParquet(t *testing.T) {
	sqlText := "SELECT 1"
	data, err := EncodeParquet([]Entry{
		{ID: 1, SessionID: "s1", Role: RoleUser, Content: "q", CreatedAt: fixedTime(1)},
		{ID: 2, SessionID: "s1", Role: RoleAssistant, Content: "a", SQLQuery: &sqlText, CreatedAt: fixedTime(2)},
	})
	if err != nil {
		t.Fatalf("EncodeParquet() error = %v", err)
	}

	reader := parquet.NewGenericReader[parquetEntry](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()
	rows := make([]parquetEntry, 2)
	count, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("reader.Read() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("read rows = %d", count)
	}
	if rows[0].SQLQuery != nil || rows[1].SQLQuery == nil || *rows[1].SQLQuery != "SELECT 1" {
		t.Fatalf("rows = %+v", rows)
	}
	if _, err := EncodeParquet(nil); err == nil {
		t.Fatal("EncodeParquet(nil) expected error")
	}
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func fixedTime(minute int) time.Time {
	return time.Date(2026, time.March, 1, 10, minute, 0, 0, time.UTC)
}
