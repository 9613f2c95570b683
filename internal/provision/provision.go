package provision

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"
)

const DefaultPattern = "*.csv"

// IngestionError reports that the CSV corpus could not be loaded. It is
// fatal at startup.
type IngestionError struct {
	Dir     string
	Pattern string
	Reason  string
	Err     error
}

func (e *IngestionError) Error() string {
	msg := fmt.Sprintf("ingest %s: %s", filepath.Join(e.Dir, e.Pattern), e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

type Provisioner struct {
	DB    *sql.DB
	Table string
}

func New(db *sql.DB, table string) *Provisioner {
	if table == "" {
		table = "assessments"
	}
	return &Provisioner{DB: db, Table: table}
}

// Provision drops the target table and rebuilds it from every CSV in dir
// matching pattern, unioning columns by name. It returns the loaded row
// count. On failure the transaction is rolled back and the previous table,
// if any, is kept.
func (p *Provisioner) Provision(ctx context.Context, dir, pattern string) (int64, error) {
	if p.DB == nil {
		return 0, fmt.Errorf("database is required")
	}
	files, err := MatchFiles(dir, pattern)
	if err != nil {
		return 0, err
	}
	if pattern == "" {
		pattern = DefaultPattern
	}

	glob := filepath.ToSlash(filepath.Join(dir, pattern))
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin provisioning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	table := quoteIdent(p.Table)
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
		return 0, &IngestionError{Dir: dir, Pattern: pattern, Reason: "drop table", Err: err}
	}
	createSQL := fmt.Sprintf(
		"CREATE TABLE %s AS SELECT * FROM read_csv_auto(%s, HEADER=TRUE, UNION_BY_NAME=TRUE)",
		table, quoteString(glob),
	)
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return 0, &IngestionError{Dir: dir, Pattern: pattern, Reason: fmt.Sprintf("load %d csv files", len(files)), Err: err}
	}

	var count int64
	if err := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		return 0, &IngestionError{Dir: dir, Pattern: pattern, Reason: "count rows", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &IngestionError{Dir: dir, Pattern: pattern, Reason: "commit", Err: err}
	}
	return count, nil
}

// MatchFiles lists the corpus files, failing with an IngestionError when the
// directory is missing or nothing matches.
func MatchFiles(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &IngestionError{Dir: dir, Pattern: pattern, Reason: "source directory does not exist"}
		}
		return nil, &IngestionError{Dir: dir, Pattern: pattern, Reason: "stat source directory", Err: err}
	}
	if !info.IsDir() {
		return nil, &IngestionError{Dir: dir, Pattern: pattern, Reason: "source is not a directory"}
	}
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, &IngestionError{Dir: dir, Pattern: pattern, Reason: "invalid pattern", Err: err}
	}
	if len(files) == 0 {
		return nil, &IngestionError{Dir: dir, Pattern: pattern, Reason: "no csv files found"}
	}
	sort.Strings(files)
	return files, nil
}

// CountDataRows counts the data rows (header excluded) across the corpus.
func CountDataRows(dir, pattern string) (int64, error) {
	files, err := MatchFiles(dir, pattern)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, path := range files {
		n, err := countFileRows(path)
		if err != nil {
			return 0, fmt.Errorf("count rows in %s: %w", path, err)
		}
		total += n
	}
	return total, nil
}

func countFileRows(path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true
	var rows int64
	for {
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		rows++
	}
	if rows == 0 {
		return 0, nil
	}
	return rows - 1, nil
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
