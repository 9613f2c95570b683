package provision

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const bihar2023 = "place,state,rainfall,groundwater_status,year\n" +
	"X,Bihar,1000,safe,2023\n" +
	"Y,Bihar,500,over_exploited,2023\n"

const rajasthan2024 = "place,state,rainfall,groundwater_used_total,groundwater_status,year\n" +
	"Jaisalmer,Rajasthan,150.5,9000,over_exploited,2024\n" +
	"Ajmer,Rajasthan,480.2,3100,critical,2024\n" +
	"Kota,Rajasthan,820,2200,semi_critical,2024\n"

func TestProvisionUnionsColumnsByNameAndConservesRows(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "groundwater_2023.csv", bihar2023)
	writeCSV(t, dir, "groundwater_2024.csv", rajasthan2024)
	db := openDuckDB(t)

	count, err := New(db, "assessments").Provision(context.Background(), dir, "*.csv")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	want, err := CountDataRows(dir, "*.csv")
	if err != nil {
		t.Fatalf("CountDataRows() error = %v", err)
	}
	if count != want || count != 5 {
		t.Fatalf("Provision() = %d, CountDataRows() = %d", count, want)
	}

	var nulls int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM assessments WHERE groundwater_used_total IS NULL`).Scan(&nulls); err != nil {
		t.Fatalf("query nulls: %v", err)
	}
	if nulls != 2 {
		t.Fatalf("null-filled rows = %d, want 2", nulls)
	}
}

func TestProvisionIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "a.csv", bihar2023)
	db := openDuckDB(t)
	p := New(db, "")

	first, err := p.Provision(context.Background(), dir, "")
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	second, err := p.Provision(context.Background(), dir, "")
	if err != nil {
		t.Fatalf("second Provision() error = %v", err)
	}
	if first != second || first != 2 {
		t.Fatalf("row counts = %d, %d", first, second)
	}
}

func TestProvisionFailsForEmptyOrMissingDirectory(t *testing.T) {
	db := openDuckDB(t)
	p := New(db, "assessments")

	_, err := p.Provision(context.Background(), t.TempDir(), "*.csv")
	var ingestErr *IngestionError
	if !errors.As(err, &ingestErr) {
		t.Fatalf("Provision(empty) error = %v, want IngestionError", err)
	}
	if ingestErr.Reason != "no csv files found" {
		t.Fatalf("Reason = %q", ingestErr.Reason)
	}

	_, err = p.Provision(context.Background(), filepath.Join(t.TempDir(), "missing"), "*.csv")
	if !errors.As(err, &ingestErr) {
		t.Fatalf("Provision(missing) error = %v, want IngestionError", err)
	}
}

func TestCountDataRowsHandlesQuotedNewlines(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "a.csv", "place,note\n\"X\",\"line one\nline two\"\nY,plain\n")
	got, err := CountDataRows(dir, "*.csv")
	if err != nil {
		t.Fatalf("CountDataRows() error = %v", err)
	}
	if got != 2 {
		t.Fatalf("CountDataRows() = %d", got)
	}
}

func openDuckDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	if err != nil {
		t.Fatalf("open duckdb: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func writeCSV(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
