package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/JonMunkholm/usercleaner/internal/core"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type copyCall struct {
	table   string
	columns []string
	rows    [][]any
}

// fakeTx records statements and drains COPY sources.
type fakeTx struct {
	execs   []string
	copies  []copyCall
	copyErr error
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeTx) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	if f.copyErr != nil {
		return 0, f.copyErr
	}
	call := copyCall{table: table.Sanitize(), columns: columns}
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		call.rows = append(call.rows, vals)
	}
	f.copies = append(f.copies, call)
	return int64(len(call.rows)), nil
}

func txt(s string) pgtype.Text { return pgtype.Text{String: s, Valid: true} }

var columns = []string{core.ColLoginID, core.ColMailAddress}

func result(accepted, rejected int) core.Result {
	res := core.Result{Columns: columns}
	for i := 0; i < accepted; i++ {
		res.Accepted = append(res.Accepted, core.NewRecord(columns, []pgtype.Text{txt("u"), txt("u@x.com")}))
	}
	for i := 0; i < rejected; i++ {
		res.Rejected = append(res.Rejected, core.RejectedRecord{
			Record: core.NewRecord(columns, []pgtype.Text{txt("r"), {}}),
			Issue:  core.IssueInvalidMail,
		})
	}
	return res
}

func TestWriteRun_Batches(t *testing.T) {
	tx := &fakeTx{}
	run := Run{ID: uuid.New(), SourcePath: "users.csv", StartedAt: time.Now(), RecordsRead: 6}

	stats, err := writeRun(context.Background(), tx, 2, run, result(5, 1))
	if err != nil {
		t.Fatalf("writeRun() error = %v", err)
	}

	if len(tx.execs) != 1 {
		t.Errorf("execs = %d, want 1 run insert", len(tx.execs))
	}
	if stats.Accepted != 5 || stats.Rejected != 1 || stats.Batches != 4 {
		t.Errorf("stats = %+v, want 5 accepted, 1 rejected, 4 batches", stats)
	}

	wantTables := []string{`"cleaned_records"`, `"cleaned_records"`, `"cleaned_records"`, `"rejected_records"`}
	for i, c := range tx.copies {
		if c.table != wantTables[i] {
			t.Errorf("copy %d table = %s, want %s", i, c.table, wantTables[i])
		}
	}

	// Row numbers continue across batches.
	last := tx.copies[2].rows[0]
	if got := last[1].(int32); got != 5 {
		t.Errorf("row_number = %d, want 5", got)
	}

	rejected := tx.copies[3].rows[0]
	if got := rejected[2].(string); got != string(core.IssueInvalidMail) {
		t.Errorf("issue = %q", got)
	}
	var payload map[string]*string
	if err := json.Unmarshal(rejected[3].([]byte), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload[core.ColMailAddress] != nil {
		t.Errorf("null mail_address should be JSON null, got %q", *payload[core.ColMailAddress])
	}
	if v := payload[core.ColLoginID]; v == nil || *v != "r" {
		t.Errorf("login_id payload = %v", v)
	}
}

func TestWriteRun_EmptyResult(t *testing.T) {
	tx := &fakeTx{}
	stats, err := writeRun(context.Background(), tx, 10, Run{ID: uuid.New()}, core.Result{Columns: columns})
	if err != nil {
		t.Fatalf("writeRun() error = %v", err)
	}
	if len(tx.copies) != 0 || stats.Batches != 0 {
		t.Errorf("expected only the run row, got %d copies", len(tx.copies))
	}
}

func TestWriteRun_CopyError(t *testing.T) {
	tx := &fakeTx{copyErr: errors.New("connection reset")}
	_, err := writeRun(context.Background(), tx, 10, Run{ID: uuid.New()}, result(1, 0))
	if !errors.Is(err, core.ErrExport) {
		t.Errorf("err = %v, want ErrExport", err)
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		t.Fatalf("iofs.New() error = %v", err)
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		t.Fatalf("First() error = %v", err)
	}
	if version != 1 {
		t.Errorf("first version = %d, want 1", version)
	}

	for _, read := range []func(uint) (io.ReadCloser, string, error){src.ReadUp, src.ReadDown} {
		r, _, err := read(version)
		if err != nil {
			t.Fatalf("read migration: %v", err)
		}
		body, _ := io.ReadAll(r)
		r.Close()
		if len(body) == 0 {
			t.Error("migration body is empty")
		}
	}
}

// TestPostgres_Export runs against TEST_DATABASE_URL and is skipped without it.
func TestPostgres_Export(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	if err := RunMigrations(ctx, dbURL); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	run := Run{ID: uuid.New(), SourcePath: "users.csv", StartedAt: time.Now(), RecordsRead: 3}
	stats, err := NewPostgres(pool, 2, time.Minute).Export(ctx, run, result(2, 1))
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if stats.Accepted != 2 || stats.Rejected != 1 {
		t.Errorf("stats = %+v", stats)
	}

	var n int
	err = pool.QueryRow(ctx, `SELECT count(*) FROM cleaned_records WHERE run_id = $1`,
		pgtype.UUID{Bytes: run.ID, Valid: true}).Scan(&n)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("cleaned_records = %d, want 2", n)
	}

	if _, err := pool.Exec(ctx, `DELETE FROM cleaning_runs WHERE id = $1`, pgtype.UUID{Bytes: run.ID, Valid: true}); err != nil {
		t.Errorf("cleanup: %v", err)
	}
}
