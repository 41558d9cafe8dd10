// Package export copies a cleaning run into Postgres.
//
// A run is stored as one cleaning_runs row plus one jsonb row per accepted
// and rejected record, all written in a single transaction so a failed
// export leaves nothing behind.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/usercleaner/internal/core"
	"github.com/JonMunkholm/usercleaner/internal/logging"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultBatchSize is used when the configured batch size is not positive.
const DefaultBatchSize = 5000

var (
	cleanedTable  = pgx.Identifier{"cleaned_records"}
	rejectedTable = pgx.Identifier{"rejected_records"}

	cleanedColumns  = []string{"run_id", "row_number", "payload"}
	rejectedColumns = []string{"run_id", "row_number", "issue", "payload"}
)

// Run identifies the cleaning run being exported.
type Run struct {
	ID          uuid.UUID
	SourcePath  string
	StartedAt   time.Time
	RecordsRead int
}

// Stats reports what was exported.
type Stats struct {
	Accepted int64
	Rejected int64
	Batches  int
}

// execCopier is the part of pgx.Tx used by the export.
type execCopier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Postgres exports runs through a connection pool.
type Postgres struct {
	pool      *pgxpool.Pool
	batchSize int
	timeout   time.Duration
}

// NewPostgres creates an exporter. A zero timeout leaves the caller's
// deadline in charge.
func NewPostgres(pool *pgxpool.Pool, batchSize int, timeout time.Duration) *Postgres {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Postgres{pool: pool, batchSize: batchSize, timeout: timeout}
}

// Export writes run and res in one transaction.
func (p *Postgres) Export(ctx context.Context, run Run, res core.Result) (Stats, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: begin transaction: %w", core.ErrExport, err)
	}
	defer tx.Rollback(ctx) // No-op if already committed

	stats, err := writeRun(ctx, tx, p.batchSize, run, res)
	if err != nil {
		return stats, err
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("%w: commit: %w", core.ErrExport, err)
	}
	return stats, nil
}

func writeRun(ctx context.Context, tx execCopier, batchSize int, run Run, res core.Result) (Stats, error) {
	var stats Stats
	log := logging.FromContext(ctx)
	runID := pgtype.UUID{Bytes: run.ID, Valid: true}

	_, err := tx.Exec(ctx,
		`INSERT INTO cleaning_runs (id, source_path, started_at, records_read, accepted_count, rejected_count)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		runID, run.SourcePath, run.StartedAt, run.RecordsRead, len(res.Accepted), len(res.Rejected),
	)
	if err != nil {
		return stats, fmt.Errorf("%w: insert run: %w", core.ErrExport, err)
	}

	for start := 0; start < len(res.Accepted); start += batchSize {
		end := min(start+batchSize, len(res.Accepted))
		rows := make([][]any, 0, end-start)
		for i, r := range res.Accepted[start:end] {
			payload, err := marshalPayload(res.Columns, r)
			if err != nil {
				return stats, fmt.Errorf("%w: accepted row %d: %w", core.ErrExport, start+i+1, err)
			}
			rows = append(rows, []any{runID, int32(start + i + 1), payload})
		}
		n, err := tx.CopyFrom(ctx, cleanedTable, cleanedColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return stats, fmt.Errorf("%w: copy accepted rows %d-%d: %w", core.ErrExport, start+1, end, err)
		}
		stats.Accepted += n
		stats.Batches++
		log.Debug("copied batch", "table", "cleaned_records", "rows", n)
	}

	for start := 0; start < len(res.Rejected); start += batchSize {
		end := min(start+batchSize, len(res.Rejected))
		rows := make([][]any, 0, end-start)
		for i, rr := range res.Rejected[start:end] {
			payload, err := marshalPayload(res.Columns, rr.Record)
			if err != nil {
				return stats, fmt.Errorf("%w: rejected row %d: %w", core.ErrExport, start+i+1, err)
			}
			rows = append(rows, []any{runID, int32(start + i + 1), string(rr.Issue), payload})
		}
		n, err := tx.CopyFrom(ctx, rejectedTable, rejectedColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return stats, fmt.Errorf("%w: copy rejected rows %d-%d: %w", core.ErrExport, start+1, end, err)
		}
		stats.Rejected += n
		stats.Batches++
		log.Debug("copied batch", "table", "rejected_records", "rows", n)
	}

	log.Info("export written",
		slog.Int64("accepted", stats.Accepted),
		slog.Int64("rejected", stats.Rejected),
		slog.Int("batches", stats.Batches),
	)
	return stats, nil
}

// marshalPayload renders a record as a JSON object keyed by column, with
// null values as JSON null.
func marshalPayload(columns []string, r core.Record) ([]byte, error) {
	obj := make(map[string]*string, len(columns))
	for i, v := range r.Values(columns) {
		if v.Valid {
			s := v.String
			obj[columns[i]] = &s
		} else {
			obj[columns[i]] = nil
		}
	}
	return json.Marshal(obj)
}
