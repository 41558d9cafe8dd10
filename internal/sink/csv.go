// Package sink writes classifier output to delimited files.
package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/usercleaner/internal/core"
	"github.com/jackc/pgx/v5/pgtype"
)

// FileMode is the permission of written files. The temporary file starts
// out owner-only.
const FileMode os.FileMode = 0o644

// Stats reports what was written.
type Stats struct {
	AcceptedRows int
	RejectedRows int
	AcceptedPath string // Empty when nothing was written
	RejectedPath string // Empty when nothing was written
}

// CSVSink writes accepted rows to OutputPath and rejected rows, with their
// issue column, to RejectedPath. An empty set produces no file.
type CSVSink struct {
	OutputPath   string
	RejectedPath string
	Delimiter    rune
}

// Write stores res. Files are written to a temporary name in the target
// directory and renamed into place, so a failed run never leaves a partial
// file under the configured name.
func (s *CSVSink) Write(ctx context.Context, res core.Result) (Stats, error) {
	var stats Stats

	if len(res.Accepted) > 0 {
		rows := make([][]string, 0, len(res.Accepted)+1)
		rows = append(rows, res.Columns)
		for _, r := range res.Accepted {
			rows = append(rows, cells(r.Values(res.Columns)))
		}
		if err := s.writeFile(ctx, s.OutputPath, rows); err != nil {
			return stats, fmt.Errorf("%w: cleaned records: %w", core.ErrSinkWrite, err)
		}
		stats.AcceptedRows = len(res.Accepted)
		stats.AcceptedPath = s.OutputPath
	}

	if len(res.Rejected) > 0 {
		rows := make([][]string, 0, len(res.Rejected)+1)
		rows = append(rows, res.RejectedColumns())
		for _, rr := range res.Rejected {
			row := cells(rr.Values(res.Columns))
			rows = append(rows, append(row, string(rr.Issue)))
		}
		if err := s.writeFile(ctx, s.RejectedPath, rows); err != nil {
			return stats, fmt.Errorf("%w: rejected records: %w", core.ErrSinkWrite, err)
		}
		stats.RejectedRows = len(res.Rejected)
		stats.RejectedPath = s.RejectedPath
	}

	return stats, nil
}

func (s *CSVSink) writeFile(ctx context.Context, path string, rows [][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // No-op once renamed

	w := csv.NewWriter(tmp)
	if s.Delimiter != 0 {
		w.Comma = s.Delimiter
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(FileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// cells renders values for output; null is an empty cell.
func cells(values []pgtype.Text) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if v.Valid {
			out[i] = v.String
		}
	}
	return out
}
