// Package source reads a delimited user export into a core.Dataset.
//
// The whole file is loaded; there is no streaming requirement downstream.
// Every failure is wrapped in core.ErrSourceRead so the pipeline can treat an
// unreadable export as an empty one.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/JonMunkholm/usercleaner/internal/core"
	"github.com/JonMunkholm/usercleaner/internal/logging"
	"github.com/jackc/pgx/v5/pgtype"
)

// ContextCheckInterval is how often (in rows) to check for cancellation and
// report progress.
var ContextCheckInterval = 1000

// nullTokens are cell values read as null, matching the NA markers of common
// dataframe CSV readers.
var nullTokens = map[string]struct{}{
	"":         {},
	"#N/A":     {},
	"#N/A N/A": {},
	"#NA":      {},
	"-1.#IND":  {},
	"-1.#QNAN": {},
	"-NaN":     {},
	"-nan":     {},
	"1.#IND":   {},
	"1.#QNAN":  {},
	"<NA>":     {},
	"N/A":      {},
	"NA":       {},
	"NULL":     {},
	"NaN":      {},
	"None":     {},
	"n/a":      {},
	"nan":      {},
	"null":     {},
}

// Stats describes what was read.
type Stats struct {
	Rows       int    // Data rows (header excluded)
	ShortRows  int    // Rows with fewer cells than the header
	ExtraCells int    // Cells beyond the header width, dropped
	BytesRead  int64  // Raw bytes consumed from the file
	Encoding   string // Canonical name of the decoded character set
}

// CSVSource reads a delimited export from disk.
type CSVSource struct {
	Path      string
	Delimiter rune
	Encoding  string
}

// Read loads the export. The first row is the header.
func (s *CSVSource) Read(ctx context.Context) (core.Dataset, Stats, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return core.Dataset{}, Stats{}, fmt.Errorf("%w: %w", core.ErrSourceRead, err)
	}
	defer f.Close()

	var total int64
	if fi, err := f.Stat(); err == nil {
		total = fi.Size()
	}
	counter := NewCountingReader(f, total)

	decoded, encName, err := Decode(counter, s.Encoding)
	if err != nil {
		return core.Dataset{}, Stats{}, fmt.Errorf("%w: %w", core.ErrSourceRead, err)
	}

	log := logging.FromContext(ctx)
	progress := func(rows int) {
		log.Debug("reading input",
			"rows", rows,
			"bytes", counter.BytesRead,
			"total_bytes", counter.Total,
			"progress_pct", counter.Progress(),
		)
	}

	ds, stats, err := parse(ctx, SkipBOM(decoded), s.Delimiter, progress)
	stats.BytesRead = counter.BytesRead
	stats.Encoding = encName
	if err != nil {
		return core.Dataset{}, stats, fmt.Errorf("%s: %w", s.Path, err)
	}
	return ds, stats, nil
}

// Parse reads delimited text from r. Cancellation is returned as is; every
// other failure wraps core.ErrSourceRead.
func Parse(ctx context.Context, r io.Reader, delimiter rune) (core.Dataset, Stats, error) {
	return parse(ctx, r, delimiter, nil)
}

// parse is Parse with a hook called every ContextCheckInterval rows.
func parse(ctx context.Context, r io.Reader, delimiter rune, onProgress func(rows int)) (core.Dataset, Stats, error) {
	var stats Stats

	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return core.Dataset{}, stats, fmt.Errorf("%w: %w", core.ErrSourceRead, core.ErrEmptyInput)
	}
	if err != nil {
		return core.Dataset{}, stats, fmt.Errorf("%w: header: %w", core.ErrSourceRead, err)
	}
	columns := uniqueColumns(header)

	ds := core.Dataset{Columns: columns}
	values := make([]pgtype.Text, len(columns))
	for {
		if stats.Rows%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return core.Dataset{}, stats, fmt.Errorf("read cancelled after %d rows: %w", stats.Rows, err)
			}
			if onProgress != nil && stats.Rows > 0 {
				onProgress(stats.Rows)
			}
		}

		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return core.Dataset{}, stats, fmt.Errorf("%w: %w", core.ErrSourceRead, err)
		}
		stats.Rows++

		switch {
		case len(row) < len(columns):
			stats.ShortRows++
		case len(row) > len(columns):
			stats.ExtraCells += len(row) - len(columns)
		}

		for i := range values {
			if i < len(row) {
				values[i] = toText(row[i])
			} else {
				values[i] = pgtype.Text{}
			}
		}
		ds.Records = append(ds.Records, core.NewRecord(columns, values))
	}

	return ds, stats, nil
}

// toText maps a raw cell to a value, reading NA markers as null.
func toText(cell string) pgtype.Text {
	if _, isNull := nullTokens[cell]; isNull {
		return pgtype.Text{}
	}
	return pgtype.Text{String: cell, Valid: true}
}

// uniqueColumns trims header cells and renames repeats to name.1, name.2, ...
// so that every column stays addressable.
func uniqueColumns(header []string) []string {
	cols := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if n, dup := seen[name]; dup {
			candidate := name + "." + strconv.Itoa(n)
			for {
				if _, taken := seen[candidate]; !taken {
					break
				}
				n++
				candidate = name + "." + strconv.Itoa(n)
			}
			seen[name] = n + 1
			name = candidate
		}
		seen[name] = max(seen[name], 1)
		cols[i] = name
	}
	return cols
}
