// Package pipeline runs one cleaning job: read the export, classify it,
// write the output files and optionally copy the run into Postgres.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/usercleaner/internal/core"
	"github.com/JonMunkholm/usercleaner/internal/export"
	"github.com/JonMunkholm/usercleaner/internal/logging"
	"github.com/JonMunkholm/usercleaner/internal/metrics"
	"github.com/JonMunkholm/usercleaner/internal/sink"
	"github.com/JonMunkholm/usercleaner/internal/source"
	"github.com/google/uuid"
)

// Source loads the input dataset.
type Source interface {
	Read(ctx context.Context) (core.Dataset, source.Stats, error)
}

// Sink stores the classifier output.
type Sink interface {
	Write(ctx context.Context, res core.Result) (sink.Stats, error)
}

// Exporter copies a finished run somewhere durable.
type Exporter interface {
	Export(ctx context.Context, run export.Run, res core.Result) (export.Stats, error)
}

// Deps are the collaborators of a Service. Exporter and Metrics are optional.
type Deps struct {
	Source     Source
	Sink       Sink
	Exporter   Exporter
	Metrics    *metrics.Collector
	SourcePath string // Recorded with exported runs
}

// Service runs cleaning jobs.
type Service struct {
	deps Deps
	now  func() time.Time
}

// Summary describes a finished run.
type Summary struct {
	RunID             string
	Read              int
	Accepted          int
	Rejected          int
	ByIssue           map[core.Issue]int
	DateParseFailures int
	BytesRead         int64
	Exported          bool
	Duration          time.Duration
}

// NewService creates a Service. Source and Sink are required.
func NewService(deps Deps) (*Service, error) {
	if deps.Source == nil {
		return nil, errors.New("pipeline: source is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("pipeline: sink is required")
	}
	return &Service{deps: deps, now: time.Now}, nil
}

// Run executes one job. An unreadable input is logged and processed as an
// empty dataset; write, export and cancellation failures are returned.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	start := s.now()

	runID := logging.RunID(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = logging.WithRunID(ctx, runID)
	}
	log := logging.FromContext(ctx)
	summary := Summary{RunID: runID}

	// 1. Extract
	extractLog := logging.WithFields(ctx, "phase", "extract")
	ds, readStats, err := s.deps.Source.Read(ctx)
	switch {
	case errors.Is(err, core.ErrSourceRead):
		msg := core.MapError(err)
		extractLog.Error("failed to read input, continuing with no records",
			"error", err,
			"code", msg.Code,
		)
		ds = core.Dataset{}
	case err != nil:
		return summary, err
	}
	summary.Read = len(ds.Records)
	summary.BytesRead = readStats.BytesRead

	extractLog.Info("input loaded",
		slog.Int("rows", len(ds.Records)),
		slog.Int("columns", len(ds.Columns)),
		slog.Int64("bytes", readStats.BytesRead),
		slog.String("encoding", readStats.Encoding),
	)
	if readStats.ShortRows > 0 {
		extractLog.Warn("rows shorter than header, missing cells set to null", "rows", readStats.ShortRows)
	}
	if readStats.ExtraCells > 0 {
		extractLog.Warn("cells beyond header width dropped", "cells", readStats.ExtraCells)
	}

	// 2. Transform
	transformLog := logging.WithFields(ctx, "phase", "transform")
	if len(ds.Columns) > 0 {
		if missing := core.DetectCapabilities(ds.Columns).Missing(); len(missing) > 0 {
			transformLog.Warn("expected columns missing, dependent stages skipped", "missing", missing)
		}
	}
	res := core.Classify(ds)

	summary.Accepted = len(res.Accepted)
	summary.Rejected = len(res.Rejected)
	summary.ByIssue = res.CountByIssue()
	summary.DateParseFailures = res.Stats.DateParseFailures

	attrs := []any{slog.Int("accepted", summary.Accepted), slog.Int("rejected", summary.Rejected)}
	for _, issue := range core.Issues {
		if n := summary.ByIssue[issue]; n > 0 {
			attrs = append(attrs, slog.Int(string(issue), n))
		}
	}
	transformLog.Info("records classified", attrs...)
	if summary.DateParseFailures > 0 {
		transformLog.Warn("unparseable created_at values set to null", "count", summary.DateParseFailures)
	}

	// 3. Load
	written, err := s.deps.Sink.Write(ctx, res)
	if err != nil {
		return summary, err
	}
	logging.WithFields(ctx, "phase", "load").Info("output written",
		"accepted_path", written.AcceptedPath,
		"rejected_path", written.RejectedPath,
	)

	// 4. Export
	if s.deps.Exporter != nil {
		id, err := uuid.Parse(runID)
		if err != nil {
			id = uuid.New()
		}
		run := export.Run{
			ID:          id,
			SourcePath:  s.deps.SourcePath,
			StartedAt:   start,
			RecordsRead: summary.Read,
		}
		if _, err := s.deps.Exporter.Export(ctx, run, res); err != nil {
			return summary, fmt.Errorf("export run %s: %w", id, err)
		}
		summary.Exported = true
	}

	summary.Duration = s.now().Sub(start)

	if m := s.deps.Metrics; m != nil {
		m.RecordRead(summary.Read)
		m.RecordResult(res)
		m.RecordDuration(summary.Duration)
	}

	log.Info("data processing completed successfully",
		slog.Int("read", summary.Read),
		slog.Int("accepted", summary.Accepted),
		slog.Int("rejected", summary.Rejected),
		slog.Duration("duration", summary.Duration),
	)
	return summary, nil
}
