package service

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"artifact-ingest/internal/ledger"
	"artifact-ingest/internal/metrics"
	"artifact-ingest/internal/model"
	"artifact-ingest/internal/output"
	"artifact-ingest/internal/parser"
)

const maxLineBytes = 16 * 1024 * 1024

// JobFailure is an I/O failure that abandoned a whole host job. It never
// produces a ledger row, so the host is retried by the next run.
type JobFailure struct {
	Hostname   string
	SourcePath string
	Err        error
}

func (e *JobFailure) Error() string {
	return fmt.Sprintf("host %s (%s): %v", e.Hostname, e.SourcePath, e.Err)
}

// Cause lets errors.Cause reach the underlying I/O error.
func (e *JobFailure) Cause() error {
	return e.Err
}

func (e *JobFailure) Unwrap() error {
	return e.Err
}

// HostParser drives one HostJob from source file to output file.
type HostParser struct {
	fs       afero.Fs
	kind     parser.Kind
	format   output.Format
	recorder *metrics.Recorder
}

// NewHostParser builds a parser for one kind. recorder may be nil.
func NewHostParser(fs afero.Fs, kind parser.Kind, format output.Format, recorder *metrics.Recorder) *HostParser {
	return &HostParser{fs: fs, kind: kind, format: format, recorder: recorder}
}

// lineStats are the per-job counters. fieldFailures is the subset of
// failCount caused by a matched line whose fields could not be converted.
type lineStats struct {
	total         int64
	success       int64
	fail          int64
	fieldFailures int64
}

// jobDetails become the per-host extension columns of the ledger.
type jobDetails struct {
	ArtifactKind  string
	SourceLogPath string
	FieldFailures int64
}

// Process parses job and returns exactly one result: an outcome, or a
// JobFailure when the job had to be abandoned.
func (p *HostParser) Process(ctx context.Context, job model.HostJob) model.JobResult {
	start := time.Now()
	stats, err := p.parse(ctx, job)
	p.record(stats, err, time.Since(start))
	if err != nil {
		return model.JobResult{
			Job: job,
			Err: &JobFailure{Hostname: job.Hostname, SourcePath: job.SourcePath, Err: err},
		}
	}

	outcome := &model.ProcessingOutcome{
		Hostname:     job.Hostname,
		SourcePath:   job.SourcePath,
		OutputPath:   job.OutputPath,
		TotalLines:   stats.total,
		SuccessCount: stats.success,
		FailCount:    stats.fail,
		SuccessRate:  SuccessRate(stats.success, stats.total),
		Extra: ledger.Extensions(jobDetails{
			ArtifactKind:  p.kind.Name,
			SourceLogPath: job.SourceLogPath,
			FieldFailures: stats.fieldFailures,
		}),
	}
	return model.JobResult{Job: job, Outcome: outcome}
}

func (p *HostParser) parse(ctx context.Context, job model.HostJob) (lineStats, error) {
	var stats lineStats

	src, err := p.fs.Open(job.SourcePath)
	if err != nil {
		return stats, errors.Wrapf(err, "open %s", job.SourcePath)
	}
	defer src.Close()

	w, err := output.Create(p.fs, job.OutputPath, p.format)
	if err != nil {
		return stats, errors.Wrap(err, "create output")
	}

	scanner := bufio.NewScanner(transform.NewReader(src, unicode.UTF8.NewDecoder()))
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			w.Abort()
			return stats, errors.Wrap(ctx.Err(), "cancelled")
		default:
		}

		line := scanner.Text()
		stats.total++

		fields, ok := p.kind.Cascade.Match(line)
		if !ok {
			stats.fail++
			log.Trace().Str("hostname", job.Hostname).Int64("line", stats.total).Str("content", line).Msg("Line matched no grammar")
			continue
		}
		event, err := p.kind.Builder.Build(fields, job.Hostname)
		if err != nil {
			stats.fail++
			stats.fieldFailures++
			log.Debug().Err(err).Str("hostname", job.Hostname).Int64("line", stats.total).Msg("Dropped event with invalid field")
			continue
		}
		if err := w.Write(event); err != nil {
			w.Abort()
			return stats, errors.Wrapf(err, "write %s", job.OutputPath)
		}
		stats.success++
	}
	if err := scanner.Err(); err != nil {
		w.Abort()
		return stats, errors.Wrapf(err, "read %s", job.SourcePath)
	}
	if err := w.Commit(); err != nil {
		return stats, errors.Wrap(err, "commit output")
	}
	return stats, nil
}

func (p *HostParser) record(stats lineStats, err error, d time.Duration) {
	if p.recorder == nil {
		return
	}
	if err != nil {
		p.recorder.Job(p.kind.Name, "failure", d)
		return
	}
	p.recorder.Lines(p.kind.Name, "parsed", stats.success)
	p.recorder.Lines(p.kind.Name, "unmatched", stats.fail-stats.fieldFailures)
	p.recorder.Lines(p.kind.Name, "invalid", stats.fieldFailures)
	p.recorder.Job(p.kind.Name, "success", d)
}

// SuccessRate is success/total as a percentage rounded to two decimals, and
// 0 when nothing was read.
func SuccessRate(success, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(success)/float64(total)*100*100) / 100
}
