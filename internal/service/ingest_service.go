package service

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"artifact-ingest/config"
	"artifact-ingest/internal/catalog"
	"artifact-ingest/internal/ledger"
	"artifact-ingest/internal/manifest"
	"artifact-ingest/internal/metrics"
	"artifact-ingest/internal/model"
	"artifact-ingest/internal/outcomedb"
	"artifact-ingest/internal/output"
	"artifact-ingest/internal/parser"
)

// RunReport summarizes one ingestion run for one artifact kind.
type RunReport struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	Kind       string        `json:"kind" yaml:"kind"`
	Catalogued int           `json:"catalogued" yaml:"catalogued"`
	Skipped    int           `json:"skipped" yaml:"skipped"`
	Dispatched int           `json:"dispatched" yaml:"dispatched"`
	Succeeded  int           `json:"succeeded" yaml:"succeeded"`
	Failed     int           `json:"failed" yaml:"failed"`
	LedgerPath string        `json:"ledger_path" yaml:"ledger_path"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

type IngestService interface {
	// Run ingests every named kind in turn. Overlapping calls are skipped.
	Run(ctx context.Context, kinds ...string) ([]RunReport, error)
	RunKind(ctx context.Context, kind string) (*RunReport, error)
}

type ingestService struct {
	cfg         *config.Config
	fs          afero.Fs
	kinds       *parser.Registry
	recorder    *metrics.Recorder
	mirror      outcomedb.OutcomeStore
	format      output.Format
	collision   output.CollisionPolicy
	newRunID    func() string
	processLock sync.Mutex
}

func NewIngestService(
	cfg *config.Config,
	fs afero.Fs,
	kinds *parser.Registry,
	recorder *metrics.Recorder,
	mirror outcomedb.OutcomeStore,
) (IngestService, error) {
	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}
	collision, err := output.ParseCollisionPolicy(cfg.Output.Collision)
	if err != nil {
		return nil, err
	}
	return &ingestService{
		cfg:       cfg,
		fs:        fs,
		kinds:     kinds,
		recorder:  recorder,
		mirror:    mirror,
		format:    format,
		collision: collision,
		newRunID:  func() string { return uuid.NewString() },
	}, nil
}

func (s *ingestService) Run(ctx context.Context, kinds ...string) ([]RunReport, error) {
	if !s.processLock.TryLock() {
		log.Warn().Msg("Ingestion already in progress, skipping run.")
		return nil, nil
	}
	defer s.processLock.Unlock()

	if len(kinds) == 0 {
		kinds = s.cfg.Ingest.Kinds
	}
	var reports []RunReport
	var firstErr error
	failed := 0
	for _, kind := range kinds {
		report, err := s.runKind(ctx, kind)
		if err != nil {
			log.Error().Err(err).Str("kind", kind).Msg("Ingestion run failed")
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		reports = append(reports, *report)
	}
	if firstErr != nil {
		return reports, fmt.Errorf("%d of %d kinds failed: %w", failed, len(kinds), firstErr)
	}
	return reports, nil
}

func (s *ingestService) RunKind(ctx context.Context, kind string) (*RunReport, error) {
	if !s.processLock.TryLock() {
		log.Warn().Str("kind", kind).Msg("Ingestion already in progress, skipping run.")
		return nil, nil
	}
	defer s.processLock.Unlock()
	return s.runKind(ctx, kind)
}

func (s *ingestService) runKind(ctx context.Context, name string) (*RunReport, error) {
	kind, ok := s.kinds.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, name)
	}
	startTime := time.Now()
	report := &RunReport{
		RunID:      s.newRunID(),
		Kind:       kind.Name,
		LedgerPath: filepath.Join(s.cfg.Ledger.Dir, kind.LedgerFile),
	}
	logger := log.With().Str("kind", kind.Name).Str("run_id", report.RunID).Logger()
	logger.Info().Msg("Starting ingestion run...")

	tracker, err := ledger.Load(s.fs, report.LedgerPath)
	if err != nil {
		logger.Warn().Err(err).Str("ledger", report.LedgerPath).Msg("Ledger unusable, treating every host as pending")
	}

	records, err := catalog.Read(s.fs, s.cfg.Ingest.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to read evidence catalog: %w", err)
	}
	report.Catalogued = len(records)

	jobs, skipped, err := s.buildJobs(kind, records, tracker)
	if err != nil {
		return nil, err
	}
	report.Skipped = skipped
	report.Dispatched = len(jobs)
	if len(jobs) == 0 {
		report.Duration = time.Since(startTime)
		logger.Info().Int("skipped", skipped).Msg("Nothing to process.")
		return report, nil
	}

	results := s.dispatch(ctx, kind, jobs)

	var outcomes []model.ProcessingOutcome
	for _, res := range results {
		if res.Err != nil {
			report.Failed++
			logger.Error().
				Err(res.Err).
				Str("hostname", res.Job.Hostname).
				Str("source", res.Job.SourcePath).
				Str("cause", errors.Cause(res.Err).Error()).
				Msg("Host job failed, it will be retried next run")
			continue
		}
		report.Succeeded++
		res.Outcome.Extra[ledger.ColRunID] = report.RunID
		outcomes = append(outcomes, *res.Outcome)
	}

	sort.Slice(outcomes, func(i, j int) bool {
		if outcomes[i].Hostname != outcomes[j].Hostname {
			return outcomes[i].Hostname < outcomes[j].Hostname
		}
		return outcomes[i].SourcePath < outcomes[j].SourcePath
	})
	if len(outcomes) > 0 {
		if err := s.commit(ctx, kind, report.RunID, tracker, outcomes); err != nil {
			return nil, err
		}
	}

	report.Duration = time.Since(startTime)
	logger.Info().
		Int("catalogued", report.Catalogued).
		Int("skipped", report.Skipped).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("Finished ingestion run.")
	return report, nil
}

// buildJobs turns catalog rows into pending jobs: rows whose root is missing,
// whose artifact cannot be found, or whose key is already in the ledger are
// skipped.
func (s *ingestService) buildJobs(kind parser.Kind, records []model.CatalogRecord, tracker *ledger.Ledger) ([]model.HostJob, int, error) {
	allocator := output.NewAllocator(s.fs, s.cfg.Output.Dir, s.format, s.collision)
	seen := make(map[ledger.Key]bool)
	skipped := 0

	var jobs []model.HostJob
	for _, rec := range records {
		exists, err := afero.DirExists(s.fs, rec.SourceRoot)
		if err != nil || !exists {
			log.Warn().Str("hostname", rec.Hostname).Str("root", rec.SourceRoot).Msg("Source root not found, skipping host")
			skipped++
			continue
		}
		source, found, err := catalog.Discover(s.fs, rec.SourceRoot, kind.ArtifactFile)
		if err != nil {
			log.Warn().Err(err).Str("hostname", rec.Hostname).Msg("Artifact search failed, skipping host")
			skipped++
			continue
		}
		if !found {
			log.Warn().Str("hostname", rec.Hostname).Str("root", rec.SourceRoot).Str("artifact", kind.ArtifactFile).Msg("Artifact file not found, skipping host")
			skipped++
			continue
		}

		key := ledger.Key{Hostname: rec.Hostname, SourcePath: source}
		if tracker.Has(key) || seen[key] {
			log.Debug().Str("hostname", rec.Hostname).Str("source", source).Msg("Already processed, skipping")
			skipped++
			continue
		}
		seen[key] = true

		outputPath, err := allocator.Allocate(kind.OutputPrefix, rec.Hostname)
		if err != nil {
			return nil, skipped, fmt.Errorf("failed to allocate output path: %w", err)
		}
		jobs = append(jobs, model.HostJob{
			Hostname:      rec.Hostname,
			SourcePath:    source,
			OutputPath:    outputPath,
			Kind:          kind.Name,
			SourceLogPath: rec.SourceLogPath,
		})
	}
	return jobs, skipped, nil
}

func (s *ingestService) workerCount(jobs int) int {
	workers := s.cfg.Ingest.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return max(1, min(workers, jobs))
}

// dispatch runs every job on a bounded pool and returns once all of them
// have reported back. Workers only ever send on the results channel.
func (s *ingestService) dispatch(ctx context.Context, kind parser.Kind, jobs []model.HostJob) []model.JobResult {
	hostParser := NewHostParser(s.fs, kind, s.format, s.recorder)
	workers := s.workerCount(len(jobs))

	jobCh := make(chan model.HostJob)
	resultCh := make(chan model.JobResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				resultCh <- hostParser.Process(ctx, job)
			}
		}()
	}

	log.Info().Str("kind", kind.Name).Int("jobs", len(jobs)).Int("workers", workers).Msg("Dispatching host jobs")
	for _, job := range jobs {
		jobCh <- job
	}
	close(jobCh)
	wg.Wait()
	close(resultCh)

	results := make([]model.JobResult, 0, len(jobs))
	for res := range resultCh {
		results = append(results, res)
	}
	return results
}

// commit merges the run's outcomes into the ledger in one write, then
// appends the manifest and updates the database mirror.
func (s *ingestService) commit(ctx context.Context, kind parser.Kind, runID string, tracker *ledger.Ledger, outcomes []model.ProcessingOutcome) error {
	rows := make([]ledger.Row, len(outcomes))
	for i, o := range outcomes {
		rows[i] = ledger.RowFromOutcome(o)
	}
	tracker.Merge(rows)
	if err := s.fs.MkdirAll(filepath.Dir(tracker.Path()), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}
	if err := tracker.Save(); err != nil {
		log.Error().Err(err).Str("ledger", tracker.Path()).Msg("Failed to save ledger")
		return fmt.Errorf("failed to save ledger: %w", err)
	}
	log.Info().Str("ledger", tracker.Path()).Int("new_rows", len(rows)).Int("total_rows", tracker.Len()).Msg("Ledger updated")

	if s.cfg.Manifest.Enabled {
		s.appendManifest(outcomes)
	}
	if s.mirror != nil {
		if err := s.mirror.UpsertOutcomes(ctx, runID, kind.Name, outcomes); err != nil {
			log.Error().Err(err).Msg("Failed to mirror outcomes to database, ledger remains authoritative")
		}
	}
	return nil
}

func (s *ingestService) appendManifest(outcomes []model.ProcessingOutcome) {
	path, err := manifest.Resolve(s.fs, s.cfg.Manifest.PointerPath, s.cfg.Manifest.Path)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve upload manifest")
		return
	}
	entries := make([]string, len(outcomes))
	for i, o := range outcomes {
		entries[i] = o.OutputPath
	}
	if err := manifest.Append(s.fs, path, entries); err != nil {
		log.Error().Err(err).Str("manifest", path).Msg("Failed to append to upload manifest")
		return
	}
	log.Debug().Str("manifest", path).Int("entries", len(entries)).Msg("Upload manifest updated")
}
