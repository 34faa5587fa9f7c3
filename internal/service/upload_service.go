package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"artifact-ingest/config"
	"artifact-ingest/internal/elasticsearch"
	"artifact-ingest/internal/filestate"
	"artifact-ingest/internal/kafka"
	"artifact-ingest/internal/manifest"
	"artifact-ingest/internal/metrics"
	"artifact-ingest/internal/output"
	"artifact-ingest/internal/parser"
)

// EventSink is anything that accepts a batch of normalized events.
type EventSink interface {
	Name() string
	Send(ctx context.Context, kind string, events []json.RawMessage) error
}

var ErrNoSinks = errors.New("no upload sink configured, set KAFKA_BROKERS or ELASTICSEARCH_ADDRESSES")

type UploadReport struct {
	Manifest string `json:"manifest" yaml:"manifest"`
	Files    int    `json:"files" yaml:"files"`
	Events   int    `json:"events" yaml:"events"`
	Missing  int    `json:"missing" yaml:"missing"`
	Offset   int64  `json:"offset" yaml:"offset"`
}

type UploadService interface {
	Upload(ctx context.Context) (*UploadReport, error)
}

type uploadService struct {
	cfg         *config.Config
	fs          afero.Fs
	stateMgr    filestate.Manager
	kinds       *parser.Registry
	recorder    *metrics.Recorder
	sinks       []EventSink
	batchSize   int
	processLock sync.Mutex
}

// NewUploadService wires whichever sinks are configured; nil sinks are
// skipped.
func NewUploadService(
	cfg *config.Config,
	fs afero.Fs,
	stateMgr filestate.Manager,
	kinds *parser.Registry,
	recorder *metrics.Recorder,
	producer kafka.EventProducer,
	store elasticsearch.EventStore,
) UploadService {
	var sinks []EventSink
	if producer != nil {
		sinks = append(sinks, producer)
	}
	if store != nil {
		sinks = append(sinks, store)
	}
	return newUploadService(cfg, fs, stateMgr, kinds, recorder, sinks...)
}

func newUploadService(cfg *config.Config, fs afero.Fs, stateMgr filestate.Manager, kinds *parser.Registry, recorder *metrics.Recorder, sinks ...EventSink) *uploadService {
	batchSize := cfg.Upload.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	return &uploadService{
		cfg:       cfg,
		fs:        fs,
		stateMgr:  stateMgr,
		kinds:     kinds,
		recorder:  recorder,
		sinks:     sinks,
		batchSize: batchSize,
	}
}

// Upload ships every output file listed in the manifest past the saved
// offset. The offset only moves past a file once every sink accepted all
// of its events.
func (s *uploadService) Upload(ctx context.Context) (*UploadReport, error) {
	if len(s.sinks) == 0 {
		return nil, ErrNoSinks
	}
	if !s.processLock.TryLock() {
		log.Warn().Msg("Upload already in progress, skipping run.")
		return nil, nil
	}
	defer s.processLock.Unlock()

	startTime := time.Now()
	manifestPath, err := manifest.Resolve(s.fs, s.cfg.Manifest.PointerPath, s.cfg.Manifest.Path)
	if err != nil {
		return nil, err
	}
	report := &UploadReport{Manifest: manifestPath}

	state, err := s.stateMgr.LoadState()
	if err != nil {
		return nil, fmt.Errorf("failed to load upload state: %w", err)
	}
	offset := state[manifestPath]

	info, err := s.fs.Stat(manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info().Str("manifest", manifestPath).Msg("No upload manifest yet, nothing to upload.")
			report.Offset = offset
			return report, nil
		}
		return nil, fmt.Errorf("failed to stat upload manifest: %w", err)
	}
	if info.Size() < offset {
		offset = 0
	}
	entries, err := manifest.ReadFrom(s.fs, manifestPath, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload manifest: %w", err)
	}

	var runErr error
	for _, entry := range entries {
		n, err := s.uploadFile(ctx, entry.Path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Warn().Str("file", entry.Path).Msg("Listed output file no longer exists, skipping")
				report.Missing++
				offset = entry.Next
				continue
			}
			log.Error().Err(err).Str("file", entry.Path).Msg("Upload failed, will resume from this file next run")
			runErr = err
			break
		}
		report.Files++
		report.Events += n
		offset = entry.Next
	}

	state[manifestPath] = offset
	report.Offset = offset
	if err := s.stateMgr.SaveState(state); err != nil {
		return report, fmt.Errorf("failed to save upload state: %w", err)
	}
	log.Info().
		Str("manifest", manifestPath).
		Int("files", report.Files).
		Int("events", report.Events).
		Int("missing", report.Missing).
		Dur("duration", time.Since(startTime)).
		Msg("Finished upload cycle.")
	return report, runErr
}

func (s *uploadService) uploadFile(ctx context.Context, path string) (int, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	kind := s.kindOf(path)
	batch := make([]json.RawMessage, 0, s.batchSize)
	sent := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		for _, sink := range s.sinks {
			if err := sink.Send(ctx, kind, batch); err != nil {
				return fmt.Errorf("%s sink: %w", sink.Name(), err)
			}
			if s.recorder != nil {
				s.recorder.Uploaded(sink.Name(), len(batch))
			}
		}
		sent += len(batch)
		batch = make([]json.RawMessage, 0, s.batchSize)
		return nil
	}

	err = output.ReadEvents(f, func(raw json.RawMessage) error {
		batch = append(batch, raw)
		if len(batch) >= s.batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return sent, err
	}
	if err := flush(); err != nil {
		return sent, err
	}
	log.Debug().Str("file", path).Str("kind", kind).Int("events", sent).Msg("Uploaded output file")
	return sent, nil
}

// kindOf maps an output file name back to its artifact kind by prefix.
func (s *uploadService) kindOf(path string) string {
	base := filepath.Base(path)
	for _, name := range s.kinds.Names() {
		kind, _ := s.kinds.Lookup(name)
		if strings.HasPrefix(base, kind.OutputPrefix+"_output_") {
			return kind.Name
		}
	}
	return "events"
}
