package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"artifact-ingest/config"
	"artifact-ingest/internal/filestate"
	"artifact-ingest/internal/metrics"
	"artifact-ingest/internal/parser"
)

type fakeSink struct {
	name    string
	mu      sync.Mutex
	kinds   []string
	batches [][]json.RawMessage
	failOn  int // 1-based Send call that fails, 0 never
	calls   int
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Send(ctx context.Context, kind string, events []json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failOn != 0 && s.calls == s.failOn {
		return errors.New("sink unavailable")
	}
	s.kinds = append(s.kinds, kind)
	s.batches = append(s.batches, append([]json.RawMessage(nil), events...))
	return nil
}

func (s *fakeSink) events() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func uploadConfig() *config.Config {
	cfg := testConfig()
	cfg.Upload.StatePath = "/case/upload_state.json"
	cfg.Upload.BatchSize = 2
	return cfg
}

func newTestUploader(fs afero.Fs, cfg *config.Config, sinks ...EventSink) (*uploadService, *metrics.Recorder) {
	recorder := metrics.NewRecorder()
	registry := parser.Kinds(eventConstants, func() time.Time { return time.Unix(1700000000, 0) })
	return newUploadService(cfg, fs, filestate.NewManager(fs, cfg.Upload.StatePath), registry, recorder, sinks...), recorder
}

func ingestEvidence(t *testing.T, fs afero.Fs, cfg *config.Config) {
	t.Helper()
	svc, _ := newTestService(t, fs, cfg, nil)
	_, err := svc.Run(context.Background())
	require.NoError(t, err)
}

func TestUpload_ShipsManifestFilesToEverySink(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedEvidence(t, fs)
	cfg := uploadConfig()
	ingestEvidence(t, fs, cfg)

	kafkaSink := &fakeSink{name: "kafka"}
	esSink := &fakeSink{name: "elasticsearch"}
	up, recorder := newTestUploader(fs, cfg, kafkaSink, esSink)

	report, err := up.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 3, report.Events)
	assert.Equal(t, 0, report.Missing)

	assert.Equal(t, 3, kafkaSink.events())
	assert.Equal(t, 3, esSink.events())
	assert.Equal(t, []string{parser.KindBodyfile, parser.KindBodyfile}, kafkaSink.kinds)
	// one batch per file, in manifest order
	require.Len(t, kafkaSink.batches, 2)
	assert.Equal(t, "db-02", gjson.GetBytes(kafkaSink.batches[0][0], "principal.hostname").String())
	require.Len(t, kafkaSink.batches[1], 2)
	assert.Equal(t, "web-01", gjson.GetBytes(kafkaSink.batches[1][1], "principal.hostname").String())

	assert.Equal(t, 3.0, testutil.ToFloat64(recorder.UploadedCounter().WithLabelValues("kafka")))
	assert.Equal(t, 3.0, testutil.ToFloat64(recorder.UploadedCounter().WithLabelValues("elasticsearch")))

	state, err := filestate.NewManager(fs, cfg.Upload.StatePath).LoadState()
	require.NoError(t, err)
	info, err := fs.Stat(cfg.Manifest.Path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), state[cfg.Manifest.Path])
	assert.Equal(t, info.Size(), report.Offset)

	// nothing new on the second pass
	report, err = up.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Files)
	assert.Equal(t, 3, kafkaSink.events())
}

func TestUpload_FailureKeepsOffsetAtFailedFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	seedEvidence(t, fs)
	cfg := uploadConfig()
	ingestEvidence(t, fs, cfg)

	// the web-01 file is the second send
	sink := &fakeSink{name: "kafka", failOn: 2}
	up, _ := newTestUploader(fs, cfg, sink)

	report, err := up.Upload(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka sink")
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, int64(len("/case/Output/bodyfile_output_db-02.json\n")), report.Offset)

	// retry resumes at the failed file only
	sink.failOn = 0
	report, err = up.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 3, sink.events())
}

func TestUpload_MissingFileIsSkipped(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := uploadConfig()
	writeFile(t, fs, "/case/Output/bodyfile_output_gone.json", "")
	require.NoError(t, fs.Remove("/case/Output/bodyfile_output_gone.json"))
	writeFile(t, fs, "/case/Output/ps_axo_output_web-01.json", "[\n{\"principal\":{\"hostname\":\"web-01\"}}\n]\n")
	writeFile(t, fs, cfg.Manifest.Path, "/case/Output/bodyfile_output_gone.json\n/case/Output/ps_axo_output_web-01.json\n/case/Output/partial")

	sink := &fakeSink{name: "elasticsearch"}
	up, _ := newTestUploader(fs, cfg, sink)
	report, err := up.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Missing)
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, []string{parser.KindPsAxo}, sink.kinds)
	// the unterminated last line is left for later
	assert.Equal(t, int64(len("/case/Output/bodyfile_output_gone.json\n/case/Output/ps_axo_output_web-01.json\n")), report.Offset)
}

func TestUpload_FollowsPointerAndResetsOnShrink(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := uploadConfig()
	writeFile(t, fs, "/case/Output/bodyfile_output_a.jsonl", "{\"n\":1}\n{\"n\":2}\n")
	writeFile(t, fs, cfg.Manifest.PointerPath, "\n/elsewhere/manifest.txt\n")
	writeFile(t, fs, "/elsewhere/manifest.txt", "/case/Output/bodyfile_output_a.jsonl\n")
	require.NoError(t, filestate.NewManager(fs, cfg.Upload.StatePath).SaveState(filestate.FileProcessState{
		"/elsewhere/manifest.txt": 10000,
	}))

	sink := &fakeSink{name: "kafka"}
	up, _ := newTestUploader(fs, cfg, sink)
	report, err := up.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere/manifest.txt", report.Manifest)
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 2, sink.events())
}

func TestUpload_NoManifestIsANoop(t *testing.T) {
	fs := afero.NewMemMapFs()
	sink := &fakeSink{name: "kafka"}
	up, _ := newTestUploader(fs, uploadConfig(), sink)
	report, err := up.Upload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Files)
	assert.Zero(t, sink.calls)
}

func TestUpload_RequiresASink(t *testing.T) {
	fs := afero.NewMemMapFs()
	up := NewUploadService(uploadConfig(), fs, filestate.NewManager(fs, "/state.json"),
		parser.Kinds(eventConstants, nil), metrics.NewRecorder(), nil, nil)
	_, err := up.Upload(context.Background())
	assert.ErrorIs(t, err, ErrNoSinks)
}
