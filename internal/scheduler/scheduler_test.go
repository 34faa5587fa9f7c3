package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	"artifact-ingest/config"
	"artifact-ingest/internal/service"
)

type fakeIngest struct {
	calls [][]string
	err   error
}

func (f *fakeIngest) Run(ctx context.Context, kinds ...string) ([]service.RunReport, error) {
	f.calls = append(f.calls, kinds)
	return []service.RunReport{{Kind: "bodyfile", RunID: "r1"}}, f.err
}

func (f *fakeIngest) RunKind(ctx context.Context, kind string) (*service.RunReport, error) {
	return nil, errors.New("not used")
}

func TestNewCron_RunsConfiguredKinds(t *testing.T) {
	cfg := &config.Config{}
	cfg.Ingest.Schedule = "*/30 * * * * *"
	cfg.Ingest.Kinds = []string{"bodyfile", "ps_axo"}
	ingest := &fakeIngest{}

	c, err := newCron(cfg, ingest)
	require.NoError(t, err)
	entries := c.Entries()
	require.Len(t, entries, 1)

	entries[0].Job.Run()
	ingest.err = errors.New("busy")
	entries[0].Job.Run()
	assert.Equal(t, [][]string{{"bodyfile", "ps_axo"}, {"bodyfile", "ps_axo"}}, ingest.calls)
}

func TestNewCron_InvalidSchedule(t *testing.T) {
	cfg := &config.Config{}
	cfg.Ingest.Schedule = "every tuesday"
	_, err := newCron(cfg, &fakeIngest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every tuesday")
}

func TestNewScheduler_Lifecycle(t *testing.T) {
	cfg := &config.Config{}
	cfg.Ingest.Schedule = "@every 1h"
	lc := fxtest.NewLifecycle(t)

	c, err := NewScheduler(lc, cfg, &fakeIngest{})
	require.NoError(t, err)
	require.NotNil(t, c)
	lc.RequireStart()
	lc.RequireStop()
}
