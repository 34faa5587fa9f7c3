package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	"artifact-ingest/config"
	"artifact-ingest/internal/service"
)

// NewScheduler re-runs ingestion of the configured kinds on
// INGEST_SCHEDULE. A tick that fires while a run is still going is skipped
// by the ingest service itself.
func NewScheduler(lc fx.Lifecycle, cfg *config.Config, ingestSvc service.IngestService) (*cron.Cron, error) {
	c, err := newCron(cfg, ingestSvc)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info().Msg("Starting cron scheduler")
			c.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Stopping cron scheduler...")
			stopCtx := c.Stop()
			select {
			case <-stopCtx.Done():
				log.Info().Msg("Cron scheduler stopped gracefully.")
				return nil
			case <-ctx.Done():
				log.Error().Msg("Context cancelled while waiting for cron scheduler to stop.")
				return ctx.Err()
			}
		},
	})

	return c, nil
}

func newCron(cfg *config.Config, ingestSvc service.IngestService) (*cron.Cron, error) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.DowOptional | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))

	schedule := cfg.Ingest.Schedule
	kinds := cfg.Ingest.Kinds
	_, err := c.AddFunc(schedule, func() {
		reports, err := ingestSvc.Run(context.Background(), kinds...)
		if err != nil {
			log.Error().Err(err).Msg("Error during scheduled ingestion")
			return
		}
		for _, r := range reports {
			log.Info().Str("kind", r.Kind).Str("run_id", r.RunID).Int("dispatched", r.Dispatched).Int("failed", r.Failed).Msg("Scheduled ingestion finished")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid ingest schedule %q: %w", schedule, err)
	}
	log.Info().Str("schedule", schedule).Strs("kinds", kinds).Msg("Scheduled ingestion job")
	return c, nil
}
