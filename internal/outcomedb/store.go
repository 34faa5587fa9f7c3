package outcomedb

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	"artifact-ingest/config"
	"artifact-ingest/internal/model"
)

// OutcomeStore mirrors ledger outcomes into PostgreSQL. The CSV ledger stays
// authoritative; the mirror only serves queries.
type OutcomeStore interface {
	UpsertOutcomes(ctx context.Context, runID, kind string, outcomes []model.ProcessingOutcome) error
	Close()
}

const outcomesTableName = "ingest_outcomes"

const createTableSQL = `
CREATE TABLE IF NOT EXISTS ingest_outcomes (
	hostname      TEXT NOT NULL,
	source_path   TEXT NOT NULL,
	artifact_kind TEXT NOT NULL,
	output_path   TEXT NOT NULL,
	total_lines   BIGINT NOT NULL,
	success_count BIGINT NOT NULL,
	fail_count    BIGINT NOT NULL,
	success_rate  NUMERIC(5,2) NOT NULL,
	run_id        TEXT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (hostname, source_path, artifact_kind)
);`

const upsertSQL = `
INSERT INTO ingest_outcomes (
	hostname, source_path, artifact_kind, output_path, total_lines,
	success_count, fail_count, success_rate, run_id, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (hostname, source_path, artifact_kind) DO UPDATE SET
	output_path   = EXCLUDED.output_path,
	total_lines   = EXCLUDED.total_lines,
	success_count = EXCLUDED.success_count,
	fail_count    = EXCLUDED.fail_count,
	success_rate  = EXCLUDED.success_rate,
	run_id        = EXCLUDED.run_id,
	updated_at    = EXCLUDED.updated_at;`

type pgOutcomeStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// ProvideOutcomeStore connects to OUTCOME_DB_DSN. It returns a nil store
// when no DSN is configured.
func ProvideOutcomeStore(lc fx.Lifecycle, cfg *config.Config) (OutcomeStore, error) {
	if cfg.OutcomeDB.DSN == "" {
		log.Debug().Msg("OUTCOME_DB_DSN not set, outcome mirror disabled.")
		return nil, nil
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.OutcomeDB.DSN)
	if err != nil {
		log.Error().Err(err).Msg("Failed to parse outcome database DSN")
		return nil, fmt.Errorf("invalid outcome database DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Error().Err(err).Msg("Unable to create connection pool to outcome database")
		return nil, fmt.Errorf("failed to connect to outcome database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		log.Error().Err(err).Msg("Failed to ping outcome database")
		return nil, fmt.Errorf("failed to ping outcome database: %w", err)
	}

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelSetup()
	if _, err := pool.Exec(setupCtx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create table %s: %w", outcomesTableName, err)
	}
	log.Info().Str("table", outcomesTableName).Msg("Outcome database connection pool created and table ensured.")

	store := &pgOutcomeStore{pool: pool, now: time.Now}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Closing outcome database connection pool...")
			store.Close()
			return nil
		},
	})
	return store, nil
}

func (s *pgOutcomeStore) UpsertOutcomes(ctx context.Context, runID, kind string, outcomes []model.ProcessingOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	batch := BuildUpsertBatch(runID, kind, outcomes, s.now().UTC())

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for i := range outcomes {
		if _, err := results.Exec(); err != nil {
			log.Error().Err(err).Str("hostname", outcomes[i].Hostname).Msg("Failed to upsert ingest outcome")
			return fmt.Errorf("outcome upsert failed for %s: %w", outcomes[i].Hostname, err)
		}
	}
	log.Debug().Int("count", len(outcomes)).Str("kind", kind).Msg("Mirrored ingest outcomes")
	return nil
}

// BuildUpsertBatch queues one upsert per outcome.
func BuildUpsertBatch(runID, kind string, outcomes []model.ProcessingOutcome, at time.Time) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, o := range outcomes {
		batch.Queue(upsertSQL,
			o.Hostname, o.SourcePath, kind, o.OutputPath, o.TotalLines,
			o.SuccessCount, o.FailCount, o.SuccessRate, runID, at,
		)
	}
	return batch
}

func (s *pgOutcomeStore) Close() {
	s.pool.Close()
}
