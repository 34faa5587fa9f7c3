package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	"artifact-ingest/config"
)

// EventStore indexes normalized events, one index per artifact kind.
type EventStore interface {
	Name() string
	Send(ctx context.Context, kind string, events []json.RawMessage) error
}

type elasticEventStore struct {
	client        *elasticsearch.Client
	indexPrefix   string
	bulkWorkers   int
	flushBytes    int
	flushInterval time.Duration
}

// NewElasticEventStore connects with retries. It returns a nil store when no
// addresses are configured.
func NewElasticEventStore(lc fx.Lifecycle, cfg *config.Config) (EventStore, error) {
	if len(cfg.Elasticsearch.Addresses) == 0 {
		log.Debug().Msg("Elasticsearch addresses not configured, Elasticsearch sink disabled.")
		return nil, nil
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost:   10,
		ResponseHeaderTimeout: time.Second * 10,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
	}
	esCfg := elasticsearch.Config{
		Addresses: cfg.Elasticsearch.Addresses,
		Username:  cfg.Elasticsearch.Username,
		Password:  cfg.Elasticsearch.Password,
		Transport: transport,
	}

	var esClient *elasticsearch.Client
	var err error
	operation := func() error {
		esClient, err = elasticsearch.NewClient(esCfg)
		if err != nil {
			log.Warn().Err(err).Msg("Attempt failed: Error creating the Elasticsearch client")
			return err
		}

		res, errPing := esClient.Info(
			esClient.Info.WithContext(context.Background()),
		)
		if errPing != nil {
			log.Warn().Err(errPing).Msg("Attempt failed: Error during Elasticsearch Info() call (transport level)")
			return errPing
		}
		defer res.Body.Close()
		if res.IsError() {
			errMsg := fmt.Errorf("elasticsearch Info() returned error status: %s", res.Status())
			log.Warn().Err(errMsg).Msg("Attempt failed: Elasticsearch ping returned error status")
			return errMsg
		}
		log.Info().Msg("Elasticsearch client initialized and connection verified!")
		return nil
	}

	connectBackoff := backoff.NewExponentialBackOff()
	connectBackoff.InitialInterval = 2 * time.Second
	connectBackoff.MaxInterval = 15 * time.Second
	connectBackoff.MaxElapsedTime = 90 * time.Second

	log.Info().Msg("Attempting to connect to Elasticsearch with retries...")
	if err = backoff.Retry(operation, connectBackoff); err != nil {
		log.Error().Err(err).Msg("Failed to connect to Elasticsearch after multiple retries")
		return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}

	store := newStore(esClient, cfg.Elasticsearch)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Elasticsearch event store stopped")
			return nil
		},
	})
	return store, nil
}

func newStore(client *elasticsearch.Client, cfg config.ElasticsearchConfig) *elasticEventStore {
	return &elasticEventStore{
		client:        client,
		indexPrefix:   cfg.IndexPrefix,
		bulkWorkers:   cfg.BulkWorkers,
		flushBytes:    cfg.FlushBytes,
		flushInterval: cfg.FlushInterval,
	}
}

func (s *elasticEventStore) Name() string {
	return "elasticsearch"
}

// Send indexes events through a dedicated BulkIndexer and waits for it to
// drain, so a nil error means every event was accepted.
func (s *elasticEventStore) Send(ctx context.Context, kind string, events []json.RawMessage) error {
	if len(events) == 0 {
		return nil
	}
	index := IndexName(s.indexPrefix, kind)

	var countSuccessful, countFailed uint64
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:        s.client,
		Index:         index,
		NumWorkers:    s.bulkWorkers,
		FlushBytes:    s.flushBytes,
		FlushInterval: s.flushInterval,
		OnError: func(ctx context.Context, err error) {
			log.Error().Err(err).Msg("BulkIndexer error")
		},
		OnFlushStart: func(ctx context.Context) context.Context {
			log.Debug().Msg("BulkIndexer flush starting")
			return ctx
		},
		OnFlushEnd: func(ctx context.Context) {
			log.Debug().Msg("BulkIndexer flush ended")
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	for _, event := range events {
		err := bi.Add(ctx, esutil.BulkIndexerItem{
			Action: "index",
			Body:   bytes.NewReader(event),
			OnSuccess: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem) {
				atomic.AddUint64(&countSuccessful, 1)
			},
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				atomic.AddUint64(&countFailed, 1)
				if err != nil {
					log.Error().Err(err).Str("index", index).Msg("Failed to index event")
				} else {
					log.Error().Str("index", index).Str("type", res.Error.Type).Str("reason", res.Error.Reason).Msg("Failed to index event")
				}
			},
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to add item to BulkIndexer")
			atomic.AddUint64(&countFailed, 1)
			break
		}
	}

	closeErr := bi.Close(ctx)
	stats := bi.Stats()
	log.Debug().
		Str("index", index).
		Uint64("indexed", stats.NumIndexed).
		Uint64("added", stats.NumAdded).
		Uint64("flushed", stats.NumFlushed).
		Uint64("failed", stats.NumFailed).
		Uint64("requests", stats.NumRequests).
		Msg("Elasticsearch BulkIndexer stats")

	if closeErr != nil {
		return fmt.Errorf("failed to flush bulk indexer: %w", closeErr)
	}
	if failed := atomic.LoadUint64(&countFailed); failed > 0 {
		return fmt.Errorf("%d of %d events failed to index into %s", failed, len(events), index)
	}
	if ok := atomic.LoadUint64(&countSuccessful); ok != uint64(len(events)) {
		return errors.New("bulk indexer did not confirm every event")
	}
	return nil
}

// IndexName is <prefix>-<kind>, lower-cased as Elasticsearch requires.
func IndexName(prefix, kind string) string {
	if prefix == "" {
		return strings.ToLower(kind)
	}
	return strings.ToLower(prefix + "-" + kind)
}
