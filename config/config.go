package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/imdario/mergo"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig
	Ingest        IngestConfig
	Output        OutputConfig
	Ledger        LedgerConfig
	Manifest      ManifestConfig
	Upload        UploadConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	OutcomeDB     OutcomeDBConfig
	Event         EventConfig
	Log           LogConfig
}

type ServerConfig struct {
	Port string
}

type IngestConfig struct {
	EvidenceDir string
	Catalog     string // Evidence catalog CSV, defaults to <EvidenceDir>/evidence_records.csv
	Workers     int    // 0 means one per CPU
	Kinds       []string
	Schedule    string
}

type OutputConfig struct {
	Dir       string
	Format    string // json or jsonl
	Collision string // suffix or overwrite
}

type LedgerConfig struct {
	Dir string
}

type ManifestConfig struct {
	Enabled     bool
	Path        string
	PointerPath string
}

type UploadConfig struct {
	StatePath    string
	BatchSize    int
	MaxBatchWait time.Duration
}

type KafkaConfig struct {
	Brokers    []string
	EventTopic string
}

type ElasticsearchConfig struct {
	Addresses     []string
	Username      string
	Password      string
	IndexPrefix   string
	BulkWorkers   int           // Number of concurrent goroutines for bulk indexing
	FlushBytes    int           // Flush threshold for bulk indexer
	FlushInterval time.Duration // Flush interval for bulk indexer
}

type OutcomeDBConfig struct {
	DSN string
}

type EventConfig struct {
	ProductName string
	VendorName  string
	LogType     string
	Namespace   string
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func NewConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("EVIDENCE_DIR", "./Evidence")
	v.SetDefault("EVIDENCE_CATALOG", "")
	v.SetDefault("INGEST_WORKERS", 0)
	v.SetDefault("INGEST_KINDS", "bodyfile,ps_axo")
	v.SetDefault("INGEST_SCHEDULE", "0 */15 * * * *") // Every 15 minutes
	v.SetDefault("OUTPUT_DIR", "./Output")
	v.SetDefault("OUTPUT_FORMAT", "json")
	v.SetDefault("OUTPUT_COLLISION", "suffix")
	v.SetDefault("LEDGER_DIR", "")
	v.SetDefault("MANIFEST_ENABLED", true)
	v.SetDefault("MANIFEST_PATH", "")
	v.SetDefault("MANIFEST_POINTER_PATH", "")
	v.SetDefault("UPLOAD_STATE_PATH", "./upload_state.json")
	v.SetDefault("UPLOAD_BATCH_SIZE", 500)
	v.SetDefault("UPLOAD_MAX_BATCH_WAIT", "2s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_EVENT_TOPIC", "artifact_events")
	v.SetDefault("ELASTICSEARCH_ADDRESSES", "")
	v.SetDefault("ELASTICSEARCH_INDEX_PREFIX", "artifacts")
	v.SetDefault("ELASTICSEARCH_BULK_WORKERS", 2)
	v.SetDefault("ELASTICSEARCH_FLUSH_BYTES", 1048576) // 1MB
	v.SetDefault("ELASTICSEARCH_FLUSH_INTERVAL", "5s")
	v.SetDefault("OUTCOME_DB_DSN", "")
	v.SetDefault("EVENT_PRODUCT_NAME", "Linux")
	v.SetDefault("EVENT_VENDOR_NAME", "Juniper")
	v.SetDefault("EVENT_LOG_TYPE", "Host")
	v.SetDefault("EVENT_NAMESPACE", "UnixArtifactCollector")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 30)
	v.SetDefault("LOG_COMPRESS", true)

	if err := v.ReadInConfig(); err != nil {
		log.Debug().Err(err).Msg("No .env config file read, using environment and defaults")
	}

	var config Config
	config.Server.Port = v.GetString("SERVER_PORT")

	// --- Ingestion ---
	config.Ingest.EvidenceDir = v.GetString("EVIDENCE_DIR")
	config.Ingest.Catalog = v.GetString("EVIDENCE_CATALOG")
	config.Ingest.Workers = v.GetInt("INGEST_WORKERS")
	config.Ingest.Kinds = splitList(v.GetString("INGEST_KINDS"))
	config.Ingest.Schedule = v.GetString("INGEST_SCHEDULE")

	config.Output.Dir = v.GetString("OUTPUT_DIR")
	config.Output.Format = v.GetString("OUTPUT_FORMAT")
	config.Output.Collision = v.GetString("OUTPUT_COLLISION")
	config.Ledger.Dir = v.GetString("LEDGER_DIR")

	config.Manifest.Enabled = v.GetBool("MANIFEST_ENABLED")
	config.Manifest.Path = v.GetString("MANIFEST_PATH")
	config.Manifest.PointerPath = v.GetString("MANIFEST_POINTER_PATH")

	// --- Upload ---
	config.Upload.StatePath = v.GetString("UPLOAD_STATE_PATH")
	config.Upload.BatchSize = v.GetInt("UPLOAD_BATCH_SIZE")
	config.Upload.MaxBatchWait = v.GetDuration("UPLOAD_MAX_BATCH_WAIT")

	// --- Kafka ---
	config.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	config.Kafka.EventTopic = v.GetString("KAFKA_EVENT_TOPIC")

	// --- Elasticsearch ---
	config.Elasticsearch.Addresses = splitList(v.GetString("ELASTICSEARCH_ADDRESSES"))
	config.Elasticsearch.Username = v.GetString("ELASTICSEARCH_USERNAME")
	config.Elasticsearch.Password = v.GetString("ELASTICSEARCH_PASSWORD")
	config.Elasticsearch.IndexPrefix = v.GetString("ELASTICSEARCH_INDEX_PREFIX")
	config.Elasticsearch.BulkWorkers = v.GetInt("ELASTICSEARCH_BULK_WORKERS")
	config.Elasticsearch.FlushBytes = v.GetInt("ELASTICSEARCH_FLUSH_BYTES")
	config.Elasticsearch.FlushInterval = v.GetDuration("ELASTICSEARCH_FLUSH_INTERVAL")

	config.OutcomeDB.DSN = v.GetString("OUTCOME_DB_DSN")

	config.Event.ProductName = v.GetString("EVENT_PRODUCT_NAME")
	config.Event.VendorName = v.GetString("EVENT_VENDOR_NAME")
	config.Event.LogType = v.GetString("EVENT_LOG_TYPE")
	config.Event.Namespace = v.GetString("EVENT_NAMESPACE")

	config.Log.Level = v.GetString("LOG_LEVEL")
	config.Log.File = v.GetString("LOG_FILE")
	config.Log.MaxSizeMB = v.GetInt("LOG_MAX_SIZE_MB")
	config.Log.MaxBackups = v.GetInt("LOG_MAX_BACKUPS")
	config.Log.MaxAgeDays = v.GetInt("LOG_MAX_AGE_DAYS")
	config.Log.Compress = v.GetBool("LOG_COMPRESS")

	return &config, nil
}

// Merge overlays every non-zero field of overrides onto c.
func (c *Config) Merge(overrides Config) error {
	if err := mergo.Merge(c, overrides, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to apply config overrides: %w", err)
	}
	return nil
}

// ApplyDefaults fills paths that are derived from other settings.
func (c *Config) ApplyDefaults() {
	if c.Ingest.Catalog == "" {
		c.Ingest.Catalog = filepath.Join(c.Ingest.EvidenceDir, "evidence_records.csv")
	}
	if c.Ledger.Dir == "" {
		c.Ledger.Dir = c.Ingest.EvidenceDir
	}
	if c.Manifest.Path == "" {
		c.Manifest.Path = filepath.Join(c.Ingest.EvidenceDir, "upload_manifest.txt")
	}
	if c.Manifest.PointerPath == "" {
		c.Manifest.PointerPath = filepath.Join(c.Ingest.EvidenceDir, "uploader.txt")
	}
}

// Redacted is safe to log.
func (c Config) Redacted() Config {
	if c.Elasticsearch.Password != "" {
		c.Elasticsearch.Password = "***"
	}
	if c.OutcomeDB.DSN != "" {
		c.OutcomeDB.DSN = "***"
	}
	return c
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
