package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"artifact-ingest/config"
	"artifact-ingest/internal/controller"
	"artifact-ingest/internal/elasticsearch"
	"artifact-ingest/internal/filestate"
	"artifact-ingest/internal/kafka"
	"artifact-ingest/internal/logging"
	"artifact-ingest/internal/metrics"
	"artifact-ingest/internal/model"
	"artifact-ingest/internal/outcomedb"
	"artifact-ingest/internal/parser"
	"artifact-ingest/internal/scheduler"
	"artifact-ingest/internal/service"
)

var (
	cfg       *config.Config
	logCloser io.Closer
	overrides config.Config
)

func main() {
	root := &cobra.Command{
		Use:           "artifact-ingest",
		Short:         "Normalize UAC forensic artifacts into structured events",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.NewConfig()
			if err != nil {
				return err
			}
			if err := loaded.Merge(overrides); err != nil {
				return err
			}
			loaded.ApplyDefaults()
			cfg = loaded
			logCloser = logging.Setup(cfg.Log)
			log.Debug().Interface("config", cfg.Redacted()).Msg("Configuration loaded")
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&overrides.Ingest.EvidenceDir, "evidence-dir", "", "evidence root containing the catalog (EVIDENCE_DIR)")
	flags.StringVar(&overrides.Output.Dir, "output-dir", "", "directory for event files and ledgers (OUTPUT_DIR)")
	flags.IntVar(&overrides.Ingest.Workers, "workers", 0, "parallel host jobs, 0 for one per CPU (INGEST_WORKERS)")
	flags.StringVar(&overrides.Output.Format, "format", "", "event file format: json or jsonl (OUTPUT_FORMAT)")
	flags.StringVar(&overrides.Output.Collision, "collision", "", "existing output file policy: suffix or overwrite (OUTPUT_COLLISION)")
	flags.StringVar(&overrides.Log.Level, "log-level", "", "zerolog level (LOG_LEVEL)")

	root.AddCommand(ingestCommand(), watchCommand(), uploadCommand(), serveCommand(), statusCommand())

	err := root.Execute()
	if err != nil {
		log.Error().Err(err).Msg("Command failed")
	}
	if logCloser != nil {
		_ = logCloser.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}

// newApp builds the dependency graph shared by every command. fx only
// constructs what the command's options actually ask for.
func newApp(opts ...fx.Option) *fx.App {
	base := []fx.Option{
		fx.Supply(cfg),
		fx.Provide(
			NewFs,
			NewKindRegistry,
			metrics.NewRecorder,
			NewFileStateManager,
			NewGinEngine,
			outcomedb.ProvideOutcomeStore,
			kafka.NewKafkaEventProducer,
			elasticsearch.NewElasticEventStore,
			service.NewIngestService,
			service.NewUploadService,
			service.NewLedgerQueryService,
			controller.NewLedgerController,
		),
	}
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		base = append(base, fx.NopLogger)
	}
	return fx.New(append(base, opts...)...)
}

// runOnce starts the graph, hands it to fn and stops it again.
func runOnce(app *fx.App, fn func(ctx context.Context) error) error {
	startCtx, cancelStart := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	runErr := fn(context.Background())

	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("Forced shutdown due to error or timeout")
	}
	return runErr
}

// --- Factory Functions ---

func NewFs() afero.Fs {
	return afero.NewOsFs()
}

func NewKindRegistry(cfg *config.Config) *parser.Registry {
	return parser.Kinds(model.EventConstants{
		ProductName: cfg.Event.ProductName,
		VendorName:  cfg.Event.VendorName,
		LogType:     cfg.Event.LogType,
		Namespace:   cfg.Event.Namespace,
	}, time.Now)
}

func NewFileStateManager(cfg *config.Config, fs afero.Fs) filestate.Manager {
	return filestate.NewManager(fs, cfg.Upload.StatePath)
}

func NewGinEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	return r
}

// --- Invoker Functions ---

func RegisterAPIRoutes(
	lifecycle fx.Lifecycle,
	router *gin.Engine,
	cfg *config.Config,
	recorder *metrics.Recorder,
	ledgerController *controller.LedgerController,
) {
	controller.RegisterLedgerRoutes(router, ledgerController)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(recorder.Registry(), promhttp.HandlerOpts{})))

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info().Msgf("Starting HTTP server on port %s", cfg.Server.Port)
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("HTTP server ListenAndServe error")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Shutting down HTTP server...")
			return server.Shutdown(ctx)
		},
	})
}

func RegisterScheduler(lc fx.Lifecycle, cfg *config.Config, ingestSvc service.IngestService) error {
	_, err := scheduler.NewScheduler(lc, cfg, ingestSvc)
	return err
}
