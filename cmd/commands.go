package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	"artifact-ingest/internal/service"
)

func printYAML(v interface{}) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func ingestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [kind...]",
		Short: "Parse every catalogued host not yet in the ledger",
		Long: "Reads the evidence catalog, parses the artifact of each host that is not\n" +
			"recorded in the kind's tracking ledger and writes one event file per host.\n" +
			"Without arguments the kinds from INGEST_KINDS are processed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var ingestSvc service.IngestService
			app := newApp(fx.Populate(&ingestSvc))
			return runOnce(app, func(ctx context.Context) error {
				reports, err := ingestSvc.Run(ctx, args...)
				if len(reports) > 0 {
					if perr := printYAML(reports); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

func uploadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "upload",
		Short: "Ship event files listed in the upload manifest to Kafka and Elasticsearch",
		RunE: func(cmd *cobra.Command, args []string) error {
			var uploadSvc service.UploadService
			app := newApp(fx.Populate(&uploadSvc))
			return runOnce(app, func(ctx context.Context) error {
				report, err := uploadSvc.Upload(ctx)
				if report != nil {
					if perr := printYAML(report); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
}

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <kind>",
		Short: "Summarize the tracking ledger of one artifact kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var querySvc service.LedgerQueryService
			app := newApp(fx.Populate(&querySvc))
			return runOnce(app, func(ctx context.Context) error {
				summary, err := querySvc.Summary(ctx, args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				return printYAML(summary)
			})
		},
	}
}

func watchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-run ingestion on INGEST_SCHEDULE until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := newApp(fx.Invoke(RegisterScheduler))
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func serveCommand() *cobra.Command {
	var withScheduler bool
	command := &cobra.Command{
		Use:   "serve",
		Short: "Serve ledger status and Prometheus metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			invokes := []interface{}{RegisterAPIRoutes}
			if withScheduler {
				invokes = append(invokes, RegisterScheduler)
			}
			app := newApp(fx.Invoke(invokes...))
			if err := app.Err(); err != nil {
				return err
			}
			log.Info().Bool("scheduler", withScheduler).Msg("Serving ledger status")
			app.Run()
			return nil
		},
	}
	command.Flags().BoolVar(&withScheduler, "watch", false, "also run scheduled ingestion in this process")
	return command
}
