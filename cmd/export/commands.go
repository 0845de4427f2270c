package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ignite/engagement-tracker/internal/archive"
	"github.com/ignite/engagement-tracker/internal/config"
	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/metrics"
	"github.com/ignite/engagement-tracker/internal/pkg/logger"
	svc "github.com/ignite/engagement-tracker/internal/service/tracking"
	"github.com/ignite/engagement-tracker/internal/storage"
)

var outPath string

func init() {
	csvCmd.Flags().StringVarP(&outPath, "out", "o", "-", "output file, - for stdout")
}

var csvCmd = &cobra.Command{
	Use:   "csv",
	Short: "Write records as CSV",
	Long: `Write tracking records as CSV, one row per record after the header.

Examples:
  # All records to stdout
  export csv

  # One campaign to a file
  export csv --campaign spring-launch -o spring.csv`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd.Context(), func(_ *config.Config, _ *storage.Backend, s *svc.Service) error {
			return writeCSV(cmd.Context(), s, campaignID, outPath, cmd.OutOrStdout())
		})
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Upload a CSV export to S3",
	Long: `Upload a CSV export to s3://{bucket}/{prefix}/{campaign|all}/{timestamp}-{uuid}.csv.

Runs for the same campaign are serialized across hosts with a Redis or
PostgreSQL lock when the store provides one. A run that finds the lock taken
exits without uploading.

With PROMETHEUS_PUSHGATEWAY_URL set, the run pushes
tracking_export_archives_total{status} under job tracking_export, grouped by
scope.

Examples:
  EXPORT_S3_BUCKET=tracking-exports export archive --campaign spring-launch`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withService(cmd.Context(), func(cfg *config.Config, b *storage.Backend, s *svc.Service) error {
			if cfg.Export.S3Bucket == "" {
				return errors.New("export.s3_bucket (EXPORT_S3_BUCKET) is required")
			}
			awsCfg, err := storage.LoadAWSConfig(cmd.Context(), cfg.AWS)
			if err != nil {
				return err
			}
			m := metrics.New(prometheus.NewRegistry())
			a := archive.New(s, s3.NewFromConfig(awsCfg), archive.Config{
				Bucket:  cfg.Export.S3Bucket,
				Prefix:  cfg.Export.S3Prefix,
				LockTTL: cfg.Export.LockTTL(),
			}, b.NewLock, m)
			return runArchive(cmd.Context(), a, m, cfg.Export.PushgatewayURL, campaignID, cmd.OutOrStdout())
		})
	},
}

// pushJob is the Pushgateway job the archive counters are grouped under.
const pushJob = "tracking_export"

// runArchive uploads one export and, when pushURL is set, pushes the
// outcome counter. A failed push is logged and does not fail the run.
func runArchive(ctx context.Context, a *archive.Archiver, m *metrics.Metrics, pushURL, campaignID string, out io.Writer) error {
	res, err := a.Upload(ctx, campaignID)

	if pushURL != "" {
		grouping := map[string]string{"scope": archive.Scope(campaignID)}
		if perr := m.Push(ctx, pushURL, pushJob, grouping); perr != nil {
			logger.Warn("push export metrics", "url", pushURL, "error", perr)
		}
	}

	if errors.Is(err, archive.ErrInProgress) {
		logger.Warn("export skipped, another run holds the lock", "key", archive.LockKey(campaignID))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "s3://%s/%s (%d bytes)\n", res.Bucket, res.Key, res.Bytes)
	return nil
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a campaign funnel and recommendations as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if campaignID == "" {
			return errors.New("--campaign is required")
		}
		return withService(cmd.Context(), func(_ *config.Config, _ *storage.Backend, s *svc.Service) error {
			return writeReport(cmd.Context(), s, campaignID, cmd.OutOrStdout())
		})
	},
}

func withService(ctx context.Context, fn func(*config.Config, *storage.Backend, *svc.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.Redact())
	// Keep stdout clean for CSV and JSON output.
	logger.SetOutput(os.Stderr)

	b, err := storage.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	return fn(cfg, b, svc.NewService(b.Store, cfg.Tracking.BaseURL))
}

func writeCSV(ctx context.Context, s *svc.Service, campaignID, path string, stdout io.Writer) error {
	body, err := s.ExportCSV(ctx, campaignID)
	if err != nil {
		return err
	}
	if path == "-" || path == "" {
		_, err = stdout.Write(body)
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return err
	}
	logger.Info("csv export written", "path", path, "bytes", len(body))
	return nil
}

type report struct {
	Funnel          *domain.CampaignFunnel  `json:"funnel"`
	Recommendations []domain.Recommendation `json:"recommendations"`
}

func writeReport(ctx context.Context, s *svc.Service, campaignID string, out io.Writer) error {
	funnel, recs, err := s.CampaignRecommendations(ctx, campaignID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report{Funnel: funnel, Recommendations: recs})
}
