package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/flood-risk/internal/config"
	"github.com/sells-group/flood-risk/internal/pipeline"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "flood-risk <address-file>",
	Short: "Look up flood risk for a list of Dutch addresses",
	Long: "Geocodes every address in a CSV or XLSX file, samples each GeoTIFF in the risk-data folder " +
		"at that location and writes the input rows with one extra column per raster.",
	Args: cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cmd.Flags())
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if err := c.Validate(); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		gc, err := newGeocoder(ctx, cfg)
		if err != nil {
			return err
		}
		defer gc.Close() //nolint:errcheck

		summary, err := pipeline.New(cfg, gc).Run(ctx, args[0])
		if err != nil {
			return err
		}

		zap.L().Info("flood-risk: finished",
			zap.String("output", summary.Output),
			zap.Int("rows", summary.Rows),
			zap.Int("geocoded", summary.Geocoded),
			zap.Int("unmatched", summary.Unmatched+summary.Invalid+summary.Errors),
		)
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("risk-data", "r", "risk_data/", "folder with GeoTIFF risk rasters")
	pf.Bool("recursive", false, "also search subfolders of the risk-data folder")
	pf.StringP("verbose", "v", "info", "log level: critical, error, warning, info, debug")
	pf.String("log-format", "auto", "log format: console, json or auto")
	pf.String("sheet", "", "XLSX sheet to read, by name or 1-based number (default first)")
	pf.String("comment", "", "skip CSV lines starting with this character")
	pf.Bool("trim", false, "trim whitespace around CSV cells")

	f := rootCmd.Flags()
	f.StringP("output", "o", "flooding_risks.csv", "output CSV path")
	f.StringP("method", "m", "nominatim", "geocoding method: nominatim or bag")
	f.StringP("bag", "b", "bag_data/bag-light.gpkg", "BAG GeoPackage path or postgres:// URL")
	f.Bool("coordinates", false, "add longitude, latitude and RD coordinate columns")
	f.String("nodata", "", "text written for missing risk values")
	f.String("shapefile", "", "also export geocoded rows as an RD New point shapefile")
	f.String("report", "", "write a YAML run report to this path")
	f.String("metrics-file", "", "write Prometheus metrics in textfile format to this path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
