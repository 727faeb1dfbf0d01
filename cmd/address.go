package main

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/serveroute/serveroute/internal/config"
	"github.com/serveroute/serveroute/internal/geocode"
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Manage route addresses",
}

var (
	addressRoute   string
	addressGeocode bool
)

var addressImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a CSV or XLSX route file",
	Long:  "Reads street, city, state, zip, latitude, longitude and serve_type columns. Re-importing a route skips addresses it already has.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := cliSession(cmd)
		if err != nil {
			return err
		}

		content, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "read %s", args[0])
		}

		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		roster, err := env.Normalizer.ParseRoster(ctx, filepath.Base(args[0]), content, sess.CompanyID, addressRoute)
		if err != nil {
			return eris.Wrap(err, "address import")
		}
		for _, e := range roster.Errors {
			zap.L().Warn("skipped row", zap.Int("row", e.Row), zap.String("field", e.Field), zap.String("error", e.Error))
		}

		if addressGeocode || cfg.Geocode.Enabled {
			filled, err := newGeocoder(cfg.Geocode).Backfill(ctx, roster.Addresses)
			if err != nil {
				return eris.Wrap(err, "address import")
			}
			zap.L().Info("geocoded addresses", zap.Int("filled", filled))
		}

		n, err := env.Store.UpsertAddresses(ctx, roster.Addresses)
		if err != nil {
			return eris.Wrap(err, "address import")
		}

		zap.L().Info("import complete",
			zap.String("file", args[0]),
			zap.String("route_id", addressRoute),
			zap.Int("parsed", len(roster.Addresses)),
			zap.Int64("inserted", n),
			zap.Int("skipped", len(roster.Errors)),
		)
		return nil
	},
}

func newGeocoder(gc config.GeocodeConfig) *geocode.Census {
	opts := []geocode.Option{geocode.WithRetry(retryConfig())}
	if gc.BaseURL != "" {
		opts = append(opts, geocode.WithBaseURL(gc.BaseURL))
	}
	if gc.RatePerSec > 0 {
		opts = append(opts, geocode.WithRateLimit(gc.RatePerSec))
	}
	return geocode.NewCensus(opts...)
}

func init() {
	addSessionFlags(addressCmd)
	addressImportCmd.Flags().StringVar(&addressRoute, "route", "", "route id (required)")
	addressImportCmd.Flags().BoolVar(&addressGeocode, "geocode", false, "look up missing coordinates with the Census geocoder")
	_ = addressImportCmd.MarkFlagRequired("route")
	addressCmd.AddCommand(addressImportCmd)
	rootCmd.AddCommand(addressCmd)
}
