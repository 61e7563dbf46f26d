package main

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/flood-risk/internal/config"
	"github.com/sells-group/flood-risk/internal/resilience"
	"github.com/sells-group/flood-risk/pkg/geocode"
)

// newGeocoder builds the configured geocoding client, wrapped in the
// in-memory cache unless cache_size is zero.
func newGeocoder(ctx context.Context, cfg *config.Config) (geocode.Client, error) {
	var (
		gc  geocode.Client
		err error
	)
	switch cfg.Geocode.Method {
	case geocode.MethodBAG:
		gc, err = newBAG(ctx, cfg.Geocode.BAG)
	default:
		gc = newNominatim(cfg.Geocode.Nominatim)
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("flood-risk: geocoder ready", zap.String("method", gc.Name()))
	if cfg.Geocode.CacheSize <= 0 {
		return gc, nil
	}
	return geocode.NewCachedClient(gc, cfg.Geocode.CacheSize), nil
}

func newBAG(ctx context.Context, cfg config.BAGConfig) (geocode.Client, error) {
	if geocode.IsPostgresURL(cfg.Path) {
		return geocode.ConnectBAGPostgres(ctx, cfg.Path, cfg.Table)
	}
	return geocode.OpenBAG(ctx, cfg.Path)
}

func newNominatim(cfg config.NominatimConfig) *geocode.NominatimClient {
	retry := resilience.FromRetryConfig(cfg.MaxAttempts, cfg.InitialBackoffMs)
	breaker := resilience.NewCircuitBreaker(
		resilience.FromCircuitConfig(geocode.MethodNominatim, cfg.FailureThreshold, cfg.ResetTimeoutSecs),
	)
	return geocode.NewNominatim(
		geocode.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second}),
		geocode.WithBaseURL(cfg.BaseURL),
		geocode.WithUserAgent(cfg.UserAgent),
		geocode.WithEmail(cfg.Email),
		geocode.WithDelay(time.Duration(cfg.DelayMs)*time.Millisecond),
		geocode.WithRetry(retry),
		geocode.WithCircuitBreaker(breaker),
	)
}
