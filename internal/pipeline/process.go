package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flood-risk/internal/address"
	"github.com/sells-group/flood-risk/internal/geo"
	"github.com/sells-group/flood-risk/internal/model"
	"github.com/sells-group/flood-risk/internal/resilience"
	"github.com/sells-group/flood-risk/pkg/geocode"
)

// Miss classes recorded in addition to the resilience error classes.
const (
	ClassInvalid   = "invalid"
	ClassUnmatched = "unmatched"
)

// Miss is a row that could not be geocoded.
type Miss struct {
	Row     int    `yaml:"row"`
	Address string `yaml:"address"`
	Class   string `yaml:"class"`
	Reason  string `yaml:"reason"`
}

type counts struct {
	geocoded, unmatched, invalid, errors int
	// sources counts geocoded rows per backend that resolved them.
	sources map[string]int
}

func (c *counts) resolved(source string) {
	c.geocoded++
	if c.sources == nil {
		c.sources = make(map[string]int)
	}
	c.sources[source]++
}

// Process resolves every row in input order, one at a time. Row problems
// degrade that row and never stop the run; only cancellation does.
func (p *Pipeline) Process(ctx context.Context) error {
	if err := p.enter(StageLoading, StageProcessing); err != nil {
		return err
	}
	start := p.clock.Now()

	p.records = make([]model.Record, 0, len(p.table.Rows))
	for i, row := range p.table.Rows {
		rec, err := p.processRow(ctx, i+1, row)
		if err != nil {
			return err
		}
		p.records = append(p.records, rec)
	}

	p.recordCacheStats()

	p.log.Info("pipeline: rows processed",
		zap.Int("rows", len(p.records)),
		zap.Int("geocoded", p.counts.geocoded),
		zap.Int("unmatched", p.counts.unmatched),
		zap.Int("invalid", p.counts.invalid),
		zap.Int("errors", p.counts.errors),
	)
	p.finish(StageProcessing, start)
	return nil
}

func (p *Pipeline) processRow(ctx context.Context, rowNum int, row []string) (model.Record, error) {
	addr := address.Parse(rowNum, p.columns.Fields(row))
	normalized := address.Normalize(addr)
	log := p.log.With(zap.Int("row", rowNum), zap.String("address", normalized))

	rec := model.Record{
		Row:     rowNum,
		Cells:   row,
		Address: addr,
		Risks:   make([]model.RiskValue, len(p.layers)),
	}
	for i := range rec.Risks {
		rec.Risks[i] = model.NoData
	}

	if !addr.Valid {
		log.Warn("pipeline: invalid address", zap.String("problem", addr.Problem))
		p.miss(rowNum, normalized, ClassInvalid, addr.Problem)
		p.counts.invalid++
		p.metrics.Rows.WithLabelValues("invalid").Inc()
		return rec, nil
	}

	res, err := p.geocode(ctx, addr)
	switch {
	case err != nil && ctx.Err() != nil:
		return rec, eris.Wrap(ctx.Err(), "pipeline: interrupted")
	case err != nil:
		class := resilience.ClassifyError(err)
		log.Warn("pipeline: geocoding failed", zap.String("class", class), zap.Error(err))
		p.miss(rowNum, normalized, class, err.Error())
		p.counts.errors++
		p.metrics.Rows.WithLabelValues("error").Inc()
		return rec, nil
	case !res.Matched:
		log.Warn("pipeline: address not found", zap.String("method", p.geocoder.Name()))
		p.miss(rowNum, normalized, ClassUnmatched, "no match")
		p.counts.unmatched++
		p.metrics.Rows.WithLabelValues("unmatched").Inc()
		return rec, nil
	}

	coord := res.Coordinate
	rec.Coordinate = &coord
	rec.RDX, rec.RDY = res.RDX, res.RDY
	rec.Source = res.Source
	p.counts.resolved(rec.Source)
	log.Debug("pipeline: geocoded", zap.Stringer("coordinate", coord), zap.String("source", rec.Source))
	p.metrics.Rows.WithLabelValues("geocoded").Inc()

	for i, layer := range p.layers {
		v := layer.SamplePoint(geo.Point{X: rec.RDX, Y: rec.RDY}, geo.RDNew)
		rec.Risks[i] = v
		if v.Valid {
			p.metrics.Samples.WithLabelValues(layer.Name, "value").Inc()
			continue
		}
		p.metrics.Samples.WithLabelValues(layer.Name, "nodata").Inc()
		log.Warn("pipeline: no risk value at address", zap.String("layer", layer.Name))
	}
	return rec, nil
}

func (p *Pipeline) geocode(ctx context.Context, addr model.Address) (*geocode.Result, error) {
	method := p.geocoder.Name()
	start := p.clock.Now()
	res, err := p.geocoder.Geocode(ctx, addr)
	p.metrics.GeocodeDuration.WithLabelValues(method).Observe(p.clock.Since(start).Seconds())

	switch {
	case err != nil:
		p.metrics.GeocodeRequests.WithLabelValues(method, "error").Inc()
	case res.Matched:
		p.metrics.GeocodeRequests.WithLabelValues(method, "match").Inc()
	default:
		p.metrics.GeocodeRequests.WithLabelValues(method, "miss").Inc()
	}
	return res, err
}

func (p *Pipeline) miss(row int, addr, class, reason string) {
	p.misses = append(p.misses, Miss{Row: row, Address: addr, Class: class, Reason: reason})
}

// recordCacheStats copies the geocoder's cache counters into the metrics and
// the report when the geocoder is cached.
func (p *Pipeline) recordCacheStats() {
	cached, ok := p.geocoder.(interface{ Stats() geocode.CacheStats })
	if !ok {
		return
	}
	stats := cached.Stats()
	p.cache = &stats
	p.metrics.GeocodeCache.WithLabelValues("hit").Add(float64(stats.Hits))
	p.metrics.GeocodeCache.WithLabelValues("miss").Add(float64(stats.Misses))
	p.log.Debug("pipeline: geocode cache", zap.Int("hits", stats.Hits), zap.Int("misses", stats.Misses))
}
