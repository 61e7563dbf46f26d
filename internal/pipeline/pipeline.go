// Package pipeline runs the flood-risk batch: load the address table and the
// raster layers, resolve every row, then write the enriched table.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flood-risk/internal/address"
	"github.com/sells-group/flood-risk/internal/config"
	"github.com/sells-group/flood-risk/internal/fetcher"
	"github.com/sells-group/flood-risk/internal/geo"
	"github.com/sells-group/flood-risk/internal/model"
	"github.com/sells-group/flood-risk/internal/observability"
	"github.com/sells-group/flood-risk/internal/raster"
	"github.com/sells-group/flood-risk/pkg/geocode"
)

// Stage is a pipeline state. Stages only move forward.
type Stage int

const (
	StageIdle Stage = iota
	StageLoading
	StageProcessing
	StageWriting
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "IDLE"
	case StageLoading:
		return "LOADING"
	case StageProcessing:
		return "PROCESSING"
	case StageWriting:
		return "WRITING"
	case StageDone:
		return "DONE"
	}
	return "UNKNOWN"
}

// Output column names added after the input columns.
const (
	ColLongitude   = "longitude"
	ColLatitude    = "latitude"
	ColAmersfoortX = "amersfoort_x"
	ColAmersfoortY = "amersfoort_y"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock sets the time source used for stage timings.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithMetrics sets the metrics the run records into.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// Pipeline holds the state of one run.
type Pipeline struct {
	cfg      *config.Config
	geocoder geocode.Client
	clock    clockwork.Clock
	metrics  *observability.Metrics
	runID    string
	log      *zap.Logger

	stage     Stage
	startedAt time.Time
	stages    []StageTiming

	input   string
	table   *fetcher.Table
	columns address.Columns
	layers  []*raster.Layer
	tmp     *os.File

	records []model.Record
	misses  []Miss
	counts  counts
	cache   *geocode.CacheStats
}

// New creates a pipeline over an already opened geocoder.
func New(cfg *config.Config, gc geocode.Client, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg, geocoder: gc}
	for _, opt := range opts {
		opt(p)
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	if p.metrics == nil {
		p.metrics = observability.NewMetrics()
	}
	if p.runID == "" {
		p.runID = uuid.NewString()
	}
	p.log = zap.L().With(zap.String("run_id", p.runID))
	return p
}

// RunID identifies this run in logs and the report.
func (p *Pipeline) RunID() string { return p.runID }

// Stage returns the current stage.
func (p *Pipeline) Stage() Stage { return p.stage }

// Records returns the output records built by Process.
func (p *Pipeline) Records() []model.Record { return p.records }

// Layers returns the discovered raster layers.
func (p *Pipeline) Layers() []*raster.Layer { return p.layers }

// Run executes Load, Process and Write in order.
func (p *Pipeline) Run(ctx context.Context, input string) (*Summary, error) {
	defer p.Close() //nolint:errcheck

	if err := p.Load(ctx, input); err != nil {
		return nil, err
	}
	if err := p.Process(ctx); err != nil {
		return nil, err
	}
	return p.Write(ctx)
}

// enter moves the pipeline to stage next, which must follow from.
func (p *Pipeline) enter(from, next Stage) error {
	if p.stage != from {
		return eris.Errorf("pipeline: cannot enter %s from %s", next, p.stage)
	}
	p.stage = next
	p.log.Info("pipeline: stage", zap.Stringer("stage", next))
	return nil
}

// finish records how long the current stage took.
func (p *Pipeline) finish(stage Stage, start time.Time) {
	d := p.clock.Since(start)
	p.stages = append(p.stages, StageTiming{Stage: stage.String(), Seconds: d.Seconds()})
	p.metrics.StageDuration.WithLabelValues(strings.ToLower(stage.String())).Set(d.Seconds())
	p.log.Info("pipeline: stage complete",
		zap.Stringer("stage", stage),
		zap.Int64("duration_ms", d.Milliseconds()),
	)
}

// Load reads the input table, checks its columns, opens every raster layer
// and proves the output location is writable.
func (p *Pipeline) Load(ctx context.Context, input string) error {
	if err := p.enter(StageIdle, StageLoading); err != nil {
		return err
	}
	p.startedAt = p.clock.Now()
	p.input = input

	table, err := fetcher.ReadTable(ctx, input, p.tableOptions())
	if err != nil {
		return eris.Wrap(err, "pipeline: load input")
	}
	cols, missing := address.MapColumns(table.Header)
	if len(missing) > 0 {
		return eris.Wrapf(fetcher.ErrMissingColumns, "pipeline: %s lacks %s", input, strings.Join(missing, ", "))
	}
	p.table, p.columns = table, cols
	p.log.Info("pipeline: input loaded", zap.String("path", input), zap.Int("rows", len(table.Rows)))

	layers, err := raster.Discover(ctx, p.cfg.Risk.Path, p.cfg.Risk.Recursive, geo.EPSG(p.cfg.Risk.DefaultEPSG))
	if err != nil {
		return eris.Wrap(err, "pipeline: discover layers")
	}
	p.layers = layers
	p.metrics.Layers.Set(float64(len(layers)))
	p.log.Info("pipeline: layers loaded",
		zap.String("path", p.cfg.Risk.Path),
		zap.Strings("columns", raster.Names(layers)),
	)

	if err := checkCollisions(table.Header, p.extraColumns()); err != nil {
		return err
	}

	out := p.cfg.Output.Path
	tmp, err := os.CreateTemp(filepath.Dir(out), "."+filepath.Base(out)+".*.tmp")
	if err != nil {
		return eris.Wrapf(err, "pipeline: output %s is not writable", out)
	}
	p.tmp = tmp

	p.finish(StageLoading, p.startedAt)
	return nil
}

func (p *Pipeline) tableOptions() fetcher.TableOptions {
	return TableOptions(p.cfg.Input)
}

// TableOptions maps input settings to reader options.
func TableOptions(in config.InputConfig) fetcher.TableOptions {
	return fetcher.TableOptions{
		Sheet:     in.Sheet,
		Comment:   in.CommentRune(),
		TrimSpace: in.TrimSpace,
	}
}

// extraColumns are the columns appended to the input header.
func (p *Pipeline) extraColumns() []string {
	var cols []string
	if p.cfg.Output.Coordinates {
		cols = append(cols, ColLongitude, ColLatitude, ColAmersfoortX, ColAmersfoortY)
	}
	return append(cols, raster.Names(p.layers)...)
}

// checkCollisions rejects output columns that already exist in the input.
func checkCollisions(header, extra []string) error {
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		seen[strings.ToLower(strings.TrimSpace(h))] = true
	}
	var dup []string
	for _, c := range extra {
		if seen[c] {
			dup = append(dup, c)
		}
	}
	if len(dup) > 0 {
		return eris.Errorf("pipeline: input already has output column(s) %s", strings.Join(dup, ", "))
	}
	return nil
}

// Close releases the raster layers and removes an unused temp file.
func (p *Pipeline) Close() error {
	raster.CloseAll(p.layers)
	p.layers = nil
	if p.tmp != nil {
		_ = p.tmp.Close()
		if err := os.Remove(p.tmp.Name()); err != nil && !os.IsNotExist(err) {
			return eris.Wrap(err, "pipeline: remove temp file")
		}
		p.tmp = nil
	}
	return nil
}
