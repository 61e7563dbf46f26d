package pipeline

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/flood-risk/internal/model"
	"github.com/sells-group/flood-risk/internal/raster"
	"github.com/sells-group/flood-risk/pkg/geocode"
)

// Summary describes a finished run. It is also the run report document.
type Summary struct {
	RunID      string              `yaml:"run_id"`
	Input      string              `yaml:"input"`
	Output     string              `yaml:"output"`
	Shapefile  string              `yaml:"shapefile,omitempty"`
	Method     string              `yaml:"method"`
	StartedAt  time.Time           `yaml:"started_at"`
	FinishedAt time.Time           `yaml:"finished_at"`
	Rows       int                 `yaml:"rows"`
	Geocoded   int                 `yaml:"geocoded"`
	Sources    map[string]int      `yaml:"sources,omitempty"`
	Unmatched  int                 `yaml:"unmatched"`
	Invalid    int                 `yaml:"invalid"`
	Errors     int                 `yaml:"errors"`
	Layers     []LayerSummary      `yaml:"layers"`
	Stages     []StageTiming       `yaml:"stages"`
	Cache      *geocode.CacheStats `yaml:"cache,omitempty"`
	Misses     []Miss              `yaml:"misses,omitempty"`
}

// LayerSummary describes one raster column.
type LayerSummary struct {
	Column string `yaml:"column"`
	Path   string `yaml:"path"`
	EPSG   int    `yaml:"epsg"`
	Values int    `yaml:"values"`
	NoData int    `yaml:"nodata"`
}

// StageTiming is the wall time spent in one stage.
type StageTiming struct {
	Stage   string  `yaml:"stage"`
	Seconds float64 `yaml:"seconds"`
}

// Duration is the total run time.
func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

func (p *Pipeline) summary(finished time.Time) *Summary {
	return &Summary{
		RunID:      p.runID,
		Input:      p.input,
		Output:     p.cfg.Output.Path,
		Shapefile:  p.cfg.Output.Shapefile,
		Method:     p.geocoder.Name(),
		StartedAt:  p.startedAt,
		FinishedAt: finished,
		Rows:       len(p.records),
		Geocoded:   p.counts.geocoded,
		Sources:    p.counts.sources,
		Unmatched:  p.counts.unmatched,
		Invalid:    p.counts.invalid,
		Errors:     p.counts.errors,
		Layers:     layerSummaries(p.layers, p.records),
		Stages:     p.stages,
		Cache:      p.cache,
		Misses:     p.misses,
	}
}

func layerSummaries(layers []*raster.Layer, records []model.Record) []LayerSummary {
	out := make([]LayerSummary, len(layers))
	for i, l := range layers {
		out[i] = LayerSummary{Column: l.Name, Path: l.Path, EPSG: int(l.EPSG)}
		for _, r := range records {
			if !r.Geocoded() {
				continue
			}
			if r.Risks[i].Valid {
				out[i].Values++
			} else {
				out[i].NoData++
			}
		}
	}
	return out
}

// writeReport stores the summary as YAML.
func writeReport(path string, s *Summary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return eris.Wrap(err, "pipeline: marshal report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "pipeline: write report %s", path)
	}
	return nil
}
