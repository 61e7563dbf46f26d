package pipeline

import (
	"context"
	"encoding/csv"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flood-risk/internal/model"
)

// Write emits every record in input order to the output CSV, then the
// optional shapefile, run report and metrics textfile.
func (p *Pipeline) Write(ctx context.Context) (*Summary, error) {
	if err := p.enter(StageProcessing, StageWriting); err != nil {
		return nil, err
	}
	start := p.clock.Now()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "pipeline: interrupted")
	}
	if err := p.writeCSV(); err != nil {
		return nil, err
	}
	p.log.Info("pipeline: output written", zap.String("path", p.cfg.Output.Path), zap.Int("rows", len(p.records)))

	if path := p.cfg.Output.Shapefile; path != "" {
		n, err := writeShapefile(path, p.layers, p.records)
		if err != nil {
			return nil, err
		}
		p.log.Info("pipeline: shapefile written", zap.String("path", path), zap.Int("points", n))
	}

	p.finish(StageWriting, start)
	p.stage = StageDone

	finished := p.clock.Now()
	p.metrics.LastRunTimestamp.Set(float64(finished.Unix()))
	summary := p.summary(finished)

	if path := p.cfg.Output.Report; path != "" {
		if err := writeReport(path, summary); err != nil {
			return nil, err
		}
		p.log.Info("pipeline: report written", zap.String("path", path))
	}
	if path := p.cfg.Output.MetricsFile; path != "" {
		if err := p.metrics.WriteTextfile(path); err != nil {
			return nil, err
		}
	}

	p.log.Info("pipeline: done",
		zap.Int("rows", summary.Rows),
		zap.Int("geocoded", summary.Geocoded),
		zap.Duration("duration", summary.Duration()),
	)
	return summary, nil
}

// writeCSV fills the temp file created by Load and renames it over the
// output path.
func (p *Pipeline) writeCSV() error {
	tmp := p.tmp
	if tmp == nil {
		return eris.New("pipeline: output not prepared")
	}

	w := csv.NewWriter(tmp)
	header := append(append([]string{}, p.table.Header...), p.extraColumns()...)
	if err := w.Write(header); err != nil {
		return eris.Wrap(err, "pipeline: write header")
	}
	for i := range p.records {
		if err := w.Write(p.row(&p.records[i])); err != nil {
			return eris.Wrapf(err, "pipeline: write row %d", p.records[i].Row)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "pipeline: flush output")
	}
	if err := tmp.Chmod(0o644); err != nil {
		return eris.Wrap(err, "pipeline: chmod output")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "pipeline: close output")
	}
	if err := os.Rename(tmp.Name(), p.cfg.Output.Path); err != nil {
		return eris.Wrapf(err, "pipeline: move output into %s", p.cfg.Output.Path)
	}
	p.tmp = nil
	return nil
}

// row renders one output line: input cells untouched, then coordinates when
// requested, then one value per layer.
func (p *Pipeline) row(rec *model.Record) []string {
	sentinel := p.cfg.Risk.NoDataValue
	out := make([]string, 0, len(rec.Cells)+4+len(rec.Risks))
	out = append(out, rec.Cells...)

	if p.cfg.Output.Coordinates {
		if rec.Geocoded() {
			out = append(out,
				strconv.FormatFloat(rec.Coordinate.Lon, 'f', 6, 64),
				strconv.FormatFloat(rec.Coordinate.Lat, 'f', 6, 64),
				strconv.FormatFloat(rec.RDX, 'f', 2, 64),
				strconv.FormatFloat(rec.RDY, 'f', 2, 64),
			)
		} else {
			out = append(out, sentinel, sentinel, sentinel, sentinel)
		}
	}
	for _, v := range rec.Risks {
		out = append(out, v.String(sentinel))
	}
	return out
}
