package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/flood-risk/internal/geo"
	"github.com/sells-group/flood-risk/internal/raster"
)

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "List the raster layers found in the risk-data folder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		layers, err := raster.Discover(cmd.Context(), cfg.Risk.Path, cfg.Risk.Recursive, geo.EPSG(cfg.Risk.DefaultEPSG))
		if err != nil {
			return err
		}
		defer raster.CloseAll(layers)

		formatLayers(os.Stdout, layers)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(layersCmd)
}

// formatLayers writes one line per layer: output column, file, CRS, size
// in pixels and bounds in the layer's CRS.
func formatLayers(out io.Writer, layers []*raster.Layer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COLUMN\tFILE\tEPSG\tSIZE\tBOUNDS")
	_, _ = fmt.Fprintln(w, "------\t----\t----\t----\t------")

	for _, l := range layers {
		b := l.Bounds()
		nodata := ""
		if v, ok := l.NoData(); ok {
			nodata = fmt.Sprintf(" nodata=%g", v)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%dx%d\t%.2f,%.2f %.2f,%.2f%s\n",
			l.Name,
			l.Path,
			int(l.EPSG),
			l.Width, l.Height,
			b.MinX, b.MinY, b.MaxX, b.MaxY,
			nodata,
		)
	}
	_ = w.Flush()
}
