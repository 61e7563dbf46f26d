package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/flood-risk/internal/address"
	"github.com/sells-group/flood-risk/internal/fetcher"
	"github.com/sells-group/flood-risk/internal/pipeline"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize <address-file>",
	Short: "Print the normalized address of every row without geocoding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		table, err := fetcher.ReadTable(cmd.Context(), args[0], pipeline.TableOptions(cfg.Input))
		if err != nil {
			return err
		}
		cols, missing := address.MapColumns(table.Header)
		if len(missing) > 0 {
			return eris.Wrapf(fetcher.ErrMissingColumns, "%s lacks %s", args[0], strings.Join(missing, ", "))
		}

		formatNormalized(os.Stdout, table, cols)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(normalizeCmd)
}

// formatNormalized writes the row number, normalized address and, for rows
// that cannot be geocoded, the reason.
func formatNormalized(out io.Writer, table *fetcher.Table, cols address.Columns) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ROW\tADDRESS\tPROBLEM")
	_, _ = fmt.Fprintln(w, "---\t-------\t-------")

	for i, row := range table.Rows {
		addr := address.Parse(i+1, cols.Fields(row))
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", addr.Row, address.Normalize(addr), addr.Problem)
	}
	_ = w.Flush()
}
