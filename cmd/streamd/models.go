package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"streamd/internal/registry"
	"streamd/pkg/types"
)

func newModelsCmd(a *app) *cobra.Command {
	var asJSON, downloadedOnly bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List known models",
		Long: `List the built-in catalog, downloaded models and *.gguf files in the
models directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			idx := registry.NewIndex(a.cfg.ModelsDir, newDownloader(a.cfg, a.log, 0), a.log)
			models := idx.List()
			if downloadedOnly {
				kept := models[:0]
				for _, m := range models {
					if m.Downloaded {
						kept = append(kept, m)
					}
				}
				models = kept
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(types.ModelsResponse{Models: models})
			}
			return printModels(os.Stdout, models)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&downloadedOnly, "downloaded", false, "Only models available locally")
	return cmd
}

func printModels(out io.Writer, models []types.Model) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPARAMS\tQUANT\tSIZE\tLOCAL")
	for _, m := range models {
		local := ""
		if m.Downloaded {
			local = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", m.ID, m.Name, m.Parameters, m.Quant, humanBytes(m.DownloadSize), local)
	}
	return w.Flush()
}

func humanBytes(n int64) string {
	if n <= 0 {
		return "-"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
