package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func newDownloadCmd(a *app) *cobra.Command {
	var rateLimit int64
	var remove bool
	cmd := &cobra.Command{
		Use:   "download <model-id>",
		Short: "Download a model from the Hugging Face hub",
		Long: `Download a model repository into the download directory.

Files already present are skipped, so an interrupted download resumes at
the first missing file. Set HF_TOKEN for gated repositories.

Example:
  streamd download mlx-community/Qwen3-1.7B-4bit
  streamd download --rate-limit 5000000 mlx-community/Qwen3-1.7B-4bit
  streamd download --delete mlx-community/Qwen3-1.7B-4bit`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			dl := newDownloader(a.cfg, a.log, rateLimit)
			if remove {
				if err := dl.Delete(id); err != nil {
					return err
				}
				fmt.Println("deleted", dl.ModelDir(id))
				return nil
			}
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt)
			defer stop()
			dir, err := dl.Download(ctx, id, func(p float64) {
				fmt.Fprintf(os.Stderr, "\r%s %5.1f%%", id, p*100)
			})
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}
			fmt.Println(dir)
			return nil
		},
	}
	cmd.Flags().Int64Var(&rateLimit, "rate-limit", 0, "Maximum download rate in bytes per second (0 = unlimited)")
	cmd.Flags().BoolVar(&remove, "delete", false, "Delete the downloaded model instead")
	return cmd
}
