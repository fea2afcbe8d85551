package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tracksync/tracksync-go/internal/download"
)

func newArtworkCmd(a *app) *cobra.Command {
	var b download.ArtworkBatch

	cmd := &cobra.Command{
		Use:   "artwork <folder>",
		Short: "Pair and embed album art in an existing playlist folder",
		Long: "Rename numbered images (1_*.jpg, 2_*.png, ...) after the audio files of a finished batch, " +
			"skipping the positions listed in not_found.csv, then embed each image into its file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b.Dir = args[0]
			if b.MuxerPath == "" {
				b.MuxerPath = a.cfg.Tools.MuxerPath
			}
			if b.MaxSize == 0 {
				b.MaxSize = a.cfg.Artwork.MaxSize
			}

			rep, err := download.NewManager(nil, nil, a.logger).RunArtwork(cmd.Context(), b)
			if rep != nil {
				color.New(color.Bold).Fprintln(a.stdout, b.Dir)
				if rep.Imported > 0 {
					a.printf("  imported    %d images\n", rep.Imported)
				}
				printArtwork(a.stdout, rep)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&b.SourcePath, "source", "", "Playlist CSV the folder was built from, to rewrite tags as well")
	cmd.Flags().StringVar(&b.Archive, "archive", "", "Zip file or URL of numbered artwork to import first")
	cmd.Flags().IntVar(&b.MaxSize, "max-size", 0, "Downscale artwork to this many pixels on the long edge")
	cmd.Flags().StringVar(&b.MuxerPath, "ffmpeg", "", "Path to ffmpeg (default: discovered)")
	return cmd
}
