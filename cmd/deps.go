package cmd

import (
	"os"

	"jukebox/config"
	"jukebox/deps"

	"github.com/spf13/cobra"
)

// depsCmd checks that the external media tools are installed
var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Check external dependencies",
	Long:  "Check that ffmpeg and yt-dlp can be found on the PATH.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		return deps.NewChecker(cfg.Media.FFmpeg, "yt-dlp").CheckAndPrint(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(depsCmd)
}
