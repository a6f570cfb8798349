package cmd

import (
	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/navcompile-go/internal/artifact"
	"github.com/wegman-software/navcompile-go/internal/logger"
)

var artifactCmd = &cobra.Command{
	Use:   "artifact",
	Short: "Work with framed artifacts (replays, layouts, prep scripts, BGL files)",
}

var artifactInspectCmd = &cobra.Command{
	Use:   "inspect <file>...",
	Short: "Identify framed files and print their header and contents summary",
	Args:  cobra.MinimumNArgs(1),
	Run:   runArtifactInspect,
}

func init() {
	rootCmd.AddCommand(artifactCmd)
	artifactCmd.AddCommand(artifactInspectCmd)
}

func runArtifactInspect(cmd *cobra.Command, args []string) {
	log := logger.Get()
	failed := 0
	for _, path := range args {
		info, err := artifact.Inspect(path)
		if err != nil {
			log.Error("Not a readable artifact", zap.String("file", path), zap.Error(err))
			failed++
			continue
		}
		log.Info(info.Detail,
			zap.String("file", path),
			zap.String("type", info.Type),
			zap.String("magic", info.Magic),
			zap.Uint16("version", info.Version),
			zap.Uint16("flags", info.Flags),
			zap.Uint32("payload_bytes", info.Length))
	}
	if failed > 0 {
		exitWithError("some files could not be inspected", nil)
	}
}
