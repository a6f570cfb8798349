package cmd

import (
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/navcompile-go/internal/logger"
	"github.com/wegman-software/navcompile-go/internal/script"
)

var scriptOutput string

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Work with Lua prep scripts",
}

var scriptCompileCmd = &cobra.Command{
	Use:   "compile <prep.lua>",
	Short: "Syntax check a prep script and frame it as an .nvps artifact",
	Args:  cobra.ExactArgs(1),
	Run:   runScriptCompile,
}

func init() {
	rootCmd.AddCommand(scriptCmd)
	scriptCmd.AddCommand(scriptCompileCmd)

	scriptCompileCmd.Flags().StringVarP(&scriptOutput, "output", "o", "", "Output file (default: input with .nvps extension)")
}

func runScriptCompile(cmd *cobra.Command, args []string) {
	log := logger.Get()
	in := args[0]
	out := scriptOutput
	if out == "" {
		out = strings.TrimSuffix(in, ".lua") + ".nvps"
	}

	c, err := script.CompileFile(in)
	if err != nil {
		exitWithError("script does not compile", err)
	}
	if !c.HasPrepare {
		log.Warn("Script defines no prepare function, records pass through unchanged", zap.String("script", in))
	}

	f, err := os.Create(out)
	if err != nil {
		exitWithError("failed to create output", err)
	}
	n, err := c.WriteTo(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		exitWithError("failed to write artifact", err)
	}
	log.Info("Script compiled",
		zap.String("script", in),
		zap.String("artifact", out),
		zap.Int64("bytes", n),
		zap.Bool("prepare", c.HasPrepare))
}
