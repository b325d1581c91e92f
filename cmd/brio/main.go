// Command brio runs, inspects and watches compiled module artifacts.
package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/briolang/brio/project"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:          "brio",
		Short:        "Brio module runner",
		Long:         "brio loads compiled module artifacts, calls their exported functions,\nand hot-reloads them while you work.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newRunCmd(&verbose),
		newInspectCmd(),
		newWatchCmd(&verbose),
	)
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return cfg.Build()
}

// resolveEntry accepts an artifact path, a manifest path, or a directory
// containing (possibly above it) a brio.toml.
func resolveEntry(arg string) (string, error) {
	if strings.HasSuffix(arg, project.ManifestName) {
		p, err := project.Load(arg)
		if err != nil {
			return "", err
		}
		return p.EntryPath(), nil
	}
	if info, err := os.Stat(arg); err == nil && info.IsDir() {
		p, err := project.Find(arg)
		if err != nil {
			return "", err
		}
		return p.EntryPath(), nil
	}
	return arg, nil
}
