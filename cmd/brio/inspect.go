package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/briolang/brio/loader"
)

var (
	inspectTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#7D56F4")).
				Padding(0, 1)

	inspectHeadStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#87CEEB"))

	inspectItemStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#98FB98"))

	inspectDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func newInspectCmd() *cobra.Command {
	var noCache bool

	cmd := &cobra.Command{
		Use:   "inspect <artifact>",
		Short: "Print a module artifact's tables without loading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveEntry(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			digest := loader.ComputeDigest(data)

			var cache *loader.Cache
			if !noCache {
				if cache, err = loader.OpenCache("brio"); err != nil {
					return err
				}
			}

			var sum loader.Summary
			cached, err := cache.Get(digest, &sum)
			if err != nil {
				return err
			}
			if !cached {
				img, err := loader.DecodeImage(data)
				if err != nil {
					return err
				}
				sum = *loader.Summarize(img)
				if err := cache.Put(digest, &sum); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(path, digest, &sum, cached))
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "always decode, skip the summary cache")
	return cmd
}

func renderSummary(path string, digest loader.Digest, s *loader.Summary, cached bool) string {
	var b strings.Builder

	b.WriteString(inspectTitleStyle.Render(s.Name))
	b.WriteString(" ")
	b.WriteString(inspectDimStyle.Render(path))
	if cached {
		b.WriteString(inspectDimStyle.Render(" (cached)"))
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "%s %d\n", inspectHeadStyle.Render("abi version"), s.ABIVersion)
	fmt.Fprintf(&b, "%s %s\n", inspectHeadStyle.Render("digest     "), digest)
	fmt.Fprintf(&b, "%s %d bytes\n", inspectHeadStyle.Render("code       "), s.CodeSize)

	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString("\n")
		b.WriteString(inspectHeadStyle.Render(title))
		b.WriteString("\n")
		for _, it := range items {
			fmt.Fprintf(&b, "  %s\n", inspectItemStyle.Render(it))
		}
	}
	section("dependencies", s.Dependencies)
	section("types", s.Types)
	section("functions", s.Functions)
	section("externs", s.Externs)

	return b.String()
}
