package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/briolang/brio/runtime"
)

func newRunCmd(verbose *bool) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "run <artifact> [function [args...]]",
		Short: "Load a module and call one of its functions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger(*verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			path, err := resolveEntry(args[0])
			if err != nil {
				return err
			}
			rt, err := runtime.New(path, runtime.Options{Logger: log})
			if err != nil {
				return err
			}

			if list || len(args) == 1 {
				return listFunctions(cmd, rt)
			}

			name := args[1]
			fn, err := rt.FindFunction(name)
			if err != nil {
				return err
			}
			def, _ := rt.Module().Function(name)
			hostArgs, err := parseArgs(args[2:], def.Prototype.ArgumentTypes)
			if err != nil {
				return err
			}

			out, err := fn.Call(hostArgs...)
			if err != nil {
				return err
			}
			if out == nil {
				color.New(color.Faint).Fprintln(cmd.OutOrStdout(), "(no value)")
				return nil
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "%v\n", out)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list exported functions and exit")
	return cmd
}

func listFunctions(cmd *cobra.Command, rt *runtime.Runtime) error {
	m := rt.Module()
	bold := color.New(color.Bold)
	dim := color.New(color.Faint)

	bold.Fprintf(cmd.OutOrStdout(), "%s\n", m.Name)
	for _, name := range m.Functions() {
		def, _ := m.Function(name)
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", dim.Sprint(def.Prototype.Signature()))
	}
	return nil
}
