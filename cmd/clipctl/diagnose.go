package main

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"clipfactory/internal/appdirs"
	"clipfactory/internal/deps"

	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "version: %s\ncommit: %s\ndate: %s\n", version, commit, date)
}

func newDiagnoseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Print runtime paths and external tool status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var ffmpegPath, ffprobePath string
			if cfg, err := ctx.ensureConfig(); err == nil {
				ffmpegPath, ffprobePath = cfg.App.FfmpegPath, cfg.App.FfprobePath
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "config: <error: %v>\n", err)
			}
			printDiagnose(cmd.OutOrStdout(), deps.ResolveDependencyInventory(ffmpegPath, ffprobePath))
			return nil
		},
	}
}

func printDiagnose(w io.Writer, states []deps.DependencyState) {
	fmt.Fprintf(w, "runtime: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	printVersion(w)

	if exePath, err := os.Executable(); err == nil {
		fmt.Fprintf(w, "executable: %s\n", exePath)
	} else {
		fmt.Fprintf(w, "executable: <error: %v>\n", err)
	}

	if dirs, err := appdirs.Resolve(); err == nil {
		printPath(w, "config", dirs.ConfigFile)
		printPath(w, "log", dirs.LogDir)
		printPath(w, "work", dirs.WorkDir)
		printPath(w, "objects", appdirs.ObjectRootFor(dirs))
		printPath(w, "db", appdirs.DBPathFor(dirs))
	} else {
		fmt.Fprintf(w, "paths: <error: %v>\n", err)
	}

	fmt.Fprintln(w, deps.FormatDependencyReport(states))
}

func printPath(w io.Writer, name, value string) {
	_, err := os.Stat(value)
	switch {
	case err == nil:
		fmt.Fprintf(w, "path.%s: %s (exists)\n", name, value)
	case os.IsNotExist(err):
		fmt.Fprintf(w, "path.%s: %s (missing)\n", name, value)
	default:
		fmt.Fprintf(w, "path.%s: %s (error=%v)\n", name, value, err)
	}
}
