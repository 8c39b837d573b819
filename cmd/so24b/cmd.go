// Package main wires the kernel package to the simref reference harness
// behind a small cobra CLI: `so24b run` boots a kernel and drives its
// clock for a bounded number of ticks, `so24b report` does the same run
// and prints only its final report (as a table with --table). Parsing real program binaries and driving a
// real simulator are both out of scope for this module; run operates
// against whatever programs have been registered with the in-memory
// loader, which in this CLI is just a fixed demo image.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	flagPolicy      = "policy"
	flagReplacement = "replacement"
	flagQuantum     = "quantum"
	flagTicks       = "ticks"
	flagVerbose     = "verbose"
	flagTable       = "table"
)

var rootCmd = &cobra.Command{
	Use:   "so24b",
	Short: "A pedagogical, single-threaded interrupt-driven kernel",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			cmd.Help()
			os.Exit(0)
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot a kernel over the reference harness and run it for a bounded number of ticks",
	RunE:  runRun,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Run the kernel and print only the final report",
	RunE:  runReport,
}

func setupCLI() *cobra.Command {
	for _, cmd := range []*cobra.Command{runCmd, reportCmd} {
		fs := cmd.Flags()
		fs.String(flagPolicy, "simple", "scheduler policy: simple, round_robin, priority")
		fs.String(flagReplacement, "fifo", "page replacement policy: fifo, second_chance")
		fs.Int(flagQuantum, 10, "initial quantum for round_robin/priority")
		fs.Int(flagTicks, 200, "number of clock ticks to run before stopping")
	}
	reportCmd.Flags().Bool(flagTable, false, "render the per-process report as a table instead of plain text")
	rootCmd.PersistentFlags().Bool(flagVerbose, false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reportCmd)
	return rootCmd
}

func newLogger(fs *pflag.FlagSet) zerolog.Logger {
	verbose, _ := fs.GetBool(flagVerbose)
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func main() {
	if err := setupCLI().Execute(); err != nil {
		fail(err)
	}
}
