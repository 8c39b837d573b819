package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func runReport(cmd *cobra.Command, args []string) error {
	log := newLogger(cmd.Flags())
	ticks, _ := cmd.Flags().GetInt(flagTicks)
	asTable, _ := cmd.Flags().GetBool(flagTable)

	k, cpu, clock, err := boot(cmd.Flags(), log)
	if err != nil {
		return err
	}
	driveClock(k, cpu, clock, ticks)

	if asTable {
		fmt.Fprintln(os.Stdout, string(k.RenderTable()))
		return nil
	}
	return k.WriteReport(os.Stdout)
}
