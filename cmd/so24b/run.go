package main

import (
	"os"

	"github.com/spf13/cobra"
)

func runRun(cmd *cobra.Command, args []string) error {
	log := newLogger(cmd.Flags())
	ticks, _ := cmd.Flags().GetInt(flagTicks)

	k, cpu, clock, err := boot(cmd.Flags(), log)
	if err != nil {
		return err
	}
	driveClock(k, cpu, clock, ticks)

	if err := k.Err(); err != nil {
		log.Error().Err(err).Msg("run: kernel halted on internal fault")
	}
	return k.WriteReport(os.Stdout)
}
