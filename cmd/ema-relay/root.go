package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ema-relay",
		Short: "Relay finalized transcripts of a realtime voice session",
		Long: `ema-relay listens to a realtime voice session, finalizes the user and
assistant transcripts and relays every utterance to a backend exactly once.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging on stderr before the log file is set up")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newSchemaCommand())

	return cmd
}

func execute() error {
	return newRootCommand().Execute()
}
