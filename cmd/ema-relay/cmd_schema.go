package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/danstonedev/EMRsim-chat-sub004/core/relay/webhook"
	"github.com/spf13/cobra"
)

func newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of relayed utterances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(webhook.PayloadSchema()); err != nil {
				return fmt.Errorf("failed to encode schema: %w", err)
			}
			return nil
		},
	}

	cmd.AddCommand(newSchemaValidateCommand())
	return cmd
}

func newSchemaValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [payload.json|-]",
		Short: "Check a relay payload against the schema",
		Long: `Check a relay payload against the schema. The payload is read from the
given file, or from stdin when the argument is omitted or "-".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(cmd, args)
			if err != nil {
				return err
			}

			problems := webhook.ValidateJSON(raw)
			if len(problems) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "payload is valid")
				return nil
			}
			for _, problem := range problems {
				fmt.Fprintln(cmd.OutOrStdout(), problem)
			}
			return &InvalidPayloadError{Problems: problems}
		},
	}
}

func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read payload from stdin: %w", err)
		}
		return raw, nil
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	return raw, nil
}
