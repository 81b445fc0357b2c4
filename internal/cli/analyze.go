package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/edgard/lifetracker/internal/contacts"
)

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <contact-id>",
		Short: "Fetch the chat history of a contact and analyze it",
		Long: `Fetch the chat history of a contact, analyze it and store the result.

An interrupt stops waiting for the result but not the run itself: the
command exits once the run has finished and its result is stored or it
has failed or timed out.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid contact id %q", args[0])
			}

			a, _, _, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			observer := contacts.ObserverFunc(func(_ context.Context, contactID int64, state contacts.State, err error) {
				if err != nil {
					fmt.Fprintf(out, "[%d] %s: %v\n", contactID, state, err)
					return
				}
				fmt.Fprintf(out, "[%d] %s\n", contactID, state)
			})

			analyzer, _, err := a.NewAnalyzer(cmd.Context(), contacts.WithObserver(observer))
			if err != nil {
				return err
			}
			defer analyzer.Wait()

			contact, err := analyzer.Analyze(cmd.Context(), id)
			if err != nil {
				return err
			}

			summary, err := json.MarshalIndent(contact.Summary, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode summary: %w", err)
			}
			fmt.Fprintf(out, "%s\n", summary)
			return nil
		},
	}
}
