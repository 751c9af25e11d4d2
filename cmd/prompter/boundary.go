package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/s33g/prompter/internal/app"
	"github.com/s33g/prompter/internal/conversation"
)

func newBoundaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boundary",
		Short: "Show which exchanges would be sent with the next message",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			session, err := rt.newSession(ctx, cmd, app.Options{})
			if err != nil {
				return err
			}

			printBoundary(cmd.OutOrStdout(), session.Boundary())
			return nil
		},
	}
}

// printBoundary reports the boundary against the answered history; failed
// turns are never candidates
func printBoundary(w io.Writer, b *conversation.Boundary) {
	s := b.Stats
	fmt.Fprintf(w, "%d of %d included\n", s.IncludedCount, s.IncludedCount+s.ExcludedCount)
	fmt.Fprintf(w, "  model:          %s\n", s.Model)
	fmt.Fprintf(w, "  history tokens: %d of %d usable\n", s.PredictedHistoryTokens, s.MaxUsable)
	fmt.Fprintf(w, "  max context:    %d (window %d", s.MaxContext, s.ContextWindow)
	if s.TokensPerMinute > 0 {
		fmt.Fprintf(w, ", tpm %d", s.TokensPerMinute)
	}
	fmt.Fprintln(w, ")")
	fmt.Fprintf(w, "  allowance:      %d tokens at %.2f chars/token\n", s.UserRequestAllowance, s.CharsPerToken)
	if len(s.DirtyReasons) > 0 {
		fmt.Fprintf(w, "  recomputed for: %s\n", strings.Join(s.DirtyReasons, ", "))
	}
	if len(b.Included) > 0 {
		fmt.Fprintf(w, "  oldest sent:    %s\n", b.Included[0].ID)
	}
}
