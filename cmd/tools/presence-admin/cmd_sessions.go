package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	sessionsLimit  int
	sessionsCursor string
)

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "page size (max 100)")
	sessionsCmd.Flags().StringVar(&sessionsCursor, "cursor", "", "cursor printed by the previous page")
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions <userId>",
	Short: "List a user's sessions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		defer core.Close()

		page, err := core.Query.ListSessions(cmd.Context(), args[0], sessionsLimit, sessionsCursor)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(page.Sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tENDED\tDURATION\tREASON")
		for _, s := range page.Sessions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				s.ID,
				s.StartedAt.Format("2006-01-02 15:04:05"),
				formatTime(s.EndedAt),
				(time.Duration(s.DurationMs) * time.Millisecond).String(),
				orDash(string(s.EndReason)),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if page.NextCursor != "" {
			fmt.Printf("\nNext page: --cursor %s\n", page.NextCursor)
		}
		return nil
	},
}
