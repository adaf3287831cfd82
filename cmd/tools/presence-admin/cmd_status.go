package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"presence-tracker/internal/presence/query"
)

func init() {
	rootCmd.AddCommand(statusCmd, onlineCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <userId>...",
	Short: "Show current presence of one or more users",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		defer core.Close()

		views := make([]*query.StatusView, 0, len(args))
		for _, userID := range args {
			v, err := core.Query.GetStatus(cmd.Context(), userID)
			if err != nil {
				return fmt.Errorf("status of %s: %w", userID, err)
			}
			views = append(views, v)
		}
		return printStatus(views)
	},
}

var onlineCmd = &cobra.Command{
	Use:   "online",
	Short: "List users currently online or away",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		defer core.Close()

		views, err := core.Query.ListOnline(cmd.Context())
		if err != nil {
			return fmt.Errorf("list online: %w", err)
		}
		if len(views) == 0 {
			fmt.Println("No users online.")
			return nil
		}
		return printStatus(views)
	},
}

func printStatus(views []*query.StatusView) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tSTATUS\tLAST SEEN\tSESSION\tTOTAL ONLINE")
	for _, v := range views {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			v.UserID,
			v.Status,
			formatTime(v.LastSeenAt),
			orDash(v.ActiveSessionID),
			(time.Duration(v.TotalOnlineMs) * time.Millisecond).String(),
		)
	}
	return w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
