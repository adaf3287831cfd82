package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	reportFrom  string
	reportTo    string
	reportUsers []string
)

func init() {
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "window start, RFC3339 (default: 7 days ago)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "window end, RFC3339 (default: now)")
	reportCmd.Flags().StringSliceVar(&reportUsers, "users", nil, "restrict to these user ids")
	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Online time per day and per user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		to := time.Now().UTC()
		from := to.AddDate(0, 0, -7)
		var err error
		if reportFrom != "" {
			if from, err = time.Parse(time.RFC3339, reportFrom); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
		}
		if reportTo != "" {
			if to, err = time.Parse(time.RFC3339, reportTo); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
		}

		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		defer core.Close()

		report, err := core.Query.AggregateOnlineTime(cmd.Context(), reportUsers, from, to)
		if err != nil {
			return fmt.Errorf("aggregate: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "DATE (%s)\tACTIVE USERS\tONLINE\n", report.Timezone)
		for _, d := range report.Days {
			fmt.Fprintf(w, "%s\t%d\t%s\n", d.Date, d.ActiveUserCount, (time.Duration(d.TotalDurationMs) * time.Millisecond).String())
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "USER\tSESSIONS\tONLINE")
		for _, u := range report.Users {
			fmt.Fprintf(w, "%s\t%d\t%s\n", u.UserID, u.SessionCount, (time.Duration(u.TotalDurationMs) * time.Millisecond).String())
		}
		return w.Flush()
	},
}
