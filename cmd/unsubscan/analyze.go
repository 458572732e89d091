package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"unsubscan/internal/gmail"
	"unsubscan/internal/model"
	"unsubscan/internal/scan"
	"unsubscan/internal/store"
)

const dateLayout = "2006/01/02"

// defaultRange covers the 30 days up to today.
func defaultRange(now time.Time) (after, before string) {
	return now.AddDate(0, 0, -30).Format(dateLayout), now.Format(dateLayout)
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		after, before string
		asJSON        bool
		noSave        bool
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Scan the mailbox for unsubscribable senders",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			defAfter, defBefore := defaultRange(time.Now())
			if after == "" {
				after = defAfter
			}
			if before == "" {
				before = defBefore
			}

			tokens, err := gmail.NewTokenSource(ctx, a.cfg.ConfigDir)
			if err != nil {
				return err
			}
			client := gmail.NewClient(gmail.NewHTTPTransport(nil), tokens, a.cfg.Gmail.Options(), a.log)

			profile, err := client.Profile(ctx)
			if err != nil {
				return err
			}
			a.log.Info().Str("user", profile.EmailAddress).Str("after", after).Str("before", before).Msg("scanning")

			report, err := scan.Run(ctx, client, after, before)
			if err != nil {
				return err
			}

			saved := &model.SavedAnalysis{
				UserEmail:              profile.EmailAddress,
				DateRangeStart:         after,
				DateRangeEnd:           before,
				TotalMessages:          report.TotalMessages,
				UnsubscribableMessages: report.UnsubscribableMessages,
				Percentage:             report.Percentage,
				UniqueSenders:          report.UniqueSenders,
				Senders:                report.Senders,
			}
			if !noSave {
				st, err := a.openStore()
				if err != nil {
					return err
				}
				defer st.Close()
				saved.ID, err = st.SaveAnalysis(ctx, store.SaveParams{
					UserEmail:      profile.EmailAddress,
					DateRangeStart: after,
					DateRangeEnd:   before,
					Report:         report,
				})
				if err != nil {
					return err
				}
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), saved)
			}
			return writeAnalysis(cmd.OutOrStdout(), saved)
		},
	}
	cmd.Flags().StringVar(&after, "after", "", "start date, YYYY/MM/DD (default 30 days ago)")
	cmd.Flags().StringVar(&before, "before", "", "end date, YYYY/MM/DD (default today)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the analysis")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeAnalysis(w io.Writer, a *model.SavedAnalysis) error {
	if a.ID != "" {
		fmt.Fprintf(w, "Analysis %s\n", a.ID)
	}
	fmt.Fprintf(w, "%s → %s: %d of %d messages (%d%%) from %d senders can be unsubscribed\n\n",
		a.DateRangeStart, a.DateRangeEnd, a.UnsubscribableMessages, a.TotalMessages, a.Percentage, a.UniqueSenders)
	if len(a.Senders) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SENDER\tEMAIL\tMESSAGES\tTYPE\tDONE")
	for _, s := range a.Senders {
		done := ""
		if s.ClickedAt != nil {
			done = "✓"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", s.Name, s.Email, s.MessageCount, s.LinkType, done)
	}
	return tw.Flush()
}
