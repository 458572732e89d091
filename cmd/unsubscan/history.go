package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"unsubscan/internal/gmail"
	"unsubscan/internal/store"
	"unsubscan/internal/tui"
)

func newHistoryCmd(a *app) *cobra.Command {
	var user string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved analyses, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := a.userEmail(user)
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			list, err := st.ListAnalyses(cmd.Context(), email)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No saved analyses.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tRANGE\tMESSAGES\tSENDERS\t%")
			for _, an := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s → %s\t%d\t%d\t%d\n",
					an.ID, an.CreatedAt, an.DateRangeStart, an.DateRangeEnd, an.TotalMessages, an.UniqueSenders, an.Percentage)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "account email (default user_email)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var user string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one saved analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := a.userEmail(user)
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			an, err := st.GetAnalysis(cmd.Context(), args[0], email)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("analysis %s not found", args[0])
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), an)
			}
			return writeAnalysis(cmd.OutOrStdout(), an)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "account email (default user_email)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newBrowseCmd(a *app) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "browse <id>",
		Short: "Browse a saved analysis and unsubscribe interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := a.userEmail(user)
			if err != nil {
				return err
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			an, err := st.GetAnalysis(cmd.Context(), args[0], email)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("analysis %s not found", args[0])
			}
			if err != nil {
				return err
			}

			// The alt screen owns the terminal, so logs go to a file while browsing.
			log, logFile, err := fileLogger(a.cfg.ConfigDir, a.log)
			if err != nil {
				return err
			}
			defer logFile.Close()

			unsub := gmail.NewUnsubscriber(gmail.NewHTTPTransport(nil), log)
			m := tui.NewAppModel(an, unsub, st)
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("alas, there's been an error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "account email (default user_email)")
	return cmd
}

// fileLogger redirects base to <dir>/browse.log, appending.
func fileLogger(dir string, base zerolog.Logger) (zerolog.Logger, *os.File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return base, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "browse.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return base, nil, fmt.Errorf("open browse log: %w", err)
	}
	return base.Output(f), f, nil
}
