package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"unsubscan/internal/config"
	"unsubscan/internal/logging"
	"unsubscan/internal/store"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        config.Config
	log        zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:          "unsubscan",
		Short:        "Find the senders you could unsubscribe from",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default <config_dir>/config.yaml)")

	cmd.AddCommand(newAnalyzeCmd(a))
	cmd.AddCommand(newHistoryCmd(a))
	cmd.AddCommand(newShowCmd(a))
	cmd.AddCommand(newBrowseCmd(a))
	cmd.AddCommand(newServeCmd(a))

	cmd.SetErr(os.Stderr)
	cmd.SetOut(os.Stdout)
	return cmd
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

func (a *app) openStore() (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(a.cfg.DBPath, a.log)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	return st, nil
}

// userEmail resolves the account whose saved analyses are read.
func (a *app) userEmail(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if a.cfg.UserEmail != "" {
		return a.cfg.UserEmail, nil
	}
	return "", fmt.Errorf("no user: pass --user or set user_email")
}
