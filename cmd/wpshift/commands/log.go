package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wpshift/wpshift/internal/config"
	"github.com/wpshift/wpshift/pkg/errors"
	"github.com/wpshift/wpshift/pkg/history"
	"github.com/wpshift/wpshift/pkg/redact"
)

var logCmd = &cobra.Command{
	Use:   "log <run-id>",
	Short: "Show the audit log of one migration session",
	Args:  cobra.ExactArgs(1),
	RunE:  runLog,
}

func init() {
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	runID := args[0]

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	repo, err := history.NewRepository(cfg.HistoryPath, redact.New(cfg.Secrets()...))
	if err != nil {
		return errors.Wrap(err, "history init failed")
	}
	defer repo.Close()

	session, err := repo.Get(runID)
	if err != nil {
		return errors.Wrap(err, "session lookup failed")
	}
	if session == nil {
		return fmt.Errorf("session not found: %s", runID)
	}

	entries, err := repo.Entries(runID)
	if err != nil {
		return errors.Wrap(err, "log lookup failed")
	}

	fmt.Printf("Session %s (%s -> %s), status %s\n",
		session.ID, session.SourceHost, session.TargetHost, session.Status)
	if session.FailedStep != "" {
		fmt.Printf("Failed at step: %s\n", session.FailedStep)
	}
	fmt.Println()

	for _, e := range entries {
		fmt.Printf("%s %-5s %-15s %s\n", e.CreatedAt, e.Level, e.Step, e.Message)
	}

	return nil
}
