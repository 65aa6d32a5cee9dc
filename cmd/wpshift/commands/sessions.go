package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wpshift/wpshift/internal/config"
	"github.com/wpshift/wpshift/pkg/errors"
	"github.com/wpshift/wpshift/pkg/history"
	"github.com/wpshift/wpshift/pkg/redact"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded migration sessions",
	RunE:  runSessions,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	if err := ensureDirectories(cfg.HistoryPath, ""); err != nil {
		return err
	}

	repo, err := history.NewRepository(cfg.HistoryPath, redact.New(cfg.Secrets()...))
	if err != nil {
		return errors.Wrap(err, "history init failed")
	}
	defer repo.Close()

	sessions, err := repo.List()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found")
		return nil
	}

	fmt.Printf("%-38s %-22s %-22s %-22s %-14s %s\n",
		"RUN ID", "SOURCE", "TARGET", "STATUS", "FAILED STEP", "STARTED")
	fmt.Println("----------------------------------------------------------------------------------------------------------------------------------------")

	for _, s := range sessions {
		failedStep := s.FailedStep
		if failedStep == "" {
			failedStep = "-"
		}
		fmt.Printf("%-38s %-22s %-22s %-22s %-14s %s\n",
			s.ID, s.SourceHost, s.TargetHost, s.Status, failedStep, s.CreatedAt)
	}

	return nil
}
