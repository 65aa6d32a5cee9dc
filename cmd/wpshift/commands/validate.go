package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wpshift/wpshift/internal/config"
	"github.com/wpshift/wpshift/pkg/errors"
	"github.com/wpshift/wpshift/pkg/migrate"
	"github.com/wpshift/wpshift/pkg/remote"
	"github.com/wpshift/wpshift/pkg/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the pre-migration validation gate without migrating",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "config invalid")
	}

	source, err := remote.Dial(ctx, cfg.SourceEndpoint(), cfg.SourceAuth(), cfg.Timeout())
	if err != nil {
		return errors.Wrap(err, "source connection failed")
	}
	defer source.Close()

	target, err := remote.Dial(ctx, cfg.TargetEndpoint(), cfg.TargetAuth(), cfg.Timeout())
	if err != nil {
		return errors.Wrap(err, "target connection failed")
	}
	defer target.Close()

	params := cfg.Params()
	if params.SourceDB.Empty() {
		db, err := migrate.ExtractDBConfig(source, cfg.SourceRoot)
		if err != nil {
			return errors.Wrap(err, "source database credentials unavailable")
		}
		params.SourceDB = db
	}

	gate := &validate.Gate{Source: source, Target: target, Params: params}
	report := gate.Run(ctx)

	fmt.Printf("%-20s %-8s %s\n", "CHECK", "OUTCOME", "DETAIL")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, c := range report.Checks {
		fmt.Printf("%-20s %-8s %s\n", c.Name, c.Outcome, c.Detail)
	}

	if !report.Passed() {
		return fmt.Errorf("validation failed on %s", report.FirstFatal().Name)
	}
	if warnings := report.Warnings(); len(warnings) > 0 {
		fmt.Printf("Gate passed with %d warning(s)\n", len(warnings))
	} else {
		fmt.Println("Gate passed")
	}
	return nil
}
