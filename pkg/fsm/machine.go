// Package fsm implements the migration workflow: a forward-only staged run
// through validation, database relay, filesystem relay, and post-migration
// fix-ups, built on the superfly/fsm library. A failed stage aborts the run;
// there is no retry and no backwards transition.
package fsm

import (
	"context"

	"github.com/superfly/fsm"
	"github.com/wpshift/wpshift/pkg/errors"
	"github.com/wpshift/wpshift/pkg/history"
	"github.com/wpshift/wpshift/pkg/migrate"
	"github.com/wpshift/wpshift/pkg/remote"
	"github.com/wpshift/wpshift/pkg/storage"
	"github.com/wpshift/wpshift/pkg/validate"
)

// Machine holds dependencies for the workflow transitions.
type Machine struct {
	repo     *history.Repository
	source   remote.Session
	target   remote.Session
	plan     migrate.Plan
	params   validate.Params
	archiver *storage.Archiver
}

// NewMachine creates a workflow machine over two open sessions. The archiver
// is optional; without one, completed sessions stay local-only.
func NewMachine(
	repo *history.Repository,
	source remote.Session,
	target remote.Session,
	plan migrate.Plan,
	params validate.Params,
	archiver *storage.Archiver,
) *Machine {
	return &Machine{
		repo:     repo,
		source:   source,
		target:   target,
		plan:     plan,
		params:   params,
		archiver: archiver,
	}
}

// Register registers the migration workflow with the manager.
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[MigrationRequest, MigrationResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[MigrationRequest, MigrationResponse](manager, "site-migration").
		Start(StateValidate, m.handleValidate).
		To(StateMigrateDatabase, m.handleMigrateDatabase).
		To(StateMigrateFilesystem, m.handleMigrateFilesystem).
		To(StatePostMigrate, m.handlePostMigrate).
		To(StateComplete, m.handleComplete).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register workflow")
	}

	return start, resume, nil
}
