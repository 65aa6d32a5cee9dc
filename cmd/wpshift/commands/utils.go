package commands

import (
	"os"
	"path/filepath"

	"github.com/wpshift/wpshift/pkg/errors"
)

// ensureDirectories creates the parent directories of the local state files
func ensureDirectories(historyPath, fsmDBPath string) error {
	if err := os.MkdirAll(filepath.Dir(historyPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create history directory")
	}

	// Workflow store directory (only needed for the migrate command)
	if fsmDBPath != "" {
		if err := os.MkdirAll(filepath.Dir(fsmDBPath), 0755); err != nil {
			return errors.Wrap(err, "failed to create workflow store directory")
		}
	}

	return nil
}
