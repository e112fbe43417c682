package agent

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/clustercore/noded/pkg/types"
)

// uniqueWorkDir implements the work-directory algorithm from the
// configuration section: the smallest non-negative integer N such
// that <root>/slave-<slaveId>/fw-<frameworkId>-<executorId>/N does not
// already exist. It both picks and creates the directory, so the
// check-then-create race is confined to this one call.
func uniqueWorkDir(root string, slaveID types.SlaveID, frameworkID types.FrameworkID, executorID types.ExecutorID) (string, error) {
	base := filepath.Join(root, fmt.Sprintf("slave-%s", slaveID), fmt.Sprintf("fw-%s-%s", frameworkID, executorID))
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", fmt.Errorf("agent: create work dir root %s: %w", base, err)
	}
	for n := 0; ; n++ {
		dir := filepath.Join(base, fmt.Sprintf("%d", n))
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.Mkdir(dir, 0755); err != nil {
				return "", fmt.Errorf("agent: create work dir %s: %w", dir, err)
			}
			return dir, nil
		}
		// Directory already exists — a prior executor still owns it;
		// try the next N.
	}
}
