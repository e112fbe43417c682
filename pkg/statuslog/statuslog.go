// Package statuslog implements the optional, off-by-default persistent
// status-update log: a crash-safe record of outstanding STATUS_UPDATE
// messages, so an agent restart can resume retransmission instead of
// losing track of updates the master never acknowledged. In-memory
// operation (the default) never touches this package.
package statuslog

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/clustercore/noded/pkg/types"
)

// Log is a bbolt-backed append/delete journal, one bucket per
// framework, keyed by TaskID: Append on send, Delete on
// acknowledgement. An entry the in-memory pending heap drops without
// an acknowledgement (its task's executor was removed) stays in the
// log.
type Log struct {
	db *bolt.DB
}

// Open opens (creating if absent) the log file under dir.
func Open(dir string) (*Log, error) {
	path := filepath.Join(dir, "status-updates.db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("statuslog: open %s: %w", path, err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	return l.db.Close()
}

func bucketName(frameworkID types.FrameworkID) []byte {
	return []byte("fw-" + string(frameworkID))
}

// Append records update as outstanding for its (framework, task).
func (l *Log) Append(frameworkID types.FrameworkID, update types.StatusUpdateMessage) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(frameworkID))
		if err != nil {
			return err
		}
		data, err := json.Marshal(update)
		if err != nil {
			return err
		}
		return b.Put([]byte(update.Update.TaskID), data)
	})
}

// Delete removes the journaled entry for taskID, if any, after the
// master acknowledges it.
func (l *Log) Delete(frameworkID types.FrameworkID, taskID types.TaskID) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(frameworkID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(taskID))
	})
}

// Replay returns every still-outstanding update across every
// framework bucket, for the reliability engine to reload into its
// pending heap on startup.
func (l *Log) Replay() ([]types.StatusUpdateMessage, error) {
	var out []types.StatusUpdateMessage
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			return b.ForEach(func(k, v []byte) error {
				var update types.StatusUpdateMessage
				if err := json.Unmarshal(v, &update); err != nil {
					return err
				}
				out = append(out, update)
				return nil
			})
		})
	})
	return out, err
}
