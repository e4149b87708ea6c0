package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"harvester/pkg/ledger"
	"harvester/pkg/logger"
	"harvester/pkg/models"
)

const currentVersion = 1

// Checkpoint represents the progress of a crawl run
type Checkpoint struct {
	RunID string `json:"run_id"`
	Mode  string `json:"mode"`
	// CurrentUnit is the most recently started unit
	CurrentUnit string `json:"current_unit"`
	// ItemIndex counts sub-items handled within CurrentUnit
	ItemIndex      int             `json:"item_index"`
	InFlight       []string        `json:"in_flight,omitempty"`
	ProcessedCount int             `json:"processed_count"`
	Counters       models.Counters `json:"counters"`
	// Offset is the range explorer position, unused in keyword mode
	Offset    int       `json:"offset,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Manager handles checkpoint operations
type Manager struct {
	checkpointPath string
	logger         logger.Logger
	now            func() time.Time
}

// NewManager creates a checkpoint manager for the file at path
func NewManager(path string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{
		checkpointPath: path,
		logger:         log.WithField("component", "checkpoint"),
		now:            time.Now,
	}
}

// Path returns the checkpoint file location
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Load loads an existing checkpoint. It returns nil when there is none, or
// when the stored one is corrupt, in which case it is moved to a backup first.
func (m *Manager) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // No checkpoint exists
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		backup, backupErr := m.backupCorrupt()
		fields := map[string]interface{}{
			"path":   m.checkpointPath,
			"backup": backup,
		}
		if backupErr != nil {
			m.logger.WithError(backupErr).ErrorWithFields("Failed to move corrupt checkpoint aside", fields)
			return nil, nil
		}
		m.logger.WithError(err).WarnWithFields("Checkpoint corrupt, starting cold", fields)
		return nil, nil
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"run_id":          checkpoint.RunID,
		"current_unit":    checkpoint.CurrentUnit,
		"processed_count": checkpoint.ProcessedCount,
		"updated_at":      checkpoint.UpdatedAt,
	})

	return &checkpoint, nil
}

// Save overwrites the checkpoint atomically
func (m *Manager) Save(checkpoint *Checkpoint) error {
	now := m.now()
	if checkpoint.CreatedAt.IsZero() {
		checkpoint.CreatedAt = now
	}
	checkpoint.UpdatedAt = now
	checkpoint.Version = currentVersion

	if err := ledger.WriteJSON(m.checkpointPath, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"current_unit":    checkpoint.CurrentUnit,
		"item_index":      checkpoint.ItemIndex,
		"processed_count": checkpoint.ProcessedCount,
	})

	return nil
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	m.logger.Info("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// Info returns a summary of the checkpoint, or nil when there is none.
// It only reads the file; a corrupt checkpoint is reported and left in place.
func (m *Manager) Info() (map[string]interface{}, error) {
	data, err := os.ReadFile(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return map[string]interface{}{
			"path":    m.checkpointPath,
			"corrupt": err.Error(),
		}, nil
	}

	return map[string]interface{}{
		"path":            m.checkpointPath,
		"run_id":          checkpoint.RunID,
		"mode":            checkpoint.Mode,
		"current_unit":    checkpoint.CurrentUnit,
		"processed_count": checkpoint.ProcessedCount,
		"searched":        checkpoint.Counters.Searched,
		"found":           checkpoint.Counters.Found,
		"saved":           checkpoint.Counters.Saved,
		"failed":          checkpoint.Counters.Failed,
		"created_at":      checkpoint.CreatedAt,
		"updated_at":      checkpoint.UpdatedAt,
		"age":             m.now().Sub(checkpoint.UpdatedAt).Round(time.Second),
	}, nil
}

// backupCorrupt renames the checkpoint to a timestamped backup
func (m *Manager) backupCorrupt() (string, error) {
	backupPath := fmt.Sprintf("%s.backup.%s", m.checkpointPath, m.now().Format("20060102150405"))
	if err := os.Rename(m.checkpointPath, backupPath); err != nil {
		return backupPath, fmt.Errorf("failed to back up checkpoint: %w", err)
	}
	return backupPath, nil
}
