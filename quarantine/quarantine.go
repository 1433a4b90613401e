package quarantine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"filewarden/detect"
	"filewarden/logger"
	"filewarden/virustotal"

	"github.com/google/uuid"
)

// Record statuses. quarantined is the only state with outgoing transitions.
const (
	StatusQuarantined = "quarantined"
	StatusRestored    = "restored"
	StatusDeleted     = "deleted"
	StatusSubmitted   = "submitted"
)

const (
	ThreatLevelHigh   = "high"
	ThreatLevelMedium = "medium"
)

const indexFileName = "index.json"

// Record is the provenance trail for one isolated file.
type Record struct {
	ID             string    `json:"id"`
	QuarantinePath string    `json:"quarantine_path"`
	OriginalPath   string    `json:"original_path"`
	Label          string    `json:"label"`
	ThreatLevel    string    `json:"threat_level"`
	Method         string    `json:"method"`
	Hash           string    `json:"hash"`
	SizeBytes      int64     `json:"size_bytes"`
	Status         string    `json:"status"`
	QuarantinedAt  time.Time `json:"quarantined_at"`
}

// Submitter resubmits an isolated file for a cloud second opinion.
// *virustotal.Client satisfies it.
type Submitter interface {
	Submit(ctx context.Context, path string) (virustotal.Pending, error)
}

// Manager isolates infected files under a single root and keeps a JSON index
// of records. Concurrent quarantines rely on collision-safe naming, not
// locking, for the store directory itself.
type Manager struct {
	root              string
	threatLevelCutoff float64
	now               func() time.Time

	mu      sync.Mutex
	records []Record
}

func NewManager(root string, threatLevelCutoff float64) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("quarantine root must not be empty")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("could not create quarantine root: %v", err)
	}
	m := &Manager{
		root:              root,
		threatLevelCutoff: threatLevelCutoff,
		now:               time.Now,
	}
	if err := m.loadIndex(); err != nil {
		return nil, err
	}
	return m, nil
}

// Quarantine atomically moves path into the store under a time-prefixed,
// collision-free name and records the verdict's threat metadata.
func (m *Manager) Quarantine(path string, verdict detect.Verdict) (*Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("could not stat %s: %v", path, err)
	}

	target, err := m.reserveTarget(filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if err := os.Rename(path, target); err != nil {
		// The reservation placeholder must not linger in the store.
		os.Remove(target)
		return nil, fmt.Errorf("quarantine move failed: %v", err)
	}

	record := Record{
		ID:             uuid.NewString(),
		QuarantinePath: target,
		OriginalPath:   path,
		Label:          verdict.Label,
		ThreatLevel:    m.threatLevel(verdict.Confidence),
		Method:         verdict.Method,
		Hash:           verdict.Hash,
		SizeBytes:      info.Size(),
		Status:         StatusQuarantined,
		QuarantinedAt:  m.now(),
	}

	m.mu.Lock()
	m.records = append(m.records, record)
	err = m.saveIndexLocked()
	m.mu.Unlock()
	if err != nil {
		logger.Warnf("Failed to persist quarantine index: %v", err)
	}
	logger.Infof("Quarantined %s -> %s (%s, %s)", path, target, record.Label, record.ThreatLevel)
	return &record, nil
}

// Restore moves a quarantined file back to its original path.
func (m *Manager) Restore(id string) error {
	return m.transition(id, StatusRestored, func(record *Record) error {
		if err := os.MkdirAll(filepath.Dir(record.OriginalPath), 0o755); err != nil {
			return fmt.Errorf("could not recreate original directory: %v", err)
		}
		if _, err := os.Stat(record.OriginalPath); err == nil {
			return fmt.Errorf("original path %s is occupied", record.OriginalPath)
		}
		if err := os.Rename(record.QuarantinePath, record.OriginalPath); err != nil {
			return fmt.Errorf("restore move failed: %v", err)
		}
		return nil
	})
}

// Delete permanently erases a quarantined file from the store.
func (m *Manager) Delete(id string) error {
	return m.transition(id, StatusDeleted, func(record *Record) error {
		if err := os.Remove(record.QuarantinePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete failed: %v", err)
		}
		return nil
	})
}

// Submit sends a quarantined file to the cloud service for a second opinion.
// The status moves to submitted only after the service accepts the upload.
func (m *Manager) Submit(ctx context.Context, id string, cloud Submitter) (virustotal.Pending, error) {
	var pending virustotal.Pending
	err := m.transition(id, StatusSubmitted, func(record *Record) error {
		var err error
		pending, err = cloud.Submit(ctx, record.QuarantinePath)
		return err
	})
	return pending, err
}

// List returns a snapshot of all records, newest last.
func (m *Manager) List() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Get looks a record up by ID.
func (m *Manager) Get(id string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			return m.records[i], true
		}
	}
	return Record{}, false
}

// transition applies action and moves the record to next. Records not in
// quarantined status reject any transition.
func (m *Manager) transition(id, next string, action func(*Record) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.records {
		if m.records[i].ID != id {
			continue
		}
		if m.records[i].Status != StatusQuarantined {
			return fmt.Errorf("invalid transition: record %s is %s", id, m.records[i].Status)
		}
		if err := action(&m.records[i]); err != nil {
			return err
		}
		m.records[i].Status = next
		if err := m.saveIndexLocked(); err != nil {
			logger.Warnf("Failed to persist quarantine index: %v", err)
		}
		return nil
	}
	return fmt.Errorf("unknown quarantine record: %s", id)
}

// reserveTarget builds the destination name: timestamp prefix plus original
// name, with a numeric suffix before the extension on collision. The file is
// created exclusively to hold the name against concurrent writers, then
// overwritten by the rename.
func (m *Manager) reserveTarget(name string) (string, error) {
	base := m.now().Format("20060102_150405") + "_" + name
	candidate := filepath.Join(m.root, base)
	for counter := 1; ; counter++ {
		f, err := os.OpenFile(candidate, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			f.Close()
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("could not reserve quarantine name: %v", err)
		}
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		candidate = filepath.Join(m.root, fmt.Sprintf("%s_%d%s", stem, counter, ext))
	}
}

func (m *Manager) threatLevel(confidence float64) string {
	if confidence > m.threatLevelCutoff {
		return ThreatLevelHigh
	}
	return ThreatLevelMedium
}

func (m *Manager) indexPath() string {
	return filepath.Join(m.root, indexFileName)
}

func (m *Manager) loadIndex() error {
	data, err := os.ReadFile(m.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not read quarantine index: %v", err)
	}
	if err := json.Unmarshal(data, &m.records); err != nil {
		return fmt.Errorf("corrupt quarantine index: %v", err)
	}
	return nil
}

func (m *Manager) saveIndexLocked() error {
	data, err := json.MarshalIndent(m.records, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, m.indexPath())
}
