// Package store owns the persisted lead collection: a single JSON file that
// holds an array of leads and is rewritten wholesale on every mutation.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/nikshitha/leadgen/lead"
	"github.com/nikshitha/leadgen/logger"
	"github.com/rotisserie/eris"
)

// ErrPersistence is returned when the backing file cannot be written
var ErrPersistence = errors.New("lead store persistence failure")

// FileStore is the lead store backed by a JSON file
type FileStore struct {
	path string
	log  *logger.Logger
	mu   sync.Mutex
}

// New creates a store for the file at path. The file does not need to exist.
func New(path string, log *logger.Logger) *FileStore {
	if log == nil {
		log = logger.Discard()
	}
	return &FileStore{
		path: path,
		log:  log.WithModule("store").WithField("file", path),
	}
}

// Path returns the backing file path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads every lead from disk. A missing file yields an empty slice, and
// so does a file that cannot be read or parsed (the failure is logged).
func (s *FileStore) Load() []lead.Lead {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.WithError(err).Error("Failed to read leads file")
		}
		return []lead.Lead{}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return []lead.Lead{}
	}

	var leads []lead.Lead
	if err := json.Unmarshal(data, &leads); err != nil {
		s.log.WithError(err).Error("Failed to parse leads file, treating as empty")
		return []lead.Lead{}
	}
	if leads == nil {
		leads = []lead.Lead{}
	}
	return leads
}

// Save overwrites the file with the full collection. The data is written to
// a temporary file next to the target and renamed into place.
func (s *FileStore) Save(leads []lead.Lead) error {
	if leads == nil {
		leads = []lead.Lead{}
	}

	data, err := json.MarshalIndent(leads, "", "  ")
	if err != nil {
		s.log.WithError(err).Error("Failed to encode leads")
		return eris.Wrap(ErrPersistence, err.Error())
	}

	if err := s.writeAtomic(data); err != nil {
		s.log.WithError(err).Error("Failed to save leads")
		return eris.Wrap(ErrPersistence, err.Error())
	}

	s.log.StoreEvent("save", len(leads))
	return nil
}

func (s *FileStore) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Update runs fn on the current collection while holding the store lock and
// saves whatever fn returns. If fn fails nothing is written.
func (s *FileStore) Update(fn func(leads []lead.Lead) ([]lead.Lead, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated, err := fn(s.Load())
	if err != nil {
		return err
	}
	return s.Save(updated)
}

// View runs fn on the current collection while holding the store lock
func (s *FileStore) View(fn func(leads []lead.Lead) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(s.Load())
}

// NextID returns the id for a new lead: one more than the largest positive
// id, or 1 when there is none.
func NextID(leads []lead.Lead) int {
	max := 0
	for _, l := range leads {
		if l.ID > max {
			max = l.ID
		}
	}
	return max + 1
}
