package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"VaultKeeper/internal/model"
)

// document is the on-disk layout of the state file.
type document struct {
	Settings  model.Settings         `json:"settings"`
	State     model.StateInformation `json:"state"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// FileStore keeps settings and state in a single JSON file.
type FileStore struct {
	mu       sync.Mutex
	doc      *document
	filePath string
}

// NewFileStore loads the file, seeding it with defaults on first run.
func NewFileStore(filePath string, defaults model.Settings) (*FileStore, error) {
	doc, err := loadDocument(filePath)
	if err != nil {
		return nil, err
	}

	// Initialize if fresh state
	if doc.State.State == "" {
		doc.Settings = defaults
		doc.State = model.IdleState(0)
	}

	s := &FileStore{doc: doc, filePath: filePath}
	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load returns the stored settings and the last persisted state.
func (s *FileStore) Load(_ context.Context) (model.Settings, model.StateInformation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-read so a state written by another process is picked up.
	doc, err := loadDocument(s.filePath)
	if err != nil {
		return model.Settings{}, model.StateInformation{}, err
	}
	if doc.State.State != "" {
		s.doc = doc
	}
	return s.doc.Settings, s.doc.State, nil
}

// Save overwrites the persisted state.
func (s *FileStore) Save(_ context.Context, state model.StateInformation) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now()
	s.doc.State = state
	return s.save()
}

// UpdateSettings replaces the stored settings.
func (s *FileStore) UpdateSettings(settings model.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Settings = settings
	return s.save()
}

func (s *FileStore) save() error {
	s.doc.UpdatedAt = time.Now()
	return writeDocument(s.filePath, s.doc)
}

func loadDocument(filePath string) (*document, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &document{}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}
	return &doc, nil
}

// writeDocument replaces the file atomically so a crash mid-write never
// leaves a truncated state behind.
func writeDocument(filePath string, doc *document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".keeper-state-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filePath)
}
