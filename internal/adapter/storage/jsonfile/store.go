package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bnema/celluloid/internal/domain"
	"github.com/bnema/celluloid/internal/port"
)

const indexFile = "job_index.json"

// Store is the results index, persisted as a single JSON document under the
// outputs directory.
type Store struct {
	mu      sync.RWMutex
	path    string
	entries map[string]domain.ResultEntry
}

func NewStore(outputDir string) (*Store, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	store := &Store{
		path:    filepath.Join(outputDir, indexFile),
		entries: make(map[string]domain.ResultEntry),
	}

	if err := store.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	return store, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}

	var list []domain.ResultEntry
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}

	for _, e := range list {
		s.entries[e.Key()] = e
	}

	return nil
}

func (s *Store) save() error {
	tmpPath := s.path + ".tmp"

	data, err := json.MarshalIndent(s.sorted(""), "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmpPath, s.path)
}

func (s *Store) sorted(externalID string) []domain.ResultEntry {
	list := make([]domain.ResultEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if externalID == "" || e.ExternalID == externalID {
			list = append(list, e)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].Key() < list[j].Key()
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

func (s *Store) Put(entry domain.ResultEntry) error {
	if entry.ExternalID == "" || entry.JobID == "" {
		return fmt.Errorf("%w: result entry needs external_id and job_id", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.entries[entry.Key()]
	s.entries[entry.Key()] = entry
	if err := s.save(); err != nil {
		if existed {
			s.entries[entry.Key()] = prev
		} else {
			delete(s.entries, entry.Key())
		}
		return fmt.Errorf("save results index: %w", err)
	}
	return nil
}

// Delete removes an entry. Deleting an unknown entry is not an error.
func (s *Store) Delete(externalID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.ResultKey(externalID, jobID)
	prev, ok := s.entries[key]
	if !ok {
		return nil
	}
	delete(s.entries, key)
	if err := s.save(); err != nil {
		s.entries[key] = prev
		return fmt.Errorf("save results index: %w", err)
	}
	return nil
}

func (s *Store) Get(externalID, jobID string) (*domain.ResultEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[domain.ResultKey(externalID, jobID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (s *Store) FindByJob(jobID string) (*domain.ResultEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.JobID == jobID {
			return &e, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) List(externalID string) ([]domain.ResultEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sorted(externalID), nil
}

var _ port.ResultIndex = (*Store)(nil)
