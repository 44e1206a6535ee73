package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Submission an accepted contact form entry
type Submission struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Organization string    `json:"organization,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	Message      string    `json:"message"`
	ClientIPHash string    `json:"client_ip_hash"`
	ReceivedAt   time.Time `json:"received_at"`
}

// SubmissionStore persists submissions to a JSON file in the data directory.
type SubmissionStore struct {
	mu      sync.Mutex
	file    string
	records map[string]Submission
}

type submissionFile struct {
	Records map[string]Submission `json:"records"`
}

func NewSubmissionStore(dataDir string) (*SubmissionStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store := &SubmissionStore{
		file:    filepath.Join(dataDir, "submissions.json"),
		records: make(map[string]Submission),
	}

	if err := store.load(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SubmissionStore) Save(submission Submission) error {
	if submission.ID == "" {
		return fmt.Errorf("submission id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[submission.ID] = submission
	return s.save()
}

func (s *SubmissionStore) Get(id string) (Submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	submission, exists := s.records[id]
	return submission, exists
}

func (s *SubmissionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *SubmissionStore) load() error {
	data, err := os.ReadFile(s.file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read submissions file: %w", err)
	}

	var payload submissionFile
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("decode submissions file: %w", err)
	}

	if payload.Records != nil {
		s.records = payload.Records
	}
	return nil
}

// save writes through a temp file so a crash never leaves a truncated store.
func (s *SubmissionStore) save() error {
	data, err := json.MarshalIndent(submissionFile{Records: s.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode submissions file: %w", err)
	}

	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write submissions file: %w", err)
	}
	if err := os.Rename(tmp, s.file); err != nil {
		return fmt.Errorf("replace submissions file: %w", err)
	}
	return nil
}
