package backfill

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusDone    = "done"
)

// JobState is the optional persisted progress record for resumable runs.
// Correctness never depends on it, since the database's
// unprocessed predicate is the source of truth, but it lets an operator
// resume a long run with the same parameters and see how far it got.
type JobState struct {
	Destination   string    `json:"destination"`
	BatchSize     int       `json:"batch_size"`
	CurrentOffset int64     `json:"current_offset"`
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// mu serializes field mutation and the file write; concurrent
	// claimers all report progress through the same record.
	mu   sync.Mutex
	path string
}

// LoadJobState reads the state file at path, or initializes a fresh record
// if the file does not exist yet.
func LoadJobState(path, destination string) (*JobState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &JobState{
			Destination: destination,
			Status:      StatusPending,
			StartedAt:   time.Now().UTC(),
			path:        path,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read job state: %w", err)
	}

	var s JobState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse job state: %w", err)
	}
	s.path = path
	return &s, nil
}

// Update applies fn to the record and writes the file back, atomically with
// respect to other Update and Save calls.
func (s *JobState) Update(fn func(*JobState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
	return s.save()
}

// Save writes the record back after every batch.
func (s *JobState) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

func (s *JobState) save() error {
	s.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write job state: %w", err)
	}
	return nil
}
