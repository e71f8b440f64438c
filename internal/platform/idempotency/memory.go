package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	fingerprint string
	done        bool
	response    Response
	expiresAt   time.Time
}

// MemoryStore keeps claims in process. It backs local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

func (s *MemoryStore) Claim(_ context.Context, id, fp string, now time.Time, ttl time.Duration) (Outcome, Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || !now.Before(record.expiresAt) {
		s.records[id] = memoryRecord{fingerprint: fp, expiresAt: now.Add(ttl)}
		return OutcomeNew, Response{}, nil
	}
	if record.fingerprint != fp {
		return 0, Response{}, ErrFingerprintMismatch
	}
	if record.done {
		return OutcomeReplay, record.response, nil
	}
	return OutcomeInFlight, Response{}, nil
}

func (s *MemoryStore) Complete(_ context.Context, id, fp string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.records[id]; ok && record.fingerprint != fp {
		return ErrFingerprintMismatch
	}
	resp.Body = append([]byte(nil), resp.Body...)
	s.records[id] = memoryRecord{fingerprint: fp, done: true, response: resp, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}
