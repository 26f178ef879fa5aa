package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/site-auditor/internal/audit"
)

// QuotaStore keeps quota records in a map with optimistic locking on
// QuotaRecord.Version, matching the Postgres store's semantics.
type QuotaStore struct {
	mu      sync.Mutex
	records map[string]audit.QuotaRecord
}

// NewQuotaStore creates an empty quota store.
func NewQuotaStore() *QuotaStore {
	return &QuotaStore{records: make(map[string]audit.QuotaRecord)}
}

// LoadQuota returns the record for a user, if any.
func (s *QuotaStore) LoadQuota(_ context.Context, userID string) (audit.QuotaRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[userID]
	return record, ok, nil
}

// SaveQuota writes the record, failing with ErrVersionConflict when
// the stored version moved past the caller's copy.
func (s *QuotaStore) SaveQuota(_ context.Context, record audit.QuotaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[record.UserID]
	if ok && current.Version != record.Version {
		return audit.ErrVersionConflict
	}
	record.Version++
	s.records[record.UserID] = record
	return nil
}

// Seed installs a record without version checks, for tests and setup.
func (s *QuotaStore) Seed(record audit.QuotaRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.UserID] = record
}
