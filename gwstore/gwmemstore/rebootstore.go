package gwmemstore

import (
	"context"
	"sync"
	"time"

	"github.com/gordian-engine/gwatch/gwstore"
)

type RebootStore struct {
	mu   sync.Mutex
	next time.Time
	set  bool
}

func NewRebootStore() *RebootStore {
	return new(RebootStore)
}

func (s *RebootStore) SaveNextRebootAttempt(_ context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = at
	s.set = true
	return nil
}

func (s *RebootStore) LoadNextRebootAttempt(context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		return time.Time{}, gwstore.ErrStoreUninitialized
	}
	return s.next, nil
}
