package main

import (
	"sync"
	"time"

	"github.com/gordian-engine/gwatch/gloop"
)

// looperIdleSource reports the host idle while every looper is idle.
//
// Idleness is sampled on each call, so the reported start of an idle period
// is the first call that observed it, not the moment the last task finished.
type looperIdleSource struct {
	loopers []*gloop.Looper

	mu    sync.Mutex
	since time.Time
}

func newLooperIdleSource(loopers []*gloop.Looper) *looperIdleSource {
	return &looperIdleSource{loopers: loopers}
}

func (s *looperIdleSource) IdleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.loopers {
		if !l.Idle() {
			s.since = time.Time{}
			return time.Time{}, false
		}
	}

	if s.since.IsZero() {
		s.since = time.Now()
	}
	return s.since, true
}
