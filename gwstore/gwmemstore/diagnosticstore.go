package gwmemstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/golang/snappy"
	"github.com/gordian-engine/gwatch/gwatchdog"
	"github.com/gordian-engine/gwatch/gwstore"
)

// DiagnosticStore is an in-memory [gwstore.DiagnosticStore].
// Traces are held snappy-compressed,
// as a single traces file may be several megabytes.
type DiagnosticStore struct {
	mu sync.RWMutex

	byID map[string]int

	// In insertion order.
	entries []diagEntry
}

type diagEntry struct {
	D gwatchdog.Diagnostic

	// D.Traces is always nil; the traces are here instead.
	Compressed []byte
	RawSize    int
}

func NewDiagnosticStore() *DiagnosticStore {
	return &DiagnosticStore{
		byID: make(map[string]int),
	}
}

func (s *DiagnosticStore) AddDiagnostic(_ context.Context, d gwatchdog.Diagnostic) error {
	if d.EpisodeID == "" {
		return gwstore.ErrEmptyEpisodeID
	}

	e := diagEntry{
		Compressed: snappy.Encode(nil, d.Traces),
		RawSize:    len(d.Traces),
	}
	d.Traces = nil
	e.D = d

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[d.EpisodeID]; ok {
		return gwstore.DiagnosticOverwriteError{EpisodeID: d.EpisodeID}
	}

	s.byID[d.EpisodeID] = len(s.entries)
	s.entries = append(s.entries, e)
	return nil
}

func (s *DiagnosticStore) LoadDiagnostic(_ context.Context, episodeID string) (gwatchdog.Diagnostic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[episodeID]
	if !ok {
		return gwatchdog.Diagnostic{}, gwstore.NoDiagnosticError{EpisodeID: episodeID}
	}

	e := s.entries[i]
	d := e.D
	if e.RawSize > 0 {
		traces, err := snappy.Decode(nil, e.Compressed)
		if err != nil {
			return gwatchdog.Diagnostic{}, fmt.Errorf("failed to decompress traces: %w", err)
		}
		d.Traces = traces
	}
	return d, nil
}

func (s *DiagnosticStore) ListDiagnostics(_ context.Context, limit int) ([]gwstore.DiagnosticSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]gwstore.DiagnosticSummary, len(s.entries))
	for i, e := range s.entries {
		sum := gwstore.Summarize(e.D)
		sum.TracesSize = e.RawSize
		out[i] = sum
	}

	// Newest first; insertion order breaks ties.
	slices.Reverse(out)
	slices.SortStableFunc(out, func(a, b gwstore.DiagnosticSummary) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
