package gwstore

import (
	"errors"
	"fmt"
)

// NoDiagnosticError is returned by [DiagnosticStore.LoadDiagnostic]
// when no diagnostic exists for the requested episode.
type NoDiagnosticError struct {
	EpisodeID string
}

func (e NoDiagnosticError) Error() string {
	return fmt.Sprintf("no diagnostic found for episode %q", e.EpisodeID)
}

// DiagnosticOverwriteError is returned from [DiagnosticStore.AddDiagnostic]
// if a diagnostic already exists for the episode.
type DiagnosticOverwriteError struct {
	EpisodeID string
}

func (e DiagnosticOverwriteError) Error() string {
	return fmt.Sprintf("attempted to overwrite existing diagnostic for episode %q", e.EpisodeID)
}

// ErrStoreUninitialized is returned by certain store methods
// that need a corresponding Save call before a call to Load is valid.
var ErrStoreUninitialized = errors.New("uninitialized")

// ErrEmptyEpisodeID is returned by [DiagnosticStore.AddDiagnostic]
// for a diagnostic without an EpisodeID.
var ErrEmptyEpisodeID = errors.New("diagnostic has empty episode ID")
