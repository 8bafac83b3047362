package gwstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/gordian-engine/gwatch/gwatchdog"
)

type DiagnosticStore interface {
	// AddDiagnostic persists d.
	// Adding a second diagnostic with the same EpisodeID
	// returns a [DiagnosticOverwriteError].
	AddDiagnostic(ctx context.Context, d gwatchdog.Diagnostic) error

	// LoadDiagnostic returns the full diagnostic for the given episode,
	// or a [NoDiagnosticError] if there is none.
	LoadDiagnostic(ctx context.Context, episodeID string) (gwatchdog.Diagnostic, error)

	// ListDiagnostics returns summaries of at most limit diagnostics,
	// most recent first.
	// A non-positive limit returns all stored diagnostics.
	ListDiagnostics(ctx context.Context, limit int) ([]DiagnosticSummary, error)
}

// DiagnosticSummary is a [gwatchdog.Diagnostic] without its traces.
type DiagnosticSummary struct {
	EpisodeID string
	Tag       string
	Process   string
	Subject   string

	TracesPath string
	TracesSize int

	CreatedAt time.Time
}

func (s DiagnosticSummary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("episode", s.EpisodeID),
		slog.String("subject", s.Subject),
		slog.Time("created_at", s.CreatedAt),
	)
}

// Summarize returns the summary of d.
func Summarize(d gwatchdog.Diagnostic) DiagnosticSummary {
	return DiagnosticSummary{
		EpisodeID:  d.EpisodeID,
		Tag:        d.Tag,
		Process:    d.Process,
		Subject:    d.Subject,
		TracesPath: d.TracesPath,
		TracesSize: len(d.Traces),
		CreatedAt:  d.CreatedAt,
	}
}
