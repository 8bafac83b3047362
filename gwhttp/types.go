package gwhttp

import (
	"time"

	"github.com/gordian-engine/gwatch/gwatchdog"
	"github.com/gordian-engine/gwatch/gwstore"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Started          bool
	AllowRestart     bool
	HalfWaitNotified bool

	Aggregate string

	Checkers []CheckerStatus
}

type CheckerStatus struct {
	Name   string
	Looper string

	TimeoutSeconds float64
	Probes         int

	State          string
	ElapsedSeconds float64
	CurrentProbe   string `json:",omitempty"`
}

func newStatusResponse(s gwatchdog.Status) StatusResponse {
	resp := StatusResponse{
		Started:          s.Started,
		AllowRestart:     s.AllowRestart,
		HalfWaitNotified: s.HalfWaitNotified,
		Aggregate:        s.Aggregate.String(),
		Checkers:         make([]CheckerStatus, len(s.Checkers)),
	}
	for i, c := range s.Checkers {
		resp.Checkers[i] = CheckerStatus{
			Name:           c.Name,
			Looper:         c.Looper,
			TimeoutSeconds: c.Timeout.Seconds(),
			Probes:         c.Probes,
			State:          c.State.String(),
			ElapsedSeconds: c.Elapsed.Seconds(),
			CurrentProbe:   c.CurrentProbe,
		}
	}
	return resp
}

// AllowRestartRequest is the body of PUT /allow-restart.
type AllowRestartRequest struct {
	Allow bool
}

// RebootRequest is the body of POST /reboot.
type RebootRequest struct {
	Reason string
}

// ProcessStartedRequest is the body of PUT /processes/{name}.
type ProcessStartedRequest struct {
	PID int
}

// DiagnosticSummary is an element of GET /diagnostics
// and the body of GET /diagnostics/{id}.
type DiagnosticSummary struct {
	EpisodeID string
	Tag       string
	Process   string
	Subject   string

	TracesPath string
	TracesSize int

	CreatedAt time.Time
}

func newDiagnosticSummary(s gwstore.DiagnosticSummary) DiagnosticSummary {
	return DiagnosticSummary(s)
}

// NotRespondingRequest is the body that [*ControllerClient] posts
// to an external controller.
type NotRespondingRequest struct {
	Subject string
}

// NotRespondingResponse is the controller's reply.
// A non-negative Result asks the watchdog to keep waiting.
type NotRespondingResponse struct {
	Result int
}
