// Package gwmetrics exports watchdog observations to Prometheus.
package gwmetrics

import (
	"errors"
	"fmt"

	"github.com/gordian-engine/gwatch/gwatchdog"
	prom "github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace is used when NewExporter is given an empty namespace.
const DefaultNamespace = "gwatch"

// Exporter adapts [gwatchdog.Metrics] to Prometheus collectors.
// A nil *Exporter is a valid no-op.
type Exporter struct {
	checkerState  *prom.GaugeVec
	halfwayDumps  prom.Counter
	escalations   *prom.CounterVec
	probePanics   *prom.CounterVec
	reportedState *prom.GaugeVec
}

var _ gwatchdog.Metrics = (*Exporter)(nil)

// NewExporter creates and registers the watchdog collectors on reg.
// Collectors already registered by an earlier Exporter are reused.
func NewExporter(namespace string, reg prom.Registerer) (*Exporter, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	stateVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Subsystem: "watchdog",
		Name:      "checker_state",
		Help:      "Completion state of each checker's current round (0=Completed, 1=Waiting, 2=WaitedHalf, 3=Overdue).",
	}, []string{"checker"})
	stateInfoVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Subsystem: "watchdog",
		Name:      "checker_state_info",
		Help:      "Set to 1 for the current completion state of each checker, 0 for the others.",
	}, []string{"checker", "state"})
	halfway := prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "watchdog",
		Name:      "halfway_dumps_total",
		Help:      "Total number of stack dumps taken at half of a checker's wait budget.",
	})
	escVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "watchdog",
		Name:      "escalations_total",
		Help:      "Total number of overdue escalations, by outcome.",
	}, []string{"outcome"})
	panicVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "watchdog",
		Name:      "probe_panics_total",
		Help:      "Total number of probe panics, by checker.",
	}, []string{"checker"})

	var err error
	if stateVec, err = registerCollector(reg, stateVec); err != nil {
		return nil, err
	}
	if stateInfoVec, err = registerCollector(reg, stateInfoVec); err != nil {
		return nil, err
	}
	if halfway, err = registerCollector(reg, halfway); err != nil {
		return nil, err
	}
	if escVec, err = registerCollector(reg, escVec); err != nil {
		return nil, err
	}
	if panicVec, err = registerCollector(reg, panicVec); err != nil {
		return nil, err
	}

	return &Exporter{
		checkerState:  stateVec,
		reportedState: stateInfoVec,
		halfwayDumps:  halfway,
		escalations:   escVec,
		probePanics:   panicVec,
	}, nil
}

var allStates = []gwatchdog.CompletionState{
	gwatchdog.Completed, gwatchdog.Waiting, gwatchdog.WaitedHalf, gwatchdog.Overdue,
}

func (e *Exporter) RecordCompletionState(checker string, s gwatchdog.CompletionState) {
	if e == nil {
		return
	}
	e.checkerState.WithLabelValues(checker).Set(float64(s))
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		e.reportedState.WithLabelValues(checker, st.String()).Set(v)
	}
}

func (e *Exporter) RecordHalfwayDump() {
	if e == nil {
		return
	}
	e.halfwayDumps.Inc()
}

func (e *Exporter) RecordEscalation(o gwatchdog.EscalationOutcome) {
	if e == nil {
		return
	}
	e.escalations.WithLabelValues(o.String()).Inc()
}

func (e *Exporter) RecordProbePanic(checker string) {
	if e == nil {
		return
	}
	e.probePanics.WithLabelValues(checker).Inc()
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var are prom.AlreadyRegisteredError
	if errors.As(err, &are) {
		existing, ok := are.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
