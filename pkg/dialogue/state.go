package dialogue

import (
	"expvar"
	"fmt"
	"time"
)

// State is the orchestrator's position in the turn cycle.
type State int32

const (
	StateIdle State = iota
	StateUserTurnPending
	StateGenerating
	StateCompleted
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateUserTurnPending:
		return "UserTurnPending"
	case StateGenerating:
		return "Generating"
	case StateCompleted:
		return "Completed"
	case StateInterrupted:
		return "Interrupted"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Metrics holds the orchestrator's expvar counters.
type Metrics struct {
	StateTransitions  *expvar.Map
	Turns             *expvar.Map
	Evictions         *expvar.Int
	Alignments        *expvar.Int
	FirstClauseMillis *expvar.Float
}

// newMetrics creates unpublished metrics so tests can build many
// orchestrators. Publish exposes them on /debug/vars.
func newMetrics() *Metrics {
	transitions := &expvar.Map{}
	transitions.Init()
	turns := &expvar.Map{}
	turns.Init()

	return &Metrics{
		StateTransitions:  transitions,
		Turns:             turns,
		Evictions:         &expvar.Int{},
		Alignments:        &expvar.Int{},
		FirstClauseMillis: &expvar.Float{},
	}
}

// Publish registers the metrics under prefix in the expvar registry. It
// panics if prefix was already published.
func (m *Metrics) Publish(prefix string) {
	expvar.Publish(prefix+"_state_transitions", m.StateTransitions)
	expvar.Publish(prefix+"_turns", m.Turns)
	expvar.Publish(prefix+"_evictions", m.Evictions)
	expvar.Publish(prefix+"_alignments", m.Alignments)
	expvar.Publish(prefix+"_first_clause_ms", m.FirstClauseMillis)
}

// Recorder receives turn-level observations, typically to feed Prometheus.
type Recorder interface {
	ObserveTurn(reason string, tokens int, d time.Duration)
	ObserveFirstClause(d time.Duration)
	AddEvictions(n int)
	IncAlignments()
}

type nopRecorder struct{}

func (nopRecorder) ObserveTurn(string, int, time.Duration) {}
func (nopRecorder) ObserveFirstClause(time.Duration)       {}
func (nopRecorder) AddEvictions(int)                       {}
func (nopRecorder) IncAlignments()                         {}
