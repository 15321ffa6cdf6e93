package runner

import (
	"sync"

	"github.com/rs/zerolog"
)

// Phase is the lifecycle state of a run.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseResolving
	PhasePreparing
	PhaseStreaming
	PhaseAwaitingCompactionDrain
	PhaseFinalizing
	PhaseCompleted
	PhaseAborted
	PhaseFailed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseResolving:
		return "resolving"
	case PhasePreparing:
		return "preparing"
	case PhaseStreaming:
		return "streaming"
	case PhaseAwaitingCompactionDrain:
		return "awaiting_compaction_drain"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseCompleted:
		return "completed"
	case PhaseAborted:
		return "aborted"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase is an end state.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAborted || p == PhaseFailed
}

// phaseTracker records phase transitions for one run.
type phaseTracker struct {
	mu     sync.Mutex
	phase  Phase
	logger zerolog.Logger
}

func newPhaseTracker(logger zerolog.Logger) *phaseTracker {
	return &phaseTracker{phase: PhaseIdle, logger: logger}
}

func (t *phaseTracker) transition(to Phase) {
	t.mu.Lock()
	from := t.phase
	if from.Terminal() {
		t.mu.Unlock()
		return
	}
	t.phase = to
	t.mu.Unlock()

	t.logger.Debug().
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Run phase transition")
}

func (t *phaseTracker) current() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}
