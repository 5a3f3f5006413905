package mutation

import (
	"errors"
	"fmt"
	"time"
)

// Phase 一次变更调用的阶段
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStaged    Phase = "staged"
	PhaseValidated Phase = "validated"
	PhaseCommitted Phase = "committed"
	PhaseAborted   Phase = "aborted"
)

var ErrIllegalTransition = errors.New("illegal phase transition")

// 只有这些转换合法，Committed只能从Validated到达
var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:      {PhaseStaged, PhaseAborted},
	PhaseStaged:    {PhaseValidated, PhaseAborted},
	PhaseValidated: {PhaseCommitted, PhaseAborted},
	PhaseCommitted: {},
	PhaseAborted:   {},
}

func CanTransition(from, to Phase) bool {
	for _, p := range phaseTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

func (p Phase) IsTerminal() bool {
	return p == PhaseCommitted || p == PhaseAborted
}

type Transition struct {
	From Phase     `json:"from" yaml:"from"`
	To   Phase     `json:"to" yaml:"to"`
	At   time.Time `json:"at" yaml:"at"`
}

// tracker 记录一次调用的阶段变化，拒绝表外的转换
type tracker struct {
	current Phase
	history []Transition
	now     func() time.Time
}

func newTracker() *tracker {
	return &tracker{current: PhaseIdle, now: time.Now}
}

func (t *tracker) advance(to Phase) error {
	if !CanTransition(t.current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.current, to)
	}
	t.history = append(t.history, Transition{From: t.current, To: to, At: t.now()})
	t.current = to
	return nil
}

// abort 终态下不做任何事
func (t *tracker) abort() {
	if !t.current.IsTerminal() {
		_ = t.advance(PhaseAborted)
	}
}
