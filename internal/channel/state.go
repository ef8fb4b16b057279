package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
)

type State int

const (
	Idle State = iota
	SeizedIncoming
	SeizedOutgoing
	StateConnected
	StateReallyConnected
)

var stateNames = [...]string{"idle", "seized_incoming", "seized_outgoing", "connected", "really_connected"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// StateOf derives the lifecycle state from a flag word.
func StateOf(f Flags) State {
	switch {
	case f.Has(Connected | ReallyConnected):
		return StateReallyConnected
	case f.Has(Connected):
		return StateConnected
	case f.Has(IsOutgoing):
		return SeizedOutgoing
	case f.Has(IsIncoming):
		return SeizedIncoming
	}
	return Idle
}

const (
	evSeizeIn      = "seize_in"
	evSeizeOut     = "seize_out"
	evConnect      = "connect"
	evConfirmAudio = "confirm_audio"
	evRelease      = "release"
)

// newPhase builds the lifecycle guard. Flags remain the source of truth for the
// state; seizing and connecting are refused unless the machine allows the step.
func newPhase(onChange func(from, to string)) *fsm.FSM {
	seized := []string{SeizedIncoming.String(), SeizedOutgoing.String()}
	busy := []string{SeizedIncoming.String(), SeizedOutgoing.String(), StateConnected.String(), StateReallyConnected.String()}
	return fsm.NewFSM(
		Idle.String(),
		fsm.Events{
			{Name: evSeizeIn, Src: []string{Idle.String()}, Dst: SeizedIncoming.String()},
			{Name: evSeizeOut, Src: []string{Idle.String()}, Dst: SeizedOutgoing.String()},
			{Name: evConnect, Src: seized, Dst: StateConnected.String()},
			{Name: evConfirmAudio, Src: []string{StateConnected.String()}, Dst: StateReallyConnected.String()},
			{Name: evRelease, Src: busy, Dst: Idle.String()},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if onChange != nil {
					onChange(e.Src, e.Dst)
				}
			},
		},
	)
}

// guard checks that event may fire from the current phase. It runs before any
// flag is touched, so a refused step leaves the channel as it was.
func guard(f *fsm.FSM, event string) error {
	if f.Can(event) {
		return nil
	}
	return fmt.Errorf("%s from %s: %w", event, f.Current(), ErrOutOfOrder)
}

// step fires a phase event, treating "already there" as success.
func step(f *fsm.FSM, event string) error {
	err := f.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err != nil && errors.As(err, &noTransition) {
		return nil
	}
	return err
}
