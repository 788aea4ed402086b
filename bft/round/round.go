// Package round implements the per-round state machine of spec §4.3:
// a pure function from (State, Input) to (State, []Output). It owns
// the propose/prevote/precommit/decide transition table, the locked/
// valid/proof-of-lock bookkeeping carried across rounds within a
// height, and nothing else -- no I/O, no timers, no network.
//
// Grounded on the teacher's enterNewRound/enterPropose/enterPrevote/
// enterPrecommit/enterCommit guard-and-transition style
// (consensus/tendermint/core/consensus.go), restructured from that
// package's mutex-guarded, event-driven original into a single
// synchronous function the Driver calls directly.
package round

import "github.com/Evrynetlabs/bft-consensus/bft"

// Step is the round's position in the propose/prevote/precommit/
// commit sequence.
type Step uint8

const (
	StepPropose Step = iota
	StepPrevote
	StepPrecommit
	StepCommit
)

func (s Step) String() string {
	switch s {
	case StepPropose:
		return "Propose"
	case StepPrevote:
		return "Prevote"
	case StepPrecommit:
		return "Precommit"
	case StepCommit:
		return "Commit"
	default:
		return "Unknown"
	}
}

// HiddenLockRound is the round from which a proposer re-proposing its
// valid value must carry that value's POL round explicitly, per the
// hidden-lock mitigation (see SPEC_FULL.md §12). This implementation
// always populates the POL round when re-proposing a valid value, at
// every round, which is strictly safer than gating the behaviour
// behind this constant -- it is kept only as a named reference point
// for the round at which the original mitigation became mandatory.
const HiddenLockRound bft.Round = 10

// LockedValue pairs a Value with the round at which it became locked
// or valid.
type LockedValue struct {
	Round bft.Round
	Value bft.Value
}

// State is one round's local state: its step, the proposal received
// (if any), and the locked/valid values carried forward from earlier
// rounds within the same height. locked/valid are conceptually
// height-scoped (spec §3); the Driver threads them from one round's
// final State into the next round's NewState call.
type State struct {
	Height bft.Height
	Round  bft.Round
	Step   Step

	Locked *LockedValue
	Valid  *LockedValue

	Proposal      *bft.Proposal
	proposalValid bool

	Decision *bft.Value

	prevoteWaitScheduled   bool
	precommitWaitScheduled bool
	precommitTimedOut      bool
}

// NewState starts a fresh round, carrying forward whatever locked/
// valid values the previous round within this height produced (nil
// for round 0 or when neither was ever set).
func NewState(height bft.Height, r bft.Round, locked, valid *LockedValue) *State {
	return &State{
		Height: height,
		Round:  r,
		Step:   StepPropose,
		Locked: locked,
		Valid:  valid,
	}
}

// RoundExpired reports whether this round concluded via
// TimeoutPrecommit without reaching a decision, i.e. the Driver should
// start Round+1.
func (s *State) RoundExpired() bool { return s.precommitTimedOut }

// Decided reports whether this round reached Decide.
func (s *State) Decided() bool { return s.Step == StepCommit }

// Input is the sealed set of events the round state machine reacts
// to (spec §4.3).
type Input interface{ isRoundInput() }

type NewRoundInput struct {
	Proposer bool
}

// ProposalInput delivers a proposal the Driver has already checked
// comes from the round's proposer. Valid reflects the host's
// application-level validity check (spec §1: the core never
// evaluates validity itself). PolHasQuorum is true when the Driver
// confirmed, via the vote keeper, that a prevote quorum for
// Proposal.Value exists at Proposal.POLRound -- meaningless when
// Proposal.POLRound is bft.NoRound.
type ProposalInput struct {
	Proposal     bft.Proposal
	Valid        bool
	PolHasQuorum bool
}

// PolkaValueInput reports a prevote quorum for a specific value at
// Round (which may be this round's Round).
type PolkaValueInput struct {
	Round   bft.Round
	ValueID bft.ValueID
}

// PolkaAnyInput reports a prevote quorum split across values/nil,
// with no single winner.
type PolkaAnyInput struct{ Round bft.Round }

// PolkaNilInput reports a prevote quorum for nil.
type PolkaNilInput struct{ Round bft.Round }

// PrecommitValueInput reports a precommit quorum for a specific value
// at Round -- including a round below this State's Round, since a
// late-arriving quorum for an earlier round still decides the height
// (spec §8 "late precommit decides").
type PrecommitValueInput struct {
	Round   bft.Round
	ValueID bft.ValueID
	// Proposal is the proposal the Driver retained for Round, needed
	// to recover the Value behind ValueID when Round != State.Round.
	Proposal *bft.Proposal
}

// PrecommitAnyInput reports a precommit quorum split across
// values/nil.
type PrecommitAnyInput struct{ Round bft.Round }

type TimeoutProposeInput struct{ Round bft.Round }
type TimeoutPrevoteInput struct{ Round bft.Round }
type TimeoutPrecommitInput struct{ Round bft.Round }

// ProposeValueInput supplies the value the host built in response to
// an earlier GetValueOutput.
type ProposeValueInput struct{ Value bft.Value }

func (NewRoundInput) isRoundInput()         {}
func (ProposalInput) isRoundInput()         {}
func (PolkaValueInput) isRoundInput()       {}
func (PolkaAnyInput) isRoundInput()         {}
func (PolkaNilInput) isRoundInput()         {}
func (PrecommitValueInput) isRoundInput()   {}
func (PrecommitAnyInput) isRoundInput()     {}
func (TimeoutProposeInput) isRoundInput()   {}
func (TimeoutPrevoteInput) isRoundInput()   {}
func (TimeoutPrecommitInput) isRoundInput() {}
func (ProposeValueInput) isRoundInput()     {}

// TimeoutKind distinguishes which of the three round timers a
// ScheduleTimeoutOutput arms.
type TimeoutKind uint8

const (
	TimeoutPropose TimeoutKind = iota
	TimeoutPrevote
	TimeoutPrecommit
)

// Output is the sealed set of effects the round state machine emits.
// The machine performs none of them itself -- the Driver and,
// ultimately, the host do.
type Output interface{ isRoundOutput() }

type BroadcastProposalOutput struct{ Proposal bft.Proposal }
type BroadcastVoteOutput struct {
	Type    bft.VoteType
	Round   bft.Round
	ValueID *bft.ValueID
}
type ScheduleTimeoutOutput struct {
	Kind  TimeoutKind
	Round bft.Round
}
type GetValueOutput struct {
	Height bft.Height
	Round  bft.Round
}
type DecideOutput struct {
	Round bft.Round
	Value bft.Value
}

func (BroadcastProposalOutput) isRoundOutput() {}
func (BroadcastVoteOutput) isRoundOutput()     {}
func (ScheduleTimeoutOutput) isRoundOutput()   {}
func (GetValueOutput) isRoundOutput()          {}
func (DecideOutput) isRoundOutput()            {}

func broadcastVote(t bft.VoteType, round bft.Round, id *bft.ValueID) Output {
	return BroadcastVoteOutput{Type: t, Round: round, ValueID: id}
}

// Apply feeds a single input to the round, returning any outputs it
// causes. It never panics and never mutates state for a stale input
// (spec §8 "timeout freshness", "vote idempotence").
func (s *State) Apply(in Input) []Output {
	switch input := in.(type) {
	case NewRoundInput:
		return s.applyNewRound(input)
	case ProposalInput:
		return s.applyProposal(input)
	case PolkaValueInput:
		return s.applyPolkaValue(input)
	case PolkaAnyInput:
		return s.applyPolkaAny(input)
	case PolkaNilInput:
		return s.applyPolkaNil(input)
	case PrecommitValueInput:
		return s.applyPrecommitValue(input)
	case PrecommitAnyInput:
		return s.applyPrecommitAny(input)
	case TimeoutProposeInput:
		return s.applyTimeoutPropose(input)
	case TimeoutPrevoteInput:
		return s.applyTimeoutPrevote(input)
	case TimeoutPrecommitInput:
		return s.applyTimeoutPrecommit(input)
	case ProposeValueInput:
		return s.applyProposeValue(input)
	default:
		return nil
	}
}

func (s *State) applyNewRound(in NewRoundInput) []Output {
	if !in.Proposer {
		return []Output{ScheduleTimeoutOutput{Kind: TimeoutPropose, Round: s.Round}}
	}
	if s.Valid != nil {
		polRound := s.Valid.Round
		return []Output{BroadcastProposalOutput{Proposal: bft.Proposal{
			Height:   s.Height,
			Round:    s.Round,
			Value:    s.Valid.Value,
			POLRound: polRound,
		}}}
	}
	return []Output{
		GetValueOutput{Height: s.Height, Round: s.Round},
		ScheduleTimeoutOutput{Kind: TimeoutPropose, Round: s.Round},
	}
}

func (s *State) applyProposeValue(in ProposeValueInput) []Output {
	if s.Step != StepPropose || s.Proposal != nil {
		return nil
	}
	p := bft.Proposal{Height: s.Height, Round: s.Round, Value: in.Value, POLRound: bft.NoRound}
	cp := p
	s.Proposal = &cp
	s.proposalValid = true
	return []Output{BroadcastProposalOutput{Proposal: p}}
}

func (s *State) applyProposal(in ProposalInput) []Output {
	if s.Proposal == nil {
		cp := in.Proposal
		s.Proposal = &cp
		s.proposalValid = in.Valid
	}
	if s.Step != StepPropose {
		return nil
	}
	s.Step = StepPrevote

	if !in.Valid {
		return []Output{broadcastVote(bft.VoteTypePrevote, s.Round, nil)}
	}

	canPrevote := false
	switch {
	case in.Proposal.POLRound == bft.NoRound:
		canPrevote = s.Locked == nil || s.Locked.Value.ID() == in.Proposal.Value.ID()
	case in.Proposal.POLRound < s.Round && in.PolHasQuorum:
		canPrevote = s.Locked == nil || s.Locked.Round <= in.Proposal.POLRound || s.Locked.Value.ID() == in.Proposal.Value.ID()
	}

	if !canPrevote {
		return []Output{broadcastVote(bft.VoteTypePrevote, s.Round, nil)}
	}
	id := in.Proposal.Value.ID()
	return []Output{broadcastVote(bft.VoteTypePrevote, s.Round, &id)}
}

func (s *State) applyPolkaValue(in PolkaValueInput) []Output {
	if in.Round != s.Round || s.Step == StepCommit {
		return nil
	}
	if s.Proposal == nil || !s.proposalValid || s.Proposal.Value.ID() != in.ValueID {
		return nil
	}

	s.Valid = &LockedValue{Round: in.Round, Value: s.Proposal.Value}

	if s.Step != StepPrevote {
		return nil
	}
	s.Locked = &LockedValue{Round: in.Round, Value: s.Proposal.Value}
	s.Step = StepPrecommit
	id := in.ValueID
	return []Output{broadcastVote(bft.VoteTypePrecommit, s.Round, &id)}
}

func (s *State) applyPolkaAny(in PolkaAnyInput) []Output {
	if in.Round != s.Round || s.Step != StepPrevote || s.prevoteWaitScheduled {
		return nil
	}
	s.prevoteWaitScheduled = true
	return []Output{ScheduleTimeoutOutput{Kind: TimeoutPrevote, Round: s.Round}}
}

func (s *State) applyPolkaNil(in PolkaNilInput) []Output {
	if in.Round != s.Round || s.Step != StepPrevote {
		return nil
	}
	s.Step = StepPrecommit
	return []Output{broadcastVote(bft.VoteTypePrecommit, s.Round, nil)}
}

func (s *State) applyPrecommitValue(in PrecommitValueInput) []Output {
	if s.Step == StepCommit {
		return nil
	}
	if in.Round == s.Round {
		if s.Proposal == nil || !s.proposalValid || s.Proposal.Value.ID() != in.ValueID {
			return nil
		}
		s.Step = StepCommit
		v := s.Proposal.Value
		s.Decision = &v
		return []Output{DecideOutput{Round: in.Round, Value: v}}
	}

	// A quorum for a round other than this one: only decidable if the
	// Driver handed us the proposal it retained for that round.
	if in.Proposal == nil || in.Proposal.Value.ID() != in.ValueID {
		return nil
	}
	s.Step = StepCommit
	v := in.Proposal.Value
	s.Decision = &v
	return []Output{DecideOutput{Round: in.Round, Value: v}}
}

func (s *State) applyPrecommitAny(in PrecommitAnyInput) []Output {
	if in.Round != s.Round || s.Step != StepPrecommit || s.precommitWaitScheduled {
		return nil
	}
	s.precommitWaitScheduled = true
	return []Output{ScheduleTimeoutOutput{Kind: TimeoutPrecommit, Round: s.Round}}
}

func (s *State) applyTimeoutPropose(in TimeoutProposeInput) []Output {
	if in.Round != s.Round || s.Step != StepPropose {
		return nil
	}
	s.Step = StepPrevote
	return []Output{broadcastVote(bft.VoteTypePrevote, s.Round, nil)}
}

func (s *State) applyTimeoutPrevote(in TimeoutPrevoteInput) []Output {
	if in.Round != s.Round || s.Step != StepPrevote {
		return nil
	}
	s.Step = StepPrecommit
	return []Output{broadcastVote(bft.VoteTypePrecommit, s.Round, nil)}
}

func (s *State) applyTimeoutPrecommit(in TimeoutPrecommitInput) []Output {
	if in.Round != s.Round || s.Step != StepPrecommit {
		return nil
	}
	s.precommitTimedOut = true
	return nil
}
