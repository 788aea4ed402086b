// Package driver implements the composition layer of spec §4.4: it
// owns one height's lifecycle, resolves the proposer for each round,
// routes votes into the vote keeper and proposals/timeouts into the
// round state machine, reconciles the two into round transitions, and
// emits the outputs a host must act on (broadcast a message, schedule
// a timer, fetch a value to propose, or record a decision).
//
// Grounded on the teacher's core struct and its Start/SendPropose/
// SendVote/FinalizeMsg methods (consensus/tendermint/core/core.go),
// restructured the same way bft/round was: the teacher's
// goroutine/mutex/event.TypeMux host loop becomes a single synchronous
// Process call here, with that concurrency concern left entirely to
// whatever host wires this package up (consensus/tendermint/core in
// this repo).
package driver

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/Evrynetlabs/bft-consensus/bft"
	"github.com/Evrynetlabs/bft-consensus/bft/bfterrors"
	"github.com/Evrynetlabs/bft-consensus/bft/bftlog"
	"github.com/Evrynetlabs/bft-consensus/bft/round"
	"github.com/Evrynetlabs/bft-consensus/bft/votekeeper"
)

// trackedRoundWindow bounds how many distinct rounds' proposals the
// Driver retains for late-decide/POL lookups at once: when a further
// round is added, the LRU cache below evicts the round least recently
// added or looked up (spec §5 "Resource bounds", §9 "past-round
// bookkeeping").
const trackedRoundWindow = 16

// Updates optionally replaces the validator set and/or configuration
// on a height transition; a nil field keeps the current value (spec
// §12's HeightUpdates-style payload: "if None, keep the current
// one").
type Updates struct {
	ValidatorSet bft.ValidatorSet
	Config       *bft.Config
}

// ProposalInput delivers a proposal attributed to From -- the Driver,
// not the round state machine, is responsible for checking From
// against the round's resolved proposer (spec §4.4, §7
// ErrProposerMismatch), since the round state machine has no notion
// of validator identity.
type ProposalInput struct {
	Proposal bft.Proposal
	From     bft.Address
	Valid    bool
}

// VoteInput delivers a single signed vote for routing into the vote
// keeper.
type VoteInput struct {
	SignedVote bft.SignedVote
}

// TimeoutInput delivers a previously scheduled timeout firing.
type TimeoutInput struct {
	Kind  round.TimeoutKind
	Round bft.Round
}

// ProposeValueInput supplies the value the host built in response to
// an earlier round.GetValueOutput.
type ProposeValueInput struct {
	Value bft.Value
}

// Driver owns one height of consensus. Construct with New, start a
// height with StartHeight, and feed every subsequent input through
// Process.
type Driver struct {
	address    bft.Address
	validators bft.ValidatorSet
	cfg        bft.Config
	log        *bftlog.Logger

	height bft.Height
	round  bft.Round
	state  *round.State
	keeper *votekeeper.Keeper

	pastProposals *lru.Cache
}

// New constructs a Driver for a single node identified by address.
// Call StartHeight before Process.
func New(address bft.Address, validators bft.ValidatorSet, cfg bft.Config, log *bftlog.Logger) *Driver {
	if log == nil {
		log = bftlog.Nop()
	}
	return &Driver{
		address:    address,
		validators: validators,
		cfg:        cfg,
		log:        log,
	}
}

// StartHeight resets the Driver onto a new height, optionally applying
// Updates, and starts round 0. Locked/valid values never carry across
// a height boundary.
func (d *Driver) StartHeight(height bft.Height, updates *Updates) []round.Output {
	if updates != nil {
		if updates.ValidatorSet != nil {
			d.validators = updates.ValidatorSet
		}
		if updates.Config != nil {
			d.cfg = *updates.Config
		}
	}
	d.height = height
	d.keeper = votekeeper.NewKeeper(d.validators.TotalVotingPower())
	cache, _ := lru.New(trackedRoundWindow)
	d.pastProposals = cache

	d.log.Debugw("start height", "height", height)
	return d.startRound(0, nil, nil)
}

// Height returns the height currently being processed.
func (d *Driver) Height() bft.Height { return d.height }

// Round returns the current round within the height.
func (d *Driver) Round() bft.Round { return d.round }

// Decision returns the decided value for this height, if any.
func (d *Driver) Decision() (bft.Value, bool) {
	if d.state == nil || !d.state.Decided() || d.state.Decision == nil {
		return nil, false
	}
	return *d.state.Decision, true
}

func (d *Driver) startRound(r bft.Round, locked, valid *round.LockedValue) []round.Output {
	d.round = r
	d.state = round.NewState(d.height, r, locked, valid)

	proposer, ok := d.validators.GetProposer(d.height, r)
	if !ok {
		d.log.Warnw("no proposer resolved", "height", d.height, "round", r)
		return nil
	}
	outs := d.state.Apply(round.NewRoundInput{Proposer: proposer.Address == d.address})
	d.log.Debugw("start round", "height", d.height, "round", r, "proposer", proposer.Address)
	return outs
}

func (d *Driver) advanceRound(r bft.Round) []round.Output {
	var locked, valid *round.LockedValue
	if d.state != nil {
		locked, valid = d.state.Locked, d.state.Valid
	}
	return d.startRound(r, locked, valid)
}

func (d *Driver) pastProposalAt(r bft.Round) *bft.Proposal {
	if r == d.round {
		return d.state.Proposal
	}
	v, ok := d.pastProposals.Get(r)
	if !ok {
		return nil
	}
	p := v.(bft.Proposal)
	return &p
}

// Process feeds a single input to the Driver, returning every output
// it causes (in order) or an error from the §7 taxonomy if the input
// could not be reconciled against current state. Once this height has
// decided, the Driver is terminal: every subsequent input is dropped
// without error (a late vote or proposal arriving after Decide is
// expected, not a fault) until StartHeight begins the next height.
func (d *Driver) Process(input interface{}) ([]round.Output, error) {
	if d.state != nil && d.state.Decided() {
		return nil, nil
	}

	switch in := input.(type) {
	case ProposalInput:
		return d.processProposal(in)
	case VoteInput:
		return d.processVote(in)
	case TimeoutInput:
		return d.processTimeout(in)
	case ProposeValueInput:
		if d.state == nil {
			return nil, bfterrors.DriverProcess(bfterrors.RoundMismatch(d.round))
		}
		return d.state.Apply(round.ProposeValueInput{Value: in.Value}), nil
	default:
		return nil, bfterrors.DriverProcess(bfterrors.RoundMismatch(d.round))
	}
}

func (d *Driver) processProposal(in ProposalInput) ([]round.Output, error) {
	if in.Proposal.Height != d.height {
		return nil, bfterrors.HeightMismatch(d.height, in.Proposal.Height)
	}
	proposer, ok := d.validators.GetProposer(in.Proposal.Height, in.Proposal.Round)
	if !ok || proposer.Address != in.From {
		want := bft.Address("<unresolved>")
		if ok {
			want = proposer.Address
		}
		return nil, bfterrors.ProposerMismatch(in.Proposal.Height, in.Proposal.Round, in.From, want)
	}

	// Retain every proposal we see for POL/late-decide lookups,
	// regardless of whether it belongs to the live round.
	d.pastProposals.Add(in.Proposal.Round, in.Proposal)

	if in.Proposal.Round != d.round {
		d.log.Debugw("retained out-of-round proposal", "height", d.height, "proposal_round", in.Proposal.Round, "current_round", d.round)
		return nil, nil
	}

	polHasQuorum := false
	if in.Proposal.POLRound != bft.NoRound {
		snap := d.keeper.VotesAt(in.Proposal.POLRound, bft.VoteTypePrevote)
		polHasQuorum = snap.ValueWeight[in.Proposal.Value.ID()] >= bft.QuorumWeight(d.validators.TotalVotingPower())
	}

	outs := d.state.Apply(round.ProposalInput{Proposal: in.Proposal, Valid: in.Valid, PolHasQuorum: polHasQuorum})

	// A prevote quorum for this proposal's value may already have fired
	// before the proposal itself arrived (the keeper fires a threshold
	// only once, and routeThreshold had no proposal to match it
	// against yet). Re-evaluate it now that the proposal is known, or
	// the node never locks/precommits and the round stalls.
	if in.Valid {
		snap := d.keeper.VotesAt(d.round, bft.VoteTypePrevote)
		if snap.ValueWeight[in.Proposal.Value.ID()] >= bft.QuorumWeight(d.validators.TotalVotingPower()) {
			outs = append(outs, d.state.Apply(round.PolkaValueInput{Round: d.round, ValueID: in.Proposal.Value.ID()})...)
		}
	}

	d.log.Debugw("accepted proposal", "height", d.height, "round", in.Proposal.Round, "outputs", len(outs))
	return outs, nil
}

func (d *Driver) processVote(in VoteInput) ([]round.Output, error) {
	vote := in.SignedVote.Vote
	if vote.Height != d.height {
		return nil, bfterrors.HeightMismatch(d.height, vote.Height)
	}
	validator, ok := d.validators.GetByAddress(vote.Voter)
	if !ok {
		return nil, bfterrors.UnknownValidator(vote.Voter)
	}

	result := d.keeper.ApplyVote(vote, validator.Power, d.round)

	var outs []round.Output

	if result.Threshold != nil {
		outs = append(outs, d.routeThreshold(vote, *result.Threshold)...)
	}

	if result.SkipRound != nil {
		d.log.Debugw("skip round", "height", d.height, "from_round", d.round, "to_round", *result.SkipRound)
		outs = append(outs, d.advanceRound(*result.SkipRound)...)
	}

	return outs, nil
}

func (d *Driver) routeThreshold(vote bft.Vote, th bft.Threshold) []round.Output {
	switch vote.Type {
	case bft.VoteTypePrevote:
		if vote.Round != d.round {
			return nil
		}
		switch th.Kind {
		case bft.ThresholdValue:
			return d.state.Apply(round.PolkaValueInput{Round: vote.Round, ValueID: th.Value})
		case bft.ThresholdNil:
			return d.state.Apply(round.PolkaNilInput{Round: vote.Round})
		case bft.ThresholdAny:
			return d.state.Apply(round.PolkaAnyInput{Round: vote.Round})
		}
	case bft.VoteTypePrecommit:
		switch th.Kind {
		case bft.ThresholdValue:
			outs := d.state.Apply(round.PrecommitValueInput{
				Round:    vote.Round,
				ValueID:  th.Value,
				Proposal: d.pastProposalAt(vote.Round),
			})
			if d.state.RoundExpired() {
				outs = append(outs, d.advanceRound(d.round+1)...)
			}
			return outs
		case bft.ThresholdNil, bft.ThresholdAny:
			if vote.Round != d.round {
				return nil
			}
			outs := d.state.Apply(round.PrecommitAnyInput{Round: vote.Round})
			if d.state.RoundExpired() {
				outs = append(outs, d.advanceRound(d.round+1)...)
			}
			return outs
		}
	}
	return nil
}

func (d *Driver) processTimeout(in TimeoutInput) ([]round.Output, error) {
	if d.state == nil {
		return nil, bfterrors.DriverProcess(bfterrors.RoundMismatch(in.Round))
	}

	var outs []round.Output
	switch in.Kind {
	case round.TimeoutPropose:
		outs = d.state.Apply(round.TimeoutProposeInput{Round: in.Round})
	case round.TimeoutPrevote:
		outs = d.state.Apply(round.TimeoutPrevoteInput{Round: in.Round})
	case round.TimeoutPrecommit:
		outs = d.state.Apply(round.TimeoutPrecommitInput{Round: in.Round})
	default:
		return nil, bfterrors.DriverProcess(bfterrors.RoundMismatch(in.Round))
	}

	if d.state.RoundExpired() {
		d.log.Debugw("round expired on timeout", "height", d.height, "round", d.round)
		outs = append(outs, d.advanceRound(d.round+1)...)
	}
	return outs, nil
}
