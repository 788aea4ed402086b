// Package votekeeper implements the per-height vote aggregator of
// spec §4.2: it tallies authenticated prevotes and precommits,
// weighted by voting power, and reports the first time a (round,
// step) tally crosses a quorum threshold.
//
// The keeper is a stateful but otherwise pure data structure. It
// performs no I/O, makes no network calls and never panics on
// malformed input -- votes from unknown validators are rejected by the
// caller before ApplyVote is ever called (the Driver owns that check;
// see driver.Driver), and ApplyVote itself drops a vote with zero
// weight.
//
// Grounded on the teacher's roundState.messageSet-per-round tallies
// (consensus/tendermint/core/roundState.go: PrevotesReceived,
// PrecommitsReceived maps keyed by round) and on
// malachite_vote::keeper (original_source/Code/vote/src/lib.rs) for
// the Threshold enum and the "first vote per voter per (round,step)
// wins" tie-break rule.
package votekeeper

import (
	"sort"

	"github.com/Evrynetlabs/bft-consensus/bft"
)

// EquivocationEvidence records that a voter cast two conflicting votes
// for the same (round, step). The second vote is recorded for
// evidence but never counted towards the tally.
type EquivocationEvidence struct {
	Voter      bft.Address
	Round      bft.Round
	Type       bft.VoteType
	FirstValue *bft.ValueID
	Second     *bft.ValueID
}

// tally aggregates one (round, step)'s votes.
type tally struct {
	totalPower bft.VotingPower

	byVoter    map[bft.Address]*bft.ValueID
	nilWeight  bft.VotingPower
	valWeight  map[bft.ValueID]bft.VotingPower
	allWeight  bft.VotingPower // sum of nilWeight + all valWeight entries
	firedKind  bft.ThresholdKind
	firedValue bft.ValueID // meaningful only when firedKind == ThresholdValue
}

func newTally(totalPower bft.VotingPower) *tally {
	return &tally{
		totalPower: totalPower,
		byVoter:    make(map[bft.Address]*bft.ValueID),
		valWeight:  make(map[bft.ValueID]bft.VotingPower),
		firedKind:  bft.ThresholdUnreached,
	}
}

// add records voter's vote, weighted by weight. It returns the newly
// crossed threshold (nil if none) and equivocation evidence (nil if
// this is the voter's first vote for this tally).
func (t *tally) add(voter bft.Address, value *bft.ValueID, weight bft.VotingPower) (*bft.Threshold, *EquivocationEvidence) {
	if existing, ok := t.byVoter[voter]; ok {
		if sameValue(existing, value) {
			// Duplicate of the same vote: idempotent, no new weight, no new threshold.
			return nil, nil
		}
		// Equivocation: recorded, not re-counted.
		return nil, &EquivocationEvidence{
			Voter:      voter,
			FirstValue: existing,
			Second:     value,
		}
	}

	t.byVoter[voter] = value
	if value == nil {
		t.nilWeight += weight
	} else {
		t.valWeight[*value] += weight
	}
	t.allWeight += weight

	return t.classify(), nil
}

func sameValue(a, b *bft.ValueID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// classify recomputes the tally's threshold class and, if it newly
// crosses a class that has not already fired for this tally, returns
// it. It never regresses: once Nil or Value(v) has fired, no further
// threshold fires for this tally. (With total power 3f+1, 2*(2f+1)
// exceeds the total, so Nil and a Value quorum cannot both be reached
// anyway; for other totals, such as 6, they can, and the guard below
// is what keeps a second quorum from firing.)
func (t *tally) classify() *bft.Threshold {
	if t.firedKind == bft.ThresholdValue || t.firedKind == bft.ThresholdNil {
		return nil
	}
	quorum := bft.QuorumWeight(t.totalPower)

	for id, w := range t.valWeight {
		if w >= quorum {
			if t.firedKind == bft.ThresholdValue && t.firedValue == id {
				return nil
			}
			t.firedKind = bft.ThresholdValue
			t.firedValue = id
			th := bft.ThresholdForValue(id)
			return &th
		}
	}

	if t.nilWeight >= quorum {
		if t.firedKind == bft.ThresholdNil {
			return nil
		}
		t.firedKind = bft.ThresholdNil
		th := bft.ThresholdNilResult
		return &th
	}

	if t.allWeight >= quorum {
		if t.firedKind == bft.ThresholdUnreached {
			t.firedKind = bft.ThresholdAny
			th := bft.ThresholdAnyResult
			return &th
		}
		return nil
	}

	return nil
}

// snapshot is a read-only view of a tally, sorted by voter address
// for deterministic iteration (spec §9: never rely on map order).
type Snapshot struct {
	TotalWeight bft.VotingPower
	NilWeight   bft.VotingPower
	ValueWeight map[bft.ValueID]bft.VotingPower
	Voters      []bft.Address // sorted ascending
}

func (t *tally) snapshot() Snapshot {
	voters := make([]bft.Address, 0, len(t.byVoter))
	for v := range t.byVoter {
		voters = append(voters, v)
	}
	sort.Slice(voters, func(i, j int) bool { return voters[i] < voters[j] })

	valWeight := make(map[bft.ValueID]bft.VotingPower, len(t.valWeight))
	for k, v := range t.valWeight {
		valWeight[k] = v
	}

	return Snapshot{
		TotalWeight: t.allWeight,
		NilWeight:   t.nilWeight,
		ValueWeight: valWeight,
		Voters:      voters,
	}
}

// roundTally holds the prevote and precommit tallies for one round,
// plus the combined "any vote in this round" weight used for skip-
// round detection.
type roundTally struct {
	prevote   *tally
	precommit *tally

	anyVoter     map[bft.Address]struct{}
	anyWeight    bft.VotingPower
	skipReported bool
}

func newRoundTally(totalPower bft.VotingPower) *roundTally {
	return &roundTally{
		prevote:   newTally(totalPower),
		precommit: newTally(totalPower),
		anyVoter:  make(map[bft.Address]struct{}),
	}
}

// Keeper tallies prevotes and precommits for a single height, across
// every round touched so far. Construct one per height.
type Keeper struct {
	totalPower bft.VotingPower
	rounds     map[bft.Round]*roundTally
	evidence   []EquivocationEvidence
}

// NewKeeper constructs a Keeper for a height with the given total
// voting power (spec §6: VoteKeeper::new(total_voting_power)).
func NewKeeper(totalPower bft.VotingPower) *Keeper {
	return &Keeper{
		totalPower: totalPower,
		rounds:     make(map[bft.Round]*roundTally),
	}
}

func (k *Keeper) roundTallyFor(round bft.Round) *roundTally {
	rt, ok := k.rounds[round]
	if !ok {
		rt = newRoundTally(k.totalPower)
		k.rounds[round] = rt
	}
	return rt
}

// Result is the outcome of applying a single vote. Threshold and
// SkipRound are independent: either, both or neither may be non-nil.
type Result struct {
	// Threshold is the newly crossed quorum class for vote.Round,
	// vote.Type, if any -- including for a round below currentRound,
	// since late votes still matter (spec §4.2).
	Threshold *bft.Threshold

	// SkipRound is set the first time f+1 weight is observed across
	// any vote type in some round strictly greater than currentRound.
	SkipRound *bft.Round
}

// ApplyVote records vote with the given weight and reports whatever
// new threshold or skip-round condition it causes. weight of 0 is
// dropped (the caller is expected to have already resolved the
// voter's address against the ValidatorSet and supplied its real
// power; an unknown validator should never reach here with non-zero
// weight). Applying the same vote twice is idempotent.
func (k *Keeper) ApplyVote(vote bft.Vote, weight bft.VotingPower, currentRound bft.Round) Result {
	if weight == 0 {
		return Result{}
	}

	rt := k.roundTallyFor(vote.Round)

	var res Result

	var tly *tally
	switch vote.Type {
	case bft.VoteTypePrevote:
		tly = rt.prevote
	case bft.VoteTypePrecommit:
		tly = rt.precommit
	default:
		return Result{}
	}

	threshold, equiv := tly.add(vote.Voter, vote.ValueID, weight)
	if equiv != nil {
		equiv.Round = vote.Round
		equiv.Type = vote.Type
		k.evidence = append(k.evidence, *equiv)
	}
	if threshold != nil {
		res.Threshold = threshold
	}

	// Skip-round bookkeeping: track total weight of any distinct
	// voter casting any vote (prevote or precommit) in this round,
	// regardless of whether that voter's vote was itself new weight
	// in the prevote/precommit tally above (a voter might already
	// have voted in the other step).
	if _, seen := rt.anyVoter[vote.Voter]; !seen {
		rt.anyVoter[vote.Voter] = struct{}{}
		rt.anyWeight += weight
	}

	if !rt.skipReported && vote.Round > currentRound && rt.anyWeight >= bft.HonestWeight(k.totalPower) {
		rt.skipReported = true
		r := vote.Round
		res.SkipRound = &r
	}

	return res
}

// VotesAt returns a snapshot of the tally for (round, step), for
// observation/testing (spec §4.2: votes_at).
func (k *Keeper) VotesAt(round bft.Round, step bft.VoteType) Snapshot {
	rt, ok := k.rounds[round]
	if !ok {
		return Snapshot{ValueWeight: map[bft.ValueID]bft.VotingPower{}}
	}
	switch step {
	case bft.VoteTypePrecommit:
		return rt.precommit.snapshot()
	default:
		return rt.prevote.snapshot()
	}
}

// Evidence returns every equivocation observed so far, in the order
// it was detected.
func (k *Keeper) Evidence() []EquivocationEvidence {
	return append([]EquivocationEvidence(nil), k.evidence...)
}
