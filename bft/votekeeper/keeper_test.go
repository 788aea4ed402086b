package votekeeper_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Evrynetlabs/bft-consensus/bft"
	"github.com/Evrynetlabs/bft-consensus/bft/bfttest"
	"github.com/Evrynetlabs/bft-consensus/bft/votekeeper"
)

func fourValPower() bft.VotingPower {
	return bfttest.FourEqualPower().TotalVotingPower()
}

func vote(typ bft.VoteType, round bft.Round, voter bft.Address, val *bft.ValueID) bft.Vote {
	return bft.Vote{Type: typ, Round: round, ValueID: val, Voter: voter}
}

func idPtr(n int) *bft.ValueID {
	id := bfttest.ValueIDFor(n)
	return &id
}

func TestApplyVote_ValueQuorum(t *testing.T) {
	t.Parallel()

	k := votekeeper.NewKeeper(fourValPower())

	v1 := idPtr(1)

	res := k.ApplyVote(vote(bft.VoteTypePrevote, 0, "A", v1), 1, 0)
	require.Nil(t, res.Threshold)

	res = k.ApplyVote(vote(bft.VoteTypePrevote, 0, "B", v1), 1, 0)
	require.Nil(t, res.Threshold)

	res = k.ApplyVote(vote(bft.VoteTypePrevote, 0, "C", v1), 1, 0)
	require.NotNil(t, res.Threshold)
	require.Equal(t, bft.ThresholdValue, res.Threshold.Kind)
	require.Equal(t, bfttest.ValueIDFor(1), res.Threshold.Value)

	// A fourth vote for the same value must not re-fire.
	res = k.ApplyVote(vote(bft.VoteTypePrevote, 0, "D", v1), 1, 0)
	require.Nil(t, res.Threshold)
}

func TestApplyVote_NilQuorum(t *testing.T) {
	t.Parallel()

	k := votekeeper.NewKeeper(fourValPower())

	res := k.ApplyVote(vote(bft.VoteTypePrecommit, 0, "A", nil), 1, 0)
	require.Nil(t, res.Threshold)
	res = k.ApplyVote(vote(bft.VoteTypePrecommit, 0, "B", nil), 1, 0)
	require.Nil(t, res.Threshold)
	res = k.ApplyVote(vote(bft.VoteTypePrecommit, 0, "C", nil), 1, 0)
	require.NotNil(t, res.Threshold)
	require.Equal(t, bft.ThresholdNil, res.Threshold.Kind)
}

func TestApplyVote_AnyQuorumThenSuppressed(t *testing.T) {
	t.Parallel()

	k := votekeeper.NewKeeper(fourValPower())

	v1 := idPtr(1)
	v2 := idPtr(2)

	res := k.ApplyVote(vote(bft.VoteTypePrevote, 0, "A", v1), 1, 0)
	require.Nil(t, res.Threshold)
	res = k.ApplyVote(vote(bft.VoteTypePrevote, 0, "B", v2), 1, 0)
	require.Nil(t, res.Threshold)

	// C splits the vote further: 3 distinct voters, no single value
	// has quorum, but total weight reaches 2f+1=3 -> Any.
	res = k.ApplyVote(vote(bft.VoteTypePrevote, 0, "C", nil), 1, 0)
	require.NotNil(t, res.Threshold)
	require.Equal(t, bft.ThresholdAny, res.Threshold.Kind)

	// D's vote doesn't change the classification (still no single
	// value/nil quorum) so Any must not re-fire.
	res = k.ApplyVote(vote(bft.VoteTypePrevote, 0, "D", v1), 1, 0)
	require.Nil(t, res.Threshold)
}

func TestApplyVote_Idempotent(t *testing.T) {
	t.Parallel()

	k := votekeeper.NewKeeper(fourValPower())
	v1 := idPtr(1)

	k.ApplyVote(vote(bft.VoteTypePrevote, 0, "A", v1), 1, 0)
	k.ApplyVote(vote(bft.VoteTypePrevote, 0, "B", v1), 1, 0)
	res := k.ApplyVote(vote(bft.VoteTypePrevote, 0, "C", v1), 1, 0)
	require.NotNil(t, res.Threshold)

	// Replaying the same three votes produces no further thresholds.
	res = k.ApplyVote(vote(bft.VoteTypePrevote, 0, "A", v1), 1, 0)
	require.Nil(t, res.Threshold)
	res = k.ApplyVote(vote(bft.VoteTypePrevote, 0, "B", v1), 1, 0)
	require.Nil(t, res.Threshold)
	res = k.ApplyVote(vote(bft.VoteTypePrevote, 0, "C", v1), 1, 0)
	require.Nil(t, res.Threshold)
}

func TestApplyVote_Equivocation(t *testing.T) {
	t.Parallel()

	k := votekeeper.NewKeeper(fourValPower())
	v1 := idPtr(1)
	v2 := idPtr(2)

	k.ApplyVote(vote(bft.VoteTypePrevote, 0, "A", v1), 1, 0)
	k.ApplyVote(vote(bft.VoteTypePrevote, 0, "B", v1), 1, 0)

	// D equivocates: first v1, then v2. Only the first counts.
	k.ApplyVote(vote(bft.VoteTypePrevote, 0, "D", v1), 1, 0)
	res := k.ApplyVote(vote(bft.VoteTypePrevote, 0, "D", v2), 1, 0)
	require.Nil(t, res.Threshold)

	require.Len(t, k.Evidence(), 1)
	ev := k.Evidence()[0]
	require.Equal(t, bft.Address("D"), ev.Voter)
	require.Equal(t, bfttest.ValueIDFor(1), *ev.FirstValue)
	require.Equal(t, bfttest.ValueIDFor(2), *ev.Second)

	snap := k.VotesAt(0, bft.VoteTypePrevote)
	require.Equal(t, bft.VotingPower(3), snap.TotalWeight)
}

func TestApplyVote_ZeroWeightDropped(t *testing.T) {
	t.Parallel()

	k := votekeeper.NewKeeper(fourValPower())
	res := k.ApplyVote(vote(bft.VoteTypePrevote, 0, "A", idPtr(1)), 0, 0)
	require.Nil(t, res.Threshold)
	require.Nil(t, res.SkipRound)

	snap := k.VotesAt(0, bft.VoteTypePrevote)
	require.Equal(t, bft.VotingPower(0), snap.TotalWeight)
}

func TestApplyVote_SkipRound(t *testing.T) {
	t.Parallel()

	k := votekeeper.NewKeeper(fourValPower())
	v1 := idPtr(1)

	// Local node is at round 0; two validators (f+1=2) vote at round 3.
	res := k.ApplyVote(vote(bft.VoteTypePrevote, 3, "A", v1), 1, 0)
	require.Nil(t, res.SkipRound)

	res = k.ApplyVote(vote(bft.VoteTypePrecommit, 3, "B", v1), 1, 0)
	require.NotNil(t, res.SkipRound)
	require.Equal(t, bft.Round(3), *res.SkipRound)

	// Further votes at round 3 must not re-report the skip.
	res = k.ApplyVote(vote(bft.VoteTypePrevote, 3, "C", v1), 1, 0)
	require.Nil(t, res.SkipRound)
}

func TestApplyVote_LateRoundThresholdStillFires(t *testing.T) {
	t.Parallel()

	k := votekeeper.NewKeeper(fourValPower())
	v0 := idPtr(0)

	// Local node is already at round 2 (currentRound=2); a delayed
	// precommit quorum for round 0 still must be reported, per the
	// "late precommit decides" scenario (spec §8 scenario 6).
	k.ApplyVote(vote(bft.VoteTypePrecommit, 0, "A", v0), 1, 2)
	k.ApplyVote(vote(bft.VoteTypePrecommit, 0, "B", v0), 1, 2)
	res := k.ApplyVote(vote(bft.VoteTypePrecommit, 0, "C", v0), 1, 2)
	require.NotNil(t, res.Threshold)
	require.Equal(t, bft.ThresholdValue, res.Threshold.Kind)
}
