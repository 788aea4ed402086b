package driver_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Evrynetlabs/bft-consensus/bft"
	"github.com/Evrynetlabs/bft-consensus/bft/bfttest"
	"github.com/Evrynetlabs/bft-consensus/bft/driver"
	"github.com/Evrynetlabs/bft-consensus/bft/round"
)

func vote(typ bft.VoteType, r bft.Round, voter bft.Address, id *bft.ValueID) bft.SignedVote {
	return bft.SignedVote{Vote: bft.Vote{Type: typ, Height: 1, Round: r, Voter: voter, ValueID: id}}
}

// At height 1, FourEqualPower's round-robin (h+r)%4 gives the
// proposer sequence B, C, D, A for rounds 0, 1, 2, 3.
func TestDriver_HappyPath_DecidesAtRoundZero(t *testing.T) {
	t.Parallel()

	vs := bfttest.FourEqualPower()
	d := driver.New("B", vs, bft.DefaultConfig(), nil)

	outs := d.StartHeight(1, nil)
	require.Len(t, outs, 2)
	require.IsType(t, round.GetValueOutput{}, outs[0])

	outs, err := d.Process(driver.ProposeValueInput{Value: bfttest.Value(5)})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	proposal := outs[0].(round.BroadcastProposalOutput).Proposal

	outs, err = d.Process(driver.ProposalInput{Proposal: proposal, From: "B", Valid: true})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	prevote := outs[0].(round.BroadcastVoteOutput)
	require.Equal(t, bft.VoteTypePrevote, prevote.Type)
	require.NotNil(t, prevote.ValueID)

	id := *prevote.ValueID
	for _, addr := range []bft.Address{"A", "B"} {
		outs, err = d.Process(driver.VoteInput{SignedVote: vote(bft.VoteTypePrevote, 0, addr, &id)})
		require.NoError(t, err)
		require.Len(t, outs, 0)
	}
	outs, err = d.Process(driver.VoteInput{SignedVote: vote(bft.VoteTypePrevote, 0, "C", &id)})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	precommit := outs[0].(round.BroadcastVoteOutput)
	require.Equal(t, bft.VoteTypePrecommit, precommit.Type)

	for _, addr := range []bft.Address{"A", "B"} {
		outs, err = d.Process(driver.VoteInput{SignedVote: vote(bft.VoteTypePrecommit, 0, addr, &id)})
		require.NoError(t, err)
		require.Len(t, outs, 0)
	}
	outs, err = d.Process(driver.VoteInput{SignedVote: vote(bft.VoteTypePrecommit, 0, "C", &id)})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.IsType(t, round.DecideOutput{}, outs[0])

	decision, ok := d.Decision()
	require.True(t, ok)
	require.Equal(t, id, decision.ID())
}

func TestDriver_NonProposer_FallsBackThroughTimeouts(t *testing.T) {
	t.Parallel()

	vs := bfttest.FourEqualPower()
	d := driver.New("A", vs, bft.DefaultConfig(), nil)

	outs := d.StartHeight(1, nil)
	require.Len(t, outs, 1)
	require.IsType(t, round.ScheduleTimeoutOutput{}, outs[0])

	outs, err := d.Process(driver.TimeoutInput{Kind: round.TimeoutPropose, Round: 0})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.Nil(t, outs[0].(round.BroadcastVoteOutput).ValueID)

	outs, err = d.Process(driver.TimeoutInput{Kind: round.TimeoutPrevote, Round: 0})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	require.Equal(t, bft.VoteTypePrecommit, outs[0].(round.BroadcastVoteOutput).Type)

	outs, err = d.Process(driver.TimeoutInput{Kind: round.TimeoutPrecommit, Round: 0})
	require.NoError(t, err)
	require.Equal(t, bft.Round(1), d.Round())
	require.Len(t, outs, 1)
	require.IsType(t, round.ScheduleTimeoutOutput{}, outs[0])
}

func TestDriver_SkipRound(t *testing.T) {
	t.Parallel()

	vs := bfttest.FourEqualPower()
	d := driver.New("A", vs, bft.DefaultConfig(), nil)
	d.StartHeight(1, nil)
	require.Equal(t, bft.Round(0), d.Round())

	id := bfttest.ValueIDFor(1)
	_, err := d.Process(driver.VoteInput{SignedVote: vote(bft.VoteTypePrevote, 3, "A", &id)})
	require.NoError(t, err)
	require.Equal(t, bft.Round(0), d.Round())

	outs, err := d.Process(driver.VoteInput{SignedVote: vote(bft.VoteTypePrecommit, 3, "B", &id)})
	require.NoError(t, err)
	require.Equal(t, bft.Round(3), d.Round())
	// Round 3's proposer under (h+r)%4 with h=1 is A (this node): no
	// valid carried forward, so it requests a value and schedules the
	// propose timeout.
	require.Len(t, outs, 2)
}

func TestDriver_LatePrecommitQuorum_DecidesAcrossRounds(t *testing.T) {
	t.Parallel()

	vs := bfttest.FourEqualPower()
	d := driver.New("B", vs, bft.DefaultConfig(), nil)
	d.StartHeight(1, nil)

	outs, err := d.Process(driver.ProposeValueInput{Value: bfttest.Value(9)})
	require.NoError(t, err)
	proposal := outs[0].(round.BroadcastProposalOutput).Proposal

	_, err = d.Process(driver.ProposalInput{Proposal: proposal, From: "B", Valid: true})
	require.NoError(t, err)

	// Skip forward to round 2 via two distinct voters at round 2.
	id2 := bfttest.ValueIDFor(1)
	_, err = d.Process(driver.VoteInput{SignedVote: vote(bft.VoteTypePrevote, 2, "A", &id2)})
	require.NoError(t, err)
	_, err = d.Process(driver.VoteInput{SignedVote: vote(bft.VoteTypePrecommit, 2, "C", &id2)})
	require.NoError(t, err)
	require.Equal(t, bft.Round(2), d.Round())

	// A delayed precommit quorum for round 0's proposal still decides
	// the height, even though the live round has moved on.
	id0 := proposal.Value.ID()
	for _, addr := range []bft.Address{"A", "B"} {
		outs, err = d.Process(driver.VoteInput{SignedVote: vote(bft.VoteTypePrecommit, 0, addr, &id0)})
		require.NoError(t, err)
		require.Len(t, outs, 0)
	}
	outs, err = d.Process(driver.VoteInput{SignedVote: vote(bft.VoteTypePrecommit, 0, "C", &id0)})
	require.NoError(t, err)
	require.Len(t, outs, 1)
	decide := outs[0].(round.DecideOutput)
	require.Equal(t, bft.Round(0), decide.Round)
	require.Equal(t, id0, decide.Value.ID())

	decision, ok := d.Decision()
	require.True(t, ok)
	require.Equal(t, id0, decision.ID())
}

func TestDriver_UnknownValidator_Errors(t *testing.T) {
	t.Parallel()

	vs := bfttest.FourEqualPower()
	d := driver.New("A", vs, bft.DefaultConfig(), nil)
	d.StartHeight(1, nil)

	id := bfttest.ValueIDFor(1)
	_, err := d.Process(driver.VoteInput{SignedVote: vote(bft.VoteTypePrevote, 0, "Z", &id)})
	require.Error(t, err)
}

func TestDriver_ProposerMismatch_Errors(t *testing.T) {
	t.Parallel()

	vs := bfttest.FourEqualPower()
	d := driver.New("A", vs, bft.DefaultConfig(), nil)
	d.StartHeight(1, nil)

	p := bft.Proposal{Height: 1, Round: 0, Value: bfttest.Value(1), POLRound: bft.NoRound}
	_, err := d.Process(driver.ProposalInput{Proposal: p, From: "A", Valid: true})
	require.Error(t, err)
}
