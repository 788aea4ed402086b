package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Evrynetlabs/bft-consensus/bft"
	"github.com/Evrynetlabs/bft-consensus/bft/bfttest"
	"github.com/Evrynetlabs/bft-consensus/bft/round"
	core "github.com/Evrynetlabs/bft-consensus/consensus/tendermint/core"
)

// TestRunner_NonProposerTimesOutToPrevoteNil exercises the full
// channel-driven loop (not just driver.Process directly): a
// non-proposer's propose timeout should fire on its own and produce a
// nil prevote without any external input after Start.
func TestRunner_NonProposerTimesOutToPrevoteNil(t *testing.T) {
	t.Parallel()

	vs := bfttest.FourEqualPower()
	cfg := bft.DefaultConfig()
	cfg.TimeoutPropose = 10 * time.Millisecond
	cfg.TimeoutProposeDelta = 0

	outputs := make(chan round.Output, 16)
	r := core.New("A", vs, cfg, nil, func(o round.Output) { outputs <- o })

	require.NoError(t, r.Start(1))
	defer r.Stop()

	// First output synchronously delivered from Start: the propose
	// timeout being scheduled (A is not round 0's proposer, B is).
	select {
	case o := <-outputs:
		require.IsType(t, round.ScheduleTimeoutOutput{}, o)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scheduled timeout output")
	}

	select {
	case o := <-outputs:
		vote, ok := o.(round.BroadcastVoteOutput)
		require.True(t, ok)
		require.Equal(t, bft.VoteTypePrevote, vote.Type)
		require.Nil(t, vote.ValueID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the propose timeout to fire")
	}
}
