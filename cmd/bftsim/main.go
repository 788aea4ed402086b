// Command bftsim runs one of the worked four-validator scenarios
// through real bft/driver.Driver instances, in process, logs each
// decision and prints every node's decided value. There is no network
// and no storage: proposals and
// votes are handed directly from one node's outputs into the other
// nodes' inputs by this command, the way a test harness would, not a
// production host.
//
// Grounded on the teacher's urfave/cli-style single-command tool
// layout (cli is already in the teacher's go.mod for its own CLI
// commands) and on spec §8's worked scenarios, which this command
// replays against the real driver/round/votekeeper stack instead of
// just asserting on them in a unit test.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/Evrynetlabs/bft-consensus/bft"
	"github.com/Evrynetlabs/bft-consensus/bft/bftlog"
	"github.com/Evrynetlabs/bft-consensus/bft/bfttest"
	"github.com/Evrynetlabs/bft-consensus/bft/driver"
	"github.com/Evrynetlabs/bft-consensus/bft/round"
)

func main() {
	app := cli.NewApp()
	app.Name = "bftsim"
	app.Usage = "replay a worked consensus scenario through real driver/round/votekeeper code"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "scenario",
			Value: "happy-path",
			Usage: "happy-path | skip-round",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// network holds every node's Driver and fans each one's outputs out
// to the others, the way a real gossip layer would but without any
// actual transport.
type network struct {
	nodes map[bft.Address]*driver.Driver
	log   *bftlog.Logger
}

func newNetwork(vs *bfttest.ValidatorSet, cfg bft.Config, log *bftlog.Logger) *network {
	n := &network{nodes: make(map[bft.Address]*driver.Driver), log: log}
	for _, v := range vs.Validators() {
		n.nodes[v.Address] = driver.New(v.Address, vs, cfg, log)
	}
	return n
}

func (n *network) startHeight(height bft.Height) {
	for addr, d := range n.nodes {
		n.deliverOutputs(addr, d.StartHeight(height, nil))
	}
}

// deliver feeds in to node addr's Driver and fans out whatever it
// produces to every other node.
func (n *network) deliver(addr bft.Address, in interface{}) {
	outs, err := n.nodes[addr].Process(in)
	if err != nil {
		n.log.Warnw("dropped input", "node", addr, "error", err)
		return
	}
	n.deliverOutputs(addr, outs)
}

func (n *network) deliverOutputs(from bft.Address, outs []round.Output) {
	for _, o := range outs {
		switch out := o.(type) {
		case round.BroadcastProposalOutput:
			for addr := range n.nodes {
				if addr == from {
					continue
				}
				n.deliver(addr, driver.ProposalInput{Proposal: out.Proposal, From: from, Valid: true})
			}
		case round.BroadcastVoteOutput:
			for addr := range n.nodes {
				vote := bft.Vote{Type: out.Type, Height: n.nodes[from].Height(), Round: out.Round, ValueID: out.ValueID, Voter: from}
				n.deliver(addr, driver.VoteInput{SignedVote: bft.SignedVote{Vote: vote}})
			}
		case round.DecideOutput:
			n.log.Infow("decided", "node", from, "round", out.Round, "value", out.Value.ID())
		}
	}
}

func run(c *cli.Context) error {
	zlog, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer zlog.Sync() //nolint:errcheck
	log := bftlog.New(zlog)

	vs := bfttest.FourEqualPower()
	cfg := bft.DefaultConfig()
	net := newNetwork(vs, cfg, log)

	switch c.String("scenario") {
	case "skip-round":
		runSkipRound(net, vs)
	default:
		runHappyPath(net, vs)
	}

	for addr, d := range net.nodes {
		if v, ok := d.Decision(); ok {
			fmt.Printf("%s decided %v\n", addr, v.ID())
		}
	}
	return nil
}

func runHappyPath(net *network, vs *bfttest.ValidatorSet) {
	net.startHeight(1)
	proposer, _ := vs.GetProposer(1, 0)
	net.deliver(proposer.Address, driver.ProposeValueInput{Value: bfttest.Value(42)})
}

func runSkipRound(net *network, vs *bfttest.ValidatorSet) {
	net.startHeight(1)
	id := bfttest.ValueIDFor(1)
	// f+1 = 2 distinct voters at round 3 make every node skip to round 3.
	for addr := range net.nodes {
		for _, voter := range []bft.Address{"A", "B"} {
			net.deliver(addr, driver.VoteInput{SignedVote: bft.SignedVote{Vote: bft.Vote{
				Type: bft.VoteTypePrecommit, Height: 1, Round: 3, ValueID: &id, Voter: voter,
			}}})
		}
	}
}
