// Package core is the host-side runner that drives one bft.Driver
// through a height: it owns the goroutine that serialises every
// vote/proposal/value/timeout arriving for that height into
// sequential driver.Process calls, and turns round.Output values into
// real timers and calls to a host-supplied handler.
//
// Adapted from the teacher's core struct and its
// Start/Stop/events/handlerWg shape (this file's previous revision,
// consensus/tendermint/core/core.go in the original evrynet-node):
// the teacher's single goroutine reading off an event.TypeMux
// subscription and a mutex-guarded roundState is replaced by a
// channel-fed loop around a driver.Driver, since bft/driver and
// bft/round are synchronous and already safe to call from one
// goroutine -- the concurrency this package now owns is entirely "one
// goroutine serialises concurrent submitters", not "one goroutine
// amongst several touching shared state".
package core

import (
	"sync"
	"time"

	"github.com/Evrynetlabs/bft-consensus/bft"
	"github.com/Evrynetlabs/bft-consensus/bft/bftlog"
	"github.com/Evrynetlabs/bft-consensus/bft/driver"
	"github.com/Evrynetlabs/bft-consensus/bft/round"
)

// Engine is the lifecycle surface the host uses to run a height.
type Engine interface {
	Start(height bft.Height) error
	Stop() error
}

// OutputHandler receives every output the driver emits, in order, for
// the host to act on (gossip a message, persist a decision, etc).
type OutputHandler func(round.Output)

type voteEvent struct{ vote bft.SignedVote }
type proposalEvent struct {
	proposal bft.Proposal
	from     bft.Address
	valid    bool
}
type valueEvent struct{ value bft.Value }
type timeoutEvent struct{ in driver.TimeoutInput }

// Runner drives a single bft.Driver for the duration of one height.
// Construct with New, Start it with the height to run, submit inputs
// with Submit*, and Stop it when the height's work is done.
type Runner struct {
	address    bft.Address
	validators bft.ValidatorSet
	cfg        bft.Config
	log        *bftlog.Logger
	onOutput   OutputHandler

	driver *driver.Driver

	events    chan interface{}
	stopCh    chan struct{}
	handlerWg sync.WaitGroup
}

// New constructs a Runner for one validator node.
func New(address bft.Address, validators bft.ValidatorSet, cfg bft.Config, log *bftlog.Logger, onOutput OutputHandler) *Runner {
	if log == nil {
		log = bftlog.Nop()
	}
	return &Runner{
		address:    address,
		validators: validators,
		cfg:        cfg,
		log:        log,
		onOutput:   onOutput,
		events:     make(chan interface{}, 256),
		stopCh:     make(chan struct{}),
	}
}

// Start begins driving height. It synchronously applies the height's
// initial outputs (round 0's NewRound) before returning, then hands
// off to a background goroutine for everything submitted afterwards.
func (r *Runner) Start(height bft.Height) error {
	r.driver = driver.New(r.address, r.validators, r.cfg, r.log)
	r.emit(r.driver.StartHeight(height, nil))

	r.handlerWg.Add(1)
	go r.loop()
	return nil
}

// Stop ends the height's goroutine and waits for it to exit.
func (r *Runner) Stop() error {
	close(r.stopCh)
	r.handlerWg.Wait()
	return nil
}

// SubmitVote enqueues a signed vote for processing.
func (r *Runner) SubmitVote(vote bft.SignedVote) {
	select {
	case r.events <- voteEvent{vote: vote}:
	case <-r.stopCh:
	}
}

// SubmitProposal enqueues a proposal attributed to from for
// processing.
func (r *Runner) SubmitProposal(proposal bft.Proposal, from bft.Address, valid bool) {
	select {
	case r.events <- proposalEvent{proposal: proposal, from: from, valid: valid}:
	case <-r.stopCh:
	}
}

// SubmitValue supplies the value built in response to a prior
// round.GetValueOutput.
func (r *Runner) SubmitValue(value bft.Value) {
	select {
	case r.events <- valueEvent{value: value}:
	case <-r.stopCh:
	}
}

func (r *Runner) loop() {
	defer r.handlerWg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case evt := <-r.events:
			r.handleEvent(evt)
		}
	}
}

func (r *Runner) handleEvent(evt interface{}) {
	var (
		outs []round.Output
		err  error
	)
	switch e := evt.(type) {
	case voteEvent:
		outs, err = r.driver.Process(driver.VoteInput{SignedVote: e.vote})
	case proposalEvent:
		outs, err = r.driver.Process(driver.ProposalInput{Proposal: e.proposal, From: e.from, Valid: e.valid})
	case valueEvent:
		outs, err = r.driver.Process(driver.ProposeValueInput{Value: e.value})
	case timeoutEvent:
		outs, err = r.driver.Process(e.in)
	}
	if err != nil {
		r.log.Warnw("dropped input", "height", r.driver.Height(), "round", r.driver.Round(), "error", err)
		return
	}
	r.emit(outs)
}

// emit delivers every output, in order, to the host handler and also
// arms a real timer for each ScheduleTimeoutOutput, the way the teacher's
// enterPropose/enterPrevote/enterPrecommit call into its
// TimeoutTicker.
func (r *Runner) emit(outs []round.Output) {
	for _, o := range outs {
		if sched, ok := o.(round.ScheduleTimeoutOutput); ok {
			r.scheduleTimeout(sched)
		}
		if r.onOutput != nil {
			r.onOutput(o)
		}
	}
}

func (r *Runner) scheduleTimeout(sched round.ScheduleTimeoutOutput) {
	var d time.Duration
	switch sched.Kind {
	case round.TimeoutPropose:
		d = r.cfg.ProposeTimeout(sched.Round)
	case round.TimeoutPrevote:
		d = r.cfg.PrevoteTimeout(sched.Round)
	case round.TimeoutPrecommit:
		d = r.cfg.PrecommitTimeout(sched.Round)
	}

	time.AfterFunc(d, func() {
		select {
		case r.events <- timeoutEvent{in: driver.TimeoutInput{Kind: sched.Kind, Round: sched.Round}}:
		case <-r.stopCh:
		}
	})
}
