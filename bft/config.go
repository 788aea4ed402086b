package bft

import "time"

// ValuePayload controls which messages carry the proposed value's
// payload versus a reference to parts delivered separately. The core
// never interprets this: it is carried in Config for the host, and
// neither the driver nor the round state machine reads it. It is part
// of the fixed configuration surface of §6.
type ValuePayload uint8

const (
	// ValuePayloadProposalOnly carries the full value inline on the Proposal.
	ValuePayloadProposalOnly ValuePayload = iota
	// ValuePayloadPartsOnly carries only a reference; parts arrive out of band.
	ValuePayloadPartsOnly
	// ValuePayloadProposalAndParts carries both.
	ValuePayloadProposalAndParts
)

// Config is the fixed set of timing knobs the core is parameterised
// over. No other knobs exist (spec §6).
type Config struct {
	TimeoutPropose   time.Duration
	TimeoutPrevote   time.Duration
	TimeoutPrecommit time.Duration

	TimeoutProposeDelta   time.Duration
	TimeoutPrevoteDelta   time.Duration
	TimeoutPrecommitDelta time.Duration

	ValuePayload ValuePayload
}

// DefaultConfig returns reasonable timings for tests and the demo CLI.
func DefaultConfig() Config {
	return Config{
		TimeoutPropose:        3 * time.Second,
		TimeoutPrevote:        1 * time.Second,
		TimeoutPrecommit:      1 * time.Second,
		TimeoutProposeDelta:   500 * time.Millisecond,
		TimeoutPrevoteDelta:   500 * time.Millisecond,
		TimeoutPrecommitDelta: 500 * time.Millisecond,
		ValuePayload:          ValuePayloadProposalOnly,
	}
}

// ProposeTimeout scales the base propose timeout linearly with round,
// per spec §4.3: T_k(round) = T_k + round * ΔT_k.
func (c Config) ProposeTimeout(round Round) time.Duration {
	return scale(c.TimeoutPropose, c.TimeoutProposeDelta, round)
}

// PrevoteTimeout scales the base prevote timeout linearly with round.
func (c Config) PrevoteTimeout(round Round) time.Duration {
	return scale(c.TimeoutPrevote, c.TimeoutPrevoteDelta, round)
}

// PrecommitTimeout scales the base precommit timeout linearly with round.
func (c Config) PrecommitTimeout(round Round) time.Duration {
	return scale(c.TimeoutPrecommit, c.TimeoutPrecommitDelta, round)
}

func scale(base, delta time.Duration, round Round) time.Duration {
	if round <= 0 {
		return base
	}
	return base + delta*time.Duration(round)
}
