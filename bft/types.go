// Package bft defines the types shared by the vote keeper, the round
// state machine and the driver: heights, rounds, values, votes,
// proposals, validators and the threshold classification they are
// tallied against.
//
// The package performs no I/O, no cryptography and reads no clock; it
// is the abstract vocabulary the rest of this module is built on top
// of, grounded on the Height/Round/Value/Vote/Proposal/ValidatorSet
// shapes of Tendermint-family BFT consensus (see DESIGN.md).
package bft

import "fmt"

// Height identifies a block. It is monotone and non-negative, and is
// immutable for the duration of a single round of consensus.
type Height uint64

// Round is a round number within a height. NoRound (-1) means "no
// round", e.g. the pol_round of a fresh proposal.
type Round int32

// NoRound is the sentinel round value meaning "none".
const NoRound Round = -1

// VotingPower is a non-negative voting weight.
type VotingPower uint64

// Address identifies a validator. Concrete identity and signature
// verification are entirely the host's concern; the core only ever
// compares addresses for equality and uses them as map keys.
type Address string

// PubKey is an opaque public key blob; the core never interprets it.
type PubKey []byte

// Signature is an opaque signature blob; the core never verifies it.
// Per spec §1, votes are assumed authenticated upstream.
type Signature []byte

// ValueID is the derived, totally ordered identifier of a Value.
type ValueID string

// Value is an opaque, host-defined proposal payload. Its only
// consensus-visible property is its ID; validity is evaluated by the
// host and handed to the round state machine as an input, not
// recomputed here.
type Value interface {
	ID() ValueID
}

// Validator is one member of a ValidatorSet.
type Validator struct {
	Address Address
	PubKey  PubKey
	Power   VotingPower
}

// ValidatorSet fixes the validators participating in one height:
// total voting power, deterministic proposer selection and lookup by
// address. Implementations must return validators in a stable order
// from Validators so callers that must iterate deterministically can
// do so without relying on map order.
type ValidatorSet interface {
	TotalVotingPower() VotingPower
	GetByAddress(addr Address) (Validator, bool)
	// GetProposer returns the validator selected to propose at
	// (height, round). Must be a pure, deterministic function of its
	// arguments and the validator set's composition.
	GetProposer(h Height, r Round) (Validator, bool)
	// Validators returns every validator in a stable, deterministic
	// order (e.g. sorted by address).
	Validators() []Validator
}

// VoteType distinguishes prevotes from precommits.
type VoteType uint8

const (
	VoteTypePrevote VoteType = iota + 1
	VoteTypePrecommit
)

func (t VoteType) String() string {
	switch t {
	case VoteTypePrevote:
		return "Prevote"
	case VoteTypePrecommit:
		return "Precommit"
	default:
		return fmt.Sprintf("VoteType(%d)", uint8(t))
	}
}

// Vote is a single authenticated vote: a tag (prevote/precommit), the
// round it was cast in, the value it endorses (nil meaning "none"),
// and the voter's address.
type Vote struct {
	Type    VoteType
	Height  Height
	Round   Round
	ValueID *ValueID // nil denotes a nil-vote
	Voter   Address
}

// NilVote reports whether the vote endorses no value.
func (v Vote) NilVote() bool { return v.ValueID == nil }

// SignedVote pairs a Vote (whose Voter is the signer's address) with
// its signature, the envelope the driver routes to the vote keeper. The core never
// inspects Signature; it is carried through so a host can keep it as
// equivocation evidence.
type SignedVote struct {
	Vote      Vote
	Signature Signature
}

// Proposal is a proposer's claim for (Height, Round): a value and the
// round, if any, at which the proposer observed a prevote quorum
// (Proof-of-Lock) for that value.
type Proposal struct {
	Height   Height
	Round    Round
	Value    Value
	POLRound Round
}

// ThresholdKind classifies the highest quorum class a tally has
// reached for a (round, step).
type ThresholdKind uint8

const (
	ThresholdUnreached ThresholdKind = iota
	ThresholdAny
	ThresholdNil
	ThresholdValue
)

func (k ThresholdKind) String() string {
	switch k {
	case ThresholdUnreached:
		return "Unreached"
	case ThresholdAny:
		return "Any"
	case ThresholdNil:
		return "Nil"
	case ThresholdValue:
		return "Value"
	default:
		return fmt.Sprintf("ThresholdKind(%d)", uint8(k))
	}
}

// Threshold is the result of classifying a tally: either no quorum
// yet, a quorum without agreement on one value, a quorum for nil, or
// a quorum for a specific value.
type Threshold struct {
	Kind  ThresholdKind
	Value ValueID // meaningful only when Kind == ThresholdValue
}

var (
	// ThresholdUnreachedResult is the zero-value "no quorum yet" result.
	ThresholdUnreachedResult = Threshold{Kind: ThresholdUnreached}
	// ThresholdAnyResult is a quorum without a single value winning.
	ThresholdAnyResult = Threshold{Kind: ThresholdAny}
	// ThresholdNilResult is a quorum for nil.
	ThresholdNilResult = Threshold{Kind: ThresholdNil}
)

// ThresholdForValue builds a Value threshold result.
func ThresholdForValue(id ValueID) Threshold {
	return Threshold{Kind: ThresholdValue, Value: id}
}
