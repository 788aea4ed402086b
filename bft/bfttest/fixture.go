// Package bfttest supplies deterministic fixtures shared by the
// votekeeper, round and driver test suites and by the end-to-end
// scenarios of spec §8: a trivial totally-ordered Value, a four
// validator set with equal voting power {1,1,1,1}, and a
// round-robin-by-index ValidatorSet grounded on the teacher's
// valSet.CalcProposer/GetProposer pattern
// (consensus/tendermint/core/consensus.go).
package bfttest

import (
	"fmt"
	"sort"

	"github.com/Evrynetlabs/bft-consensus/bft"
)

// Value is a trivially comparable test value: an integer payload, its
// ID its decimal form prefixed with "v" (Value(5) has ID "v5").
type Value int

func (v Value) ID() bft.ValueID { return bft.ValueID(fmt.Sprintf("v%d", int(v))) }

// ValueIDFor is a convenience for building the ValueID a Value of n
// would produce, without constructing the Value itself.
func ValueIDFor(n int) bft.ValueID { return Value(n).ID() }

// ValidatorSet is a fixed-membership, round-robin-by-index
// bft.ValidatorSet used throughout the test suite.
type ValidatorSet struct {
	validators []bft.Validator
	byAddress  map[bft.Address]int
}

// NewValidatorSet builds a ValidatorSet from (address, power) pairs,
// in the order given. GetProposer rotates through them in that order;
// Validators() returns them sorted by address.
func NewValidatorSet(members ...bft.Validator) *ValidatorSet {
	vs := &ValidatorSet{
		validators: append([]bft.Validator(nil), members...),
		byAddress:  make(map[bft.Address]int, len(members)),
	}
	for i, v := range members {
		vs.byAddress[v.Address] = i
	}
	return vs
}

// FourEqualPower returns the canonical A,B,C,D / {1,1,1,1} fixture
// used by spec §8's worked scenarios.
func FourEqualPower() *ValidatorSet {
	return NewValidatorSet(
		bft.Validator{Address: "A", Power: 1},
		bft.Validator{Address: "B", Power: 1},
		bft.Validator{Address: "C", Power: 1},
		bft.Validator{Address: "D", Power: 1},
	)
}

func (vs *ValidatorSet) TotalVotingPower() bft.VotingPower {
	var total bft.VotingPower
	for _, v := range vs.validators {
		total += v.Power
	}
	return total
}

func (vs *ValidatorSet) GetByAddress(addr bft.Address) (bft.Validator, bool) {
	i, ok := vs.byAddress[addr]
	if !ok {
		return bft.Validator{}, false
	}
	return vs.validators[i], true
}

// GetProposer selects the proposer deterministically as
// validators[(h+r) mod n], a weighted-round-robin stand-in that is
// stable across nodes given identical inputs (spec §4.4). Real
// weighted round robin (as in the teacher's valSet.CalcProposer)
// would bias selection by power; this fixture keeps equal-power
// validators for simplicity, matching the §8 scenarios.
func (vs *ValidatorSet) GetProposer(h bft.Height, r bft.Round) (bft.Validator, bool) {
	n := len(vs.validators)
	if n == 0 {
		return bft.Validator{}, false
	}
	idx := (int(h) + int(r)) % n
	if idx < 0 {
		idx += n
	}
	return vs.validators[idx], true
}

func (vs *ValidatorSet) Validators() []bft.Validator {
	out := append([]bft.Validator(nil), vs.validators...)
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
