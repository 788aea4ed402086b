package bft

// FaultWeight returns f, the maximum Byzantine voting power a set of
// total power n can tolerate: f = floor((n-1)/3).
func FaultWeight(totalPower VotingPower) VotingPower {
	if totalPower == 0 {
		return 0
	}
	return (totalPower - 1) / 3
}

// QuorumWeight returns the quorum threshold 2f+1 for a set of total
// power n.
func QuorumWeight(totalPower VotingPower) VotingPower {
	return 2*FaultWeight(totalPower) + 1
}

// HonestWeight returns the "any honest vote" guard f+1, the weight at
// which a skip-round heuristic may safely conclude at least one
// honest validator contributed.
func HonestWeight(totalPower VotingPower) VotingPower {
	return FaultWeight(totalPower) + 1
}
