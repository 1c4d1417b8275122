package bullshark

import (
	"sort"

	"github.com/gitzhang10/dagbft/consensus"
	"github.com/gitzhang10/dagbft/types"
)

// orderLeaders returns the leader followed by every uncommitted past leader
// linked to it, newest first.
func (b *Bullshark) orderLeaders(leader *types.Certificate, state *consensus.State) []*types.Certificate {
	toCommit := []*types.Certificate{leader}
	for r := leader.Round(); r >= state.LastCommittedRound+4; {
		r -= 2
		_, prevLeader, ok := b.leader(r, state.Dag)
		if !ok {
			continue
		}
		if linked(leader, prevLeader, state.Dag) {
			toCommit = append(toCommit, prevLeader)
			leader = prevLeader
		}
	}
	return toCommit
}

// linked reports whether there is a path in the DAG from leader to prevLeader.
func linked(leader, prevLeader *types.Certificate, dag consensus.Dag) bool {
	parents := []*types.Certificate{leader}
	for r := leader.Round(); r > prevLeader.Round(); r-- {
		var next []*types.Certificate
		for digest, entry := range byDigest(dag[r-1]) {
			for _, p := range parents {
				if p.Header.HasParent(digest) {
					next = append(next, entry)
					break
				}
			}
		}
		if len(next) == 0 {
			return false
		}
		parents = next
	}
	prevDigest := prevLeader.Digest()
	for _, p := range parents {
		if p.Digest() == prevDigest {
			return true
		}
	}
	return false
}

func byDigest(authorities map[string]consensus.DagEntry) map[types.Digest]*types.Certificate {
	out := make(map[types.Digest]*types.Certificate, len(authorities))
	for _, entry := range authorities {
		out[entry.Digest] = entry.Certificate
	}
	return out
}

// orderDag flattens the uncommitted causal history of the leader, oldest round first.
func orderDag(gcDepth types.Round, leader *types.Certificate, state *consensus.State) []*types.Certificate {
	var ordered []*types.Certificate
	alreadyOrdered := make(map[types.Digest]bool)

	buffer := []*types.Certificate{leader}
	for len(buffer) > 0 {
		x := buffer[len(buffer)-1]
		buffer = buffer[:len(buffer)-1]
		ordered = append(ordered, x)
		if x.Round() == 0 {
			continue
		}
		previous := byDigest(state.Dag[x.Round()-1])
		for _, parent := range x.Header.Parents {
			c, ok := previous[parent]
			if !ok {
				continue
			}
			skip := alreadyOrdered[parent]
			if round, ok := state.LastCommitted[c.Origin()]; ok && round == c.Round() {
				skip = true
			}
			if !skip {
				buffer = append(buffer, c)
				alreadyOrdered[parent] = true
			}
		}
	}

	// drop certificates that are already garbage collected
	retained := ordered[:0]
	for _, c := range ordered {
		if c.Round()+gcDepth >= state.LastCommittedRound {
			retained = append(retained, c)
		}
	}
	sort.SliceStable(retained, func(i, j int) bool {
		return retained[i].Round() < retained[j].Round()
	})
	return retained
}
