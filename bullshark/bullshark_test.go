package bullshark

import (
	"testing"

	"github.com/gitzhang10/dagbft/consensus"
	"github.com/gitzhang10/dagbft/fixture"
	"github.com/gitzhang10/dagbft/store"
	"github.com/gitzhang10/dagbft/types"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gcDepth = 50

func newBullshark(t *testing.T, committee *types.Committee) (*Bullshark, *store.ConsensusStore) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	consensusStore := store.NewConsensusStore(db)
	return New(committee, consensusStore, gcDepth, hclog.NewNullLogger()), consensusStore
}

// process feeds the certificates in order and advances the index like the actor does.
func process(t *testing.T, b *Bullshark, state *consensus.State, certs []*types.Certificate) []*types.CommittedSubDag {
	var (
		index    uint64
		sequence []*types.CommittedSubDag
	)
	for _, c := range certs {
		out, err := b.ProcessCertificate(state, index, c)
		require.NoError(t, err)
		for _, subDag := range out {
			index += uint64(subDag.Len())
		}
		sequence = append(sequence, out...)
	}
	return sequence
}

func without(names []string, name string) []string {
	var out []string
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

func TestCommitOneLeader(t *testing.T) {
	committee := fixture.Committee(0, 4)
	b, consensusStore := newBullshark(t, committee)
	genesis := types.Genesis(committee)
	state := consensus.NewState(genesis, nil)

	certs, _ := fixture.Certificates(1, 3, 0, fixture.Digests(genesis), committee.Names())
	sequence := process(t, b, state, certs)

	require.Len(t, sequence, 1)
	subDag := sequence[0]
	assert.Equal(t, committee.Leader(2), subDag.Leader.Origin())
	assert.Equal(t, types.Round(2), subDag.LeaderRound())
	require.Equal(t, 5, subDag.Len())
	for i, sc := range subDag.Certificates {
		assert.Equal(t, uint64(i), sc.ConsensusIndex)
	}
	for _, sc := range subDag.Certificates[:4] {
		assert.Equal(t, types.Round(1), sc.Certificate.Round())
	}
	assert.Equal(t, subDag.Leader.Digest(), subDag.Certificates[4].Certificate.Digest())
	assert.Equal(t, types.Round(2), state.LastCommittedRound)

	index, err := consensusStore.ReadLastConsensusIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), index)
	lastCommitted, err := consensusStore.ReadLastCommitted()
	require.NoError(t, err)
	assert.Equal(t, state.LastCommitted, lastCommitted)
	digests, err := consensusStore.ReadSequence(0)
	require.NoError(t, err)
	require.Len(t, digests, 5)
	assert.Equal(t, subDag.Leader.Digest(), digests[4])
}

func TestNoCommitWithoutSupport(t *testing.T) {
	committee := fixture.Committee(0, 4)
	b, _ := newBullshark(t, committee)
	genesis := types.Genesis(committee)
	state := consensus.NewState(genesis, nil)

	certs, parents := fixture.Certificates(1, 2, 0, fixture.Digests(genesis), committee.Names())
	// a single child is below f+1
	certs = append(certs, fixture.Certificate("node0", 3, 0, parents))
	assert.Empty(t, process(t, b, state, certs))
	assert.Equal(t, types.Round(0), state.LastCommittedRound)
}

func TestMissingLeaderIsSkipped(t *testing.T) {
	committee := fixture.Committee(0, 4)
	b, _ := newBullshark(t, committee)
	genesis := types.Genesis(committee)
	state := consensus.NewState(genesis, nil)
	names := committee.Names()

	round1, parents := fixture.Certificates(1, 1, 0, fixture.Digests(genesis), names)
	round2, parents := fixture.Certificates(2, 2, 0, parents, without(names, committee.Leader(2)))
	rest, _ := fixture.Certificates(3, 5, 0, parents, names)
	certs := append(append(round1, round2...), rest...)

	sequence := process(t, b, state, certs)
	require.Len(t, sequence, 1)
	assert.Equal(t, types.Round(4), sequence[0].LeaderRound())
	// rounds 1 to 3 plus the leader
	assert.Equal(t, 4+3+4+1, sequence[0].Len())
}

func TestCommitLinkedPastLeader(t *testing.T) {
	committee := fixture.Committee(0, 4)
	b, _ := newBullshark(t, committee)
	genesis := types.Genesis(committee)
	state := consensus.NewState(genesis, nil)
	names := committee.Names()
	leaderName := committee.Leader(2)

	certs, parents := fixture.Certificates(1, 2, 0, fixture.Digests(genesis), names)
	var leader2 *types.Certificate
	var others []types.Digest
	for _, c := range certs[4:] {
		if c.Origin() == leaderName {
			leader2 = c
		} else {
			others = append(others, c.Digest())
		}
	}
	require.NotNil(t, leader2)

	// only one round-3 certificate links to the round-2 leader
	var round3 []types.Digest
	for i, name := range names {
		p := others
		if i == 0 {
			p = parents
		}
		c := fixture.Certificate(name, 3, 0, p)
		certs = append(certs, c)
		round3 = append(round3, c.Digest())
	}
	rest, _ := fixture.Certificates(4, 5, 0, round3, names)
	certs = append(certs, rest...)

	sequence := process(t, b, state, certs)
	require.Len(t, sequence, 2)

	assert.Equal(t, leader2.Digest(), sequence[0].Leader.Digest())
	assert.Equal(t, 5, sequence[0].Len())
	assert.Equal(t, types.Round(4), sequence[1].LeaderRound())
	// round-2 and round-3 certificates not yet committed, plus the leader
	assert.Equal(t, 3+4+1, sequence[1].Len())

	var index uint64
	for _, subDag := range sequence {
		for _, sc := range subDag.Certificates {
			assert.Equal(t, index, sc.ConsensusIndex)
			index++
		}
	}
	assert.Equal(t, types.Round(4), state.LastCommittedRound)
}

func TestNoDoubleCommit(t *testing.T) {
	committee := fixture.Committee(0, 4)
	b, _ := newBullshark(t, committee)
	genesis := types.Genesis(committee)
	state := consensus.NewState(genesis, nil)

	certs, _ := fixture.Certificates(1, 9, 0, fixture.Digests(genesis), committee.Names())
	sequence := process(t, b, state, certs)

	// leaders of rounds 2, 4, 6 and 8
	require.Len(t, sequence, 4)
	seen := make(map[types.Digest]bool)
	total := 0
	for i, subDag := range sequence {
		assert.Equal(t, types.Round(2*(i+1)), subDag.LeaderRound())
		for _, sc := range subDag.Certificates {
			d := sc.Certificate.Digest()
			assert.False(t, seen[d], "certificate %s committed twice", sc.Certificate)
			seen[d] = true
			total++
		}
	}
	// rounds 1..7 fully and one leader of round 8
	assert.Equal(t, 7*4+1, total)
}

func TestStaleCertificateIsIgnored(t *testing.T) {
	committee := fixture.Committee(0, 4)
	b, _ := newBullshark(t, committee)
	state := consensus.NewState(types.Genesis(committee), nil)
	state.LastCommitted["node1"] = 6

	out, err := b.ProcessCertificate(state, 0, fixture.Certificate("node1", 5, 0, nil))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NotContains(t, state.Dag, types.Round(5))
}

func TestUpdateCommitteeClearsStore(t *testing.T) {
	committee := fixture.Committee(0, 4)
	b, consensusStore := newBullshark(t, committee)
	genesis := types.Genesis(committee)
	state := consensus.NewState(genesis, nil)

	certs, _ := fixture.Certificates(1, 3, 0, fixture.Digests(genesis), committee.Names())
	require.NotEmpty(t, process(t, b, state, certs))

	next := fixture.Committee(1, 4)
	require.NoError(t, b.UpdateCommittee(next))
	assert.Equal(t, next, b.committee)

	index, err := consensusStore.ReadLastConsensusIndex()
	require.NoError(t, err)
	assert.Zero(t, index)
	lastCommitted, err := consensusStore.ReadLastCommitted()
	require.NoError(t, err)
	assert.Empty(t, lastCommitted)
}
