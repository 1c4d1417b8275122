// Package bullshark implements the Bullshark commit rule over the consensus DAG.
package bullshark

import (
	"github.com/gitzhang10/dagbft/consensus"
	"github.com/gitzhang10/dagbft/types"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
)

// Store persists the consensus metadata after every sequenced certificate.
type Store interface {
	WriteConsensusState(lastCommitted map[string]types.Round, consensusIndex uint64, digest types.Digest) error
	Clear() error
}

// Bullshark elects one leader every even round and commits it once f+1 stake
// of the next round links to it.
type Bullshark struct {
	committee *types.Committee
	store     Store
	gcDepth   types.Round
	logger    hclog.Logger
}

var _ consensus.Protocol = (*Bullshark)(nil)

func New(committee *types.Committee, store Store, gcDepth types.Round, logger hclog.Logger) *Bullshark {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Bullshark{
		committee: committee,
		store:     store,
		gcDepth:   gcDepth,
		logger:    logger,
	}
}

// ProcessCertificate adds the certificate to the DAG and tries to commit the
// leader of the previous round together with every older linked leader.
func (b *Bullshark) ProcessCertificate(state *consensus.State, consensusIndex uint64, certificate *types.Certificate) ([]*types.CommittedSubDag, error) {
	round := certificate.Round()
	if err := state.TryInsert(certificate); err != nil {
		b.logger.Debug("skip certificate below last committed round", "certificate", certificate)
		return nil, nil
	}

	// leaders live in even rounds only
	if round < 3 || round%2 != 1 {
		return nil, nil
	}
	leaderRound := round - 1
	if leaderRound <= state.LastCommittedRound {
		return nil, nil
	}
	leaderDigest, leader, ok := b.leader(leaderRound, state.Dag)
	if !ok {
		return nil, nil
	}

	// the leader needs f+1 support from its children
	var stake types.Stake
	for _, entry := range state.Dag[round] {
		if entry.Certificate.Header.HasParent(leaderDigest) {
			stake += b.committee.Stake(entry.Certificate.Origin())
		}
	}
	if stake < b.committee.ValidityThreshold() {
		b.logger.Debug("leader does not have enough support", "leader", leader, "stake", stake)
		return nil, nil
	}

	var sequence []*types.CommittedSubDag
	leaders := b.orderLeaders(leader, state)
	for i := len(leaders) - 1; i >= 0; i-- {
		subDag := &types.CommittedSubDag{Leader: leaders[i]}
		for _, c := range orderDag(b.gcDepth, leaders[i], state) {
			digest := c.Digest()
			state.Update(c, b.gcDepth)
			subDag.Certificates = append(subDag.Certificates, types.SequencedCertificate{
				Certificate:    c,
				ConsensusIndex: consensusIndex,
			})
			consensusIndex++
			if err := b.store.WriteConsensusState(state.LastCommitted, consensusIndex, digest); err != nil {
				return nil, errors.Wrapf(err, "persist consensus state at index %d", consensusIndex)
			}
		}
		b.logger.Debug("committed leader", "leader", leaders[i], "certificates", subDag.Len())
		sequence = append(sequence, subDag)
	}
	return sequence, nil
}

// UpdateCommittee starts a new epoch with an empty consensus store.
func (b *Bullshark) UpdateCommittee(committee *types.Committee) error {
	if err := b.store.Clear(); err != nil {
		return errors.Wrap(err, "clear consensus store")
	}
	b.committee = committee
	return nil
}

// leader returns the certificate of the elected leader of round, if it is in the DAG.
func (b *Bullshark) leader(round types.Round, dag consensus.Dag) (types.Digest, *types.Certificate, bool) {
	name := b.committee.Leader(round)
	entry, ok := dag[round][name]
	if !ok {
		return types.Digest{}, nil, false
	}
	return entry.Digest, entry.Certificate, true
}
